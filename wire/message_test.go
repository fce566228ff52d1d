package wire

import (
	"reflect"
	"testing"

	"github.com/maniacs-db/store/kv"
)

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{
			name: "query carries a default value",
			msg: Message{
				Kind: KindQuery, Key: kv.NewKey([]byte("k1")), Time: 7,
				From: 2, Ballot: kv.BallotNumber{Ordinal: 1, HostId: 2},
				Default: kv.Value("def"),
			},
		},
		{
			name: "propose carries a value, no proposal",
			msg: Message{
				Kind: KindPropose, Key: kv.NewKey([]byte("k2")), Time: 9,
				From: 3, Ballot: kv.BallotNumber{Ordinal: 4, HostId: 3},
				Value: kv.Value("v"),
			},
		},
		{
			name: "promise with an accepted proposal",
			msg: Message{
				Kind: KindPromise, Key: kv.NewKey([]byte("k3")), Time: 1,
				From: 1, Ballot: kv.BallotNumber{Ordinal: 2, HostId: 1},
				HasProposal: true,
				Proposal:    kv.Proposal{Ballot: kv.BallotNumber{Ordinal: 1, HostId: 4}, Value: kv.Value("prior")},
			},
		},
		{
			name: "chosen with an empty key is still well-formed",
			msg: Message{
				Kind: KindChosen, Key: kv.Key{}, Time: 0, From: 5, Value: kv.Value(nil),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := tc.msg.Encode()
			got, err := DecodeMessage(encoded)
			if err != nil {
				t.Fatalf("DecodeMessage: %v", err)
			}
			if got.Kind != tc.msg.Kind || got.Time != tc.msg.Time || got.From != tc.msg.From {
				t.Fatalf("round trip mismatch: got %+v, want %+v", got, tc.msg)
			}
			if !reflect.DeepEqual(got.Ballot, tc.msg.Ballot) {
				t.Fatalf("ballot mismatch: got %+v, want %+v", got.Ballot, tc.msg.Ballot)
			}
			if !got.Key.Equal(tc.msg.Key) {
				t.Fatalf("key mismatch: got %q, want %q", got.Key.Bytes, tc.msg.Key.Bytes)
			}
			if got.HasProposal != tc.msg.HasProposal {
				t.Fatalf("hasProposal mismatch: got %v, want %v", got.HasProposal, tc.msg.HasProposal)
			}
			if tc.msg.HasProposal && !reflect.DeepEqual(got.Proposal, tc.msg.Proposal) {
				t.Fatalf("proposal mismatch: got %+v, want %+v", got.Proposal, tc.msg.Proposal)
			}
		})
	}
}

func TestMessageKindString(t *testing.T) {
	if KindQuery.String() != "query" {
		t.Fatalf("KindQuery.String() = %q, want %q", KindQuery.String(), "query")
	}
	if got := MessageKind(255).String(); got == "" {
		t.Fatal("an unknown kind should still stringify to something non-empty")
	}
}

func TestDecodeMessageTruncatedPayloadErrors(t *testing.T) {
	full := Message{Kind: KindQuery, Key: kv.NewKey([]byte("k")), Time: 1, From: 1}.Encode()
	if _, err := DecodeMessage(full[:len(full)-2]); err == nil {
		t.Fatal("decoding a truncated payload should fail, not silently succeed")
	}
}
