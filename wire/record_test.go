package wire

import (
	"testing"

	"github.com/maniacs-db/store/kv"
)

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		rec  Record
	}{
		{
			name: "open carries a default",
			rec:  Record{Kind: RecordOpen, Key: kv.NewKey([]byte("k1")), Default: kv.Value("def")},
		},
		{
			name: "accept carries a ballot and value",
			rec: Record{
				Kind: RecordAccept, Key: kv.NewKey([]byte("k2")),
				Ballot: kv.BallotNumber{Ordinal: 3, HostId: 2}, Value: kv.Value("v"),
			},
		},
		{
			name: "close carries the chosen value and archive generation",
			rec: Record{
				Kind: RecordClose, Key: kv.NewKey([]byte("k3")),
				Chosen: kv.Value("final"), ArchiveGeneration: 9,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeRecord(tc.rec.Encode())
			if err != nil {
				t.Fatalf("DecodeRecord: %v", err)
			}
			if got.Kind != tc.rec.Kind {
				t.Fatalf("kind = %v, want %v", got.Kind, tc.rec.Kind)
			}
			if !got.Key.Equal(tc.rec.Key) {
				t.Fatalf("key = %q, want %q", got.Key.Bytes, tc.rec.Key.Bytes)
			}
			if got.Ballot != tc.rec.Ballot {
				t.Fatalf("ballot = %+v, want %+v", got.Ballot, tc.rec.Ballot)
			}
			if !got.Value.Equal(tc.rec.Value) {
				t.Fatalf("value = %q, want %q", got.Value, tc.rec.Value)
			}
			if !got.Chosen.Equal(tc.rec.Chosen) {
				t.Fatalf("chosen = %q, want %q", got.Chosen, tc.rec.Chosen)
			}
			if got.ArchiveGeneration != tc.rec.ArchiveGeneration {
				t.Fatalf("archiveGeneration = %d, want %d", got.ArchiveGeneration, tc.rec.ArchiveGeneration)
			}
		})
	}
}

func TestRecordKindString(t *testing.T) {
	if RecordClose.String() != "close" {
		t.Fatalf("RecordClose.String() = %q, want %q", RecordClose.String(), "close")
	}
	if got := RecordKind(0).String(); got == "" {
		t.Fatal("an unknown record kind should still stringify to something non-empty")
	}
}
