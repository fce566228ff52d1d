package transport

import (
	"testing"

	"github.com/maniacs-db/store/kv"
	"github.com/maniacs-db/store/scan"
)

func TestScanParamsRoundTrip(t *testing.T) {
	p := scan.Params{Key: kv.NewKey([]byte("scan-key")), Time: 42}
	got, err := decodeScanParams(encodeScanParams(p))
	if err != nil {
		t.Fatalf("decodeScanParams: %v", err)
	}
	if !got.Key.Equal(p.Key) || got.Time != p.Time {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestScanReplyRoundTripWithCellsAndNext(t *testing.T) {
	p := scan.Params{Key: kv.NewKey([]byte("k")), Time: 1}
	cells := []kv.Cell{
		{Key: []byte("a"), Time: 2, Value: []byte("va")},
		{Key: []byte("b"), Time: 3, Value: nil, Tombstone: true},
	}
	next := kv.NewKey([]byte("continue-here"))

	gotParams, gotCells, gotNext, err := decodeScanReply(encodeScanReply(p, cells, &next))
	if err != nil {
		t.Fatalf("decodeScanReply: %v", err)
	}
	if !gotParams.Key.Equal(p.Key) || gotParams.Time != p.Time {
		t.Fatalf("params mismatch: got %+v, want %+v", gotParams, p)
	}
	if len(gotCells) != len(cells) {
		t.Fatalf("got %d cells, want %d", len(gotCells), len(cells))
	}
	for i, c := range cells {
		if string(gotCells[i].Key) != string(c.Key) || gotCells[i].Time != c.Time || gotCells[i].Tombstone != c.Tombstone {
			t.Fatalf("cell %d mismatch: got %+v, want %+v", i, gotCells[i], c)
		}
	}
	if gotNext == nil || !gotNext.Equal(next) {
		t.Fatalf("next = %v, want %v", gotNext, next)
	}
}

func TestScanReplyRoundTripWithoutNext(t *testing.T) {
	p := scan.Params{Key: kv.NewKey([]byte("k")), Time: 1}
	_, _, gotNext, err := decodeScanReply(encodeScanReply(p, nil, nil))
	if err != nil {
		t.Fatalf("decodeScanReply: %v", err)
	}
	if gotNext != nil {
		t.Fatalf("next = %v, want nil", gotNext)
	}
}
