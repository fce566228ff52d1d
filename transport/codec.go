package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/maniacs-db/store/kv"
	"github.com/maniacs-db/store/scan"
)

// encodeScanParams/decodeScanParams and encodeScanReply/decodeScanReply
// frame the scan-deputy RPC named in spec.md §6. Grounded on the same
// length-prefixed encoding/binary style as wire.Message/wire.Record,
// since the scan traffic crosses the identical socket.

func encodeScanParams(p scan.Params) []byte {
	var buf bytes.Buffer
	writeBytes(&buf, p.Key.Bytes)
	writeUint64(&buf, p.Time)
	return buf.Bytes()
}

func decodeScanParams(data []byte) (scan.Params, error) {
	r := bytes.NewReader(data)
	keyBytes, err := readBytes(r)
	if err != nil {
		return scan.Params{}, err
	}
	t, err := readUint64(r)
	if err != nil {
		return scan.Params{}, err
	}
	return scan.Params{Key: kv.NewKey(keyBytes), Time: t}, nil
}

func encodeScanReply(params scan.Params, cells []kv.Cell, next *kv.Key) []byte {
	var buf bytes.Buffer
	buf.Write(encodeScanParams(params))
	writeUint32(&buf, uint32(len(cells)))
	for _, c := range cells {
		writeBytes(&buf, c.Key)
		writeUint64(&buf, c.Time)
		writeBytes(&buf, c.Value)
		if c.Tombstone {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	if next != nil {
		buf.WriteByte(1)
		writeBytes(&buf, next.Bytes)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func decodeScanReply(data []byte) (scan.Params, []kv.Cell, *kv.Key, error) {
	r := bytes.NewReader(data)
	keyBytes, err := readBytes(r)
	if err != nil {
		return scan.Params{}, nil, nil, err
	}
	t, err := readUint64(r)
	if err != nil {
		return scan.Params{}, nil, nil, err
	}
	params := scan.Params{Key: kv.NewKey(keyBytes), Time: t}

	count, err := readUint32(r)
	if err != nil {
		return scan.Params{}, nil, nil, err
	}
	cells := make([]kv.Cell, 0, count)
	for i := uint32(0); i < count; i++ {
		key, err := readBytes(r)
		if err != nil {
			return scan.Params{}, nil, nil, err
		}
		ct, err := readUint64(r)
		if err != nil {
			return scan.Params{}, nil, nil, err
		}
		val, err := readBytes(r)
		if err != nil {
			return scan.Params{}, nil, nil, err
		}
		tomb, err := r.ReadByte()
		if err != nil {
			return scan.Params{}, nil, nil, err
		}
		cells = append(cells, kv.Cell{Key: key, Time: ct, Value: val, Tombstone: tomb == 1})
	}

	hasNext, err := r.ReadByte()
	if err != nil {
		return scan.Params{}, nil, nil, err
	}
	var next *kv.Key
	if hasNext == 1 {
		nb, err := readBytes(r)
		if err != nil {
			return scan.Params{}, nil, nil, err
		}
		k := kv.NewKey(nb)
		next = &k
	}
	return params, cells, next, nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, fmt.Errorf("transport: short read: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, fmt.Errorf("transport: short read: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil, fmt.Errorf("transport: short read: %w", err)
	}
	return b, nil
}
