package docprops

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// encodeRecord serializes a stored record. Map keys are sorted so that equal
// records produce equal bytes.
func encodeRecord(v any) []byte {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", v, err))
	}
	return buf.Bytes()
}

func decodeRecord(data []byte, ptr any) error {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(ptr)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(data, len(data)-r.Len(), err, "failed to decode msgpack into %T", ptr)
	}
	return nil
}

func decodePart(data []byte) (map[string]any, error) {
	if data == nil {
		return nil, nil
	}
	var m map[string]any
	if err := decodeRecord(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeList(data []byte) ([]any, error) {
	if data == nil {
		return nil, nil
	}
	var items []any
	if err := decodeRecord(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
