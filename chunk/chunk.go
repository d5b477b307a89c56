package chunk

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ptgott/redisstore/output"
	"github.com/vmihailenco/msgpack/v5"
)

// message is the wire form of an output.Entry
type message struct {
	_msgpack struct{} `msgpack:",as_array"`

	Tag    string
	Time   int64
	Record map[string]interface{}
}

// Decode reads every entry in r. Nested maps come back as
// map[string]interface{}, integers as int64 or uint64 and floats as float64.
func Decode(r io.Reader) ([]output.Entry, error) {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)

	var entries []output.Entry
	for {
		// Only the end of the stream between entries is a clean EOF. An
		// EOF inside an entry means the chunk was truncated.
		if _, err := dec.PeekCode(); errors.Is(err, io.EOF) {
			return entries, nil
		}

		var m message
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("can't decode entry %v of the chunk: %v", len(entries), err)
		}
		entries = append(entries, output.Entry{
			Tag:    m.Tag,
			Time:   m.Time,
			Record: m.Record,
		})
	}
}

// Encode writes entries to w in the format Decode reads
func Encode(w io.Writer, entries ...output.Entry) error {
	enc := msgpack.NewEncoder(w)
	for i, e := range entries {
		err := enc.Encode(&message{
			Tag:    e.Tag,
			Time:   e.Time,
			Record: e.Record,
		})
		if err != nil {
			return fmt.Errorf("can't encode entry %v: %v", i, err)
		}
	}
	return nil
}

// Marshal encodes a single entry
func Marshal(e output.Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
