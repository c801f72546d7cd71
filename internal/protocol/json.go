package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// jsonAccumulator buffers stream bytes until they form one complete JSON
// document, per spec section 6: "the JSON document terminates at a balanced
// closing brace (the receiver feeds bytes to a JSON parser that reports
// completion)".
type jsonAccumulator struct {
	buf bytes.Buffer
}

func (a *jsonAccumulator) Feed(b []byte) {
	a.buf.Write(b)
}

// TryDecode attempts to decode v from the accumulated bytes. It returns
// ok=false (no error) while the document is still incomplete.
func (a *jsonAccumulator) TryDecode(v interface{}) (ok bool, err error) {
	dec := json.NewDecoder(bytes.NewReader(a.buf.Bytes()))
	if decErr := dec.Decode(v); decErr != nil {
		if errors.Is(decErr, io.EOF) || errors.Is(decErr, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, decErr
	}
	// Anything the decoder didn't consume belongs to a later message; the
	// protocol never pipelines two JSON documents on stream 0, but this
	// keeps the accumulator correct if it somehow did.
	trailing, _ := io.ReadAll(dec.Buffered())
	a.buf.Reset()
	a.buf.Write(trailing)
	return true, nil
}
