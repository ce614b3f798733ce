//go:build jsonv2

package xjson

// Experimental json/v2 wrapper, used for decoding the LLM's structured
// JSON-mode output (internal/augment). Build with: go build -tags jsonv2

import (
	"bytes"
	"io"

	expjson "github.com/go-json-experiment/json"
)

// Marshal wraps the experimental json Marshal.
func Marshal(v any) ([]byte, error) { return expjson.Marshal(v) }

// Unmarshal wraps the experimental json Unmarshal.
func Unmarshal(data []byte, v any) error { return expjson.Unmarshal(data, v) }

// Decoder buffers the stream and delegates to expjson.Unmarshal per call,
// since the experimental package does not yet expose a stable streaming
// decoder type.
type Decoder struct {
	r io.Reader
}

func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: r} }

func (d *Decoder) More() bool { return false }

func (d *Decoder) Decode(v any) error {
	buf, err := io.ReadAll(d.r)
	if err != nil {
		return err
	}
	return expjson.Unmarshal(buf, v)
}

// Encoder buffers each Encode call and writes the result in one shot.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

func (e *Encoder) Encode(v any) error {
	buf, err := expjson.Marshal(v)
	if err != nil {
		return err
	}
	_, err = e.w.Write(append(bytes.TrimRight(buf, "\n"), '\n'))
	return err
}
