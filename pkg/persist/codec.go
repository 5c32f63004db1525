// Package persist provides codec-based file persistence for checkpoint artifacts.
package persist

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Codec names accepted by [CodecByName].
const (
	CodecJSON = "json"
	CodecGob  = "gob"
)

// Default indentation for pretty-printed JSON.
const defaultIndent = "  "

// ErrUnknownCodec is returned by [CodecByName] for an unsupported name.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec defines how state is serialized and deserialized.
type Codec interface {
	// Encode writes the state to the writer.
	Encode(w io.Writer, state any) error
	// Decode reads the state from the reader.
	Decode(r io.Reader, state any) error
	// Name identifies the codec in configuration and logs.
	Name() string
}

// JSONCodec implements Codec using JSON encoding with optional indentation.
type JSONCodec struct {
	// Indent specifies the indentation string. Empty string means compact JSON.
	Indent string
}

// NewJSONCodec creates a JSON codec with pretty-printing (2-space indent).
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// Encode implements Codec.Encode using JSON encoding.
func (c *JSONCodec) Encode(w io.Writer, state any) error {
	encoder := json.NewEncoder(w)
	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	err := encoder.Encode(state)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using JSON decoding.
func (c *JSONCodec) Decode(r io.Reader, state any) error {
	err := json.NewDecoder(r).Decode(state)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Name implements Codec.Name.
func (c *JSONCodec) Name() string {
	return CodecJSON
}

// GobCodec implements Codec using gob encoding.
type GobCodec struct{}

// NewGobCodec creates a gob codec.
func NewGobCodec() *GobCodec {
	return &GobCodec{}
}

// Encode implements Codec.Encode using gob encoding.
func (c *GobCodec) Encode(w io.Writer, state any) error {
	err := gob.NewEncoder(w).Encode(state)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using gob decoding.
func (c *GobCodec) Decode(r io.Reader, state any) error {
	err := gob.NewDecoder(r).Decode(state)
	if err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}

	return nil
}

// Name implements Codec.Name.
func (c *GobCodec) Name() string {
	return CodecGob
}

// LZ4Codec wraps another codec in an LZ4 frame.
type LZ4Codec struct {
	Inner Codec
}

// NewLZ4Codec wraps inner with LZ4 frame compression.
func NewLZ4Codec(inner Codec) *LZ4Codec {
	return &LZ4Codec{Inner: inner}
}

// Encode implements Codec.Encode. The frame is closed before returning.
func (c *LZ4Codec) Encode(w io.Writer, state any) error {
	zw := lz4.NewWriter(w)

	err := c.Inner.Encode(zw, state)
	if err != nil {
		return err
	}

	closeErr := zw.Close()
	if closeErr != nil {
		return fmt.Errorf("lz4 close: %w", closeErr)
	}

	return nil
}

// Decode implements Codec.Decode.
func (c *LZ4Codec) Decode(r io.Reader, state any) error {
	err := c.Inner.Decode(lz4.NewReader(r), state)
	if err != nil {
		return fmt.Errorf("lz4: %w", err)
	}

	return nil
}

// Name implements Codec.Name.
func (c *LZ4Codec) Name() string {
	return c.Inner.Name() + "+lz4"
}

// CodecByName resolves a codec from configuration, optionally LZ4-compressed.
func CodecByName(name string, compress bool) (Codec, error) {
	var codec Codec

	switch name {
	case CodecJSON:
		codec = NewJSONCodec()
	case CodecGob, "":
		codec = NewGobCodec()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}

	if compress {
		return NewLZ4Codec(codec), nil
	}

	return codec, nil
}
