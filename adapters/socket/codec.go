package socket

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// ErrUnknownCodec is returned for an unsupported body encoding name.
var ErrUnknownCodec = errors.New("socket: unknown body encoding")

// BodyCodec encodes message bodies. Headers are always JSON.
type BodyCodec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
	// Binary reports whether encoded bodies must travel in binary frames.
	Binary() bool
}

// CodecByName returns the codec for a socket.body_encoding value.
func CodecByName(name string) (BodyCodec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return NewCBORCodec()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// JSONCodec encodes bodies as JSON text.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (JSONCodec) Binary() bool { return false }

// CBORCodec encodes bodies as CBOR. Maps decode as map[string]any so
// decoded bodies validate the same way JSON bodies do.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec creates a CBOR codec with canonical encoding.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decoder: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (c *CBORCodec) Name() string { return "cbor" }

func (c *CBORCodec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBORCodec) Unmarshal(data []byte) (any, error) {
	var v any
	if err := c.dec.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *CBORCodec) Binary() bool { return true }
