package validation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ErrNilSpec is returned when Compile is given no schema.
var ErrNilSpec = errors.New("validation: nil data spec")

// Spec is a compiled, immutable JSON schema.
// It is safe for concurrent use.
type Spec struct {
	schema *gojsonschema.Schema
	doc    any
	raw    json.RawMessage
}

// Compile compiles a JSON schema given as a Go value, a JSON string,
// a byte slice or a json.RawMessage.
func Compile(dataSpec any) (*Spec, error) {
	if dataSpec == nil {
		return nil, ErrNilSpec
	}

	raw, err := schemaBytes(dataSpec)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Spec{schema: schema, doc: doc, raw: raw}, nil
}

// MustCompile is like Compile but panics on error.
// Use it for package-level schema declarations.
func MustCompile(dataSpec any) *Spec {
	s, err := Compile(dataSpec)
	if err != nil {
		panic(err)
	}
	return s
}

// Raw returns the schema document as JSON.
func (s *Spec) Raw() json.RawMessage {
	return s.raw
}

func schemaBytes(dataSpec any) ([]byte, error) {
	switch v := dataSpec.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
