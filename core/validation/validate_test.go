package validation_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/apimech/core/validation"
)

const personSchema = `{
	"type": "object",
	"properties": {
		"name":  {"type": "string", "minLength": 1},
		"title": {"type": "string", "deprecated": true},
		"age":   {"type": "integer", "minimum": 0},
		"tags":  {"type": "array", "items": {"type": "object", "properties": {"id": {"type": "string"}}}}
	},
	"required": ["name"]
}`

func TestCompile_Inputs(t *testing.T) {
	inputs := map[string]any{
		"string":      `{"type": "string"}`,
		"bytes":       []byte(`{"type": "string"}`),
		"raw message": json.RawMessage(`{"type": "string"}`),
		"go value":    map[string]any{"type": "string"},
	}

	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			spec, err := validation.Compile(in)
			require.NoError(t, err)
			assert.JSONEq(t, `{"type": "string"}`, string(spec.Raw()))

			ctx := validation.Validate("ok", spec, validation.Options{})
			assert.False(t, ctx.HasErrors())
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	_, err := validation.Compile(nil)
	assert.ErrorIs(t, err, validation.ErrNilSpec)

	_, err = validation.Compile(`{"type": `)
	assert.Error(t, err)

	_, err = validation.Compile(`{"type": "no-such-type"}`)
	assert.Error(t, err)
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() { validation.MustCompile(`not json`) })
}

func TestValidate_MissingRequired(t *testing.T) {
	spec := validation.MustCompile(personSchema)

	ctx := validation.Validate(map[string]any{}, spec, validation.Options{})

	require.True(t, ctx.HasErrors())
	require.Len(t, ctx.Errors, 1)
	first, ok := ctx.FirstError()
	require.True(t, ok)
	assert.Equal(t, "name", first.Path)
	assert.Equal(t, "required", first.Code)
	assert.Empty(t, first.Message)
	assert.Nil(t, first.ValidatorInfo)
}

func TestValidate_InvalidTypeWithoutDebug(t *testing.T) {
	spec := validation.MustCompile(personSchema)

	ctx := validation.Validate(map[string]any{"name": 123}, spec, validation.Options{})

	first, ok := ctx.FirstError()
	require.True(t, ok)
	assert.Equal(t, "name", first.Path)
	assert.Equal(t, "invalid_type", first.Code)
	assert.Empty(t, first.Message)
}

func TestValidate_MessageAndValidatorInfo(t *testing.T) {
	spec := validation.MustCompile(personSchema)

	opts := validation.Options{
		Debug:  true,
		Errors: validation.IssueOptions{NeedMessage: true, NeedValidatorInfo: true},
	}
	ctx := validation.Validate(map[string]any{"name": 123}, spec, opts)

	first, ok := ctx.FirstError()
	require.True(t, ok)
	assert.NotEmpty(t, first.Message)
	require.NotNil(t, first.ValidatorInfo)
	assert.Equal(t, "invalid_type", first.ValidatorInfo["validator"])

	details, ok := first.ValidatorInfo["details"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, details, "context")
	assert.NotContains(t, details, "field")
	assert.Equal(t, "string", details["expected"])
}

func TestValidate_ErrorsOrderedByPath(t *testing.T) {
	spec := validation.MustCompile(`{
		"type": "object",
		"properties": {
			"b": {"type": "string"},
			"a": {"type": "string"},
			"c": {"type": "string"}
		}
	}`)

	ctx := validation.Validate(map[string]any{"c": 1, "a": 2, "b": 3}, spec, validation.Options{})

	require.Len(t, ctx.Errors, 3)
	assert.Equal(t, "a", ctx.Errors[0].Path)
	assert.Equal(t, "b", ctx.Errors[1].Path)
	assert.Equal(t, "c", ctx.Errors[2].Path)
}

func TestValidate_NestedPath(t *testing.T) {
	spec := validation.MustCompile(`{
		"type": "object",
		"properties": {
			"address": {
				"type": "object",
				"properties": {"street": {"type": "string"}},
				"required": ["street"]
			}
		}
	}`)

	ctx := validation.Validate(map[string]any{"address": map[string]any{}}, spec, validation.Options{})

	first, ok := ctx.FirstError()
	require.True(t, ok)
	assert.Equal(t, "address.street", first.Path)
	assert.Equal(t, "required", first.Code)
}

func TestValidate_Valid(t *testing.T) {
	spec := validation.MustCompile(personSchema)

	ctx := validation.Validate(map[string]any{"name": "Ada", "age": 36}, spec, validation.Options{})

	assert.False(t, ctx.HasErrors())
	assert.False(t, ctx.HasWarnings())
	_, ok := ctx.FirstError()
	assert.False(t, ok)
}

func TestValidate_StructData(t *testing.T) {
	type person struct {
		Name  string `json:"name"`
		Title string `json:"title,omitempty"`
	}
	spec := validation.MustCompile(personSchema)

	ctx := validation.Validate(person{Name: "Ada", Title: "Countess"}, spec,
		validation.Options{Warnings: validation.IssueOptions{NeedMessage: true}})

	assert.False(t, ctx.HasErrors())
	require.Len(t, ctx.Warnings, 1)
	assert.Equal(t, "title", ctx.Warnings[0].Path)
	assert.Equal(t, validation.CodeDeprecated, ctx.Warnings[0].Code)
}

func TestValidate_Warnings(t *testing.T) {
	spec := validation.MustCompile(personSchema)

	data := map[string]any{
		"name":  "Ada",
		"title": "Countess",
		"extra": true,
		"tags":  []any{map[string]any{"id": "x", "color": "red"}},
	}
	ctx := validation.Validate(data, spec, validation.Options{
		Warnings: validation.IssueOptions{NeedMessage: true},
	})

	assert.False(t, ctx.HasErrors())
	require.True(t, ctx.HasWarnings())

	codes := map[string]string{}
	for _, w := range ctx.Warnings {
		codes[w.Path] = w.Code
		assert.NotEmpty(t, w.Message)
	}
	assert.Equal(t, map[string]string{
		"extra":        validation.CodeUnknownProperty,
		"tags.0.color": validation.CodeUnknownProperty,
		"title":        validation.CodeDeprecated,
	}, codes)
}

func TestValidate_NoUnknownWarningWhenAdditionalDeclared(t *testing.T) {
	spec := validation.MustCompile(`{
		"type": "object",
		"properties": {"name": {"type": "string"}},
		"additionalProperties": true
	}`)

	ctx := validation.Validate(map[string]any{"name": "x", "other": 1}, spec, validation.Options{})

	assert.False(t, ctx.HasWarnings())
}

func TestValidate_AdditionalPropertyError(t *testing.T) {
	spec := validation.MustCompile(`{
		"type": "object",
		"properties": {"name": {"type": "string"}},
		"additionalProperties": false
	}`)

	ctx := validation.Validate(map[string]any{"name": "x", "other": 1}, spec, validation.Options{})

	first, ok := ctx.FirstError()
	require.True(t, ok)
	assert.Equal(t, "other", first.Path)
	assert.Equal(t, "additional_property_not_allowed", first.Code)
}

func TestValidate_RootTypeError(t *testing.T) {
	spec := validation.MustCompile(personSchema)

	ctx := validation.Validate("not an object", spec, validation.Options{})

	first, ok := ctx.FirstError()
	require.True(t, ok)
	assert.Equal(t, "", first.Path)
	assert.Equal(t, "invalid_type", first.Code)
}

func TestError_JSON(t *testing.T) {
	verr := validation.NewError("name", "required", nil, "")

	b, err := json.Marshal(verr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"name","code":"required"}`, string(b))
	assert.Equal(t, "validation failed at name: required", verr.Error())

	withMsg := validation.ErrorFromIssue(validation.Issue{Code: "invalid_type", Message: "bad"})
	assert.Equal(t, "validation failed at (root): invalid_type: bad", withMsg.Error())
}
