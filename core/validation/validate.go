package validation

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Warning codes.
const (
	CodeDeprecated      = "deprecated"
	CodeUnknownProperty = "unknown_property"
	CodeInvalidDocument = "invalid_document"
)

const rootContext = "(root)"

// Validate checks data against spec and returns the collected issues.
// Errors are ordered by path. Warnings follow schema traversal order.
func Validate(data any, spec *Spec, opts Options) *Context {
	ctx := &Context{}

	result, err := spec.schema.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		issue := Issue{Code: CodeInvalidDocument}
		if opts.Errors.NeedMessage {
			issue.Message = err.Error()
		}
		ctx.addError(issue)
		return ctx
	}

	if !result.Valid() {
		for _, re := range result.Errors() {
			ctx.addError(toIssue(re, opts.Errors))
		}
		sort.SliceStable(ctx.Errors, func(i, j int) bool {
			return ctx.Errors[i].Path < ctx.Errors[j].Path
		})
	}

	if schemaDoc, ok := spec.doc.(map[string]any); ok && hasProperties(schemaDoc) {
		if normalized, ok := normalize(data); ok {
			collectWarnings(ctx, schemaDoc, normalized, "", opts.Warnings)
		}
	}

	return ctx
}

func toIssue(re gojsonschema.ResultError, opts IssueOptions) Issue {
	details := re.Details()

	path := contextPath(re.Context())
	if prop, ok := details["property"].(string); ok && prop != "" {
		path = joinPath(path, prop)
	}

	issue := Issue{
		Path: path,
		Code: re.Type(),
	}

	if opts.NeedValidatorInfo {
		info := make(map[string]any, len(details))
		for k, v := range details {
			switch k {
			case "context", "field", "property":
				continue
			}
			info[k] = v
		}
		issue.ValidatorInfo = map[string]any{
			"validator": re.Type(),
			"details":   info,
		}
	}

	if opts.NeedMessage {
		issue.Message = re.Description()
	}

	return issue
}

func contextPath(c *gojsonschema.JsonContext) string {
	if c == nil {
		return ""
	}
	s := strings.TrimPrefix(c.String(), rootContext)
	return strings.TrimPrefix(s, ".")
}

func joinPath(base, elem string) string {
	if base == "" {
		return elem
	}
	return base + "." + elem
}

// normalize converts data into the generic JSON shape the warning walker reads.
func normalize(data any) (any, bool) {
	switch data.(type) {
	case map[string]any, []any, nil:
		return data, true
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, false
	}
	return out, true
}

func hasProperties(schema map[string]any) bool {
	for k, v := range schema {
		if k == "properties" {
			return true
		}
		switch sub := v.(type) {
		case map[string]any:
			if hasProperties(sub) {
				return true
			}
		case []any:
			for _, item := range sub {
				if m, ok := item.(map[string]any); ok && hasProperties(m) {
					return true
				}
			}
		}
	}
	return false
}

func collectWarnings(ctx *Context, schema map[string]any, data any, path string, opts IssueOptions) {
	switch v := data.(type) {
	case map[string]any:
		props, hasProps := schema["properties"].(map[string]any)
		_, hasAdditional := schema["additionalProperties"]
		_, hasPattern := schema["patternProperties"]
		strict := hasProps && !hasAdditional && !hasPattern

		for _, key := range slices.Sorted(maps.Keys(v)) {
			propPath := joinPath(path, key)
			sub, declared := props[key]
			if !declared {
				if strict {
					ctx.addWarning(warning(propPath, CodeUnknownProperty,
						fmt.Sprintf("Property %q is not declared in the schema", key), opts))
				}
				continue
			}
			subSchema, ok := sub.(map[string]any)
			if !ok {
				continue
			}
			if deprecated, _ := subSchema["deprecated"].(bool); deprecated {
				ctx.addWarning(warning(propPath, CodeDeprecated,
					fmt.Sprintf("Property %q is deprecated", key), opts))
			}
			collectWarnings(ctx, subSchema, v[key], propPath, opts)
		}

	case []any:
		items, ok := schema["items"].(map[string]any)
		if !ok {
			return
		}
		for i, item := range v {
			collectWarnings(ctx, items, item, joinPath(path, strconv.Itoa(i)), opts)
		}
	}
}

func warning(path, code, message string, opts IssueOptions) Issue {
	issue := Issue{Path: path, Code: code}
	if opts.NeedValidatorInfo {
		issue.ValidatorInfo = map[string]any{"validator": code}
	}
	if opts.NeedMessage {
		issue.Message = message
	}
	return issue
}
