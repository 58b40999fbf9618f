package provider

import "strings"

// knownSchemaKeywords is the fixed allow-list of JSON-schema keywords the
// Gemini schema transform is permitted to touch. Anything outside this
// set passes through unchanged, so arbitrary user schema keys can never
// grow the set of identifiers we rewrite.
var knownSchemaKeywords = map[string]bool{
	"type":        true,
	"properties":  true,
	"required":    true,
	"description": true,
	"enum":        true,
	"items":       true,
	"format":      true,
	"nullable":    true,
	"anyOf":       true,
	"minimum":     true,
	"maximum":     true,
	"minItems":    true,
	"maxItems":    true,
	"minLength":   true,
	"maxLength":   true,
	"pattern":     true,
	"default":     true,
}

// geminiSchema converts a canonical JSON-schema object into Gemini's
// typed schema dialect: type values are uppercased (OBJECT, STRING, ...)
// and nested schemas under properties/items/anyOf are converted
// recursively. Unknown keys are copied verbatim.
func geminiSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if !knownSchemaKeywords[k] {
			out[k] = v
			continue
		}
		switch k {
		case "type":
			if s, ok := v.(string); ok {
				out[k] = strings.ToUpper(s)
			} else {
				out[k] = v
			}
		case "properties":
			if props, ok := v.(map[string]any); ok {
				converted := make(map[string]any, len(props))
				for name, sub := range props {
					if subSchema, ok := sub.(map[string]any); ok {
						converted[name] = geminiSchema(subSchema)
					} else {
						converted[name] = sub
					}
				}
				out[k] = converted
			} else {
				out[k] = v
			}
		case "items":
			if sub, ok := v.(map[string]any); ok {
				out[k] = geminiSchema(sub)
			} else {
				out[k] = v
			}
		case "anyOf":
			if list, ok := v.([]any); ok {
				converted := make([]any, 0, len(list))
				for _, item := range list {
					if sub, ok := item.(map[string]any); ok {
						converted = append(converted, geminiSchema(sub))
					} else {
						converted = append(converted, item)
					}
				}
				out[k] = converted
			} else {
				out[k] = v
			}
		default:
			out[k] = v
		}
	}
	return out
}
