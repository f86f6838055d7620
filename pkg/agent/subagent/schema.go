package subagent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"google.golang.org/genai"
)

// declarations converts the MCP tool list into the tool block Gemini
// expects. Tools whose schemas do not survive conversion are declared
// without parameters rather than dropped.
func declarations(tools []mcp.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  parametersFor(t),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func parametersFor(t mcp.Tool) *genai.Schema {
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil
	}
	var js jsonSchema
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil
	}
	s := toGenAISchema(&js)
	if s == nil || len(s.Properties) == 0 {
		// Gemini rejects object schemas with an empty property set.
		return nil
	}
	return s
}

// jsonSchema is the subset of JSON Schema that MCP servers emit and
// Gemini function declarations understand.
type jsonSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Format      string                 `json:"format"`
	Enum        []any                  `json:"enum"`
	Items       *jsonSchema            `json:"items"`
	Properties  map[string]*jsonSchema `json:"properties"`
	Required    []string               `json:"required"`
}

func toGenAISchema(js *jsonSchema) *genai.Schema {
	if js == nil {
		return nil
	}
	s := &genai.Schema{Description: js.Description, Format: js.Format}
	switch strings.ToLower(js.Type) {
	case "object":
		s.Type = genai.TypeObject
		s.Required = js.Required
		if len(js.Properties) > 0 {
			s.Properties = make(map[string]*genai.Schema, len(js.Properties))
			for name, prop := range js.Properties {
				s.Properties[name] = toGenAISchema(prop)
			}
		}
	case "array":
		s.Type = genai.TypeArray
		s.Items = toGenAISchema(js.Items)
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	case "string":
		s.Type = genai.TypeString
		if len(js.Enum) > 0 {
			s.Enum = make([]string, 0, len(js.Enum))
			for _, v := range js.Enum {
				s.Enum = append(s.Enum, fmt.Sprint(v))
			}
		}
	default:
		// Untyped schemas with properties are treated as objects,
		// anything else as plain text.
		if len(js.Properties) > 0 {
			js.Type = "object"
			return toGenAISchema(js)
		}
		s.Type = genai.TypeString
	}
	return s
}
