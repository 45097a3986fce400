package tools

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/jsonschema-go/jsonschema"
	ai "github.com/sashabaranov/go-openai"
	oaischema "github.com/sashabaranov/go-openai/jsonschema"
	"google.golang.org/genai"
)

// OpenAI projects the definition onto a chat-completions function tool.
func (d Definition) OpenAI() ai.Tool {
	params := toOpenAIDefinition(d.Parameters)
	params.Type = oaischema.Object
	if params.Properties == nil {
		params.Properties = map[string]oaischema.Definition{}
	}
	return ai.Tool{
		Type: ai.ToolTypeFunction,
		Function: &ai.FunctionDefinition{
			Name:        d.Name,
			Description: d.Description,
			Strict:      false,
			Parameters:  params,
		},
	}
}

// Anthropic projects the definition onto a Messages API tool.
func (d Definition) Anthropic() anthropic.ToolUnionParam {
	props := map[string]any{}
	var required []string
	if d.Parameters != nil {
		for name, p := range d.Parameters.Properties {
			if p != nil {
				props[name] = toAnthropicMap(p)
			}
		}
		required = d.Parameters.Required
	}
	tool := anthropic.ToolParam{
		Name:        d.Name,
		Description: anthropic.String(d.Description),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: props,
			Required:   required,
		},
	}
	return anthropic.ToolUnionParam{OfTool: &tool}
}

// Google projects the definition onto a Gemini function declaration.
func (d Definition) Google() *genai.FunctionDeclaration {
	decl := &genai.FunctionDeclaration{
		Name:        d.Name,
		Description: d.Description,
	}
	if d.Parameters != nil && len(d.Parameters.Properties) > 0 {
		decl.Parameters = toGeminiSchema(d.Parameters)
		decl.Parameters.Type = genai.TypeObject
	}
	return decl
}

func schemaType(s *jsonschema.Schema) string {
	if s.Type != "" {
		return s.Type
	}
	for _, t := range s.Types {
		if t != "null" {
			return t
		}
	}
	return ""
}

func toOpenAIDefinition(s *jsonschema.Schema) oaischema.Definition {
	if s == nil {
		return oaischema.Definition{}
	}
	def := oaischema.Definition{
		Type:        oaischema.DataType(schemaType(s)),
		Description: s.Description,
	}
	switch schemaType(s) {
	case "array":
		if s.Items != nil {
			items := toOpenAIDefinition(s.Items)
			def.Items = &items
		}
	case "object":
		if s.Properties != nil {
			props := make(map[string]oaischema.Definition, len(s.Properties))
			for name, p := range s.Properties {
				if p != nil {
					props[name] = toOpenAIDefinition(p)
				}
			}
			def.Properties = props
		}
		def.Required = s.Required
	}
	def.Enum = stringEnum(s.Enum)
	return def
}

func toAnthropicMap(s *jsonschema.Schema) map[string]any {
	m := map[string]any{}
	if t := schemaType(s); t != "" {
		m["type"] = t
	} else {
		m["type"] = "string"
	}
	if s.Description != "" {
		m["description"] = s.Description
	}
	switch schemaType(s) {
	case "array":
		if s.Items != nil {
			m["items"] = toAnthropicMap(s.Items)
		} else {
			m["items"] = map[string]any{"type": "string"}
		}
	case "object":
		props := map[string]any{}
		for name, p := range s.Properties {
			if p != nil {
				props[name] = toAnthropicMap(p)
			}
		}
		m["properties"] = props
		if len(s.Required) > 0 {
			m["required"] = s.Required
		}
	}
	if len(s.Enum) > 0 {
		m["enum"] = s.Enum
	}
	return m
}

func toGeminiSchema(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        geminiType(schemaType(s)),
		Description: s.Description,
		Enum:        stringEnum(s.Enum),
	}
	switch schemaType(s) {
	case "array":
		if s.Items != nil {
			out.Items = toGeminiSchema(s.Items)
		} else {
			out.Items = &genai.Schema{Type: genai.TypeString}
		}
	case "object":
		if len(s.Properties) > 0 {
			out.Properties = make(map[string]*genai.Schema, len(s.Properties))
			for name, p := range s.Properties {
				if p != nil {
					out.Properties[name] = toGeminiSchema(p)
				}
			}
		}
		out.Required = s.Required
	}
	return out
}

func geminiType(t string) genai.Type {
	switch strings.ToLower(t) {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func stringEnum(values []any) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
