package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"warden-ai/internal/domain"
)

// Exchange records are validated against explicit schemas at the boundary.
// Unrecognized shapes are rejected deterministically instead of being
// best-effort coerced; role flags must be real booleans.

const requestSchemaJSON = `{
	"type": "object",
	"required": ["id", "prompt", "groupKey", "channelId", "isMain"],
	"additionalProperties": false,
	"properties": {
		"id":           {"type": "string", "minLength": 1},
		"prompt":       {"type": "string", "minLength": 1},
		"groupKey":     {"type": "string", "minLength": 1},
		"channelId":    {"type": "string", "minLength": 1},
		"isMain":       {"type": "boolean"},
		"isScheduled":  {"type": "boolean"},
		"isBackground": {"type": "boolean"},
		"sessionId":    {"type": "string"},
		"userId":       {"type": "string"},
		"attachments":  {"type": "array", "items": {"type": "string"}},
		"stream":       {"type": "boolean"},
		"timeouts": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"runMs":  {"type": "integer", "minimum": 0},
				"pollMs": {"type": "integer", "minimum": 0}
			}
		}
	}
}`

const responseSchemaJSON = `{
	"type": "object",
	"required": ["id", "status"],
	"additionalProperties": false,
	"properties": {
		"id":               {"type": "string", "minLength": 1},
		"status":           {"type": "string", "enum": ["success", "error"]},
		"result":           {"type": "string"},
		"error":            {"type": "string"},
		"model":            {"type": "string"},
		"tokensPrompt":     {"type": "integer", "minimum": 0},
		"tokensCompletion": {"type": "integer", "minimum": 0},
		"toolCalls": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name"],
				"additionalProperties": false,
				"properties": {
					"name":       {"type": "string"},
					"durationMs": {"type": "integer", "minimum": 0},
					"isError":    {"type": "boolean"}
				}
			}
		},
		"newSessionId": {"type": "string"},
		"latencyMs":    {"type": "integer", "minimum": 0}
	}
}`

var (
	requestSchema  = mustCompile("request.json", requestSchemaJSON)
	responseSchema = mustCompile("response.json", responseSchemaJSON)
)

func mustCompile(name, src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader([]byte(src))); err != nil {
		panic(fmt.Sprintf("exchange: add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// DecodeRequest validates raw bytes against the request schema and decodes
// them. Schema violations surface as ErrInvalidInput.
func DecodeRequest(raw []byte) (*domain.AgentRunRequest, error) {
	if err := validate(requestSchema, raw); err != nil {
		return nil, domain.NewSubSystemError("exchange", "DecodeRequest", domain.ErrInvalidInput, err.Error())
	}
	var req domain.AgentRunRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, domain.NewSubSystemError("exchange", "DecodeRequest", domain.ErrInvalidInput, err.Error())
	}
	return &req, nil
}

// DecodeResponse validates raw bytes against the response schema and decodes
// them. A malformed response after a claimed request is a worker fault, not
// a validation problem the caller could have avoided.
func DecodeResponse(raw []byte) (*domain.AgentRunResponse, error) {
	if err := validate(responseSchema, raw); err != nil {
		return nil, domain.NewSubSystemError("exchange", "DecodeResponse", domain.ErrWorkerFault, err.Error())
	}
	var resp domain.AgentRunResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domain.NewSubSystemError("exchange", "DecodeResponse", domain.ErrWorkerFault, err.Error())
	}
	return &resp, nil
}

func validate(schema *jsonschema.Schema, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return schema.Validate(v)
}
