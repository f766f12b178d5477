package negotiate

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/pilot-dev/pilot/pkg/app/errors"
	"github.com/pilot-dev/pilot/pkg/app/state"
)

// Prefill returns a copy of the schema with every property's editable
// value populated from the agent's proposal, falling back to the declared
// default. Properties that already carry a user value are left alone.
func Prefill(schema *state.ToolSchema) *state.ToolSchema {
	if schema.Empty() {
		return schema
	}
	out := cloneSchema(schema)
	for key, prop := range out.InputSchema.Properties {
		if prop.UserInput != nil {
			continue
		}
		switch {
		case prop.AgentInput != nil:
			prop.UserInput = prop.AgentInput
		case prop.Default != nil:
			prop.UserInput = prop.Default
		}
		out.InputSchema.Properties[key] = prop
	}
	return out
}

// MergeUserInputs applies the human-edited values onto a copy of the
// pending schema, keyed by property name. AgentInput and Default are
// retained for audit. An edit for an unknown property is a validation
// error and leaves the negotiation pending.
func MergeUserInputs(schema *state.ToolSchema, edits map[string]any) (*state.ToolSchema, error) {
	if schema.Empty() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "no negotiation is pending", nil)
	}
	out := cloneSchema(schema)
	for key, value := range edits {
		prop, ok := out.InputSchema.Properties[key]
		if !ok {
			return nil, apperrors.New(apperrors.ErrCodeInvalidInput,
				fmt.Sprintf("unknown parameter %q for tool %q", key, schema.Name), nil)
		}
		prop.UserInput = value
		out.InputSchema.Properties[key] = prop
	}
	return out, nil
}

// ParseEdits decodes a JSON object of parameter edits. A parse failure is
// surfaced as a validation error so the human can retry; the pending
// negotiation is not cleared.
func ParseEdits(raw string) (map[string]any, error) {
	var edits map[string]any
	if err := json.Unmarshal([]byte(raw), &edits); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "parameters must be a JSON object", err)
	}
	return edits, nil
}

func cloneSchema(schema *state.ToolSchema) *state.ToolSchema {
	out := *schema
	out.InputSchema.Properties = make(map[string]state.PropertySchema, len(schema.InputSchema.Properties))
	for key, prop := range schema.InputSchema.Properties {
		out.InputSchema.Properties[key] = prop
	}
	return &out
}
