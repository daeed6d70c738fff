// Package capabilities defines the actions the agent can take on a task
// and registers them as eino tools, gated by the permission policy when
// marked sensitive.
package capabilities

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/steward/internal/approval"
)

// Spec describes one capability.
type Spec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamSpec `json:"parameters"`
	// Sensitive capabilities go through the approval gate.
	Sensitive bool `json:"sensitive"`
}

// ParamSpec describes a single capability parameter.
type ParamSpec struct {
	Type        string   `json:"type"` // "string", "number", "boolean", "integer", "array", "object"
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolInfo converts the spec to an eino schema.ToolInfo. When withJustification
// is set a required justification parameter is added.
func (s Spec) ToolInfo(withJustification bool) *schema.ToolInfo {
	info := &schema.ToolInfo{Name: s.Name, Desc: s.Description}

	params := make(map[string]*schema.ParameterInfo, len(s.Parameters)+1)
	for name, p := range s.Parameters {
		params[name] = &schema.ParameterInfo{
			Type:     paramTypeToDataType(p.Type),
			Desc:     p.Description,
			Required: p.Required,
			Enum:     p.Enum,
		}
	}
	if withJustification {
		params[approval.JustificationArg] = &schema.ParameterInfo{
			Type:     schema.String,
			Desc:     "Why this action is needed. Shown to the reviewer when approval is required.",
			Required: true,
		}
	}
	if len(params) > 0 {
		info.ParamsOneOf = schema.NewParamsOneOfByParams(params)
	}
	return info
}

// paramTypeToDataType maps string type names to Eino DataType constants.
func paramTypeToDataType(t string) schema.DataType {
	switch t {
	case "number":
		return schema.Number
	case "integer":
		return schema.Integer
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}

// RunFunc executes a capability with raw JSON arguments.
type RunFunc func(ctx context.Context, argumentsInJSON string) (string, error)

// capability adapts a Spec and RunFunc to tool.InvokableTool.
type capability struct {
	spec          Spec
	run           RunFunc
	justification func() bool
}

var _ tool.InvokableTool = (*capability)(nil)

func (c *capability) Info(_ context.Context) (*schema.ToolInfo, error) {
	return c.spec.ToolInfo(c.spec.Sensitive && c.justification()), nil
}

func (c *capability) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	return c.run(ctx, argumentsInJSON)
}

// decode parses arguments into T, naming the capability on failure.
func decode[T any](name, argumentsInJSON string) (T, error) {
	var in T
	if argumentsInJSON == "" {
		argumentsInJSON = "{}"
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &in); err != nil {
		return in, fmt.Errorf("%s: parse input: %w", name, err)
	}
	return in, nil
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
