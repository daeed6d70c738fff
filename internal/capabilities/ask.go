package capabilities

import (
	"context"
	"fmt"
	"strings"

	"github.com/dohr-michael/steward/internal/approval"
)

var askUserSpec = Spec{
	Name:        "ask_user",
	Description: "Ask the user a question and wait for the answer. The task is parked until they reply.",
	Parameters: map[string]ParamSpec{
		"question": {Type: "string", Description: "The question to ask", Required: true},
	},
}

// askUser suspends the graph with a question. On resume the user's text is
// the tool result.
func askUser(ctx context.Context, args string) (string, error) {
	in, err := decode[struct {
		Question string `json:"question"`
	}](askUserSpec.Name, args)
	if err != nil {
		return "", err
	}

	if resp, ok := approval.ResponseFromContext(ctx); ok {
		if text := strings.TrimSpace(resp.Text); text != "" {
			return text, nil
		}
		return "The user declined to answer.", nil
	}

	q := strings.TrimSpace(in.Question)
	if q == "" {
		return "", fmt.Errorf("ask_user: question is required")
	}
	return "", &approval.InterruptError{Request: approval.Request{
		Kind:       approval.KindQuestion,
		Capability: askUserSpec.Name,
		Question:   q,
	}}
}
