// Package approval gates sensitive capability calls through the permission
// engine and carries the suspend/resume contract with a human reviewer.
package approval

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyResponse = errors.New("approval response is empty")
	ErrEditArgs      = errors.New("edit response requires replacement arguments")
)

// Kind distinguishes policy escalations from questions the agent asks.
type Kind string

const (
	KindApproval Kind = "approval"
	KindQuestion Kind = "question"
)

// Request describes a suspended capability call awaiting a human.
type Request struct {
	Kind          Kind           `json:"kind"`
	Capability    string         `json:"capability"`
	Args          map[string]any `json:"args,omitempty"`
	Question      string         `json:"question"`
	Instructions  string         `json:"instructions,omitempty"`
	Justification string         `json:"justification,omitempty"`
}

// ResponseType is the reviewer's verdict. Values other than the constants
// below are treated as a refusal.
type ResponseType string

const (
	ResponseAccept      ResponseType = "accept"
	ResponseEdit        ResponseType = "edit"
	ResponseAlwaysAllow ResponseType = "always_allow"
	ResponseDeny        ResponseType = "deny"
	ResponseAnswer      ResponseType = "answer"
)

// Response is the reviewer's reply to a Request.
type Response struct {
	Type ResponseType   `json:"type"`
	Args map[string]any `json:"args,omitempty"`
	Text string         `json:"text,omitempty"`
}

// Runs reports whether the response lets the original call execute.
func (r Response) Runs() bool {
	switch r.Type {
	case ResponseAccept, ResponseEdit, ResponseAlwaysAllow:
		return true
	}
	return false
}

// Normalize lowercases the type and turns a bare text reply into a refusal.
func (r Response) Normalize() (Response, error) {
	r.Type = ResponseType(strings.ToLower(strings.TrimSpace(string(r.Type))))
	if r.Type == "" {
		if strings.TrimSpace(r.Text) == "" {
			return Response{}, ErrEmptyResponse
		}
		r.Type = ResponseDeny
	}
	if r.Type == ResponseEdit && r.Args == nil {
		return Response{}, ErrEditArgs
	}
	return r, nil
}

// RefusalText is what the graph sees when a call is not run.
func (r Response) RefusalText(capability string) string {
	if t := strings.TrimSpace(r.Text); t != "" {
		return t
	}
	return fmt.Sprintf("User denied the call to %s.", capability)
}
