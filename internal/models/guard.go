package models

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// guardTransport turns answers that cannot come from a model API into
// ErrModelUnavailable: transport failures and bodies that are not JSON,
// NDJSON or server-sent events, such as a reverse proxy error page. JSON
// error bodies reach the SDK, which knows how to decode them.
type guardTransport struct {
	inner    http.RoundTripper
	provider string
}

func (t *guardTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		return nil, &ErrModelUnavailable{Provider: t.provider, Cause: err}
	}

	if !modelContentType(resp.Header.Get("Content-Type")) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &ErrModelUnavailable{
			Provider: t.provider,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(body)),
		}
	}
	return resp, nil
}

func modelContentType(ct string) bool {
	if ct == "" {
		return true
	}
	return strings.Contains(ct, "json") || strings.Contains(ct, "event-stream")
}

// guardedClient returns an HTTP client for a provider SDK.
func guardedClient(provider string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &guardTransport{inner: http.DefaultTransport, provider: provider},
	}
}

// guardedModel classifies provider errors with HandleError. It forwards
// IsCallbacksEnabled so callback reporting is not duplicated.
type guardedModel struct {
	inner model.ToolCallingChatModel
}

var _ model.ToolCallingChatModel = (*guardedModel)(nil)

func guard(m model.ToolCallingChatModel) model.ToolCallingChatModel {
	if m == nil {
		return nil
	}
	return &guardedModel{inner: m}
}

func (g *guardedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	msg, err := g.inner.Generate(ctx, input, opts...)
	return msg, HandleError(err)
}

func (g *guardedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, err := g.inner.Stream(ctx, input, opts...)
	return sr, HandleError(err)
}

func (g *guardedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m, err := g.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return guard(m), nil
}

func (g *guardedModel) IsCallbacksEnabled() bool {
	return components.IsCallbacksEnabled(g.inner)
}

func (g *guardedModel) GetType() string {
	if t, ok := components.GetType(g.inner); ok {
		return t
	}
	return "Guarded"
}
