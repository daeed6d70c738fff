package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/steward/internal/events"
	"github.com/dohr-michael/steward/internal/permissions"
)

// JustificationArg is the argument sensitive calls use to explain themselves
// when the policy requires it. It is never passed to the capability.
const JustificationArg = "justification"

const instructions = "Reply accept to run as requested, edit with replacement arguments, " +
	"always_allow to run and remember the decision, or deny with a reason."

// Policy is the permission engine surface the gate needs.
type Policy interface {
	Decide(name string, args permissions.Args) permissions.Decision
	RecordAlwaysAllow(ctx context.Context, name string, args permissions.Args) (permissions.Rule, error)
	Settings() permissions.Settings
}

// Gate wraps a sensitive tool.InvokableTool with a policy check.
// Allowed calls run, denied calls return a synthetic result, and anything
// else suspends the graph with an *InterruptError.
type Gate struct {
	inner  tool.InvokableTool
	name   string
	policy Policy
	bus    *events.Bus
}

var _ tool.InvokableTool = (*Gate)(nil)

// Wrap gates t under name. bus may be nil.
func Wrap(t tool.InvokableTool, name string, policy Policy, bus *events.Bus) *Gate {
	return &Gate{inner: t, name: name, policy: policy, bus: bus}
}

// Info delegates to the inner tool.
func (g *Gate) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return g.inner.Info(ctx)
}

// InvokableRun checks the policy, or applies the reviewer's reply when the
// call is being resumed.
func (g *Gate) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	args, err := permissions.ParseArgs(argumentsInJSON)
	if err != nil {
		return "", fmt.Errorf("%s: %w", g.name, err)
	}

	var justification string
	if v, ok := args.Get(JustificationArg); ok {
		justification = v.Canonical()
		args = args.Without(JustificationArg)
		argumentsInJSON = args.JSON()
	}

	if resp, ok := ResponseFromContext(ctx); ok {
		return g.resume(ctx, args, argumentsInJSON, resp, opts...)
	}

	switch g.policy.Decide(g.name, args) {
	case permissions.Allow:
		return g.inner.InvokableRun(ctx, argumentsInJSON, opts...)
	case permissions.Deny:
		slog.Info("capability denied by policy", "capability", g.name, "task_id", events.TaskIDFromContext(ctx))
		return fmt.Sprintf("denied by policy: %s is not permitted with these arguments", g.name), nil
	default:
		return "", &InterruptError{Request: g.request(args, justification)}
	}
}

func (g *Gate) request(args permissions.Args, justification string) Request {
	question := fmt.Sprintf("Allow %s with arguments %s?", g.name, args.JSON())
	if g.policy.Settings().RequireJustification && justification == "" {
		question += " No justification was given."
	}
	return Request{
		Kind:          KindApproval,
		Capability:    g.name,
		Args:          args.Map(),
		Question:      question,
		Instructions:  instructions,
		Justification: justification,
	}
}

func (g *Gate) resume(ctx context.Context, args permissions.Args, argumentsInJSON string, resp Response, opts ...tool.Option) (string, error) {
	g.publishResolved(ctx, resp)

	switch resp.Type {
	case ResponseAccept:
		return g.inner.InvokableRun(ctx, argumentsInJSON, opts...)

	case ResponseEdit:
		edited, err := json.Marshal(resp.Args)
		if err != nil {
			return "", fmt.Errorf("%s: encode edited arguments: %w", g.name, err)
		}
		return g.inner.InvokableRun(ctx, string(edited), opts...)

	case ResponseAlwaysAllow:
		result, err := g.inner.InvokableRun(ctx, argumentsInJSON, opts...)
		if rule, rerr := g.policy.RecordAlwaysAllow(ctx, g.name, args); rerr != nil {
			slog.Error("record always-allow rule", "capability", g.name, "error", rerr)
		} else {
			slog.Info("always-allow rule recorded", "capability", g.name, "rule", rule.String())
		}
		return result, err

	default:
		return resp.RefusalText(g.name), nil
	}
}

func (g *Gate) publishResolved(ctx context.Context, resp Response) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(events.NewTaskEvent(events.SourceApproval, events.TaskIDFromContext(ctx), events.ApprovalResolvedPayload{
		Action:   g.name,
		Decision: string(resp.Type),
	}))
}
