// Package permissions decides whether a capability call may run unattended,
// must be blocked, or needs a human, and turns one-off approvals into rules.
package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dohr-michael/steward/internal/events"
)

// Decision is the outcome of a policy check.
type Decision string

const (
	Allow    Decision = "ALLOW"
	Deny     Decision = "DENY"
	Escalate Decision = "ESCALATE"
)

// List names one of the two rule sets.
type List string

const (
	ListAllow List = "allow"
	ListDeny  List = "deny"
)

// ParseList validates a rule list name.
func ParseList(s string) (List, error) {
	switch List(s) {
	case ListAllow, ListDeny:
		return List(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownList, s)
}

// Engine evaluates calls against the allow and deny rule sets. It is safe
// for concurrent use; writes go through the Store before becoming visible.
type Engine struct {
	mu    sync.RWMutex
	store Store
	bus   *events.Bus
	doc   Document
	allow []Rule
	deny  []Rule
}

// NewEngine loads the policy from store. bus may be nil.
func NewEngine(ctx context.Context, store Store, bus *events.Bus) (*Engine, error) {
	e := &Engine{store: store, bus: bus}
	if err := e.Reload(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the policy document, e.g. after the file changed on disk.
func (e *Engine) Reload(ctx context.Context) error {
	doc, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apply(doc)
	return nil
}

// apply swaps in doc. Caller holds the write lock.
func (e *Engine) apply(doc Document) {
	e.doc = doc.clone()
	e.allow = parseRules(ListAllow, doc.Allow)
	e.deny = parseRules(ListDeny, doc.Deny)
}

func parseRules(list List, patterns []string) []Rule {
	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		r, err := ParseRule(p)
		if err != nil {
			slog.Warn("skipping invalid permission rule", "list", list, "rule", p, "error", err)
			continue
		}
		rules = append(rules, r)
	}
	return rules
}

// Decide checks a call against the deny set, then the allow set. Deny wins.
// With no match the call escalates when default_secure is set.
func (e *Engine) Decide(name string, args Args) Decision {
	call := CallPattern(name, args)

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.deny {
		if r.Matches(call) {
			return Deny
		}
	}
	for _, r := range e.allow {
		if r.Matches(call) {
			return Allow
		}
	}
	if e.doc.Settings.DefaultSecure {
		return Escalate
	}
	return Allow
}

// RecordAlwaysAllow derives an allow rule from a human-approved call, keeping
// only semantic arguments, and persists it.
func (e *Engine) RecordAlwaysAllow(ctx context.Context, name string, args Args) (Rule, error) {
	rule := CallPattern(name, SemanticArgs(args))
	if _, err := e.addRule(ctx, ListAllow, rule); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// Settings returns the current policy settings.
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.Settings
}

// Rules returns a copy of the current policy document.
func (e *Engine) Rules() Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.clone()
}

// AddRule validates, canonicalizes and appends a pattern to list. Adding a
// rule already present is a no-op.
func (e *Engine) AddRule(ctx context.Context, list List, pattern string) (Rule, error) {
	if _, err := ParseList(string(list)); err != nil {
		return Rule{}, err
	}
	rule, err := ParseRule(pattern)
	if err != nil {
		return Rule{}, err
	}
	if _, err := e.addRule(ctx, list, rule); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

func (e *Engine) addRule(ctx context.Context, list List, rule Rule) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	canonical := rule.String()
	doc := e.doc.clone()
	target := &doc.Allow
	if list == ListDeny {
		target = &doc.Deny
	}
	if slices.Contains(*target, canonical) {
		return false, nil
	}
	*target = append(*target, canonical)

	if err := e.store.Save(ctx, doc); err != nil {
		return false, fmt.Errorf("save permissions: %w", err)
	}
	e.apply(doc)
	e.publish(events.RuleAddedPayload{List: string(list), Rule: canonical})
	return true, nil
}

// RemoveRule deletes a pattern from list. The pattern is matched in canonical form.
func (e *Engine) RemoveRule(ctx context.Context, list List, pattern string) error {
	if _, err := ParseList(string(list)); err != nil {
		return err
	}
	rule, err := ParseRule(pattern)
	if err != nil {
		return err
	}
	canonical := rule.String()

	e.mu.Lock()
	defer e.mu.Unlock()

	doc := e.doc.clone()
	target := &doc.Allow
	if list == ListDeny {
		target = &doc.Deny
	}
	idx := slices.IndexFunc(*target, func(p string) bool {
		r, err := ParseRule(p)
		return err == nil && r.String() == canonical
	})
	if idx < 0 {
		return fmt.Errorf("%w: %s in %s", ErrRuleNotFound, canonical, list)
	}
	*target = slices.Delete(*target, idx, idx+1)

	if err := e.store.Save(ctx, doc); err != nil {
		return fmt.Errorf("save permissions: %w", err)
	}
	e.apply(doc)
	e.publish(events.RuleRemovedPayload{List: string(list), Rule: canonical})
	return nil
}

func (e *Engine) publish(p events.EventPayload) {
	if e.bus != nil {
		e.bus.Publish(events.NewTypedEvent(events.SourcePermission, p))
	}
}
