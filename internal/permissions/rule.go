package permissions

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	ErrInvalidPattern = errors.New("invalid permission pattern")
	ErrRuleNotFound   = errors.New("permission rule not found")
	ErrUnknownList    = errors.New("unknown rule list")
)

// Clause is a single key=value constraint of a rule.
type Clause struct {
	Key   string
	Value string
}

// Rule is a parsed permission pattern:
//
//	update_task                      any call
//	update_task(*)                   any call
//	update_task(status=done)         calls whose status is "done", other args ignored
//	mail_*(folder=inbox)             capability names may be globs
type Rule struct {
	Name     string
	Wildcard bool
	Clauses  []Clause // sorted by key
}

// ParseRule parses and canonicalizes a pattern string.
func ParseRule(pattern string) (Rule, error) {
	pattern = strings.TrimSpace(pattern)
	name, body, hasBody := pattern, "", false
	if idx := strings.IndexByte(pattern, '('); idx >= 0 {
		if !strings.HasSuffix(pattern, ")") {
			return Rule{}, fmt.Errorf("%w: %q: missing closing parenthesis", ErrInvalidPattern, pattern)
		}
		name, body, hasBody = pattern[:idx], pattern[idx+1:len(pattern)-1], true
	}

	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t\n()=") {
		return Rule{}, fmt.Errorf("%w: %q: bad capability name", ErrInvalidPattern, pattern)
	}
	if !doublestar.ValidatePattern(name) {
		return Rule{}, fmt.Errorf("%w: %q: bad capability glob", ErrInvalidPattern, pattern)
	}

	r := Rule{Name: name}
	if !hasBody {
		return r, nil
	}
	body = strings.TrimSpace(body)
	switch body {
	case "":
		return Rule{}, fmt.Errorf("%w: %q: empty argument clause", ErrInvalidPattern, pattern)
	case "*":
		r.Wildcard = true
		return r, nil
	}

	// A part without '=' continues the previous value, so values may contain commas.
	var parts []string
	for _, p := range strings.Split(body, ",") {
		if !strings.Contains(p, "=") && len(parts) > 0 {
			parts[len(parts)-1] += "," + p
			continue
		}
		parts = append(parts, p)
	}

	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return Rule{}, fmt.Errorf("%w: %q: clause %q is not key=value", ErrInvalidPattern, pattern, p)
		}
		if seen[key] {
			return Rule{}, fmt.Errorf("%w: %q: duplicate key %q", ErrInvalidPattern, pattern, key)
		}
		seen[key] = true
		r.Clauses = append(r.Clauses, Clause{Key: key, Value: strings.TrimSpace(value)})
	}
	sortClauses(r.Clauses)
	return r, nil
}

// MustParseRule is ParseRule for static defaults.
func MustParseRule(pattern string) Rule {
	r, err := ParseRule(pattern)
	if err != nil {
		panic(err)
	}
	return r
}

// CallPattern builds the canonical pattern of a concrete call.
func CallPattern(name string, args Args) Rule {
	r := Rule{Name: name}
	for _, arg := range args {
		r.Clauses = append(r.Clauses, Clause{Key: arg.Key, Value: arg.Value.Canonical()})
	}
	sortClauses(r.Clauses)
	return r
}

func sortClauses(c []Clause) {
	slices.SortFunc(c, func(a, b Clause) int { return strings.Compare(a.Key, b.Key) })
}

// String renders the canonical form.
func (r Rule) String() string {
	if r.Wildcard {
		return r.Name + "(*)"
	}
	if len(r.Clauses) == 0 {
		return r.Name
	}
	var sb strings.Builder
	sb.WriteString(r.Name)
	sb.WriteByte('(')
	for i, c := range r.Clauses {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(c.Key)
		sb.WriteByte('=')
		sb.WriteString(c.Value)
	}
	sb.WriteByte(')')
	return sb.String()
}

func (r Rule) matchesName(name string) bool {
	if r.Name == name {
		return true
	}
	ok, err := doublestar.Match(r.Name, name)
	return err == nil && ok
}

// Matches reports whether the rule covers a call. Every clause of the rule
// must be present with an equal value in the call; extra call arguments are
// ignored, so an exact pattern is the special case of a full subset.
func (r Rule) Matches(call Rule) bool {
	if !r.matchesName(call.Name) {
		return false
	}
	if r.Wildcard {
		return true
	}
	for _, c := range r.Clauses {
		i, found := slices.BinarySearchFunc(call.Clauses, c.Key, func(cc Clause, key string) int {
			return strings.Compare(cc.Key, key)
		})
		if !found || call.Clauses[i].Value != c.Value {
			return false
		}
	}
	return true
}
