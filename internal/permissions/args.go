package permissions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// Kind tags the type of an argument value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindBool
	KindNumber
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

// Value is a tagged argument value. Lists and maps keep their raw JSON.
type Value struct {
	Kind Kind
	Str  string
	Bool bool
	Num  float64
	Raw  json.RawMessage
}

func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Canonical renders the value as it appears in a rule clause.
func (v Value) Canonical() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindList, KindMap:
		var buf bytes.Buffer
		if err := json.Compact(&buf, v.Raw); err != nil {
			return string(v.Raw)
		}
		return buf.String()
	default:
		return "null"
	}
}

// Interface converts the value back to its loosely typed form.
func (v Value) Interface() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindList, KindMap:
		var out any
		if err := json.Unmarshal(v.Raw, &out); err != nil {
			return string(v.Raw)
		}
		return out
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindList, KindMap:
		return v.Raw, nil
	default:
		return json.Marshal(v.Interface())
	}
}

func parseValue(raw json.RawMessage) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Value{}, nil
	}
	switch trimmed[0] {
	case 'n':
		return Value{}, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Value{}, err
		}
		return String(s), nil
	case '[':
		return Value{Kind: KindList, Raw: slices.Clone(trimmed)}, nil
	case '{':
		return Value{Kind: KindMap, Raw: slices.Clone(trimmed)}, nil
	default:
		f, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", trimmed, err)
		}
		return Number(f), nil
	}
}

// ValueOf tags a loosely typed value.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{}
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case float64:
		return Number(x)
	case float32:
		return Number(float64(x))
	case int:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case json.Number:
		f, _ := x.Float64()
		return Number(f)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return String(fmt.Sprint(v))
	}
	val, err := parseValue(raw)
	if err != nil {
		return String(string(raw))
	}
	return val
}

// Arg is a single named argument.
type Arg struct {
	Key   string
	Value Value
}

// Args is the ordered argument list of a capability call.
type Args []Arg

// ParseArgs decodes a JSON object, keeping the key order of the document.
// An empty document or null yields no arguments.
func ParseArgs(argsJSON string) (Args, error) {
	if strings.TrimSpace(argsJSON) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(argsJSON))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	if tok == nil {
		return nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("parse arguments: expected object, got %v", tok)
	}

	var args Args
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse arguments: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("parse arguments: expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse argument %q: %w", key, err)
		}
		val, err := parseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("parse argument %q: %w", key, err)
		}
		args = args.Set(key, val)
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	return args, nil
}

// ArgsFromMap builds arguments from a map, in sorted key order.
func ArgsFromMap(m map[string]any) Args {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	args := make(Args, 0, len(keys))
	for _, k := range keys {
		args = append(args, Arg{Key: k, Value: ValueOf(m[k])})
	}
	return args
}

// Get returns the value for key.
func (a Args) Get(key string) (Value, bool) {
	for _, arg := range a {
		if arg.Key == key {
			return arg.Value, true
		}
	}
	return Value{}, false
}

// Set replaces the value for key, or appends it.
func (a Args) Set(key string, v Value) Args {
	for i := range a {
		if a[i].Key == key {
			out := slices.Clone(a)
			out[i].Value = v
			return out
		}
	}
	return append(slices.Clip(a), Arg{Key: key, Value: v})
}

// Without returns a copy of a minus key.
func (a Args) Without(key string) Args {
	return slices.DeleteFunc(slices.Clone(a), func(arg Arg) bool { return arg.Key == key })
}

// Sorted returns a copy ordered by key.
func (a Args) Sorted() Args {
	out := slices.Clone(a)
	slices.SortStableFunc(out, func(x, y Arg) int { return strings.Compare(x.Key, y.Key) })
	return out
}

// Map converts the arguments to their loosely typed form.
func (a Args) Map() map[string]any {
	m := make(map[string]any, len(a))
	for _, arg := range a {
		m[arg.Key] = arg.Value.Interface()
	}
	return m
}

// JSON encodes the arguments as an object, preserving order.
func (a Args) JSON() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, arg := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(arg.Key)
		buf.Write(key)
		buf.WriteByte(':')
		val, err := arg.Value.MarshalJSON()
		if err != nil {
			val = []byte("null")
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.String()
}
