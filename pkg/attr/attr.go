// Package attr implements the typed, open-ended attribute bag carried by
// every Position and Event. The wire vocabulary is protocol-defined and
// growing, so values are stored as a tagged variant rather than a fixed
// struct; callers coerce through the typed accessors below.
package attr

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Kind tags the dynamic type held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

// Value is a tagged union over the JSON-compatible types an attribute can
// hold. Only one of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	B    bool
	I    int64
	F    float64
	S    string
	L    []Value
	M    Bag
}

func Bool(v bool) Value    { return Value{Kind: KindBool, B: v} }
func Int(v int64) Value    { return Value{Kind: KindInt, I: v} }
func Float(v float64) Value { return Value{Kind: KindFloat, F: v} }
func String(v string) Value { return Value{Kind: KindString, S: v} }
func List(v []Value) Value  { return Value{Kind: KindList, L: v} }
func Map(v Bag) Value       { return Value{Kind: KindMap, M: v} }

// Bag is the attribute map attached to Positions, Events, and Geofences.
// Keys are drawn from the constants in this package but the map accepts
// any key so unrecognized protocol fields are never dropped.
type Bag map[string]Value

// NewBag returns an empty, ready-to-use attribute bag.
func NewBag() Bag { return make(Bag) }

func (b Bag) SetBool(key string, v bool) Bag {
	b[key] = Bool(v)
	return b
}

func (b Bag) SetInt(key string, v int64) Bag {
	b[key] = Int(v)
	return b
}

func (b Bag) SetFloat(key string, v float64) Bag {
	b[key] = Float(v)
	return b
}

func (b Bag) SetString(key string, v string) Bag {
	b[key] = String(v)
	return b
}

// GetBool coerces the stored value to bool, returning def if the key is
// absent or not bool-like.
func (b Bag) GetBool(key string, def bool) bool {
	v, ok := b[key]
	if !ok {
		return def
	}
	switch v.Kind {
	case KindBool:
		return v.B
	case KindInt:
		return v.I != 0
	case KindFloat:
		return v.F != 0
	case KindString:
		return v.S == "true" || v.S == "1"
	default:
		return def
	}
}

// GetInt coerces the stored value to int64, returning def if absent or not
// numeric-like.
func (b Bag) GetInt(key string, def int64) int64 {
	v, ok := b[key]
	if !ok {
		return def
	}
	switch v.Kind {
	case KindInt:
		return v.I
	case KindFloat:
		return int64(v.F)
	case KindBool:
		if v.B {
			return 1
		}
		return 0
	default:
		return def
	}
}

// GetFloat coerces the stored value to float64, returning def if absent or
// not numeric-like.
func (b Bag) GetFloat(key string, def float64) float64 {
	v, ok := b[key]
	if !ok {
		return def
	}
	switch v.Kind {
	case KindFloat:
		return v.F
	case KindInt:
		return float64(v.I)
	default:
		return def
	}
}

// GetString coerces the stored value to string, returning def if absent.
func (b Bag) GetString(key string, def string) string {
	v, ok := b[key]
	if !ok {
		return def
	}
	if v.Kind == KindString {
		return v.S
	}
	return def
}

// GetStringSet reads a list-of-strings attribute (e.g. GeofenceIDs) as a
// set, returning an empty set if absent.
func (b Bag) GetStringSet(key string) map[string]struct{} {
	out := make(map[string]struct{})
	v, ok := b[key]
	if !ok || v.Kind != KindList {
		return out
	}
	for _, item := range v.L {
		if item.Kind == KindString {
			out[item.S] = struct{}{}
		}
	}
	return out
}

// SetStringList stores a slice of strings as a list attribute.
func (b Bag) SetStringList(key string, items []string) Bag {
	l := make([]Value, len(items))
	for i, s := range items {
		l[i] = String(s)
	}
	b[key] = List(l)
	return b
}

// Clone returns a deep copy of the bag.
func (b Bag) Clone() Bag {
	var cloneValue func(v Value) Value
	cloneValue = func(v Value) Value {
		switch v.Kind {
		case KindList:
			l := make([]Value, len(v.L))
			for i, item := range v.L {
				l[i] = cloneValue(item)
			}
			v.L = l
		case KindMap:
			v.M = v.M.Clone()
		}
		return v
	}
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = cloneValue(v)
	}
	return out
}

// Value implements driver.Valuer so GORM persists the bag as jsonb.
func (b Bag) Value() (driver.Value, error) {
	if b == nil {
		return nil, nil
	}
	raw, err := json.Marshal(bagToJSON(b))
	if err != nil {
		return nil, fmt.Errorf("attr: marshal bag: %w", err)
	}
	return raw, nil
}

// Scan implements sql.Scanner so GORM can hydrate the bag from jsonb.
func (b *Bag) Scan(src interface{}) error {
	if src == nil {
		*b = NewBag()
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("attr: unsupported scan source %T", src)
	}
	if len(raw) == 0 {
		*b = NewBag()
		return nil
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("attr: unmarshal bag: %w", err)
	}
	*b = bagFromJSON(generic)
	return nil
}

func bagToJSON(b Bag) map[string]interface{} {
	out := make(map[string]interface{}, len(b))
	for k, v := range b {
		out[k] = valueToJSON(v)
	}
	return out
}

func valueToJSON(v Value) interface{} {
	switch v.Kind {
	case KindBool:
		return v.B
	case KindInt:
		return v.I
	case KindFloat:
		return v.F
	case KindString:
		return v.S
	case KindList:
		out := make([]interface{}, len(v.L))
		for i, item := range v.L {
			out[i] = valueToJSON(item)
		}
		return out
	case KindMap:
		return bagToJSON(v.M)
	default:
		return nil
	}
}

// FromMap converts a loosely typed map, such as the one a protocol
// decoder builds while parsing a wire message, into a Bag. Values of the
// Go types produced by decoders (bool, string, int, int64, float64, and
// JSON-shaped nested maps/lists) are coerced to the matching Kind;
// anything else becomes KindNull.
func FromMap(m map[string]interface{}) Bag {
	return bagFromJSON(m)
}

func bagFromJSON(m map[string]interface{}) Bag {
	out := make(Bag, len(m))
	for k, v := range m {
		out[k] = valueFromJSON(v)
	}
	return out
}

func valueFromJSON(v interface{}) Value {
	switch t := v.(type) {
	case bool:
		return Bool(t)
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t))
		}
		return Float(t)
	case float32:
		return Float(float64(t))
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case string:
		return String(t)
	case []interface{}:
		l := make([]Value, len(t))
		for i, item := range t {
			l[i] = valueFromJSON(item)
		}
		return List(l)
	case map[string]interface{}:
		return Map(bagFromJSON(t))
	default:
		return Value{Kind: KindNull}
	}
}
