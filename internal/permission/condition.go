// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// # Conditions

// Operator is the comparison applied between a context field and the
// condition operand.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpLt         Operator = "lt"
	OpIn         Operator = "in"
	OpNin        Operator = "nin"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpMatches    Operator = "matches"
)

// Condition is a predicate attached to a permission, evaluated against the
// request context at check time.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

// Value is the tagged operand type for conditions: a string, a number, a
// bool, or a list of strings. Comparisons across tags evaluate to false.
type Value struct {
	Kind   ValueKind `json:"kind"`
	Str    string    `json:"str,omitempty"`
	Num    float64   `json:"num,omitempty"`
	Bool   bool      `json:"bool,omitempty"`
	List   []string  `json:"list,omitempty"`
	IsNull bool      `json:"is_null,omitempty"`
}

// ValueKind tags the active variant of a [Value].
type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
	KindList   ValueKind = "list"
	KindNull   ValueKind = "null"
)

// StringValue wraps a string operand.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// NumberValue wraps a numeric operand.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// BoolValue wraps a boolean operand.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// ListValue wraps a string-list operand.
func ListValue(items ...string) Value { return Value{Kind: KindList, List: items} }

// NullValue is the explicit absence operand, relevant only for ne.
func NullValue() Value { return Value{Kind: KindNull, IsNull: true} }

// coerce converts a dynamically-typed context value into a tagged [Value].
// Unsupported shapes coerce to null, which fails every comparison except
// ne-against-non-null.
func coerce(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return NullValue()
	case string:
		return StringValue(v)
	case bool:
		return BoolValue(v)
	case float64:
		return NumberValue(v)
	case float32:
		return NumberValue(float64(v))
	case int:
		return NumberValue(float64(v))
	case int32:
		return NumberValue(float64(v))
	case int64:
		return NumberValue(float64(v))
	case []string:
		return ListValue(v...)
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return NullValue()
			}
			items = append(items, s)
		}
		return ListValue(items...)
	default:
		return NullValue()
	}
}

/*
Evaluate applies the condition to the request context.

Description: A missing context field evaluates to false for every operator
except ne against a non-null operand, where absence genuinely differs from
the operand. Type mismatches never error; they evaluate to false.

Parameters:
  - ctx: request-supplied attribute map

Returns:
  - bool: whether the predicate holds
*/
func (c Condition) Evaluate(ctx map[string]any) bool {

	raw, present := ctx[c.Field]
	if !present {
		return c.Operator == OpNe && !c.Value.IsNull
	}

	actual := coerce(raw)

	switch c.Operator {
	case OpEq:
		return valuesEqual(actual, c.Value)
	case OpNe:
		return !valuesEqual(actual, c.Value)
	case OpGt:
		return actual.Kind == KindNumber && c.Value.Kind == KindNumber && actual.Num > c.Value.Num
	case OpLt:
		return actual.Kind == KindNumber && c.Value.Kind == KindNumber && actual.Num < c.Value.Num
	case OpIn:
		return actual.Kind == KindString && c.Value.Kind == KindList && listHas(c.Value.List, actual.Str)
	case OpNin:
		return actual.Kind == KindString && c.Value.Kind == KindList && !listHas(c.Value.List, actual.Str)
	case OpContains:
		switch {
		case actual.Kind == KindString && c.Value.Kind == KindString:
			return strings.Contains(actual.Str, c.Value.Str)
		case actual.Kind == KindList && c.Value.Kind == KindString:
			return listHas(actual.List, c.Value.Str)
		}
		return false
	case OpStartsWith:
		return actual.Kind == KindString && c.Value.Kind == KindString && strings.HasPrefix(actual.Str, c.Value.Str)
	case OpEndsWith:
		return actual.Kind == KindString && c.Value.Kind == KindString && strings.HasSuffix(actual.Str, c.Value.Str)
	case OpMatches:
		if actual.Kind != KindString || c.Value.Kind != KindString {
			return false
		}
		re, err := compileCached(c.Value.Str)
		if err != nil {
			return false
		}
		return re.MatchString(actual.Str)
	default:
		return false
	}
}

func valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindString:
		return a.Str == b.Str
	case KindNumber:
		return a.Num == b.Num
	case KindBool:
		return a.Bool == b.Bool
	case KindNull:
		return true
	case KindList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if a.List[i] != b.List[i] {
				return false
			}
		}
		return true
	}
	return false
}

func listHas(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// compileCached memoizes compiled regular expressions for the matches
// operator. Patterns come from role definitions, not request input, so the
// set is small and trusted.
var (
	regexCacheMu sync.RWMutex
	regexCache   = make(map[string]*regexp.Regexp)
)

func compileCached(pattern string) (*regexp.Regexp, error) {
	regexCacheMu.RLock()
	re, ok := regexCache[pattern]
	regexCacheMu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("permission_condition_regex_invalid: %w", err)
	}

	regexCacheMu.Lock()
	regexCache[pattern] = re
	regexCacheMu.Unlock()
	return re, nil
}

// # Fingerprints

// Fingerprint returns a stable digest of the condition for memoization keys.
func (c Condition) Fingerprint() string {
	payload, _ := json.Marshal(c)
	digest := sha256.Sum256(payload)
	return hex.EncodeToString(digest[:8])
}

// ContextFingerprint digests the request context deterministically: fields
// sorted, values coerced to their tagged form first.
func ContextFingerprint(ctx map[string]any) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		v := coerce(ctx[k])
		payload, _ := json.Marshal(v)
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write(payload)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}
