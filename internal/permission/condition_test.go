// Copyright (c) 2026 Averden. All rights reserved.
// Author: platform-security@averden.io

package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCondition_Evaluate(t *testing.T) {
	cases := []struct {
		name string
		cond Condition
		ctx  map[string]any
		want bool
	}{
		{
			name: "eq string match",
			cond: Condition{Field: "dept", Operator: OpEq, Value: StringValue("finance")},
			ctx:  map[string]any{"dept": "finance"},
			want: true,
		},
		{
			name: "eq string mismatch",
			cond: Condition{Field: "dept", Operator: OpEq, Value: StringValue("finance")},
			ctx:  map[string]any{"dept": "sales"},
			want: false,
		},
		{
			name: "eq across types is false",
			cond: Condition{Field: "dept", Operator: OpEq, Value: StringValue("7")},
			ctx:  map[string]any{"dept": 7},
			want: false,
		},
		{
			name: "ne with missing field holds",
			cond: Condition{Field: "dept", Operator: OpNe, Value: StringValue("finance")},
			ctx:  map[string]any{},
			want: true,
		},
		{
			name: "missing field fails other operators",
			cond: Condition{Field: "dept", Operator: OpEq, Value: StringValue("finance")},
			ctx:  map[string]any{},
			want: false,
		},
		{
			name: "gt coerces ints",
			cond: Condition{Field: "level", Operator: OpGt, Value: NumberValue(3)},
			ctx:  map[string]any{"level": 5},
			want: true,
		},
		{
			name: "lt",
			cond: Condition{Field: "level", Operator: OpLt, Value: NumberValue(3)},
			ctx:  map[string]any{"level": 5},
			want: false,
		},
		{
			name: "in list",
			cond: Condition{Field: "region", Operator: OpIn, Value: ListValue("eu", "us")},
			ctx:  map[string]any{"region": "eu"},
			want: true,
		},
		{
			name: "nin list",
			cond: Condition{Field: "region", Operator: OpNin, Value: ListValue("eu", "us")},
			ctx:  map[string]any{"region": "apac"},
			want: true,
		},
		{
			name: "contains substring",
			cond: Condition{Field: "path", Operator: OpContains, Value: StringValue("internal")},
			ctx:  map[string]any{"path": "/api/internal/roles"},
			want: true,
		},
		{
			name: "contains list membership",
			cond: Condition{Field: "tags", Operator: OpContains, Value: StringValue("beta")},
			ctx:  map[string]any{"tags": []string{"alpha", "beta"}},
			want: true,
		},
		{
			name: "starts_with",
			cond: Condition{Field: "path", Operator: OpStartsWith, Value: StringValue("/api")},
			ctx:  map[string]any{"path": "/api/roles"},
			want: true,
		},
		{
			name: "ends_with",
			cond: Condition{Field: "email", Operator: OpEndsWith, Value: StringValue("@averden.io")},
			ctx:  map[string]any{"email": "ops@averden.io"},
			want: true,
		},
		{
			name: "matches regex",
			cond: Condition{Field: "host", Operator: OpMatches, Value: StringValue(`^gw-\d+$`)},
			ctx:  map[string]any{"host": "gw-12"},
			want: true,
		},
		{
			name: "invalid regex fails closed",
			cond: Condition{Field: "host", Operator: OpMatches, Value: StringValue(`([`)},
			ctx:  map[string]any{"host": "gw-12"},
			want: false,
		},
		{
			name: "unsupported context shape coerces to null",
			cond: Condition{Field: "blob", Operator: OpEq, Value: StringValue("x")},
			ctx:  map[string]any{"blob": struct{}{}},
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cond.Evaluate(tc.ctx))
		})
	}
}

func TestContextFingerprint_OrderIndependent(t *testing.T) {
	a := ContextFingerprint(map[string]any{"dept": "finance", "level": 5})
	b := ContextFingerprint(map[string]any{"level": 5, "dept": "finance"})
	c := ContextFingerprint(map[string]any{"level": 6, "dept": "finance"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestPermission_Matches(t *testing.T) {
	cases := []struct {
		grant    Permission
		resource string
		action   string
		want     bool
	}{
		{Permission{Resource: "documents", Action: "read"}, "documents", "read", true},
		{Permission{Resource: "documents", Action: "read"}, "documents", "write", false},
		{Permission{Resource: "*", Action: "*"}, "anything", "at-all", true},
		{Permission{Resource: "documents", Action: "*"}, "documents", "delete", true},
		{Permission{Resource: "docs/*", Action: "read"}, "docs/a/b", "read", true},
		{Permission{Resource: "docs/*", Action: "read"}, "doc", "read", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.grant.Matches(tc.resource, tc.action),
			"%s vs %s:%s", tc.grant.String(), tc.resource, tc.action)
	}
}

func TestParseString(t *testing.T) {
	assert.Equal(t, Permission{Resource: "documents", Action: "read"}, ParseString("documents:read"))
	assert.Equal(t, Permission{Resource: "a:b", Action: "c"}, ParseString("a:b:c"))

	// Malformed strings match nothing.
	assert.False(t, ParseString("documents").Matches("documents", "read"))
	assert.False(t, ParseString(":read").Matches("documents", "read"))
}

func TestStrings_DropsConditionalGrants(t *testing.T) {
	perms := []Permission{
		{Resource: "documents", Action: "read"},
		{Resource: "reports", Action: "read", Conditions: []Condition{
			{Field: "dept", Operator: OpEq, Value: StringValue("finance")},
		}},
	}
	assert.Equal(t, []string{"documents:read"}, Strings(perms))
}

func TestMatchStrings(t *testing.T) {
	perms := []string{"documents:read", "admin/*:*"}

	assert.True(t, MatchStrings(perms, "documents", "read"))
	assert.True(t, MatchStrings(perms, "admin/roles", "manage"))
	assert.False(t, MatchStrings(perms, "documents", "write"))
}
