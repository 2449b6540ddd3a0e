package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FilterOp is a comparison operator in a filter leaf.
type FilterOp string

const (
	OpEq   FilterOp = "eq"
	OpNe   FilterOp = "ne"
	OpGt   FilterOp = "gt"
	OpGte  FilterOp = "gte"
	OpLt   FilterOp = "lt"
	OpLte  FilterOp = "lte"
	OpIn   FilterOp = "in"
	OpNin  FilterOp = "nin"
	OpLike FilterOp = "like"
)

// columnFields are the fields resolved against table columns. Everything
// else is a metadata path into the JSON blob. The planner relies on this
// boundary: metadata paths disqualify the native hybrid fast path.
var columnFields = map[string]bool{
	"id":          true,
	"user_id":     true,
	"agent_id":    true,
	"run_id":      true,
	"actor_id":    true,
	"scope":       true,
	"category":    true,
	"memory_type": true,
	"hash":        true,
	"created_at":  true,
	"updated_at":  true,
}

// IsColumnField reports whether the field maps to a table column. A
// "metadata." prefix always resolves into the JSON blob, even for names
// that shadow a column.
func IsColumnField(field string) bool {
	if strings.HasPrefix(field, "metadata.") {
		return false
	}
	return columnFields[field]
}

// Filter is a boolean tree over column fields and metadata paths.
// Exactly one of And, Or, or the leaf triple (Field, Op, Value) is set.
type Filter struct {
	And []*Filter
	Or  []*Filter

	Field string
	Op    FilterOp
	Value interface{}
}

// IsLeaf reports whether f is a single comparison.
func (f *Filter) IsLeaf() bool {
	return f != nil && len(f.And) == 0 && len(f.Or) == 0
}

// ParseFilter builds a Filter from the wire representation:
//
//	{"category": "food"}                      equality leaf
//	{"created_at": {"gte": "2026-01-01"}}     operator leaf
//	{"AND": [ ... ]} / {"OR": [ ... ]}        boolean nodes
//
// Multiple keys in one map are an implicit AND.
func ParseFilter(raw map[string]interface{}) (*Filter, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var parts []*Filter
	// Deterministic order keeps generated SQL stable across calls.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := raw[key]
		switch key {
		case "AND", "OR":
			list, ok := value.([]interface{})
			if !ok {
				return nil, fmt.Errorf("filter: %s expects a list", key)
			}
			children := make([]*Filter, 0, len(list))
			for _, item := range list {
				m, ok := item.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("filter: %s elements must be objects", key)
				}
				child, err := ParseFilter(m)
				if err != nil {
					return nil, err
				}
				if child != nil {
					children = append(children, child)
				}
			}
			if key == "AND" {
				parts = append(parts, &Filter{And: children})
			} else {
				parts = append(parts, &Filter{Or: children})
			}
		default:
			leaf, err := parseLeaf(key, value)
			if err != nil {
				return nil, err
			}
			parts = append(parts, leaf)
		}
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return &Filter{And: parts}, nil
}

func parseLeaf(field string, value interface{}) (*Filter, error) {
	if m, ok := value.(map[string]interface{}); ok {
		if len(m) != 1 {
			return nil, fmt.Errorf("filter: field %q expects exactly one operator", field)
		}
		for op, v := range m {
			switch FilterOp(op) {
			case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpLike:
				return &Filter{Field: field, Op: FilterOp(op), Value: v}, nil
			case OpIn, OpNin:
				if _, ok := v.([]interface{}); !ok {
					return nil, fmt.Errorf("filter: %s on %q expects a list", op, field)
				}
				return &Filter{Field: field, Op: FilterOp(op), Value: v}, nil
			default:
				return nil, fmt.Errorf("filter: unknown operator %q on field %q", op, field)
			}
		}
	}
	return &Filter{Field: field, Op: OpEq, Value: value}, nil
}

// ColumnOnly reports whether every leaf in the tree targets a table
// column. A false result forces the fallback hybrid path.
func (f *Filter) ColumnOnly() bool {
	if f == nil {
		return true
	}
	if f.IsLeaf() {
		return IsColumnField(f.Field)
	}
	for _, c := range f.And {
		if !c.ColumnOnly() {
			return false
		}
	}
	for _, c := range f.Or {
		if !c.ColumnOnly() {
			return false
		}
	}
	return true
}

// Partition splits the tree into a column-only part (pushed down to SQL)
// and a metadata part (applied in-process after the per-signal union).
// Only top-level AND structures split cleanly; a tree that mixes the two
// kinds under an OR is kept whole on the metadata side.
func (f *Filter) Partition() (columns *Filter, metadata *Filter) {
	if f == nil {
		return nil, nil
	}
	if f.ColumnOnly() {
		return f, nil
	}
	if f.IsLeaf() || len(f.Or) > 0 {
		return nil, f
	}

	var cols, meta []*Filter
	for _, c := range f.And {
		pc, pm := c.Partition()
		if pc != nil {
			cols = append(cols, pc)
		}
		if pm != nil {
			meta = append(meta, pm)
		}
	}
	columns = combineAnd(cols)
	metadata = combineAnd(meta)
	return columns, metadata
}

func combineAnd(parts []*Filter) *Filter {
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	default:
		return &Filter{And: parts}
	}
}

// Match evaluates the filter against a memory in process. Metadata paths
// resolve through the JSON map; unknown fields never match.
func (f *Filter) Match(m *Memory) bool {
	if f == nil {
		return true
	}
	if len(f.And) > 0 {
		for _, c := range f.And {
			if !c.Match(m) {
				return false
			}
		}
		return true
	}
	if len(f.Or) > 0 {
		for _, c := range f.Or {
			if c.Match(m) {
				return true
			}
		}
		return false
	}
	actual, ok := fieldValue(m, f.Field)
	if !ok {
		return false
	}
	return compare(actual, f.Op, f.Value)
}

func fieldValue(m *Memory, field string) (interface{}, bool) {
	switch field {
	case "id":
		return m.ID, true
	case "user_id":
		return m.UserID, true
	case "agent_id":
		return m.AgentID, true
	case "run_id":
		return m.RunID, true
	case "actor_id":
		return m.ActorID, true
	case "scope":
		return string(m.Scope), true
	case "category":
		return m.Category, true
	case "memory_type":
		return m.MemoryType, true
	case "hash":
		return m.Hash, true
	case "created_at":
		return m.CreatedAt, true
	case "updated_at":
		return m.UpdatedAt, true
	}
	path := strings.TrimPrefix(field, "metadata.")
	if m.Metadata == nil {
		return nil, false
	}
	v, ok := m.Metadata[path]
	return v, ok
}

func compare(actual interface{}, op FilterOp, expected interface{}) bool {
	switch op {
	case OpEq:
		return looseEqual(actual, expected)
	case OpNe:
		return !looseEqual(actual, expected)
	case OpIn:
		list, _ := expected.([]interface{})
		for _, v := range list {
			if looseEqual(actual, v) {
				return true
			}
		}
		return false
	case OpNin:
		list, _ := expected.([]interface{})
		for _, v := range list {
			if looseEqual(actual, v) {
				return false
			}
		}
		return true
	case OpLike:
		s, ok1 := actual.(string)
		pat, ok2 := expected.(string)
		if !ok1 || !ok2 {
			return false
		}
		return matchLike(s, pat)
	case OpGt, OpGte, OpLt, OpLte:
		return compareOrdered(actual, op, expected)
	}
	return false
}

func looseEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if at, aok := toTime(a); aok {
		if bt, bok := toTime(b); bok {
			return at.Equal(bt)
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareOrdered(actual interface{}, op FilterOp, expected interface{}) bool {
	if at, aok := toTime(actual); aok {
		if bt, bok := toTime(expected); bok {
			switch op {
			case OpGt:
				return at.After(bt)
			case OpGte:
				return !at.Before(bt)
			case OpLt:
				return at.Before(bt)
			case OpLte:
				return !at.After(bt)
			}
		}
	}
	af, aok := toFloat(actual)
	bf, bok := toFloat(expected)
	if !aok || !bok {
		return false
	}
	switch op {
	case OpGt:
		return af > bf
	case OpGte:
		return af >= bf
	case OpLt:
		return af < bf
	case OpLte:
		return af <= bf
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// matchLike implements SQL LIKE with % wildcards, case-sensitive.
func matchLike(s, pattern string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

// Dialect describes how a backend renders filters to SQL.
type Dialect struct {
	// Placeholder returns the bind marker for the i-th argument (1-based).
	Placeholder func(i int) string

	// MetadataExpr returns the SQL expression extracting a metadata path
	// as text, e.g. json_extract(metadata, '$.key').
	MetadataExpr func(path string) string
}

// DialectMySQL covers OceanBase and MySQL-wire engines.
var DialectMySQL = Dialect{
	Placeholder: func(int) string { return "?" },
	MetadataExpr: func(path string) string {
		return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(metadata, '$.%s'))", path)
	},
}

// DialectPostgres uses numbered placeholders and ->> extraction.
var DialectPostgres = Dialect{
	Placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
	MetadataExpr: func(path string) string {
		return fmt.Sprintf("metadata->>'%s'", path)
	},
}

// DialectSQLite uses json_extract over the metadata TEXT column.
var DialectSQLite = Dialect{
	Placeholder: func(int) string { return "?" },
	MetadataExpr: func(path string) string {
		return fmt.Sprintf("json_extract(metadata, '$.%s')", path)
	},
}

// SQLBuilder renders filter trees and identity clauses for one dialect,
// tracking placeholder numbering across fragments.
type SQLBuilder struct {
	dialect Dialect
	args    []interface{}
}

// NewSQLBuilder creates a builder for the given dialect.
func NewSQLBuilder(d Dialect) *SQLBuilder {
	return &SQLBuilder{dialect: d}
}

// Args returns the accumulated bind arguments in placeholder order.
func (b *SQLBuilder) Args() []interface{} { return b.args }

func (b *SQLBuilder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

// Bind registers an extra argument outside the filter tree (limit, query
// vectors) and returns its placeholder.
func (b *SQLBuilder) Bind(v interface{}) string { return b.bind(v) }

// Filter renders the tree as one SQL boolean expression. An empty string
// means no restriction.
func (b *SQLBuilder) Filter(f *Filter) (string, error) {
	if f == nil {
		return "", nil
	}
	if len(f.And) > 0 {
		return b.renderList(f.And, " AND ")
	}
	if len(f.Or) > 0 {
		return b.renderList(f.Or, " OR ")
	}
	return b.renderLeaf(f)
}

func (b *SQLBuilder) renderList(children []*Filter, sep string) (string, error) {
	parts := make([]string, 0, len(children))
	for _, c := range children {
		s, err := b.Filter(c)
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (b *SQLBuilder) renderLeaf(f *Filter) (string, error) {
	expr := f.Field
	if !IsColumnField(f.Field) {
		expr = b.dialect.MetadataExpr(strings.TrimPrefix(f.Field, "metadata."))
	}

	switch f.Op {
	case OpEq:
		return fmt.Sprintf("%s = %s", expr, b.bind(f.Value)), nil
	case OpNe:
		return fmt.Sprintf("%s <> %s", expr, b.bind(f.Value)), nil
	case OpGt:
		return fmt.Sprintf("%s > %s", expr, b.bind(f.Value)), nil
	case OpGte:
		return fmt.Sprintf("%s >= %s", expr, b.bind(f.Value)), nil
	case OpLt:
		return fmt.Sprintf("%s < %s", expr, b.bind(f.Value)), nil
	case OpLte:
		return fmt.Sprintf("%s <= %s", expr, b.bind(f.Value)), nil
	case OpLike:
		return fmt.Sprintf("%s LIKE %s", expr, b.bind(f.Value)), nil
	case OpIn, OpNin:
		list, ok := f.Value.([]interface{})
		if !ok || len(list) == 0 {
			return "", fmt.Errorf("filter: %s on %q requires a non-empty list", f.Op, f.Field)
		}
		holes := make([]string, len(list))
		for i, v := range list {
			holes[i] = b.bind(v)
		}
		neg := ""
		if f.Op == OpNin {
			neg = "NOT "
		}
		return fmt.Sprintf("%s %sIN (%s)", expr, neg, strings.Join(holes, ", ")), nil
	}
	return "", fmt.Errorf("filter: unknown operator %q", f.Op)
}

// IdentityClause renders the scope-aware ownership restriction. A filtered
// owner field admits rows that match it exactly or whose scope grants
// cross-owner visibility: public always, agent_group across users,
// user_group across agents.
func (b *SQLBuilder) IdentityClause(id *Identity) string {
	if id.IsZero() {
		return ""
	}
	var parts []string
	if id.UserID != "" {
		parts = append(parts, fmt.Sprintf(
			"(user_id = %s OR scope IN ('%s', '%s'))",
			b.bind(id.UserID), ScopePublic, ScopeAgentGroup))
	}
	if id.AgentID != "" {
		parts = append(parts, fmt.Sprintf(
			"(agent_id = %s OR scope IN ('%s', '%s'))",
			b.bind(id.AgentID), ScopePublic, ScopeUserGroup))
	}
	if id.RunID != "" {
		parts = append(parts, fmt.Sprintf("run_id = %s", b.bind(id.RunID)))
	}
	if id.ActorID != "" {
		parts = append(parts, fmt.Sprintf("actor_id = %s", b.bind(id.ActorID)))
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// OwnerClause renders strict ownership (no scope escape). Used by writes,
// where shared visibility must not grant mutation rights.
func (b *SQLBuilder) OwnerClause(id *Identity) string {
	if id.IsZero() {
		return ""
	}
	var parts []string
	if id.UserID != "" {
		parts = append(parts, fmt.Sprintf("user_id = %s", b.bind(id.UserID)))
	}
	if id.AgentID != "" {
		parts = append(parts, fmt.Sprintf("agent_id = %s", b.bind(id.AgentID)))
	}
	if id.RunID != "" {
		parts = append(parts, fmt.Sprintf("run_id = %s", b.bind(id.RunID)))
	}
	if id.ActorID != "" {
		parts = append(parts, fmt.Sprintf("actor_id = %s", b.bind(id.ActorID)))
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// VisibleTo reports whether a memory is readable by the identity,
// mirroring IdentityClause for in-process checks.
func VisibleTo(m *Memory, id *Identity) bool {
	if id.IsZero() {
		return true
	}
	if m.Scope == ScopePublic {
		return true
	}
	if id.UserID != "" && m.UserID != id.UserID && m.Scope != ScopeAgentGroup {
		return false
	}
	if id.AgentID != "" && m.AgentID != id.AgentID && m.Scope != ScopeUserGroup {
		return false
	}
	if id.RunID != "" && m.RunID != id.RunID {
		return false
	}
	if id.ActorID != "" && m.ActorID != id.ActorID {
		return false
	}
	return true
}
