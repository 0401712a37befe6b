/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import "fmt"

// Op is a comparison operator of a filter condition.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
)

// Condition compares one stored element with a value. Field is the stored
// element name; nested elements use dotted paths ("owner.name").
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. The empty filter matches every
// document.
type Filter []Condition

// Where starts a filter with one condition.
func Where(field string, op Op, value any) Filter {
	return Filter{{Field: field, Op: op, Value: value}}
}

// Eq is shorthand for Where(field, OpEq, value).
func Eq(field string, value any) Filter {
	return Where(field, OpEq, value)
}

// And appends a condition.
func (f Filter) And(field string, op Op, value any) Filter {
	out := make(Filter, len(f), len(f)+1)
	copy(out, f)
	return append(out, Condition{Field: field, Op: op, Value: value})
}

// Validate checks every condition has a field and a known operator.
func (f Filter) Validate() error {
	for i, c := range f {
		if c.Field == "" {
			return fmt.Errorf("condition %d: empty field", i)
		}
		switch c.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		case OpIn:
			if _, ok := c.Value.([]any); !ok {
				return fmt.Errorf("condition %d: %s needs a []any value", i, c.Op)
			}
		default:
			return fmt.Errorf("condition %d: unknown operator %q", i, c.Op)
		}
	}
	return nil
}

// SortField orders results by one stored element.
type SortField struct {
	Field      string
	Descending bool
}

// FindOptions bounds and orders a Find.
type FindOptions struct {
	Sort []SortField
	// Skip drops the first Skip matches.
	Skip int64
	// Limit caps the result size; zero means no limit.
	Limit int64
}
