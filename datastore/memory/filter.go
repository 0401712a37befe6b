/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package memory

import (
	"bytes"
	"cmp"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/storagemodels"
)

type condition struct {
	field string
	op    storagemodels.Op
	want  bson.RawValue
	set   []bson.RawValue
}

// compile validates filter and encodes its values the way documents are encoded.
func compile(filter storagemodels.Filter) ([]condition, error) {
	if err := filter.Validate(); err != nil {
		return nil, errors.NewValidationError("filter", err.Error())
	}
	out := make([]condition, 0, len(filter))
	for _, c := range filter {
		cond := condition{field: c.Field, op: c.Op}
		if c.Op == storagemodels.OpIn {
			for _, v := range c.Value.([]any) {
				rv, err := encodeValue(v)
				if err != nil {
					return nil, err
				}
				cond.set = append(cond.set, rv)
			}
		} else {
			rv, err := encodeValue(c.Value)
			if err != nil {
				return nil, err
			}
			cond.want = rv
		}
		out = append(out, cond)
	}
	return out, nil
}

func encodeValue(v any) (bson.RawValue, error) {
	raw, err := bson.Marshal(bson.D{{Key: "v", Value: v}})
	if err != nil {
		return bson.RawValue{}, errors.NewValidationError("filter", fmt.Sprintf("unsupported value %T: %v", v, err))
	}
	return bson.Raw(raw).Lookup("v"), nil
}

// idKey is the map key of a document id.
func idKey(id any) (string, error) {
	rv, err := encodeValue(id)
	if err != nil {
		return "", errors.NewValidationError("id", err.Error())
	}
	return rv.String(), nil
}

func rawKey(raw bson.Raw) (string, error) {
	rv, err := raw.LookupErr("_id")
	if err != nil {
		return "", errors.NewValidationError("id", "document has no _id")
	}
	return rv.String(), nil
}

func lookup(raw bson.Raw, path string) (bson.RawValue, bool) {
	rv, err := raw.LookupErr(strings.Split(path, ".")...)
	if err != nil {
		return bson.RawValue{}, false
	}
	return rv, true
}

func number(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bsontype.Int32:
		return float64(v.Int32()), true
	case bsontype.Int64:
		return float64(v.Int64()), true
	case bsontype.Double:
		return v.Double(), true
	}
	return 0, false
}

// compare orders two values of compatible types. ok is false when they are
// neither ordered nor equal.
func compare(a, b bson.RawValue) (c int, ok bool) {
	if af, isNum := number(a); isNum {
		if bf, isNum := number(b); isNum {
			return cmp.Compare(af, bf), true
		}
		return 0, false
	}
	if a.Type != b.Type {
		return 0, false
	}
	switch a.Type {
	case bsontype.String:
		return strings.Compare(a.StringValue(), b.StringValue()), true
	case bsontype.DateTime:
		return cmp.Compare(a.DateTime(), b.DateTime()), true
	case bsontype.Boolean:
		ab, bb := a.Boolean(), b.Boolean()
		switch {
		case ab == bb:
			return 0, true
		case !ab:
			return -1, true
		}
		return 1, true
	case bsontype.ObjectID:
		ao, bo := a.ObjectID(), b.ObjectID()
		return bytes.Compare(ao[:], bo[:]), true
	}
	if a.Equal(b) {
		return 0, true
	}
	return 0, false
}

func equal(a, b bson.RawValue) bool {
	c, ok := compare(a, b)
	return ok && c == 0
}

func matches(raw bson.Raw, conds []condition) bool {
	for _, c := range conds {
		v, present := lookup(raw, c.field)
		var ok bool
		switch c.op {
		case storagemodels.OpEq:
			ok = present && equal(v, c.want) || !present && c.want.Type == bsontype.Null
		case storagemodels.OpNe:
			ok = !(present && equal(v, c.want) || !present && c.want.Type == bsontype.Null)
		case storagemodels.OpIn:
			for _, w := range c.set {
				if present && equal(v, w) {
					ok = true
					break
				}
			}
		default:
			if !present {
				break
			}
			r, comparable := compare(v, c.want)
			if !comparable {
				break
			}
			switch c.op {
			case storagemodels.OpGt:
				ok = r > 0
			case storagemodels.OpGte:
				ok = r >= 0
			case storagemodels.OpLt:
				ok = r < 0
			case storagemodels.OpLte:
				ok = r <= 0
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// order sorts docs by opts.Sort and applies Skip and Limit.
func order(docs []snapshot, opts storagemodels.FindOptions) []snapshot {
	if len(opts.Sort) > 0 {
		sort.SliceStable(docs, func(i, j int) bool {
			for _, s := range opts.Sort {
				r := compareField(docs[i].raw, docs[j].raw, s.Field)
				if s.Descending {
					r = -r
				}
				if r != 0 {
					return r < 0
				}
			}
			return false
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < int64(len(docs)) {
		docs = docs[:opts.Limit]
	}
	return docs
}

// compareField orders missing values first and incomparable values by type.
func compareField(a, b bson.Raw, field string) int {
	av, aok := lookup(a, field)
	bv, bok := lookup(b, field)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	if r, ok := compare(av, bv); ok {
		return r
	}
	return cmp.Compare(av.Type, bv.Type)
}
