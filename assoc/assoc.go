// Package assoc builds the criterion a ReadOnlyContext augmenter runs
// against a RelatedRouter, from one of the three QueryFilterSpec shapes
// spec.md §4.9 allows: a literal criterion, a QuerySpec function, or a
// non-empty list of parent-field → child-column associations resolved
// against a concrete parent instance at augment time.
package assoc

import (
	"fmt"
	"reflect"

	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/entity"
	"github.com/evalgo-org/shardrelay/errs"
)

// Spec pairs a parent-side struct field name with the child-side column
// its value must equal.
type Spec struct {
	ParentField string
	ChildField  string
}

// Filter is a QueryFilterSpec: exactly one of Criterion, QuerySpec, or a
// non-empty Associations list should be set. Resolve enforces that at call
// time rather than at construction, matching the runtime checks spec.md
// describes for augmenter evaluation.
type Filter struct {
	Criterion    entity.Criterion
	QuerySpec    entity.QuerySpec
	Associations []Spec
}

// Resolve produces the criterion/query-spec pair a RelatedRouter.select
// call should run against parent. Associations are resolved by reading
// each ParentField off parent via reflection (plain struct field access,
// not the annotation-scanning reflection entity.Descriptor replaces) and
// conjoining ChildField = value predicates.
func (f Filter) Resolve(parent interface{}) (entity.Criterion, entity.QuerySpec, error) {
	switch {
	case f.Criterion != nil:
		return f.Criterion, nil, nil
	case f.QuerySpec != nil:
		return nil, f.QuerySpec, nil
	case len(f.Associations) > 0:
		crit, err := f.resolveAssociations(parent)
		if err != nil {
			return nil, nil, err
		}
		return crit, nil, nil
	default:
		return nil, nil, errs.SpecError("QueryFilterSpec has no criterion, query-spec, or associations")
	}
}

func (f Filter) resolveAssociations(parent interface{}) (entity.Criterion, error) {
	eqs := make([]db.GormCriterion, 0, len(f.Associations))
	for _, a := range f.Associations {
		value, ok := parentFieldValue(parent, a.ParentField)
		if !ok {
			return nil, errs.SpecError(fmt.Sprintf("parent field %q required by association is missing", a.ParentField))
		}
		eqs = append(eqs, db.Eq{Column: a.ChildField, Value: value})
	}
	return db.And{Criteria: eqs}, nil
}

func parentFieldValue(parent interface{}, field string) (interface{}, bool) {
	v := reflect.ValueOf(parent)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, false
	}
	fv := v.FieldByName(field)
	if !fv.IsValid() {
		return nil, false
	}
	return fv.Interface(), true
}
