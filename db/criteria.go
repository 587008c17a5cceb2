package db

import (
	"github.com/evalgo-org/shardrelay/entity"
	"gorm.io/gorm"
)

// Eq is the common case of a criterion: a single column equal to a value.
// It implements both entity.Criterion and db.GormCriterion.
type Eq struct {
	Column string
	Value  interface{}
}

func (e Eq) Clone() entity.Criterion { return Eq{Column: e.Column, Value: e.Value} }

func (e Eq) Apply(tx *gorm.DB) *gorm.DB {
	return tx.Where(e.Column+" = ?", e.Value)
}

// In matches rows whose Column is one of Values.
type In struct {
	Column string
	Values []interface{}
}

func (in In) Clone() entity.Criterion {
	values := make([]interface{}, len(in.Values))
	copy(values, in.Values)
	return In{Column: in.Column, Values: values}
}

func (in In) Apply(tx *gorm.DB) *gorm.DB {
	return tx.Where(in.Column+" IN ?", in.Values)
}

// And composes criteria with conjunction. Used by QueryFilterSpec to wrap
// the equality predicates an AssociationSpec list resolves to, even when
// there is only one.
type And struct {
	Criteria []GormCriterion
}

func (a And) Clone() entity.Criterion {
	cloned := make([]GormCriterion, len(a.Criteria))
	for i, c := range a.Criteria {
		cloned[i] = c.Clone().(GormCriterion)
	}
	return And{Criteria: cloned}
}

func (a And) Apply(tx *gorm.DB) *gorm.DB {
	for _, c := range a.Criteria {
		tx = c.Apply(tx)
	}
	return tx
}

// OrderBy wraps another criterion and additionally orders the result set.
// ScrollEngine uses this to attach a deterministic sort column (plus the
// shard-index tiebreak it adds itself) to a caller-supplied criterion
// without mutating the caller's original value.
type OrderBy struct {
	Inner GormCriterion
	Order string
}

func (o OrderBy) Clone() entity.Criterion {
	var inner GormCriterion
	if o.Inner != nil {
		inner = o.Inner.Clone().(GormCriterion)
	}
	return OrderBy{Inner: inner, Order: o.Order}
}

func (o OrderBy) Apply(tx *gorm.DB) *gorm.DB {
	if o.Inner != nil {
		tx = o.Inner.Apply(tx)
	}
	return tx.Order(o.Order)
}
