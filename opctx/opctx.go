// Package opctx models one unit of work against one shard as an immutable,
// tagged value (an "operation context") instead of a class hierarchy of
// operation types. Each variant below corresponds to one row of the
// variant table in SPEC_FULL.md §4.3 ("OperationContext tagged variants"):
// Count, Get, GetByKey, Select, Save, and so on through ReadOnly. A Visitor
// interface gives package txn (and anything wanting to observe operations
// without a type switch) uniform double dispatch over the set, the way the
// teacher's db package favors an explicit interface over reflection-driven
// dispatch elsewhere in this module (see entity.Descriptor).
//
// Op values carry inputs and callbacks only; none of them touch a
// persistence engine directly. package txn's executing Visitor binds each
// variant to a concrete db.Tx when TransactionRunner.Execute runs it.
package opctx

import "github.com/evalgo-org/shardrelay/entity"

// Kind names an Op's variant for logging and observer records, playing the
// role spec.md's "operationVariant" field of the observer record plays.
type Kind string

const (
	KindCount                         Kind = "Count"
	KindGet                           Kind = "Get"
	KindGetByKey                      Kind = "GetByKey"
	KindSelect                        Kind = "Select"
	KindSave                          Kind = "Save"
	KindSaveAll                       Kind = "SaveAll"
	KindUpdate                        Kind = "Update"
	KindGetAndUpdate                  Kind = "GetAndUpdate"
	KindSelectAndUpdate               Kind = "SelectAndUpdate"
	KindUpdateWithScroll              Kind = "UpdateWithScroll"
	KindUpdateAll                     Kind = "UpdateAll"
	KindUpdateByNamedQuery            Kind = "UpdateByNamedQuery"
	KindCreateOrUpdate                Kind = "CreateOrUpdate"
	KindCreateOrUpdateInLockedContext Kind = "CreateOrUpdateInLockedContext"
	KindDeleteByKey                   Kind = "DeleteByKey"
	KindRunInSession                  Kind = "RunInSession"
	KindRunWithCriteria                Kind = "RunWithCriteria"
	KindLockAndExecute                Kind = "LockAndExecute"
	KindReadOnly                      Kind = "ReadOnly"
)

// Mutator inspects the fetched row and returns its replacement, or nil to
// signal "do not update" (spec.md §3 invariant: "returning nil is a
// well-defined signal").
type Mutator func(current interface{}) interface{}

// Generator produces a brand-new entity when CreateOrUpdate finds nothing
// to update. It must never return nil (spec.md §3 invariant).
type Generator func() interface{}

// PostTransform adapts a raw fetched/persisted value to the shape the
// caller expects; nil means "return as-is".
type PostTransform func(interface{}) (interface{}, error)

// Op is any OperationContext variant. Model is the zero-value pointer to
// the managed entity type every variant needs to tell a GORM-backed Tx
// what table/struct it's operating on.
type Op interface {
	Kind() Kind
	Model() interface{}
	Accept(v Visitor) (interface{}, error)
}

// Visitor double-dispatches over every Op variant. package txn's executing
// visitor is the only production implementation; tests may supply fakes to
// assert which variant a router method constructs without running it.
type Visitor interface {
	VisitCount(*Count) (interface{}, error)
	VisitGet(*Get) (interface{}, error)
	VisitGetByKey(*GetByKey) (interface{}, error)
	VisitSelect(*Select) (interface{}, error)
	VisitSave(*Save) (interface{}, error)
	VisitSaveAll(*SaveAll) (interface{}, error)
	VisitUpdate(*Update) (interface{}, error)
	VisitGetAndUpdate(*GetAndUpdate) (interface{}, error)
	VisitSelectAndUpdate(*SelectAndUpdate) (interface{}, error)
	VisitUpdateWithScroll(*UpdateWithScroll) (interface{}, error)
	VisitUpdateAll(*UpdateAll) (interface{}, error)
	VisitUpdateByNamedQuery(*UpdateByNamedQuery) (interface{}, error)
	VisitCreateOrUpdate(*CreateOrUpdate) (interface{}, error)
	VisitCreateOrUpdateInLockedContext(*CreateOrUpdateInLockedContext) (interface{}, error)
	VisitDeleteByKey(*DeleteByKey) (interface{}, error)
	VisitRunInSession(*RunInSession) (interface{}, error)
	VisitRunWithCriteria(*RunWithCriteria) (interface{}, error)
	VisitLockAndExecute(*LockAndExecute) (interface{}, error)
	VisitReadOnly(*ReadOnly) (interface{}, error)
}

// Count yields the number of rows matching Criterion (or QuerySpec).
type Count struct {
	ModelValue interface{}
	Criterion  entity.Criterion
	QuerySpec  entity.QuerySpec
}

func (o *Count) Kind() Kind { return KindCount }
func (o *Count) Model() interface{} { return o.ModelValue }
func (o *Count) Accept(v Visitor) (interface{}, error) { return v.VisitCount(o) }

// Get fetches at most one row matching Criterion under Lock, then applies
// Transform if set.
type Get struct {
	ModelValue interface{}
	Criterion  entity.Criterion
	Lock       entity.LockMode
	Transform  PostTransform
}

func (o *Get) Kind() Kind { return KindGet }
func (o *Get) Model() interface{} { return o.ModelValue }
func (o *Get) Accept(v Visitor) (interface{}, error) { return v.VisitGet(o) }

// GetByKey fetches at most one row by a single field equal to Key.
type GetByKey struct {
	ModelValue interface{}
	Field      string
	Key        string
	Lock       entity.LockMode
	Transform  PostTransform
}

func (o *GetByKey) Kind() Kind { return KindGetByKey }
func (o *GetByKey) Model() interface{} { return o.ModelValue }
func (o *GetByKey) Accept(v Visitor) (interface{}, error) { return v.VisitGetByKey(o) }

// Select lists rows per Params, then applies Transform if set.
type Select struct {
	ModelValue interface{}
	Params     entity.SelectParams
	Transform  PostTransform
}

func (o *Select) Kind() Kind { return KindSelect }
func (o *Select) Model() interface{} { return o.ModelValue }
func (o *Select) Accept(v Visitor) (interface{}, error) { return v.VisitSelect(o) }

// Save persists Entity, then applies Transform (typically a handler that
// runs before commit, per Router.save(entity, handler)) if set.
type Save struct {
	Entity    interface{}
	Transform PostTransform
}

func (o *Save) Kind() Kind { return KindSave }
func (o *Save) Model() interface{} { return o.Entity }
func (o *Save) Accept(v Visitor) (interface{}, error) { return v.VisitSave(o) }

// SaveAll persists every entity in Entities, reporting boolean success.
type SaveAll struct {
	ModelValue interface{}
	Entities   []interface{}
}

func (o *SaveAll) Kind() Kind { return KindSaveAll }
func (o *SaveAll) Model() interface{} { return o.ModelValue }
func (o *SaveAll) Accept(v Visitor) (interface{}, error) { return v.VisitSaveAll(o) }

// Update fetches the row matching Criterion under Lock, hands it to
// Mutator, and persists the result unless Mutator returns nil.
type Update struct {
	ModelValue interface{}
	Criterion  entity.Criterion
	Lock       entity.LockMode
	Mutator    Mutator
}

func (o *Update) Kind() Kind { return KindUpdate }
func (o *Update) Model() interface{} { return o.ModelValue }
func (o *Update) Accept(v Visitor) (interface{}, error) { return v.VisitUpdate(o) }

// GetAndUpdate is Update keyed by a field/value pair rather than a
// criterion (Router.updateInLock/update's actual shape).
type GetAndUpdate struct {
	ModelValue interface{}
	Field      string
	Key        string
	Lock       entity.LockMode
	Mutator    Mutator
}

func (o *GetAndUpdate) Kind() Kind { return KindGetAndUpdate }
func (o *GetAndUpdate) Model() interface{} { return o.ModelValue }
func (o *GetAndUpdate) Accept(v Visitor) (interface{}, error) { return v.VisitGetAndUpdate(o) }

// SelectAndUpdate applies Mutator to every row in Params's result set,
// aborting without persisting any row if Mutator returns nil for one of
// them (RelatedRouter.updateAll's "abort and return false" semantics).
type SelectAndUpdate struct {
	ModelValue interface{}
	Params     entity.SelectParams
	Mutator    Mutator
}

func (o *SelectAndUpdate) Kind() Kind { return KindSelectAndUpdate }
func (o *SelectAndUpdate) Model() interface{} { return o.ModelValue }
func (o *SelectAndUpdate) Accept(v Visitor) (interface{}, error) { return v.VisitSelectAndUpdate(o) }

// UpdateWithScroll iterates a scrollable cursor opened per Params, applying
// Mutator to each row and persisting unless Mutator returns nil (which
// aborts the whole operation); Continue is evaluated after each persisted
// row and iteration stops (without aborting) once it returns false.
type UpdateWithScroll struct {
	ModelValue interface{}
	Params     entity.ScrollParams
	Mutator    Mutator
	Continue   func() bool
}

func (o *UpdateWithScroll) Kind() Kind { return KindUpdateWithScroll }
func (o *UpdateWithScroll) Model() interface{} { return o.ModelValue }
func (o *UpdateWithScroll) Accept(v Visitor) (interface{}, error) { return v.VisitUpdateWithScroll(o) }

// UpdateAll is SelectAndUpdate under another name, kept distinct because
// RelatedRouter.updateAll's caller-facing signature (parentKey, start, num,
// criterion, mutator) differs from Router-level SelectAndUpdate enough to
// warrant its own tag for observer records.
type UpdateAll struct {
	ModelValue interface{}
	Params     entity.SelectParams
	Mutator    Mutator
}

func (o *UpdateAll) Kind() Kind { return KindUpdateAll }
func (o *UpdateAll) Model() interface{} { return o.ModelValue }
func (o *UpdateAll) Accept(v Visitor) (interface{}, error) { return v.VisitUpdateAll(o) }

// UpdateByNamedQuery executes a pre-declared statement and returns the
// affected-row count.
type UpdateByNamedQuery struct {
	ModelValue interface{}
	Query      entity.NamedQuery
}

func (o *UpdateByNamedQuery) Kind() Kind { return KindUpdateByNamedQuery }
func (o *UpdateByNamedQuery) Model() interface{} { return o.ModelValue }
func (o *UpdateByNamedQuery) Accept(v Visitor) (interface{}, error) {
	return v.VisitUpdateByNamedQuery(o)
}

// CreateOrUpdate fetches under WRITE_NOWAIT by Criterion; if absent, calls
// Generator and persists; if present, calls Mutator and persists the
// result when non-nil. Returns the row re-fetched after the write, per the
// Open Question resolution in DESIGN.md (refetch, not the in-memory
// mutator/generator result).
type CreateOrUpdate struct {
	ModelValue interface{}
	Criterion  entity.Criterion
	Mutator    Mutator
	Generator  Generator
}

func (o *CreateOrUpdate) Kind() Kind { return KindCreateOrUpdate }
func (o *CreateOrUpdate) Model() interface{} { return o.ModelValue }
func (o *CreateOrUpdate) Accept(v Visitor) (interface{}, error) { return v.VisitCreateOrUpdate(o) }

// CreateOrUpdateInLockedContext is CreateOrUpdate's LockedContext-facing
// form: the generator is handed the already-produced parent entity instead
// of building one from nothing.
type CreateOrUpdateInLockedContext struct {
	ModelValue       interface{}
	Criterion        entity.Criterion
	GeneratorFromParent func(parent interface{}) interface{}
	Parent           interface{}
	Mutator          Mutator
}

func (o *CreateOrUpdateInLockedContext) Kind() Kind { return KindCreateOrUpdateInLockedContext }
func (o *CreateOrUpdateInLockedContext) Model() interface{} { return o.ModelValue }
func (o *CreateOrUpdateInLockedContext) Accept(v Visitor) (interface{}, error) {
	return v.VisitCreateOrUpdateInLockedContext(o)
}

// DeleteByKey fetches under WRITE_NOWAIT by Field=Key and deletes it if
// present, reporting boolean success.
type DeleteByKey struct {
	ModelValue interface{}
	Field      string
	Key        string
}

func (o *DeleteByKey) Kind() Kind { return KindDeleteByKey }
func (o *DeleteByKey) Model() interface{} { return o.ModelValue }
func (o *DeleteByKey) Accept(v Visitor) (interface{}, error) { return v.VisitDeleteByKey(o) }

// RunInSession hands the caller's Handler the raw db.Tx (boxed as
// interface{} to keep this package free of a db import) and returns
// whatever it returns.
type RunInSession struct {
	ModelValue interface{}
	Handler    func(tx interface{}) (interface{}, error)
}

func (o *RunInSession) Kind() Kind { return KindRunInSession }
func (o *RunInSession) Model() interface{} { return o.ModelValue }
func (o *RunInSession) Accept(v Visitor) (interface{}, error) { return v.VisitRunInSession(o) }

// RunWithCriteria is RunInSession plus a Criterion handed to the handler
// alongside the session, for callers that want to run ad hoc logic against
// a criterion-scoped result set without a dedicated Op variant.
type RunWithCriteria struct {
	ModelValue interface{}
	Criterion  entity.Criterion
	Handler    func(tx interface{}, crit entity.Criterion) (interface{}, error)
}

func (o *RunWithCriteria) Kind() Kind { return KindRunWithCriteria }
func (o *RunWithCriteria) Model() interface{} { return o.ModelValue }
func (o *RunWithCriteria) Accept(v Visitor) (interface{}, error) { return v.VisitRunWithCriteria(o) }

// LockAndExecute produces the parent entity (via Getter, or via Saver
// applied to Entity) and then runs Handlers against it in order, as
// package lockedctx's execution step does. It is the Op txn.Execute
// actually runs for a LockedContext; lockedctx builds one from its queued
// closures at Execute time.
type LockAndExecute struct {
	ModelValue interface{}
	Getter     func() (interface{}, error)
	Saver      func(entity interface{}) (interface{}, error)
	Entity     interface{}
	Handlers   []func(parent interface{}) error
}

func (o *LockAndExecute) Kind() Kind { return KindLockAndExecute }
func (o *LockAndExecute) Model() interface{} { return o.ModelValue }
func (o *LockAndExecute) Accept(v Visitor) (interface{}, error) { return v.VisitLockAndExecute(o) }

// ReadOnly produces the parent (via Getter) and then runs Handlers against
// it in order, mirroring package readonlyctx's augmenter pipeline.
type ReadOnly struct {
	ModelValue interface{}
	Getter     func() (interface{}, error)
	Populator  func() (bool, error)
	Handlers   []func(parent interface{}) error
}

func (o *ReadOnly) Kind() Kind { return KindReadOnly }
func (o *ReadOnly) Model() interface{} { return o.ModelValue }
func (o *ReadOnly) Accept(v Visitor) (interface{}, error) { return v.VisitReadOnly(o) }
