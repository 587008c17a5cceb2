package txn

import (
	"context"
	"reflect"

	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/entity"
	"github.com/evalgo-org/shardrelay/errs"
	"github.com/evalgo-org/shardrelay/opctx"
)

// execVisitor is the one production opctx.Visitor: it binds each Op
// variant to the db.Tx primitives enumerated in SPEC_FULL.md §4.2. reflect
// is used only to allocate a fresh zero-value instance of an entity's
// concrete type from its Model() pointer — plumbing, not the
// annotation-scanning reflection the entity.Descriptor design explicitly
// replaces.
type execVisitor struct {
	ctx context.Context
	tx  db.Tx
}

func newExecVisitor(ctx context.Context, tx db.Tx) *execVisitor {
	return &execVisitor{ctx: ctx, tx: tx}
}

func newInstance(model interface{}) interface{} {
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return reflect.New(t).Interface()
}

func newSlice(model interface{}) interface{} {
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	slicePtr := reflect.New(reflect.SliceOf(t))
	return slicePtr.Interface()
}

func (v *execVisitor) VisitCount(op *opctx.Count) (interface{}, error) {
	return v.tx.Count(v.ctx, op.ModelValue, op.Criterion, op.QuerySpec)
}

func (v *execVisitor) VisitGet(op *opctx.Get) (interface{}, error) {
	out := newInstance(op.ModelValue)
	found, err := v.tx.FetchOne(v.ctx, out, op.Criterion, op.Lock)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return applyTransform(out, op.Transform)
}

func (v *execVisitor) VisitGetByKey(op *opctx.GetByKey) (interface{}, error) {
	out := newInstance(op.ModelValue)
	found, err := v.tx.FetchOneByField(v.ctx, out, op.Field, op.Key, op.Lock)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return applyTransform(out, op.Transform)
}

func (v *execVisitor) VisitSelect(op *opctx.Select) (interface{}, error) {
	out := newSlice(op.ModelValue)
	if err := v.tx.List(v.ctx, op.ModelValue, out, op.Params); err != nil {
		return nil, err
	}
	return applyTransform(out, op.Transform)
}

func (v *execVisitor) VisitSave(op *opctx.Save) (interface{}, error) {
	if err := v.tx.Persist(v.ctx, op.Entity); err != nil {
		return nil, err
	}
	return applyTransform(op.Entity, op.Transform)
}

func (v *execVisitor) VisitSaveAll(op *opctx.SaveAll) (interface{}, error) {
	for _, e := range op.Entities {
		if err := v.tx.Persist(v.ctx, e); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (v *execVisitor) VisitUpdate(op *opctx.Update) (interface{}, error) {
	out := newInstance(op.ModelValue)
	found, err := v.tx.FetchOne(v.ctx, out, op.Criterion, op.Lock)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return v.mutateAndPersist(out, op.Mutator)
}

func (v *execVisitor) VisitGetAndUpdate(op *opctx.GetAndUpdate) (interface{}, error) {
	out := newInstance(op.ModelValue)
	found, err := v.tx.FetchOneByField(v.ctx, out, op.Field, op.Key, op.Lock)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return v.mutateAndPersist(out, op.Mutator)
}

// mutateAndPersist applies mutator to old; a nil result means "do not
// update" and the operation still succeeds (spec.md §3 invariant).
func (v *execVisitor) mutateAndPersist(old interface{}, mutator opctx.Mutator) (interface{}, error) {
	updated := mutator(old)
	if updated == nil {
		return true, nil
	}
	if err := v.tx.Update(v.ctx, old, updated); err != nil {
		return false, err
	}
	return true, nil
}

func (v *execVisitor) VisitSelectAndUpdate(op *opctx.SelectAndUpdate) (interface{}, error) {
	rows := newSlice(op.ModelValue)
	if err := v.tx.List(v.ctx, op.ModelValue, rows, op.Params); err != nil {
		return false, err
	}
	return v.mutateEachOrAbort(rows, op.Mutator)
}

func (v *execVisitor) VisitUpdateAll(op *opctx.UpdateAll) (interface{}, error) {
	rows := newSlice(op.ModelValue)
	if err := v.tx.List(v.ctx, op.ModelValue, rows, op.Params); err != nil {
		return false, err
	}
	return v.mutateEachOrAbort(rows, op.Mutator)
}

// mutateEachOrAbort applies mutator to every row in the slice pointed to
// by rows (a *[]T). If any row's mutator returns nil, no row is persisted
// and the whole operation reports false (RelatedRouter.updateAll's
// "abort and return false" contract).
func (v *execVisitor) mutateEachOrAbort(rows interface{}, mutator opctx.Mutator) (interface{}, error) {
	slice := reflect.ValueOf(rows).Elem()
	n := slice.Len()
	updates := make([]interface{}, n)
	for i := 0; i < n; i++ {
		row := slice.Index(i).Addr().Interface()
		updated := mutator(row)
		if updated == nil {
			return false, nil
		}
		updates[i] = updated
	}
	for i := 0; i < n; i++ {
		row := slice.Index(i).Addr().Interface()
		if err := v.tx.Update(v.ctx, row, updates[i]); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (v *execVisitor) VisitUpdateWithScroll(op *opctx.UpdateWithScroll) (interface{}, error) {
	cur, err := v.tx.Scroll(v.ctx, op.ModelValue, op.Params)
	if err != nil {
		return false, err
	}
	defer cur.Close()

	for {
		ok, err := cur.Next(v.ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
		row := newInstance(op.ModelValue)
		if err := cur.Scan(row); err != nil {
			return false, err
		}
		updated := op.Mutator(row)
		if updated == nil {
			return false, nil
		}
		if err := v.tx.Update(v.ctx, row, updated); err != nil {
			return false, err
		}
		if op.Continue != nil && !op.Continue() {
			break
		}
	}
	return true, nil
}

func (v *execVisitor) VisitUpdateByNamedQuery(op *opctx.UpdateByNamedQuery) (interface{}, error) {
	return v.tx.NamedQueryExecute(v.ctx, op.Query)
}

func (v *execVisitor) VisitCreateOrUpdate(op *opctx.CreateOrUpdate) (interface{}, error) {
	out := newInstance(op.ModelValue)
	found, err := v.tx.FetchOne(v.ctx, out, op.Criterion, entity.LockWriteNoWait)
	if err != nil {
		return nil, err
	}
	if !found {
		generated := op.Generator()
		if generated == nil {
			return nil, errs.SpecError("CreateOrUpdate generator must not return nil")
		}
		if err := v.tx.Persist(v.ctx, generated); err != nil {
			return nil, err
		}
	} else {
		updated := op.Mutator(out)
		if updated != nil {
			if err := v.tx.Update(v.ctx, out, updated); err != nil {
				return nil, err
			}
		}
	}

	// Refetch: the Open Question in spec.md §9 is resolved in favor of the
	// row re-read from the database, not the in-memory mutator/generator
	// result (see DESIGN.md).
	refetched := newInstance(op.ModelValue)
	found, err = v.tx.FetchOne(v.ctx, refetched, op.Criterion, entity.LockNone)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.OperationFailed("CreateOrUpdate: row vanished after write", nil)
	}
	return refetched, nil
}

func (v *execVisitor) VisitCreateOrUpdateInLockedContext(op *opctx.CreateOrUpdateInLockedContext) (interface{}, error) {
	out := newInstance(op.ModelValue)
	found, err := v.tx.FetchOne(v.ctx, out, op.Criterion, entity.LockWriteNoWait)
	if err != nil {
		return false, err
	}
	if !found {
		generated := op.GeneratorFromParent(op.Parent)
		if generated == nil {
			return false, errs.SpecError("CreateOrUpdateInLockedContext generator must not return nil")
		}
		if err := v.tx.Persist(v.ctx, generated); err != nil {
			return false, err
		}
		return true, nil
	}
	updated := op.Mutator(out)
	if updated == nil {
		return true, nil
	}
	if err := v.tx.Update(v.ctx, out, updated); err != nil {
		return false, err
	}
	return true, nil
}

func (v *execVisitor) VisitDeleteByKey(op *opctx.DeleteByKey) (interface{}, error) {
	out := newInstance(op.ModelValue)
	found, err := v.tx.FetchOneByField(v.ctx, out, op.Field, op.Key, entity.LockWriteNoWait)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := v.tx.Delete(v.ctx, out); err != nil {
		return false, err
	}
	return true, nil
}

func (v *execVisitor) VisitRunInSession(op *opctx.RunInSession) (interface{}, error) {
	return op.Handler(v.tx)
}

func (v *execVisitor) VisitRunWithCriteria(op *opctx.RunWithCriteria) (interface{}, error) {
	return op.Handler(v.tx, op.Criterion)
}

func (v *execVisitor) VisitLockAndExecute(op *opctx.LockAndExecute) (interface{}, error) {
	parent, err := v.produceParent(op)
	if err != nil {
		return nil, err
	}
	for _, h := range op.Handlers {
		if err := h(parent); err != nil {
			return nil, errs.OperationFailed("locked context operation failed", err)
		}
	}
	return parent, nil
}

func (v *execVisitor) produceParent(op *opctx.LockAndExecute) (interface{}, error) {
	if op.Getter != nil {
		parent, err := op.Getter()
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, errs.NotFound("LockedContext parent getter returned no row")
		}
		return parent, nil
	}
	return op.Saver(op.Entity)
}

func (v *execVisitor) VisitReadOnly(op *opctx.ReadOnly) (interface{}, error) {
	parent, err := op.Getter()
	if err != nil {
		return nil, err
	}
	if isEmptyParent(parent) && op.Populator != nil {
		loaded, err := op.Populator()
		if err != nil {
			return nil, err
		}
		if loaded {
			parent, err = op.Getter()
			if err != nil {
				return nil, err
			}
		}
	}
	if isEmptyParent(parent) {
		return parent, nil
	}
	for _, h := range op.Handlers {
		if err := h(parent); err != nil {
			return nil, errs.OperationFailed("read-only context augmenter failed", err)
		}
	}
	return parent, nil
}

// isEmptyParent reports whether a ReadOnly getter's result should be
// treated as "absent": a nil interface, a nil pointer, or an empty slice.
func isEmptyParent(parent interface{}) bool {
	if parent == nil {
		return true
	}
	rv := reflect.ValueOf(parent)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	case reflect.Slice:
		return rv.Len() == 0
	default:
		return false
	}
}

func applyTransform(value interface{}, transform opctx.PostTransform) (interface{}, error) {
	if transform == nil {
		return value, nil
	}
	return transform(value)
}
