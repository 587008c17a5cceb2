package assoc

import (
	"testing"

	"github.com/evalgo-org/shardrelay/db"
	"github.com/evalgo-org/shardrelay/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type company struct {
	CompanyUsageID string
}

func TestFilter_ResolveUsesLiteralCriterionWhenPresent(t *testing.T) {
	f := Filter{Criterion: db.Eq{Column: "id", Value: 1}}
	crit, qs, err := f.Resolve(&company{})
	require.NoError(t, err)
	assert.Nil(t, qs)
	assert.Equal(t, db.Eq{Column: "id", Value: 1}, crit)
}

func TestFilter_ResolveBuildsAndCriterionFromAssociations(t *testing.T) {
	f := Filter{Associations: []Spec{{ParentField: "CompanyUsageID", ChildField: "company_ext_id"}}}
	crit, qs, err := f.Resolve(&company{CompanyUsageID: "usage-1"})
	require.NoError(t, err)
	assert.Nil(t, qs)

	and, ok := crit.(db.And)
	require.True(t, ok)
	require.Len(t, and.Criteria, 1)
	assert.Equal(t, db.Eq{Column: "company_ext_id", Value: "usage-1"}, and.Criteria[0])
}

func TestFilter_ResolveFailsWhenAssociationFieldMissing(t *testing.T) {
	f := Filter{Associations: []Spec{{ParentField: "DoesNotExist", ChildField: "x"}}}
	_, _, err := f.Resolve(&company{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindSpecError))
}

func TestFilter_ResolveFailsWhenNothingConfigured(t *testing.T) {
	_, _, err := Filter{}.Resolve(&company{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindSpecError))
}
