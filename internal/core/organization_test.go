package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/mailcore/internal/mailerr"
	"github.com/edvin/mailcore/internal/model"
)

func orgRow(id, domain string, active bool, used int64) *mockRow {
	now := time.Now()
	return valuesRow(id, "acme", domain, 10, int64(1<<20), 50, used, active, now, now)
}

// ---------- Create ----------

func TestOrganizationService_Create_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	db.On("Exec", ctx, sqlHas("INSERT INTO organizations"), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	o, err := svc.Create(ctx, " acme ", "Acme.COM", model.Quotas{MaxMailboxes: 5})
	require.NoError(t, err)
	assert.Equal(t, "acme", o.Code)
	assert.Equal(t, "acme.com", o.Domain)
	assert.True(t, o.Active)
	assert.Len(t, o.ID, 36)
	db.AssertExpectations(t)
}

func TestOrganizationService_Create_Validation(t *testing.T) {
	svc := NewOrganizationService(&mockDB{})
	ctx := context.Background()

	tests := []struct {
		name   string
		code   string
		domain string
		quotas model.Quotas
	}{
		{"empty code", "", "acme.com", model.Quotas{}},
		{"no dot", "acme", "localhost", model.Quotas{}},
		{"address instead of domain", "acme", "a@acme.com", model.Quotas{}},
		{"negative quota", "acme", "acme.com", model.Quotas{MaxStorageBytes: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.code, tt.domain, tt.quotas)
			assert.ErrorIs(t, err, mailerr.ErrValidation)
		})
	}
}

func TestOrganizationService_Create_DuplicateDomain(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505", ConstraintName: "organizations_domain_key"})

	_, err := svc.Create(ctx, "acme", "acme.com", model.Quotas{})
	assert.ErrorIs(t, err, mailerr.ErrDuplicateDomain)
	assert.ErrorIs(t, err, mailerr.ErrConflict)
}

func TestOrganizationService_Create_DuplicateCode(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23505", ConstraintName: "organizations_code_key"})

	_, err := svc.Create(ctx, "acme", "acme.com", model.Quotas{})
	assert.ErrorIs(t, err, mailerr.ErrConflict)
	assert.NotErrorIs(t, err, mailerr.ErrDuplicateDomain)
}

// ---------- Get / List ----------

func TestOrganizationService_Get_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlHas("FROM organizations WHERE id = $1"), []any{testOrgID}).
		Return(orgRow(testOrgID, "acme.com", true, 42))

	o, err := svc.Get(ctx, testOrgID)
	require.NoError(t, err)
	assert.Equal(t, "acme.com", o.Domain)
	assert.Equal(t, int64(42), o.StorageUsedBytes)
	assert.Equal(t, 10, o.Quotas.MaxMailboxes)
}

func TestOrganizationService_Get_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(errRow(pgx.ErrNoRows))

	_, err := svc.Get(ctx, testOrgID)
	assert.ErrorIs(t, err, mailerr.ErrNotFound)
}

func TestOrganizationService_Get_MalformedID(t *testing.T) {
	svc := NewOrganizationService(&mockDB{})

	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, mailerr.ErrNotFound)
}

func TestOrganizationService_GetByDomain(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlHas("WHERE domain = $1"), []any{"acme.com"}).
		Return(orgRow(testOrgID, "acme.com", true, 0))

	o, err := svc.GetByDomain(ctx, " ACME.com ")
	require.NoError(t, err)
	assert.Equal(t, testOrgID, o.ID)

	_, err = svc.GetByDomain(ctx, "not a domain")
	assert.ErrorIs(t, err, mailerr.ErrValidation)
}

func TestOrganizationService_List_HasMore(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	now := time.Now()
	row := func(id string) func(dest ...any) error {
		return scanValues(id, "c", "d.com", 0, int64(0), 0, int64(0), true, now, now)
	}
	db.On("Query", ctx, sqlHas("ORDER BY id", "LIMIT $1"), []any{3}).
		Return(newMockRows(row(testOrgID), row(testOrgID2), row(testOrgID2)), nil)

	orgs, hasMore, err := svc.List(ctx, 2, "")
	require.NoError(t, err)
	assert.True(t, hasMore)
	assert.Len(t, orgs, 2)
}

func TestOrganizationService_List_InvalidCursor(t *testing.T) {
	svc := NewOrganizationService(&mockDB{})

	_, _, err := svc.List(context.Background(), 10, "bogus")
	assert.ErrorIs(t, err, mailerr.ErrValidation)
}

// ---------- Suspend / UpdateQuotas ----------

func TestOrganizationService_Suspend_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	db.On("Exec", ctx, sqlHas("SET active = $2"), []any{testOrgID, false}).Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := svc.Suspend(ctx, testOrgID)
	assert.ErrorIs(t, err, mailerr.ErrNotFound)
}

func TestOrganizationService_Activate(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	db.On("Exec", ctx, sqlHas("SET active = $2"), []any{testOrgID, true}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, svc.Activate(ctx, testOrgID))
	db.AssertExpectations(t)
}

func TestOrganizationService_UpdateQuotas(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlHas("UPDATE organizations", "RETURNING"), mock.Anything).
		Return(orgRow(testOrgID, "acme.com", true, 0))

	o, err := svc.UpdateQuotas(ctx, testOrgID, model.Quotas{MaxMailboxes: 10, MaxStorageBytes: 1 << 20, MaxRecipientsPerMail: 50})
	require.NoError(t, err)
	assert.Equal(t, testOrgID, o.ID)

	_, err = svc.UpdateQuotas(ctx, testOrgID, model.Quotas{MaxMailboxes: -1})
	assert.ErrorIs(t, err, mailerr.ErrValidation)
}

// ---------- admitSend ----------

func TestOrganizationService_AdmitSend(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		active     bool
		maxRcpt    int
		maxStorage int64
		used       int64
		rcpts      int
		want       error
	}{
		{"admitted", true, 10, 100, 50, 3, nil},
		{"unlimited", true, 0, 0, 1 << 40, 1000, nil},
		{"suspended", false, 10, 100, 0, 1, mailerr.ErrOrgSuspended},
		{"too many recipients", true, 2, 100, 0, 3, mailerr.ErrQuotaExceeded},
		{"storage over limit", true, 10, 100, 101, 1, mailerr.ErrQuotaExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &mockDB{}
			svc := NewOrganizationService(db)
			db.On("QueryRow", ctx, sqlHas("FOR SHARE"), []any{testOrgID}).
				Return(valuesRow(tt.active, tt.maxRcpt, tt.maxStorage, tt.used))

			err := svc.admitSend(ctx, db, testOrgID, tt.rcpts)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

// ---------- chargeStorage ----------

func TestOrganizationService_ChargeStorage_Release(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	db.On("Exec", ctx, sqlHas("GREATEST"), []any{testOrgID, int64(-10)}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, svc.chargeStorage(ctx, db, testOrgID, -10))
	db.AssertExpectations(t)
}

func TestOrganizationService_ChargeStorage_Charged(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlHas("RETURNING storage_used_bytes"), []any{testOrgID, int64(10)}).Return(valuesRow(int64(60)))

	require.NoError(t, svc.chargeStorage(ctx, db, testOrgID, 10))
}

func TestOrganizationService_ChargeStorage_QuotaExceeded(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlHas("RETURNING storage_used_bytes"), mock.Anything).Return(errRow(pgx.ErrNoRows))
	db.On("QueryRow", ctx, sqlHas("SELECT active, max_storage_bytes"), mock.Anything).Return(valuesRow(true, int64(100), int64(95)))

	err := svc.chargeStorage(ctx, db, testOrgID, 10)
	assert.ErrorIs(t, err, mailerr.ErrQuotaExceeded)
}

func TestOrganizationService_ChargeStorage_Suspended(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, sqlHas("RETURNING storage_used_bytes"), mock.Anything).Return(errRow(pgx.ErrNoRows))
	db.On("QueryRow", ctx, sqlHas("SELECT active, max_storage_bytes"), mock.Anything).Return(valuesRow(false, int64(0), int64(0)))

	err := svc.chargeStorage(ctx, db, testOrgID, 10)
	assert.ErrorIs(t, err, mailerr.ErrOrgSuspended)
}

func TestOrganizationService_ChargeStorage_Busy(t *testing.T) {
	db := &mockDB{}
	svc := NewOrganizationService(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(errRow(&pgconn.PgError{Code: "55P03"}))

	err := svc.chargeStorage(ctx, db, testOrgID, 10)
	assert.ErrorIs(t, err, mailerr.ErrBusy)
	assert.False(t, errors.Is(err, mailerr.ErrQuotaExceeded))
}
