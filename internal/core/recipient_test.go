package core

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/mailcore/internal/mailerr"
	"github.com/edvin/mailcore/internal/model"
)

func TestNormalizeRecipients(t *testing.T) {
	got, err := normalizeRecipients([]model.Recipient{
		{Email: "Bob@Acme.com"},
		{Email: "bob@acme.com", Type: "to"},
		{Email: "bob@acme.com", Type: "cc"},
		{Email: "x@elsewhere.org", Type: "BCC"},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.Recipient{
		{Email: "bob@acme.com", Type: model.RecipientTo},
		{Email: "bob@acme.com", Type: model.RecipientCc},
		{Email: "x@elsewhere.org", Type: model.RecipientBcc},
	}, got)
}

func TestNormalizeRecipients_Rejects(t *testing.T) {
	_, err := normalizeRecipients(nil)
	assert.Error(t, err)

	_, err = normalizeRecipients([]model.Recipient{{Email: "not-an-address"}})
	assert.Error(t, err)

	_, err = normalizeRecipients([]model.Recipient{{Email: "bob@acme.com", Type: "REPLY-TO"}})
	assert.Error(t, err)
}

func TestDistinctAddresses(t *testing.T) {
	got := distinctAddresses([]model.Recipient{
		{Email: "bob@acme.com", Type: model.RecipientTo},
		{Email: "carol@acme.com", Type: model.RecipientCc},
		{Email: "bob@acme.com", Type: model.RecipientBcc},
	})
	assert.Equal(t, []string{"bob@acme.com", "carol@acme.com"}, got)
}

func TestRecipientService_Record(t *testing.T) {
	pool := &mockDB{}
	svc := NewRecipientService(pool)
	ctx := context.Background()

	pool.On("Exec", ctx, sqlHas("INSERT INTO mail_recipients", "unnest", "DO NOTHING"), []any{
		testMailID, testOrgID,
		[]string{"bob@acme.com", "x@elsewhere.org"},
		[]string{model.RecipientTo, model.RecipientBcc},
	}).Return(pgconn.NewCommandTag("INSERT 0 2"), nil)

	err := svc.record(ctx, pool, testOrgID, testMailID, []model.Recipient{
		{Email: "bob@acme.com", Type: model.RecipientTo},
		{Email: "x@elsewhere.org", Type: model.RecipientBcc},
	})
	require.NoError(t, err)
	pool.AssertExpectations(t)
}

func TestRecipientService_List_UnknownMail(t *testing.T) {
	pool := &mockDB{}
	svc := NewRecipientService(pool)
	ctx := context.Background()

	pool.On("QueryRow", ctx, sqlHas("SELECT EXISTS", "FROM mails"), mock.Anything).Return(valuesRow(false))

	_, err := svc.List(ctx, testOrgID, testMailID)
	assert.ErrorIs(t, err, mailerr.ErrNotFound)
}

func TestRecipientService_List(t *testing.T) {
	pool := &mockDB{}
	svc := NewRecipientService(pool)
	ctx := context.Background()

	now := time.Now()
	pool.On("QueryRow", ctx, sqlHas("SELECT EXISTS"), mock.Anything).Return(valuesRow(true))
	pool.On("Query", ctx, sqlHas("FROM mail_recipients"), []any{testMailID, testOrgID}).Return(newMockRows(
		scanValues(testMailID, testOrgID, "bob@acme.com", model.RecipientTo, now),
		scanValues(testMailID, testOrgID, "x@elsewhere.org", model.RecipientBcc, now),
	), nil)

	got, err := svc.List(ctx, testOrgID, testMailID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.RecipientBcc, got[1].Type)
}

func TestRecipientService_VisibleTo(t *testing.T) {
	pool := &mockDB{}
	svc := NewRecipientService(pool)
	ctx := context.Background()

	pool.On("Query", ctx, sqlHas("type <> 'BCC'"), []any{testMailID, testOrgID, false}).Return(newMockRows(
		scanValues("bob@acme.com", model.RecipientTo),
	), nil)

	got, err := svc.visibleTo(ctx, pool, testOrgID, testMailID, false)
	require.NoError(t, err)
	assert.Equal(t, []model.Recipient{{Email: "bob@acme.com", Type: model.RecipientTo}}, got)
}
