package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/mailcore/internal/db"
	"github.com/edvin/mailcore/internal/mailerr"
	"github.com/edvin/mailcore/internal/model"
)

func customFolderRow(id, name string, parentID *string) *mockRow {
	now := time.Now()
	var parent any
	if parentID != nil {
		parent = parentID
	}
	return valuesRow(id, testOrgID, testUserID, name, model.FolderCustom, parent, false, now, now)
}

func TestNormalizeFolderName(t *testing.T) {
	n, err := normalizeFolderName("  Receipts ")
	require.NoError(t, err)
	assert.Equal(t, "Receipts", n)

	_, err = normalizeFolderName("   ")
	assert.Error(t, err)
	_, err = normalizeFolderName("a/b")
	assert.Error(t, err)
	_, err = normalizeFolderName(strings.Repeat("x", maxFolderNameLength+1))
	assert.Error(t, err)
}

func TestReservedFolderName(t *testing.T) {
	assert.True(t, reservedFolderName("inbox"))
	assert.True(t, reservedFolderName("Drafts"))
	assert.True(t, reservedFolderName("DRAFT"))
	assert.False(t, reservedFolderName("Receipts"))
}

// ---------- ensureSystemFolder ----------

func TestFolderService_EnsureSystemFolder_ExistingWritesNothing(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	pool.On("QueryRow", ctx, sqlHas("AND is_system"), []any{testOrgID, testUserID, model.FolderInbox}).
		Return(folderRow(testInboxID, testUserID, model.FolderInbox))

	f, err := svc.ensureSystemFolder(ctx, pool, testOrgID, testUserID, model.FolderInbox)
	require.NoError(t, err)
	assert.Equal(t, testInboxID, f.ID)
	pool.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestFolderService_EnsureSystemFolder_CreatesMissing(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	pool.On("QueryRow", ctx, sqlHas("AND is_system"), mock.Anything).Return(errRow(pgx.ErrNoRows)).Once()
	pool.On("Exec", ctx, sqlHas("INSERT INTO mail_folders", "ON CONFLICT"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	pool.On("QueryRow", ctx, sqlHas("AND is_system"), mock.Anything).
		Return(folderRow(testTrashID, testUserID, model.FolderTrash)).Once()

	f, err := svc.ensureSystemFolder(ctx, pool, testOrgID, testUserID, model.FolderTrash)
	require.NoError(t, err)
	assert.Equal(t, testTrashID, f.ID)
	assert.True(t, f.IsSystem)
	pool.AssertExpectations(t)
}

func TestFolderService_EnsureSystemFolder_MissingMailbox(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	pool.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(errRow(pgx.ErrNoRows))
	pool.On("Exec", ctx, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, &pgconn.PgError{Code: "23503"})

	_, err := svc.ensureSystemFolder(ctx, pool, testOrgID, testUserID, model.FolderSent)
	assert.ErrorIs(t, err, mailerr.ErrNotFound)
}

func TestFolderService_GetOrCreateSystemFolder_RejectsCustom(t *testing.T) {
	svc := NewFolderService(&mockDB{}, db.Timeouts{})

	_, err := svc.GetOrCreateSystemFolder(context.Background(), testOrgID, testUserID, model.FolderCustom)
	assert.ErrorIs(t, err, mailerr.ErrValidation)
}

// ---------- CreateCustomFolder ----------

func TestFolderService_CreateCustomFolder_Success(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	pool.On("QueryRow", ctx, sqlHas("SELECT EXISTS", "mail_users"), mock.Anything).Return(valuesRow(true))
	pool.On("QueryRow", ctx, sqlHas("INSERT INTO mail_folders"), mock.Anything).
		Return(customFolderRow(testFolderID, "Receipts", nil))

	f, err := svc.CreateCustomFolder(ctx, testOrgID, testUserID, " Receipts ", nil)
	require.NoError(t, err)
	assert.Equal(t, "Receipts", f.Name)
	assert.False(t, f.IsSystem)
}

func TestFolderService_CreateCustomFolder_ReservedName(t *testing.T) {
	svc := NewFolderService(&mockDB{}, db.Timeouts{})

	_, err := svc.CreateCustomFolder(context.Background(), testOrgID, testUserID, "Inbox", nil)
	assert.ErrorIs(t, err, mailerr.ErrDuplicateName)
}

func TestFolderService_CreateCustomFolder_Duplicate(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	pool.On("QueryRow", ctx, sqlHas("SELECT EXISTS"), mock.Anything).Return(valuesRow(true))
	pool.On("QueryRow", ctx, sqlHas("INSERT INTO mail_folders"), mock.Anything).
		Return(errRow(&pgconn.PgError{Code: "23505", ConstraintName: "mail_folders_custom_name_key"}))

	_, err := svc.CreateCustomFolder(ctx, testOrgID, testUserID, "Receipts", nil)
	assert.ErrorIs(t, err, mailerr.ErrDuplicateName)
	assert.ErrorIs(t, err, mailerr.ErrConflict)
}

func TestFolderService_CreateCustomFolder_UnderTrash(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	parent := testTrashID
	pool.On("QueryRow", ctx, sqlHas("SELECT EXISTS"), mock.Anything).Return(valuesRow(true))
	pool.On("QueryRow", ctx, sqlHas("WHERE id = $1 AND owner_user_id = $2"), mock.Anything).
		Return(folderRow(testTrashID, testUserID, model.FolderTrash))

	_, err := svc.CreateCustomFolder(ctx, testOrgID, testUserID, "Old", &parent)
	assert.ErrorIs(t, err, mailerr.ErrValidation)
}

func TestFolderService_CreateCustomFolder_UnknownMailbox(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	pool.On("QueryRow", ctx, sqlHas("SELECT EXISTS"), mock.Anything).Return(valuesRow(false))

	_, err := svc.CreateCustomFolder(ctx, testOrgID, testUserID, "Receipts", nil)
	assert.ErrorIs(t, err, mailerr.ErrNotFound)
}

// ---------- RenameCustomFolder ----------

func TestFolderService_RenameCustomFolder_SystemFolder(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	pool.On("QueryRow", ctx, sqlHas("WHERE id = $1 AND owner_user_id = $2"), mock.Anything).
		Return(folderRow(testInboxID, testUserID, model.FolderInbox))

	_, err := svc.RenameCustomFolder(ctx, testOrgID, testUserID, testInboxID, "Mine")
	assert.ErrorIs(t, err, mailerr.ErrValidation)
}

// ---------- DeleteCustomFolder ----------

func expectLockedFolder(pool *mockDB, row *mockRow) {
	pool.On("QueryRow", mock.Anything, sqlHas("FROM mail_folders", "FOR UPDATE"), mock.Anything).Return(row)
}

func TestFolderService_DeleteCustomFolder_Empty(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	tx := expectTx(pool)
	expectLockedFolder(pool, customFolderRow(testFolderID, "Receipts", nil))
	pool.On("QueryRow", ctx, sqlHas("SELECT count(*) FROM mail_in_folder"), mock.Anything).Return(valuesRow(0))
	pool.On("Exec", ctx, sqlHas("SET parent_id = $2"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)
	pool.On("Exec", ctx, sqlHas("DELETE FROM mail_folders"), []any{testFolderID}).Return(pgconn.NewCommandTag("DELETE 1"), nil)

	moved, err := svc.DeleteCustomFolder(ctx, testOrgID, testUserID, testFolderID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
	assert.True(t, tx.committed)
}

func TestFolderService_DeleteCustomFolder_NotEmpty(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	tx := expectTx(pool)
	expectLockedFolder(pool, customFolderRow(testFolderID, "Receipts", nil))
	pool.On("QueryRow", ctx, sqlHas("SELECT count(*)"), mock.Anything).Return(valuesRow(2))

	_, err := svc.DeleteCustomFolder(ctx, testOrgID, testUserID, testFolderID, nil)
	assert.ErrorIs(t, err, mailerr.ErrFolderNotEmpty)
	assert.ErrorIs(t, err, mailerr.ErrConflict)
	assert.True(t, tx.rolledBack)
}

func TestFolderService_DeleteCustomFolder_Reassigns(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	other := "c7d2e4f6-0a1b-4c3d-8e5f-000000000099"
	expectTx(pool)
	expectLockedFolder(pool, customFolderRow(testFolderID, "Receipts", nil))
	pool.On("QueryRow", ctx, sqlHas("SELECT count(*)"), mock.Anything).Return(valuesRow(2))
	pool.On("QueryRow", ctx, sqlHas("WHERE id = $1 AND owner_user_id = $2 AND org_id = $3"), []any{other, testUserID, testOrgID}).
		Return(customFolderRow(other, "Archive", nil))
	pool.On("Exec", ctx, sqlHas("UPDATE mail_in_folder SET folder_id = $2"), []any{testFolderID, other}).
		Return(pgconn.NewCommandTag("UPDATE 2"), nil)
	pool.On("Exec", ctx, sqlHas("SET parent_id = $2"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil)
	pool.On("Exec", ctx, sqlHas("DELETE FROM mail_folders"), mock.Anything).Return(pgconn.NewCommandTag("DELETE 1"), nil)

	moved, err := svc.DeleteCustomFolder(ctx, testOrgID, testUserID, testFolderID, &other)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)
}

func TestFolderService_DeleteCustomFolder_SystemFolder(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	expectTx(pool)
	expectLockedFolder(pool, folderRow(testInboxID, testUserID, model.FolderInbox))

	_, err := svc.DeleteCustomFolder(ctx, testOrgID, testUserID, testInboxID, nil)
	assert.ErrorIs(t, err, mailerr.ErrValidation)
}

func TestFolderService_DeleteCustomFolder_ReassignToTrash(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	trash := testTrashID
	expectTx(pool)
	expectLockedFolder(pool, customFolderRow(testFolderID, "Receipts", nil))
	pool.On("QueryRow", ctx, sqlHas("SELECT count(*)"), mock.Anything).Return(valuesRow(1))
	pool.On("QueryRow", ctx, sqlHas("WHERE id = $1 AND owner_user_id = $2 AND org_id = $3"), []any{trash, testUserID, testOrgID}).
		Return(folderRow(testTrashID, testUserID, model.FolderTrash))

	_, err := svc.DeleteCustomFolder(ctx, testOrgID, testUserID, testFolderID, &trash)
	assert.ErrorIs(t, err, mailerr.ErrValidation)
}

// ---------- List ----------

func TestFolderService_List_WithCounts(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	now := time.Now()
	pool.On("Query", ctx, sqlHas("count(mif.mail_id)"), []any{testOrgID, testUserID}).Return(newMockRows(
		scanValues(testInboxID, testOrgID, testUserID, "Inbox", model.FolderInbox, nil, true, now, now, 3, 1),
		scanValues(testFolderID, testOrgID, testUserID, "Receipts", model.FolderCustom, nil, false, now, now, 0, 0),
	), nil)

	folders, err := svc.List(ctx, testOrgID, testUserID)
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, 3, folders[0].Total)
	assert.Equal(t, 1, folders[0].Unread)
	assert.Equal(t, "Receipts", folders[1].Name)
}

func TestFolderService_List_UnknownMailbox(t *testing.T) {
	pool := &mockDB{}
	svc := NewFolderService(pool, db.Timeouts{})
	ctx := context.Background()

	pool.On("Query", ctx, mock.Anything, mock.Anything).Return(newEmptyMockRows(), nil)
	pool.On("QueryRow", ctx, sqlHas("SELECT EXISTS"), mock.Anything).Return(valuesRow(false))

	_, err := svc.List(ctx, testOrgID, testUserID)
	assert.ErrorIs(t, err, mailerr.ErrNotFound)
}
