package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pncplab/harvester/internal/catalog"
)

// anyNoticeArgs matches the 21 placeholders of the notices insert without
// pinning their values; pgxmock requires the argument count to line up even
// when the expectation does not care about the values.
func anyNoticeArgs() []any {
	args := make([]any, 21)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewStoreWithPool(nil)
	require.Error(t, err)
}

func TestUpsertNoticeReportsInsert(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO notices").
		WithArgs(anyNoticeArgs()...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := store.UpsertNotice(context.Background(), catalog.Notice{ControlNumber: "cn-1"})
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertNoticeConflictIsNoop(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO notices").
		WithArgs(anyNoticeArgs()...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.UpsertNotice(context.Background(), catalog.Notice{ControlNumber: "cn-1"})
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertNoticeRequiresControlNumber(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	_, err := store.UpsertNotice(context.Background(), catalog.Notice{})
	require.Error(t, err)
}

func TestUpsertItemAndAttachment(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO items").
		WithArgs("cn-1", 1, "Caneta", (*float64)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO attachments").
		WithArgs("cn-1", 1, "https://example.org/a.pdf", "Edital", true).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.UpsertItem(context.Background(), catalog.Item{
		ControlNumber: "cn-1", Number: 1, Description: "Caneta",
	})
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.UpsertAttachment(context.Background(), catalog.Attachment{
		ControlNumber: "cn-1", Sequence: 1, URL: "https://example.org/a.pdf", Title: "Edital", Active: true,
	})
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertConversionReplaces(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ts := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO conversions").
		WithArgs("cn-1", 2, "a.pdf", "texto", true, "", ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.UpsertConversion(context.Background(), catalog.Conversion{
		ControlNumber: "cn-1",
		Sequence:      2,
		Filename:      "a.pdf",
		Content:       "texto",
		OK:            true,
		ConvertedAt:   ts,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestControlNumbers(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT control_number FROM notices").
		WillReturnRows(pgxmock.NewRows([]string{"control_number"}).
			AddRow("cn-1").
			AddRow("cn-2"))

	keys, err := store.ControlNumbers(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"cn-1": {}, "cn-2": {}}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountItems(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM items`).
		WithArgs("cn-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.CountItems(context.Background(), "cn-1")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListNoticeRefs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT control_number, org_id, year, sequence_number").
		WithArgs(500, 0).
		WillReturnRows(pgxmock.NewRows([]string{"control_number", "org_id", "year", "sequence_number"}).
			AddRow("cn-1", "org", 2024, 7))

	refs, err := store.ListNoticeRefs(context.Background(), 0, 500)
	require.NoError(t, err)
	require.Equal(t, []catalog.NoticeRef{{
		ControlNumber:  "cn-1",
		OrgID:          "org",
		Year:           2024,
		SequenceNumber: 7,
	}}, refs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNoticeNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetNotice(context.Background(), "missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetConversionNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT").
		WithArgs("missing", 0).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetConversion(context.Background(), "missing", 0)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertNoticeExecError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO notices").
		WithArgs(anyNoticeArgs()...).
		WillReturnError(errors.New("db down"))

	_, err := store.UpsertNotice(context.Background(), catalog.Notice{ControlNumber: "cn-1"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
