package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/fedineko/crabo/internal/snapshot"
)

func fixedNow() time.Time {
	return time.Unix(1700000000, 0).UTC()
}

func TestSetUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStoreWithPool(mock, "snapshots", fixedNow)
	require.NoError(t, err)

	snap := snapshot.Snapshot{
		URL:       "https://example.com/a",
		Title:     "Example",
		Source:    snapshot.SourceHTML,
		FetchedAt: fixedNow(),
	}
	payload, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs("example.com/a", payload, snap.FetchedAt, fixedNow().Add(time.Hour)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Set(context.Background(), "example.com/a", snap, time.Hour))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsLiveRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStoreWithPool(mock, "snapshots", fixedNow)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT payload FROM snapshots").
		WithArgs("example.com/a", fixedNow()).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).
			AddRow([]byte(`{"url":"https://example.com/a","title":"Example","source":"html"}`)))

	snap, ok, err := store.Get(context.Background(), "example.com/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Example", snap.Title)
	require.Equal(t, snapshot.SourceHTML, snap.Source)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStoreWithPool(mock, "", fixedNow)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT payload FROM snapshots").
		WithArgs("missing", fixedNow()).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}))

	_, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetQueryError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStoreWithPool(mock, "snapshots", fixedNow)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT payload FROM snapshots").
		WithArgs("k", fixedNow()).
		WillReturnError(errors.New("db down"))

	_, _, err = store.Get(context.Background(), "k")
	require.ErrorContains(t, err, "db down")
}

func TestStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewSnapshotStoreWithPool(nil, "snapshots", nil)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewSnapshotStoreWithPool(mock, "bad-name;", nil)
	require.Error(t, err)

	store, err := NewSnapshotStoreWithPool(mock, "snapshots", nil)
	require.NoError(t, err)
	require.Error(t, store.Set(context.Background(), "", snapshot.Snapshot{}, time.Hour))

	_, err = NewSnapshotStore(context.Background(), SnapshotStoreConfig{})
	require.ErrorContains(t, err, "db.dsn")

	require.Contains(t, Schema("snapshots"), "CREATE TABLE IF NOT EXISTS snapshots")
}
