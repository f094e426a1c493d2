package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "admind/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	records := []RunRecord{
		{At: base, Kind: KindAction, Action: "delete-user-data", Outcome: "success", Status: 200, TookMS: 12},
		{At: base.Add(time.Second), Kind: KindAction, Action: "transfer-funds", Outcome: "transport_error", Error: "connection refused", TookMS: 3},
		{At: base.Add(2 * time.Second), Kind: KindScanner, Action: "scanner", Outcome: "exit_1", Status: 1, TookMS: 60000},
	}
	for _, r := range records {
		require.NoError(t, st.Append(ctx, r))
	}

	got, err := st.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "scanner", got[0].Action)
	assert.Equal(t, 1, got[0].Status)
	assert.Equal(t, "transfer-funds", got[1].Action)
	assert.Equal(t, "connection refused", got[1].Error)
	assert.True(t, got[1].At.Equal(base.Add(time.Second)))

	all, err := st.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := st.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "audit", "admind.db")}, logx.Nop())
	require.NoError(t, err)
	exerciseStore(t, st)
	require.NoError(t, st.Close())

	_, err = os.Stat(filepath.Join(dir, "audit", "admind.audit.jsonl"))
	require.NoError(t, err)

	// Reopening appends.
	st, err = Open(Config{Driver: "file", Path: filepath.Join(dir, "audit", "admind.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Append(context.Background(), RunRecord{Kind: KindAction, Action: "delete-user-data", Outcome: "success"}))
	all, err := st.Recent(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.False(t, all[0].At.IsZero())
}

func TestFileStoreRequiresPath(t *testing.T) {
	_, err := Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "admind.db"), BusyTimeout: 2 * time.Second}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	exerciseStore(t, st)
}

func TestSQLiteKeepPrunes(t *testing.T) {
	st, err := Open(Config{Driver: "sqlite3", Path: filepath.Join(t.TempDir(), "admind.db"), Keep: 10}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	for i := 0; i < pruneEvery; i++ {
		require.NoError(t, st.Append(ctx, RunRecord{Kind: KindAction, Action: "delete-user-data", Outcome: "success", TookMS: int64(i)}))
	}
	got, err := st.Recent(ctx, 1000)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, int64(pruneEvery-1), got[0].TookMS)
	assert.Equal(t, int64(pruneEvery-10), got[9].TookMS)
}

func TestOpenRejectsNegativeKeep(t *testing.T) {
	_, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "a.db"), Keep: -1}, logx.Nop())
	assert.Error(t, err)
	assert.Equal(t, []string{"file", "sqlite", "sqlite3"}, Drivers())
}
