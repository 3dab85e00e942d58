package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/ratecheck/internal/history"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/output"
)

func seedHistory(t *testing.T, n int) (string, []*history.Record) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(path)
	require.NoError(t, err)
	defer store.Close()

	var records []*history.Record
	for i := 0; i < n; i++ {
		rec, err := store.Save("scenarios/smoke.yaml", &output.Summary{
			Name:      "smoke",
			Passed:    i%2 == 0,
			StartTime: time.Now(),
			Counters:  output.Counters{Requests: int64(100 + i)},
		})
		require.NoError(t, err)
		records = append(records, rec)
	}
	return path, records
}

func TestHistoryList(t *testing.T) {
	db, records := seedHistory(t, 3)

	out, err := execute(t, "history", "list", "--history-db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "scenarios/smoke.yaml")
	for _, rec := range records {
		assert.Contains(t, out, rec.ID)
	}
	assert.Contains(t, out, "PASSED")
	assert.Contains(t, out, "FAILED")

	out, err = execute(t, "history", "list", "--history-db", db, "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, records[2].ID)
	assert.NotContains(t, out, records[0].ID)
}

func TestHistoryList_Empty(t *testing.T) {
	out, err := execute(t, "history", "list", "--history-db", filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded")
}

func TestHistoryShow(t *testing.T) {
	db, records := seedHistory(t, 2)

	out, err := execute(t, "history", "show", records[1].ID, "--history-db", db)
	require.NoError(t, err)

	var rec history.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, records[1].ID, rec.ID)
	require.NotNil(t, rec.Summary)
	assert.Equal(t, int64(101), rec.Summary.Counters.Requests)

	_, err = execute(t, "history", "show", "ffffffff-0000", "--history-db", db)
	require.Error(t, err)
	assert.ErrorIs(t, err, history.ErrNotFound)
	assert.Equal(t, ExitError, ExitCode(err))
}

func TestHistoryPrune(t *testing.T) {
	db, records := seedHistory(t, 4)

	out, err := execute(t, "history", "prune", "--keep", "1", "--history-db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 3 run(s)")

	out, err = execute(t, "history", "list", "--history-db", db)
	require.NoError(t, err)
	assert.Contains(t, out, records[3].ID)
	assert.NotContains(t, out, records[0].ID)
}
