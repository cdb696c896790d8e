package runstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"agentflow/internal/domain"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "runs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func record(id string, finished time.Time, status domain.RunStatus) domain.RunRecord {
	return domain.RunRecord{
		ID:         id,
		Flow:       "chat",
		Status:     status,
		Path:       []string{"user-input", "processing", "llm", "response"},
		Edges:      []string{"e1", "e2", "e3"},
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: finished,
	}
}

func TestStore_RecordAndGet(t *testing.T) {
	store := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := record("run-1", base, domain.RunFailed)
	want.FailureCode = domain.CodeApprovalDenied
	want.FailureStage = "mcp"
	want.ToolCalls = 1
	want.ToolFailures = 1

	require.NoError(t, store.Record(want))

	got, err := store.Get("run-1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := openStore(t)
	_, err := store.Get("nope")
	requireCode(t, err, domain.CodeNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	store := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(record("a", base, domain.RunCompleted)))
	require.NoError(t, store.Record(record("c", base.Add(2*time.Minute), domain.RunCompleted)))
	require.NoError(t, store.Record(record("b", base.Add(time.Minute), domain.RunCancelled)))

	all, err := store.List(0)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, ids(all))

	limited, err := store.List(2)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, ids(limited))
}

func TestStore_RecordReplacesIndexEntry(t *testing.T) {
	store := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(record("a", base, domain.RunCompleted)))
	require.NoError(t, store.Record(record("b", base.Add(time.Minute), domain.RunCompleted)))
	require.NoError(t, store.Record(record("a", base.Add(2*time.Minute), domain.RunFailed)))

	all, err := store.List(0)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids(all))
	require.Equal(t, domain.RunFailed, all[0].Status)
}

func TestStore_RejectsEmptyID(t *testing.T) {
	store := openStore(t)
	requireCode(t, store.Record(domain.RunRecord{}), domain.CodeInvalidArgument)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Record(record("kept", time.Now().UTC(), domain.RunCompleted)))
	require.NoError(t, store.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, reopened.Close())
	}()
	got, err := reopened.Get("kept")
	require.NoError(t, err)
	require.Equal(t, domain.RunCompleted, got.Status)
}

func TestStore_Closed(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"), nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	require.ErrorIs(t, store.Record(record("x", time.Now(), domain.RunCompleted)), ErrStoreClosed)
	_, err = store.List(0)
	require.ErrorIs(t, err, ErrStoreClosed)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ", nil)
	require.Error(t, err)
}

func ids(records []domain.RunRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func requireCode(t *testing.T, err error, want domain.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok, "no code in %v", err)
	require.Equal(t, want, code)
}
