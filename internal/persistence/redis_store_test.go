package persistence

import (
	"errors"
	"testing"

	"github.com/petrijr/stepflow/internal/testutil"
	"github.com/petrijr/stepflow/pkg/api"
)

func newRedisStore(t *testing.T) *RedisRunStore {
	t.Helper()
	return NewRedisRunStore(testutil.NewRedisClient(t), "stepflow-test:")
}

func TestRedisRunStore_RoundTrip(t *testing.T) {
	store := newRedisStore(t)

	run := &api.Run{
		ID:          "run-1",
		FlowName:    "redis-flow",
		Status:      api.StatusRunning,
		CurrentStep: "start",
	}
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	run.Status = api.StatusCompleted
	run.Artifacts = map[api.Key]any{"sum": 55, "squares": []int{1, 4, 9, 16, 25}}
	run.Err = errors.New("not really, but persisted")
	if err := store.UpdateRun(run); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != api.StatusCompleted {
		t.Fatalf("expected status COMPLETED, got %s", got.Status)
	}
	if got.Artifacts["sum"] != 55 {
		t.Fatalf("expected sum=55, got %v", got.Artifacts["sum"])
	}
	squares, ok := got.Artifacts["squares"].([]int)
	if !ok || len(squares) != 5 {
		t.Fatalf("unexpected squares artifact: %v", got.Artifacts["squares"])
	}
	if got.Err == nil {
		t.Fatalf("expected preserved run error")
	}
}

func TestRedisRunStore_NotFound(t *testing.T) {
	store := newRedisStore(t)

	if _, err := store.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := store.UpdateRun(&api.Run{ID: "missing"}); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound on update, got %v", err)
	}
}

// A status change must migrate the run between status index sets.
func TestRedisRunStore_StatusIndexMigration(t *testing.T) {
	store := newRedisStore(t)

	run := &api.Run{ID: "run-1", FlowName: "redis-flow", Status: api.StatusRunning}
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	run.Status = api.StatusFailed
	if err := store.UpdateRun(run); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}

	running, err := store.ListRuns(RunFilter{Status: api.StatusRunning})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(running) != 0 {
		t.Fatalf("expected no RUNNING runs after migration, got %d", len(running))
	}

	failed, err := store.ListRuns(RunFilter{Status: api.StatusFailed})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "run-1" {
		t.Fatalf("unexpected FAILED runs: %+v", failed)
	}
}

func TestRedisRunStore_ListRunsFilters(t *testing.T) {
	store := newRedisStore(t)

	seed := []*api.Run{
		{ID: "1", FlowName: "a", Status: api.StatusCompleted},
		{ID: "2", FlowName: "a", Status: api.StatusFailed},
		{ID: "3", FlowName: "b", Status: api.StatusCompleted},
	}
	for _, r := range seed {
		if err := store.SaveRun(r); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	all, err := store.ListRuns(RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}

	failedA, err := store.ListRuns(RunFilter{FlowName: "a", Status: api.StatusFailed})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(failedA) != 1 || failedA[0].ID != "2" {
		t.Fatalf("unexpected filtered runs: %+v", failedA)
	}
}
