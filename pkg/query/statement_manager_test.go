package query

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/nnnkkk7/presto-page/pkg/config"
	"github.com/nnnkkk7/presto-page/pkg/page"
)

// runnerFunc adapts a function to Runner.
type runnerFunc func(ctx context.Context, sql string, sess Session) (*Result, error)

func (f runnerFunc) Run(ctx context.Context, sql string, sess Session) (*Result, error) {
	return f(ctx, sql, sess)
}

// blockingRunner blocks every statement until its context ends.
func blockingRunner(started chan<- struct{}) Runner {
	return runnerFunc(func(ctx context.Context, _ string, _ Session) (*Result, error) {
		if started != nil {
			started <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func newTestManager(t *testing.T, runner Runner, opts ...ManagerOption) *StatementManager {
	t.Helper()
	sm := NewStatementManager(runner, time.Hour, opts...)
	t.Cleanup(sm.Close)
	return sm
}

func waitDone(t *testing.T, sm *StatementManager, id string) Statement {
	t.Helper()
	stmt, ok := sm.Get(id)
	if !ok {
		t.Fatalf("statement %s not found", id)
	}
	select {
	case <-stmt.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("statement %s did not finish", id)
	}
	stmt, _ = sm.Get(id)
	return stmt
}

func TestStatementManager_Submit(t *testing.T) {
	want := &Result{
		Columns: []page.Column{{Name: "n", Type: "integer"}},
		Rows:    [][]any{{int32(1)}},
	}
	var gotSQL string
	var gotSession Session
	sm := newTestManager(t, runnerFunc(func(_ context.Context, sql string, sess Session) (*Result, error) {
		gotSQL, gotSession = sql, sess
		return want, nil
	}))

	sess := Session{Catalog: "memory", Schema: "default"}
	stmt, err := sm.Submit("SELECT 1", sess, "analyst", "cli")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if stmt.State != config.StateQueued {
		t.Errorf("State = %s, want QUEUED", stmt.State)
	}
	if stmt.User != "analyst" || stmt.Source != "cli" || stmt.SQL != "SELECT 1" {
		t.Errorf("Statement = %+v", stmt)
	}

	done := waitDone(t, sm, stmt.ID)
	if done.State != config.StateFinished {
		t.Errorf("State = %s, want FINISHED", done.State)
	}
	if done.Result != want {
		t.Errorf("Result = %+v, want %+v", done.Result, want)
	}
	if done.StartedAt == nil || done.EndedAt == nil {
		t.Error("Expected StartedAt and EndedAt to be set")
	}
	if gotSQL != "SELECT 1" {
		t.Errorf("runner got SQL %q", gotSQL)
	}
	if diff := cmp.Diff(sess, gotSession); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
}

func TestStatementManager_Failure(t *testing.T) {
	sm := newTestManager(t, runnerFunc(func(context.Context, string, Session) (*Result, error) {
		return nil, errors.New("Parser Error: syntax error at or near \"SELEC\"")
	}))

	stmt, err := sm.Submit("SELEC 1", Session{}, "u", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	done := waitDone(t, sm, stmt.ID)
	if done.State != config.StateFailed {
		t.Fatalf("State = %s, want FAILED", done.State)
	}
	if done.Error == nil || done.Error.Name != "SYNTAX_ERROR" {
		t.Errorf("Error = %v, want SYNTAX_ERROR", done.Error)
	}
}

func TestStatementManager_Cancel(t *testing.T) {
	started := make(chan struct{}, 1)
	sm := newTestManager(t, blockingRunner(started))

	stmt, err := sm.Submit("SELECT * FROM big", Session{}, "u", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	running, _ := sm.Get(stmt.ID)
	if running.State != config.StateRunning {
		t.Errorf("State = %s, want RUNNING", running.State)
	}

	if err := sm.Cancel(stmt.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	done := waitDone(t, sm, stmt.ID)
	if done.State != config.StateFailed || done.Error == nil || done.Error.Name != "USER_CANCELED" {
		t.Errorf("after cancel: state %s, error %v", done.State, done.Error)
	}

	// Canceling again is a no-op.
	if err := sm.Cancel(stmt.ID); err != nil {
		t.Errorf("second Cancel() error = %v", err)
	}
}

func TestStatementManager_CancelNotFound(t *testing.T) {
	sm := newTestManager(t, blockingRunner(nil))
	if err := sm.Cancel("missing"); !errors.Is(err, ErrStatementNotFound) {
		t.Errorf("Cancel() error = %v, want ErrStatementNotFound", err)
	}
}

func TestStatementManager_DeleteRunning(t *testing.T) {
	started := make(chan struct{}, 1)
	sm := newTestManager(t, blockingRunner(started))

	stmt, err := sm.Submit("SELECT * FROM big", Session{}, "u", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	waitErr := make(chan error, 1)
	go func() {
		_, err := sm.Wait(context.Background(), stmt.ID, time.Minute)
		waitErr <- err
	}()

	if err := sm.Delete(stmt.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	select {
	case <-stmt.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Delete() did not close the done channel")
	}
	select {
	case err := <-waitErr:
		if !errors.Is(err, ErrStatementNotFound) {
			t.Errorf("Wait() error = %v, want ErrStatementNotFound", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait() still blocked after Delete()")
	}

	if _, ok := sm.Get(stmt.ID); ok {
		t.Error("Expected deleted statement to be gone")
	}
	if sm.Len() != 0 {
		t.Errorf("Len() = %d, want 0", sm.Len())
	}
}

func TestStatementManager_DeleteFinished(t *testing.T) {
	sm := newTestManager(t, runnerFunc(func(context.Context, string, Session) (*Result, error) {
		return &Result{}, nil
	}))

	stmt, err := sm.Submit("SELECT 1", Session{}, "u", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if done := waitDone(t, sm, stmt.ID); done.State != config.StateFinished {
		t.Fatalf("State = %s, want FINISHED", done.State)
	}

	if err := sm.Delete(stmt.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := sm.Get(stmt.ID); ok {
		t.Error("Expected deleted statement to be gone")
	}
	if err := sm.Delete(stmt.ID); !errors.Is(err, ErrStatementNotFound) {
		t.Errorf("second Delete() error = %v, want ErrStatementNotFound", err)
	}
}

func TestStatementManager_Wait(t *testing.T) {
	sm := newTestManager(t, blockingRunner(nil))

	stmt, err := sm.Submit("SELECT 1", Session{}, "u", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got, err := sm.Wait(context.Background(), stmt.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got.State.Done() {
		t.Errorf("State = %s, want a running state after timeout", got.State)
	}

	if _, err := sm.Wait(context.Background(), "missing", time.Millisecond); !errors.Is(err, ErrStatementNotFound) {
		t.Errorf("Wait(missing) error = %v, want ErrStatementNotFound", err)
	}
}

func TestStatementManager_Cleanup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sm := newTestManager(t, runnerFunc(func(context.Context, string, Session) (*Result, error) {
		return &Result{}, nil
	}), WithClock(clock))

	finished, err := sm.Submit("SELECT 1", Session{}, "u", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitDone(t, sm, finished.ID)

	clock.Advance(30 * time.Minute)
	sm.cleanup()
	if _, ok := sm.Get(finished.ID); !ok {
		t.Fatal("statement removed before its TTL")
	}

	clock.Advance(31 * time.Minute)
	sm.cleanup()
	if _, ok := sm.Get(finished.ID); ok {
		t.Error("Expected statement to expire after TTL")
	}
}

func TestStatementManager_Close(t *testing.T) {
	started := make(chan struct{}, 1)
	sm := NewStatementManager(blockingRunner(started), time.Hour)

	stmt, err := sm.Submit("SELECT 1", Session{}, "u", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started
	sm.Close()

	got, _ := sm.Get(stmt.ID)
	if got.State != config.StateFailed || got.Error == nil || got.Error.Name != "USER_CANCELED" {
		t.Errorf("after Close: state %s, error %v", got.State, got.Error)
	}
	if _, err := sm.Submit("SELECT 2", Session{}, "u", ""); err == nil {
		t.Error("Submit() after Close: expected error")
	}
	sm.Close()
}

func TestStatementManager_ConcurrentSubmit(t *testing.T) {
	sm := newTestManager(t, runnerFunc(func(context.Context, string, Session) (*Result, error) {
		return &Result{}, nil
	}))

	const n = 20
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stmt, err := sm.Submit("SELECT 1", Session{}, "u", "")
			if err != nil {
				t.Errorf("Submit() error = %v", err)
				return
			}
			ids <- stmt.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate query id %s", id)
		}
		seen[id] = true
	}
	if sm.Len() != n {
		t.Errorf("Len() = %d, want %d", sm.Len(), n)
	}
}

func TestGenerateQueryID(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	id := generateQueryID(now, 42)

	pattern := regexp.MustCompile(`^20260304_050607_00042_[0-9a-f]{5}$`)
	if !pattern.MatchString(id) {
		t.Errorf("generateQueryID() = %q, want match %s", id, pattern)
	}
}

func TestStatement_Stats(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	started := created.Add(100 * time.Millisecond)
	ended := started.Add(400 * time.Millisecond)
	count := int64(7)

	tests := []struct {
		name string
		stmt Statement
		now  time.Time
		want page.StatementStats
	}{
		{
			name: "Queued",
			stmt: Statement{State: config.StateQueued, CreatedAt: created},
			now:  created.Add(50 * time.Millisecond),
			want: page.StatementStats{
				State: "QUEUED", Queued: true, Nodes: 1,
				TotalSplits: 1, QueuedSplits: 1,
				QueuedTimeMillis: 50, ElapsedTimeMillis: 50,
			},
		},
		{
			name: "Running",
			stmt: Statement{State: config.StateRunning, CreatedAt: created, StartedAt: &started},
			now:  started.Add(200 * time.Millisecond),
			want: page.StatementStats{
				State: "RUNNING", Scheduled: true, Nodes: 1,
				TotalSplits: 1, RunningSplits: 1,
				CPUTimeMillis: 200, WallTimeMillis: 200, QueuedTimeMillis: 100, ElapsedTimeMillis: 300,
			},
		},
		{
			name: "Finished",
			stmt: Statement{
				State: config.StateFinished, CreatedAt: created, StartedAt: &started, EndedAt: &ended,
				Result: &Result{UpdateCount: &count},
			},
			now: ended.Add(time.Hour),
			want: page.StatementStats{
				State: "FINISHED", Scheduled: true, Nodes: 1,
				TotalSplits: 1, CompletedSplits: 1,
				CPUTimeMillis: 400, WallTimeMillis: 400, QueuedTimeMillis: 100, ElapsedTimeMillis: 500,
				ProcessedRows:      7,
				ProgressPercentage: ptr(100.0),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.stmt.Stats(tt.now)); diff != "" {
				t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
