package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nnnkkk7/presto-page/pkg/config"
	"github.com/nnnkkk7/presto-page/pkg/page"
	"github.com/nnnkkk7/presto-page/server/apierror"
	"github.com/sirupsen/logrus"
)

// ErrStatementNotFound is returned for an unknown or expired query id.
var ErrStatementNotFound = errors.New("statement not found")

// Statement is a snapshot of one submitted query.
type Statement struct {
	ID        string
	SQL       string
	Session   Session
	User      string
	Source    string
	State     config.QueryState
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Result    *Result
	Error     *apierror.PrestoError

	done <-chan struct{}
}

// Done returns a channel closed once the statement reaches a terminal state.
func (s Statement) Done() <-chan struct{} {
	return s.done
}

// Stats builds the page statistics of the statement as of now.
func (s Statement) Stats(now time.Time) page.StatementStats {
	stats := page.StatementStats{
		State:     string(s.State),
		Queued:    s.State == config.StateQueued,
		Scheduled: s.StartedAt != nil,
		Nodes:     1,
	}

	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	stats.ElapsedTimeMillis = end.Sub(s.CreatedAt).Milliseconds()
	if s.StartedAt != nil {
		stats.QueuedTimeMillis = s.StartedAt.Sub(s.CreatedAt).Milliseconds()
		stats.WallTimeMillis = end.Sub(*s.StartedAt).Milliseconds()
		stats.CPUTimeMillis = stats.WallTimeMillis
		stats.TotalSplits = 1
		if s.State.Done() {
			stats.CompletedSplits = 1
		} else {
			stats.RunningSplits = 1
		}
	} else {
		stats.QueuedTimeMillis = stats.ElapsedTimeMillis
		stats.QueuedSplits = 1
		stats.TotalSplits = 1
	}

	if s.Result != nil {
		stats.ProcessedRows = s.Result.ProcessedRows()
	}
	if s.State == config.StateFinished {
		progress := 100.0
		stats.ProgressPercentage = &progress
	}
	return stats
}

type statement struct {
	Statement
	doneCh chan struct{}
	cancel context.CancelFunc
}

// StatementManager runs submitted queries in the background and keeps their
// results until they expire.
type StatementManager struct {
	runner Runner
	ttl    time.Duration
	clock  clockwork.Clock
	log    logrus.FieldLogger

	mu         sync.RWMutex
	statements map[string]*statement
	seq        int

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// ManagerOption configures a StatementManager.
type ManagerOption func(*StatementManager)

// WithClock sets the clock used for timestamps and expiry.
func WithClock(clock clockwork.Clock) ManagerOption {
	return func(sm *StatementManager) {
		sm.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) ManagerOption {
	return func(sm *StatementManager) {
		sm.log = log
	}
}

// NewStatementManager creates a manager that executes statements with runner
// and drops finished ones after ttl. Close stops it.
func NewStatementManager(runner Runner, ttl time.Duration, opts ...ManagerOption) *StatementManager {
	if ttl <= 0 {
		ttl = config.DefaultQueryTTL
	}
	sm := &StatementManager{
		runner:     runner,
		ttl:        ttl,
		clock:      clockwork.NewRealClock(),
		log:        logrus.StandardLogger(),
		statements: make(map[string]*statement),
	}
	for _, opt := range opts {
		opt(sm)
	}
	sm.ctx, sm.stop = context.WithCancel(context.Background())

	sm.wg.Add(1)
	go sm.cleanupLoop()
	return sm
}

// Submit registers sql and starts running it. The returned snapshot is QUEUED.
func (sm *StatementManager) Submit(sql string, sess Session, user, source string) (Statement, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return Statement{}, apierror.New(apierror.ServerShuttingDown, "Server is shutting down")
	}

	now := sm.clock.Now()
	sm.seq++
	ctx, cancel := context.WithCancel(sm.ctx)
	done := make(chan struct{})
	stmt := &statement{
		Statement: Statement{
			ID:        generateQueryID(now, sm.seq),
			SQL:       sql,
			Session:   sess,
			User:      user,
			Source:    source,
			State:     config.StateQueued,
			CreatedAt: now,
			done:      done,
		},
		doneCh: done,
		cancel: cancel,
	}
	sm.statements[stmt.ID] = stmt

	sm.wg.Add(1)
	go sm.run(ctx, stmt.ID)

	sm.log.WithFields(logrus.Fields{"query_id": stmt.ID, "user": user}).Debug("statement queued")
	return stmt.Statement, nil
}

func (sm *StatementManager) run(ctx context.Context, id string) {
	defer sm.wg.Done()

	sm.mu.Lock()
	stmt, ok := sm.statements[id]
	if !ok || stmt.State.Done() {
		sm.mu.Unlock()
		return
	}
	now := sm.clock.Now()
	stmt.State = config.StateRunning
	stmt.StartedAt = &now
	sqlText, sess := stmt.SQL, stmt.Session
	sm.mu.Unlock()

	res, err := sm.runner.Run(ctx, sqlText, sess)
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", context.Canceled, err)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err != nil {
		sm.finish(stmt, nil, apierror.FromError(err))
		return
	}
	sm.finish(stmt, res, nil)
}

// finish moves stmt to its terminal state. Callers hold mu.
func (sm *StatementManager) finish(stmt *statement, res *Result, perr *apierror.PrestoError) {
	if stmt.State.Done() {
		return
	}
	now := sm.clock.Now()
	stmt.EndedAt = &now
	if perr != nil {
		stmt.State = config.StateFailed
		stmt.Error = perr
	} else {
		stmt.State = config.StateFinished
		stmt.Result = res
	}
	stmt.cancel()
	close(stmt.doneCh)

	entry := sm.log.WithFields(logrus.Fields{
		"query_id": stmt.ID,
		"state":    stmt.State,
		"elapsed":  now.Sub(stmt.CreatedAt),
	})
	if perr != nil {
		entry.WithField("error", perr.Name).Info("statement failed")
		return
	}
	entry.Debug("statement finished")
}

// Get returns a snapshot of the statement.
func (sm *StatementManager) Get(id string) (Statement, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	stmt, ok := sm.statements[id]
	if !ok {
		return Statement{}, false
	}
	return stmt.Statement, true
}

// Wait returns the statement once it is done or maxWait has passed, whichever
// comes first.
func (sm *StatementManager) Wait(ctx context.Context, id string, maxWait time.Duration) (Statement, error) {
	stmt, ok := sm.Get(id)
	if !ok {
		return Statement{}, ErrStatementNotFound
	}
	if stmt.State.Done() || maxWait <= 0 {
		return stmt, nil
	}

	select {
	case <-stmt.Done():
	case <-sm.clock.After(maxWait):
	case <-ctx.Done():
		return Statement{}, ctx.Err()
	}

	stmt, ok = sm.Get(id)
	if !ok {
		return Statement{}, ErrStatementNotFound
	}
	return stmt, nil
}

// Cancel stops a queued or running statement; it then fails with USER_CANCELED.
// Canceling a finished statement does nothing.
func (sm *StatementManager) Cancel(id string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	stmt, ok := sm.statements[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStatementNotFound, id)
	}
	if stmt.State.Done() {
		return nil
	}
	sm.finish(stmt, nil, apierror.NewUserCanceledError())
	return nil
}

// Delete stops tracking a statement before it expires. A statement that is
// still queued or running is canceled first, so pending waiters return.
func (sm *StatementManager) Delete(id string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	stmt, ok := sm.statements[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStatementNotFound, id)
	}
	sm.finish(stmt, nil, apierror.NewUserCanceledError())
	delete(sm.statements, id)
	sm.log.WithField("query_id", id).Debug("statement released")
	return nil
}

// Len returns the number of tracked statements.
func (sm *StatementManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.statements)
}

// Close cancels running statements and waits for background work to stop.
func (sm *StatementManager) Close() {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return
	}
	sm.closed = true
	sm.stop()
	sm.mu.Unlock()

	sm.wg.Wait()
}

// cleanupLoop periodically removes expired statements.
func (sm *StatementManager) cleanupLoop() {
	defer sm.wg.Done()

	ticker := sm.clock.NewTicker(sm.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-sm.ctx.Done():
			return
		case <-ticker.Chan():
			sm.cleanup()
		}
	}
}

// cleanup removes statements that have been completed for longer than TTL.
func (sm *StatementManager) cleanup() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.clock.Now()
	for id, stmt := range sm.statements {
		if stmt.EndedAt != nil && now.Sub(*stmt.EndedAt) > sm.ttl {
			delete(sm.statements, id)
			sm.log.WithField("query_id", id).Debug("statement expired")
		}
	}
}

// generateQueryID builds an id of the form 20060102_150405_00001_abcde.
func generateQueryID(now time.Time, seq int) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
	return fmt.Sprintf("%s_%05d_%s", now.UTC().Format("20060102_150405"), seq%100000, suffix)
}
