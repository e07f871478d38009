package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence/memory"
	"github.com/cadencehq/cadence/pkg/queue"
)

// stubExecutor scripts per-call outcomes and records what it ran.
type stubExecutor struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	executed []string
	block    chan struct{}
}

func (e *stubExecutor) ExecuteJob(ctx context.Context, workerID string, job *models.Job) error {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.executed = append(e.executed, job.ID)
	e.calls++

	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]

		return err
	}

	return nil
}

func (e *stubExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.calls
}

// failingStateExecutor also records which jobs the pool settled as
// terminally failed.
type failingStateExecutor struct {
	stubExecutor

	settleMu sync.Mutex
	settled  []string
}

func (e *failingStateExecutor) FailExecution(ctx context.Context, job *models.Job, cause error) {
	e.settleMu.Lock()
	defer e.settleMu.Unlock()

	e.settled = append(e.settled, job.ID)
}

func (e *failingStateExecutor) settledJobs() []string {
	e.settleMu.Lock()
	defer e.settleMu.Unlock()

	return append([]string(nil), e.settled...)
}

// stubRetryPolicy retries everything with a fixed backoff unless told not to.
type stubRetryPolicy struct {
	backoff   time.Duration
	retryable bool
}

func (p stubRetryPolicy) Decide(job *models.Job, err error) (time.Duration, bool) {
	return p.backoff, p.retryable
}

func poolFixture(t *testing.T, executor Executor, retry RetryPolicy) (*Pool, *queue.Queue, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	logger := slog.New(slog.DiscardHandler)
	q := queue.NewQueue(logger, store.Jobs(), queue.Config{})
	pool := NewPool(logger, q, executor, retry)

	return pool, q, store
}

func enqueueAndClaim(t *testing.T, q *queue.Queue, n int) []*models.Job {
	t.Helper()

	base := time.Now().UTC().Add(-time.Minute)
	jobs := make([]*models.Job, 0, n)

	for i := range n {
		job := queue.NewJob(models.ExecutionContext{WorkflowID: "wf-1", PatientID: "p-1"})
		job.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, q.Enqueue(t.Context(), job))
		jobs = append(jobs, job)
	}

	claimed, err := q.ReloadDue(t.Context(), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, n, claimed)

	return jobs
}

func TestPool_ProcessCompletesJob(t *testing.T) {
	executor := &stubExecutor{}
	pool, q, store := poolFixture(t, executor, stubRetryPolicy{})

	jobs := enqueueAndClaim(t, q, 1)

	claimed, err := q.Dequeue(t.Context())
	require.NoError(t, err)

	w := &poolWorker{id: "worker-1", health: newHealth("worker-1")}
	pool.process(t.Context(), w, claimed)

	assert.Equal(t, 1, executor.callCount())

	stored, err := store.Jobs().ByID(t.Context(), jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)

	report := w.health.report(HealthThresholds{}.withDefaults())
	assert.Equal(t, 1, report.JobsProcessed)
	assert.Zero(t, report.JobsFailed)
	assert.True(t, report.Healthy)
}

func TestPool_ProcessRequeuesRetryableFailure(t *testing.T) {
	executor := &stubExecutor{errs: []error{errors.New("gateway timeout")}}
	pool, q, store := poolFixture(t, executor, stubRetryPolicy{backoff: 30 * time.Second, retryable: true})

	jobs := enqueueAndClaim(t, q, 1)

	claimed, err := q.Dequeue(t.Context())
	require.NoError(t, err)

	w := &poolWorker{id: "worker-1", health: newHealth("worker-1")}
	pool.process(t.Context(), w, claimed)

	stored, err := store.Jobs().ByID(t.Context(), jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "gateway timeout", stored.LastError)
	require.NotNil(t, stored.ScheduledFor)
	assert.True(t, stored.ScheduledFor.After(time.Now().UTC().Add(20*time.Second)))
}

func TestPool_ProcessFailsJobAfterRetryBudget(t *testing.T) {
	executor := &stubExecutor{errs: []error{errors.New("boom")}}
	pool, q, store := poolFixture(t, executor, stubRetryPolicy{backoff: time.Second, retryable: true})

	jobs := enqueueAndClaim(t, q, 1)

	claimed, err := q.Dequeue(t.Context())
	require.NoError(t, err)

	claimed.RetryCount = claimed.MaxRetries

	w := &poolWorker{id: "worker-1", health: newHealth("worker-1")}
	pool.process(t.Context(), w, claimed)

	stored, err := store.Jobs().ByID(t.Context(), jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, "boom", stored.LastError)
}

func TestPool_ProcessFailsNonRetryable(t *testing.T) {
	executor := &stubExecutor{errs: []error{errors.New("patient not found")}}
	pool, q, store := poolFixture(t, executor, stubRetryPolicy{retryable: false})

	jobs := enqueueAndClaim(t, q, 1)

	claimed, err := q.Dequeue(t.Context())
	require.NoError(t, err)

	w := &poolWorker{id: "worker-1", health: newHealth("worker-1")}
	pool.process(t.Context(), w, claimed)

	stored, err := store.Jobs().ByID(t.Context(), jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)

	report := w.health.report(HealthThresholds{}.withDefaults())
	assert.Equal(t, 1, report.JobsFailed)
	assert.InDelta(t, 1.0, report.FailureRate, 0.001)
	assert.False(t, report.Healthy)
}

func TestPool_TerminalFailureSettlesExecutionState(t *testing.T) {
	executor := &failingStateExecutor{
		stubExecutor: stubExecutor{errs: []error{errors.New("recipient opted out")}},
	}
	pool, q, store := poolFixture(t, executor, stubRetryPolicy{retryable: false})

	jobs := enqueueAndClaim(t, q, 1)

	claimed, err := q.Dequeue(t.Context())
	require.NoError(t, err)

	w := &poolWorker{id: "worker-1", health: newHealth("worker-1")}
	pool.process(t.Context(), w, claimed)

	stored, err := store.Jobs().ByID(t.Context(), jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)

	// The executor was told to settle the run, not just the job.
	assert.Equal(t, []string{jobs[0].ID}, executor.settledJobs())
}

func TestPool_RetryableFailureLeavesExecutionStateOpen(t *testing.T) {
	executor := &failingStateExecutor{
		stubExecutor: stubExecutor{errs: []error{errors.New("gateway timeout")}},
	}
	pool, q, _ := poolFixture(t, executor, stubRetryPolicy{backoff: time.Second, retryable: true})

	enqueueAndClaim(t, q, 1)

	claimed, err := q.Dequeue(t.Context())
	require.NoError(t, err)

	w := &poolWorker{id: "worker-1", health: newHealth("worker-1")}
	pool.process(t.Context(), w, claimed)

	// A requeued job may still recover its run.
	assert.Empty(t, executor.settledJobs())
}

func TestPool_WorkersDrainQueue(t *testing.T) {
	executor := &stubExecutor{}
	pool, q, store := poolFixture(t, executor, stubRetryPolicy{})

	jobs := enqueueAndClaim(t, q, 6)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	pool.Start(ctx, 3)
	assert.Equal(t, 3, pool.Size())

	require.Eventually(t, func() bool {
		return executor.callCount() == len(jobs)
	}, 5*time.Second, 10*time.Millisecond)

	for _, job := range jobs {
		stored, err := store.Jobs().ByID(t.Context(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, stored.Status)
	}

	pool.Stop()
	assert.Zero(t, pool.Size())
}

func TestPool_HealthReportsEveryWorker(t *testing.T) {
	executor := &stubExecutor{}
	pool, _, _ := poolFixture(t, executor, stubRetryPolicy{})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	pool.Start(ctx, 2)
	defer pool.Stop()

	reports := pool.Health()
	require.Len(t, reports, 2)

	for _, report := range reports {
		assert.NotEmpty(t, report.WorkerID)
		assert.True(t, report.Healthy)
		assert.False(t, report.StartedAt.IsZero())
	}
}

func TestAutoScalingPool_GrowsAndShrinksWithHysteresis(t *testing.T) {
	executor := &stubExecutor{block: make(chan struct{})}
	pool, q, _ := poolFixture(t, executor, stubRetryPolicy{})

	// Plenty of claimed work so the depth stays above the scale-up line
	// while the executor blocks.
	enqueueAndClaim(t, q, 30)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	scaler := NewAutoScalingPool(slog.New(slog.DiscardHandler), pool, AutoScaleConfig{
		MinWorkers:     1,
		MaxWorkers:     3,
		ScaleUpDepth:   10,
		ScaleDownDepth: 2,
		Cooldown:       30 * time.Second,
	})

	pool.Start(ctx, 1)
	require.Equal(t, 1, pool.Size())

	now := time.Now().UTC()

	scaler.Sample(now)
	assert.Equal(t, 2, pool.Size())

	// Within the cooldown nothing changes no matter the depth.
	scaler.Sample(now.Add(10 * time.Second))
	assert.Equal(t, 2, pool.Size())

	scaler.Sample(now.Add(31 * time.Second))
	assert.Equal(t, 3, pool.Size())

	// At the cap the pool stops growing.
	scaler.Sample(now.Add(90 * time.Second))
	assert.Equal(t, 3, pool.Size())

	// Unblock the workers and let them drain everything.
	close(executor.block)

	require.Eventually(t, func() bool {
		return q.Depth() == 0
	}, 5*time.Second, 10*time.Millisecond)

	scaler.Sample(now.Add(150 * time.Second))

	require.Eventually(t, func() bool {
		return pool.Size() == 2
	}, 5*time.Second, 10*time.Millisecond)

	// Never below the floor.
	scaler.Sample(now.Add(300 * time.Second))
	scaler.Sample(now.Add(600 * time.Second))

	require.Eventually(t, func() bool {
		return pool.Size() == 1
	}, 5*time.Second, 10*time.Millisecond)

	scaler.Sample(now.Add(900 * time.Second))
	assert.Equal(t, 1, pool.Size())

	pool.Stop()
}

func TestHealthThresholds_Defaults(t *testing.T) {
	thresholds := HealthThresholds{}.withDefaults()

	assert.Equal(t, 2*time.Minute, thresholds.MaxHeartbeatAge)
	assert.InDelta(t, 0.5, thresholds.MaxFailureRate, 0.001)
	assert.Equal(t, uint64(1<<30), thresholds.MaxMemoryBytes)
}

func TestAutoScaleConfig_Defaults(t *testing.T) {
	config := AutoScaleConfig{}.withDefaults()

	assert.Equal(t, 1, config.MinWorkers)
	assert.Equal(t, 4, config.MaxWorkers)
	assert.Equal(t, 5*time.Second, config.SampleInterval)
	assert.Equal(t, 10, config.ScaleUpDepth)
	assert.Equal(t, 2, config.ScaleDownDepth)
	assert.Equal(t, 30*time.Second, config.Cooldown)

	// ScaleDownDepth is always kept strictly below ScaleUpDepth.
	config = AutoScaleConfig{ScaleUpDepth: 8, ScaleDownDepth: 12}.withDefaults()
	assert.Equal(t, 2, config.ScaleDownDepth)
}
