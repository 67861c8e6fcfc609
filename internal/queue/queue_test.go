package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func newTestQueue(t *testing.T, opts Options) (*Queue, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q, err := New(rdb, "emailQueue", opts)
	require.NoError(t, err)
	return q, rdb, mr
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, "emailQueue", Options{})
	require.Error(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	_, err = New(rdb, "  ", Options{})
	require.Error(t, err)
}

func TestEnqueueDequeue_RoundTrip(t *testing.T) {
	clock := newFakeClock()
	q, _, _ := newTestQueue(t, Options{Now: clock.Now})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sendResetEmail", mailPayload{To: "ana@example.com", Subject: "Reset Password"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateEnqueued, job.State)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 5, job.MaxAttempts)

	job, err = q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, "sendResetEmail", job.Name)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, StateInFlight, job.State)
	assert.True(t, clock.Now().Equal(job.CreatedAt))

	var payload mailPayload
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, "ana@example.com", payload.To)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{InFlight: 1}, stats)
}

func TestDequeue_FIFO(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	var ids []string
	for _, to := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		id, err := q.Enqueue(ctx, "sendResetEmail", mailPayload{To: to})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, want := range ids {
		job, err := q.Dequeue(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, want, job.ID)
	}

	_, err := q.Dequeue(ctx, 0)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestDequeue_BlocksUntilWait(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})

	start := time.Now()
	_, err := q.Dequeue(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrNoJob)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestAck_CompletesJob(t *testing.T) {
	q, _, mr := newTestQueue(t, Options{CompletedTTL: time.Hour})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sendResetEmail", mailPayload{To: "ana@example.com"})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, q.Ack(ctx, id))

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, job.State)
	assert.Equal(t, time.Hour, mr.TTL("queue:emailQueue:job:"+id))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	assert.ErrorIs(t, q.Ack(ctx, "missing"), ErrJobNotFound)
}

func TestNack_RetriesWithBackoff(t *testing.T) {
	clock := newFakeClock()
	q, _, _ := newTestQueue(t, Options{
		Now:     clock.Now,
		Backoff: Backoff{Base: 10 * time.Second, Max: time.Minute},
	})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sendResetEmail", mailPayload{To: "ana@example.com"})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, 0)
	require.NoError(t, err)

	state, err := q.Nack(ctx, id, errors.New("smtp: connection refused"))
	require.NoError(t, err)
	assert.Equal(t, StateRetryable, state)

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateRetryable, job.State)
	assert.Equal(t, "smtp: connection refused", job.LastError)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Delayed: 1}, stats)

	_, err = q.Dequeue(ctx, 0)
	assert.ErrorIs(t, err, ErrNoJob, "job must wait for its backoff")

	clock.Advance(10 * time.Second)
	job, err = q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, StateInFlight, job.State)
}

func TestNack_TerminalAfterMaxAttempts(t *testing.T) {
	clock := newFakeClock()
	q, _, _ := newTestQueue(t, Options{
		Now:         clock.Now,
		MaxAttempts: 3,
		Backoff:     Backoff{Base: time.Second, Max: time.Second},
	})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sendResetEmail", mailPayload{To: "ana@example.com"})
	require.NoError(t, err)

	var state State
	for attempt := 1; attempt <= 3; attempt++ {
		job, err := q.Dequeue(ctx, 0)
		require.NoError(t, err, "attempt %d", attempt)
		assert.Equal(t, attempt, job.Attempts)

		state, err = q.Nack(ctx, id, errors.New("transport down"))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	assert.Equal(t, StateFailed, state)

	_, err = q.Dequeue(ctx, 0)
	assert.ErrorIs(t, err, ErrNoJob)

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "transport down", job.LastError)

	dead, err := q.DeadJobs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, dead)
}

func TestNack_SchedulesExponentialBackoff(t *testing.T) {
	clock := newFakeClock()
	backoff := Backoff{Base: 5 * time.Second, Max: 12 * time.Second}
	q, rdb, _ := newTestQueue(t, Options{Now: clock.Now, MaxAttempts: 5, Backoff: backoff})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sendResetEmail", mailPayload{To: "ana@example.com"})
	require.NoError(t, err)

	for attempt := 1; attempt <= 4; attempt++ {
		job, err := q.Dequeue(ctx, 0)
		require.NoError(t, err, "attempt %d", attempt)
		require.Equal(t, attempt, job.Attempts)

		state, err := q.Nack(ctx, id, errors.New("smtp timeout"))
		require.NoError(t, err)
		require.Equal(t, StateRetryable, state)

		score, err := rdb.ZScore(ctx, q.keys.delayed, id).Result()
		require.NoError(t, err)
		want := clock.Now().Add(backoff.Delay(attempt)).UnixMilli()
		assert.Equal(t, float64(want), score, "attempt %d", attempt)

		clock.Advance(backoff.Delay(attempt))
	}
}

func TestFail_SkipsRetries(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sendResetEmail", mailPayload{To: "not-an-address"})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, id, errors.New("invalid recipient")))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Dead: 1}, stats)

	assert.ErrorIs(t, q.Fail(ctx, "missing", nil), ErrJobNotFound)
	_, err = q.Nack(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestDequeue_RedeliversAfterLeaseExpiry(t *testing.T) {
	clock := newFakeClock()
	q, _, _ := newTestQueue(t, Options{Now: clock.Now, Lease: 30 * time.Second})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sendResetEmail", mailPayload{To: "ana@example.com"})
	require.NoError(t, err)

	first, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempts)

	// el consumidor muere sin ack ni nack
	clock.Advance(10 * time.Second)
	_, err = q.Dequeue(ctx, 0)
	assert.ErrorIs(t, err, ErrNoJob, "lease still valid")

	clock.Advance(21 * time.Second)
	second, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, id, second.ID)
	assert.Equal(t, 2, second.Attempts)

	require.NoError(t, q.Ack(ctx, id))
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestDequeue_LeaseExpiryExhaustsAttempts(t *testing.T) {
	clock := newFakeClock()
	q, _, _ := newTestQueue(t, Options{Now: clock.Now, MaxAttempts: 2, Lease: time.Second})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sendResetEmail", mailPayload{To: "ana@example.com"})
	require.NoError(t, err)

	// cada consumidor muere sin ack ni nack
	for attempt := 1; attempt <= 2; attempt++ {
		job, err := q.Dequeue(ctx, 0)
		require.NoError(t, err, "attempt %d", attempt)
		assert.Equal(t, id, job.ID)
		assert.Equal(t, attempt, job.Attempts)
		clock.Advance(2 * time.Second)
	}

	for i := 0; i < 3; i++ {
		_, err = q.Dequeue(ctx, 0)
		assert.ErrorIs(t, err, ErrNoJob)
		clock.Advance(2 * time.Second)
	}

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "lease expired", job.LastError)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Dead: 1}, stats)
}

func TestDequeue_UnclaimedJobGetsGraceLease(t *testing.T) {
	clock := newFakeClock()
	q, rdb, _ := newTestQueue(t, Options{Now: clock.Now, Lease: time.Minute})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sendResetEmail", mailPayload{To: "ana@example.com"})
	require.NoError(t, err)

	// un consumidor movio el id a processing y murio antes de reclamarlo
	require.NoError(t, rdb.RPopLPush(ctx, q.keys.ready, q.keys.processing).Err())

	_, err = q.Dequeue(ctx, 0)
	assert.ErrorIs(t, err, ErrNoJob)

	clock.Advance(time.Minute)
	job, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 1, job.Attempts)
}

func TestDequeue_DropsOrphanIDs(t *testing.T) {
	q, rdb, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	require.NoError(t, rdb.LPush(ctx, q.keys.ready, "ghost").Err())

	_, err := q.Dequeue(ctx, 0)
	assert.ErrorIs(t, err, ErrNoJob)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestEnqueue_RejectsWhenFull(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{MaxReady: 1})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "sendResetEmail", mailPayload{To: "a@example.com"})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "sendResetEmail", mailPayload{To: "b@example.com"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestEnqueue_FailsFastWhenBrokerDown(t *testing.T) {
	q, _, mr := newTestQueue(t, Options{EnqueueTimeout: 200 * time.Millisecond})
	mr.Close()

	start := time.Now()
	_, err := q.Enqueue(context.Background(), "sendResetEmail", mailPayload{To: "a@example.com"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEnqueue_RequiresJobName(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})
	_, err := q.Enqueue(context.Background(), " ", mailPayload{})
	require.Error(t, err)
}

func TestRetryDead_RequeuesWithFreshAttempts(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{MaxAttempts: 1})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sendResetEmail", mailPayload{To: "ana@example.com"})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, 0)
	require.NoError(t, err)
	state, err := q.Nack(ctx, id, errors.New("boom"))
	require.NoError(t, err)
	require.Equal(t, StateFailed, state)

	require.NoError(t, q.RetryDead(ctx, id))
	assert.ErrorIs(t, q.RetryDead(ctx, id), ErrJobNotFound)

	job, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 1, job.Attempts)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{InFlight: 1}, stats)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 5 * time.Second, Max: time.Minute}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, time.Minute},
		{50, time.Minute},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, b.Delay(tc.attempt), "attempt %d", tc.attempt)
	}

	assert.Equal(t, time.Second, Backoff{}.Delay(3))
}

func TestBackoff_Schedule(t *testing.T) {
	assert.Equal(t,
		[]time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, time.Minute},
		Backoff{Base: 5 * time.Second, Max: time.Minute}.Schedule(),
	)
	assert.Equal(t, []time.Duration{time.Second}, Backoff{Base: time.Second, Max: time.Second}.Schedule())
	assert.Equal(t, []time.Duration{time.Second}, Backoff{}.Schedule())
}
