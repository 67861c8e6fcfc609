package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"main-stack/internal/metrics"
	"main-stack/internal/queue"
)

var ErrUnknownJob = errors.New("worker: no handler registered for job")

// Queue es la parte de la cola que usa el worker.
type Queue interface {
	Name() string
	Dequeue(ctx context.Context, wait time.Duration) (*queue.Job, error)
	Ack(ctx context.Context, id string) error
	Nack(ctx context.Context, id string, cause error) (queue.State, error)
	Fail(ctx context.Context, id string, cause error) error
	Stats(ctx context.Context) (queue.Stats, error)
}

// Handler procesa un job. Un error devuelto se trata como intento fallido.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job) error
}

type HandlerFunc func(ctx context.Context, job *queue.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *queue.Job) error { return f(ctx, job) }

// Result es el resultado de un intento, consumido por el loop de despacho.
type Result struct {
	JobID    string
	Name     string
	Attempt  int
	Err      error
	Duration time.Duration
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marca err como no reintentable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type Options struct {
	Concurrency int
	// PollTimeout es la espera bloqueante de cada Dequeue; con 0 se hace polling.
	PollTimeout time.Duration
	// IdlePause es la pausa tras un polling vacio cuando PollTimeout es 0.
	IdlePause     time.Duration
	JobTimeout    time.Duration
	SettleTimeout time.Duration
	ErrorBackoff  time.Duration
	StatsInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.PollTimeout <= 0 && o.IdlePause <= 0 {
		o.IdlePause = 100 * time.Millisecond
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 30 * time.Second
	}
	if o.SettleTimeout <= 0 {
		o.SettleTimeout = 5 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = time.Second
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = 15 * time.Second
	}
	return o
}

// Worker consume jobs de una cola con concurrencia acotada.
type Worker struct {
	q        Queue
	handlers map[string]Handler
	sem      *semaphore.Weighted
	logger   *zap.Logger
	metrics  *metrics.Worker
	opts     Options
}

// New crea un worker. m puede ser nil.
func New(q Queue, logger *zap.Logger, m *metrics.Worker, opts Options) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Worker{
		q:        q,
		handlers: make(map[string]Handler),
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
		logger:   logger,
		metrics:  m,
		opts:     opts,
	}
}

// Register asocia un handler a un nombre de job. Debe llamarse antes de Run.
func (w *Worker) Register(name string, h Handler) {
	w.handlers[name] = h
}

func (w *Worker) RegisterFunc(name string, fn func(ctx context.Context, job *queue.Job) error) {
	w.Register(name, HandlerFunc(fn))
}

// Run consume jobs hasta que ctx se cancela. Los jobs en vuelo terminan y se
// confirman antes de volver.
func (w *Worker) Run(ctx context.Context) error {
	if w.q == nil {
		return errors.New("worker: queue is required")
	}
	w.logger.Info("worker started",
		zap.String("queue", w.q.Name()),
		zap.Int("concurrency", w.opts.Concurrency),
	)

	results := make(chan Result, w.opts.Concurrency)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		w.dispatch(context.WithoutCancel(ctx), results)
	}()

	var sampler sync.WaitGroup
	if w.metrics != nil {
		sampler.Add(1)
		go func() {
			defer sampler.Done()
			w.sampleStats(ctx)
		}()
	}

	var inflight sync.WaitGroup
	for {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			break
		}
		job, err := w.q.Dequeue(ctx, w.opts.PollTimeout)
		if err != nil {
			w.sem.Release(1)
			if ctx.Err() != nil {
				break
			}
			pause := w.opts.IdlePause
			if !errors.Is(err, queue.ErrNoJob) {
				w.logger.Warn("dequeue failed", zap.String("queue", w.q.Name()), zap.Error(err))
				pause = w.opts.ErrorBackoff
			}
			if pause > 0 && !sleep(ctx, pause) {
				break
			}
			continue
		}

		inflight.Add(1)
		go func(job *queue.Job) {
			defer inflight.Done()
			results <- w.process(ctx, job)
		}(job)
	}

	inflight.Wait()
	close(results)
	<-dispatched
	sampler.Wait()
	w.logger.Info("worker stopped", zap.String("queue", w.q.Name()))
	return nil
}

func (w *Worker) process(ctx context.Context, job *queue.Job) (res Result) {
	res = Result{JobID: job.ID, Name: job.Name, Attempt: job.Attempts}
	start := time.Now()

	if w.metrics != nil {
		w.metrics.JobsInFlight.Inc()
		defer w.metrics.JobsInFlight.Dec()
	}

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("handler panic: %v", r)
			w.logger.Error("handler panic recovered",
				zap.String("job_id", job.ID),
				zap.String("job", job.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
		res.Duration = time.Since(start)
	}()

	h, ok := w.handlers[job.Name]
	if !ok {
		res.Err = Permanent(fmt.Errorf("%w: %s", ErrUnknownJob, job.Name))
		return res
	}
	res.Err = h.Handle(jobCtx, job)
	return res
}

func (w *Worker) dispatch(ctx context.Context, results <-chan Result) {
	for res := range results {
		w.settle(ctx, res)
		w.sem.Release(1)
	}
}

func (w *Worker) settle(ctx context.Context, res Result) {
	ctx, cancel := context.WithTimeout(ctx, w.opts.SettleTimeout)
	defer cancel()

	fields := []zap.Field{
		zap.String("job_id", res.JobID),
		zap.String("job", res.Name),
		zap.Int("attempt", res.Attempt),
		zap.Duration("duration", res.Duration),
	}

	if res.Err == nil {
		if err := w.q.Ack(ctx, res.JobID); err != nil {
			// sin ack el lease vence y el job se vuelve a entregar
			w.logger.Error("ack failed", append(fields, zap.Error(err))...)
			return
		}
		w.logger.Info("job completed", append(fields, zap.String("state", string(queue.StateCompleted)))...)
		w.observe(res, queue.StateCompleted)
		return
	}

	var (
		state queue.State
		err   error
	)
	if IsPermanent(res.Err) {
		state, err = queue.StateFailed, w.q.Fail(ctx, res.JobID, res.Err)
	} else {
		state, err = w.q.Nack(ctx, res.JobID, res.Err)
	}
	fields = append(fields, zap.NamedError("cause", res.Err))
	if err != nil {
		w.logger.Error("nack failed", append(fields, zap.Error(err))...)
		return
	}

	fields = append(fields, zap.String("state", string(state)))
	if state == queue.StateFailed {
		w.logger.Error("job failed permanently", fields...)
	} else {
		w.logger.Warn("job failed, will retry", fields...)
	}
	w.observe(res, state)
}

func (w *Worker) observe(res Result, state queue.State) {
	if w.metrics == nil {
		return
	}
	w.metrics.ObserveJob(res.Name, string(state), res.Duration)
}

func (w *Worker) sampleStats(ctx context.Context) {
	ticker := time.NewTicker(w.opts.StatsInterval)
	defer ticker.Stop()
	for {
		w.recordStats(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) recordStats(ctx context.Context) {
	stats, err := w.q.Stats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("queue stats failed", zap.Error(err))
		}
		return
	}
	w.metrics.RecordQueueDepth(w.q.Name(), stats.Ready, stats.InFlight, stats.Delayed, stats.Dead)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
