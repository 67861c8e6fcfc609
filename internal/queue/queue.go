// Package queue implementa una cola de jobs durable sobre Redis con entrega
// at-least-once.
//
// Layout de claves para una cola llamada N:
//
//	queue:N:ready       LIST  ids listos (LPUSH al encolar, RPOP al consumir)
//	queue:N:processing  LIST  ids en vuelo
//	queue:N:leases      ZSET  id -> vencimiento del lease (ms)
//	queue:N:delayed     ZSET  id -> momento del proximo reintento (ms)
//	queue:N:dead        LIST  ids en estado terminal
//	queue:N:job:<id>    HASH  estado del job
//
// Un job en vuelo cuyo lease vence vuelve a ready en el proximo Dequeue de
// cualquier consumidor. Los scripts arman claves de job a partir del prefijo,
// por lo que la cola asume un Redis sin cluster.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

type State string

const (
	StateEnqueued  State = "enqueued"
	StateInFlight  State = "in-flight"
	StateCompleted State = "completed"
	StateRetryable State = "failed-retryable"
	StateFailed    State = "failed-terminal"
)

var (
	ErrNoJob       = errors.New("queue: no job available")
	ErrJobNotFound = errors.New("queue: job not found")
	ErrQueueFull   = errors.New("queue: full")
)

const maintainBatch = 100

// Job es un job tal como lo ve un consumidor.
type Job struct {
	ID          string
	Name        string
	Payload     json.RawMessage
	Attempts    int
	MaxAttempts int
	State       State
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Decode deserializa el payload del job en v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// Options ajusta la politica de reintentos y los timeouts de la cola.
type Options struct {
	MaxAttempts    int
	Backoff        Backoff
	Lease          time.Duration
	EnqueueTimeout time.Duration
	// MaxReady limita la cantidad de jobs listos; 0 = sin limite.
	MaxReady     int64
	CompletedTTL time.Duration
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Backoff.Base <= 0 {
		o.Backoff.Base = 5 * time.Second
	}
	if o.Backoff.Max <= 0 {
		o.Backoff.Max = 5 * time.Minute
	}
	if o.Lease <= 0 {
		o.Lease = 2 * time.Minute
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = 2 * time.Second
	}
	if o.CompletedTTL < 0 {
		o.CompletedTTL = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type keys struct {
	ready      string
	processing string
	leases     string
	delayed    string
	dead       string
	jobPrefix  string
}

// Queue es una cola nombrada respaldada por Redis.
type Queue struct {
	rdb  redis.UniversalClient
	name string
	keys keys
	opts Options
}

func New(rdb redis.UniversalClient, name string, opts Options) (*Queue, error) {
	if rdb == nil {
		return nil, errors.New("queue: redis client is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("queue: name is required")
	}
	base := "queue:" + name + ":"
	return &Queue{
		rdb:  rdb,
		name: name,
		keys: keys{
			ready:      base + "ready",
			processing: base + "processing",
			leases:     base + "leases",
			delayed:    base + "delayed",
			dead:       base + "dead",
			jobPrefix:  base + "job:",
		},
		opts: opts.withDefaults(),
	}, nil
}

func (q *Queue) Name() string { return q.name }

// Enqueue persiste un job nuevo y devuelve su id. No espera a ningun
// consumidor y esta acotado por Options.EnqueueTimeout.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("queue: job name is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: marshal %s payload: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, q.opts.EnqueueTimeout)
	defer cancel()

	id := ulid.Make().String()
	ok, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.keys.ready, q.jobKey(id)},
		id, name, data, q.opts.MaxAttempts, q.nowMillis(), q.opts.MaxReady,
	).Int()
	if err != nil {
		return "", fmt.Errorf("queue: enqueue %s: %w", name, err)
	}
	if ok == 0 {
		return "", ErrQueueFull
	}
	return id, nil
}

// Dequeue toma el proximo job listo y lo marca en vuelo con un lease nuevo.
// Bloquea hasta wait; con wait <= 0 no bloquea. Devuelve ErrNoJob si no hay
// nada para procesar.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*Job, error) {
	if err := q.maintain(ctx); err != nil {
		return nil, err
	}

	var (
		id  string
		err error
	)
	if wait > 0 {
		id, err = q.rdb.BRPopLPush(ctx, q.keys.ready, q.keys.processing, wait).Result()
	} else {
		id, err = q.rdb.RPopLPush(ctx, q.keys.ready, q.keys.processing).Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}

	now := q.now()
	fields, err := claimScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.keys.leases, q.keys.processing},
		id, millis(now), millis(now.Add(q.opts.Lease)),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("queue: claim %s: %w", id, err)
	}
	return parseJob(pairsToMap(fields))
}

// Ack marca el job como completado y lo saca de la cola.
func (q *Queue) Ack(ctx context.Context, id string) error {
	ttl := int64(q.opts.CompletedTTL / time.Second)
	ok, err := ackScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.keys.processing, q.keys.leases, q.keys.ready, q.keys.delayed},
		id, q.nowMillis(), ttl,
	).Int()
	if err != nil {
		return fmt.Errorf("queue: ack %s: %w", id, err)
	}
	if ok == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Nack registra un intento fallido. Si quedan intentos el job se reprograma
// con backoff exponencial; si no, pasa al estado terminal. La decision se toma
// en el mismo script que cambia el estado.
func (q *Queue) Nack(ctx context.Context, id string, cause error) (State, error) {
	return q.settle(ctx, id, false, cause)
}

// Fail pasa el job directamente al estado terminal, sin reintentos.
func (q *Queue) Fail(ctx context.Context, id string, cause error) error {
	_, err := q.settle(ctx, id, true, cause)
	return err
}

func (q *Queue) settle(ctx context.Context, id string, terminal bool, cause error) (State, error) {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	flag := "0"
	if terminal {
		flag = "1"
	}
	args := []any{id, q.nowMillis(), reason, flag}
	for _, d := range q.opts.Backoff.Schedule() {
		args = append(args, d.Milliseconds())
	}

	res, err := nackScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.keys.processing, q.keys.leases, q.keys.ready, q.keys.delayed, q.keys.dead},
		args...,
	).Int()
	if err != nil {
		return "", fmt.Errorf("queue: settle %s: %w", id, err)
	}
	switch res {
	case 0:
		return "", ErrJobNotFound
	case 2:
		return StateFailed, nil
	default:
		return StateRetryable, nil
	}
}

// Get devuelve el estado actual de un job.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: get %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return parseJob(fields)
}

// Stats resume cuantos jobs hay en cada estado activo.
type Stats struct {
	Ready    int64
	InFlight int64
	Delayed  int64
	Dead     int64
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var ready, inFlight, delayed, dead *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		ready = p.LLen(ctx, q.keys.ready)
		inFlight = p.LLen(ctx, q.keys.processing)
		delayed = p.ZCard(ctx, q.keys.delayed)
		dead = p.LLen(ctx, q.keys.dead)
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue: stats: %w", err)
	}
	return Stats{
		Ready:    ready.Val(),
		InFlight: inFlight.Val(),
		Delayed:  delayed.Val(),
		Dead:     dead.Val(),
	}, nil
}

// DeadJobs lista hasta limit ids en estado terminal, del mas viejo al mas nuevo.
func (q *Queue) DeadJobs(ctx context.Context, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := q.rdb.LRange(ctx, q.keys.dead, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: dead jobs: %w", err)
	}
	return ids, nil
}

// RetryDead devuelve un job terminal a ready con el contador de intentos en cero.
func (q *Queue) RetryDead(ctx context.Context, id string) error {
	ok, err := retryDeadScript.Run(ctx, q.rdb,
		[]string{q.keys.dead, q.keys.ready, q.jobKey(id)},
		id, q.nowMillis(),
	).Int()
	if err != nil {
		return fmt.Errorf("queue: retry dead %s: %w", id, err)
	}
	if ok == 0 {
		return ErrJobNotFound
	}
	return nil
}

// maintain promueve reintentos vencidos y recupera jobs con lease vencido.
func (q *Queue) maintain(ctx context.Context) error {
	now := q.now()
	err := maintainScript.Run(ctx, q.rdb,
		[]string{q.keys.delayed, q.keys.ready, q.keys.processing, q.keys.leases, q.keys.dead},
		millis(now), millis(now.Add(q.opts.Lease)), q.keys.jobPrefix, maintainBatch,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("queue: maintain: %w", err)
	}
	return nil
}

func (q *Queue) jobKey(id string) string { return q.keys.jobPrefix + id }

func (q *Queue) now() time.Time { return q.opts.Now().UTC() }

func (q *Queue) nowMillis() string { return millis(q.now()) }

func millis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func pairsToMap(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[pairs[i]] = pairs[i+1]
	}
	return out
}

func parseJob(f map[string]string) (*Job, error) {
	if f["id"] == "" {
		return nil, ErrJobNotFound
	}
	return &Job{
		ID:          f["id"],
		Name:        f["name"],
		Payload:     json.RawMessage(f["payload"]),
		Attempts:    atoi(f["attempts"]),
		MaxAttempts: atoi(f["max_attempts"]),
		State:       State(f["state"]),
		LastError:   f["last_error"],
		CreatedAt:   parseMillis(f["created_at"]),
		UpdatedAt:   parseMillis(f["updated_at"]),
	}, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseMillis(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}
