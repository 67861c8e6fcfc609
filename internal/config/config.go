package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del API y del worker.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"9000"`
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	OTPSecret          string `env:"OTP_SECRET,required,notEmpty"`
	OTPIntervalMinutes int    `env:"OTP_INTERVAL_MINUTES" envDefault:"1"`

	JWTSecret            string `env:"JWT_SECRET"`
	JWTAccessTTLMinutes  int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"60"`
	JWTRefreshTTLMinutes int    `env:"JWT_REFRESH_TTL_MINUTES" envDefault:"10080"`

	RateLimitLimit  int64         `env:"RATE_LIMIT_LIMIT" envDefault:"10"`
	RateLimitPeriod time.Duration `env:"RATE_LIMIT_PERIOD" envDefault:"1m"`

	WorkerConfig
}

// WorkerConfig es el subconjunto que necesita el proceso worker.
type WorkerConfig struct {
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	QueueName           string        `env:"QUEUE_NAME" envDefault:"emailQueue"`
	QueueMaxAttempts    int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"5"`
	QueueBackoffBase    time.Duration `env:"QUEUE_BACKOFF_BASE" envDefault:"5s"`
	QueueBackoffMax     time.Duration `env:"QUEUE_BACKOFF_MAX" envDefault:"5m"`
	QueueLease          time.Duration `env:"QUEUE_LEASE" envDefault:"2m"`
	QueueEnqueueTimeout time.Duration `env:"QUEUE_ENQUEUE_TIMEOUT" envDefault:"2s"`
	QueueMaxReady       int64         `env:"QUEUE_MAX_READY" envDefault:"0"`
	QueueCompletedTTL   time.Duration `env:"QUEUE_COMPLETED_TTL" envDefault:"24h"`

	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	WorkerPollTimeout time.Duration `env:"WORKER_POLL_TIMEOUT" envDefault:"2s"`
	WorkerJobTimeout  time.Duration `env:"WORKER_JOB_TIMEOUT" envDefault:"30s"`
	WorkerMetricsAddr string        `env:"WORKER_METRICS_ADDR" envDefault:":9100"`

	// WorkerSettleTimeout acota el ack/nack posterior a cada job.
	WorkerSettleTimeout time.Duration `env:"WORKER_SETTLE_TIMEOUT" envDefault:"5s"`

	SMTPHost     string        `env:"SMTP_HOST"`
	SMTPPort     int           `env:"SMTP_PORT" envDefault:"465"`
	SMTPUser     string        `env:"SMTP_USER"`
	SMTPPass     string        `env:"SMTP_PASS"`
	SMTPFrom     string        `env:"SMTP_FROM"`
	SMTPFromName string        `env:"SMTP_FROM_NAME" envDefault:"Main Stack"`
	SMTPUseTLS   bool          `env:"SMTP_USE_TLS" envDefault:"true"`
	SMTPTimeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"15s"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.WorkerConfig.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWorkerConfig carga solo lo necesario para consumir la cola.
func LoadWorkerConfig() (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ErrLeaseTooShort indica que un job podria reentregarse mientras sigue en vuelo.
var ErrLeaseTooShort = errors.New("config: QUEUE_LEASE must exceed WORKER_JOB_TIMEOUT + WORKER_SETTLE_TIMEOUT")

// Validate controla que el lease de la cola cubra un intento completo.
func (c *WorkerConfig) Validate() error {
	if c.QueueLease <= c.WorkerJobTimeout+c.WorkerSettleTimeout {
		return fmt.Errorf("%w (lease %s, job timeout %s, settle timeout %s)",
			ErrLeaseTooShort, c.QueueLease, c.WorkerJobTimeout, c.WorkerSettleTimeout)
	}
	return nil
}

// OTPInterval devuelve la vigencia de un OTP de reseteo.
func (c *Config) OTPInterval() time.Duration {
	if c.OTPIntervalMinutes <= 0 {
		return time.Minute
	}
	return time.Duration(c.OTPIntervalMinutes) * time.Minute
}

// MailFrom devuelve la casilla remitente; si no hay SMTP_FROM se usa el usuario SMTP.
func (c *WorkerConfig) MailFrom() string {
	if c.SMTPFrom != "" {
		return c.SMTPFrom
	}
	return c.SMTPUser
}
