// queuectl inspecciona la cola de notificaciones y reencola jobs terminales.
//
//	queuectl stats
//	queuectl dead [limit]
//	queuectl show <id>
//	queuectl retry <id>...
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"main-stack/internal/config"
	"main-stack/internal/queue"
)

var errUsage = errors.New("usage: queuectl stats | dead [limit] | show <id> | retry <id>...")

type inspector interface {
	Name() string
	Stats(ctx context.Context) (queue.Stats, error)
	DeadJobs(ctx context.Context, limit int64) ([]string, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
	RetryDead(ctx context.Context, id string) error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	q, err := queue.New(rdb, cfg.QueueName, queue.Options{MaxAttempts: cfg.QueueMaxAttempts})
	if err != nil {
		log.Fatalf("queue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := run(ctx, q, os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, q inspector, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "stats":
		st, err := q.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "queue=%s ready=%d in_flight=%d delayed=%d dead=%d\n",
			q.Name(), st.Ready, st.InFlight, st.Delayed, st.Dead)
	case "dead":
		var limit int64
		if len(args) > 1 {
			n, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid limit %q: %w", args[1], err)
			}
			limit = n
		}
		ids, err := q.DeadJobs(ctx, limit)
		if err != nil {
			return err
		}
		for _, id := range ids {
			job, err := q.Get(ctx, id)
			if err != nil {
				fmt.Fprintf(out, "%s\t<missing>\n", id)
				continue
			}
			fmt.Fprintf(out, "%s\t%s\tattempts=%d\t%s\n", job.ID, job.Name, job.Attempts, job.LastError)
		}
	case "show":
		if len(args) != 2 {
			return errUsage
		}
		job, err := q.Get(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "id=%s name=%s state=%s attempts=%d/%d updated=%s\n",
			job.ID, job.Name, job.State, job.Attempts, job.MaxAttempts, job.UpdatedAt.Format(time.RFC3339))
		if job.LastError != "" {
			fmt.Fprintf(out, "last_error=%s\n", job.LastError)
		}
		fmt.Fprintf(out, "payload=%s\n", job.Payload)
	case "retry":
		if len(args) < 2 {
			return errUsage
		}
		for _, id := range args[1:] {
			if err := q.RetryDead(ctx, id); err != nil {
				return fmt.Errorf("retry %s: %w", id, err)
			}
			fmt.Fprintf(out, "requeued %s\n", id)
		}
	default:
		return errUsage
	}
	return nil
}
