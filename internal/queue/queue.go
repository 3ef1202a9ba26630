// Package queue wraps the River client: a durable, at-least-once job queue
// living in the same Postgres database as the rest of the state. Job payloads
// survive restarts, so the args types in internal/tasks are a wire contract.
package queue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// Enqueuer is the narrow interface ingestion handlers depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, args river.JobArgs) error
}

type Queue struct {
	client *river.Client[pgx.Tx]
}

// New builds a River client over the shared pgx pool. Workers must already be
// registered on the passed set.
func New(pool *pgxpool.Pool, workers *river.Workers, maxWorkers int) (*Queue, error) {
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create queue client: %w", err)
	}
	return &Queue{client: client}, nil
}

// Migrate applies River's own schema (job tables) to the database.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator := rivermigrate.New(riverpgxv5.New(pool), nil)
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("failed to migrate queue schema: %w", err)
	}
	return nil
}

func (q *Queue) Enqueue(ctx context.Context, args river.JobArgs) error {
	if _, err := q.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", args.Kind(), err)
	}
	return nil
}

// Start begins fetching and working jobs.
func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

// Stop performs a graceful shutdown, letting running jobs finish.
func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

var _ Enqueuer = (*Queue)(nil)
