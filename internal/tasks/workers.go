package tasks

import (
	"context"

	"github.com/riverqueue/river"
)

// The workers are thin adapters: all behavior lives on Executor so it can be
// tested without a running queue.

type analyzeImageWorker struct {
	river.WorkerDefaults[AnalyzeImageArgs]
	exec *Executor
}

func (w *analyzeImageWorker) Work(ctx context.Context, job *river.Job[AnalyzeImageArgs]) error {
	return w.exec.AnalyzeImage(ctx, job.Args)
}

type analyzeTextWorker struct {
	river.WorkerDefaults[AnalyzeTextArgs]
	exec *Executor
}

func (w *analyzeTextWorker) Work(ctx context.Context, job *river.Job[AnalyzeTextArgs]) error {
	return w.exec.AnalyzeText(ctx, job.Args)
}

type refinementWorker struct {
	river.WorkerDefaults[RefinementArgs]
	exec *Executor
}

func (w *refinementWorker) Work(ctx context.Context, job *river.Job[RefinementArgs]) error {
	return w.exec.ProcessRefinement(ctx, job.Args)
}

// RegisterWorkers wires every task kind to the given executor.
func RegisterWorkers(workers *river.Workers, exec *Executor) error {
	if err := river.AddWorkerSafely(workers, &analyzeImageWorker{exec: exec}); err != nil {
		return err
	}
	if err := river.AddWorkerSafely(workers, &analyzeTextWorker{exec: exec}); err != nil {
		return err
	}
	return river.AddWorkerSafely(workers, &refinementWorker{exec: exec})
}
