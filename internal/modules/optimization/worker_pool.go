package optimization

import (
	"context"
	"runtime"
	"sync"
)

// WorkerPool manages a pool of worker goroutines for parallel frontier solves
type WorkerPool struct {
	numWorkers int
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// Zero or negative means one worker per CPU.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &WorkerPool{
		numWorkers: numWorkers,
	}
}

// Workers returns the pool size
func (wp *WorkerPool) Workers() int {
	return wp.numWorkers
}

// SolveTargets runs solve for every target return in parallel and returns the
// frontier points in the same order as targets. A target whose solve fails,
// or that is reached after ctx is cancelled, yields a point with nil risk.
func (wp *WorkerPool) SolveTargets(
	ctx context.Context,
	targets []float64,
	solve func(ctx context.Context, target float64) ([]float64, float64, error),
) []FrontierPoint {
	numTargets := len(targets)
	if numTargets == 0 {
		return []FrontierPoint{}
	}

	jobs := make(chan targetJob, numTargets)
	results := make(chan targetResult, numTargets)

	var wg sync.WaitGroup
	numActualWorkers := wp.numWorkers
	if numTargets < numActualWorkers {
		numActualWorkers = numTargets
	}

	for i := 0; i < numActualWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			targetWorker(ctx, jobs, results, solve)
		}()
	}

	for idx, target := range targets {
		jobs <- targetJob{index: idx, target: target}
	}
	close(jobs)

	wg.Wait()
	close(results)

	points := make([]FrontierPoint, numTargets)
	for result := range results {
		points[result.index] = result.point
	}
	return points
}

// targetJob is a single frontier target
type targetJob struct {
	target float64
	index  int
}

// targetResult is the solved point for a target
type targetResult struct {
	point FrontierPoint
	index int
}

func targetWorker(
	ctx context.Context,
	jobs <-chan targetJob,
	results chan<- targetResult,
	solve func(ctx context.Context, target float64) ([]float64, float64, error),
) {
	for job := range jobs {
		point := FrontierPoint{TargetReturn: job.target}
		if ctx.Err() == nil {
			if weights, risk, err := solve(ctx, job.target); err == nil {
				point.Risk = &risk
				point.Weights = weights
			}
		}
		results <- targetResult{index: job.index, point: point}
	}
}
