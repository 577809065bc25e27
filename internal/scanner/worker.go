package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxvaer/pathhunter/internal/candidate"
	"golang.org/x/time/rate"
)

// ErrProbePanic marks a probe that panicked instead of returning a result.
var ErrProbePanic = errors.New("probe panicked")

// Prober issues one request for one candidate. Implementations must record
// transport failures in the result instead of failing.
type Prober interface {
	Probe(ctx context.Context, c candidate.Candidate) ProbeResult
}

// Counters tracks dispatch progress. Both fields only ever grow.
type Counters struct {
	Dispatched atomic.Int64
	Completed  atomic.Int64
}

// WorkerConfig holds options for the worker pool.
type WorkerConfig struct {
	Threads   int
	Timeout   time.Duration // per probe, applied on top of the prober's own
	Throttler *Throttler    // nil = no per-request delay
	Limiter   *rate.Limiter // nil = unlimited
	Pauser    *Pauser       // nil = no pause support
	Counters  *Counters     // nil = counters are not exported
	OnFatal   func(error)   // called when a probe panics
}

// RunWorkerPool starts cfg.Threads workers pulling candidates from cur and
// returns a channel of results. The channel is closed once every worker has
// exited, which happens when the cursor is exhausted or ctx is cancelled.
//
// Cancellation is only observed before a candidate is claimed. A claimed
// candidate is always probed to completion (bounded by the timeout) and
// always produces exactly one result, so Dispatched equals Completed once
// the channel is closed. The caller must drain the channel.
func RunWorkerPool(
	ctx context.Context,
	p Prober,
	cur *candidate.Cursor,
	cfg WorkerConfig,
) <-chan ProbeResult {
	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}
	counters := cfg.Counters
	if counters == nil {
		counters = &Counters{}
	}
	resultsCh := make(chan ProbeResult, threads*2)

	var wg sync.WaitGroup

	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if cfg.Pauser != nil && !cfg.Pauser.WaitContext(ctx) {
					return
				}

				if cfg.Throttler != nil {
					if delay := cfg.Throttler.Delay(); delay > 0 {
						select {
						case <-time.After(delay):
						case <-ctx.Done():
							return
						}
					}
				}

				if cfg.Limiter != nil {
					if err := cfg.Limiter.Wait(ctx); err != nil {
						return
					}
				}

				if ctx.Err() != nil {
					return
				}

				c, ok := cur.Next()
				if !ok {
					return
				}
				counters.Dispatched.Add(1)

				result := probeOnce(ctx, p, c, cfg)

				if cfg.Throttler != nil {
					if result.Err != nil {
						cfg.Throttler.RecordError()
					} else {
						cfg.Throttler.RecordStatus(result.StatusCode)
					}
				}

				counters.Completed.Add(1)
				resultsCh <- result
			}
		}()
	}

	// Closer: when all workers finish, close the results channel.
	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	return resultsCh
}

// probeOnce runs a single probe detached from ctx's cancellation so that an
// in-flight request finishes or times out on its own.
func probeOnce(ctx context.Context, p Prober, c candidate.Candidate, cfg WorkerConfig) (result ProbeResult) {
	reqCtx := context.WithoutCancel(ctx)
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %s: %v", ErrProbePanic, c.Path, r)
			result = ProbeResult{Candidate: c, Path: c.Path, Err: err}
			if cfg.OnFatal != nil {
				cfg.OnFatal(err)
			}
		}
	}()

	return p.Probe(reqCtx, c)
}
