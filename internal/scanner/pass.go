package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/distribution-tools/gcsweep/internal/gcerrors"
	"github.com/distribution-tools/gcsweep/internal/logging"
)

// passRunner executes one bounded-concurrency pass over a stream of string
// work items: a dispatcher loop acquires a semaphore slot per
// item then spawns a worker goroutine; the worker processes the item and,
// on completion, releases the slot and signals the item done. A failed item
// is re-enqueued; if the same item fails with the same error on
// deadLetterLimit consecutive attempts, the whole pass aborts with a
// KindScan error.
type passRunner struct {
	label           string
	capacity        int64
	deadLetterLimit int
	counters        *Counters
	logger          *slog.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	items chan string

	mu        sync.Mutex
	lastErr   map[string]string
	failCount map[string]int
	abortOnce sync.Once
	abortErr  error
	cancelFn  context.CancelFunc
}

func newPassRunner(label string, capacity int64, deadLetterLimit int, counters *Counters, logger *slog.Logger) *passRunner {
	return &passRunner{
		label:           label,
		capacity:        capacity,
		deadLetterLimit: deadLetterLimit,
		counters:        counters,
		logger:          logger,
		sem:             semaphore.NewWeighted(capacity),
		items:           make(chan string, 4096),
		lastErr:         make(map[string]string),
		failCount:       make(map[string]int),
	}
}

// run feeds items into the pass by invoking enumerate with a callback, then
// drains the queue until every item (and its re-enqueues) resolves. process
// is called once per attempt; a nil error marks the item permanently done.
func (p *passRunner) run(parent context.Context, enumerate func(emit func(string) error) error, process func(ctx context.Context, item string) error) error {
	ctx, cancel := context.WithCancel(parent)
	p.cancelFn = cancel
	defer cancel()

	// Pseudo-item for the producer itself, so wg can't hit zero before
	// enumeration finishes discovering every item.
	p.wg.Add(1)
	enumErrCh := make(chan error, 1)
	go func() {
		defer p.wg.Done()
		err := enumerate(func(id string) error {
			p.wg.Add(1)
			select {
			case p.items <- id:
				return nil
			case <-ctx.Done():
				p.wg.Done()
				return ctx.Err()
			}
		})
		enumErrCh <- err
	}()

	closed := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(p.items)
		close(closed)
	}()

	// Always drain p.items until the "closed" goroutine above closes it;
	// never stop early on ctx.Done(). Every item in the channel already
	// holds a pending wg.Add(1), so abandoning the channel on cancellation
	// would leave those counts undone and wg.Wait() would block forever.
	// Once ctx is canceled, sem.Acquire fails immediately for each
	// remaining item and it is drained via wg.Done() without running.
	for item := range p.items {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.wg.Done()
			continue
		}
		go p.worker(ctx, item, process)
	}

	<-closed

	if enumErr := <-enumErrCh; enumErr != nil && enumErr != context.Canceled {
		return gcerrors.New(gcerrors.KindScan, "scanner."+p.label, "enumeration failed", enumErr)
	}

	p.mu.Lock()
	abortErr := p.abortErr
	p.mu.Unlock()
	return abortErr
}

func (p *passRunner) worker(ctx context.Context, item string, process func(context.Context, string) error) {
	defer p.sem.Release(1)

	err := process(ctx, item)
	if err == nil {
		p.wg.Done()
		return
	}

	p.mu.Lock()
	if p.lastErr[item] == err.Error() {
		p.failCount[item]++
	} else {
		p.lastErr[item] = err.Error()
		p.failCount[item] = 1
	}
	count := p.failCount[item]
	p.mu.Unlock()

	if count >= p.deadLetterLimit {
		if p.counters != nil {
			p.counters.DeadLetters.WithLabelValues(p.label).Inc()
		}
		if p.logger != nil {
			p.logger.Warn("item dead-lettered", logging.Caller(ctx),
				slog.String("pass", p.label), slog.String("item", item), slog.Int("attempts", count), logging.Err(err))
		}
		p.mu.Lock()
		if p.abortErr == nil {
			p.abortErr = gcerrors.New(gcerrors.KindScan, "scanner."+p.label,
				fmt.Sprintf("item %q failed %d consecutive times", item, count), err)
		}
		p.mu.Unlock()
		p.abortOnce.Do(func() {
			if p.cancelFn != nil {
				p.cancelFn()
			}
		})
		p.wg.Done()
		return
	}

	if p.counters != nil {
		p.counters.Reenqueues.WithLabelValues(p.label).Inc()
	}
	if p.logger != nil {
		p.logger.Warn("re-enqueuing failed item", logging.Caller(ctx),
			slog.String("pass", p.label), slog.String("item", item), slog.Int("attempts", count), logging.Err(err))
	}
	select {
	case p.items <- item:
	case <-ctx.Done():
		p.wg.Done()
	}
}
