// Package bulk implements the batching write coordinator in front of the
// engine: actions accumulate until a count, byte-size or interval threshold
// fires, then flush as one pipelined batch with backoff retries on
// transport failure.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cdx-io/cdx/internal/db"
	"github.com/cdx-io/cdx/internal/metrics"
)

// ErrClosed is returned for submissions after Close.
var ErrClosed = errors.New("bulk: processor closed")

// Options tunes the coordinator. Zero values fall back to the documented
// defaults.
type Options struct {
	Name               string
	BulkActions        int           // flush after N queued actions (default 1000)
	BulkSizeBytes      int           // flush after queued payload bytes (default 5 MB)
	FlushInterval      time.Duration // periodic flush floor (default 5s)
	ConcurrentRequests int           // max in-flight batches (default 1)
	Backoff            Backoff

	// OnActionError reports an individual failed action. The batch as a
	// whole does not fail.
	OnActionError func(action db.BatchAction, err error)
	// BeforeFlush and AfterFlush observe each batch around its execution.
	BeforeFlush func(batch []db.BatchAction)
	AfterFlush  func(batch []db.BatchAction, errs []error)
}

func (o *Options) applyDefaults() {
	if o.BulkActions <= 0 {
		o.BulkActions = 1000
	}
	if o.BulkSizeBytes <= 0 {
		o.BulkSizeBytes = 5 * 1024 * 1024
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.ConcurrentRequests <= 0 {
		o.ConcurrentRequests = 1
	}
}

// Processor is the process-wide write coordinator. Submissions return once
// the action is queued, blocking only when ConcurrentRequests batches are
// already in flight.
type Processor struct {
	log   *zap.Logger
	store db.DocStore
	opts  Options

	mu          sync.Mutex
	queue       []db.BatchAction
	queuedBytes int
	closed      bool
	pending     int // batches taken from the queue but not yet executed
	idle        *sync.Cond

	inflight chan struct{}
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// NewProcessor starts a coordinator flushing into store. The periodic
// flusher runs until Close.
func NewProcessor(log *zap.Logger, store db.DocStore, opts Options) *Processor {
	opts.applyDefaults()
	p := &Processor{
		log:      log.Named("bulk"),
		store:    store,
		opts:     opts,
		inflight: make(chan struct{}, opts.ConcurrentRequests),
		stop:     make(chan struct{}),
	}
	p.idle = sync.NewCond(&p.mu)
	p.wg.Add(1)
	go p.flushLoop()
	return p
}

func (p *Processor) flushLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if batch := p.takeQueue(); len(batch) > 0 {
				metrics.BulkFlushesTotal.WithLabelValues("interval").Inc()
				p.send(context.Background(), batch)
			}
		case <-p.stop:
			return
		}
	}
}

// Add queues one action. Threshold crossings flush synchronously on the
// submitting goroutine, which is where backpressure applies.
func (p *Processor) Add(ctx context.Context, action db.BatchAction) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.queue = append(p.queue, action)
	p.queuedBytes += action.SizeInBytes()
	metrics.BulkQueueDepth.Set(float64(len(p.queue)))

	var batch []db.BatchAction
	var trigger string
	switch {
	case len(p.queue) >= p.opts.BulkActions:
		trigger = "actions"
	case p.queuedBytes >= p.opts.BulkSizeBytes:
		trigger = "size"
	}
	if trigger != "" {
		batch = p.queue
		p.queue = nil
		p.queuedBytes = 0
		p.pending++
		metrics.BulkQueueDepth.Set(0)
	}
	p.mu.Unlock()

	if len(batch) > 0 {
		metrics.BulkFlushesTotal.WithLabelValues(trigger).Inc()
		p.send(ctx, batch)
	}
	return nil
}

// Flush sends everything queued and waits until every taken batch has
// executed, including batches the interval flusher took but which are
// still waiting for an in-flight slot. After Flush returns, all
// previously accepted writes have been attempted.
func (p *Processor) Flush(ctx context.Context) {
	if batch := p.takeQueue(); len(batch) > 0 {
		metrics.BulkFlushesTotal.WithLabelValues("flush").Inc()
		p.send(ctx, batch)
	}
	p.drain()
}

// Close flushes pending actions, awaits in-flight batches and rejects
// further submissions.
func (p *Processor) Close(ctx context.Context) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stop) })

	if batch := p.takeQueue(); len(batch) > 0 {
		metrics.BulkFlushesTotal.WithLabelValues("close").Inc()
		p.send(ctx, batch)
	}
	p.wg.Wait()
}

// takeQueue removes the queued actions and registers them as a pending
// batch, so drain covers the batch from the moment it leaves the queue,
// not from the moment it gets an in-flight slot.
func (p *Processor) takeQueue() []db.BatchAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	batch := p.queue
	p.queue = nil
	p.queuedBytes = 0
	if len(batch) > 0 {
		p.pending++
	}
	metrics.BulkQueueDepth.Set(0)
	return batch
}

// drain waits until every taken batch has been executed, including
// batches still waiting for an in-flight slot.
func (p *Processor) drain() {
	p.mu.Lock()
	for p.pending > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

// send acquires an in-flight slot (backpressure) and executes the batch
// asynchronously with transport-level retries. The caller must have
// registered the batch as pending when taking it from the queue.
func (p *Processor) send(ctx context.Context, batch []db.BatchAction) {
	p.inflight <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.inflight }()
		p.execute(ctx, batch)
		p.mu.Lock()
		p.pending--
		if p.pending == 0 {
			p.idle.Broadcast()
		}
		p.mu.Unlock()
	}()
}

func (p *Processor) execute(ctx context.Context, batch []db.BatchAction) {
	if p.opts.BeforeFlush != nil {
		p.opts.BeforeFlush(batch)
	}
	for attempt := 0; ; attempt++ {
		errs := p.store.DoBatch(ctx, batch)

		if transportError(errs) {
			delay, retry := p.opts.Backoff.Delay(attempt)
			if retry {
				metrics.BulkRetriesTotal.Inc()
				p.log.Warn("bulk batch failed, retrying",
					zap.Int("actions", len(batch)),
					zap.Int("attempt", attempt+1),
					zap.Duration("delay", delay),
					zap.Error(errs[0]))
				select {
				case <-time.After(delay):
					continue
				case <-p.stop:
				}
			}
		}

		p.report(batch, errs)
		if p.opts.AfterFlush != nil {
			p.opts.AfterFlush(batch, errs)
		}
		return
	}
}

// transportError reports whether the whole batch failed with one underlying
// error, the signature of a connection-level failure. Mixed results are
// per-action failures and are not retried.
func transportError(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	first := errs[0]
	if first == nil {
		return false
	}
	for _, err := range errs[1:] {
		if err == nil || err.Error() != first.Error() {
			return false
		}
	}
	return true
}

func (p *Processor) report(batch []db.BatchAction, errs []error) {
	for i, action := range batch {
		var err error
		if i < len(errs) {
			err = errs[i]
		}
		if err != nil {
			metrics.BulkActionsTotal.WithLabelValues(opLabel(action.Op), "error").Inc()
			p.log.Error("bulk action failed",
				zap.String("key", action.Key),
				zap.Error(err))
			if p.opts.OnActionError != nil {
				p.opts.OnActionError(action, err)
			}
			continue
		}
		metrics.BulkActionsTotal.WithLabelValues(opLabel(action.Op), "ok").Inc()
	}
}

func opLabel(op db.BatchOp) string {
	switch op {
	case db.BatchSet:
		return "set"
	case db.BatchMerge:
		return "merge"
	case db.BatchDel:
		return "del"
	case db.BatchScript:
		return "script"
	}
	return "unknown"
}

// ParseByteSize parses sizes like "5MB", "512kb" or a bare byte count.
func ParseByteSize(s string) (int, error) {
	v := strings.TrimSpace(strings.ToLower(s))
	unit := 1
	switch {
	case strings.HasSuffix(v, "gb"):
		unit, v = 1024*1024*1024, strings.TrimSuffix(v, "gb")
	case strings.HasSuffix(v, "mb"):
		unit, v = 1024*1024, strings.TrimSuffix(v, "mb")
	case strings.HasSuffix(v, "kb"):
		unit, v = 1024, strings.TrimSuffix(v, "kb")
	case strings.HasSuffix(v, "b"):
		v = strings.TrimSuffix(v, "b")
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("unparseable size %q", s)
	}
	return n * unit, nil
}
