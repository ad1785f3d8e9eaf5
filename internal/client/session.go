package client

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tabletdb/internal/metrics"
	"tabletdb/internal/status"
	"tabletdb/internal/tablet"
	"tabletdb/internal/wire"
)

// FlushMode controls when a session transmits buffered writes.
type FlushMode int

const (
	// AutoFlushSync transmits every Apply inline; Flush is a no-op.
	AutoFlushSync FlushMode = iota
	// AutoFlushBackground buffers and transmits in the background; Apply
	// blocks when the buffer is full.
	AutoFlushBackground
	// ManualFlush buffers until an explicit Flush; Apply fails with
	// ServiceUnavailable when the buffer is full.
	ManualFlush
)

func (m FlushMode) String() string {
	switch m {
	case AutoFlushSync:
		return "auto_flush_sync"
	case AutoFlushBackground:
		return "auto_flush_background"
	case ManualFlush:
		return "manual_flush"
	default:
		return "unknown"
	}
}

// StatusCallback receives the final status of one asynchronous operation.
// It may run on a background goroutine or inline on the calling thread and
// must not block.
type StatusCallback func(error)

const (
	// DefaultMutationBufferSpace bounds buffered bytes per session.
	DefaultMutationBufferSpace = 7 * 1024 * 1024

	defaultSessionTimeout = 30 * time.Second
	defaultFlushInterval  = 100 * time.Millisecond
)

type pendingOp struct {
	op *Op
	cb StatusCallback
}

// Session is the vehicle for submitting writes: it buffers operations per
// its flush mode, accumulates background errors, and bounds its buffer.
// Sessions are not thread-safe except for the error-retrieval methods; each
// belongs to the client that created it and must not outlive it.
type Session struct {
	client *Client

	mu   sync.Mutex
	cond *sync.Cond

	mode          FlushMode
	bufferSpace   int
	timeout       time.Duration
	priority      int
	flushInterval time.Duration

	buffer      []pendingOp
	bufferBytes int
	inFlight    int
	flushing    bool
	closed      bool

	flushTimer *time.Timer

	failures atomic.Uint64
	errors   *errorCollector
}

func newSession(c *Client) *Session {
	s := &Session{
		client:        c,
		mode:          AutoFlushSync,
		bufferSpace:   DefaultMutationBufferSpace,
		timeout:       defaultSessionTimeout,
		flushInterval: defaultFlushInterval,
		errors:        newErrorCollector(defaultErrorCapacity),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetFlushMode changes the flush mode. Fails with InvalidArgument while
// operations are buffered or in flight.
func (s *Session) SetFlushMode(m FlushMode) error {
	if m != AutoFlushSync && m != AutoFlushBackground && m != ManualFlush {
		return status.InvalidArgument("unknown flush mode %d", int(m))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) > 0 || s.inFlight > 0 {
		return status.InvalidArgument("cannot change flush mode with pending operations")
	}
	s.mode = m
	return nil
}

// SetMutationBufferSpace bounds the bytes this session may buffer.
func (s *Session) SetMutationBufferSpace(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bufferSpace = bytes
}

// SetTimeoutMillis bounds each write call made by this session.
func (s *Session) SetTimeoutMillis(millis int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = time.Duration(millis) * time.Millisecond
}

// SetPriority is advisory; the dispatcher is not yet priority-aware.
func (s *Session) SetPriority(priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priority = priority
}

// HasPendingOperations reports whether any operations are buffered or in
// flight.
func (s *Session) HasPendingOperations() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer) > 0 || s.inFlight > 0 || s.flushing
}

// CountPendingErrors returns the length of the pending-error list.
func (s *Session) CountPendingErrors() int {
	return s.errors.Count()
}

// GetPendingErrors moves the accumulated errors out. overflowed is true iff
// errors were dropped since the last retrieval.
func (s *Session) GetPendingErrors() (errs []PendingError, overflowed bool) {
	return s.errors.Drain()
}

// Apply submits one operation per the current flush mode. On success the
// session owns the op; on failure the caller's handle remains valid.
func (s *Session) Apply(op *Op) error {
	if err := s.precheck(op); err != nil {
		metrics.SessionApplies.WithLabelValues(s.modeName(), "invalid").Inc()
		return err
	}

	switch s.currentMode() {
	case AutoFlushSync:
		err := s.syncApply(op)
		if err != nil {
			metrics.SessionApplies.WithLabelValues("auto_flush_sync", "error").Inc()
		} else {
			metrics.SessionApplies.WithLabelValues("auto_flush_sync", "ok").Inc()
		}
		return err
	default:
		return s.bufferOp(op, nil, true)
	}
}

// ApplyAsync is the non-blocking form of Apply: cb receives the final
// per-operation status.
func (s *Session) ApplyAsync(op *Op, cb StatusCallback) {
	if err := s.precheck(op); err != nil {
		cb(err)
		return
	}

	switch s.currentMode() {
	case AutoFlushSync:
		go func() { cb(s.syncApply(op)) }()
	case AutoFlushBackground:
		if err := s.bufferOp(op, cb, false); status.IsServiceUnavailable(err) {
			// Buffer is full: take the blocking path off-thread.
			go func() {
				if err := s.bufferOp(op, cb, true); err != nil {
					cb(err)
				}
			}()
		} else if err != nil {
			cb(err)
		}
	default:
		if err := s.bufferOp(op, cb, false); err != nil {
			cb(err)
		}
	}
}

func (s *Session) precheck(op *Op) error {
	if op == nil || op.table == nil {
		return status.InvalidArgument("operation has no table")
	}
	if op.table.client != s.client {
		return status.InvalidArgument("operation belongs to a different client")
	}
	return op.validate()
}

func (s *Session) currentMode() FlushMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) modeName() string {
	return s.currentMode().String()
}

// bufferOp enqueues an op in a buffered mode. With block set, a full buffer
// in background mode waits for space; otherwise fullness is
// ServiceUnavailable.
func (s *Session) bufferOp(op *Op, cb StatusCallback, block bool) error {
	size := op.sizeBytes()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return status.IllegalState("session is closed")
	}
	if size > s.bufferSpace {
		return status.InvalidArgument("operation of %d bytes exceeds the %d-byte buffer",
			size, s.bufferSpace)
	}

	for s.bufferBytes+size > s.bufferSpace {
		if s.mode == ManualFlush || !block {
			metrics.SessionApplies.WithLabelValues(s.mode.String(), "buffer_full").Inc()
			return status.ServiceUnavailable("mutation buffer is full (%d of %d bytes)",
				s.bufferBytes, s.bufferSpace)
		}
		metrics.SessionFlushesTotal.WithLabelValues("buffer_full").Inc()
		s.startFlusherLocked()
		s.cond.Wait()
		if s.closed {
			return status.Aborted("session closed while waiting for buffer space")
		}
	}

	s.buffer = append(s.buffer, pendingOp{op: op, cb: cb})
	s.bufferBytes += size
	metrics.SessionBufferBytes.Add(float64(size))
	metrics.SessionApplies.WithLabelValues(s.mode.String(), "buffered").Inc()

	if s.mode == AutoFlushBackground && s.flushTimer == nil {
		s.flushTimer = time.AfterFunc(s.flushInterval, s.timerFlush)
	}
	return nil
}

func (s *Session) timerFlush() {
	s.mu.Lock()
	s.flushTimer = nil
	if len(s.buffer) > 0 {
		metrics.SessionFlushesTotal.WithLabelValues("timer").Inc()
		s.startFlusherLocked()
	}
	s.mu.Unlock()
}

// startFlusherLocked launches the single background drain loop if it is
// not already running.
func (s *Session) startFlusherLocked() {
	if s.flushing || len(s.buffer) == 0 {
		return
	}
	s.flushing = true
	go s.drainLoop()
}

// drainLoop transmits buffered batches until the buffer stays empty.
// Batches leave in submission order, so per-tablet ordering holds.
func (s *Session) drainLoop() {
	s.mu.Lock()
	for len(s.buffer) > 0 {
		batch := s.buffer
		s.buffer = nil
		batchBytes := 0
		for _, po := range batch {
			batchBytes += po.op.sizeBytes()
		}
		s.inFlight += len(batch)
		timeout := s.timeout
		s.mu.Unlock()

		s.transmit(batch, timeout)

		// Buffer space stays reserved until the batch is acknowledged, so
		// a blocked Apply resumes only once the flush completed.
		s.mu.Lock()
		s.inFlight -= len(batch)
		s.bufferBytes -= batchBytes
		metrics.SessionBufferBytes.Sub(float64(batchBytes))
		s.cond.Broadcast()
	}
	s.flushing = false
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Flush drains all buffered and in-flight operations. Returns OK iff every
// operation drained by this call succeeded; details go to the pending-error
// list.
func (s *Session) Flush() error {
	before := s.failures.Load()

	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	metrics.SessionFlushesTotal.WithLabelValues("manual").Inc()
	s.startFlusherLocked()
	for s.flushing || s.inFlight > 0 || len(s.buffer) > 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()

	if failed := s.failures.Load() - before; failed > 0 {
		return status.IOError("%d operations failed; see GetPendingErrors", failed)
	}
	return nil
}

// FlushAsync is the non-blocking form of Flush.
func (s *Session) FlushAsync(cb StatusCallback) {
	go func() { cb(s.Flush()) }()
}

// Close detaches the session. Fails with IllegalState while operations are
// buffered or in flight; callers must Flush first.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) > 0 || s.inFlight > 0 || s.flushing {
		return status.IllegalState("session has pending operations; Flush before Close")
	}
	if s.closed {
		return nil
	}
	s.closed = true
	s.buffer = nil
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.cond.Broadcast()
	s.client.detachSession(s)
	return nil
}

// syncApply transmits one op inline and surfaces the precise server status.
func (s *Session) syncApply(op *Op) error {
	s.mu.Lock()
	s.inFlight++
	timeout := s.timeout
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	key, err := op.encodedKey()
	if err != nil {
		return err
	}
	rt, err := s.client.metaCache.LookupTabletForKey(ctx, op.table.name, key)
	if err != nil {
		return err
	}
	resp, err := s.writeToTablet(ctx, rt, op.table, []pendingOp{{op: op}})
	if err != nil {
		return err
	}
	if len(resp.PerRowErrors) > 0 {
		re := resp.PerRowErrors[0]
		return status.FromCode(status.CodeFromString(re.Code), "%s", re.Message)
	}
	return nil
}

// transmit groups a batch by destination tablet and ships one write RPC per
// tablet, recording failures in the pending-error list.
func (s *Session) transmit(batch []pendingOp, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type tabletGroup struct {
		rt    *RemoteTablet
		table *Table
		ops   []pendingOp
	}
	groups := make(map[string]*tabletGroup)
	order := make([]string, 0, 4)

	for _, po := range batch {
		key, err := po.op.encodedKey()
		if err != nil {
			s.failOp(po, err)
			continue
		}
		rt, err := s.client.metaCache.LookupTabletForKey(ctx, po.op.table.name, key)
		if err != nil {
			s.failOp(po, err)
			continue
		}
		g, ok := groups[rt.ID]
		if !ok {
			g = &tabletGroup{rt: rt, table: po.op.table}
			groups[rt.ID] = g
			order = append(order, rt.ID)
		}
		g.ops = append(g.ops, po)
	}

	for _, id := range order {
		g := groups[id]
		metrics.SessionBatchSize.Observe(float64(len(g.ops)))
		resp, err := s.writeToTablet(ctx, g.rt, g.table, g.ops)
		if err != nil {
			for _, po := range g.ops {
				s.failOp(po, err)
			}
			continue
		}
		failedRows := make(map[int]tablet.RowError, len(resp.PerRowErrors))
		for _, re := range resp.PerRowErrors {
			failedRows[re.RowIndex] = re
		}
		for i, po := range g.ops {
			if re, bad := failedRows[i]; bad {
				s.failOp(po, status.FromCode(status.CodeFromString(re.Code), "%s", re.Message))
			} else if po.cb != nil {
				po.cb(nil)
			}
		}
	}
}

// writeToTablet issues the write RPC, invalidating the cached location and
// retrying once when the server disowns the tablet.
func (s *Session) writeToTablet(ctx context.Context, rt *RemoteTablet, table *Table,
	ops []pendingOp) (*wire.WriteResponse, error) {

	req := &wire.WriteRequest{
		TabletID: rt.ID,
		Schema:   table.schema,
		Ops:      make([]tablet.RowOp, len(ops)),
	}
	for i, po := range ops {
		req.Ops[i] = po.op.rowOp()
	}

	resp, err := s.doWrite(ctx, rt, req)
	if err == nil && resp.Error != nil && status.CodeFromString(resp.Error.Code) == status.CodeNotFound {
		// Stale location: refresh and retry once.
		slog.Debug("stale tablet location, retrying", "tablet", rt.ID)
		s.client.metaCache.InvalidateTablet(rt.ID)
		fresh, lookupErr := s.client.metaCache.LookupTabletByID(ctx, rt.ID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		resp, err = s.doWrite(ctx, fresh, req)
	}
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, status.FromCode(status.CodeFromString(resp.Error.Code), "%s", resp.Error.Message)
	}
	return resp, nil
}

func (s *Session) doWrite(ctx context.Context, rt *RemoteTablet, req *wire.WriteRequest) (*wire.WriteResponse, error) {
	if len(rt.Replicas) == 0 {
		return nil, status.ServiceUnavailable("tablet %s has no known replicas", rt.ID)
	}
	proxy, err := s.client.messenger.TabletProxy(rt.Replicas[0])
	if err != nil {
		return nil, err
	}
	resp, err := proxy.Write(ctx, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, status.TimedOut("write to tablet %s timed out", rt.ID)
		}
		return nil, status.Wrap(status.CodeNetworkError, err, "write to tablet %s", rt.ID)
	}
	return resp, nil
}

func (s *Session) failOp(po pendingOp, err error) {
	s.failures.Add(1)
	if po.cb != nil {
		po.cb(err)
	}
	s.errors.Add(PendingError{
		Op:      po.op,
		Code:    status.CodeOf(err),
		Message: err.Error(),
	})
}
