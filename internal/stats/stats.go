// Package stats buckets per-user generation usage in memory and flushes it
// to storage on an interval, so the hot streaming path never waits on the
// database.
package stats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tokenrelay/internal/session"
)

const (
	flushInterval   = 1 * time.Minute
	maxFlushRetries = 3
	retryDelay      = 5 * time.Second
)

// UsageRow is one user's aggregated usage since the last flush.
type UsageRow struct {
	Date              string
	UserID            uint64
	Sessions          uint64
	CompletedSessions uint64
	CancelledSessions uint64
	FailedSessions    uint64
	CharsStreamed     uint64
	TotalTimeMs       int64
	TTFTMs            int64
}

// FlushFunc persists a batch of usage rows. The SQL implementation lives in
// the database package; tests inject their own.
type FlushFunc func(ctx context.Context, rows []UsageRow) error

// Recorder aggregates usage per user between flushes. A nil flush function
// disables persistence (debug mode) while keeping aggregation cheap.
type Recorder struct {
	flush FlushFunc
	log   *zap.SugaredLogger

	mu      sync.Mutex
	buckets map[uint64]*UsageRow
	timer   *time.Timer
	closed  bool
}

func NewRecorder(flush FlushFunc, log *zap.SugaredLogger) *Recorder {
	return &Recorder{
		flush:   flush,
		log:     log,
		buckets: make(map[uint64]*UsageRow),
	}
}

// Record folds one finished session into the user's bucket.
func (r *Recorder) Record(userID uint64, status session.Status, chars int, total, ttft time.Duration) {
	if r.flush == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	b, ok := r.buckets[userID]
	if !ok {
		b = &UsageRow{Date: time.Now().Format("2006-01-02"), UserID: userID}
		r.buckets[userID] = b
	}
	b.Sessions++
	switch status {
	case session.Completed:
		b.CompletedSessions++
	case session.Cancelled:
		b.CancelledSessions++
	case session.Failed:
		b.FailedSessions++
	}
	b.CharsStreamed += uint64(chars)
	b.TotalTimeMs += total.Milliseconds()
	b.TTFTMs += ttft.Milliseconds()

	if r.timer == nil {
		r.timer = time.AfterFunc(flushInterval, r.flushNow)
	}
}

// flushNow swaps the buckets out under the lock, then persists outside it.
func (r *Recorder) flushNow() {
	r.mu.Lock()
	rows := make([]UsageRow, 0, len(r.buckets))
	for _, b := range r.buckets {
		rows = append(rows, *b)
	}
	r.buckets = make(map[uint64]*UsageRow)
	r.timer = nil
	r.mu.Unlock()

	if len(rows) == 0 {
		return
	}

	var err error
	for range maxFlushRetries {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = r.flush(ctx, rows)
		cancel()
		if err == nil {
			r.log.Infow("flushed usage", "rows", len(rows))
			return
		}
		r.log.Errorw("usage flush failed, retrying", "error", err)
		time.Sleep(retryDelay)
	}
	r.log.Errorw("dropping usage batch after retries", "rows", len(rows), "error", err)
}

// Shutdown stops the timer and drains whatever is buffered.
func (r *Recorder) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	if r.flush != nil {
		r.flushNow()
	}
}
