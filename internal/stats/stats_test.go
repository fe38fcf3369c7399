package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tokenrelay/internal/session"
)

type captureFlush struct {
	mu   sync.Mutex
	rows []UsageRow
}

func (c *captureFlush) flush(_ context.Context, rows []UsageRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, rows...)
	return nil
}

func TestRecorderAggregatesPerUser(t *testing.T) {
	cap := &captureFlush{}
	r := NewRecorder(cap.flush, zap.NewNop().Sugar())

	r.Record(1, session.Completed, 100, 2*time.Second, 200*time.Millisecond)
	r.Record(1, session.Cancelled, 20, time.Second, 100*time.Millisecond)
	r.Record(2, session.Failed, 0, time.Second, 0)

	r.Shutdown()

	if len(cap.rows) != 2 {
		t.Fatalf("flushed %d rows, want 2: %+v", len(cap.rows), cap.rows)
	}

	byUser := map[uint64]UsageRow{}
	for _, row := range cap.rows {
		byUser[row.UserID] = row
	}

	u1 := byUser[1]
	if u1.Sessions != 2 || u1.CompletedSessions != 1 || u1.CancelledSessions != 1 {
		t.Fatalf("user 1 row = %+v", u1)
	}
	if u1.CharsStreamed != 120 {
		t.Fatalf("user 1 chars = %d, want 120", u1.CharsStreamed)
	}

	u2 := byUser[2]
	if u2.Sessions != 1 || u2.FailedSessions != 1 {
		t.Fatalf("user 2 row = %+v", u2)
	}
}

func TestRecorderShutdownIsIdempotent(t *testing.T) {
	cap := &captureFlush{}
	r := NewRecorder(cap.flush, zap.NewNop().Sugar())

	r.Record(1, session.Completed, 10, time.Second, time.Millisecond)
	r.Shutdown()
	r.Shutdown()

	if len(cap.rows) != 1 {
		t.Fatalf("flushed %d rows, want 1", len(cap.rows))
	}

	// Records after shutdown are dropped, not buffered forever.
	r.Record(1, session.Completed, 10, time.Second, time.Millisecond)
	if len(cap.rows) != 1 {
		t.Fatalf("post-shutdown record was flushed")
	}
}

func TestRecorderNilFlushIsNoop(t *testing.T) {
	r := NewRecorder(nil, zap.NewNop().Sugar())
	r.Record(1, session.Completed, 10, time.Second, time.Millisecond)
	r.Shutdown()
}
