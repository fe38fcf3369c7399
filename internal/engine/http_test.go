package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func sseServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeSnapshot(t *testing.T, w http.ResponseWriter, snap Snapshot) {
	t.Helper()
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestHTTPEngineStreamsSnapshots(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt    string `json:"prompt"`
			SessionID string `json:"session_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Prompt != "Hello" || body.SessionID != "gen_test" {
			t.Errorf("unexpected request: %+v", body)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		writeSnapshot(t, w, Snapshot{Text: "Hi"})
		writeSnapshot(t, w, Snapshot{Text: "Hi there"})
		writeSnapshot(t, w, Snapshot{Text: "Hi there!", Finished: true})
	})

	eng := NewHTTPEngine(srv.URL, zap.NewNop().Sugar())
	stream, err := eng.Generate(context.Background(), "Hello", SamplingConfig{}, "gen_test")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer func() {
		_ = stream.Close()
	}()

	want := []Snapshot{
		{Text: "Hi"},
		{Text: "Hi there"},
		{Text: "Hi there!", Finished: true},
	}
	for i, w := range want {
		snap, err := stream.Recv()
		if err != nil {
			t.Fatalf("Recv(%d): %v", i, err)
		}
		if snap != w {
			t.Fatalf("Recv(%d) = %+v, want %+v", i, snap, w)
		}
	}

	if _, err := stream.Recv(); err != io.EOF {
		t.Fatalf("Recv after finished: got %v, want io.EOF", err)
	}
}

func TestHTTPEngineSurfacesNon200(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	})

	eng := NewHTTPEngine(srv.URL, zap.NewNop().Sugar())
	_, err := eng.Generate(context.Background(), "Hello", SamplingConfig{}, "gen_test")
	if !errors.Is(err, ErrEngineFailure) {
		t.Fatalf("Generate: got %v, want ErrEngineFailure", err)
	}
}

func TestHTTPEngineTruncatedStreamIsFailure(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSnapshot(t, w, Snapshot{Text: "Partial"})
		// Connection closes without a finished snapshot.
	})

	eng := NewHTTPEngine(srv.URL, zap.NewNop().Sugar())
	stream, err := eng.Generate(context.Background(), "Hello", SamplingConfig{}, "gen_test")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer func() {
		_ = stream.Close()
	}()

	if _, err := stream.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	_, err = stream.Recv()
	if !errors.Is(err, ErrEngineFailure) {
		t.Fatalf("truncated stream: got %v, want ErrEngineFailure", err)
	}
}

func TestHTTPEngineCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSnapshot(t, w, Snapshot{Text: "Hi"})
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	eng := NewHTTPEngine(srv.URL, zap.NewNop().Sugar())
	stream, err := eng.Generate(ctx, "Hello", SamplingConfig{}, "gen_test")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer func() {
		_ = stream.Close()
	}()

	if _, err := stream.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}

	cancel()
	if _, err := stream.Recv(); err == nil {
		t.Fatal("Recv after cancel: expected error")
	}
}
