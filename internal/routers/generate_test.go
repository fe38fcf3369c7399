package routers

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"tokenrelay/internal/engine"
	"tokenrelay/pkg/wire"
)

func TestGenerateSSEStreamsEvents(t *testing.T) {
	fx := newRelayFixture(t, &engine.SimEngine{
		Respond: func(prompt string) string { return "streamed over sse" },
	})

	url := strings.Replace(fx.client.URL, "ws", "http", 1)
	url = strings.TrimSuffix(url, "/ws") + "/v1/generate"

	res, err := http.Post(url, "application/json", strings.NewReader(`{"prompt":"Hello"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	var (
		rebuilt   strings.Builder
		doneSeen  int
		errorSeen int
		event     string
	)
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var frame wire.ServerFrame
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
				t.Fatalf("unmarshal frame: %v (line %q)", err, line)
			}
			switch event {
			case wire.FrameDelta:
				if doneSeen > 0 {
					t.Fatal("delta after done event")
				}
				rebuilt.WriteString(frame.Text)
			case wire.FrameDone:
				doneSeen++
			case wire.FrameError:
				errorSeen++
			}
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}

	if got := rebuilt.String(); got != "streamed over sse" {
		t.Fatalf("rebuilt = %q, want %q", got, "streamed over sse")
	}
	if doneSeen != 1 {
		t.Fatalf("done events = %d, want 1", doneSeen)
	}
	if errorSeen != 0 {
		t.Fatalf("unexpected error events: %d", errorSeen)
	}
}

func TestGenerateSSERejectsEmptyPrompt(t *testing.T) {
	fx := newRelayFixture(t, &engine.SimEngine{})

	url := strings.Replace(fx.client.URL, "ws", "http", 1)
	url = strings.TrimSuffix(url, "/ws") + "/v1/generate"

	res, err := http.Post(url, "application/json", strings.NewReader(`{"prompt":""}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer res.Body.Close()

	// Headers go out before admission, so the rejection arrives as an
	// error event on the stream.
	var sawError bool
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "event: error") {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("no error event for empty prompt")
	}
}
