package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tokenrelay/internal/shared"
)

// HTTPEngine talks to a vLLM-style sidecar that exposes generation as a
// server-sent event stream of cumulative snapshots:
//
//	data: {"text":"Hi","finished":false}
//	data: {"text":"Hi there","finished":true}
//
// One POST per generation; canceling the request context aborts the
// generation on the sidecar.
type HTTPEngine struct {
	BaseURL string
	Log     *zap.SugaredLogger

	clientsMu sync.RWMutex
	clients   map[string]*http.Client
}

func NewHTTPEngine(baseURL string, log *zap.SugaredLogger) *HTTPEngine {
	return &HTTPEngine{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Log:     log,
		clients: make(map[string]*http.Client),
	}
}

func (e *HTTPEngine) getHTTPClient(rawURL string) *http.Client {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		e.Log.Warnw("Failed to parse engine URL, using full URL as key", "url", rawURL, "error", err)
		parsedURL = &url.URL{Host: rawURL}
	}
	host := parsedURL.Host

	e.clientsMu.RLock()
	if client, exists := e.clients[host]; exists {
		e.clientsMu.RUnlock()
		return client
	}
	e.clientsMu.RUnlock()

	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()

	if client, exists := e.clients[host]; exists {
		return client
	}

	tr := &http.Transport{
		Dial: (&net.Dialer{
			Timeout: 2 * time.Second,
		}).Dial,
		TLSHandshakeTimeout: 2 * time.Second,
		DisableKeepAlives:   false,
	}
	client := &http.Client{Transport: tr, Timeout: shared.DefaultHTTPTimeout}

	e.clients[host] = client
	e.Log.Infow("Created new HTTP client for engine host", "host", host)

	return client
}

type generateBody struct {
	Prompt    string  `json:"prompt"`
	SessionID string  `json:"session_id"`
	Sampling  payload `json:"sampling"`
}

type payload struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

func (e *HTTPEngine) Generate(ctx context.Context, prompt string, cfg SamplingConfig, sessionID string) (Stream, error) {
	cfg = cfg.WithDefaults()
	body, err := json.Marshal(generateBody{
		Prompt:    prompt,
		SessionID: sessionID,
		Sampling: payload{
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
			MaxTokens:   cfg.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed building engine request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed building engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "keep-alive")

	res, err := e.getHTTPClient(e.BaseURL).Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}
	if res.StatusCode != http.StatusOK {
		_ = res.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: engine responded with status %d", ErrEngineFailure, res.StatusCode)
	}

	// Snapshot lines carry the full cumulative text, so they outgrow the
	// default scanner buffer on long generations.
	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	return &httpStream{
		sessionID: sessionID,
		body:      res.Body,
		scanner:   scanner,
		cancel:    cancel,
		log:       e.Log.With("session_id", sessionID),
	}, nil
}

type httpStream struct {
	sessionID string
	body      io.ReadCloser
	scanner   *bufio.Scanner
	cancel    context.CancelFunc
	log       *zap.SugaredLogger

	finished  bool
	closeOnce sync.Once
}

func (s *httpStream) Recv() (Snapshot, error) {
	if s.finished {
		return Snapshot{}, io.EOF
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var snap Snapshot
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap); err != nil {
			s.log.Warnw("failed unmarshaling engine snapshot", "error", err, "line", line)
			return Snapshot{}, fmt.Errorf("%w: malformed snapshot: %v", ErrEngineFailure, err)
		}
		if snap.Finished {
			s.finished = true
		}
		return snap, nil
	}

	// Stream ended without a finished snapshot: the engine aborted or the
	// connection dropped. Never report this as a clean completion.
	if err := s.scanner.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}
	return Snapshot{}, fmt.Errorf("%w: stream ended before completion", ErrEngineFailure)
}

func (s *httpStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.body.Close()
	})
	return nil
}
