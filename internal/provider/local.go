package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	defaultLocalURL = "http://127.0.0.1:5055"

	healthAttempts = 10
	healthInterval = 250 * time.Millisecond
)

// Launcher starts the local translation service process. It is a seam so
// tests can pretend a process was started without spawning anything.
type Launcher interface {
	Start() error
}

// ExecLauncher spawns the local service as a detached subprocess.
type ExecLauncher struct {
	Command string
	Args    []string
}

func (l *ExecLauncher) Start() error {
	cmd := exec.Command(l.Command, l.Args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start local service: %w", err)
	}
	return cmd.Process.Release()
}

// LocalProvider talks to a locally running translation service over HTTP.
// When the service is down and autostart is enabled, the launcher is invoked
// once and the health endpoint polled until the service answers.
type LocalProvider struct {
	baseURL   string
	autoStart bool
	launcher  Launcher
	client    *http.Client
	logger    *slog.Logger

	startMu sync.Mutex
	started bool
}

func NewLocalProvider(baseURL string, autoStart bool, launcher Launcher, logger *slog.Logger) *LocalProvider {
	if baseURL == "" {
		baseURL = defaultLocalURL
	}
	return &LocalProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		autoStart: autoStart,
		launcher:  launcher,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
		logger:    logger,
	}
}

func (p *LocalProvider) ID() string {
	return IDLocal
}

type localTranslateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type localServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type localTranslateResponse struct {
	TranslatedText string             `json:"translated_text"`
	Error          *localServiceError `json:"error,omitempty"`
}

type localHealthResponse struct {
	Status string `json:"status"`
}

func (p *LocalProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if err := p.ensureAvailable(ctx); err != nil {
		return "", err
	}

	jsonData, err := json.Marshal(localTranslateRequest{
		Text:       text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	})
	if err != nil {
		return "", Error{Code: CodeInvalidInput, Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/translate", bytes.NewReader(jsonData))
	if err != nil {
		return "", Error{Code: CodeInvalidInput, Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", Error{Code: CodeNetworkError, Message: "local service request failed"}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Error{Code: CodeNetworkError, Message: "failed to read response body"}
	}

	if resp.StatusCode != http.StatusOK {
		return "", p.asError(body, resp.StatusCode)
	}

	var parsed localTranslateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", Error{Code: CodeInvalidResponse, Message: "local service response invalid"}
	}
	if parsed.Error != nil {
		return "", Error{Code: Code(parsed.Error.Code), Message: parsed.Error.Message}
	}

	translated := strings.TrimSpace(parsed.TranslatedText)
	if translated == "" {
		return "", Error{Code: CodeInvalidResponse, Message: "local service returned empty translation"}
	}
	return translated, nil
}

// ensureAvailable probes the health endpoint and, when the service is down
// and autostart is on, launches it and polls health with fixed retries.
func (p *LocalProvider) ensureAvailable(ctx context.Context) error {
	if err := p.checkHealth(ctx); err == nil {
		return nil
	}
	if !p.autoStart || p.launcher == nil {
		return Error{Code: CodeNetworkError, Message: "local service unavailable and autostart disabled"}
	}

	if err := p.startOnce(); err != nil {
		return Error{Code: CodeNetworkError, Message: err.Error()}
	}
	return p.waitForHealth(ctx, healthAttempts, healthInterval)
}

func (p *LocalProvider) startOnce() error {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		return nil
	}
	if err := p.launcher.Start(); err != nil {
		return err
	}
	p.started = true
	p.logger.Info("local service start requested", "url", p.baseURL)
	return nil
}

func (p *LocalProvider) waitForHealth(ctx context.Context, attempts int, interval time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := p.checkHealth(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return Error{Code: CodeNetworkError, Message: fmt.Sprintf("local service did not become healthy: %v", lastErr)}
}

func (p *LocalProvider) checkHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("local service health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("local service health check HTTP %d", resp.StatusCode)
	}
	var payload localHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("local service health response invalid: %w", err)
	}
	if strings.ToLower(payload.Status) != "ok" {
		return fmt.Errorf("local service status %s", payload.Status)
	}
	return nil
}

func (p *LocalProvider) asError(body []byte, statusCode int) error {
	var payload struct {
		Error *localServiceError `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != nil {
		return Error{Code: Code(payload.Error.Code), Message: payload.Error.Message}
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		return Error{Code: CodeRateLimited, Message: fmt.Sprintf("HTTP %d", statusCode)}
	case statusCode >= 500:
		return Error{Code: CodeNetworkError, Message: fmt.Sprintf("HTTP %d", statusCode)}
	default:
		return Error{Code: CodeInvalidResponse, Message: fmt.Sprintf("HTTP %d", statusCode)}
	}
}
