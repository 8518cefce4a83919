package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const unofficialEndpoint = "https://translate.googleapis.com/translate_a/single"

// UnofficialProvider scrapes the public translate endpoint. No key required,
// but the endpoint throttles and occasionally serves a captcha page instead
// of JSON; both conditions surface as typed errors.
type UnofficialProvider struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewUnofficialProvider(logger *slog.Logger) *UnofficialProvider {
	return &UnofficialProvider{
		baseURL: unofficialEndpoint,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		logger:  logger,
	}
}

func (p *UnofficialProvider) ID() string {
	return IDUnofficial
}

func (p *UnofficialProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	requestURL := fmt.Sprintf("%s?client=gtx&sl=%s&tl=%s&dt=t&q=%s",
		p.baseURL, url.QueryEscape(sourceLang), url.QueryEscape(targetLang), url.QueryEscape(text))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return "", Error{Code: CodeInvalidInput, Message: fmt.Sprintf("failed to build request: %v", err)}
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Warn("unofficial request failed", "error", err)
		return "", Error{Code: CodeNetworkError, Message: "HTTP request failed"}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Error{Code: CodeNetworkError, Message: "failed to read response body"}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", Error{Code: CodeRateLimited, Message: "provider rate limited"}
	case resp.StatusCode == http.StatusForbidden:
		return "", Error{Code: CodeBlocked, Message: "provider blocked or captcha detected"}
	case resp.StatusCode >= 500:
		return "", Error{Code: CodeNetworkError, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return "", Error{Code: CodeInvalidResponse, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	bodyLower := strings.ToLower(string(body))
	if strings.TrimSpace(bodyLower) == "" {
		return "", Error{Code: CodeBlocked, Message: "empty response body"}
	}
	if strings.Contains(bodyLower, "<html") || strings.Contains(bodyLower, "captcha") {
		return "", Error{Code: CodeBlocked, Message: "provider blocked or captcha detected"}
	}

	translated, err := parseUnofficialBody(body)
	if err != nil {
		p.logger.Warn("unofficial response parse failed", "error", err)
		return "", Error{Code: CodeInvalidResponse, Message: "failed to parse response"}
	}

	p.logger.Debug("unofficial translation done",
		"chars", len(translated), "latency", time.Since(start))
	return translated, nil
}

// parseUnofficialBody decodes the endpoint's nested-array payload. The shape
// is [[[fragment, original, ...], ...], ...]; sub-array position 0 of each
// sentence carries a text fragment, concatenated in order. Any shape mismatch
// is an error rather than a silently empty result.
func parseUnofficialBody(body []byte) (string, error) {
	var outer []json.RawMessage
	if err := json.Unmarshal(body, &outer); err != nil {
		return "", fmt.Errorf("response is not a JSON array: %w", err)
	}
	if len(outer) == 0 {
		return "", fmt.Errorf("response array is empty")
	}

	var sentences []json.RawMessage
	if err := json.Unmarshal(outer[0], &sentences); err != nil {
		return "", fmt.Errorf("first element is not an array: %w", err)
	}
	if len(sentences) == 0 {
		return "", fmt.Errorf("no translation data found")
	}

	var sb strings.Builder
	for _, raw := range sentences {
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil || len(parts) == 0 {
			continue
		}
		var fragment string
		if err := json.Unmarshal(parts[0], &fragment); err != nil {
			continue
		}
		sb.WriteString(fragment)
	}

	translated := strings.TrimSpace(sb.String())
	if translated == "" {
		return "", fmt.Errorf("no translation found in response")
	}
	return translated, nil
}
