package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

const officialEndpoint = "https://translation.googleapis.com/language/translate/v2"

// OfficialProvider talks to the paid Cloud Translation v2 REST API using an
// API key. The key is validated before any network traffic is attempted.
type OfficialProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewOfficialProvider(apiKey string, logger *slog.Logger) *OfficialProvider {
	return &OfficialProvider{
		baseURL: officialEndpoint,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		logger:  logger,
	}
}

func (p *OfficialProvider) ID() string {
	return IDOfficial
}

type officialRequest struct {
	Q      []string `json:"q"`
	Source string   `json:"source,omitempty"`
	Target string   `json:"target"`
	Format string   `json:"format"`
}

type officialResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
}

func (p *OfficialProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if p.apiKey == "" {
		return "", Error{Code: CodeInvalidAPIKey, Message: "API key is required for official translation"}
	}

	reqBody := officialRequest{
		Q:      []string{text},
		Target: targetLang,
		Format: "text",
	}
	if sourceLang != "" && sourceLang != "auto" {
		reqBody.Source = sourceLang
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", Error{Code: CodeInvalidInput, Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	requestURL := fmt.Sprintf("%s?key=%s", p.baseURL, url.QueryEscape(p.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(jsonData))
	if err != nil {
		return "", Error{Code: CodeInvalidInput, Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Warn("official request failed", "error", err)
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
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized:
		return "", Error{Code: CodeInvalidAPIKey, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return "", Error{Code: CodeNetworkError, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return "", Error{Code: CodeInvalidResponse, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	var parsed officialResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.logger.Warn("official response parse failed", "error", err)
		return "", Error{Code: CodeInvalidResponse, Message: "failed to parse response"}
	}
	if len(parsed.Data.Translations) == 0 || parsed.Data.Translations[0].TranslatedText == "" {
		return "", Error{Code: CodeInvalidResponse, Message: "no translation found in response"}
	}

	translated := parsed.Data.Translations[0].TranslatedText
	p.logger.Debug("official translation done", "chars", len(translated))
	return translated, nil
}
