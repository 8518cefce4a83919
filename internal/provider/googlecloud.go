package provider

import (
	"context"
	"fmt"
	"log/slog"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

// GoogleCloudProvider uses the Cloud Translation SDK with service-account
// credentials instead of a raw API key. Useful when the key-based v2 REST
// surface is not an option for the deployment.
type GoogleCloudProvider struct {
	credentialsFile string
	logger          *slog.Logger
}

func NewGoogleCloudProvider(credentialsFile string, logger *slog.Logger) *GoogleCloudProvider {
	return &GoogleCloudProvider{credentialsFile: credentialsFile, logger: logger}
}

func (p *GoogleCloudProvider) ID() string {
	return IDGoogleCloud
}

func (p *GoogleCloudProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	targetTag, err := language.Parse(targetLang)
	if err != nil {
		return "", Error{Code: CodeInvalidInput, Message: fmt.Sprintf("invalid target language %q", targetLang)}
	}

	var opts []option.ClientOption
	if p.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(p.credentialsFile))
	}

	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return "", Error{Code: CodeInvalidAPIKey, Message: fmt.Sprintf("failed to create client: %v", err)}
	}
	defer client.Close()

	var translations []translate.Translation
	if sourceLang == "" || sourceLang == "auto" {
		translations, err = client.Translate(ctx, []string{text}, targetTag, nil)
	} else {
		sourceTag, parseErr := language.Parse(sourceLang)
		if parseErr != nil {
			return "", Error{Code: CodeInvalidInput, Message: fmt.Sprintf("invalid source language %q", sourceLang)}
		}
		translations, err = client.Translate(ctx, []string{text}, targetTag, &translate.Options{Source: sourceTag})
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Warn("cloud sdk translation failed", "error", err)
		return "", Error{Code: CodeNetworkError, Message: fmt.Sprintf("translation failed: %v", err)}
	}

	if len(translations) == 0 || translations[0].Text == "" {
		return "", Error{Code: CodeInvalidResponse, Message: "no translation returned"}
	}
	return translations[0].Text, nil
}
