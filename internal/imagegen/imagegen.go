package imagegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/digkill/photoremix/internal/config"
)

// ErrConfiguration marks failures that retrying cannot fix: missing or rejected
// credentials, unknown models and similar operator mistakes.
var ErrConfiguration = errors.New("image generator misconfigured")

type Request struct {
	Instruction string
	Data        []byte
	MimeType    string
	// SourceURL is a short-lived read URL for Data, used by providers that fetch inputs themselves.
	SourceURL string
}

type Result struct {
	Data     []byte
	MimeType string
}

type Transformer interface {
	Transform(ctx context.Context, req Request) (*Result, error)
}

// New returns the transformer selected by IMAGE_PROVIDER.
func New(cfg config.Config, log *slog.Logger) (Transformer, error) {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	httpClient := &http.Client{Timeout: timeout}

	switch cfg.ImageProvider {
	case config.ProviderKIE:
		return NewKIEClient(cfg.KIEAPIKey, cfg.KIEBaseURL, cfg.KIEModel, httpClient, log), nil
	case config.ProviderGemini:
		return NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.GeminiModel, httpClient, log), nil
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.ImageProvider)
	}
}

func statusError(provider string, status int, body []byte) error {
	err := fmt.Errorf("%s error: status=%d body=%s", provider, status, truncateBody(body))
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return err
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.ToValidUTF8(strings.TrimSpace(string(body)), "\uFFFD")
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
