package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/photoremix/pkg/logger"
)

// GeminiClient calls the generateContent REST endpoint with the photo inlined.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

func NewGeminiClient(apiKey, baseURL, model string, httpClient *http.Client, log *slog.Logger) *GeminiClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &GeminiClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
		log:        log,
	}
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string `json:"responseModalities"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (c *GeminiClient) Transform(ctx context.Context, req Request) (*Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrConfiguration)
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("gemini needs image bytes")
	}

	var body geminiRequest
	body.Contents = []geminiContent{{
		Role: "user",
		Parts: []geminiPart{
			{Text: req.Instruction},
			{InlineData: &geminiInlineData{MimeType: req.MimeType, Data: base64.StdEncoding.EncodeToString(req.Data)}},
		},
	}}
	body.GenerationConfig.ResponseModalities = []string{"TEXT", "IMAGE"}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	fullURL := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	c.log.Info("calling gemini", "model", c.model, "input_bytes", len(req.Data))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post gemini: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("gemini request failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		if resp.StatusCode == http.StatusNotFound || strings.Contains(string(rawBody), "API_KEY_INVALID") {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, statusError("gemini", resp.StatusCode, rawBody))
		}
		return nil, statusError("gemini", resp.StatusCode, rawBody)
	}

	var out geminiResponse
	if err := json.Unmarshal(rawBody, &out); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if out.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("gemini blocked the request: %s", out.PromptFeedback.BlockReason)
	}

	for _, cand := range out.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("decode gemini image: %w", err)
			}
			mimeType := part.InlineData.MimeType
			if mimeType == "" {
				mimeType = http.DetectContentType(data)
			}
			return &Result{Data: data, MimeType: mimeType}, nil
		}
	}
	return nil, fmt.Errorf("gemini returned no image")
}
