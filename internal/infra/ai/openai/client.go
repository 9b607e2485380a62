package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	domai "github.com/bryanwahyu/labelscan/internal/domain/ai"
	"github.com/bryanwahyu/labelscan/internal/domain/scans"
	"github.com/bryanwahyu/labelscan/internal/infra/ai/prompt"
)

const (
	defaultModel     = "gemini-1.5-pro"
	defaultMaxTokens = 4096
)

// Config is injected at construction; nothing is read from globals.
type Config struct {
	APIKey    string
	BaseURL   string // OpenAI-compatible endpoint, e.g. Gemini's /v1beta/openai
	Model     string
	MaxTokens int
	Timeout   time.Duration // per call; zero means no client-side deadline
}

type Client struct {
	*openai.Client
	cfg Config
}

func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Client{Client: openai.NewClientWithConfig(oc), cfg: cfg}
}

// ExtractText sends the image with the OCR instruction and returns the raw completion.
func (c *Client) ExtractText(ctx context.Context, img scans.CapturedImage) (string, error) {
	msg := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt.GetOCRPrompt()},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    img.DataURL(),
					Detail: openai.ImageURLDetailHigh,
				},
			},
		},
	}
	return c.complete(ctx, scans.StageOCR, msg)
}

// Analyze sends the analysis prompt followed by the extracted ingredient text.
func (c *Client) Analyze(ctx context.Context, extracted string) (string, error) {
	msg := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt.GetAnalysisPrompt(extracted),
	}
	return c.complete(ctx, scans.StageAnalysis, msg)
}

// complete performs one chat completion. It never retries.
func (c *Client) complete(ctx context.Context, stage scans.Stage, msg openai.ChatCompletionMessage) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{msg},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(c.cfg.Model) {
		req.MaxCompletionTokens = c.cfg.MaxTokens
	} else {
		req.MaxTokens = c.cfg.MaxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", unavailable(stage, classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", unavailable(stage, domai.ErrEmptyCompletion)
	}
	return resp.Choices[0].Message.Content, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// classify tags quota errors so they are recognisable in logs; the kind stays
// InferenceUnavailable either way.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", domai.ErrQuotaExceeded, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", domai.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("failed to create chat completion: %w", err)
}

func unavailable(stage scans.Stage, err error) error {
	return &scans.Error{Kind: scans.KindInferenceUnavailable, Stage: stage, Err: err}
}
