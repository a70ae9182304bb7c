package proc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/leeineian/cadence/sys"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// AIModels is the fallback order used when no preferred model is given.
var AIModels = []string{
	"gemini-2.5-flash-lite",
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"gemini-3-flash-preview",
}

var errContentFiltered = errors.New("content filtered")

// ChatClient is the subset of the go-openai client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// AI answers questions through an OpenAI-compatible chat endpoint.
type AI struct {
	client  ChatClient
	limiter *rate.Limiter
	retry   sys.RetryPolicy
}

// NewAI builds a client for baseURL. httpClient may be nil.
func NewAI(token, baseURL string, httpClient *http.Client) *AI {
	cfg := openai.DefaultConfig(token)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &AI{
		client:  openai.NewClientWithConfig(cfg),
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		retry:   sys.RetryPolicy{Retries: 1, Delay: 500 * time.Millisecond, Backoff: 2.0, Timeout: sys.Timeouts.Generation},
	}
}

var defaultAI = sync.OnceValue(func() *AI {
	cfg := sys.GlobalConfig
	if cfg == nil || cfg.GeminiAPIKey == "" {
		return nil
	}
	return NewAI(cfg.GeminiAPIKey, cfg.AIBaseURL, sys.HttpClient)
})

// GetAI returns the configured client, or nil when no API key is set.
func GetAI() *AI {
	return defaultAI()
}

// modelOrder puts preferred first when it is a known model.
func modelOrder(preferred string) []string {
	if !slices.Contains(AIModels, preferred) {
		return AIModels
	}
	order := []string{preferred}
	for _, m := range AIModels {
		if m != preferred {
			order = append(order, m)
		}
	}
	return order
}

// Generate returns the answer to prompt, or a user-facing explanation of why there is none.
func (a *AI) Generate(ctx context.Context, prompt, model string) string {
	var lastErr error
	for _, m := range modelOrder(model) {
		if err := a.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		text, err := sys.Retry(ctx, a.retry, func(ctx context.Context) (string, error) {
			return a.complete(ctx, prompt, m)
		})
		if err == nil {
			return text
		}
		if errors.Is(err, errContentFiltered) {
			sys.LogAI(sys.MsgAIModelFailed, m, err)
			return sys.MsgAISafety
		}
		sys.LogAI(sys.MsgAIModelFailed, m, err)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr != nil {
		return fmt.Sprintf(sys.MsgAIUnexpected, lastErr)
	}
	return sys.MsgAIAllFailed
}

func (a *AI) complete(ctx context.Context, prompt, model string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		if isSafetyError(err) {
			return "", fmt.Errorf("%w: %w", errContentFiltered, err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", errContentFiltered
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		return "", errors.New("empty response")
	}
	return choice.Message.Content, nil
}

func isSafetyError(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if code, ok := apiErr.Code.(string); ok && code == string(openai.FinishReasonContentFilter) {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return apiErr.HTTPStatusCode == http.StatusBadRequest &&
		(strings.Contains(msg, "safety") || strings.Contains(msg, "blocked"))
}
