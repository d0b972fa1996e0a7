// Package llm wraps the completion provider behind a gateway that injects
// the system prompt, bounds the transcript to a token budget, and classifies
// provider failures into a fixed taxonomy.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/strengthclub/concierge/internal/config"
	"github.com/strengthclub/concierge/internal/models"
)

// Failure taxonomy. RateLimited and ConnectionFailed are retryable by the
// caller; the rest are not.
var (
	ErrRateLimited      = errors.New("completion provider rate limited")
	ErrConnectionFailed = errors.New("completion provider unreachable")
	ErrProvider         = errors.New("completion provider error")
	ErrEmptyReply       = errors.New("completion provider returned an empty reply")
	ErrInvalidInput     = errors.New("invalid completion input")
)

// IsRetryable reports whether the caller may retry the failed call.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrConnectionFailed)
}

// Gateway adapts the opaque completion capability to the turn pipeline.
type Gateway struct {
	model         llms.Model
	systemPrompt  string
	temperature   float64
	maxTokens     int
	contextBudget int
	timeout       time.Duration
	// countTokens is nil when no encoder is available; trimming is skipped.
	countTokens func(string) int
	logger      *zap.Logger
}

// New builds a gateway over the configured OpenAI-compatible endpoint.
func New(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	model, err := openai.New(
		openai.WithToken(cfg.OpenAIAPIKey),
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithModel(cfg.OpenAIModel),
	)
	if err != nil {
		return nil, err
	}
	return NewWithModel(model, cfg, logger), nil
}

// NewWithModel builds a gateway over an already-constructed model. Used by
// tests to substitute a fake completion capability.
func NewWithModel(model llms.Model, cfg *config.Config, logger *zap.Logger) *Gateway {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var countTokens func(string) int
	encoder, err := tiktoken.EncodingForModel(cfg.OpenAIModel)
	if err != nil {
		encoder, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		// Token budgeting degrades to sending the full transcript.
		logger.Warn("no token encoder available", zap.Error(err))
	} else {
		countTokens = func(text string) int {
			return len(encoder.Encode(text, nil, nil))
		}
	}
	return &Gateway{
		model:         model,
		systemPrompt:  cfg.SystemPrompt,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		contextBudget: cfg.MaxContextTokens,
		timeout:       timeout,
		countTokens:   countTokens,
		logger:        logger,
	}
}

// Respond sends the transcript to the provider and returns the reply text.
// A system message is prepended when the transcript carries none; an existing
// system message anywhere in the transcript is never duplicated. A blank
// reply from the provider is a distinguishable failure, never returned as an
// empty assistant turn.
func (g *Gateway) Respond(ctx context.Context, transcript []models.Message) (string, error) {
	if len(transcript) == 0 {
		return "", fmt.Errorf("%w: transcript is empty", ErrInvalidInput)
	}

	full := g.ensureSystemMessage(transcript)
	full = g.trimToBudget(full)

	content := make([]llms.MessageContent, 0, len(full))
	for _, m := range full {
		role, err := chatRole(m.Role)
		if err != nil {
			return "", err
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.model.GenerateContent(ctx, content,
		llms.WithTemperature(g.temperature),
		llms.WithMaxTokens(g.maxTokens),
	)
	if err != nil {
		return "", g.classify(err)
	}

	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	reply := strings.TrimSpace(resp.Choices[0].Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

func (g *Gateway) ensureSystemMessage(transcript []models.Message) []models.Message {
	for _, m := range transcript {
		if m.Role == models.RoleSystem {
			return transcript
		}
	}
	out := make([]models.Message, 0, len(transcript)+1)
	out = append(out, models.Message{Role: models.RoleSystem, Content: g.systemPrompt})
	return append(out, transcript...)
}

// trimToBudget drops the oldest non-system turns until the transcript fits
// the context budget. The system message and the newest turn always survive.
func (g *Gateway) trimToBudget(transcript []models.Message) []models.Message {
	if g.countTokens == nil || g.contextBudget <= 0 {
		return transcript
	}

	total := 0
	counts := make([]int, len(transcript))
	for i, m := range transcript {
		counts[i] = g.countTokens(m.Content)
		total += counts[i]
	}
	if total <= g.contextBudget {
		return transcript
	}

	kept := make([]models.Message, 0, len(transcript))
	budget := g.contextBudget
	if transcript[0].Role == models.RoleSystem {
		kept = append(kept, transcript[0])
		budget -= counts[0]
	}

	// Walk backwards so the most recent turns are preserved.
	tail := make([]models.Message, 0, len(transcript))
	for i := len(transcript) - 1; i >= len(kept); i-- {
		if budget-counts[i] < 0 && len(tail) > 0 {
			break
		}
		tail = append(tail, transcript[i])
		budget -= counts[i]
	}
	for i := len(tail) - 1; i >= 0; i-- {
		kept = append(kept, tail[i])
	}

	g.logger.Debug("transcript trimmed to context budget",
		zap.Int("before", len(transcript)), zap.Int("after", len(kept)))
	return kept
}

// classify maps a raw provider failure onto the gateway taxonomy. Timeouts
// and transport failures are retryable; everything else surfaces as a
// generic provider error.
func (g *Gateway) classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
		strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	default:
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
}

func chatRole(role string) (schema.ChatMessageType, error) {
	switch role {
	case models.RoleSystem:
		return schema.ChatMessageTypeSystem, nil
	case models.RoleUser:
		return schema.ChatMessageTypeHuman, nil
	case models.RoleAssistant:
		return schema.ChatMessageTypeAI, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
}

// Disabled is the completion capability used when no provider key is
// configured. Every call fails with a non-retryable provider error.
type Disabled struct{}

func (Disabled) Respond(context.Context, []models.Message) (string, error) {
	return "", fmt.Errorf("%w: no provider configured", ErrProvider)
}
