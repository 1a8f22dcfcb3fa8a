package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/stockpulse/analyzer/internal/domain/insight"
	"github.com/stockpulse/analyzer/internal/domain/model"
)

// GeneratorOptions groups dependencies for Generator.
type GeneratorOptions struct {
	ChatModel einomodel.BaseChatModel // Required: backend chat model
	ModelName string                  // Required: recorded on persisted insights
	Logger    *slog.Logger
}

// Generator produces structured insights from market snapshots by
// prompting a chat model and parsing its sectioned response.
type Generator struct {
	chat      einomodel.BaseChatModel
	modelName string
	logger    *slog.Logger
}

// NewGenerator constructs a Generator.
func NewGenerator(opts GeneratorOptions) (*Generator, error) {
	if opts.ChatModel == nil {
		return nil, errors.New("llm: chat model is required")
	}
	if strings.TrimSpace(opts.ModelName) == "" {
		return nil, errors.New("llm: model name is required")
	}
	return &Generator{
		chat:      opts.ChatModel,
		modelName: opts.ModelName,
		logger:    opts.Logger,
	}, nil
}

// ModelName is recorded on the persisted insight row.
func (g *Generator) ModelName() string { return g.modelName }

// Generate prompts the chat model with the snapshot and parses the
// response into a structured insight. Backend failures are transient;
// the caller's retry policy decides how often to come back.
func (g *Generator) Generate(ctx context.Context, snap model.Snapshot) (*model.GeneratedInsight, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(insight.SystemPrompt),
		schema.UserMessage(insight.BuildPrompt(snap)),
	}

	resp, err := g.chat.Generate(ctx, msgs)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &model.TransientProviderError{
			Provider: g.modelName,
			Reason:   "chat completion failed",
			Err:      err,
		}
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, &model.TransientProviderError{
			Provider: g.modelName,
			Reason:   "empty completion",
		}
	}

	gi := insight.Parse(resp.Content, snap)
	gi.Model = g.modelName
	gi.TokensUsed = totalTokens(resp)

	if g.logger != nil {
		g.logger.DebugContext(ctx, "insight generated",
			"symbol", snap.Symbol,
			"confidence", gi.Confidence,
			"tokens", gi.TokensUsed)
	}
	return &gi, nil
}

func totalTokens(msg *schema.Message) int {
	if msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return 0
	}
	return msg.ResponseMeta.Usage.TotalTokens
}
