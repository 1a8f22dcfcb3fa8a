package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stockpulse/analyzer/internal/core"
	"github.com/stockpulse/analyzer/internal/domain/model"
)

// SinkOptions groups dependencies for Sink.
type SinkOptions struct {
	BotToken string
	BaseURL  string
	Timeout  time.Duration
	Client   *resty.Client // Optional: override for tests
	Logger   *slog.Logger
}

// Sink delivers messages through the Bot API sendMessage method.
type Sink struct {
	token  string
	client *resty.Client
	logger *slog.Logger
}

// NewSink constructs a Telegram sink.
func NewSink(opts SinkOptions) (*Sink, error) {
	if strings.TrimSpace(opts.BotToken) == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	client := opts.Client
	if client == nil {
		client = resty.New().
			SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
			SetTimeout(opts.Timeout).
			SetRetryCount(0)
	}
	return &Sink{token: opts.BotToken, client: client, logger: opts.Logger}, nil
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Parameters struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send delivers one message and returns the Telegram message ID as the
// handle. Rate limiting and server errors are transient; a blocked bot
// or bad chat ID is permanent and never retried.
func (s *Sink) Send(ctx context.Context, params core.SendMessageParams) (string, error) {
	body := sendMessageRequest{
		ChatID:    params.RecipientID,
		Text:      params.Text,
		ParseMode: "Markdown",
	}

	var result apiResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&result).
		Post("/bot" + s.token + "/sendMessage")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &model.TransientProviderError{
			Provider: "telegram",
			Reason:   "request failed",
			Err:      err,
		}
	}

	if result.OK {
		return strconv.FormatInt(result.Result.MessageID, 10), nil
	}

	code := result.ErrorCode
	if code == 0 {
		code = resp.StatusCode()
	}
	switch {
	case code == 429:
		return "", &model.TransientProviderError{
			Provider:   "telegram",
			Reason:     "rate limited",
			RetryAfter: time.Duration(result.Parameters.RetryAfter) * time.Second,
		}
	case code >= 500:
		return "", &model.TransientProviderError{
			Provider: "telegram",
			Reason:   fmt.Sprintf("status %d: %s", code, result.Description),
		}
	default:
		// 400 bad chat, 403 bot blocked by the user. Retrying cannot help.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "delivery rejected",
				"recipient", params.RecipientID, "code", code, "description", result.Description)
		}
		return "", fmt.Errorf("telegram: status %d: %s", code, result.Description)
	}
}
