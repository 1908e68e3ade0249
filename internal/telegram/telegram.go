// Package telegram delivers notifications to a single Telegram chat through the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ubuntu/decorate"
	"github.com/ubuntu/homework-notifier/internal/constants"
)

// ErrSendFailure is returned when a message could not be delivered, either because of
// a network error or because the Bot API rejected it.
var ErrSendFailure = errors.New("message send failed")

// Bot sends messages to one chat.
type Bot struct {
	chatID string
	http   *resty.Client
}

type options struct {
	baseURL string
	timeout time.Duration
}

// Options represents an optional function to override Bot default values.
type Options func(*options)

// WithBaseURL overrides the Bot API base URL.
func WithBaseURL(url string) Options {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithTimeout sets the timeout of a single request.
func WithTimeout(d time.Duration) Options {
	return func(o *options) {
		o.timeout = d
	}
}

// apiResponse is the envelope of every Bot API answer.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// New returns a Bot authenticated by token, delivering to chatID.
func New(token, chatID string, args ...Options) *Bot {
	opts := options{
		baseURL: constants.DefaultTelegramURL,
		timeout: constants.DefaultRequestTimeout,
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Bot{
		chatID: chatID,
		http: resty.New().
			SetBaseURL(opts.baseURL).
			SetTimeout(opts.timeout).
			SetHeader("Content-Type", "application/json").
			SetPathParam("token", token),
	}
}

// Send delivers one message. It does not retry.
func (b Bot) Send(ctx context.Context, text string) (err error) {
	defer decorate.OnError(&err, "could not send message")

	var ok, failed apiResponse
	resp, err := b.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id": b.chatID,
			"text":    text,
		}).
		SetResult(&ok).
		SetError(&failed).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return errors.Join(ErrSendFailure, fmt.Errorf("failed to send HTTP request: %v", err))
	}

	if resp.IsError() || !ok.OK {
		return errors.Join(ErrSendFailure, fmt.Errorf("unexpected status code: %d %s", resp.StatusCode(), failed.Description))
	}

	slog.Debug("Message sent", "chat", b.chatID)
	return nil
}
