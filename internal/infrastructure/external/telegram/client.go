// Package telegram delivers achievement messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/lyutobor/OneuiBot-sub000/pkg/circuitbreaker"
	"github.com/lyutobor/OneuiBot-sub000/pkg/logger"
	"github.com/lyutobor/OneuiBot-sub000/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the Telegram client.
type Config struct {
	// Token is the Telegram Bot API token.
	Token string

	// APIEndpoint is a printf pattern taking the token and the method name.
	// Defaults to the public Bot API.
	APIEndpoint string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// Debug makes the underlying library log every request.
	Debug bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(token string) Config {
	return Config{
		Token:       token,
		APIEndpoint: tgbotapi.APIEndpoint,
		Timeout:     15 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrChatNotFound means the chat does not exist or the bot was never in it.
	ErrChatNotFound = errors.New("telegram: chat not found")

	// ErrRecipientBlocked means the user blocked the bot or left the group.
	ErrRecipientBlocked = errors.New("telegram: bot blocked by recipient")

	// ErrMissingToken is returned by NewClient for an empty token.
	ErrMissingToken = errors.New("telegram: bot token is required")
)

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client wraps tgbotapi.BotAPI with retries, a circuit breaker and error
// classification.
type Client struct {
	bot     *tgbotapi.BotAPI
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetrier replaces the default Bot API retry policy.
func WithRetrier(r *retry.Retrier) Option {
	return func(c *Client) { c.retrier = r }
}

// WithBreaker replaces the default Bot API circuit breaker.
func WithBreaker(b *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = b }
}

// NewClient authenticates the token with getMe and returns a ready client.
func NewClient(cfg Config, log *logger.Logger, opts ...Option) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: authenticate bot: %w", err)
	}
	bot.Debug = cfg.Debug

	c := &Client{
		bot:     bot,
		retrier: retry.TelegramRetrier(),
		log:     log.With(logger.Component("telegram")),
	}
	c.breaker = circuitbreaker.TelegramBreaker(IsOutage, func(name string, from, to circuitbreaker.State) {
		c.log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})
	for _, opt := range opts {
		opt(c)
	}

	c.log.Info("telegram client ready", logger.String("username", bot.Self.UserName))
	return c, nil
}

// Username returns the bot's @username without the @.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// Send delivers an HTML-formatted message to chatID. While the breaker is
// open it fails at once with circuitbreaker.ErrCircuitOpen.
func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.send(ctx, chatID, text)
	})
}

func (c *Client) send(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	attempt := 0
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		attempt++
		_, err := c.do(ctx, msg)
		if err == nil {
			return nil
		}

		c.log.Debug("telegram send failed",
			logger.ChatID(chatID),
			logger.Int("attempt", attempt),
			logger.Err(err),
		)
		classified := Classify(err)

		// Flood control tells us exactly how long to back off.
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests && apiErr.RetryAfter > 0 {
			select {
			case <-ctx.Done():
				return retry.Permanent(err)
			case <-time.After(time.Duration(apiErr.RetryAfter) * time.Second):
			}
		}
		return classified
	})
}

// Ping checks the token is still valid. It bypasses the breaker, so an
// open breaker is closed again as soon as getMe answers, and a failed ping
// reports how many sends the breaker has turned away.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, nil)
	if c.breaker.State() == circuitbreaker.StateClosed {
		return err
	}
	counts := c.breaker.Counts()
	if err != nil {
		return fmt.Errorf("bot api unreachable, %d sends rejected by breaker: %w", counts.Rejected, err)
	}
	c.log.Info("bot api reachable again, closing breaker",
		logger.String("breaker", c.breaker.Name()),
		logger.Int("rejected", counts.Rejected),
		logger.Int("failures", counts.TotalFailures),
	)
	c.breaker.Reset()
	return nil
}

// do runs one Bot API call. The library has no context support, so the
// call is abandoned (not cancelled) when ctx ends first.
func (c *Client) do(ctx context.Context, msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	type result struct {
		msg tgbotapi.Message
		err error
	}
	done := make(chan result, 1)

	go func() {
		if msg == nil {
			_, err := c.bot.GetMe()
			done <- result{err: err}
			return
		}
		m, err := c.bot.Send(msg)
		done <- result{msg: m, err: err}
	}()

	select {
	case <-ctx.Done():
		return tgbotapi.Message{}, ctx.Err()
	case r := <-done:
		return r.msg, r.err
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// Classify marks err for the retrier: rate limits, server errors and
// transport failures are retried, everything else the API rejected is not.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Permanent(err)
	}

	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return retry.Retryable(err)
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
		return retry.Retryable(err)
	case isUserBlocked(apiErr):
		return retry.Permanent(fmt.Errorf("%w: %s", ErrRecipientBlocked, apiErr.Message))
	case isChatNotFound(apiErr):
		return retry.Permanent(fmt.Errorf("%w: %s", ErrChatNotFound, apiErr.Message))
	default:
		return retry.Permanent(err)
	}
}

// IsOutage reports whether a final Send error points at the Bot API itself
// rather than at one recipient or the caller.
func IsOutage(err error) bool {
	if err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrRecipientBlocked) ||
		errors.Is(err, ErrChatNotFound) {
		return false
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return true
}

func isChatNotFound(e *tgbotapi.Error) bool {
	return e.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(e.Message), "chat not found")
}

func isUserBlocked(e *tgbotapi.Error) bool {
	if e.Code != http.StatusForbidden {
		return false
	}
	m := strings.ToLower(e.Message)
	return strings.Contains(m, "blocked") ||
		strings.Contains(m, "deactivated") ||
		strings.Contains(m, "kicked")
}
