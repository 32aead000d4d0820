package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyutobor/OneuiBot-sub000/pkg/circuitbreaker"
	"github.com/lyutobor/OneuiBot-sub000/pkg/retry"
)

const getMeOK = `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"OneUI","username":"oneui_bot"}}`

// fakeBotAPI answers getMe and delegates sendMessage to send.
func fakeBotAPI(t *testing.T, send http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, getMeOK)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			send(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	cfg := DefaultConfig("TEST")
	cfg.APIEndpoint = srv.URL + "/bot%s/%s"
	opts = append([]Option{WithRetrier(retry.New(
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithJitter(0),
	))}, opts...)
	c, err := NewClient(cfg, nil, opts...)
	require.NoError(t, err)
	return c
}

func okMessage(w http.ResponseWriter, chatID string) {
	fmt.Fprintf(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":%s,"type":"private"}}}`, chatID)
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestClient_SendUsesHTML(t *testing.T) {
	var form atomic.Value
	srv := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form.Store(r.PostForm)
		okMessage(w, r.PostForm.Get("chat_id"))
	})
	c := newTestClient(t, srv)

	assert.Equal(t, "oneui_bot", c.Username())
	require.NoError(t, c.Send(context.Background(), 42, "🏆 <b>Новое достижение!</b>"))

	got := form.Load().(url.Values)
	assert.Equal(t, []string{"42"}, got["chat_id"])
	assert.Equal(t, []string{"HTML"}, got["parse_mode"])
	assert.Equal(t, []string{"🏆 <b>Новое достижение!</b>"}, got["text"])
}

func TestClient_SendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`)
			return
		}
		require.NoError(t, r.ParseForm())
		okMessage(w, r.PostForm.Get("chat_id"))
	})
	c := newTestClient(t, srv)

	require.NoError(t, c.Send(context.Background(), 42, "hi"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_SendStopsOnBlockedRecipient(t *testing.T) {
	var calls atomic.Int32
	srv := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
	})
	c := newTestClient(t, srv)

	err := c.Send(context.Background(), 42, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecipientBlocked)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_BreakerOpensOnOutage(t *testing.T) {
	var calls atomic.Int32
	srv := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"ok":false,"error_code":503,"description":"Service Unavailable"}`)
	})
	breaker := circuitbreaker.New("test",
		circuitbreaker.WithFailureThreshold(2),
		circuitbreaker.WithCooldown(time.Hour),
		circuitbreaker.WithIsFailure(IsOutage),
	)
	c := newTestClient(t, srv, WithBreaker(breaker))

	require.Error(t, c.Send(context.Background(), 42, "hi"))
	require.Error(t, c.Send(context.Background(), 42, "hi"))
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	before := calls.Load()
	err := c.Send(context.Background(), 42, "hi")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, before, calls.Load())
}

func TestClient_BlockedRecipientDoesNotTripBreaker(t *testing.T) {
	srv := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
	})
	breaker := circuitbreaker.New("test",
		circuitbreaker.WithFailureThreshold(1),
		circuitbreaker.WithIsFailure(IsOutage),
	)
	c := newTestClient(t, srv, WithBreaker(breaker))

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, c.Send(context.Background(), 42, "hi"), ErrRecipientBlocked)
	}
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
}

func TestClient_PingClosesOpenBreaker(t *testing.T) {
	var outage atomic.Bool
	outage.Store(true)
	srv := fakeBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if outage.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"ok":false,"error_code":503,"description":"Service Unavailable"}`)
			return
		}
		okMessage(w, r.FormValue("chat_id"))
	})
	breaker := circuitbreaker.New("test",
		circuitbreaker.WithFailureThreshold(1),
		circuitbreaker.WithCooldown(time.Hour),
		circuitbreaker.WithIsFailure(IsOutage),
	)
	c := newTestClient(t, srv, WithBreaker(breaker))

	require.Error(t, c.Send(context.Background(), 42, "hi"))
	assert.ErrorIs(t, c.Send(context.Background(), 42, "hi"), circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 1, breaker.Counts().Rejected)

	outage.Store(false)
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
	assert.Equal(t, circuitbreaker.Counts{}, breaker.Counts())
	assert.NoError(t, c.Send(context.Background(), 42, "hi"))
}

func TestClient_PingReportsRejectedSendsWhileDown(t *testing.T) {
	var getMe atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// The first getMe authenticates the client; everything after is down.
		if strings.HasSuffix(r.URL.Path, "/getMe") && getMe.Add(1) == 1 {
			fmt.Fprint(w, getMeOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"ok":false,"error_code":503,"description":"Service Unavailable"}`)
	}))
	t.Cleanup(srv.Close)
	breaker := circuitbreaker.New("test",
		circuitbreaker.WithFailureThreshold(1),
		circuitbreaker.WithCooldown(time.Hour),
		circuitbreaker.WithIsFailure(IsOutage),
	)
	c := newTestClient(t, srv, WithBreaker(breaker))

	require.Error(t, c.Send(context.Background(), 42, "hi"))
	require.Error(t, c.Send(context.Background(), 42, "hi"))
	require.Error(t, c.Send(context.Background(), 42, "hi"))

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 sends rejected")
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
}

func TestIsOutage(t *testing.T) {
	assert.False(t, IsOutage(nil))
	assert.False(t, IsOutage(context.Canceled))
	assert.False(t, IsOutage(fmt.Errorf("%w: x", ErrChatNotFound)))
	assert.False(t, IsOutage(&tgbotapi.Error{Code: 400, Message: "Bad Request"}))
	assert.True(t, IsOutage(&tgbotapi.Error{Code: 502, Message: "Bad Gateway"}))
	assert.True(t, IsOutage(errors.New("dial tcp: connection refused")))
}

func TestClassify(t *testing.T) {
	apiErr := func(code int, msg string) error {
		return &tgbotapi.Error{Code: code, Message: msg}
	}

	tests := []struct {
		name      string
		err       error
		retryable bool
		is        error
	}{
		{"rate limited", apiErr(429, "Too Many Requests: retry after 1"), true, nil},
		{"server error", apiErr(500, "Internal Server Error"), true, nil},
		{"transport", errors.New("connection reset by peer"), true, nil},
		{"chat not found", apiErr(400, "Bad Request: chat not found"), false, ErrChatNotFound},
		{"blocked", apiErr(403, "Forbidden: bot was blocked by the user"), false, ErrRecipientBlocked},
		{"kicked", apiErr(403, "Forbidden: bot was kicked from the group chat"), false, ErrRecipientBlocked},
		{"bad markup", apiErr(400, "Bad Request: can't parse entities"), false, nil},
		{"cancelled", context.Canceled, false, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.retryable, retry.IsRetryable(got))
			assert.Equal(t, !tt.retryable, retry.IsPermanent(got))
			if tt.is != nil {
				assert.ErrorIs(t, got, tt.is)
			}
		})
	}

	assert.NoError(t, Classify(nil))
}
