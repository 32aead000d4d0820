package engine

import (
	"context"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/pkg/logger"
)

// EvaluateAchievements is what game-action handlers call after their own
// state change committed. It returns immediately; the pass runs on its own
// goroutine with a context that outlives the caller's request.
func (e *Engine) EvaluateAchievements(userID, chatID int64, event map[string]any) {
	if e.gate != nil && !e.gate(userID) {
		return
	}

	// Copy so the caller may reuse its map.
	ctxCopy := make(achievement.EvaluationContext, len(event))
	for k, v := range event {
		ctxCopy[k] = v
	}

	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		e.log.Warn("achievement pass dropped, engine is shutting down",
			logger.UserID(userID),
			logger.ChatID(chatID),
		)
		return
	}
	e.inflight.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("achievement pass panicked",
					logger.UserID(userID),
					logger.ChatID(chatID),
					logger.Any("panic", r),
				)
			}
		}()

		ctx := context.Background()
		if e.passTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.passTimeout)
			defer cancel()
		}
		e.Run(ctx, userID, chatID, ctxCopy)
	}()
}

// Drain stops accepting background passes and waits for the running ones.
// Triggers after Drain are dropped.
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()
	return e.Wait(ctx)
}

// Wait blocks until every background pass finished or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
