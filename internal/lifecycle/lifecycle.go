// Package lifecycle decides which facts from a conversation become memory
// and how they integrate with what is already known. A language model is
// consulted for every judgement; each consultation yields an Outcome that is
// either the model's answer or an explicit fallback.
package lifecycle

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rcliao/agent-memgit/internal/config"
	"github.com/rcliao/agent-memgit/internal/logging"
	"github.com/rcliao/agent-memgit/internal/store"
)

// Oracle completes a single prompt. It keeps no conversation state.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Outcome is the result of one oracle consultation. When Fallback is set,
// Value holds the safe default and Reason says why the model's answer was
// not used.
type Outcome[T any] struct {
	Value    T
	Fallback bool
	Reason   string
}

func ok[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

func fallback[T any](v T, reason string) Outcome[T] {
	return Outcome[T]{Value: v, Fallback: true, Reason: reason}
}

// Controller runs the memory lifecycle against one store.
type Controller struct {
	store  *store.Store
	oracle Oracle
	cfg    config.LifecycleConfig
	log    zerolog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// New returns a controller. A nil oracle is allowed: every decision then
// takes its fallback.
func New(st *store.Store, o Oracle, cfg config.LifecycleConfig, opts ...Option) *Controller {
	c := &Controller{
		store:  st,
		oracle: o,
		cfg:    cfg,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.Component(c.log, "lifecycle")
	return c
}

// ask sends a prompt built over the windowed conversation. The returned
// reason is empty on success.
func (c *Controller) ask(ctx context.Context, prompt string) (string, string) {
	if c.oracle == nil {
		return "", "no oracle configured"
	}
	resp, err := c.oracle.Complete(ctx, prompt)
	if err != nil {
		return "", "oracle error: " + err.Error()
	}
	return resp, ""
}

func (c *Controller) warnFallback(op, reason string) {
	c.log.Warn().Str("op", op).Str("reason", reason).Msg("oracle fallback")
}
