package store

import (
	"context"
	"strings"

	"github.com/rcliao/agent-memgit/internal/view"
)

// Context assembles prompt context from the current branch. A zero MaxItems
// uses the configured limit.
func (s *Store) Context(ctx context.Context, p view.ContextParams) (*view.ContextResult, error) {
	if p.MaxItems <= 0 {
		p.MaxItems = s.cfg.Memory.MaxContextItems
	}
	return s.view.Context(ctx, p)
}

// ContextString renders the current branch's memories for prompt injection.
func (s *Store) ContextString(ctx context.Context, maxItems int) (string, error) {
	if maxItems <= 0 {
		maxItems = s.cfg.Memory.MaxContextItems
	}
	return s.view.ContextString(ctx, maxItems)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
