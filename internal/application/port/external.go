package port

import (
	"context"

	"github.com/garyjia/portal-workflow/internal/domain/entity"
)

// IdentityDirectory resolves role membership. Role rules are
// late-bound: the resolver queries at step entry, never from a
// submission-time cache.
type IdentityDirectory interface {
	HasRole(ctx context.Context, userID, role string) (bool, error)
	UsersWithRole(ctx context.Context, role string) ([]string, error)
}

// IntentPublisher accepts notification intents for asynchronous
// delivery. Publish must not block on network I/O; the engine calls it
// inside its per-request critical section.
type IntentPublisher interface {
	Publish(ctx context.Context, intent entity.NotificationIntent)
}
