package notify

import "context"

// Notifier sends operator-facing alerts. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}
