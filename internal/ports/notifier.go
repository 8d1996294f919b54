package ports

import "context"

// Notifier delivers operational messages. Implementations must never let a
// delivery failure propagate into the trading path.
type Notifier interface {
	Notify(ctx context.Context, message string) error
	Alert(ctx context.Context, message string) error
}
