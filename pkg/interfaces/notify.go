package interfaces

import "learnsync/pkg/types"

// Notifier surfaces transient user-facing notifications.
type Notifier interface {
	Notify(n types.Notification)
}
