package settings

// EventType identifies a settings lifecycle event.
type EventType string

const (
	// EventActivated fires when a record becomes the active settings.
	EventActivated EventType = "activated"
	// EventUpdated fires when a record is updated.
	EventUpdated EventType = "updated"
	// EventServerChanged fires when a server configuration changed and
	// dependent cache entries were invalidated.
	EventServerChanged EventType = "server-changed"
	// EventRestored fires when a backup is restored.
	EventRestored EventType = "restored"
	// EventLoadFailed fires when self-healing exhausted every recovery
	// path and the hardcoded defaults took over.
	EventLoadFailed EventType = "load-failed"
)

// Event describes one settings change.
type Event struct {
	Type       EventType
	SettingsID string
	ServerID   string
}

// Subscriber receives settings events. Notify must not block; slow
// consumers should buffer internally.
type Subscriber interface {
	Notify(Event)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(Event)

// Notify implements Subscriber.
func (f SubscriberFunc) Notify(e Event) {
	f(e)
}
