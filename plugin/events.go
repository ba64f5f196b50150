package plugin

// LifecycleEventType describes what happened to a plugin instance.
type LifecycleEventType string

// Lifecycle events.
const (
	EventActivated      LifecycleEventType = "activated"
	EventReleased       LifecycleEventType = "released"
	EventReloaded       LifecycleEventType = "reloaded"
	EventConfigReloaded LifecycleEventType = "config-reloaded"
)

// LifecycleEvent is submitted to Extender.Events.
type LifecycleEvent struct {
	Type LifecycleEventType
	// Name is the qualified name of the plugin, or the configuration file.
	Name     string
	Location string
	Instance *Instance
}
