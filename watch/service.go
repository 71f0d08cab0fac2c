package watch

import "github.com/user/xiaowear/wire"

// Service is one independent stateful handler for a feature area's command
// subtype space. Every service is owned by exactly one Session and all of its
// entry points run on that session's worker, so services hold plain mutable
// state without locking.
type Service interface {
	// Name is the human-readable service name used in log prefixes and labels
	Name() string

	// CommandType is the wire command type this service is registered for
	CommandType() uint32

	// Initialize runs once after the session connects; services send their
	// initial probes and pushes here
	Initialize()

	// HandleCommand processes one decoded frame. Called exactly once per frame,
	// never concurrently. Unknown subtypes are logged and ignored, never fatal.
	HandleCommand(cmd *wire.Command)

	// OnSendConfiguration is the preference-change hook. Every registered
	// service sees every key and self-filters; the return value only reports
	// whether this service handled the key.
	OnSendConfiguration(key string, prefs *Prefs) bool

	// Dispose cancels pending timers and drops in-flight state. After Dispose
	// no timer callback may fire into the service.
	Dispose()
}
