package watch

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/user/xiaowear/logger"
	"github.com/user/xiaowear/wire"
)

// WriteAck is the transport's low-level write-completion signal for upload
// parts: remaining is the count of parts not yet written, ok reports whether
// the last write succeeded.
type WriteAck func(remaining int, ok bool)

// Sender is the outbound half of the transport session. Delivery ordering and
// retry are the transport's responsibility; services fire and forget.
type Sender interface {
	// SendCommand writes one command frame. The label names the operation for
	// logging and transport-side retry accounting.
	SendCommand(label string, cmd *wire.Command) error

	// WriteChunks streams upload parts in strict ascending order, invoking ack
	// after each write with the number of parts still unwritten.
	WriteChunks(parts [][]byte, ack WriteAck)
}

// Session owns every service instance for one connected device and serializes
// all of their entry points through a single worker goroutine. Inbound frames,
// configuration broadcasts, and timer callbacks all re-enter through Post, so
// services never see concurrent calls.
type Session struct {
	name   string
	sender Sender
	events Events
	prefs  *Prefs

	services map[uint32]Service
	order    []Service

	queue     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession creates a session and starts its worker
func NewSession(name string, sender Sender, events Events, prefs *Prefs) *Session {
	s := &Session{
		name:     name,
		sender:   sender,
		events:   events,
		prefs:    prefs,
		services: make(map[uint32]Service),
		queue:    make(chan func(), 64),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case f := <-s.queue:
			f()
		case <-s.done:
			return
		}
	}
}

// Register adds a service to the dispatch table. Registration order is the
// order configuration broadcasts fan out in.
func (s *Session) Register(svc Service) {
	if existing, dup := s.services[svc.CommandType()]; dup {
		logger.Warn(s.name, "service %s already registered for type %d, ignoring %s",
			existing.Name(), svc.CommandType(), svc.Name())
		return
	}
	s.services[svc.CommandType()] = svc
	s.order = append(s.order, svc)
}

// Initialize runs every service's Initialize hook on the worker
func (s *Session) Initialize() {
	s.Post(func() {
		for _, svc := range s.order {
			svc.Initialize()
		}
	})
}

// Post enqueues work onto the session worker. Calls after Close are dropped.
func (s *Session) Post(f func()) {
	select {
	case s.queue <- f:
	case <-s.done:
	}
}

// Flush blocks until all work queued before it has run
func (s *Session) Flush() {
	ran := make(chan struct{})
	s.Post(func() { close(ran) })
	select {
	case <-ran:
	case <-s.done:
	}
}

// AfterFunc schedules f on the session worker after d. The returned timer's
// Stop cancels it; a timer that fires after Close is dropped by Post.
func (s *Session) AfterFunc(d time.Duration, f func()) *time.Timer {
	return time.AfterFunc(d, func() {
		s.Post(f)
	})
}

// HandleFrame decodes one inbound frame and dispatches it on the worker.
// Decode failures are logged and the frame dropped.
func (s *Session) HandleFrame(data []byte) {
	cmd, err := wire.Decode(data)
	if err != nil {
		logger.Warn(s.name, "dropping undecodable frame (%d bytes): %v", len(data), err)
		return
	}
	s.Post(func() {
		s.dispatch(cmd)
	})
}

// dispatch routes a decoded command to the service registered for its type
func (s *Session) dispatch(cmd *wire.Command) {
	svc, ok := s.services[cmd.Type]
	if !ok {
		logger.Warn(s.name, "no service registered for %s, dropping", cmd)
		return
	}
	logger.Trace(s.name, "dispatching %s to %s", cmd, svc.Name())
	if len(cmd.Payload) > 0 {
		logger.TraceJSON(s.name, "inbound payload", json.RawMessage(cmd.Payload))
	}
	svc.HandleCommand(cmd)
}

// BroadcastConfigChange fans a preference-change key out to every service in
// registration order. Every service sees every key; a service's "handled"
// result never suppresses delivery to the others.
func (s *Session) BroadcastConfigChange(key string) {
	s.Post(func() {
		for _, svc := range s.order {
			if svc.OnSendConfiguration(key, s.prefs) {
				logger.Debug(s.name, "%s handled config key %q", svc.Name(), key)
			}
		}
	})
}

// SendCommand writes one outbound command through the transport
func (s *Session) SendCommand(label string, cmd *wire.Command) {
	logger.Debug(s.name, "sending %s: %s", label, cmd)
	if len(cmd.Payload) > 0 {
		logger.DebugJSON(s.name, "outbound payload", json.RawMessage(cmd.Payload))
	}
	if err := s.sender.SendCommand(label, cmd); err != nil {
		logger.Warn(s.name, "failed to send %s: %v", label, err)
	}
}

// Name returns the session's log prefix
func (s *Session) Name() string {
	return s.name
}

// Prefs returns the session's preference store
func (s *Session) Prefs() *Prefs {
	return s.prefs
}

// Events returns the host callback sink
func (s *Session) Events() Events {
	return s.events
}

// Close disposes every service on the worker, then stops the worker. Safe to
// call more than once. After Close, pending timers fire into a stopped queue
// and are dropped.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		disposed := make(chan struct{})
		s.Post(func() {
			for _, svc := range s.order {
				svc.Dispose()
			}
			close(disposed)
		})
		<-disposed
		close(s.done)
	})
}
