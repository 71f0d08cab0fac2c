package watch

import (
	"github.com/user/xiaowear/logger"
	"github.com/user/xiaowear/wire"
)

// MaxCalendarEvents caps how many events go to the device in one sync
const MaxCalendarEvents = 50

// CalendarSource is the host's event store. Events are expected in start
// order; the cap keeps the earliest ones.
type CalendarSource interface {
	Events() []wire.CalendarEvent
}

// CalendarService pushes the host calendar to the device. Syncs are
// wholesale; the skip gate compares the capped event set against what was
// last sent so repeated triggers with unchanged data send nothing.
type CalendarService struct {
	session *Session
	source  CalendarSource

	lastSynced map[wire.CalendarEvent]bool
	synced     bool
}

// NewCalendarService creates the calendar service
func NewCalendarService(session *Session, source CalendarSource) *CalendarService {
	return &CalendarService{session: session, source: source}
}

func (s *CalendarService) Name() string        { return "calendar" }
func (s *CalendarService) CommandType() uint32 { return wire.TypeCalendar }

// Initialize pushes the current events
func (s *CalendarService) Initialize() {
	s.SyncCalendar()
}

// SyncCalendar sends the host's events if they differ from the last sync.
// Equality is by set; reordering alone does not trigger a send.
func (s *CalendarService) SyncCalendar() {
	if s.source == nil {
		return
	}
	events := s.source.Events()
	if len(events) > MaxCalendarEvents {
		logger.Debug(s.session.Name(), "capping calendar sync at %d of %d events", MaxCalendarEvents, len(events))
		events = events[:MaxCalendarEvents]
	}

	set := make(map[wire.CalendarEvent]bool, len(events))
	for _, ev := range events {
		set[ev] = true
	}
	if s.synced && sameEventSet(set, s.lastSynced) {
		logger.Debug(s.session.Name(), "calendar unchanged, skipping sync")
		return
	}

	cmd, err := wire.NewCommand(wire.TypeCalendar, wire.CalendarSync, wire.CalendarEvents{Events: events})
	if err != nil {
		logger.Error(s.session.Name(), "failed to build calendar sync: %v", err)
		return
	}
	s.session.SendCommand("calendar sync", cmd)
	s.lastSynced = set
	s.synced = true
	logger.Info(s.session.Name(), "synced %d calendar events", len(events))
}

func sameEventSet(a, b map[wire.CalendarEvent]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for ev := range a {
		if !b[ev] {
			return false
		}
	}
	return true
}

// HandleCommand processes calendar frames
func (s *CalendarService) HandleCommand(cmd *wire.Command) {
	switch cmd.Subtype {
	case wire.CalendarSync:
		if status := cmd.StatusOr(wire.StatusSuccess); status != wire.StatusSuccess {
			logger.Warn(s.session.Name(), "device rejected calendar sync with status %d", status)
			// Forget the snapshot so the next trigger retries
			s.synced = false
		}
	default:
		logger.Warn(s.session.Name(), "unknown calendar subtype %d, ignoring", cmd.Subtype)
	}
}

// OnSendConfiguration re-syncs when calendar forwarding is toggled on
func (s *CalendarService) OnSendConfiguration(key string, prefs *Prefs) bool {
	if key != PrefSyncCalendar {
		return false
	}
	if prefs.GetBool(PrefSyncCalendar, false) {
		s.SyncCalendar()
	}
	return true
}

// Dispose forgets the sync snapshot
func (s *CalendarService) Dispose() {
	s.lastSynced = nil
	s.synced = false
}
