package watch

import (
	"github.com/user/xiaowear/logger"
	"github.com/user/xiaowear/wire"
)

// Alarm is the host's desired state for one alarm slot. Position is the
// device-assigned slot; the device id on the wire is position+1. An Unused
// alarm asks for the slot to be empty.
type Alarm struct {
	Position int
	Unused   bool
	Enabled  bool
	Hour     int
	Minute   int
	// RepeatMode is one of wire.RepeatOnce, RepeatDaily, RepeatWeekly;
	// WeekDays is the weekly bitmask, bit 0 = Monday
	RepeatMode int
	WeekDays   byte
	Smart      bool
}

// ScheduleService reconciles the host's desired alarms against the device's
// slots. Presence is decided by position equality against the last fetched
// remote snapshot, not by any stable id; the watch owns the id space.
type ScheduleService struct {
	session *Session

	remote           map[int]wire.AlarmDetails // keyed by position
	desired          []Alarm
	pendingReconcile bool
}

// NewScheduleService creates the schedule service
func NewScheduleService(session *Session) *ScheduleService {
	return &ScheduleService{
		session: session,
		remote:  make(map[int]wire.AlarmDetails),
	}
}

func (s *ScheduleService) Name() string        { return "schedule" }
func (s *ScheduleService) CommandType() uint32 { return wire.TypeSchedule }

// Initialize fetches the device's alarm slots
func (s *ScheduleService) Initialize() {
	s.requestAlarms()
}

func (s *ScheduleService) requestAlarms() {
	s.session.SendCommand("get alarms", &wire.Command{Type: wire.TypeSchedule, Subtype: wire.AlarmListGet})
}

// SetAlarms records the desired alarm list and refreshes the remote snapshot
// before reconciling against it
func (s *ScheduleService) SetAlarms(alarms []Alarm) {
	s.desired = alarms
	s.pendingReconcile = true
	s.requestAlarms()
}

// HandleCommand processes schedule frames
func (s *ScheduleService) HandleCommand(cmd *wire.Command) {
	switch cmd.Subtype {
	case wire.AlarmListGet:
		s.handleAlarmList(cmd)
	case wire.AlarmCreate, wire.AlarmEdit, wire.AlarmDelete:
		if status := cmd.StatusOr(wire.StatusSuccess); status != wire.StatusSuccess {
			logger.Warn(s.session.Name(), "alarm subtype %d failed with status %d", cmd.Subtype, status)
		}
	default:
		logger.Warn(s.session.Name(), "unknown schedule subtype %d, ignoring", cmd.Subtype)
	}
}

func (s *ScheduleService) handleAlarmList(cmd *wire.Command) {
	var list wire.AlarmList
	if err := wire.UnmarshalPayload(cmd.Payload, &list); err != nil {
		logger.Warn(s.session.Name(), "bad alarm list: %v", err)
		return
	}

	s.remote = make(map[int]wire.AlarmDetails, len(list.Alarms))
	for _, alarm := range list.Alarms {
		s.remote[alarm.ID-1] = alarm
	}

	if s.pendingReconcile {
		s.pendingReconcile = false
		s.reconcile()
	}
}

func alarmDetails(a Alarm) wire.AlarmDetails {
	return wire.AlarmDetails{
		ID:         a.Position + 1,
		Enabled:    a.Enabled,
		Hour:       a.Hour,
		Minute:     a.Minute,
		RepeatMode: a.RepeatMode,
		WeekDays:   a.WeekDays,
		Smart:      a.Smart,
	}
}

// reconcile emits at most one wire operation per alarm per pass and applies
// each operation to the remote snapshot, so an immediate second pass with the
// same desired list is all no-ops.
func (s *ScheduleService) reconcile() {
	for _, alarm := range s.desired {
		remote, present := s.remote[alarm.Position]

		switch {
		case alarm.Unused && !present:
			// Nothing to do
		case alarm.Unused && present:
			s.sendAlarmOp("delete alarm", wire.AlarmDelete, wire.AlarmRef{ID: alarm.Position + 1})
			delete(s.remote, alarm.Position)
		case !present:
			details := alarmDetails(alarm)
			s.sendAlarmOp("create alarm", wire.AlarmCreate, details)
			s.remote[alarm.Position] = details
		default:
			details := alarmDetails(alarm)
			if details != remote {
				s.sendAlarmOp("edit alarm", wire.AlarmEdit, details)
				s.remote[alarm.Position] = details
			}
		}
	}
}

func (s *ScheduleService) sendAlarmOp(label string, subtype uint32, payload interface{}) {
	cmd, err := wire.NewCommand(wire.TypeSchedule, subtype, payload)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build %s: %v", label, err)
		return
	}
	s.session.SendCommand(label, cmd)
}

// OnSendConfiguration has no schedule preferences to react to; alarm changes
// arrive through SetAlarms
func (s *ScheduleService) OnSendConfiguration(key string, prefs *Prefs) bool {
	return false
}

// Dispose drops the remote snapshot and any pending reconcile
func (s *ScheduleService) Dispose() {
	s.remote = make(map[int]wire.AlarmDetails)
	s.pendingReconcile = false
}
