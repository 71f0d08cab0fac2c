package watch

import (
	"github.com/user/xiaowear/logger"
	"github.com/user/xiaowear/wire"
)

// MusicService mirrors the host media session to the device and relays the
// device's transport controls back. Pushes are gated on value equality with
// the last sent state so position ticks that round to the same state are
// suppressed by the caller, not here.
type MusicService struct {
	session *Session

	lastPushed *wire.MusicState
}

// NewMusicService creates the music service
func NewMusicService(session *Session) *MusicService {
	return &MusicService{session: session}
}

func (s *MusicService) Name() string        { return "music" }
func (s *MusicService) CommandType() uint32 { return wire.TypeMusic }

// Initialize has nothing to send until the host reports a media session
func (s *MusicService) Initialize() {}

// UpdateMusicState pushes the media state if it differs from the last push
func (s *MusicService) UpdateMusicState(state wire.MusicState) {
	if s.lastPushed != nil && *s.lastPushed == state {
		return
	}

	cmd, err := wire.NewCommand(wire.TypeMusic, wire.MusicStateSet, state)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build music state: %v", err)
		return
	}
	s.session.SendCommand("music state", cmd)
	s.lastPushed = &state
}

// HandleCommand processes music frames
func (s *MusicService) HandleCommand(cmd *wire.Command) {
	switch cmd.Subtype {
	case wire.MusicControl:
		s.handleControl(cmd)
	case wire.MusicStateSet:
		if status := cmd.StatusOr(wire.StatusSuccess); status != wire.StatusSuccess {
			logger.Warn(s.session.Name(), "device rejected music state with status %d", status)
		}
	default:
		logger.Warn(s.session.Name(), "unknown music subtype %d, ignoring", cmd.Subtype)
	}
}

func (s *MusicService) handleControl(cmd *wire.Command) {
	var control wire.MusicControlPayload
	if err := wire.UnmarshalPayload(cmd.Payload, &control); err != nil {
		logger.Warn(s.session.Name(), "bad music control: %v", err)
		return
	}

	switch control.Action {
	case wire.MusicActionPlay, wire.MusicActionPause, wire.MusicActionNext,
		wire.MusicActionPrevious, wire.MusicActionVolumeUp, wire.MusicActionVolumeDown:
		logger.Debug(s.session.Name(), "music control: %s", control.Action)
		s.session.Events().MusicCommand(control.Action)
	default:
		logger.Warn(s.session.Name(), "unknown music action %q, ignoring", control.Action)
	}
}

// OnSendConfiguration has no music preferences to react to
func (s *MusicService) OnSendConfiguration(key string, prefs *Prefs) bool {
	return false
}

// Dispose forgets the last pushed state so a reconnect pushes fresh
func (s *MusicService) Dispose() {
	s.lastPushed = nil
}
