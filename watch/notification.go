package watch

import (
	"github.com/user/xiaowear/logger"
	"github.com/user/xiaowear/wire"
)

// NotificationService forwards host notifications to the device and relays
// on-device dismissals back to the host
type NotificationService struct {
	session *Session
}

// NewNotificationService creates the notification service
func NewNotificationService(session *Session) *NotificationService {
	return &NotificationService{session: session}
}

func (s *NotificationService) Name() string        { return "notification" }
func (s *NotificationService) CommandType() uint32 { return wire.TypeNotification }

// Initialize has nothing to probe
func (s *NotificationService) Initialize() {}

// SendNotification forwards one notification
func (s *NotificationService) SendNotification(n wire.Notification) {
	cmd, err := wire.NewCommand(wire.TypeNotification, wire.NotificationSend, n)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build notification: %v", err)
		return
	}
	s.session.SendCommand("notification", cmd)
}

// DismissNotification removes a notification from the device, for host-side
// dismissals
func (s *NotificationService) DismissNotification(id uint32) {
	cmd, err := wire.NewCommand(wire.TypeNotification, wire.NotificationDismiss, wire.NotificationRef{ID: id})
	if err != nil {
		logger.Error(s.session.Name(), "failed to build notification dismissal: %v", err)
		return
	}
	s.session.SendCommand("dismiss notification", cmd)
}

// HandleCommand processes notification frames
func (s *NotificationService) HandleCommand(cmd *wire.Command) {
	switch cmd.Subtype {
	case wire.NotificationDismiss:
		s.handleDismiss(cmd)
	case wire.NotificationSend:
		if status := cmd.StatusOr(wire.StatusSuccess); status != wire.StatusSuccess {
			logger.Warn(s.session.Name(), "device rejected notification with status %d", status)
		}
	default:
		logger.Warn(s.session.Name(), "unknown notification subtype %d, ignoring", cmd.Subtype)
	}
}

func (s *NotificationService) handleDismiss(cmd *wire.Command) {
	var ref wire.NotificationRef
	if err := wire.UnmarshalPayload(cmd.Payload, &ref); err != nil {
		logger.Warn(s.session.Name(), "bad notification dismissal: %v", err)
		return
	}
	logger.Debug(s.session.Name(), "device dismissed notification %d", ref.ID)
	s.session.Events().NotificationDismissed(ref.ID)
}

// OnSendConfiguration has no notification preferences to react to
func (s *NotificationService) OnSendConfiguration(key string, prefs *Prefs) bool {
	return false
}

// Dispose has no state to clear
func (s *NotificationService) Dispose() {}
