package watch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/user/xiaowear/logger"
	"github.com/user/xiaowear/transfer"
	"github.com/user/xiaowear/wire"
)

// ToWatchfaceUUID reinterprets a numeric watchface id as a 128-bit identifier
// for host-side display. The id is right-padded with '0' to 16 characters and
// the character bytes become the UUID bytes. Ids of up to 16 numeric
// characters survive a round trip through ToWatchfaceID at the UUID level.
func ToWatchfaceUUID(id string) (uuid.UUID, error) {
	if len(id) > 16 {
		return uuid.Nil, fmt.Errorf("watchface id %q longer than 16 characters", id)
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return uuid.Nil, fmt.Errorf("watchface id %q is not numeric", id)
		}
	}
	padded := id + strings.Repeat("0", 16-len(id))
	return uuid.FromBytes([]byte(padded))
}

// ToWatchfaceID recovers the numeric id from a watchface UUID by stripping
// the right padding
func ToWatchfaceID(u uuid.UUID) string {
	return strings.TrimRight(string(u[:]), "0")
}

// WatchfaceService tracks the device's watchface catalog and runs the
// install/delete/activate flows. The catalog is rebuilt wholesale on every
// list response; the device, not the phone, is the source of truth.
type WatchfaceService struct {
	session *Session
	upload  *DataUploadService

	allIDs        map[string]bool
	userDeletable map[string]bool
	activeID      string

	installing       bool
	pendingInstallID string
	pendingData      []byte
}

// NewWatchfaceService creates the watchface service
func NewWatchfaceService(session *Session, upload *DataUploadService) *WatchfaceService {
	return &WatchfaceService{
		session:       session,
		upload:        upload,
		allIDs:        make(map[string]bool),
		userDeletable: make(map[string]bool),
	}
}

func (s *WatchfaceService) Name() string        { return "watchface" }
func (s *WatchfaceService) CommandType() uint32 { return wire.TypeWatchface }

// Initialize fetches the catalog
func (s *WatchfaceService) Initialize() {
	s.requestList()
}

func (s *WatchfaceService) requestList() {
	s.session.SendCommand("get watchface list", &wire.Command{Type: wire.TypeWatchface, Subtype: wire.FaceList})
}

// HandleCommand processes watchface frames
func (s *WatchfaceService) HandleCommand(cmd *wire.Command) {
	switch cmd.Subtype {
	case wire.FaceList:
		s.handleList(cmd)
	case wire.FaceSet:
		if status := cmd.StatusOr(wire.StatusSuccess); status != wire.StatusSuccess {
			logger.Warn(s.session.Name(), "device rejected watchface activation with status %d", status)
		}
	case wire.FaceDelete:
		// Refresh so the catalog reflects whatever the device actually did
		s.requestList()
	case wire.FaceInstall:
		s.handleInstallAck(cmd)
	default:
		logger.Warn(s.session.Name(), "unknown watchface subtype %d, ignoring", cmd.Subtype)
	}
}

// handleList rebuilds the catalog wholesale
func (s *WatchfaceService) handleList(cmd *wire.Command) {
	var list wire.WatchfaceList
	if err := wire.UnmarshalPayload(cmd.Payload, &list); err != nil {
		logger.Warn(s.session.Name(), "bad watchface list: %v", err)
		return
	}

	s.allIDs = make(map[string]bool, len(list.Faces))
	s.userDeletable = make(map[string]bool)
	s.activeID = ""
	for _, face := range list.Faces {
		s.allIDs[face.ID] = true
		if face.CanDelete {
			s.userDeletable[face.ID] = true
		}
		if face.Active {
			s.activeID = face.ID
		}
	}
	logger.Info(s.session.Name(), "watchface catalog: %d faces, active=%s", len(s.allIDs), s.activeID)
}

// ActiveWatchface returns the currently active id, which may reflect an
// optimistic local update not yet confirmed by the device
func (s *WatchfaceService) ActiveWatchface() string {
	return s.activeID
}

// KnownWatchfaces returns the catalog ids
func (s *WatchfaceService) KnownWatchfaces() []string {
	ids := make([]string, 0, len(s.allIDs))
	for id := range s.allIDs {
		ids = append(ids, id)
	}
	return ids
}

// SetWatchface activates a watchface. The local active id updates before the
// device acks and is not rolled back on failure.
func (s *WatchfaceService) SetWatchface(id string) {
	s.activeID = id
	cmd, err := wire.NewCommand(wire.TypeWatchface, wire.FaceSet, wire.WatchfaceRef{ID: id})
	if err != nil {
		logger.Error(s.session.Name(), "failed to build watchface activation: %v", err)
		return
	}
	s.session.SendCommand("set watchface", cmd)
}

// DeleteWatchface removes a watchface. All three preconditions are checked
// client-side; a violation logs a warning and sends nothing.
func (s *WatchfaceService) DeleteWatchface(id string) {
	if !s.userDeletable[id] {
		logger.Warn(s.session.Name(), "watchface %s is not user-deletable, refusing delete", id)
		return
	}
	if !s.allIDs[id] {
		logger.Warn(s.session.Name(), "watchface %s is not in the catalog, refusing delete", id)
		return
	}
	if id == s.activeID {
		logger.Warn(s.session.Name(), "watchface %s is active, refusing delete", id)
		return
	}

	cmd, err := wire.NewCommand(wire.TypeWatchface, wire.FaceDelete, wire.WatchfaceRef{ID: id})
	if err != nil {
		logger.Error(s.session.Name(), "failed to build watchface delete: %v", err)
		return
	}
	s.session.SendCommand("delete watchface", cmd)
}

// InstallWatchface uploads a new watchface; on success it is activated and
// the catalog refreshed
func (s *WatchfaceService) InstallWatchface(id string, data []byte) {
	if s.installing || s.pendingData != nil {
		logger.Warn(s.session.Name(), "watchface install refused, another install is running")
		return
	}

	s.pendingInstallID = id
	s.pendingData = data
	cmd, err := wire.NewCommand(wire.TypeWatchface, wire.FaceInstall, wire.WatchfaceRef{ID: id, Size: len(data)})
	if err != nil {
		logger.Error(s.session.Name(), "failed to build watchface install request: %v", err)
		s.clearPendingInstall()
		return
	}
	s.session.SendCommand("watchface install request", cmd)
}

func (s *WatchfaceService) handleInstallAck(cmd *wire.Command) {
	if s.pendingData == nil {
		logger.Warn(s.session.Name(), "unexpected watchface install ack, ignoring")
		return
	}

	if status := cmd.StatusOr(wire.StatusSuccess); status != wire.StatusSuccess {
		logger.Warn(s.session.Name(), "device refused watchface install with status %d", status)
		s.clearPendingInstall()
		s.session.Events().Toast("Watchface install refused by device")
		return
	}

	if err := s.upload.SetCallback(s); err != nil {
		logger.Warn(s.session.Name(), "cannot start watchface upload: %v", err)
		s.clearPendingInstall()
		s.session.Events().Toast("Watchface install failed to start")
		return
	}

	s.installing = true
	data := s.pendingData
	s.pendingData = nil
	s.upload.RequestUpload(transfer.TypeWatchface, data)
}

func (s *WatchfaceService) clearPendingInstall() {
	s.pendingInstallID = ""
	s.pendingData = nil
}

// OnUploadProgress implements UploadCallback
func (s *WatchfaceService) OnUploadProgress(percent int) {
	logger.Debug(s.session.Name(), "watchface upload %d%%", percent)
}

// OnUploadFinish implements UploadCallback; a successful install activates
// the new face and refreshes the catalog
func (s *WatchfaceService) OnUploadFinish(success bool) {
	s.installing = false
	installedID := s.pendingInstallID
	s.pendingInstallID = ""

	if !success {
		s.session.Events().Toast("Watchface install failed")
		return
	}

	s.session.Events().Toast("Watchface installed")
	if installedID != "" {
		s.SetWatchface(installedID)
	}
	s.requestList()
}

// OnSendConfiguration has no watchface preferences to react to
func (s *WatchfaceService) OnSendConfiguration(key string, prefs *Prefs) bool {
	return false
}

// Dispose drops any pending install
func (s *WatchfaceService) Dispose() {
	s.installing = false
	s.clearPendingInstall()
}
