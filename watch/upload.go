package watch

import (
	"fmt"
	"math"

	"github.com/user/xiaowear/logger"
	"github.com/user/xiaowear/transfer"
	"github.com/user/xiaowear/wire"
)

// UploadCallback receives progress and the single terminal outcome of one
// upload job. At most one callback is registered at a time.
type UploadCallback interface {
	OnUploadProgress(percent int)
	OnUploadFinish(success bool)
}

type uploadState int

const (
	uploadIdle uploadState = iota
	uploadRequested
	uploadUploading
)

// DataUploadService runs the chunked bulk-transfer protocol used by firmware
// and watchface installs. Exactly one job may be in flight; a second request
// is refused, not queued.
type DataUploadService struct {
	session  *Session
	callback UploadCallback

	state      uploadState
	jobID      int // bumped on every job end so stale write acks are dropped
	tag        byte
	data       []byte
	totalBytes int
	parts      [][]byte
}

// NewDataUploadService creates the upload service
func NewDataUploadService(session *Session) *DataUploadService {
	return &DataUploadService{session: session}
}

func (s *DataUploadService) Name() string        { return "data-upload" }
func (s *DataUploadService) CommandType() uint32 { return wire.TypeDataUpload }
func (s *DataUploadService) Initialize()         {}

// SetCallback registers the upload client. Registering while a job is active
// is rejected so a lingering callback can never fire into a disposed client.
func (s *DataUploadService) SetCallback(cb UploadCallback) error {
	if s.callback != nil && s.state != uploadIdle {
		return fmt.Errorf("upload callback already registered with a job in flight")
	}
	s.callback = cb
	return nil
}

// RequestUpload starts a new upload job. Refused while another job is active.
func (s *DataUploadService) RequestUpload(tag byte, data []byte) {
	if s.state != uploadIdle {
		logger.Warn(s.session.Name(), "upload of type %d refused, another job is active", tag)
		return
	}

	s.tag = tag
	s.data = data
	s.state = uploadRequested

	payload := wire.UploadRequestPayload{
		Type: tag,
		MD5:  transfer.Digest(data),
		Size: len(data),
	}
	cmd, err := wire.NewCommand(wire.TypeDataUpload, wire.UploadRequest, payload)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build upload request: %v", err)
		s.finish(false)
		return
	}
	s.session.SendCommand("upload request", cmd)
}

// HandleCommand processes upload protocol frames
func (s *DataUploadService) HandleCommand(cmd *wire.Command) {
	switch cmd.Subtype {
	case wire.UploadStart:
		s.handleUploadStart(cmd)
	default:
		logger.Warn(s.session.Name(), "unknown data-upload subtype %d, ignoring", cmd.Subtype)
	}
}

func (s *DataUploadService) handleUploadStart(cmd *wire.Command) {
	if s.state != uploadRequested {
		logger.Warn(s.session.Name(), "unexpected upload start in state %d, ignoring", s.state)
		return
	}

	if status := cmd.StatusOr(wire.StatusSuccess); status != wire.StatusSuccess {
		logger.Warn(s.session.Name(), "device refused upload with status %d", status)
		s.finish(false)
		return
	}

	var ack wire.UploadAck
	if err := wire.UnmarshalPayload(cmd.Payload, &ack); err != nil {
		logger.Warn(s.session.Name(), "bad upload ack: %v", err)
		s.finish(false)
		return
	}

	// Resume is not supported; a nonzero resume offset is a hard abort
	if ack.Unknown2 != 0 || ack.ResumePosition != 0 {
		logger.Warn(s.session.Name(), "device requested resume (unknown2=%d, position=%d), aborting upload",
			ack.Unknown2, ack.ResumePosition)
		s.finish(false)
		return
	}

	chunkSize := ack.ChunkSize
	if chunkSize <= 0 {
		chunkSize = transfer.DefaultChunkSize
	}

	frame := transfer.BuildFrame(s.tag, s.data)
	parts, err := transfer.SplitIntoParts(frame, chunkSize)
	if err != nil {
		logger.Warn(s.session.Name(), "cannot split upload frame: %v", err)
		s.finish(false)
		return
	}

	s.parts = parts
	s.totalBytes = 0
	for _, part := range parts {
		s.totalBytes += len(part)
	}
	s.state = uploadUploading

	logger.Info(s.session.Name(), "uploading type %d: %d bytes in %d parts of %d",
		s.tag, len(s.data), len(parts), chunkSize)

	jobID := s.jobID
	s.session.sender.WriteChunks(parts, func(remaining int, ok bool) {
		s.session.Post(func() {
			s.onWriteAck(jobID, remaining, ok)
		})
	})
}

// onWriteAck handles the transport's write-completion signal. Completion is
// solely transport-driven: the job ends when the remaining-part count reaches
// zero, never on a transient failure signal.
func (s *DataUploadService) onWriteAck(jobID, remaining int, ok bool) {
	if jobID != s.jobID || s.state != uploadUploading {
		// Ack from a finished or abandoned job
		return
	}

	if !ok {
		logger.Warn(s.session.Name(), "transport reported a failed part write, %d parts remaining", remaining)
	}

	if remaining > len(s.parts) {
		remaining = len(s.parts)
	}
	remainingBytes := 0
	for i := len(s.parts) - remaining; i < len(s.parts); i++ {
		remainingBytes += len(s.parts[i])
	}

	percent := int(math.Round(100 * float64(s.totalBytes-remainingBytes) / float64(s.totalBytes)))
	if s.callback != nil {
		s.callback.OnUploadProgress(percent)
	}

	if remaining == 0 {
		s.finish(true)
	}
}

// finish fires the terminal callback exactly once and clears the job. The job
// id bump deregisters any write ack still queued for the old job.
func (s *DataUploadService) finish(success bool) {
	cb := s.callback
	s.callback = nil
	s.state = uploadIdle
	s.data = nil
	s.parts = nil
	s.totalBytes = 0
	s.jobID++

	if cb != nil {
		cb.OnUploadFinish(success)
	}
}

// OnSendConfiguration has nothing to handle; uploads are request-driven
func (s *DataUploadService) OnSendConfiguration(key string, prefs *Prefs) bool {
	return false
}

// Dispose abandons any in-flight job, surfacing it as a failed upload
func (s *DataUploadService) Dispose() {
	if s.state != uploadIdle {
		logger.Warn(s.session.Name(), "disconnect with upload in flight, abandoning")
		s.finish(false)
	}
}
