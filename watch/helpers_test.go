package watch

import (
	"sync"
	"testing"

	"github.com/user/xiaowear/wire"
)

// fakeSender captures outbound traffic. The session worker may write
// concurrently with test assertions, so everything is mutex-guarded.
type fakeSender struct {
	mu     sync.Mutex
	labels []string
	sent   []*wire.Command
	parts  [][]byte
	ack    WriteAck
}

func (f *fakeSender) SendCommand(label string, cmd *wire.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = append(f.labels, label)
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeSender) WriteChunks(parts [][]byte, ack WriteAck) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts = parts
	f.ack = ack
}

func (f *fakeSender) commands() []*wire.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*wire.Command, len(f.sent))
	copy(out, f.sent)
	return out
}

// byType filters captured commands on the (type, subtype) pair
func (f *fakeSender) byType(cmdType, subtype uint32) []*wire.Command {
	var out []*wire.Command
	for _, cmd := range f.commands() {
		if cmd.Type == cmdType && cmd.Subtype == subtype {
			out = append(out, cmd)
		}
	}
	return out
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = nil
	f.sent = nil
	f.parts = nil
	f.ack = nil
}

// recordingEvents captures host callbacks
type recordingEvents struct {
	NopEvents

	mu         sync.Mutex
	toasts     []string
	battery    []int
	wearing    []bool
	sleeping   []bool
	samples    [][2]int // stepsDelta, heartRate
	tracking   []bool
	music      []string
	dismissals []uint32
}

func (e *recordingEvents) Toast(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toasts = append(e.toasts, message)
}

func (e *recordingEvents) BatteryChanged(level int, charging bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.battery = append(e.battery, level)
}

func (e *recordingEvents) WearingChanged(wearing bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wearing = append(e.wearing, wearing)
}

func (e *recordingEvents) SleepChanged(asleep bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sleeping = append(e.sleeping, asleep)
}

func (e *recordingEvents) RealtimeSample(stepsDelta, heartRate int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = append(e.samples, [2]int{stepsDelta, heartRate})
}

func (e *recordingEvents) WorkoutTrackControl(recording bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracking = append(e.tracking, recording)
}

func (e *recordingEvents) MusicCommand(action string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.music = append(e.music, action)
}

func (e *recordingEvents) NotificationDismissed(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dismissals = append(e.dismissals, id)
}

// newTestSession builds a session over a capturing sender and event sink.
// Tests drive service handlers directly and use Flush for posted work.
func newTestSession(t *testing.T) (*Session, *fakeSender, *recordingEvents) {
	t.Helper()
	sender := &fakeSender{}
	events := &recordingEvents{}
	session := NewSession("test", sender, events, NewPrefs())
	t.Cleanup(session.Close)
	return session, sender, events
}

// deviceReply builds an inbound frame the way the device would answer, with a
// JSON payload and an explicit status
func deviceReply(t *testing.T, cmdType, subtype, status uint32, payload interface{}) *wire.Command {
	t.Helper()
	cmd := &wire.Command{Type: cmdType, Subtype: subtype}
	if payload != nil {
		body, err := wire.MarshalPayload(payload)
		if err != nil {
			t.Fatalf("marshal reply payload: %v", err)
		}
		cmd.Payload = body
	}
	return cmd.WithStatus(status)
}
