package watch

import (
	"sync"
	"testing"

	"github.com/user/xiaowear/transfer"
	"github.com/user/xiaowear/wire"
)

type uploadRecorder struct {
	mu       sync.Mutex
	progress []int
	finishes []bool
}

func (r *uploadRecorder) OnUploadProgress(percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, percent)
}

func (r *uploadRecorder) OnUploadFinish(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishes = append(r.finishes, success)
}

func TestDataUpload_FullTransfer(t *testing.T) {
	session, sender, _ := newTestSession(t)
	svc := NewDataUploadService(session)

	rec := &uploadRecorder{}
	if err := svc.SetCallback(rec); err != nil {
		t.Fatalf("SetCallback failed: %v", err)
	}

	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i)
	}
	svc.RequestUpload(transfer.TypeFirmware, data)

	reqs := sender.byType(wire.TypeDataUpload, wire.UploadRequest)
	if len(reqs) != 1 {
		t.Fatalf("got %d upload requests, want 1", len(reqs))
	}
	var req wire.UploadRequestPayload
	if err := wire.UnmarshalPayload(reqs[0].Payload, &req); err != nil {
		t.Fatalf("bad upload request payload: %v", err)
	}
	if req.Size != len(data) {
		t.Errorf("announced size = %d, want %d", req.Size, len(data))
	}

	svc.HandleCommand(deviceReply(t, wire.TypeDataUpload, wire.UploadStart, wire.StatusSuccess,
		wire.UploadAck{ChunkSize: 1024}))

	sender.mu.Lock()
	parts, ack := sender.parts, sender.ack
	sender.mu.Unlock()
	if len(parts) == 0 || ack == nil {
		t.Fatal("no chunk stream started")
	}

	for remaining := len(parts) - 1; remaining >= 0; remaining-- {
		ack(remaining, true)
	}
	session.Flush()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.progress) != len(parts) {
		t.Fatalf("got %d progress reports, want %d", len(rec.progress), len(parts))
	}
	for i := 1; i < len(rec.progress); i++ {
		if rec.progress[i] < rec.progress[i-1] {
			t.Errorf("progress went backwards: %v", rec.progress)
			break
		}
	}
	if last := rec.progress[len(rec.progress)-1]; last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
	if len(rec.finishes) != 1 || !rec.finishes[0] {
		t.Errorf("finishes = %v, want exactly one success", rec.finishes)
	}
}

func TestDataUpload_SecondJobRefused(t *testing.T) {
	session, sender, _ := newTestSession(t)
	svc := NewDataUploadService(session)

	if err := svc.SetCallback(&uploadRecorder{}); err != nil {
		t.Fatalf("SetCallback failed: %v", err)
	}
	svc.RequestUpload(transfer.TypeWatchface, []byte("first"))
	svc.RequestUpload(transfer.TypeWatchface, []byte("second"))

	if reqs := sender.byType(wire.TypeDataUpload, wire.UploadRequest); len(reqs) != 1 {
		t.Errorf("got %d upload requests, want 1", len(reqs))
	}
	if err := svc.SetCallback(&uploadRecorder{}); err == nil {
		t.Error("expected SetCallback to be rejected while a job is in flight")
	}
}

func TestDataUpload_ResumeAborts(t *testing.T) {
	session, _, _ := newTestSession(t)
	svc := NewDataUploadService(session)

	rec := &uploadRecorder{}
	if err := svc.SetCallback(rec); err != nil {
		t.Fatalf("SetCallback failed: %v", err)
	}
	svc.RequestUpload(transfer.TypeFirmware, []byte("firmware bytes"))

	svc.HandleCommand(deviceReply(t, wire.TypeDataUpload, wire.UploadStart, wire.StatusSuccess,
		wire.UploadAck{ChunkSize: 1024, ResumePosition: 512}))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.finishes) != 1 || rec.finishes[0] {
		t.Errorf("finishes = %v, want exactly one failure", rec.finishes)
	}
}

func TestDataUpload_DeviceRefusal(t *testing.T) {
	session, _, _ := newTestSession(t)
	svc := NewDataUploadService(session)

	rec := &uploadRecorder{}
	if err := svc.SetCallback(rec); err != nil {
		t.Fatalf("SetCallback failed: %v", err)
	}
	svc.RequestUpload(transfer.TypeWatchface, []byte("face"))
	svc.HandleCommand(deviceReply(t, wire.TypeDataUpload, wire.UploadStart, wire.StatusUnsupported, nil))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.finishes) != 1 || rec.finishes[0] {
		t.Errorf("finishes = %v, want exactly one failure", rec.finishes)
	}

	// The service must be idle again: a new job starts cleanly
	if err := svc.SetCallback(rec); err != nil {
		t.Errorf("service not idle after refusal: %v", err)
	}
}

func TestDataUpload_DisposeAbandonsJob(t *testing.T) {
	session, _, _ := newTestSession(t)
	svc := NewDataUploadService(session)

	rec := &uploadRecorder{}
	if err := svc.SetCallback(rec); err != nil {
		t.Fatalf("SetCallback failed: %v", err)
	}
	svc.RequestUpload(transfer.TypeFirmware, []byte("half uploaded"))
	svc.Dispose()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.finishes) != 1 || rec.finishes[0] {
		t.Errorf("finishes = %v, want exactly one failure", rec.finishes)
	}
}

func TestDataUpload_StaleAckDropped(t *testing.T) {
	session, sender, _ := newTestSession(t)
	svc := NewDataUploadService(session)

	rec := &uploadRecorder{}
	if err := svc.SetCallback(rec); err != nil {
		t.Fatalf("SetCallback failed: %v", err)
	}
	svc.RequestUpload(transfer.TypeFirmware, []byte("job one"))
	svc.HandleCommand(deviceReply(t, wire.TypeDataUpload, wire.UploadStart, wire.StatusSuccess,
		wire.UploadAck{ChunkSize: 1024}))

	sender.mu.Lock()
	ack := sender.ack
	sender.mu.Unlock()

	// The job is abandoned before the transport reports anything
	svc.Dispose()
	ack(0, true)
	session.Flush()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.finishes) != 1 || rec.finishes[0] {
		t.Errorf("finishes = %v, want only the abandonment failure", rec.finishes)
	}
	if len(rec.progress) != 0 {
		t.Errorf("stale ack produced progress reports: %v", rec.progress)
	}
}
