package watch

import (
	"testing"

	"github.com/user/xiaowear/wire"
)

func TestMusic_PushGatedOnEquality(t *testing.T) {
	session, sender, _ := newTestSession(t)
	svc := NewMusicService(session)

	state := wire.MusicState{Playing: true, Track: "Song", Artist: "Band", Volume: 60, Duration: 240}
	svc.UpdateMusicState(state)
	svc.UpdateMusicState(state)
	if pushes := sender.byType(wire.TypeMusic, wire.MusicStateSet); len(pushes) != 1 {
		t.Fatalf("got %d pushes for identical state, want 1", len(pushes))
	}

	state.Position = 30
	svc.UpdateMusicState(state)
	if pushes := sender.byType(wire.TypeMusic, wire.MusicStateSet); len(pushes) != 2 {
		t.Errorf("changed state not pushed")
	}

	// Dispose forgets the last push so a reconnect sends fresh
	svc.Dispose()
	svc.UpdateMusicState(state)
	if pushes := sender.byType(wire.TypeMusic, wire.MusicStateSet); len(pushes) != 3 {
		t.Errorf("state not re-pushed after dispose")
	}
}

func TestMusic_ControlRelay(t *testing.T) {
	session, _, events := newTestSession(t)
	svc := NewMusicService(session)

	for _, action := range []string{wire.MusicActionPlay, wire.MusicActionNext, wire.MusicActionVolumeDown} {
		svc.HandleCommand(deviceReply(t, wire.TypeMusic, wire.MusicControl, wire.StatusSuccess,
			wire.MusicControlPayload{Action: action}))
	}
	svc.HandleCommand(deviceReply(t, wire.TypeMusic, wire.MusicControl, wire.StatusSuccess,
		wire.MusicControlPayload{Action: "teleport"}))

	events.mu.Lock()
	defer events.mu.Unlock()
	want := []string{wire.MusicActionPlay, wire.MusicActionNext, wire.MusicActionVolumeDown}
	if len(events.music) != len(want) {
		t.Fatalf("relayed actions = %v, want %v", events.music, want)
	}
	for i := range want {
		if events.music[i] != want[i] {
			t.Errorf("action %d = %q, want %q", i, events.music[i], want[i])
		}
	}
}
