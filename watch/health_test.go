package watch

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/user/xiaowear/wire"
)

func TestMaxHeartRateForAge(t *testing.T) {
	cases := []struct {
		age  int
		want int
	}{
		{0, 220},
		{25, 195},
		{39, 181},
		{40, 180},
		{41, 178}, // 207 - 0.7*41 = 178.3, rounded
		{60, 165},
		{120, 123},
		{200, 175}, // 207 - 140 = 67, outside [100,220]
	}
	for _, tc := range cases {
		if got := maxHeartRateForAge(tc.age); got != tc.want {
			t.Errorf("maxHeartRateForAge(%d) = %d, want %d", tc.age, got, tc.want)
		}
	}
}

func TestHealth_RealtimeContinuousDelta(t *testing.T) {
	session, _, events := newTestSession(t)
	svc := NewHealthService(session, nil, nil)

	svc.StartRealtimeStats(false)

	// First sample seeds the baseline without emitting
	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthRealtimeStatsEvent, wire.StatusSuccess,
		wire.RealtimeStats{Steps: 1000, HeartRate: 70}))
	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthRealtimeStatsEvent, wire.StatusSuccess,
		wire.RealtimeStats{Steps: 1050, HeartRate: 72}))
	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthRealtimeStatsEvent, wire.StatusSuccess,
		wire.RealtimeStats{Steps: 1050, HeartRate: 75}))

	events.mu.Lock()
	defer events.mu.Unlock()
	want := [][2]int{{50, 72}, {0, 75}}
	if len(events.samples) != len(want) {
		t.Fatalf("got %d samples %v, want %d", len(events.samples), events.samples, len(want))
	}
	for i, s := range want {
		if events.samples[i] != s {
			t.Errorf("sample %d = %v, want %v", i, events.samples[i], s)
		}
	}
}

func TestHealth_RealtimeOneShot(t *testing.T) {
	session, sender, events := newTestSession(t)
	svc := NewHealthService(session, nil, nil)

	svc.StartRealtimeStats(true)
	sender.reset()

	// An implausible reading keeps one-shot mode armed
	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthRealtimeStatsEvent, wire.StatusSuccess,
		wire.RealtimeStats{Steps: 100, HeartRate: 0}))
	if len(events.samples) != 0 {
		t.Fatalf("implausible sample emitted: %v", events.samples)
	}

	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthRealtimeStatsEvent, wire.StatusSuccess,
		wire.RealtimeStats{Steps: 120, HeartRate: 68}))

	events.mu.Lock()
	samples := append([][2]int(nil), events.samples...)
	events.mu.Unlock()
	if len(samples) != 1 || samples[0] != [2]int{0, 68} {
		t.Fatalf("samples = %v, want [[0 68]]", samples)
	}
	if stops := sender.byType(wire.TypeHealth, wire.HealthRealtimeStatsStop); len(stops) != 1 {
		t.Errorf("got %d stop commands, want 1 after the plausible sample", len(stops))
	}

	// The stream is disabled; further samples are ignored
	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthRealtimeStatsEvent, wire.StatusSuccess,
		wire.RealtimeStats{Steps: 140, HeartRate: 70}))
	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.samples) != 1 {
		t.Errorf("sample after one-shot stop was emitted: %v", events.samples)
	}
}

func activityRecord(ts uint32, tz int8, version, kind byte) []byte {
	rec := make([]byte, activityFileIDSize)
	binary.LittleEndian.PutUint32(rec[0:4], ts)
	rec[4] = byte(tz)
	rec[5] = version
	rec[6] = kind
	return rec
}

func TestParseActivityFileIDs(t *testing.T) {
	var records []byte
	records = append(records, activityRecord(1700000000, 4, 2, 1)...)
	records = append(records, activityRecord(0, 0, 0, 0)...) // invalid, dropped
	records = append(records, activityRecord(1700003600, -8, 1, 3)...)

	ids, ok := parseActivityFileIDs(records)
	if !ok {
		t.Fatal("well-formed stream rejected")
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}
	if ids[0].Timestamp != 1700000000 || ids[0].Timezone != 4 || ids[0].Version != 2 || ids[0].Kind != 1 {
		t.Errorf("first id = %+v", ids[0])
	}
	if ids[1].Timezone != -8 {
		t.Errorf("second id timezone = %d, want -8", ids[1].Timezone)
	}

	if _, ok := parseActivityFileIDs(records[:10]); ok {
		t.Error("stream with a partial record accepted")
	}
}

type fakeFetcher struct {
	mu      sync.Mutex
	batches [][]ActivityFileID
}

func (f *fakeFetcher) Fetch(ids []ActivityFileID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, ids)
}

func TestHealth_ActivityTodayChainsIntoPast(t *testing.T) {
	session, sender, _ := newTestSession(t)
	fetcher := &fakeFetcher{}
	svc := NewHealthService(session, nil, fetcher)

	svc.FetchActivityData()
	if reqs := sender.byType(wire.TypeHealth, wire.HealthActivityFetchToday); len(reqs) != 1 {
		t.Fatalf("got %d today requests, want 1", len(reqs))
	}

	records := activityRecord(1700000000, 0, 1, 1)
	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthActivityFetchToday, wire.StatusSuccess,
		wire.ActivityFiles{Records: records}))

	if reqs := sender.byType(wire.TypeHealth, wire.HealthActivityFetchPast); len(reqs) != 1 {
		t.Fatalf("today response did not chain into a past request")
	}
	if len(fetcher.batches) != 1 || len(fetcher.batches[0]) != 1 {
		t.Fatalf("fetcher batches = %v, want one batch of one id", fetcher.batches)
	}

	// The past response terminates the chain
	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthActivityFetchPast, wire.StatusSuccess,
		wire.ActivityFiles{Records: nil}))
	if reqs := sender.byType(wire.TypeHealth, wire.HealthActivityFetchPast); len(reqs) != 1 {
		t.Errorf("past response chained again: %d past requests", len(reqs))
	}
}

type fakeGPS struct {
	mu      sync.Mutex
	started int
	stopped int
	onFix   func(wire.WorkoutLocation)
}

func (g *fakeGPS) Start(onFix func(wire.WorkoutLocation)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started++
	g.onFix = onFix
}

func (g *fakeGPS) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped++
}

func (g *fakeGPS) fix(loc wire.WorkoutLocation) {
	g.mu.Lock()
	onFix := g.onFix
	g.mu.Unlock()
	if onFix != nil {
		onFix(loc)
	}
}

func TestHealth_WorkoutGPSRelay(t *testing.T) {
	session, sender, _ := newTestSession(t)
	gps := &fakeGPS{}
	svc := NewHealthService(session, gps, nil)
	session.Prefs().PutBool(PrefWorkoutSendGPS, true)

	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthWorkoutOpen, wire.StatusSuccess,
		wire.WorkoutOpen{Sport: 1}))
	if gps.started != 1 {
		t.Fatalf("gps started %d times, want 1", gps.started)
	}

	// Repeated opens while the provider runs must not restart it
	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthWorkoutOpen, wire.StatusSuccess,
		wire.WorkoutOpen{Sport: 1}))
	if gps.started != 1 {
		t.Fatalf("gps restarted on repeated open: %d starts", gps.started)
	}

	// The first fix answers the open with fix-acquired and is not forwarded
	gps.fix(wire.WorkoutLocation{Latitude: 52.5, Longitude: 13.4})
	session.Flush()

	replies := sender.byType(wire.TypeHealth, wire.HealthWorkoutOpen)
	if len(replies) != 1 {
		t.Fatalf("got %d open replies, want 1", len(replies))
	}
	var reply wire.WorkoutOpenReply
	if err := wire.UnmarshalPayload(replies[0].Payload, &reply); err != nil {
		t.Fatalf("bad open reply: %v", err)
	}
	if !reply.GPSAvailable || !reply.FixAcquired {
		t.Errorf("open reply = %+v, want fix acquired", reply)
	}
	if locs := sender.byType(wire.TypeHealth, wire.HealthWorkoutLocation); len(locs) != 0 {
		t.Errorf("fix forwarded before workout start: %d locations", len(locs))
	}

	// Once the workout starts, fixes flow to the device
	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthWorkoutStatus, wire.StatusSuccess,
		wire.WorkoutStatus{Status: wire.WorkoutStarted}))
	gps.fix(wire.WorkoutLocation{Latitude: 52.6, Longitude: 13.5})
	session.Flush()
	if locs := sender.byType(wire.TypeHealth, wire.HealthWorkoutLocation); len(locs) != 1 {
		t.Fatalf("got %d forwarded locations, want 1", len(locs))
	}

	// Finishing releases the provider
	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthWorkoutStatus, wire.StatusSuccess,
		wire.WorkoutStatus{Status: wire.WorkoutFinished}))
	if gps.stopped != 1 {
		t.Errorf("gps stopped %d times, want 1", gps.stopped)
	}
}

func TestHealth_WorkoutOpenWithGPSDisabled(t *testing.T) {
	session, sender, _ := newTestSession(t)
	gps := &fakeGPS{}
	svc := NewHealthService(session, gps, nil)

	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthWorkoutOpen, wire.StatusSuccess,
		wire.WorkoutOpen{Sport: 2}))

	if gps.started != 0 {
		t.Errorf("gps started with relay disabled")
	}
	replies := sender.byType(wire.TypeHealth, wire.HealthWorkoutOpen)
	if len(replies) != 1 {
		t.Fatalf("got %d open replies, want 1", len(replies))
	}
	var reply wire.WorkoutOpenReply
	if err := wire.UnmarshalPayload(replies[0].Payload, &reply); err != nil {
		t.Fatalf("bad open reply: %v", err)
	}
	if reply.GPSAvailable || reply.FixAcquired {
		t.Errorf("open reply = %+v, want the placeholder", reply)
	}
}

func TestHealth_UnsupportedVitalsSetFeatureFlag(t *testing.T) {
	session, _, _ := newTestSession(t)
	svc := NewHealthService(session, nil, nil)

	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthSpo2Get, wire.StatusUnsupported, nil))
	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthStressGet, wire.StatusUnsupported, nil))

	prefs := session.Prefs()
	if prefs.GetBool(PrefFeatureSpo2, true) {
		t.Error("spo2 feature flag not cleared on unsupported probe")
	}
	if prefs.GetBool(PrefFeatureStress, true) {
		t.Error("stress feature flag not cleared on unsupported probe")
	}
}

func TestHealth_ConfigRoundTrip(t *testing.T) {
	session, sender, _ := newTestSession(t)
	svc := NewHealthService(session, nil, nil)

	svc.HandleCommand(deviceReply(t, wire.TypeHealth, wire.HealthGoalsGet, wire.StatusSuccess,
		wire.GoalsConfig{Steps: 12000, Calories: 450, StandingHours: 10, MoveMinutes: 45}))

	// Mirroring device state must not trigger an outbound set
	if sets := sender.byType(wire.TypeHealth, wire.HealthGoalsSet); len(sets) != 0 {
		t.Fatalf("device report triggered %d outbound sets", len(sets))
	}

	svc.sendGoals()
	sets := sender.byType(wire.TypeHealth, wire.HealthGoalsSet)
	if len(sets) != 1 {
		t.Fatalf("got %d goal sets, want 1", len(sets))
	}
	var cfg wire.GoalsConfig
	if err := wire.UnmarshalPayload(sets[0].Payload, &cfg); err != nil {
		t.Fatalf("bad goals payload: %v", err)
	}
	want := wire.GoalsConfig{Steps: 12000, Calories: 450, StandingHours: 10, MoveMinutes: 45}
	if cfg != want {
		t.Errorf("round-tripped goals = %+v, want %+v", cfg, want)
	}
}
