package watch

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/user/xiaowear/logger"
	"github.com/user/xiaowear/wire"
)

// gpsOpenTimeout is how long an unanswered workout-open keeps the GPS
// provider alive; every open event re-arms it
const gpsOpenTimeout = 5 * time.Second

// plausibleHeartRate is the threshold above which a realtime sample counts as
// a real measurement and auto-disables one-shot mode
const plausibleHeartRate = 10

// activityFileIDSize is the fixed record size of the activity file-id stream
const activityFileIDSize = 7

// LocationProvider is the host's GPS source. Start is idempotent from the
// service's point of view; fixes arrive on the provider's goroutine and are
// posted back onto the session worker.
type LocationProvider interface {
	Start(onFix func(wire.WorkoutLocation))
	Stop()
}

// ActivityFileID identifies one historical activity file on the device
type ActivityFileID struct {
	Timestamp uint32
	Timezone  int8
	Version   byte
	Kind      byte
}

// ActivityFetcher is the external collaborator that downloads activity files
// once their ids are known
type ActivityFetcher interface {
	Fetch(ids []ActivityFileID)
}

// HealthService syncs the user profile and vitals configuration, relays
// phone GPS into device workouts, orchestrates activity-file fetches, and
// streams realtime stats.
type HealthService struct {
	session *Session
	gps     LocationProvider
	fetcher ActivityFetcher

	workoutStarted bool
	gpsActive      bool
	sentFixReply   bool
	gpsTimer       *time.Timer

	oneShot    bool
	continuous bool
	prevSteps  int
}

// NewHealthService creates the health service. gps and fetcher may be nil
// when the host offers no GPS relay or activity storage.
func NewHealthService(session *Session, gps LocationProvider, fetcher ActivityFetcher) *HealthService {
	return &HealthService{
		session:   session,
		gps:       gps,
		fetcher:   fetcher,
		prevSteps: -1,
	}
}

func (s *HealthService) Name() string        { return "health" }
func (s *HealthService) CommandType() uint32 { return wire.TypeHealth }

// Initialize pushes the user profile and probes every vitals configuration
func (s *HealthService) Initialize() {
	s.sendUserInfo()
	for _, subtype := range []uint32{
		wire.HealthSpo2Get,
		wire.HealthHeartRateGet,
		wire.HealthStandingReminderGet,
		wire.HealthStressGet,
		wire.HealthGoalsGet,
		wire.HealthGoalNotificationGet,
		wire.HealthVitalityScoreGet,
	} {
		s.session.SendCommand("get health config", &wire.Command{Type: wire.TypeHealth, Subtype: subtype})
	}
}

// HandleCommand processes health frames
func (s *HealthService) HandleCommand(cmd *wire.Command) {
	switch cmd.Subtype {
	case wire.HealthUserInfoSet:
		// Ack for the profile push
	case wire.HealthSpo2Get:
		s.handleSpo2(cmd)
	case wire.HealthHeartRateGet:
		s.handleHeartRate(cmd)
	case wire.HealthStandingReminderGet:
		s.handleStandingReminder(cmd)
	case wire.HealthStressGet:
		s.handleStress(cmd)
	case wire.HealthGoalsGet:
		s.handleGoals(cmd)
	case wire.HealthGoalNotificationGet:
		s.handleGoalNotification(cmd)
	case wire.HealthVitalityScoreGet:
		s.handleVitalityScore(cmd)
	case wire.HealthActivityFetchToday, wire.HealthActivityFetchPast:
		s.handleActivityFiles(cmd)
	case wire.HealthWorkoutOpen:
		s.handleWorkoutOpen(cmd)
	case wire.HealthWorkoutStatus:
		s.handleWorkoutStatus(cmd)
	case wire.HealthRealtimeStatsEvent:
		s.handleRealtimeStats(cmd)
	default:
		logger.Warn(s.session.Name(), "unknown health subtype %d, ignoring", cmd.Subtype)
	}
}

// --- user profile ---

// maxHeartRateForAge derives the profile's max heart rate: 220-age up to 40,
// 207-0.7*age beyond, falling back to 175 when the result leaves [100,220]
func maxHeartRateForAge(age int) int {
	var mhr float64
	if age <= 40 {
		mhr = 220 - float64(age)
	} else {
		mhr = 207 - 0.7*float64(age)
	}
	v := int(math.Round(mhr))
	if v < 100 || v > 220 {
		return 175
	}
	return v
}

func (s *HealthService) sendUserInfo() {
	prefs := s.session.Prefs()
	age := prefs.GetInt(PrefUserAge, 30)
	payload := wire.UserInfo{
		Age:          age,
		HeightCm:     prefs.GetInt(PrefUserHeight, 175),
		WeightKg:     prefs.GetInt(PrefUserWeight, 70),
		Gender:       prefs.GetString(PrefUserGender, "unspecified"),
		MaxHeartRate: maxHeartRateForAge(age),
		UserID:       prefs.GetString(PrefUserID, ""),
	}
	cmd, err := wire.NewCommand(wire.TypeHealth, wire.HealthUserInfoSet, payload)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build user info: %v", err)
		return
	}
	s.session.SendCommand("set user info", cmd)
}

// --- vitals configuration get/set pairs ---
// Each handleX maps remote fields into local preferences plus a
// feature-availability flag; each sendX reads the same preferences back into
// the identical remote encoding, so a round trip is bit-compatible.

func (s *HealthService) handleSpo2(cmd *wire.Command) {
	prefs := s.session.Prefs()
	if cmd.StatusOr(wire.StatusSuccess) == wire.StatusUnsupported {
		prefs.PutBool(PrefFeatureSpo2, false)
		return
	}
	var cfg wire.Spo2Config
	if err := wire.UnmarshalPayload(cmd.Payload, &cfg); err != nil {
		logger.Warn(s.session.Name(), "bad spo2 config: %v", err)
		return
	}
	prefs.PutBool(PrefFeatureSpo2, true)
	prefs.PutBool(PrefSpo2Enabled, cfg.Enabled)
	prefs.PutBool(PrefSpo2AlarmEnabled, cfg.LowAlarmEnabled)
	prefs.PutInt(PrefSpo2AlarmThreshold, cfg.LowAlarmThreshold)
}

func (s *HealthService) sendSpo2() {
	prefs := s.session.Prefs()
	cfg := wire.Spo2Config{
		Enabled:           prefs.GetBool(PrefSpo2Enabled, false),
		LowAlarmEnabled:   prefs.GetBool(PrefSpo2AlarmEnabled, false),
		LowAlarmThreshold: prefs.GetInt(PrefSpo2AlarmThreshold, 90),
	}
	s.sendConfig("set spo2 config", wire.HealthSpo2Set, cfg)
}

func (s *HealthService) handleHeartRate(cmd *wire.Command) {
	var cfg wire.HeartRateConfig
	if err := wire.UnmarshalPayload(cmd.Payload, &cfg); err != nil {
		logger.Warn(s.session.Name(), "bad heart rate config: %v", err)
		return
	}
	prefs := s.session.Prefs()
	prefs.PutInt(PrefHeartRateInterval, cfg.IntervalMinutes)
	prefs.PutBool(PrefHeartRateAlarmEnabled, cfg.HighAlarmEnabled)
	prefs.PutInt(PrefHeartRateAlarmLimit, cfg.HighAlarmThreshold)
	prefs.PutBool(PrefSleepBreathing, cfg.SleepBreathing)
}

func (s *HealthService) sendHeartRate() {
	prefs := s.session.Prefs()
	cfg := wire.HeartRateConfig{
		IntervalMinutes:    prefs.GetInt(PrefHeartRateInterval, 0),
		HighAlarmEnabled:   prefs.GetBool(PrefHeartRateAlarmEnabled, false),
		HighAlarmThreshold: prefs.GetInt(PrefHeartRateAlarmLimit, 150),
		SleepBreathing:     prefs.GetBool(PrefSleepBreathing, false),
	}
	s.sendConfig("set heart rate config", wire.HealthHeartRateSet, cfg)
}

func (s *HealthService) handleStandingReminder(cmd *wire.Command) {
	var cfg wire.StandingReminderConfig
	if err := wire.UnmarshalPayload(cmd.Payload, &cfg); err != nil {
		logger.Warn(s.session.Name(), "bad standing reminder config: %v", err)
		return
	}
	prefs := s.session.Prefs()
	prefs.PutBool(PrefStandingEnabled, cfg.Enabled)
	prefs.PutString(PrefStandingStart, cfg.Start)
	prefs.PutString(PrefStandingEnd, cfg.End)
	prefs.PutBool(PrefStandingDND, cfg.DND)
	prefs.PutString(PrefStandingDNDStart, cfg.DNDStart)
	prefs.PutString(PrefStandingDNDEnd, cfg.DNDEnd)
}

func (s *HealthService) sendStandingReminder() {
	prefs := s.session.Prefs()
	cfg := wire.StandingReminderConfig{
		Enabled:  prefs.GetBool(PrefStandingEnabled, false),
		Start:    prefs.GetString(PrefStandingStart, "08:00"),
		End:      prefs.GetString(PrefStandingEnd, "20:00"),
		DND:      prefs.GetBool(PrefStandingDND, false),
		DNDStart: prefs.GetString(PrefStandingDNDStart, "12:00"),
		DNDEnd:   prefs.GetString(PrefStandingDNDEnd, "14:00"),
	}
	s.sendConfig("set standing reminder", wire.HealthStandingReminderSet, cfg)
}

func (s *HealthService) handleStress(cmd *wire.Command) {
	prefs := s.session.Prefs()
	if cmd.StatusOr(wire.StatusSuccess) == wire.StatusUnsupported {
		prefs.PutBool(PrefFeatureStress, false)
		return
	}
	var cfg wire.StressConfig
	if err := wire.UnmarshalPayload(cmd.Payload, &cfg); err != nil {
		logger.Warn(s.session.Name(), "bad stress config: %v", err)
		return
	}
	prefs.PutBool(PrefFeatureStress, true)
	prefs.PutBool(PrefStressEnabled, cfg.Enabled)
	prefs.PutBool(PrefRelaxReminder, cfg.RelaxReminder)
}

func (s *HealthService) sendStress() {
	prefs := s.session.Prefs()
	cfg := wire.StressConfig{
		Enabled:       prefs.GetBool(PrefStressEnabled, false),
		RelaxReminder: prefs.GetBool(PrefRelaxReminder, false),
	}
	s.sendConfig("set stress config", wire.HealthStressSet, cfg)
}

func (s *HealthService) handleGoals(cmd *wire.Command) {
	var cfg wire.GoalsConfig
	if err := wire.UnmarshalPayload(cmd.Payload, &cfg); err != nil {
		logger.Warn(s.session.Name(), "bad goals config: %v", err)
		return
	}
	prefs := s.session.Prefs()
	prefs.PutInt(PrefGoalSteps, cfg.Steps)
	prefs.PutInt(PrefGoalCalories, cfg.Calories)
	prefs.PutInt(PrefGoalStandingHours, cfg.StandingHours)
	prefs.PutInt(PrefGoalMoveMinutes, cfg.MoveMinutes)
}

func (s *HealthService) sendGoals() {
	prefs := s.session.Prefs()
	cfg := wire.GoalsConfig{
		Steps:         prefs.GetInt(PrefGoalSteps, 8000),
		Calories:      prefs.GetInt(PrefGoalCalories, 300),
		StandingHours: prefs.GetInt(PrefGoalStandingHours, 12),
		MoveMinutes:   prefs.GetInt(PrefGoalMoveMinutes, 30),
	}
	s.sendConfig("set goals", wire.HealthGoalsSet, cfg)
}

func (s *HealthService) handleGoalNotification(cmd *wire.Command) {
	var cfg wire.GoalNotificationConfig
	if err := wire.UnmarshalPayload(cmd.Payload, &cfg); err != nil {
		logger.Warn(s.session.Name(), "bad goal notification config: %v", err)
		return
	}
	s.session.Prefs().PutBool(PrefGoalNotification, cfg.Enabled)
}

func (s *HealthService) sendGoalNotification() {
	cfg := wire.GoalNotificationConfig{
		Enabled: s.session.Prefs().GetBool(PrefGoalNotification, false),
	}
	s.sendConfig("set goal notification", wire.HealthGoalNotificationSet, cfg)
}

func (s *HealthService) handleVitalityScore(cmd *wire.Command) {
	prefs := s.session.Prefs()
	if cmd.StatusOr(wire.StatusSuccess) == wire.StatusUnsupported {
		prefs.PutBool(PrefFeatureVitalityScore, false)
		return
	}
	var cfg wire.VitalityScoreConfig
	if err := wire.UnmarshalPayload(cmd.Payload, &cfg); err != nil {
		logger.Warn(s.session.Name(), "bad vitality score config: %v", err)
		return
	}
	prefs.PutBool(PrefFeatureVitalityScore, true)
	prefs.PutBool(PrefVitalitySevenDay, cfg.SevenDay)
	prefs.PutBool(PrefVitalityDaily, cfg.DailyProgress)
}

func (s *HealthService) sendVitalityScore() {
	prefs := s.session.Prefs()
	cfg := wire.VitalityScoreConfig{
		SevenDay:      prefs.GetBool(PrefVitalitySevenDay, false),
		DailyProgress: prefs.GetBool(PrefVitalityDaily, false),
	}
	s.sendConfig("set vitality score", wire.HealthVitalityScoreSet, cfg)
}

func (s *HealthService) sendConfig(label string, subtype uint32, payload interface{}) {
	cmd, err := wire.NewCommand(wire.TypeHealth, subtype, payload)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build %s: %v", label, err)
		return
	}
	s.session.SendCommand(label, cmd)
}

// --- activity file fetch ---

// FetchActivityData asks the device for today's activity file ids; the
// response chains into a past-window request.
func (s *HealthService) FetchActivityData() {
	s.session.SendCommand("fetch activity (today)", &wire.Command{Type: wire.TypeHealth, Subtype: wire.HealthActivityFetchToday})
}

// parseActivityFileIDs parses the flat 7-byte-record stream. Records with a
// zero timestamp and zero version are invalid and dropped.
func parseActivityFileIDs(records []byte) ([]ActivityFileID, bool) {
	if len(records)%activityFileIDSize != 0 {
		return nil, false
	}
	var ids []ActivityFileID
	for off := 0; off < len(records); off += activityFileIDSize {
		rec := records[off : off+activityFileIDSize]
		id := ActivityFileID{
			Timestamp: binary.LittleEndian.Uint32(rec[0:4]),
			Timezone:  int8(rec[4]),
			Version:   rec[5],
			Kind:      rec[6],
		}
		if id.Timestamp == 0 && id.Version == 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids, true
}

func (s *HealthService) handleActivityFiles(cmd *wire.Command) {
	var files wire.ActivityFiles
	if err := wire.UnmarshalPayload(cmd.Payload, &files); err != nil {
		logger.Warn(s.session.Name(), "bad activity file list: %v", err)
		return
	}

	ids, ok := parseActivityFileIDs(files.Records)
	if !ok {
		logger.Warn(s.session.Name(), "malformed activity file-id stream (%d bytes), aborting", len(files.Records))
		return
	}

	logger.Debug(s.session.Name(), "device reported %d activity files", len(ids))
	if len(ids) > 0 && s.fetcher != nil {
		s.fetcher.Fetch(ids)
	}

	// The today response chains into the past window; this is a different
	// data window, not a retry
	if cmd.Subtype == wire.HealthActivityFetchToday {
		s.session.SendCommand("fetch activity (past)", &wire.Command{Type: wire.TypeHealth, Subtype: wire.HealthActivityFetchPast})
	}
}

// --- workout / GPS relay ---

func (s *HealthService) handleWorkoutOpen(cmd *wire.Command) {
	if !s.session.Prefs().GetBool(PrefWorkoutSendGPS, false) || s.gps == nil {
		// GPS relay disabled: answer immediately with the placeholder reply
		s.sendConfig("workout open reply", wire.HealthWorkoutOpen, wire.WorkoutOpenReply{GPSAvailable: false, FixAcquired: false})
		return
	}

	s.startGPS()
	s.armGPSTimeout()
}

func (s *HealthService) startGPS() {
	if s.gpsActive {
		return
	}
	s.gpsActive = true
	s.sentFixReply = false
	s.gps.Start(func(loc wire.WorkoutLocation) {
		s.session.Post(func() {
			s.onLocation(loc)
		})
	})
}

func (s *HealthService) stopGPS() {
	if !s.gpsActive {
		return
	}
	s.gpsActive = false
	s.sentFixReply = false
	s.gps.Stop()
}

// armGPSTimeout re-arms the open timeout; if no workout starts before it
// fires, the GPS provider is released
func (s *HealthService) armGPSTimeout() {
	if s.gpsTimer != nil {
		s.gpsTimer.Stop()
	}
	s.gpsTimer = s.session.AfterFunc(gpsOpenTimeout, func() {
		if !s.workoutStarted {
			logger.Debug(s.session.Name(), "workout never started, releasing GPS")
			s.stopGPS()
		}
	})
}

func (s *HealthService) onLocation(loc wire.WorkoutLocation) {
	if !s.gpsActive {
		return
	}
	if !s.sentFixReply {
		s.sentFixReply = true
		s.sendConfig("workout open reply", wire.HealthWorkoutOpen, wire.WorkoutOpenReply{GPSAvailable: true, FixAcquired: true})
		return
	}
	if s.workoutStarted {
		s.sendConfig("workout location", wire.HealthWorkoutLocation, loc)
	}
}

func (s *HealthService) handleWorkoutStatus(cmd *wire.Command) {
	var status wire.WorkoutStatus
	if err := wire.UnmarshalPayload(cmd.Payload, &status); err != nil {
		logger.Warn(s.session.Name(), "bad workout status: %v", err)
		return
	}

	switch status.Status {
	case wire.WorkoutStarted:
		s.workoutStarted = true
		if s.gpsTimer != nil {
			s.gpsTimer.Stop()
			s.gpsTimer = nil
		}
		if s.session.Prefs().GetBool(PrefWorkoutTrackRecording, false) {
			s.session.Events().WorkoutTrackControl(true)
		}
	case wire.WorkoutFinished:
		s.workoutStarted = false
		s.stopGPS()
		if s.session.Prefs().GetBool(PrefWorkoutTrackRecording, false) {
			s.session.Events().WorkoutTrackControl(false)
		}
	case wire.WorkoutPaused, wire.WorkoutResumed:
		// The relay keeps running across pauses
	default:
		logger.Warn(s.session.Name(), "unknown workout status %d, ignoring", status.Status)
	}
}

// --- realtime stats ---

// StartRealtimeStats enables realtime samples. In one-shot mode the stream
// disables itself after the first plausible heart-rate sample; otherwise it
// runs until StopRealtimeStats.
func (s *HealthService) StartRealtimeStats(oneShot bool) {
	s.oneShot = oneShot
	s.continuous = !oneShot
	s.prevSteps = -1
	s.session.SendCommand("start realtime stats", &wire.Command{Type: wire.TypeHealth, Subtype: wire.HealthRealtimeStatsStart})
}

// StopRealtimeStats disables realtime samples
func (s *HealthService) StopRealtimeStats() {
	s.oneShot = false
	s.continuous = false
	s.prevSteps = -1
	s.session.SendCommand("stop realtime stats", &wire.Command{Type: wire.TypeHealth, Subtype: wire.HealthRealtimeStatsStop})
}

func (s *HealthService) handleRealtimeStats(cmd *wire.Command) {
	var stats wire.RealtimeStats
	if err := wire.UnmarshalPayload(cmd.Payload, &stats); err != nil {
		logger.Warn(s.session.Name(), "bad realtime stats: %v", err)
		return
	}

	if s.oneShot && stats.HeartRate > plausibleHeartRate {
		s.oneShot = false
		s.session.Events().RealtimeSample(0, stats.HeartRate)
		s.session.SendCommand("stop realtime stats", &wire.Command{Type: wire.TypeHealth, Subtype: wire.HealthRealtimeStatsStop})
		return
	}

	if s.continuous {
		if s.prevSteps < 0 {
			// First sample seeds the baseline without emitting a delta
			s.prevSteps = stats.Steps
			return
		}
		delta := stats.Steps - s.prevSteps
		s.prevSteps = stats.Steps
		s.session.Events().RealtimeSample(delta, stats.HeartRate)
	}
}

// OnSendConfiguration reacts to profile and vitals preference changes
func (s *HealthService) OnSendConfiguration(key string, prefs *Prefs) bool {
	switch key {
	case PrefUserAge, PrefUserHeight, PrefUserWeight, PrefUserGender, PrefUserID:
		s.sendUserInfo()
	case PrefSpo2Enabled, PrefSpo2AlarmEnabled, PrefSpo2AlarmThreshold:
		s.sendSpo2()
	case PrefHeartRateInterval, PrefHeartRateAlarmEnabled, PrefHeartRateAlarmLimit, PrefSleepBreathing:
		s.sendHeartRate()
	case PrefStandingEnabled, PrefStandingStart, PrefStandingEnd, PrefStandingDND, PrefStandingDNDStart, PrefStandingDNDEnd:
		s.sendStandingReminder()
	case PrefStressEnabled, PrefRelaxReminder:
		s.sendStress()
	case PrefGoalSteps, PrefGoalCalories, PrefGoalStandingHours, PrefGoalMoveMinutes:
		s.sendGoals()
	case PrefGoalNotification:
		s.sendGoalNotification()
	case PrefVitalitySevenDay, PrefVitalityDaily:
		s.sendVitalityScore()
	default:
		return false
	}
	return true
}

// Dispose cancels the GPS timeout and releases the provider
func (s *HealthService) Dispose() {
	if s.gpsTimer != nil {
		s.gpsTimer.Stop()
		s.gpsTimer = nil
	}
	s.stopGPS()
	s.workoutStarted = false
}
