package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/user/xiaowear/logger"
)

// Preference keys shared between the host application and the services.
// Services self-filter on these in OnSendConfiguration.
const (
	// User profile
	PrefUserAge    = "user.age"
	PrefUserHeight = "user.height_cm"
	PrefUserWeight = "user.weight_kg"
	PrefUserGender = "user.gender"
	PrefUserID     = "user.id"

	// Health configuration
	PrefSpo2Enabled           = "health.spo2.enabled"
	PrefSpo2AlarmEnabled      = "health.spo2.low_alarm_enabled"
	PrefSpo2AlarmThreshold    = "health.spo2.low_alarm_threshold"
	PrefHeartRateInterval     = "health.heart_rate.interval"
	PrefHeartRateAlarmEnabled = "health.heart_rate.high_alarm_enabled"
	PrefHeartRateAlarmLimit   = "health.heart_rate.high_alarm_threshold"
	PrefSleepBreathing        = "health.heart_rate.sleep_breathing"
	PrefStandingEnabled       = "health.standing.enabled"
	PrefStandingStart         = "health.standing.start"
	PrefStandingEnd           = "health.standing.end"
	PrefStandingDND           = "health.standing.dnd"
	PrefStandingDNDStart      = "health.standing.dnd_start"
	PrefStandingDNDEnd        = "health.standing.dnd_end"
	PrefStressEnabled         = "health.stress.enabled"
	PrefRelaxReminder         = "health.stress.relax_reminder"
	PrefGoalSteps             = "health.goals.steps"
	PrefGoalCalories          = "health.goals.calories"
	PrefGoalStandingHours     = "health.goals.standing_hours"
	PrefGoalMoveMinutes       = "health.goals.move_minutes"
	PrefGoalNotification      = "health.goal_notification"
	PrefVitalitySevenDay      = "health.vitality.seven_day"
	PrefVitalityDaily         = "health.vitality.daily_progress"

	// Feature availability flags, written by services after capability probes
	PrefFeatureSpo2          = "feature.spo2"
	PrefFeatureStress        = "feature.stress"
	PrefFeatureVitalityScore = "feature.vitality_score"
	PrefFeatureMultiLocation = "feature.weather_multi_location"

	// Workout
	PrefWorkoutSendGPS        = "workout.send_gps"
	PrefWorkoutTrackRecording = "workout.track_recording"

	// System
	PrefBatteryPolling         = "system.battery_polling.enabled"
	PrefBatteryPollingMinutes  = "system.battery_polling.minutes"
	PrefDisplayItems           = "system.display_items"
	PrefWidgetScreens          = "system.widget_screens"
	PrefLiftWristToWake        = "system.lift_wrist_to_wake"
	PrefRotateWristSwitch      = "system.rotate_wrist_switch"
	PrefNightMode              = "system.night_mode"
	PrefPasswordEnabled        = "system.password.enabled"
	PrefPasswordCode           = "system.password.code"
	PrefCannedMessages         = "system.canned_messages"
	PrefTimeFormat24h          = "system.time_format_24h"

	// Phonebook privacy: "off", "mask", "hide_name", "hide_number_if_unnamed"
	PrefContactsPrivacyMode = "phonebook.privacy_mode"

	// Calendar
	PrefSyncCalendar = "calendar.sync_enabled"
)

// Contacts privacy modes
const (
	PrivacyOff               = "off"
	PrivacyMask              = "mask"
	PrivacyHideName          = "hide_name"
	PrivacyHideNumberUnnamed = "hide_number_if_unnamed"
)

// Prefs is the host-owned key/value preference store. Values are strings;
// typed accessors parse on read. When a path is configured the store persists
// as JSON with the write-temp-then-rename pattern.
type Prefs struct {
	mu       sync.RWMutex
	values   map[string]string
	path     string
	onChange func(key string)
}

// NewPrefs creates an in-memory preference store
func NewPrefs() *Prefs {
	return &Prefs{values: make(map[string]string)}
}

// NewPersistentPrefs creates a store backed by a JSON file under dir
func NewPersistentPrefs(dir string) *Prefs {
	p := &Prefs{
		values: make(map[string]string),
		path:   filepath.Join(dir, "prefs.json"),
	}
	p.load()
	return p
}

// SetChangeHook registers the callback invoked after every Set. The host
// wires this to Session.BroadcastConfigChange.
func (p *Prefs) SetChangeHook(hook func(key string)) {
	p.mu.Lock()
	p.onChange = hook
	p.mu.Unlock()
}

func (p *Prefs) load() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("", "failed to load preferences: %v", err)
		}
		return
	}
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		logger.Warn("", "failed to parse preferences: %v", err)
		return
	}
	p.values = values
}

// save persists the store. Must be called with the lock held.
func (p *Prefs) save() {
	if p.path == "" {
		return
	}
	data, err := json.MarshalIndent(p.values, "", "  ")
	if err != nil {
		logger.Warn("", "failed to marshal preferences: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		logger.Warn("", "failed to create preference directory: %v", err)
		return
	}
	tempPath := p.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		logger.Warn("", "failed to write preferences: %v", err)
		return
	}
	if err := os.Rename(tempPath, p.path); err != nil {
		logger.Warn("", "failed to rename preferences: %v", err)
	}
}

// GetString returns the value for key, or def when unset
func (p *Prefs) GetString(key, def string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.values[key]; ok {
		return v
	}
	return def
}

// GetBool returns the boolean value for key, or def when unset or unparsable
func (p *Prefs) GetBool(key string, def bool) bool {
	p.mu.RLock()
	v, ok := p.values[key]
	p.mu.RUnlock()
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetInt returns the integer value for key, or def when unset or unparsable
func (p *Prefs) GetInt(key string, def int) int {
	p.mu.RLock()
	v, ok := p.values[key]
	p.mu.RUnlock()
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetStringList returns the list value for key, or nil when unset
func (p *Prefs) GetStringList(key string) []string {
	p.mu.RLock()
	v, ok := p.values[key]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(v), &list); err != nil {
		return nil
	}
	return list
}

// PutString stores a value without notifying the change hook. Services use
// the Put variants when mirroring device-reported state into preferences, so
// a device report never loops back into an outbound send.
func (p *Prefs) PutString(key, value string) {
	p.mu.Lock()
	p.values[key] = value
	p.save()
	p.mu.Unlock()
}

// PutBool stores a boolean value without notifying the change hook
func (p *Prefs) PutBool(key string, value bool) {
	p.PutString(key, strconv.FormatBool(value))
}

// PutInt stores an integer value without notifying the change hook
func (p *Prefs) PutInt(key string, value int) {
	p.PutString(key, strconv.Itoa(value))
}

// PutStringList stores a list value without notifying the change hook
func (p *Prefs) PutStringList(key string, list []string) {
	data, err := json.Marshal(list)
	if err != nil {
		logger.Warn("", "failed to marshal list preference %q: %v", key, err)
		return
	}
	p.PutString(key, string(data))
}

// SetString stores a value and notifies the change hook
func (p *Prefs) SetString(key, value string) {
	p.mu.Lock()
	p.values[key] = value
	p.save()
	hook := p.onChange
	p.mu.Unlock()
	if hook != nil {
		hook(key)
	}
}

// SetBool stores a boolean value
func (p *Prefs) SetBool(key string, value bool) {
	p.SetString(key, strconv.FormatBool(value))
}

// SetInt stores an integer value
func (p *Prefs) SetInt(key string, value int) {
	p.SetString(key, strconv.Itoa(value))
}

// SetStringList stores a list value
func (p *Prefs) SetStringList(key string, list []string) {
	data, err := json.Marshal(list)
	if err != nil {
		logger.Warn("", "failed to marshal list preference %q: %v", key, err)
		return
	}
	p.SetString(key, string(data))
}

// Has reports whether key has been set
func (p *Prefs) Has(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.values[key]
	return ok
}

// Dump returns a copy of all values, for diagnostics
func (p *Prefs) Dump() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// String implements fmt.Stringer for debug logs
func (p *Prefs) String() string {
	return fmt.Sprintf("prefs(%d keys)", len(p.Dump()))
}
