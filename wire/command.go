package wire

import "fmt"

// Command type identifiers. Every feature service owns one command type and
// the full subtype space beneath it.
const (
	TypeSystem       uint32 = 2
	TypeWatchface    uint32 = 4
	TypeNotification uint32 = 7
	TypeHealth       uint32 = 8
	TypeWeather      uint32 = 10
	TypeCalendar     uint32 = 12
	TypeSchedule     uint32 = 17
	TypeMusic        uint32 = 18
	TypePhonebook    uint32 = 21
	TypeDataUpload   uint32 = 22
)

// Status codes carried in the optional status field of a response
const (
	StatusSuccess     uint32 = 0
	StatusUnsupported uint32 = 1
)

// System subtypes
const (
	SysDeviceInfo      uint32 = 1
	SysClock           uint32 = 2
	SysBattery         uint32 = 3
	SysFirmwareInstall uint32 = 5
	SysDisplayItemsGet uint32 = 7
	SysDisplayItemsSet uint32 = 8
	SysMiscSettingGet  uint32 = 9
	SysMiscSettingSet  uint32 = 10
	SysFindDevice      uint32 = 14
	SysPassword        uint32 = 21
	SysCannedMessages  uint32 = 23
	SysWidgetScreensGet uint32 = 28
	SysWidgetScreensSet uint32 = 29
	SysDeviceState     uint32 = 78
)

// Health subtypes
const (
	HealthUserInfoSet         uint32 = 0
	HealthSpo2Get             uint32 = 1
	HealthSpo2Set             uint32 = 2
	HealthHeartRateGet        uint32 = 3
	HealthHeartRateSet        uint32 = 4
	HealthStandingReminderGet uint32 = 5
	HealthStandingReminderSet uint32 = 6
	HealthStressGet           uint32 = 7
	HealthStressSet           uint32 = 8
	HealthGoalsGet            uint32 = 9
	HealthGoalsSet            uint32 = 10
	HealthGoalNotificationGet uint32 = 11
	HealthGoalNotificationSet uint32 = 12
	HealthVitalityScoreGet    uint32 = 13
	HealthVitalityScoreSet    uint32 = 14
	HealthActivityFetchToday  uint32 = 15
	HealthActivityFetchPast   uint32 = 16
	HealthWorkoutOpen         uint32 = 20
	HealthWorkoutStatus       uint32 = 21
	HealthWorkoutLocation     uint32 = 22
	HealthRealtimeStatsStart  uint32 = 30
	HealthRealtimeStatsStop   uint32 = 31
	HealthRealtimeStatsEvent  uint32 = 32
)

// Watchface subtypes
const (
	FaceList    uint32 = 0
	FaceSet     uint32 = 1
	FaceDelete  uint32 = 2
	FaceInstall uint32 = 4
)

// Weather subtypes
const (
	WeatherCurrentSet     uint32 = 0
	WeatherForecastSet    uint32 = 1
	WeatherLocationsGet   uint32 = 5
	WeatherLocationAdd    uint32 = 6
	WeatherLocationRemove uint32 = 7
)

// Schedule (alarm) subtypes
const (
	AlarmListGet uint32 = 0
	AlarmCreate  uint32 = 1
	AlarmEdit    uint32 = 2
	AlarmDelete  uint32 = 3
)

// Calendar subtypes
const (
	CalendarSync uint32 = 1
)

// Phonebook subtypes
const (
	ContactQuery uint32 = 2
)

// Music subtypes
const (
	MusicStateSet uint32 = 0
	MusicControl  uint32 = 1
)

// Notification subtypes
const (
	NotificationSend    uint32 = 0
	NotificationDismiss uint32 = 1
)

// DataUpload subtypes
const (
	UploadRequest uint32 = 0
	UploadStart   uint32 = 1
)

// Command is one decoded protocol frame. Identity for dispatch is the
// (Type, Subtype) pair; Status, when present, is a secondary outcome code on
// responses. Payload carries the per-feature message body and is opaque to
// the envelope codec.
type Command struct {
	Type    uint32
	Subtype uint32
	Status  *uint32
	Payload []byte
}

// HasStatus reports whether the optional status field was present on the wire
func (c *Command) HasStatus() bool {
	return c.Status != nil
}

// StatusOr returns the status field, or def when it was absent
func (c *Command) StatusOr(def uint32) uint32 {
	if c.Status == nil {
		return def
	}
	return *c.Status
}

// WithStatus returns a copy of the command carrying the given status
func (c Command) WithStatus(status uint32) *Command {
	c.Status = &status
	return &c
}

// String renders the envelope for logging
func (c *Command) String() string {
	if c.Status != nil {
		return fmt.Sprintf("cmd{type=%d subtype=%d status=%d payload=%dB}", c.Type, c.Subtype, *c.Status, len(c.Payload))
	}
	return fmt.Sprintf("cmd{type=%d subtype=%d payload=%dB}", c.Type, c.Subtype, len(c.Payload))
}
