package wire

import (
	"encoding/json"
	"fmt"
)

// MarshalPayload encodes a typed payload into the envelope's payload bytes
func MarshalPayload(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

// UnmarshalPayload decodes the envelope's payload bytes into a typed payload
func UnmarshalPayload(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return nil
}

// NewCommand builds a command with a typed payload already marshalled
func NewCommand(cmdType, subtype uint32, payload interface{}) (*Command, error) {
	cmd := &Command{Type: cmdType, Subtype: subtype}
	if payload != nil {
		data, err := MarshalPayload(payload)
		if err != nil {
			return nil, err
		}
		cmd.Payload = data
	}
	return cmd, nil
}

// --- System payloads ---

// DeviceInfo is the device's identity report
type DeviceInfo struct {
	Model           string `json:"model"`
	SerialNumber    string `json:"serial_number"`
	FirmwareVersion string `json:"firmware_version"`
}

// Clock pushes the phone's wall clock and timezone to the device
type Clock struct {
	UnixSeconds    int64 `json:"unix_seconds"`
	TimezoneOffset int   `json:"timezone_offset"` // minutes east of UTC
	Is24Hour       bool  `json:"is_24_hour"`
}

// Battery is the dedicated battery report
type Battery struct {
	Level    int  `json:"level"`
	Charging bool `json:"charging"`
}

// DeviceState is the broadcast state report; it carries battery state on a
// second wire path next to Battery
type DeviceState struct {
	Wearing      *bool `json:"wearing,omitempty"`
	Sleeping     *bool `json:"sleeping,omitempty"`
	BatteryLevel *int  `json:"battery_level,omitempty"`
	Charging     *bool `json:"charging,omitempty"`
}

// FirmwareInstallRequest announces a firmware upload
type FirmwareInstallRequest struct {
	Version string `json:"version"`
	MD5     string `json:"md5"`
	Size    int    `json:"size"`
}

// DisplayItem is one entry of the watch menu
type DisplayItem struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Disabled      bool   `json:"disabled"`
	InMoreSection bool   `json:"in_more_section"`
	IsSettings    bool   `json:"is_settings"`
}

// DisplayItems is the watch menu list, device-authoritative on fetch
type DisplayItems struct {
	Items []DisplayItem `json:"items"`
}

// WidgetScreens is an opaque serialized blob round-tripped verbatim
type WidgetScreens struct {
	Hex string `json:"hex"`
}

// MiscSettings carries small device settings pushed as a group
type MiscSettings struct {
	LiftWristToWake   bool `json:"lift_wrist_to_wake"`
	RotateWristSwitch bool `json:"rotate_wrist_switch"`
	NightModeEnabled  bool `json:"night_mode_enabled"`
}

// Password configures the device lock screen
type Password struct {
	Enabled bool   `json:"enabled"`
	Code    string `json:"code,omitempty"`
}

// CannedMessages is the list of quick replies stored on the device
type CannedMessages struct {
	Messages []string `json:"messages"`
}

// --- Health payloads ---

// UserInfo is the user profile push
type UserInfo struct {
	Age          int    `json:"age"`
	HeightCm     int    `json:"height_cm"`
	WeightKg     int    `json:"weight_kg"`
	Gender       string `json:"gender"`
	MaxHeartRate int    `json:"max_heart_rate"`
	UserID       string `json:"user_id"`
}

// Spo2Config is the SpO2 monitoring configuration
type Spo2Config struct {
	Enabled           bool `json:"enabled"`
	LowAlarmEnabled   bool `json:"low_alarm_enabled"`
	LowAlarmThreshold int  `json:"low_alarm_threshold"`
}

// HeartRateConfig is the heart-rate monitoring configuration
type HeartRateConfig struct {
	IntervalMinutes    int  `json:"interval_minutes"` // 0 disables, -1 is smart
	HighAlarmEnabled   bool `json:"high_alarm_enabled"`
	HighAlarmThreshold int  `json:"high_alarm_threshold"`
	SleepBreathing     bool `json:"sleep_breathing"`
}

// StandingReminderConfig is the inactivity reminder configuration
type StandingReminderConfig struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"` // "HH:MM"
	End      string `json:"end"`
	DND      bool   `json:"dnd"`
	DNDStart string `json:"dnd_start"`
	DNDEnd   string `json:"dnd_end"`
}

// StressConfig is the stress monitoring configuration
type StressConfig struct {
	Enabled       bool `json:"enabled"`
	RelaxReminder bool `json:"relax_reminder"`
}

// GoalsConfig is the daily activity goals configuration
type GoalsConfig struct {
	Steps         int `json:"steps"`
	Calories      int `json:"calories"`
	StandingHours int `json:"standing_hours"`
	MoveMinutes   int `json:"move_minutes"`
}

// GoalNotificationConfig toggles the goal-reached notification
type GoalNotificationConfig struct {
	Enabled bool `json:"enabled"`
}

// VitalityScoreConfig toggles the vitality score reports
type VitalityScoreConfig struct {
	SevenDay      bool `json:"seven_day"`
	DailyProgress bool `json:"daily_progress"`
}

// ActivityFiles carries the flat stream of 7-byte activity file-id records
type ActivityFiles struct {
	Records []byte `json:"records"`
}

// WorkoutOpen is sent by the device when the workout app opens
type WorkoutOpen struct {
	Sport int `json:"sport"`
}

// WorkoutOpenReply answers a workout open with the phone's GPS posture
type WorkoutOpenReply struct {
	GPSAvailable bool `json:"gps_available"`
	FixAcquired  bool `json:"fix_acquired"`
}

// Workout status values reported by the device
const (
	WorkoutStarted  = 1
	WorkoutPaused   = 2
	WorkoutResumed  = 3
	WorkoutFinished = 4
)

// WorkoutStatus reports a workout state transition from the device
type WorkoutStatus struct {
	Status int `json:"status"`
}

// WorkoutLocation forwards one GPS fix to the device
type WorkoutLocation struct {
	Timestamp int64   `json:"timestamp"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Speed     float64 `json:"speed"`
	Bearing   float64 `json:"bearing"`
	Accuracy  float64 `json:"accuracy"`
}

// RealtimeStats is one realtime sample from the device
type RealtimeStats struct {
	Steps     int `json:"steps"` // cumulative since midnight
	HeartRate int `json:"heart_rate"`
	Calories  int `json:"calories"`
}

// --- Data upload payloads ---

// UploadRequestPayload announces a bulk transfer and its digest
type UploadRequestPayload struct {
	Type byte   `json:"type"`
	MD5  []byte `json:"md5"`
	Size int    `json:"size"`
}

// UploadAck is the device's answer to an upload request
type UploadAck struct {
	ChunkSize      int `json:"chunk_size"`
	Unknown2       int `json:"unknown2"`
	ResumePosition int `json:"resume_position"`
}

// --- Watchface payloads ---

// WatchfaceInfo describes one installed watchface
type WatchfaceInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CanDelete bool   `json:"can_delete"`
}

// WatchfaceList is the device-authoritative watchface catalog
type WatchfaceList struct {
	Faces []WatchfaceInfo `json:"faces"`
}

// WatchfaceRef names one watchface for set/delete/install
type WatchfaceRef struct {
	ID   string `json:"id"`
	Size int    `json:"size,omitempty"`
}

// --- Weather payloads ---

// WeatherLocation is one location slot on the device
type WeatherLocation struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// WeatherLocations is the device's reported location list
type WeatherLocations struct {
	Locations []WeatherLocation `json:"locations"`
}

// DailyForecast is one day of a forecast
type DailyForecast struct {
	MinTemp   int `json:"min_temp"`
	MaxTemp   int `json:"max_temp"`
	Condition int `json:"condition"`
}

// WeatherForecast is the forecast push for one location
type WeatherForecast struct {
	Location    WeatherLocation `json:"location"`
	Timestamp   int64           `json:"timestamp"`
	CurrentTemp int             `json:"current_temp"`
	Condition   int             `json:"condition"`
	Humidity    int             `json:"humidity"`
	Days        []DailyForecast `json:"days"`
}

// --- Schedule payloads ---

// Alarm repetition modes
const (
	RepeatOnce   = 0
	RepeatDaily  = 1
	RepeatWeekly = 2
)

// AlarmDetails is one alarm slot as the device reports it
type AlarmDetails struct {
	ID         int  `json:"id"` // device id, position+1
	Enabled    bool `json:"enabled"`
	Hour       int  `json:"hour"`
	Minute     int  `json:"minute"`
	RepeatMode int  `json:"repeat_mode"`
	WeekDays   byte `json:"week_days"` // bitmask, bit 0 = Monday
	Smart      bool `json:"smart"`
}

// AlarmList is the device's alarm slots
type AlarmList struct {
	Alarms []AlarmDetails `json:"alarms"`
}

// AlarmRef names one alarm slot for deletion
type AlarmRef struct {
	ID int `json:"id"`
}

// --- Calendar payloads ---

// CalendarEvent is one synced event; it has value semantics so event sets can
// be compared for equality
type CalendarEvent struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Start       int64  `json:"start"`
	End         int64  `json:"end"`
	AllDay      bool   `json:"all_day"`
	Reminder    bool   `json:"reminder"`
}

// CalendarEvents is the full synced event set
type CalendarEvents struct {
	Events []CalendarEvent `json:"events"`
}

// --- Phonebook payloads ---

// ContactQueryPayload is the device asking who a number belongs to
type ContactQueryPayload struct {
	Number string `json:"number"`
}

// ContactReply answers a contact query
type ContactReply struct {
	Number string `json:"number"`
	Name   string `json:"name"`
}

// --- Music payloads ---

// MusicState mirrors the host media session to the device
type MusicState struct {
	Playing  bool   `json:"playing"`
	Track    string `json:"track"`
	Artist   string `json:"artist"`
	Volume   int    `json:"volume"`
	Position int    `json:"position"`
	Duration int    `json:"duration"`
}

// Music control actions sent by the device
const (
	MusicActionPlay       = "play"
	MusicActionPause      = "pause"
	MusicActionNext       = "next"
	MusicActionPrevious   = "previous"
	MusicActionVolumeUp   = "volume_up"
	MusicActionVolumeDown = "volume_down"
)

// MusicControlPayload is a media control request from the device
type MusicControlPayload struct {
	Action string `json:"action"`
}

// --- Notification payloads ---

// Notification forwards one host notification to the device
type Notification struct {
	ID        uint32 `json:"id"`
	AppName   string `json:"app_name"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

// NotificationRef names one notification for dismissal
type NotificationRef struct {
	ID uint32 `json:"id"`
}
