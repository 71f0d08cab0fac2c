package watch

import "github.com/user/xiaowear/wire"

// Events is the host application's callback surface. Implementations must be
// cheap and non-blocking; everything is invoked from the session worker.
type Events interface {
	// DeviceInfoUpdated fires when the device reports its identity
	DeviceInfoUpdated(info wire.DeviceInfo)

	// BatteryChanged fires on a battery transition away from a known state
	BatteryChanged(level int, charging bool)

	// WearingChanged fires on a wearing transition away from a known state
	WearingChanged(wearing bool)

	// SleepChanged fires on a sleep transition away from a known state
	SleepChanged(asleep bool)

	// Toast surfaces a user-visible outcome for long-running operations
	Toast(message string)

	// RealtimeSample delivers one realtime sample; steps is a delta, not a
	// cumulative count
	RealtimeSample(stepsDelta int, heartRate int)

	// WorkoutTrackControl starts or stops host-side track recording
	WorkoutTrackControl(recording bool)

	// MusicCommand forwards a media control action from the device
	MusicCommand(action string)

	// NotificationDismissed reports the device dismissing a notification
	NotificationDismissed(id uint32)
}

// NopEvents is an Events implementation that ignores everything. Embed it to
// implement only the callbacks a host cares about.
type NopEvents struct{}

func (NopEvents) DeviceInfoUpdated(wire.DeviceInfo) {}
func (NopEvents) BatteryChanged(int, bool)          {}
func (NopEvents) WearingChanged(bool)               {}
func (NopEvents) SleepChanged(bool)                 {}
func (NopEvents) Toast(string)                      {}
func (NopEvents) RealtimeSample(int, int)           {}
func (NopEvents) WorkoutTrackControl(bool)          {}
func (NopEvents) MusicCommand(string)               {}
func (NopEvents) NotificationDismissed(uint32)      {}
