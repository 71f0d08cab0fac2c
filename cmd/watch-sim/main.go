package main

import (
	"fmt"
	"os"
	"time"

	"github.com/user/xiaowear/logger"
	"github.com/user/xiaowear/transfer"
	"github.com/user/xiaowear/util"
	"github.com/user/xiaowear/watch"
	"github.com/user/xiaowear/wire"
)

// simulatedWatch is a loopback transport: every outbound command is answered
// the way a real device would, re-entering the session as an inbound frame.
type simulatedWatch struct {
	session *watch.Session
}

func (w *simulatedWatch) reply(cmd *wire.Command) {
	w.session.HandleFrame(wire.Encode(cmd))
}

func (w *simulatedWatch) replyJSON(cmdType, subtype, status uint32, payload interface{}) {
	cmd, err := wire.NewCommand(cmdType, subtype, payload)
	if err != nil {
		fmt.Printf("[watch] failed to build reply: %v\n", err)
		return
	}
	w.reply(cmd.WithStatus(status))
}

func (w *simulatedWatch) SendCommand(label string, cmd *wire.Command) error {
	switch {
	case cmd.Type == wire.TypeSystem && cmd.Subtype == wire.SysDeviceInfo:
		w.replyJSON(cmd.Type, cmd.Subtype, wire.StatusSuccess, wire.DeviceInfo{
			Model: "Smart Band 9", FirmwareVersion: "2.3.1", SerialNumber: "SB9-0042",
		})
	case cmd.Type == wire.TypeSystem && cmd.Subtype == wire.SysBattery:
		w.replyJSON(cmd.Type, cmd.Subtype, wire.StatusSuccess, wire.Battery{Level: 83})
	case cmd.Type == wire.TypeSystem && cmd.Subtype == wire.SysDisplayItemsGet:
		w.replyJSON(cmd.Type, cmd.Subtype, wire.StatusSuccess, wire.DisplayItems{Items: []wire.DisplayItem{
			{Code: "status", Name: "Status"},
			{Code: "settings", Name: "Settings", IsSettings: true},
			{Code: "compass", Name: "Compass", InMoreSection: true},
		}})
	case cmd.Type == wire.TypeSystem && cmd.Subtype == wire.SysFirmwareInstall:
		w.reply((&wire.Command{Type: cmd.Type, Subtype: cmd.Subtype}).WithStatus(wire.StatusSuccess))
	case cmd.Type == wire.TypeHealth && cmd.Subtype == wire.HealthSpo2Get:
		// This band has no SpO2 sensor
		w.reply((&wire.Command{Type: cmd.Type, Subtype: cmd.Subtype}).WithStatus(wire.StatusUnsupported))
	case cmd.Type == wire.TypeHealth && cmd.Subtype == wire.HealthGoalsGet:
		w.replyJSON(cmd.Type, cmd.Subtype, wire.StatusSuccess, wire.GoalsConfig{
			Steps: 8000, Calories: 350, StandingHours: 12, MoveMinutes: 30,
		})
	case cmd.Type == wire.TypeWeather && cmd.Subtype == wire.WeatherLocationsGet:
		// One live slot plus a stale one the phone should clean up
		w.replyJSON(cmd.Type, cmd.Subtype, wire.StatusSuccess, wire.WeatherLocations{
			Locations: []wire.WeatherLocation{
				{Code: watch.LocationKey("Berlin"), Name: "Berlin"},
				{Code: "accu:999999", Name: "Atlantis"},
			},
		})
	case cmd.Type == wire.TypeWatchface && cmd.Subtype == wire.FaceList:
		w.replyJSON(cmd.Type, cmd.Subtype, wire.StatusSuccess, wire.WatchfaceList{Faces: []wire.WatchfaceInfo{
			{ID: "100001", Name: "Stock", Active: true},
			{ID: "100002", Name: "Analog", CanDelete: true},
		}})
	case cmd.Type == wire.TypeWatchface && cmd.Subtype == wire.FaceInstall:
		w.reply((&wire.Command{Type: cmd.Type, Subtype: cmd.Subtype}).WithStatus(wire.StatusSuccess))
	case cmd.Type == wire.TypeSchedule && cmd.Subtype == wire.AlarmListGet:
		w.replyJSON(cmd.Type, cmd.Subtype, wire.StatusSuccess, wire.AlarmList{Alarms: []wire.AlarmDetails{
			{ID: 1, Enabled: true, Hour: 9, Minute: 0, RepeatMode: wire.RepeatOnce},
		}})
	case cmd.Type == wire.TypeDataUpload && cmd.Subtype == wire.UploadRequest:
		var req wire.UploadRequestPayload
		if err := wire.UnmarshalPayload(cmd.Payload, &req); err == nil {
			fmt.Printf("[watch] upload announced: type=%d size=%d\n", req.Type, req.Size)
		}
		w.replyJSON(cmd.Type, wire.UploadStart, wire.StatusSuccess, wire.UploadAck{ChunkSize: 512})
	default:
		// Everything else just gets a success ack
		w.reply((&wire.Command{Type: cmd.Type, Subtype: cmd.Subtype}).WithStatus(wire.StatusSuccess))
	}
	return nil
}

func (w *simulatedWatch) WriteChunks(parts [][]byte, ack watch.WriteAck) {
	go func() {
		for i := range parts {
			time.Sleep(time.Millisecond)
			ack(len(parts)-i-1, true)
		}
		if tag, data, err := transfer.Reassemble(parts); err != nil {
			fmt.Printf("[watch] upload corrupt: %v\n", err)
		} else {
			fmt.Printf("[watch] upload stored: type=%d %d bytes\n", tag, len(data))
		}
	}()
}

// printEvents surfaces host callbacks on stdout
type printEvents struct {
	watch.NopEvents
}

func (printEvents) DeviceInfoUpdated(info wire.DeviceInfo) {
	fmt.Printf("[phone] connected to %s (fw %s)\n", info.Model, info.FirmwareVersion)
}

func (printEvents) BatteryChanged(level int, charging bool) {
	fmt.Printf("[phone] battery now %d%% (charging=%v)\n", level, charging)
}

func (printEvents) Toast(message string) {
	fmt.Printf("[phone] toast: %s\n", message)
}

func (printEvents) MusicCommand(action string) {
	fmt.Printf("[phone] media control: %s\n", action)
}

func main() {
	fmt.Println("=== Watch Protocol Simulator ===")
	logger.SetLevel(logger.ParseLevel(os.Getenv("XIAOWEAR_LOG")))

	sim := &simulatedWatch{}
	prefs := watch.NewPersistentPrefs(util.GetDeviceCacheDir("band-sim"))
	session := watch.NewSession("band", sim, printEvents{}, prefs)
	sim.session = session
	prefs.SetChangeHook(session.BroadcastConfigChange)

	upload := watch.NewDataUploadService(session)
	system := watch.NewSystemService(session, upload)
	faces := watch.NewWatchfaceService(session, upload)
	health := watch.NewHealthService(session, nil, nil)
	schedule := watch.NewScheduleService(session)
	music := watch.NewMusicService(session)

	session.Register(upload)
	session.Register(system)
	session.Register(faces)
	session.Register(health)
	session.Register(watch.NewWeatherService(session, nil))
	session.Register(schedule)
	session.Register(watch.NewCalendarService(session, nil))
	session.Register(watch.NewPhonebookService(session, nil))
	session.Register(music)
	session.Register(watch.NewNotificationService(session))

	session.Initialize()
	session.Flush()

	fmt.Println("\n--- user raises the step goal ---")
	prefs.SetInt(watch.PrefGoalSteps, 12000)
	session.Flush()

	fmt.Println("\n--- user sets a wake-up alarm ---")
	session.Post(func() {
		schedule.SetAlarms([]watch.Alarm{
			{Position: 0, Enabled: true, Hour: 7, Minute: 15, RepeatMode: wire.RepeatDaily},
			{Position: 1, Unused: true},
		})
	})
	session.Flush()

	fmt.Println("\n--- user installs a watchface ---")
	faceData := make([]byte, 4000)
	for i := range faceData {
		faceData[i] = byte(i)
	}
	session.Post(func() {
		faces.InstallWatchface("200007", faceData)
	})
	session.Flush()
	time.Sleep(100 * time.Millisecond)
	session.Flush()

	fmt.Println("\n--- watch skips to the next track ---")
	session.HandleFrame(wire.Encode(mustCommand(wire.TypeMusic, wire.MusicControl,
		wire.MusicControlPayload{Action: wire.MusicActionNext})))
	session.Flush()

	session.Close()
	fmt.Println("\ndone")
}

func mustCommand(cmdType, subtype uint32, payload interface{}) *wire.Command {
	cmd, err := wire.NewCommand(cmdType, subtype, payload)
	if err != nil {
		panic(err)
	}
	return cmd
}
