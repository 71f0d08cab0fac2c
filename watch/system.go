package watch

import (
	"encoding/hex"
	"time"

	"github.com/user/xiaowear/logger"
	"github.com/user/xiaowear/transfer"
	"github.com/user/xiaowear/wire"
)

// observedState is a tri-state device observation. The zero value is Unknown;
// transitions away from Unknown never emit host events, which suppresses
// spurious events on session start.
type observedState int

const (
	stateUnknown observedState = iota
	stateYes
	stateNo
)

func observe(v bool) observedState {
	if v {
		return stateYes
	}
	return stateNo
}

func (o observedState) known() bool {
	return o != stateUnknown
}

// displayItemMore is the sentinel separating main menu items from the "more"
// section in the flattened preference list
const displayItemMore = "more"

const defaultBatteryPollMinutes = 15

// SystemService tracks device identity and the battery/wear/sleep state
// machine, orchestrates firmware installs through the upload service, and
// round-trips the display-items menu and the opaque widget-screens blob.
type SystemService struct {
	session *Session
	upload  *DataUploadService

	deviceInfo *wire.DeviceInfo

	wearing      observedState
	charging     observedState
	sleeping     observedState
	batteryLevel int

	pollTimer *time.Timer

	installing      bool
	pendingFirmware []byte

	lastDisplayItems []wire.DisplayItem
	cachedSettings   *wire.DisplayItem
}

// NewSystemService creates the system service
func NewSystemService(session *Session, upload *DataUploadService) *SystemService {
	return &SystemService{
		session:      session,
		upload:       upload,
		batteryLevel: -1,
	}
}

func (s *SystemService) Name() string        { return "system" }
func (s *SystemService) CommandType() uint32 { return wire.TypeSystem }

// Initialize probes device identity and pushes the phone clock
func (s *SystemService) Initialize() {
	s.session.SendCommand("get device info", &wire.Command{Type: wire.TypeSystem, Subtype: wire.SysDeviceInfo})
	s.sendClock()
	s.requestBattery()
	s.session.SendCommand("get display items", &wire.Command{Type: wire.TypeSystem, Subtype: wire.SysDisplayItemsGet})
	s.armBatteryPoll()
}

// HandleCommand processes system frames
func (s *SystemService) HandleCommand(cmd *wire.Command) {
	switch cmd.Subtype {
	case wire.SysDeviceInfo:
		s.handleDeviceInfo(cmd)
	case wire.SysClock:
		// Ack for the clock push, nothing to do
	case wire.SysBattery:
		s.handleBattery(cmd)
	case wire.SysDeviceState:
		s.handleDeviceState(cmd)
	case wire.SysFirmwareInstall:
		s.handleFirmwareInstallAck(cmd)
	case wire.SysDisplayItemsGet:
		s.handleDisplayItems(cmd)
	case wire.SysWidgetScreensGet:
		s.handleWidgetScreens(cmd)
	case wire.SysMiscSettingGet:
		s.handleMiscSettings(cmd)
	case wire.SysCannedMessages:
		s.handleCannedMessages(cmd)
	default:
		logger.Warn(s.session.Name(), "unknown system subtype %d, ignoring", cmd.Subtype)
	}
}

func (s *SystemService) handleDeviceInfo(cmd *wire.Command) {
	var info wire.DeviceInfo
	if err := wire.UnmarshalPayload(cmd.Payload, &info); err != nil {
		logger.Warn(s.session.Name(), "bad device info: %v", err)
		return
	}
	s.deviceInfo = &info
	logger.Info(s.session.Name(), "device: %s fw=%s serial=%s", info.Model, info.FirmwareVersion, info.SerialNumber)
	s.session.Events().DeviceInfoUpdated(info)
}

func (s *SystemService) handleBattery(cmd *wire.Command) {
	var battery wire.Battery
	if err := wire.UnmarshalPayload(cmd.Payload, &battery); err != nil {
		logger.Warn(s.session.Name(), "bad battery report: %v", err)
		return
	}
	s.updateBattery(battery.Level, battery.Charging)
	// Every battery frame re-arms the poll timer
	s.armBatteryPoll()
}

// handleDeviceState is the second wire path that can report battery state;
// whichever path reports first for a session wins until contradicted.
func (s *SystemService) handleDeviceState(cmd *wire.Command) {
	var state wire.DeviceState
	if err := wire.UnmarshalPayload(cmd.Payload, &state); err != nil {
		logger.Warn(s.session.Name(), "bad device state: %v", err)
		return
	}

	if state.Wearing != nil {
		s.updateWearing(*state.Wearing)
	}
	if state.Sleeping != nil {
		s.updateSleep(*state.Sleeping)
	}
	if state.BatteryLevel != nil {
		charging := s.charging == stateYes
		if state.Charging != nil {
			charging = *state.Charging
		}
		s.updateBattery(*state.BatteryLevel, charging)
	} else if state.Charging != nil && s.batteryLevel >= 0 {
		s.updateBattery(s.batteryLevel, *state.Charging)
	}
}

func (s *SystemService) updateBattery(level int, charging bool) {
	prevKnown := s.charging.known() && s.batteryLevel >= 0
	changed := s.batteryLevel != level || s.charging != observe(charging)

	s.batteryLevel = level
	s.charging = observe(charging)

	logger.Debug(s.session.Name(), "battery %d%% charging=%v", level, charging)
	if prevKnown && changed {
		s.session.Events().BatteryChanged(level, charging)
	}
}

func (s *SystemService) updateWearing(wearing bool) {
	prev := s.wearing
	s.wearing = observe(wearing)
	if prev.known() && prev != s.wearing {
		s.session.Events().WearingChanged(wearing)
	}
}

func (s *SystemService) updateSleep(asleep bool) {
	prev := s.sleeping
	s.sleeping = observe(asleep)
	if prev.known() && prev != s.sleeping {
		s.session.Events().SleepChanged(asleep)
	}
}

func (s *SystemService) requestBattery() {
	s.session.SendCommand("get battery", &wire.Command{Type: wire.TypeSystem, Subtype: wire.SysBattery})
}

// armBatteryPoll re-arms the poll timer from preferences. Disabling polling
// cancels the timer outright.
func (s *SystemService) armBatteryPoll() {
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	prefs := s.session.Prefs()
	if !prefs.GetBool(PrefBatteryPolling, true) {
		return
	}
	minutes := prefs.GetInt(PrefBatteryPollingMinutes, defaultBatteryPollMinutes)
	if minutes <= 0 {
		minutes = defaultBatteryPollMinutes
	}
	s.pollTimer = s.session.AfterFunc(time.Duration(minutes)*time.Minute, s.requestBattery)
}

func (s *SystemService) sendClock() {
	now := time.Now()
	_, offset := now.Zone()
	payload := wire.Clock{
		UnixSeconds:    now.Unix(),
		TimezoneOffset: offset / 60,
		Is24Hour:       s.session.Prefs().GetBool(PrefTimeFormat24h, true),
	}
	cmd, err := wire.NewCommand(wire.TypeSystem, wire.SysClock, payload)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build clock push: %v", err)
		return
	}
	s.session.SendCommand("set clock", cmd)
}

// FindDevice asks the watch to ring so the user can locate it
func (s *SystemService) FindDevice(start bool) {
	cmd, err := wire.NewCommand(wire.TypeSystem, wire.SysFindDevice, map[string]bool{"start": start})
	if err != nil {
		logger.Error(s.session.Name(), "failed to build find device: %v", err)
		return
	}
	s.session.SendCommand("find device", cmd)
}

// --- firmware install ---

// InstallFirmware starts the two-phase firmware handshake. The upload only
// begins once the device acks the install request with success.
func (s *SystemService) InstallFirmware(version string, data []byte) {
	if s.installing || s.pendingFirmware != nil {
		logger.Warn(s.session.Name(), "firmware install refused, another install is running")
		return
	}

	s.pendingFirmware = data
	payload := wire.FirmwareInstallRequest{
		Version: version,
		MD5:     hex.EncodeToString(transfer.Digest(data)),
		Size:    len(data),
	}
	cmd, err := wire.NewCommand(wire.TypeSystem, wire.SysFirmwareInstall, payload)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build firmware install request: %v", err)
		s.pendingFirmware = nil
		return
	}
	s.session.SendCommand("firmware install request", cmd)
}

func (s *SystemService) handleFirmwareInstallAck(cmd *wire.Command) {
	if s.pendingFirmware == nil {
		logger.Warn(s.session.Name(), "unexpected firmware install ack, ignoring")
		return
	}

	if status := cmd.StatusOr(wire.StatusSuccess); status != wire.StatusSuccess {
		logger.Warn(s.session.Name(), "device refused firmware install with status %d", status)
		s.pendingFirmware = nil
		s.session.Events().Toast("Firmware install refused by device")
		return
	}

	if err := s.upload.SetCallback(s); err != nil {
		logger.Warn(s.session.Name(), "cannot start firmware upload: %v", err)
		s.pendingFirmware = nil
		s.session.Events().Toast("Firmware install failed to start")
		return
	}

	s.installing = true
	data := s.pendingFirmware
	s.pendingFirmware = nil
	s.upload.RequestUpload(transfer.TypeFirmware, data)
}

// OnUploadProgress implements UploadCallback
func (s *SystemService) OnUploadProgress(percent int) {
	logger.Debug(s.session.Name(), "firmware upload %d%%", percent)
}

// OnUploadFinish implements UploadCallback; the busy flag clears on either
// outcome and the user sees the result
func (s *SystemService) OnUploadFinish(success bool) {
	s.installing = false
	if success {
		s.session.Events().Toast("Firmware install complete")
	} else {
		s.session.Events().Toast("Firmware install failed")
	}
}

// --- display items ---

// handleDisplayItems flattens the device-authoritative menu into the ordered
// preference list: main items, the "more" sentinel, then more-section items.
func (s *SystemService) handleDisplayItems(cmd *wire.Command) {
	var items wire.DisplayItems
	if err := wire.UnmarshalPayload(cmd.Payload, &items); err != nil {
		logger.Warn(s.session.Name(), "bad display items: %v", err)
		return
	}

	s.lastDisplayItems = items.Items
	for i := range items.Items {
		if items.Items[i].IsSettings {
			settings := items.Items[i]
			s.cachedSettings = &settings
		}
	}

	var order []string
	for _, item := range items.Items {
		if !item.Disabled && !item.InMoreSection {
			order = append(order, item.Code)
		}
	}
	order = append(order, displayItemMore)
	for _, item := range items.Items {
		if !item.Disabled && item.InMoreSection {
			order = append(order, item.Code)
		}
	}

	s.session.Prefs().PutStringList(PrefDisplayItems, order)
}

// sendDisplayItems reconstructs the device message from the flattened
// preference list. Every code present on the device appears exactly once,
// enabled or explicitly disabled, and a settings item the user dropped is
// re-inserted from cache.
func (s *SystemService) sendDisplayItems() {
	if s.lastDisplayItems == nil {
		logger.Warn(s.session.Name(), "no device display items fetched yet, cannot send")
		return
	}

	known := make(map[string]wire.DisplayItem, len(s.lastDisplayItems))
	for _, item := range s.lastDisplayItems {
		known[item.Code] = item
	}

	var out []wire.DisplayItem
	seen := make(map[string]bool)
	inMore := false
	for _, code := range s.session.Prefs().GetStringList(PrefDisplayItems) {
		if code == displayItemMore {
			inMore = true
			continue
		}
		item, ok := known[code]
		if !ok || seen[code] {
			continue
		}
		item.Disabled = false
		item.InMoreSection = inMore
		out = append(out, item)
		seen[code] = true
	}

	for _, item := range s.lastDisplayItems {
		if seen[item.Code] {
			continue
		}
		if item.IsSettings && s.cachedSettings != nil {
			// The settings entry must survive even if the user dropped it
			settings := *s.cachedSettings
			settings.Disabled = false
			settings.InMoreSection = false
			out = append(out, settings)
		} else {
			item.Disabled = true
			item.InMoreSection = false
			out = append(out, item)
		}
		seen[item.Code] = true
	}

	cmd, err := wire.NewCommand(wire.TypeSystem, wire.SysDisplayItemsSet, wire.DisplayItems{Items: out})
	if err != nil {
		logger.Error(s.session.Name(), "failed to build display items: %v", err)
		return
	}
	s.session.SendCommand("set display items", cmd)
}

// --- widget screens ---

func (s *SystemService) handleWidgetScreens(cmd *wire.Command) {
	var screens wire.WidgetScreens
	if err := wire.UnmarshalPayload(cmd.Payload, &screens); err != nil {
		logger.Warn(s.session.Name(), "bad widget screens: %v", err)
		return
	}
	if _, err := hex.DecodeString(screens.Hex); err != nil {
		logger.Warn(s.session.Name(), "device sent undecodable widget screens blob: %v", err)
		return
	}
	// Opaque to this layer; stored and later replayed verbatim
	s.session.Prefs().PutString(PrefWidgetScreens, screens.Hex)
}

func (s *SystemService) sendWidgetScreens() {
	blob := s.session.Prefs().GetString(PrefWidgetScreens, "")
	if blob == "" {
		return
	}
	if _, err := hex.DecodeString(blob); err != nil {
		logger.Warn(s.session.Name(), "stored widget screens blob is not valid hex, not sending: %v", err)
		return
	}
	cmd, err := wire.NewCommand(wire.TypeSystem, wire.SysWidgetScreensSet, wire.WidgetScreens{Hex: blob})
	if err != nil {
		logger.Error(s.session.Name(), "failed to build widget screens: %v", err)
		return
	}
	s.session.SendCommand("set widget screens", cmd)
}

// --- misc settings / canned messages ---

func (s *SystemService) handleMiscSettings(cmd *wire.Command) {
	var misc wire.MiscSettings
	if err := wire.UnmarshalPayload(cmd.Payload, &misc); err != nil {
		logger.Warn(s.session.Name(), "bad misc settings: %v", err)
		return
	}
	prefs := s.session.Prefs()
	prefs.PutBool(PrefLiftWristToWake, misc.LiftWristToWake)
	prefs.PutBool(PrefRotateWristSwitch, misc.RotateWristSwitch)
	prefs.PutBool(PrefNightMode, misc.NightModeEnabled)
}

func (s *SystemService) sendMiscSettings() {
	prefs := s.session.Prefs()
	payload := wire.MiscSettings{
		LiftWristToWake:   prefs.GetBool(PrefLiftWristToWake, false),
		RotateWristSwitch: prefs.GetBool(PrefRotateWristSwitch, false),
		NightModeEnabled:  prefs.GetBool(PrefNightMode, false),
	}
	cmd, err := wire.NewCommand(wire.TypeSystem, wire.SysMiscSettingSet, payload)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build misc settings: %v", err)
		return
	}
	s.session.SendCommand("set misc settings", cmd)
}

func (s *SystemService) handleCannedMessages(cmd *wire.Command) {
	var canned wire.CannedMessages
	if err := wire.UnmarshalPayload(cmd.Payload, &canned); err != nil {
		logger.Warn(s.session.Name(), "bad canned messages: %v", err)
		return
	}
	s.session.Prefs().PutStringList(PrefCannedMessages, canned.Messages)
}

func (s *SystemService) sendCannedMessages() {
	messages := s.session.Prefs().GetStringList(PrefCannedMessages)
	cmd, err := wire.NewCommand(wire.TypeSystem, wire.SysCannedMessages, wire.CannedMessages{Messages: messages})
	if err != nil {
		logger.Error(s.session.Name(), "failed to build canned messages: %v", err)
		return
	}
	s.session.SendCommand("set canned messages", cmd)
}

func (s *SystemService) sendPassword() {
	prefs := s.session.Prefs()
	payload := wire.Password{
		Enabled: prefs.GetBool(PrefPasswordEnabled, false),
		Code:    prefs.GetString(PrefPasswordCode, ""),
	}
	cmd, err := wire.NewCommand(wire.TypeSystem, wire.SysPassword, payload)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build password setting: %v", err)
		return
	}
	s.session.SendCommand("set password", cmd)
}

// OnSendConfiguration reacts to system preference changes
func (s *SystemService) OnSendConfiguration(key string, prefs *Prefs) bool {
	switch key {
	case PrefBatteryPolling, PrefBatteryPollingMinutes:
		s.armBatteryPoll()
	case PrefDisplayItems:
		s.sendDisplayItems()
	case PrefWidgetScreens:
		s.sendWidgetScreens()
	case PrefLiftWristToWake, PrefRotateWristSwitch, PrefNightMode:
		s.sendMiscSettings()
	case PrefPasswordEnabled, PrefPasswordCode:
		s.sendPassword()
	case PrefCannedMessages:
		s.sendCannedMessages()
	case PrefTimeFormat24h:
		s.sendClock()
	default:
		return false
	}
	return true
}

// Dispose cancels the battery poll timer
func (s *SystemService) Dispose() {
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
}
