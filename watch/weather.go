package watch

import (
	"fmt"

	"github.com/user/xiaowear/logger"
	"github.com/user/xiaowear/wire"
)

// ForecastSource is the host's cache of forecast specs, keyed by location
// name. The weather service filters the device's location list against it.
type ForecastSource interface {
	CurrentSpecs() []wire.WeatherForecast
}

// javaStringHash reproduces the JDK String.hashCode recurrence over UTF-16
// code units. Location keys derive from it, so the recurrence is part of the
// wire format.
func javaStringHash(s string) int32 {
	var h int32
	for _, r := range s {
		if r > 0xFFFF {
			r -= 0x10000
			h = 31*h + int32(0xD800+(r>>10))
			h = 31*h + int32(0xDC00+(r&0x3FF))
		} else {
			h = 31*h + int32(r)
		}
	}
	return h
}

// LocationKey derives the device-side location code from a location name.
// Two names whose hashes collide map to the same slot; that is an accepted
// wire-format limitation, not something to fix with a better key.
func LocationKey(name string) string {
	h := int64(javaStringHash(name))
	if h < 0 {
		h = -h
	}
	return fmt.Sprintf("accu:%d", h%1_000_000)
}

// WeatherService reconciles the device's weather location slots against the
// host's forecast cache. The cleanup pass is idempotent and tolerates the
// device silently dropping removals; the next refresh re-attempts them.
type WeatherService struct {
	session *Session
	source  ForecastSource

	multiLocation observedState
	cache         map[string]wire.WeatherLocation
}

// NewWeatherService creates the weather service
func NewWeatherService(session *Session, source ForecastSource) *WeatherService {
	return &WeatherService{
		session: session,
		source:  source,
		cache:   make(map[string]wire.WeatherLocation),
	}
}

func (s *WeatherService) Name() string        { return "weather" }
func (s *WeatherService) CommandType() uint32 { return wire.TypeWeather }

// Initialize probes whether the device supports multiple weather locations
func (s *WeatherService) Initialize() {
	s.session.SendCommand("get weather locations", &wire.Command{Type: wire.TypeWeather, Subtype: wire.WeatherLocationsGet})
}

// HandleCommand processes weather frames
func (s *WeatherService) HandleCommand(cmd *wire.Command) {
	switch cmd.Subtype {
	case wire.WeatherLocationsGet:
		s.handleLocations(cmd)
	case wire.WeatherLocationAdd, wire.WeatherLocationRemove, wire.WeatherCurrentSet, wire.WeatherForecastSet:
		if status := cmd.StatusOr(wire.StatusSuccess); status != wire.StatusSuccess {
			logger.Warn(s.session.Name(), "weather subtype %d failed with status %d", cmd.Subtype, status)
		}
	default:
		logger.Warn(s.session.Name(), "unknown weather subtype %d, ignoring", cmd.Subtype)
	}
}

func (s *WeatherService) handleLocations(cmd *wire.Command) {
	// A status of 1 means the device only holds a single location
	if cmd.StatusOr(wire.StatusSuccess) == wire.StatusUnsupported {
		s.multiLocation = stateNo
		s.session.Prefs().PutBool(PrefFeatureMultiLocation, false)
		logger.Info(s.session.Name(), "device is single-location only")
		s.sendSingleLocationWeather()
		return
	}
	if status := cmd.StatusOr(wire.StatusSuccess); status != wire.StatusSuccess {
		logger.Warn(s.session.Name(), "weather location probe failed with status %d", status)
		return
	}

	var locs wire.WeatherLocations
	if err := wire.UnmarshalPayload(cmd.Payload, &locs); err != nil {
		logger.Warn(s.session.Name(), "bad weather location list: %v", err)
		return
	}

	s.multiLocation = stateYes
	s.session.Prefs().PutBool(PrefFeatureMultiLocation, true)
	s.cleanupLocations(locs.Locations)
}

// cleanupLocations runs the three-pass reconciliation: drop duplicate slots,
// drop slots with no backing forecast spec, and cache the survivors. Repeated
// runs on the same input converge to the same cached set.
func (s *WeatherService) cleanupLocations(remote []wire.WeatherLocation) {
	counts := make(map[string]int, len(remote))
	for _, loc := range remote {
		counts[loc.Code]++
	}

	specBacked := make(map[string]bool)
	if s.source != nil {
		for _, spec := range s.source.CurrentSpecs() {
			specBacked[LocationKey(spec.Location.Name)] = true
		}
	}

	newCache := make(map[string]wire.WeatherLocation)
	for _, loc := range remote {
		if counts[loc.Code] > 1 {
			logger.Debug(s.session.Name(), "removing duplicate weather location %s (%s)", loc.Code, loc.Name)
			s.sendRemoveLocation(loc)
			continue
		}
		if !specBacked[loc.Code] {
			logger.Debug(s.session.Name(), "removing weather location %s (%s) with no cached forecast", loc.Code, loc.Name)
			s.sendRemoveLocation(loc)
			continue
		}
		newCache[loc.Code] = loc
	}
	s.cache = newCache
	logger.Info(s.session.Name(), "weather locations reconciled: %d cached", len(s.cache))
}

func (s *WeatherService) sendAddLocation(loc wire.WeatherLocation) {
	cmd, err := wire.NewCommand(wire.TypeWeather, wire.WeatherLocationAdd, loc)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build weather location add: %v", err)
		return
	}
	s.session.SendCommand("add weather location", cmd)
}

func (s *WeatherService) sendRemoveLocation(loc wire.WeatherLocation) {
	cmd, err := wire.NewCommand(wire.TypeWeather, wire.WeatherLocationRemove, loc)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build weather location remove: %v", err)
		return
	}
	s.session.SendCommand("remove weather location", cmd)
}

// sendSingleLocationWeather is the single-location fallback: add the first
// spec's location and push its forecast
func (s *WeatherService) sendSingleLocationWeather() {
	if s.source == nil {
		return
	}
	specs := s.source.CurrentSpecs()
	if len(specs) == 0 {
		return
	}
	s.SendWeather(specs[0])
}

// SendWeather pushes one forecast spec to the device, adding its location
// slot first when it is not known to be present
func (s *WeatherService) SendWeather(spec wire.WeatherForecast) {
	loc := wire.WeatherLocation{
		Code: LocationKey(spec.Location.Name),
		Name: spec.Location.Name,
	}
	spec.Location = loc

	if s.multiLocation == stateYes {
		if _, cached := s.cache[loc.Code]; !cached {
			s.sendAddLocation(loc)
			s.cache[loc.Code] = loc
		}
	} else {
		// Single-location device, or probe unanswered: add-then-send
		s.sendAddLocation(loc)
	}

	current := spec
	current.Days = nil
	currentCmd, err := wire.NewCommand(wire.TypeWeather, wire.WeatherCurrentSet, current)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build current weather: %v", err)
		return
	}
	s.session.SendCommand("set current weather", currentCmd)

	forecastCmd, err := wire.NewCommand(wire.TypeWeather, wire.WeatherForecastSet, spec)
	if err != nil {
		logger.Error(s.session.Name(), "failed to build weather forecast: %v", err)
		return
	}
	s.session.SendCommand("set weather forecast", forecastCmd)
}

// CachedLocations returns the reconciled location cache
func (s *WeatherService) CachedLocations() []wire.WeatherLocation {
	out := make([]wire.WeatherLocation, 0, len(s.cache))
	for _, loc := range s.cache {
		out = append(out, loc)
	}
	return out
}

// OnSendConfiguration has no weather preferences to react to
func (s *WeatherService) OnSendConfiguration(key string, prefs *Prefs) bool {
	return false
}

// Dispose drops the location cache and capability state
func (s *WeatherService) Dispose() {
	s.multiLocation = stateUnknown
	s.cache = make(map[string]wire.WeatherLocation)
}
