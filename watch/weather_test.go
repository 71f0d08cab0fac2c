package watch

import (
	"strings"
	"testing"

	"github.com/user/xiaowear/wire"
)

func TestLocationKey(t *testing.T) {
	if got := LocationKey("A"); got != "accu:65" {
		t.Errorf("LocationKey(A) = %q, want accu:65", got)
	}
	// Overflow wraps at 32 bits before the absolute value is taken
	if got := LocationKey("zzzzzz"); got != "accu:785664" {
		t.Errorf("LocationKey(zzzzzz) = %q, want accu:785664", got)
	}
	if LocationKey("Berlin") != LocationKey("Berlin") {
		t.Error("key derivation is not deterministic")
	}
	if !strings.HasPrefix(LocationKey("São Paulo"), "accu:") {
		t.Errorf("key missing accu prefix: %q", LocationKey("São Paulo"))
	}
}

type fakeForecasts struct {
	specs []wire.WeatherForecast
}

func (f *fakeForecasts) CurrentSpecs() []wire.WeatherForecast { return f.specs }

func forecastFor(name string) wire.WeatherForecast {
	return wire.WeatherForecast{
		Location:    wire.WeatherLocation{Name: name},
		CurrentTemp: 21,
		Condition:   1,
		Days:        []wire.DailyForecast{{MinTemp: 14, MaxTemp: 24, Condition: 1}},
	}
}

func TestWeather_SingleLocationFallback(t *testing.T) {
	session, sender, _ := newTestSession(t)
	source := &fakeForecasts{specs: []wire.WeatherForecast{forecastFor("Berlin"), forecastFor("Tokyo")}}
	svc := NewWeatherService(session, source)

	svc.HandleCommand(deviceReply(t, wire.TypeWeather, wire.WeatherLocationsGet, wire.StatusUnsupported, nil))

	if session.Prefs().GetBool(PrefFeatureMultiLocation, true) {
		t.Error("multi-location flag not cleared")
	}
	// Only the first spec goes out on a single-location device
	adds := sender.byType(wire.TypeWeather, wire.WeatherLocationAdd)
	if len(adds) != 1 {
		t.Fatalf("got %d location adds, want 1", len(adds))
	}
	var loc wire.WeatherLocation
	if err := wire.UnmarshalPayload(adds[0].Payload, &loc); err != nil {
		t.Fatalf("bad location payload: %v", err)
	}
	if loc.Name != "Berlin" || loc.Code != LocationKey("Berlin") {
		t.Errorf("added location = %+v", loc)
	}
	if fcs := sender.byType(wire.TypeWeather, wire.WeatherForecastSet); len(fcs) != 1 {
		t.Errorf("got %d forecast pushes, want 1", len(fcs))
	}
}

func TestWeather_CleanupRemovesDuplicatesAndOrphans(t *testing.T) {
	session, sender, _ := newTestSession(t)
	source := &fakeForecasts{specs: []wire.WeatherForecast{forecastFor("Berlin")}}
	svc := NewWeatherService(session, source)

	berlin := wire.WeatherLocation{Code: LocationKey("Berlin"), Name: "Berlin"}
	orphan := wire.WeatherLocation{Code: "accu:111111", Name: "Nowhere"}
	remote := wire.WeatherLocations{Locations: []wire.WeatherLocation{berlin, berlin, orphan}}

	svc.HandleCommand(deviceReply(t, wire.TypeWeather, wire.WeatherLocationsGet, wire.StatusSuccess, remote))

	if !session.Prefs().GetBool(PrefFeatureMultiLocation, false) {
		t.Error("multi-location flag not set")
	}
	// Both duplicate slots and the orphan are removed
	if removes := sender.byType(wire.TypeWeather, wire.WeatherLocationRemove); len(removes) != 3 {
		t.Errorf("got %d removes, want 3", len(removes))
	}
	if cached := svc.CachedLocations(); len(cached) != 0 {
		t.Errorf("cache = %v, want empty after removing every slot", cached)
	}

	// A clean list converges with no further removals
	sender.reset()
	svc.HandleCommand(deviceReply(t, wire.TypeWeather, wire.WeatherLocationsGet, wire.StatusSuccess,
		wire.WeatherLocations{Locations: []wire.WeatherLocation{berlin}}))
	if removes := sender.byType(wire.TypeWeather, wire.WeatherLocationRemove); len(removes) != 0 {
		t.Errorf("clean list produced %d removes", len(removes))
	}
	cached := svc.CachedLocations()
	if len(cached) != 1 || cached[0].Code != berlin.Code {
		t.Errorf("cache = %v, want just Berlin", cached)
	}
}

func TestWeather_SendSkipsKnownLocationSlot(t *testing.T) {
	session, sender, _ := newTestSession(t)
	source := &fakeForecasts{specs: []wire.WeatherForecast{forecastFor("Berlin")}}
	svc := NewWeatherService(session, source)

	berlin := wire.WeatherLocation{Code: LocationKey("Berlin"), Name: "Berlin"}
	svc.HandleCommand(deviceReply(t, wire.TypeWeather, wire.WeatherLocationsGet, wire.StatusSuccess,
		wire.WeatherLocations{Locations: []wire.WeatherLocation{berlin}}))
	sender.reset()

	svc.SendWeather(forecastFor("Berlin"))
	if adds := sender.byType(wire.TypeWeather, wire.WeatherLocationAdd); len(adds) != 0 {
		t.Errorf("cached location re-added %d times", len(adds))
	}
	if fcs := sender.byType(wire.TypeWeather, wire.WeatherForecastSet); len(fcs) != 1 {
		t.Errorf("got %d forecast pushes, want 1", len(fcs))
	}

	// A new location needs its slot added first
	svc.SendWeather(forecastFor("Tokyo"))
	if adds := sender.byType(wire.TypeWeather, wire.WeatherLocationAdd); len(adds) != 1 {
		t.Errorf("got %d adds for the new location, want 1", len(adds))
	}
}

func TestWeather_CurrentPushOmitsDays(t *testing.T) {
	session, sender, _ := newTestSession(t)
	svc := NewWeatherService(session, nil)

	svc.SendWeather(forecastFor("Berlin"))

	currents := sender.byType(wire.TypeWeather, wire.WeatherCurrentSet)
	if len(currents) != 1 {
		t.Fatalf("got %d current pushes, want 1", len(currents))
	}
	var current wire.WeatherForecast
	if err := wire.UnmarshalPayload(currents[0].Payload, &current); err != nil {
		t.Fatalf("bad current payload: %v", err)
	}
	if len(current.Days) != 0 {
		t.Errorf("current conditions carried %d forecast days", len(current.Days))
	}
	if current.CurrentTemp != 21 {
		t.Errorf("current temp = %d, want 21", current.CurrentTemp)
	}
}
