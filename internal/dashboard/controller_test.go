package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/service"
	"github.com/kjstillabower/weather-dashboard/internal/testhelpers"
)

var (
	fixedNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	paris    = models.Location{Label: "Paris, FR", Value: "48.8566 2.3522", Latitude: 48.8566, Longitude: 2.3522}
	tokyo    = models.Location{Label: "Tokyo, JP", Value: "35.6762 139.6503", Latitude: 35.6762, Longitude: 139.6503}
)

type fetchFunc func(ctx context.Context, q service.Query) (models.Report, error)

func (f fetchFunc) Fetch(ctx context.Context, q service.Query) (models.Report, error) {
	return f(ctx, q)
}

func newServiceController(fake *testhelpers.FakeWeatherClient) *Controller {
	svc := service.NewDashboardService(fake, nil, service.Options{Now: func() time.Time { return fixedNow }})
	return NewController(svc, NewPreferences(models.UnitsMetric), nil, 0)
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", c.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestController_InitialSplash(t *testing.T) {
	c := NewController(fetchFunc(nil), nil, nil, 0)

	v := c.View()
	if v.State != StateSplash || v.Message != SplashMessage {
		t.Errorf("View() = %+v, want splash", v)
	}
	if v.Report != nil || v.Location != nil || v.Units != models.UnitsMetric || v.Imperial {
		t.Errorf("splash view carries data: %+v", v)
	}
	if _, ok := c.Last(); ok {
		t.Error("Last() ok = true before any search")
	}
}

func TestController_Search_Loaded(t *testing.T) {
	fake := &testhelpers.FakeWeatherClient{Now: fixedNow}
	c := newServiceController(fake)

	v := c.Search(context.Background(), paris)
	if v.State != StateLoaded {
		t.Fatalf("Search() state = %v, want loaded", v.State)
	}
	if v.Report == nil || v.Report.City != "Paris, FR" || v.Report.Current.Temperature != 10 {
		t.Errorf("Search() report = %+v", v.Report)
	}
	if v.Message != "" || v.ErrorKind != "" || v.Previous != nil {
		t.Errorf("loaded view carries extra fields: %+v", v)
	}
	if v.Location == nil || *v.Location != paris {
		t.Errorf("Search() location = %v, want %v", v.Location, paris)
	}
	if fake.CallCount() != 2 {
		t.Errorf("upstream calls = %d, want 2", fake.CallCount())
	}
}

// TestController_UnitToggle_TwoFreshRequests verifies that a toggle re-issues both calls with
// the new units, hides prior results behind Loading and then replaces them.
func TestController_UnitToggle_TwoFreshRequests(t *testing.T) {
	gate := make(chan struct{})
	fake := &testhelpers.FakeWeatherClient{Now: fixedNow}
	c := newServiceController(fake)
	if v := c.Search(context.Background(), paris); v.State != StateLoaded {
		t.Fatalf("Search() state = %v", v.State)
	}
	fake.Reset()
	fake.ForecastFunc = func(ctx context.Context, _ models.Location, u models.Units) (models.ForecastResponse, error) {
		<-gate
		return testhelpers.SampleForecast(fixedNow, u), nil
	}

	done := make(chan View)
	go func() { done <- c.SetUnits(context.Background(), true) }()
	waitForState(t, c, StateLoading)

	loading := c.View()
	if loading.Report != nil {
		t.Error("loading view renders a report")
	}
	if loading.Previous == nil || loading.Previous.Current.Temperature != 10 {
		t.Errorf("loading view Previous = %+v, want metric report", loading.Previous)
	}
	if !loading.Imperial || loading.Message != LoadingMessage {
		t.Errorf("loading view = %+v", loading)
	}

	close(gate)
	v := <-done
	if v.State != StateLoaded || v.Report.Units != models.UnitsImperial || v.Report.Current.Temperature != 50 {
		t.Fatalf("SetUnits() = %+v, want imperial report", v)
	}
	if v.Previous != nil {
		t.Error("loaded view still carries Previous")
	}

	calls := fake.Calls()
	if len(calls) != 2 {
		t.Fatalf("upstream calls after toggle = %d, want exactly 2", len(calls))
	}
	endpoints := map[string]bool{}
	for _, call := range calls {
		endpoints[call.Endpoint] = true
		if call.Units != models.UnitsImperial || call.Location != paris {
			t.Errorf("call = %+v, want imperial Paris", call)
		}
	}
	if !endpoints["weather"] || !endpoints["forecast"] {
		t.Errorf("endpoints = %v, want weather and forecast", endpoints)
	}
}

// TestController_SecondCallFails verifies that a failing forecast call ends in Error with the
// previous report kept but not rendered.
func TestController_SecondCallFails(t *testing.T) {
	fake := &testhelpers.FakeWeatherClient{Now: fixedNow}
	c := newServiceController(fake)
	c.Search(context.Background(), paris)
	prior, _ := c.Last()

	fake.ForecastFunc = func(context.Context, models.Location, models.Units) (models.ForecastResponse, error) {
		return models.ForecastResponse{}, client.ErrUpstreamFailure
	}
	v := c.Search(context.Background(), tokyo)

	if v.State != StateError || c.State() != StateError {
		t.Fatalf("state = %v, want error", v.State)
	}
	if v.Report != nil || v.Previous != nil {
		t.Error("error view renders report data")
	}
	if v.ErrorKind != ErrorUnavailable || v.Message == "" {
		t.Errorf("error view = %+v", v)
	}
	last, ok := c.Last()
	if !ok || last.City != prior.City || len(last.Week) != len(prior.Week) {
		t.Errorf("Last() = %+v, want prior report untouched", last)
	}
}

func TestController_SetUnitsFromSplash(t *testing.T) {
	fake := &testhelpers.FakeWeatherClient{Now: fixedNow}
	c := newServiceController(fake)

	v := c.SetUnits(context.Background(), true)
	if v.State != StateSplash || !v.Imperial {
		t.Errorf("SetUnits() from splash = %+v, want splash with imperial", v)
	}
	if fake.CallCount() != 0 {
		t.Errorf("upstream calls = %d, want 0 from splash", fake.CallCount())
	}

	c.Search(context.Background(), paris)
	for _, call := range fake.Calls() {
		if call.Units != models.UnitsImperial {
			t.Errorf("search after toggle used %q, want imperial", call.Units)
		}
	}
}

func TestController_SetUnitsUnchanged(t *testing.T) {
	fake := &testhelpers.FakeWeatherClient{Now: fixedNow}
	c := newServiceController(fake)
	c.Search(context.Background(), paris)
	fake.Reset()

	if v := c.SetUnits(context.Background(), false); v.State != StateLoaded {
		t.Errorf("state = %v, want loaded", v.State)
	}
	if fake.CallCount() != 0 {
		t.Errorf("upstream calls = %d, want 0 for unchanged units", fake.CallCount())
	}
}

func TestController_RecoverFromError(t *testing.T) {
	fail := true
	fake := &testhelpers.FakeWeatherClient{
		Now: fixedNow,
		CurrentFunc: func(_ context.Context, _ models.Location, u models.Units) (models.CurrentWeather, error) {
			if fail {
				return models.CurrentWeather{}, client.ErrRateLimited
			}
			return testhelpers.SampleCurrent(u), nil
		},
	}
	c := newServiceController(fake)

	if v := c.Search(context.Background(), paris); v.State != StateError || v.ErrorKind != ErrorRateLimited {
		t.Fatalf("Search() = %+v, want rate_limited error", v)
	}

	fail = false
	t.Run("units change re-fetches last location", func(t *testing.T) {
		v := c.SetUnits(context.Background(), true)
		if v.State != StateLoaded || v.Report.City != "Paris, FR" || !v.Report.Units.Imperial() {
			t.Errorf("SetUnits() from error = %+v", v)
		}
	})

	fail = true
	c.Search(context.Background(), paris)
	fail = false
	t.Run("fresh search", func(t *testing.T) {
		if v := c.Search(context.Background(), tokyo); v.State != StateLoaded || v.Report.City != "Tokyo, JP" {
			t.Errorf("Search() from error = %+v", v)
		}
	})
}

// TestController_SupersededSearchDiscarded verifies that a newer search cancels the one in
// flight and the older result never reaches the state.
func TestController_SupersededSearchDiscarded(t *testing.T) {
	firstCanceled := make(chan struct{})
	fetcher := fetchFunc(func(ctx context.Context, q service.Query) (models.Report, error) {
		if q.Location == paris {
			<-ctx.Done()
			close(firstCanceled)
			// Report as if the result arrived anyway.
			return models.Report{City: "stale Paris"}, nil
		}
		return models.Report{City: q.Location.Label, Units: q.Units}, nil
	})
	c := NewController(fetcher, nil, nil, 0)

	firstDone := make(chan View)
	go func() { firstDone <- c.Search(context.Background(), paris) }()
	waitForState(t, c, StateLoading)

	v := c.Search(context.Background(), tokyo)
	if v.State != StateLoaded || v.Report.City != "Tokyo, JP" {
		t.Fatalf("second Search() = %+v", v)
	}

	select {
	case <-firstCanceled:
	case <-time.After(time.Second):
		t.Fatal("superseded fetch was not cancelled")
	}
	<-firstDone

	last, _ := c.Last()
	if last.City != "Tokyo, JP" || c.View().Report.City != "Tokyo, JP" {
		t.Errorf("superseded result leaked into state: %+v", last)
	}
	if c.View().Location.Label != "Tokyo, JP" {
		t.Errorf("location = %v, want Tokyo", c.View().Location)
	}
}

func TestController_OperationOutlivesCallerContext(t *testing.T) {
	fetcher := fetchFunc(func(ctx context.Context, q service.Query) (models.Report, error) {
		if err := ctx.Err(); err != nil {
			return models.Report{}, err
		}
		if !q.Fresh {
			t.Error("controller fetch should bypass the cache")
		}
		return models.Report{City: q.Location.Label}, nil
	})
	c := NewController(fetcher, nil, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if v := c.Search(ctx, paris); v.State != StateLoaded {
		t.Errorf("Search() with canceled caller = %+v, want loaded", v)
	}
}

func TestController_Timeout(t *testing.T) {
	fetcher := fetchFunc(func(ctx context.Context, q service.Query) (models.Report, error) {
		<-ctx.Done()
		return models.Report{}, ctx.Err()
	})
	c := NewController(fetcher, nil, nil, 10*time.Millisecond)

	v := c.Search(context.Background(), paris)
	if v.State != StateError || v.ErrorKind != ErrorTimeout {
		t.Errorf("Search() = %+v, want timeout error", v)
	}
}

func TestController_LogsTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	fetcher := fetchFunc(func(ctx context.Context, q service.Query) (models.Report, error) {
		return models.Report{City: q.Location.Label}, nil
	})
	c := NewController(fetcher, nil, zap.New(core), 0)
	c.Search(context.Background(), paris)

	entries := logs.FilterMessage("dashboard state transition").All()
	if len(entries) != 2 {
		t.Fatalf("transition logs = %d, want 2", len(entries))
	}
	want := [][2]string{{"splash", "loading"}, {"loading", "loaded"}}
	for i, e := range entries {
		ctx := e.ContextMap()
		if ctx["from"] != want[i][0] || ctx["to"] != want[i][1] {
			t.Errorf("transition %d = %v -> %v, want %v", i, ctx["from"], ctx["to"], want[i])
		}
	}
}

func TestView_JSON(t *testing.T) {
	c := NewController(fetchFunc(nil), NewPreferences(models.UnitsImperial), nil, 0)
	raw, err := json.Marshal(c.View())
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if got["state"] != "splash" || got["units"] != "imperial" || got["imperial"] != true {
		t.Errorf("View JSON = %s", raw)
	}
	if _, ok := got["report"]; ok {
		t.Errorf("splash JSON includes report: %s", raw)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{client.ErrNetwork, ErrorNetwork},
		{context.DeadlineExceeded, ErrorTimeout},
		{client.ErrInvalidAPIKey, ErrorAuth},
		{client.ErrRateLimited, ErrorRateLimited},
		{client.ErrLocationNotFound, ErrorNotFound},
		{client.ErrMalformedResponse, ErrorMalformed},
		{client.ErrUpstreamFailure, ErrorUnavailable},
		{client.ErrCircuitOpen, ErrorUnavailable},
		{errors.New("boom"), ErrorUnknown},
	}
	for _, tt := range tests {
		kind, msg := Classify(tt.err)
		if kind != tt.want || msg == "" {
			t.Errorf("Classify(%v) = %q, %q; want %q", tt.err, kind, msg, tt.want)
		}
	}
	if _, msg := Classify(errors.New("boom")); msg != GenericErrorMessage {
		t.Errorf("unknown message = %q, want %q", msg, GenericErrorMessage)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{StateSplash: "splash", StateLoading: "loading", StateLoaded: "loaded", StateError: "error", State(9): "state(9)"} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestPreferences(t *testing.T) {
	p := NewPreferences("kelvin")
	if p.Units() != models.UnitsMetric {
		t.Errorf("unknown units should default to metric, got %q", p.Units())
	}
	if !p.SetUnits(models.UnitsImperial) {
		t.Error("SetUnits(imperial) changed = false")
	}
	if p.SetUnits(models.UnitsImperial) {
		t.Error("SetUnits(imperial) twice changed = true")
	}
}
