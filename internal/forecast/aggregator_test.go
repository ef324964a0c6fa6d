package forecast

import (
	"reflect"
	"testing"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

func point(ts time.Time, temp float64, desc string) models.ForecastPoint {
	return models.ForecastPoint{
		Dt:       ts.Unix(),
		DateText: ts.UTC().Format("2006-01-02 15:04:05"),
		Temp:     temp,
		Humidity: 50,
		Weather:  []models.Condition{{Description: desc, Icon: "01d"}},
	}
}

func at(date string, hour int) time.Time {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		panic(err)
	}
	return d.Add(time.Duration(hour) * time.Hour)
}

// twoDayResponse builds samples for 2024-01-01 at 00,06,12,18 and 2024-01-02 at 00,06,12,18.
func twoDayResponse() *models.ForecastResponse {
	return &models.ForecastResponse{
		City: "Testville",
		List: []models.ForecastPoint{
			point(at("2024-01-01", 0), 1, "light rain"),
			point(at("2024-01-01", 6), 2, "broken clouds"),
			point(at("2024-01-01", 12), 3, "clear sky"),
			point(at("2024-01-01", 18), 4, "few clouds"),
			point(at("2024-01-02", 0), 5, "overcast clouds"),
			point(at("2024-01-02", 6), 6, "few clouds"),
			point(at("2024-01-02", 12), 7, "clear sky"),
			point(at("2024-01-02", 18), 8, "light rain"),
		},
	}
}

func TestToday_FiltersByDateAndNow(t *testing.T) {
	resp := twoDayResponse()
	now := at("2024-01-01", 10).Unix()

	got := Today(resp, "2024-01-01", now)

	if len(got) != 2 {
		t.Fatalf("Today() returned %d entries, want 2: %+v", len(got), got)
	}
	if got[0].Time != "12:00" || got[1].Time != "18:00" {
		t.Errorf("Today() times = %q, %q, want 12:00, 18:00", got[0].Time, got[1].Time)
	}
	if got[0].Temperature != 3 || got[1].Temperature != 4 {
		t.Errorf("Today() temps = %v, %v, want 3, 4", got[0].Temperature, got[1].Temperature)
	}
	for _, e := range got {
		if e.Timestamp < now {
			t.Errorf("entry %s has timestamp %d before now %d", e.Time, e.Timestamp, now)
		}
	}
}

func TestToday_IncludesSampleAtExactlyNow(t *testing.T) {
	resp := twoDayResponse()
	now := at("2024-01-01", 12).Unix()

	got := Today(resp, "2024-01-01", now)
	if len(got) != 2 || got[0].Time != "12:00" {
		t.Errorf("Today() = %+v, want first entry at 12:00", got)
	}
}

func TestToday_NoMatchingSamples(t *testing.T) {
	resp := twoDayResponse()
	tests := []struct {
		name string
		date string
		now  int64
	}{
		{"all past", "2024-01-01", at("2024-01-01", 23).Unix()},
		{"date absent", "2023-12-31", at("2023-12-31", 0).Unix()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Today(resp, tt.date, tt.now)
			if got == nil {
				t.Fatal("Today() = nil, want empty slice")
			}
			if len(got) != 0 {
				t.Errorf("Today() = %+v, want empty", got)
			}
		})
	}
}

func TestToday_DerivesDateWhenTextMissing(t *testing.T) {
	resp := &models.ForecastResponse{List: []models.ForecastPoint{
		{Dt: at("2024-01-01", 15).Unix(), Temp: 9},
	}}
	got := Today(resp, "2024-01-01", at("2024-01-01", 10).Unix())
	if len(got) != 1 || got[0].Time != "15:00" {
		t.Errorf("Today() = %+v, want single 15:00 entry", got)
	}
}

func TestWeek_OneEntryPerFutureDay(t *testing.T) {
	got := Week(twoDayResponse(), "2024-01-01", DefaultDescriptions)

	if len(got) != 1 {
		t.Fatalf("Week() returned %d entries, want 1: %+v", len(got), got)
	}
	if got[0].Date != "2024-01-02" {
		t.Errorf("Date = %q, want 2024-01-02", got[0].Date)
	}
	if got[0].Description != "clear sky" || got[0].Temperature != 7 {
		t.Errorf("representative = %q/%v, want clear sky/7", got[0].Description, got[0].Temperature)
	}
	if got[0].Samples != 4 {
		t.Errorf("Samples = %d, want 4", got[0].Samples)
	}
	if got[0].TempAvg != 6.5 || got[0].TempMin != 5 || got[0].TempMax != 8 {
		t.Errorf("aggregates = avg %v min %v max %v, want 6.5/5/8", got[0].TempAvg, got[0].TempMin, got[0].TempMax)
	}
	if got[0].IconName != "clear-sky" {
		t.Errorf("IconName = %q, want clear-sky", got[0].IconName)
	}
}

func TestWeek_PriorityBeatsPosition(t *testing.T) {
	resp := &models.ForecastResponse{List: []models.ForecastPoint{
		point(at("2024-01-02", 0), 1, "few clouds"),
		point(at("2024-01-02", 3), 2, "light rain"),
		point(at("2024-01-02", 21), 3, "clear sky"),
	}}
	prefs := []string{"clear sky", "few clouds"}

	got := Week(resp, "2024-01-01", prefs)
	if len(got) != 1 {
		t.Fatalf("Week() returned %d entries, want 1", len(got))
	}
	if got[0].Description != "clear sky" || got[0].Temperature != 3 {
		t.Errorf("representative = %q/%v, want the later clear sky sample", got[0].Description, got[0].Temperature)
	}
}

func TestWeek_FirstMatchingSampleWithinPriority(t *testing.T) {
	resp := &models.ForecastResponse{List: []models.ForecastPoint{
		point(at("2024-01-02", 0), 1, "light rain"),
		point(at("2024-01-02", 9), 2, "Few Clouds "),
		point(at("2024-01-02", 15), 3, "few clouds"),
	}}
	got := Week(resp, "2024-01-01", []string{"clear sky", "few clouds"})
	if got[0].Temperature != 2 {
		t.Errorf("Temperature = %v, want 2 (earliest few clouds, case-insensitive)", got[0].Temperature)
	}
}

func TestWeek_FallbackToDefaultIndex(t *testing.T) {
	resp := &models.ForecastResponse{List: []models.ForecastPoint{
		point(at("2024-01-02", 0), 1, "volcanic ash"),
		point(at("2024-01-02", 12), 2, "volcanic ash"),
	}}
	got := Week(resp, "2024-01-01", []string{"clear sky"})
	if got[0].Temperature != 1 {
		t.Errorf("Temperature = %v, want first sample", got[0].Temperature)
	}
	if got[0].IconName != "unknown" {
		t.Errorf("IconName = %q, want unknown", got[0].IconName)
	}
}

func TestWeek_SingleSampleDay(t *testing.T) {
	resp := &models.ForecastResponse{List: []models.ForecastPoint{
		point(at("2024-01-03", 0), 4, "snow"),
	}}
	got := Week(resp, "2024-01-01", DefaultDescriptions)
	if len(got) != 1 || got[0].Date != "2024-01-03" || got[0].Samples != 1 {
		t.Errorf("Week() = %+v, want one 2024-01-03 entry", got)
	}
}

func TestWeek_AscendingDatesAndCap(t *testing.T) {
	var list []models.ForecastPoint
	for _, d := range []string{"2024-01-04", "2024-01-02", "2024-01-03", "2024-01-05"} {
		list = append(list, point(at(d, 12), 1, "clear sky"))
	}
	resp := &models.ForecastResponse{List: list}

	got := Week(resp, "2024-01-01", DefaultDescriptions)
	var dates []string
	for _, e := range got {
		dates = append(dates, e.Date)
	}
	want := []string{"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"}
	if !reflect.DeepEqual(dates, want) {
		t.Errorf("dates = %v, want %v", dates, want)
	}

	capped := WeekN(resp, "2024-01-01", DefaultDescriptions, 2)
	if len(capped) != 2 || capped[1].Date != "2024-01-03" {
		t.Errorf("WeekN(2) = %+v, want first two days", capped)
	}
}

func TestWeek_SkipsPastDates(t *testing.T) {
	resp := &models.ForecastResponse{List: []models.ForecastPoint{
		point(at("2023-12-31", 21), 1, "clear sky"),
		point(at("2024-01-01", 12), 2, "clear sky"),
		point(at("2024-01-02", 12), 3, "clear sky"),
	}}
	got := Week(resp, "2024-01-01", DefaultDescriptions)
	if len(got) != 1 || got[0].Date != "2024-01-02" {
		t.Errorf("Week() = %+v, want only 2024-01-02", got)
	}
}

func TestTodayInWeekIn_LocalZone(t *testing.T) {
	// UTC-5: the 00:00 UTC sample of Jan 2 still belongs to Jan 1 and the first sample falls on Dec 31.
	ny := time.FixedZone("EST", -5*60*60)
	resp := twoDayResponse()
	resp.List = append(resp.List, point(at("2024-01-03", 3), 9, "snow"))
	now := at("2024-01-01", 20).Unix()

	today := TodayIn(resp, ny, "2024-01-01", now)
	var labels []string
	for _, e := range today {
		labels = append(labels, e.Time)
	}
	if want := []string{"19:00"}; !reflect.DeepEqual(labels, want) {
		t.Errorf("TodayIn() times = %v, want %v", labels, want)
	}

	week := WeekIn(resp, ny, "2024-01-01", DefaultDescriptions, 0)
	var dates []string
	for _, e := range week {
		dates = append(dates, e.Date)
	}
	if want := []string{"2024-01-02"}; !reflect.DeepEqual(dates, want) {
		t.Fatalf("WeekIn() dates = %v, want %v", dates, want)
	}
	if week[0].Samples != 4 {
		t.Errorf("Samples = %d, want 4 (06:00, 12:00, 18:00 UTC on Jan 2 and 03:00 UTC on Jan 3)", week[0].Samples)
	}

	groups := GroupByDateIn(resp.List, ny)
	if n := len(groups["2024-01-01"]); n != 4 {
		t.Errorf("Jan 1 local samples = %d, want 4", n)
	}
	if n := len(groups["2023-12-31"]); n != 1 {
		t.Errorf("Dec 31 local samples = %d, want 1", n)
	}
}

func TestExtractions_EmptyResponse(t *testing.T) {
	for name, resp := range map[string]*models.ForecastResponse{
		"nil":   nil,
		"empty": {},
	} {
		t.Run(name, func(t *testing.T) {
			if got := Today(resp, "2024-01-01", 0); got == nil || len(got) != 0 {
				t.Errorf("Today() = %#v, want empty slice", got)
			}
			if got := Week(resp, "2024-01-01", DefaultDescriptions); got == nil || len(got) != 0 {
				t.Errorf("Week() = %#v, want empty slice", got)
			}
		})
	}
}

func TestExtractions_IdempotentAndNonMutating(t *testing.T) {
	resp := twoDayResponse()
	before := twoDayResponse()
	now := at("2024-01-01", 10).Unix()

	t1 := Today(resp, "2024-01-01", now)
	t2 := Today(resp, "2024-01-01", now)
	if !reflect.DeepEqual(t1, t2) {
		t.Errorf("Today() not idempotent: %+v vs %+v", t1, t2)
	}
	w1 := Week(resp, "2024-01-01", DefaultDescriptions)
	w2 := Week(resp, "2024-01-01", DefaultDescriptions)
	if !reflect.DeepEqual(w1, w2) {
		t.Errorf("Week() not idempotent: %+v vs %+v", w1, w2)
	}
	if !reflect.DeepEqual(resp, before) {
		t.Error("extraction mutated its input")
	}
}

func TestSelectRepresentative(t *testing.T) {
	samples := []models.ForecastPoint{
		point(at("2024-01-02", 0), 1, "mist"),
		point(at("2024-01-02", 3), 2, "rain"),
		point(at("2024-01-02", 6), 3, "mist"),
	}
	tests := []struct {
		name    string
		samples []models.ForecastPoint
		prefs   []string
		want    int
	}{
		{"empty samples", nil, DefaultDescriptions, -1},
		{"no prefs", samples, nil, DefaultSampleIndex},
		{"blank prefs skipped", samples, []string{"", "rain"}, 1},
		{"highest priority wins", samples, []string{"rain", "mist"}, 1},
		{"earliest of priority", samples, []string{"mist"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectRepresentative(tt.samples, tt.prefs); got != tt.want {
				t.Errorf("SelectRepresentative() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCurrentDate(t *testing.T) {
	ts := time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC)
	if got := CurrentDate(ts, nil); got != "2024-01-01" {
		t.Errorf("CurrentDate(UTC) = %q", got)
	}
	tokyo := time.FixedZone("JST", 9*3600)
	if got := CurrentDate(ts, tokyo); got != "2024-01-02" {
		t.Errorf("CurrentDate(JST) = %q, want 2024-01-02", got)
	}
}

func TestIconFor(t *testing.T) {
	tests := map[string]string{
		"clear sky":    "clear-sky",
		" Light Rain ": "rain",
		"":             "unknown",
		"volcanic ash": "unknown",
	}
	for in, want := range tests {
		if got := IconFor(in); got != want {
			t.Errorf("IconFor(%q) = %q, want %q", in, got, want)
		}
	}
}
