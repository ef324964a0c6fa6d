//go:build integration

package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/service"
	"github.com/kjstillabower/weather-dashboard/internal/testhelpers"
)

func TestDashboardService_Live(t *testing.T) {
	cfg := testhelpers.GetIntegrationConfig(t)
	c := testhelpers.SetupIntegrationCache(t, cfg)
	svc := service.NewDashboardService(testhelpers.SetupIntegrationClient(t, cfg), c, service.Options{
		TTL:             time.Minute,
		CoalesceTimeout: 10 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, units := range []models.Units{models.UnitsMetric, models.UnitsImperial} {
		report, err := svc.Fetch(ctx, service.Query{Location: testhelpers.London, Units: units, Fresh: true})
		if err != nil {
			t.Fatalf("Fetch(%s) error = %v", units, err)
		}
		if report.City != testhelpers.London.Label || report.Units != units {
			t.Errorf("report city=%q units=%q", report.City, report.Units)
		}
		if len(report.Week) == 0 || len(report.Week) > service.DefaultMaxDays {
			t.Errorf("week entries = %d, want 1..%d", len(report.Week), service.DefaultMaxDays)
		}
		if len(report.Current.Raw) == 0 {
			t.Error("current weather raw body missing")
		}
		if _, ok, err := c.Get(ctx, cache.Key(testhelpers.London, units)); err != nil || !ok {
			t.Errorf("bundle not cached for %s: ok=%v err=%v", units, ok, err)
		}
	}
}

func TestValidateAPIKey_Live(t *testing.T) {
	cfg := testhelpers.GetIntegrationConfig(t)
	c := testhelpers.SetupIntegrationClient(t, cfg)
	if err := c.ValidateAPIKey(context.Background()); err != nil {
		t.Errorf("ValidateAPIKey() error = %v", err)
	}
}
