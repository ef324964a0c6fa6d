// Package dashboard holds the view controller: the Splash/Loading/Loaded/Error state machine
// driven by searches and unit changes.
package dashboard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/service"
)

// Fetcher produces a report for a query. Implemented by service.DashboardService.
type Fetcher interface {
	Fetch(ctx context.Context, q service.Query) (models.Report, error)
}

// View is a snapshot of what the dashboard should render.
// Report is set only when Loaded; Previous only while Loading over earlier results.
type View struct {
	State     State            `json:"state"`
	Units     models.Units     `json:"units"`
	Imperial  bool             `json:"imperial"`
	Message   string           `json:"message,omitempty"`
	ErrorKind ErrorKind        `json:"errorKind,omitempty"`
	Location  *models.Location `json:"location,omitempty"`
	Report    *models.Report   `json:"report,omitempty"`
	Previous  *models.Report   `json:"previous,omitempty"`
}

// Controller owns the dashboard state. Every search or unit change starts a new operation
// that cancels the one in flight; results of superseded operations are dropped.
type Controller struct {
	fetcher Fetcher
	prefs   *Preferences
	logger  *zap.Logger
	timeout time.Duration

	mu       sync.Mutex
	state    State
	location *models.Location
	report   *models.Report
	errKind  ErrorKind
	errMsg   string
	gen      uint64
	cancel   context.CancelFunc
}

// NewController returns a controller in the Splash state. timeout bounds each operation (0 = none).
func NewController(f Fetcher, prefs *Preferences, logger *zap.Logger, timeout time.Duration) *Controller {
	if prefs == nil {
		prefs = NewPreferences(models.UnitsMetric)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		fetcher: f,
		prefs:   prefs,
		logger:  logger,
		timeout: timeout,
		state:   StateSplash,
	}
}

// Preferences returns the shared unit preference.
func (c *Controller) Preferences() *Preferences {
	return c.prefs
}

// Search fetches loc in the current units and returns the resulting view.
func (c *Controller) Search(ctx context.Context, loc models.Location) View {
	return c.run(ctx, "search", loc, c.prefs.Units())
}

// SetUnits stores the preference and re-fetches the last location with it.
// From Splash nothing is fetched. An unchanged preference only re-fetches from Error.
func (c *Controller) SetUnits(ctx context.Context, imperial bool) View {
	units := models.UnitsFromImperial(imperial)
	changed := c.prefs.SetUnits(units)

	c.mu.Lock()
	state := c.state
	var loc models.Location
	hasLoc := c.location != nil
	if hasLoc {
		loc = *c.location
	}
	c.mu.Unlock()

	if !hasLoc || (!changed && state != StateError) {
		return c.View()
	}
	return c.run(ctx, "units", loc, units)
}

// View returns the current state snapshot.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Last returns the most recent successfully loaded report, even while it is hidden
// behind Loading or Error.
func (c *Controller) Last() (models.Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.report == nil {
		return models.Report{}, false
	}
	return *c.report, true
}

func (c *Controller) run(ctx context.Context, op string, loc models.Location, units models.Units) View {
	logger := observability.LoggerFromContext(ctx, c.logger)
	gen, opCtx, cancel := c.begin(ctx, op, loc)
	defer cancel()

	logger.Debug("dashboard fetch started",
		zap.String("op", op),
		zap.String("location", loc.Label),
		zap.String("units", string(units)),
		zap.Uint64("generation", gen))

	report, err := c.fetcher.Fetch(opCtx, service.Query{Location: loc, Units: units, Fresh: true})
	return c.finish(gen, report, err, logger)
}

// begin moves to Loading under a new generation and cancels the previous operation.
// The operation outlives ctx's cancellation but keeps its values.
func (c *Controller) begin(ctx context.Context, op string, loc models.Location) (uint64, context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	var (
		opCtx  context.Context
		cancel context.CancelFunc
	)
	if c.timeout > 0 {
		opCtx, cancel = context.WithTimeout(base, c.timeout)
	} else {
		opCtx, cancel = context.WithCancel(base)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		observability.DashboardSupersededTotal.Inc()
		c.logger.Info("superseding in-flight fetch", zap.String("op", op), zap.Uint64("generation", c.gen))
	}
	c.gen++
	c.cancel = cancel
	c.location = &loc
	c.transitionLocked(StateLoading)
	return c.gen, opCtx, cancel
}

func (c *Controller) finish(gen uint64, report models.Report, err error, logger *zap.Logger) View {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		logger.Debug("discarding superseded result", zap.Uint64("generation", gen), zap.Uint64("current", c.gen))
		return c.viewLocked()
	}
	c.cancel = nil

	if err != nil {
		c.errKind, c.errMsg = Classify(err)
		logger.Warn("dashboard fetch failed",
			zap.String("error_kind", string(c.errKind)),
			zap.Error(err))
		c.transitionLocked(StateError)
		return c.viewLocked()
	}

	c.report = &report
	c.errKind, c.errMsg = "", ""
	c.transitionLocked(StateLoaded)
	return c.viewLocked()
}

func (c *Controller) transitionLocked(to State) {
	from := c.state
	c.state = to
	observability.DashboardTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	c.logger.Info("dashboard state transition",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Uint64("generation", c.gen))
}

func (c *Controller) viewLocked() View {
	units := c.prefs.Units()
	v := View{State: c.state, Units: units, Imperial: units.Imperial()}
	if c.location != nil {
		loc := *c.location
		v.Location = &loc
	}

	switch c.state {
	case StateSplash:
		v.Message = SplashMessage
	case StateLoading:
		v.Message = LoadingMessage
		if c.report != nil {
			prev := *c.report
			v.Previous = &prev
		}
	case StateLoaded:
		r := *c.report
		v.Report = &r
	case StateError:
		v.Message = c.errMsg
		v.ErrorKind = c.errKind
	}
	return v
}
