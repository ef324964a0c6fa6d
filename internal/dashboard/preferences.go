package dashboard

import (
	"sync"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// Preferences holds the unit preference shared by the controller and stateless readers.
type Preferences struct {
	mu    sync.RWMutex
	units models.Units
}

// NewPreferences returns Preferences starting at units (metric when empty or unknown).
func NewPreferences(units models.Units) *Preferences {
	return &Preferences{units: models.UnitsFromImperial(units.Imperial())}
}

func (p *Preferences) Units() models.Units {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.units
}

// SetUnits stores u and reports whether the value changed.
func (p *Preferences) SetUnits(u models.Units) bool {
	u = models.UnitsFromImperial(u.Imperial())
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := p.units != u
	p.units = u
	return changed
}
