// Package atmos applies the atmospheric correction to raw EDM slope
// distances. Each instrument family registers its own formula.
package atmos

import (
	"sort"
	"sync"

	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

// Accepted ranges for field readings.
const (
	MinPressure    = 400.0 // mmHg
	MaxPressure    = 900.0 // mmHg
	MinTemperature = -40.0 // °C
	MaxTemperature = 60.0  // °C
)

// Formula returns the correction in parts per million for the given
// pressure (mmHg) and temperature (°C).
type Formula func(pressure, temperature float64) float64

var (
	mu       sync.RWMutex
	formulas = map[string]Formula{}
)

// Register installs the formula for an instrument model. Registering the
// same model twice replaces the earlier formula.
func Register(model string, f Formula) {
	mu.Lock()
	defer mu.Unlock()
	formulas[model] = f
}

// Models lists the registered model tags in sorted order.
func Models() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(formulas))
	for m := range formulas {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ValidateConditions checks pressure and temperature against the accepted ranges.
func ValidateConditions(pressure, temperature float64) error {
	if pressure < MinPressure || pressure > MaxPressure {
		return surveyerr.NewValidation("pressure %.1f mmHg is out of range (%.0f to %.0f)", pressure, MinPressure, MaxPressure)
	}
	if temperature < MinTemperature || temperature > MaxTemperature {
		return surveyerr.NewValidation("temperature %.1f °C is out of range (%.0f to %.0f)", temperature, MinTemperature, MaxTemperature)
	}
	return nil
}

// PPM returns the correction in parts per million for the model.
func PPM(pressure, temperature float64, model string) (float64, error) {
	mu.RLock()
	f, ok := formulas[model]
	mu.RUnlock()
	if !ok {
		return 0, surveyerr.NewValidation("no atmospheric correction registered for model %q", model)
	}
	if err := ValidateConditions(pressure, temperature); err != nil {
		return 0, err
	}
	return f(pressure, temperature), nil
}

// Correct scales a raw slope distance by the model's atmospheric correction.
func Correct(raw, pressure, temperature float64, model string) (float64, error) {
	ppm, err := PPM(pressure, temperature, model)
	if err != nil {
		return 0, err
	}
	return raw * (1 + ppm*1e-6), nil
}
