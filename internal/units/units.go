// Package units provides angle handling and the pressure and temperature
// units accepted for atmospheric readings.
package units

import "strings"

// Pressure unit constants. The survey engine works in mmHg.
const (
	MMHG = "mmhg"
	INHG = "inhg"
	HPA  = "hpa"
)

// Temperature unit constants. The survey engine works in °C.
const (
	Celsius    = "c"
	Fahrenheit = "f"
)

// ValidPressureUnits contains all valid pressure unit values
var ValidPressureUnits = []string{MMHG, INHG, HPA}

// ValidTemperatureUnits contains all valid temperature unit values
var ValidTemperatureUnits = []string{Celsius, Fahrenheit}

// IsValidPressure checks if the given unit is a known pressure unit
func IsValidPressure(unit string) bool {
	return contains(ValidPressureUnits, strings.ToLower(unit))
}

// IsValidTemperature checks if the given unit is a known temperature unit
func IsValidTemperature(unit string) bool {
	return contains(ValidTemperatureUnits, strings.ToLower(unit))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ToMMHg converts a pressure reading in the given unit to mmHg.
// Unknown units are returned unchanged.
func ToMMHg(value float64, unit string) float64 {
	switch strings.ToLower(unit) {
	case INHG:
		return value * 25.4
	case HPA:
		return value * 0.750061683
	default:
		return value
	}
}

// ToCelsius converts a temperature in the given unit to °C.
// Unknown units are returned unchanged.
func ToCelsius(value float64, unit string) float64 {
	switch strings.ToLower(unit) {
	case Fahrenheit:
		return (value - 32) * 5 / 9
	default:
		return value
	}
}
