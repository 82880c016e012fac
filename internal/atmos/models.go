package atmos

// Reference conditions at which an instrument set to 0 ppm needs no correction.
const (
	ReferencePressure    = 760.0 // mmHg
	ReferenceTemperature = 15.0  // °C

	kelvin = 273.15
)

// Model tags with built-in formulas.
const (
	ModelGTS300 = "topcon-gts-300"
	ModelDemo   = "demo"
)

// Linear returns the usual EDM formula ppm = k * (Pref/Tref - P/T) with
// temperatures in kelvin. It is exactly zero at the reference conditions.
func Linear(k, refPressure, refTemperature float64) Formula {
	ref := refPressure / (refTemperature + kelvin)
	return func(pressure, temperature float64) float64 {
		return k * (ref - pressure/(temperature+kelvin))
	}
}

func init() {
	// Topcon publishes Ka = 279.66 - 106.036 P / T for the GTS-300 series.
	gts := Linear(106.036, ReferencePressure, ReferenceTemperature)
	Register(ModelGTS300, gts)
	Register(ModelDemo, gts)
}
