package units

// Severity bands for A-weighted sound pressure levels, matching the coloured
// steps on the dashboard gauge.
const (
	QuietMaxDB    = 65.0
	ElevatedMaxDB = 85.0

	// GaugeReferenceDB is the baseline the gauge delta is measured against.
	GaugeReferenceDB = 55.0
)

// Band is a coarse severity classification of a decibel level.
type Band string

const (
	BandQuiet    Band = "quiet"
	BandElevated Band = "elevated"
	BandLoud     Band = "loud"
)

// Classify places db into a severity band. Band edges are inclusive on the
// upper bound, so 65 is quiet and 85 is elevated.
func Classify(db float64) Band {
	switch {
	case db <= QuietMaxDB:
		return BandQuiet
	case db <= ElevatedMaxDB:
		return BandElevated
	default:
		return BandLoud
	}
}

// Colour returns the gauge colour for a band.
func (b Band) Colour() string {
	switch b {
	case BandQuiet:
		return "lightgreen"
	case BandElevated:
		return "lightyellow"
	default:
		return "lightcoral"
	}
}
