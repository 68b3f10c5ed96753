package units

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		db   float64
		want Band
	}{
		{0, BandQuiet},
		{65, BandQuiet},
		{65.01, BandElevated},
		{85, BandElevated},
		{85.5, BandLoud},
		{120, BandLoud},
	}
	for _, tt := range tests {
		if got := Classify(tt.db); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.db, got, tt.want)
		}
	}
}

func TestBandColour(t *testing.T) {
	if BandQuiet.Colour() != "lightgreen" || BandElevated.Colour() != "lightyellow" || BandLoud.Colour() != "lightcoral" {
		t.Error("unexpected band colours")
	}
}
