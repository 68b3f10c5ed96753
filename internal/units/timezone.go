package units

import (
	"fmt"
	"time"
)

// LocalZone is the configuration value that selects the host's local zone.
const LocalZone = "Local"

// IsTimezoneValid checks if the given timezone is valid by attempting to load it from the tz database.
// The special value "Local" is always accepted.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	if tz == LocalZone {
		return true
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// LoadTimezone resolves a configured zone name. Empty and "Local" both map to
// time.Local, which is what the reading date fields are derived in unless a
// site overrides it.
func LoadTimezone(tz string) (*time.Location, error) {
	if tz == "" || tz == LocalZone {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	return loc, nil
}

// ConvertUnix converts epoch seconds to wall-clock time in the target zone.
func ConvertUnix(sec int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(sec, 0).In(loc)
}
