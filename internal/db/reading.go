package db

import (
	"fmt"
	"time"
)

// Reading is one sensor observation as stored in sensor_readings. Timestamp
// is the identity key; the date fields are denormalised from it in the
// site's local zone when the reading is created.
type Reading struct {
	Timestamp int64   `json:"timestamp"`
	Year      int     `json:"year"`
	Month     int     `json:"month"`
	Day       int     `json:"day"`
	Hour      int     `json:"hour"`
	Second    int     `json:"second"`
	DBLevel   float64 `json:"db_level"`
}

// NewReading builds a Reading for a level observed at t, deriving the date
// fields in loc (time.Local when nil).
func NewReading(t time.Time, level float64, loc *time.Location) Reading {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	return Reading{
		Timestamp: t.Unix(),
		Year:      lt.Year(),
		Month:     int(lt.Month()),
		Day:       lt.Day(),
		Hour:      lt.Hour(),
		Second:    lt.Second(),
		DBLevel:   level,
	}
}

// Time returns the reading's timestamp in loc.
func (r Reading) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(r.Timestamp, 0).In(loc)
}

func (r Reading) String() string {
	return fmt.Sprintf("Timestamp: %d, Date: %04d-%02d-%02d %02dh %02ds, Level: %.2f dB",
		r.Timestamp, r.Year, r.Month, r.Day, r.Hour, r.Second, r.DBLevel)
}
