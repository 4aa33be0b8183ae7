package model

import "time"

// Fix is a position sample from the device's location source.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"` // metres
	Timestamp time.Time `json:"timestamp"`
}

// IsZero reports whether no fix has been acquired.
func (f Fix) IsZero() bool {
	return f.Timestamp.IsZero() && f.Latitude == 0 && f.Longitude == 0
}

// FixQuality is the qualitative accuracy status of a fix.
type FixQuality string

const (
	QualitySearching FixQuality = "searching"
	QualityExcellent FixQuality = "excellent"
	QualityGood      FixQuality = "good"
	QualityFair      FixQuality = "fair"
	QualityPoor      FixQuality = "poor"
)

// Quality buckets the fix accuracy.
func (f Fix) Quality() FixQuality {
	switch {
	case f.IsZero():
		return QualitySearching
	case f.Accuracy < 10:
		return QualityExcellent
	case f.Accuracy < 20:
		return QualityGood
	case f.Accuracy < 50:
		return QualityFair
	default:
		return QualityPoor
	}
}
