// Package location records location samples and serves current values,
// history and change subscriptions.
package location

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidSample = errors.New("location: invalid sample")
	// ErrCurrentNotUpdated reports a record whose history append succeeded
	// but whose current-slot overwrite failed.
	ErrCurrentNotUpdated = errors.New("location: history appended but current slot not updated")
)

// Sample is one GPS fix.
type Sample struct {
	UserID     string   `json:"user_id"`
	Key        string   `json:"key,omitempty"`
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Accuracy   *float64 `json:"accuracy,omitempty"`
	CapturedAt int64    `json:"captured_at"`
	DateTime   string   `json:"date_time,omitempty"`
	UserName   string   `json:"user_name,omitempty"`
}

// Validate checks coordinate ranges and the capture timestamp.
func (s Sample) Validate() error {
	switch {
	case math.IsNaN(s.Latitude) || s.Latitude < -90 || s.Latitude > 90:
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidSample, s.Latitude)
	case math.IsNaN(s.Longitude) || s.Longitude < -180 || s.Longitude > 180:
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidSample, s.Longitude)
	case s.Accuracy != nil && (math.IsNaN(*s.Accuracy) || *s.Accuracy < 0):
		return fmt.Errorf("%w: accuracy must be non-negative", ErrInvalidSample)
	case s.CapturedAt <= 0:
		return fmt.Errorf("%w: captured_at must be positive", ErrInvalidSample)
	}
	return nil
}

// Clone returns a deep copy.
func (s *Sample) Clone() *Sample {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Accuracy != nil {
		acc := *s.Accuracy
		cp.Accuracy = &acc
	}
	return &cp
}
