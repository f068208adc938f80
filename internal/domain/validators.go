package domain

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	idRegex    = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,64}$`)
)

// ValidateEmail checks if an email address is valid.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// NormalizeEmail lowercases and trims an email so one address maps to one rider.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateID checks an opaque identifier (rider or challenge).
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("invalid id format")
	}
	return nil
}

// ValidateName checks a rider display name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("name too long (%d chars); maximum 64", len(name))
	}
	return nil
}

// ValidateCoordinates checks that a fix is present, finite and on the globe.
func ValidateCoordinates(lat, lon *float64) error {
	if lat == nil || lon == nil {
		return fmt.Errorf("%w: lat and lon are required", ErrInvalidSample)
	}
	if math.IsNaN(*lat) || math.IsInf(*lat, 0) || math.IsNaN(*lon) || math.IsInf(*lon, 0) {
		return fmt.Errorf("%w: coordinates must be finite", ErrInvalidSample)
	}
	if *lat < -90 || *lat > 90 {
		return fmt.Errorf("%w: lat %v out of range", ErrInvalidSample, *lat)
	}
	if *lon < -180 || *lon > 180 {
		return fmt.Errorf("%w: lon %v out of range", ErrInvalidSample, *lon)
	}
	return nil
}

// ValidatePositionPayload checks the fields of a position message.
func ValidatePositionPayload(p PositionPayload) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: rider id is required", ErrInvalidSample)
	}
	return ValidateCoordinates(p.Lat, p.Lon)
}
