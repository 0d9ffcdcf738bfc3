// Package enterprise validates licenses for self-hosted deployments.
package enterprise

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"
)

//nolint:gochecknoglobals // sentinel error
var ErrLicenseExpired = errors.New("enterprise: license expired")

//nolint:gochecknoglobals // sentinel error
var ErrLicenseInvalid = errors.New("enterprise: license invalid")

//nolint:gochecknoglobals // sentinel error
var ErrNoLicense = errors.New("enterprise: no license configured")

// FeatureAnchoring gates the external anchoring proof provider.
const FeatureAnchoring = "anchoring"

// License represents a self-hosted deployment license.
type License struct {
	ID           string    `json:"id"`
	Org          string    `json:"org"`
	MaxDevices   int       `json:"max_devices"`   // 0 = unlimited
	MaxReviewers int       `json:"max_reviewers"` // 0 = unlimited
	Features     []string  `json:"features"`      // enabled feature flags
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// LoadFile reads a JSON license from disk.
func LoadFile(path string) (*License, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("enterprise.LoadFile: %w", err)
	}

	var lic License
	if err := json.Unmarshal(data, &lic); err != nil {
		return nil, fmt.Errorf("enterprise.LoadFile: %w: %w", ErrLicenseInvalid, err)
	}

	if lic.ID == "" || lic.Org == "" || lic.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("enterprise.LoadFile: %w: missing id, org, or expires_at", ErrLicenseInvalid)
	}

	return &lic, nil
}

// Validator checks deployment licenses.
type Validator struct {
	license *License
}

// NewValidator creates a Validator. If license is nil, all license checks fail
// with ErrNoLicense.
func NewValidator(license *License) *Validator {
	return &Validator{license: license}
}

// Validate checks if the license is valid and not expired.
func (v *Validator) Validate() error {
	if v.license == nil {
		return ErrNoLicense
	}

	if time.Now().After(v.license.ExpiresAt) {
		return ErrLicenseExpired
	}

	return nil
}

// HasFeature checks if a specific feature is enabled.
func (v *Validator) HasFeature(feature string) bool {
	if v.license == nil {
		return false
	}

	return slices.Contains(v.license.Features, feature)
}

// MaxDevices returns the maximum allowed registered devices (0 = unlimited).
func (v *Validator) MaxDevices() int {
	if v.license == nil {
		return 0
	}

	return v.license.MaxDevices
}

// MaxReviewers returns the maximum allowed reviewer accounts (0 = unlimited).
func (v *Validator) MaxReviewers() int {
	if v.license == nil {
		return 0
	}

	return v.license.MaxReviewers
}
