package enterprise

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_NoLicense(t *testing.T) {
	t.Parallel()

	v := NewValidator(nil)
	err := v.Validate()
	assert.ErrorIs(t, err, ErrNoLicense)
}

func TestValidator_ValidLicense(t *testing.T) {
	t.Parallel()

	license := &License{
		ID:           "lic-001",
		Org:          "acme-field-services",
		MaxDevices:   50,
		MaxReviewers: 10,
		Features:     []string{FeatureAnchoring},
		ExpiresAt:    time.Now().Add(24 * time.Hour),
		IssuedAt:     time.Now().Add(-24 * time.Hour),
	}

	v := NewValidator(license)
	err := v.Validate()
	require.NoError(t, err)
}

func TestValidator_ExpiredLicense(t *testing.T) {
	t.Parallel()

	license := &License{
		ID:        "lic-expired",
		Org:       "acme-field-services",
		ExpiresAt: time.Now().Add(-1 * time.Hour),
		IssuedAt:  time.Now().Add(-48 * time.Hour),
	}

	v := NewValidator(license)
	err := v.Validate()
	assert.ErrorIs(t, err, ErrLicenseExpired)
}

func TestHasFeature_Enabled(t *testing.T) {
	t.Parallel()

	license := &License{
		Features: []string{FeatureAnchoring, "sso"},
	}

	v := NewValidator(license)
	assert.True(t, v.HasFeature(FeatureAnchoring))
	assert.True(t, v.HasFeature("sso"))
}

func TestHasFeature_Disabled(t *testing.T) {
	t.Parallel()

	license := &License{
		Features: []string{"sso"},
	}

	v := NewValidator(license)
	assert.False(t, v.HasFeature(FeatureAnchoring))
}

func TestHasFeature_NoLicense(t *testing.T) {
	t.Parallel()

	v := NewValidator(nil)
	assert.False(t, v.HasFeature(FeatureAnchoring))
}

func TestMaxDevices(t *testing.T) {
	t.Parallel()

	v := NewValidator(&License{MaxDevices: 100})
	assert.Equal(t, 100, v.MaxDevices())

	assert.Equal(t, 0, NewValidator(nil).MaxDevices())
}

func TestMaxReviewers(t *testing.T) {
	t.Parallel()

	v := NewValidator(&License{MaxReviewers: 25})
	assert.Equal(t, 25, v.MaxReviewers())

	assert.Equal(t, 0, NewValidator(nil).MaxReviewers())
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "license.json")
		content := `{
			"id": "lic-042",
			"org": "acme-field-services",
			"max_devices": 20,
			"features": ["anchoring"],
			"issued_at": "2026-01-01T00:00:00Z",
			"expires_at": "2030-01-01T00:00:00Z"
		}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		lic, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "lic-042", lic.ID)
		assert.Equal(t, 20, lic.MaxDevices)
		assert.True(t, NewValidator(lic).HasFeature(FeatureAnchoring))
	})

	t.Run("missing_file", func(t *testing.T) {
		t.Parallel()

		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
	})

	t.Run("malformed_json", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "license.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

		_, err := LoadFile(path)
		assert.ErrorIs(t, err, ErrLicenseInvalid)
	})

	t.Run("missing_required_fields", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "license.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"id": "lic-001"}`), 0o600))

		_, err := LoadFile(path)
		assert.ErrorIs(t, err, ErrLicenseInvalid)
	})
}
