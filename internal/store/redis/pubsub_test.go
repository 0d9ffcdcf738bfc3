package redis_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	redisstore "github.com/fieldproof/fieldproof/internal/store/redis"
)

func TestDeviceChannel(t *testing.T) {
	t.Parallel()

	deviceID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		got := redisstore.DeviceChannel(deviceID)
		assert.Equal(t, "device:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", got)
	})

	t.Run("distinct devices get distinct channels", func(t *testing.T) {
		t.Parallel()

		other := redisstore.DeviceChannel(uuid.MustParse("11111111-2222-3333-4444-555555555555"))
		assert.NotEqual(t, redisstore.DeviceChannel(deviceID), other)
	})

	t.Run("prefix separates namespaces", func(t *testing.T) {
		t.Parallel()

		assert.True(t, strings.HasPrefix(redisstore.DeviceChannel(deviceID), "device:"))
		assert.True(t, strings.HasPrefix(redisstore.AuditChannel(), "audit:"))
	})
}
