package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldproof/fieldproof/internal/domain"
)

func testCapture(t *testing.T) *domain.CaptureEvent {
	t.Helper()

	ev := &domain.CaptureEvent{
		LocalID:    uuid.New(),
		Kind:       domain.EventKindArrival,
		DeviceTime: time.Now().UTC(),
		Location:   domain.Geolocation{Lat: 54.7, Lng: 25.3, AccuracyM: 10},
		Signals: domain.SignalBundle{
			Version:      domain.SignalBundleVersion,
			LocationFlag: domain.LocationGranted,
		},
	}
	hash, err := ev.ComputeContentHash()
	require.NoError(t, err)
	ev.ContentHash = hash

	return ev
}

func TestIngest(t *testing.T) {
	eventID := uuid.New()
	received := time.Now().UTC().Truncate(time.Microsecond)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/events", r.URL.Path)
		assert.Equal(t, "fp_testdevicekey", r.Header.Get("X-API-Key"))

		var got domain.CaptureEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.NoError(t, got.Validate())

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(IngestAck{
			EventID:      eventID,
			Seq:          7,
			ReceivedAt:   received,
			QualityFlags: []string{"gps_coarse"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "fp_testdevicekey")
	ack, err := c.Ingest(context.Background(), testCapture(t))
	require.NoError(t, err)

	assert.Equal(t, eventID, ack.EventID)
	assert.Equal(t, int64(7), ack.Seq)
	assert.Equal(t, []string{"gps_coarse"}, ack.QualityFlags)
	assert.False(t, ack.AlreadyExisted)
}

func TestIngestDuplicateAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(IngestAck{EventID: uuid.New(), Seq: 3, AlreadyExisted: true})
	}))
	defer srv.Close()

	ack, err := New(srv.URL, "fp_k").Ingest(context.Background(), testCapture(t))
	require.NoError(t, err)
	assert.True(t, ack.AlreadyExisted)
}

func TestIngestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{name: "validation rejection is permanent", status: http.StatusUnprocessableEntity, permanent: true},
		{name: "bad request is permanent", status: http.StatusBadRequest, permanent: true},
		{name: "unauthorized is permanent", status: http.StatusUnauthorized, permanent: true},
		{name: "server error is transient", status: http.StatusInternalServerError, permanent: false},
		{name: "unavailable is transient", status: http.StatusServiceUnavailable, permanent: false},
		{name: "rate limited is transient", status: http.StatusTooManyRequests, permanent: false},
		{name: "request timeout is transient", status: http.StatusRequestTimeout, permanent: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			_, err := New(srv.URL, "fp_k").Ingest(context.Background(), testCapture(t))
			require.Error(t, err)
			assert.Equal(t, tc.permanent, isPermanentErr(err))
		})
	}
}

func TestIngestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // refuse connections

	_, err := New(srv.URL, "fp_k").Ingest(context.Background(), testCapture(t))
	require.Error(t, err)
	assert.False(t, isPermanentErr(err))
}

func TestStatus(t *testing.T) {
	deviceID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sync/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SyncStatus{DeviceID: deviceID, IngestedCount: 12, LastSeq: 40})
	}))
	defer srv.Close()

	status, err := New(srv.URL, "fp_k").Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, deviceID, status.DeviceID)
	assert.Equal(t, int64(12), status.IngestedCount)
}

func isPermanentErr(err error) bool {
	return errors.Is(err, ErrPermanent)
}
