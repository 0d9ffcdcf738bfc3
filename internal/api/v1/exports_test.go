package v1_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/fieldproof/fieldproof/internal/api/v1"
	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/export"
)

func TestBuildExport(t *testing.T) {
	t.Parallel()

	reviewerID := uuid.New()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

		_, api := humatest.New(t)
		svc := &mockExportService{
			buildFunc: func(_ context.Context, actor string, req export.Request) (*export.Bundle, error) {
				assert.Equal(t, "reviewer:"+reviewerID.String(), actor)
				assert.True(t, req.From.Equal(from))
				assert.True(t, req.To.Equal(to))
				return &export.Bundle{
					ID:          uuid.New(),
					GeneratedAt: time.Now().UTC(),
					Digest:      "abc123",
					Items:       []*export.Item{{Event: &domain.ServerEvent{ID: uuid.New(), Seq: 1}}},
				}, nil
			},
		}
		v1.RegisterExportRoutes(api, svc)

		resp := api.PostCtx(reviewerCtx(reviewerID), "/exports", map[string]any{
			"from": from.Format(time.RFC3339),
			"to":   to.Format(time.RFC3339),
		})
		require.Equal(t, http.StatusCreated, resp.Code)

		var body export.Bundle
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "abc123", body.Digest)
		assert.Len(t, body.Items, 1)
	})

	t.Run("missing_reviewer_identity", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterExportRoutes(api, &mockExportService{})

		resp := api.Post("/exports", map[string]any{})
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})
}

func TestAuditRange(t *testing.T) {
	t.Parallel()

	reviewerID := uuid.New()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		svc := &mockExportService{
			auditFunc: func(_ context.Context, actor string, fromSeq, toSeq int64) (*export.AuditBundle, error) {
				assert.Equal(t, "reviewer:"+reviewerID.String(), actor)
				assert.Equal(t, int64(1), fromSeq)
				assert.Equal(t, int64(5), toSeq)
				return &export.AuditBundle{
					FromSeq:    1,
					ToSeq:      5,
					Entries:    make([]*domain.AuditEntry, 5),
					ChainValid: true,
				}, nil
			},
		}
		v1.RegisterExportRoutes(api, svc)

		resp := api.GetCtx(reviewerCtx(reviewerID), "/audit?from_seq=1&to_seq=5")
		require.Equal(t, http.StatusOK, resp.Code)

		var body export.AuditBundle
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body.ChainValid)
		assert.Len(t, body.Entries, 5)
	})

	t.Run("bad_range", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		svc := &mockExportService{
			auditFunc: func(_ context.Context, _ string, _, _ int64) (*export.AuditBundle, error) {
				return nil, domain.ErrValidation
			},
		}
		v1.RegisterExportRoutes(api, svc)

		resp := api.GetCtx(reviewerCtx(reviewerID), "/audit?from_seq=9&to_seq=3")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

func TestAuditVerify(t *testing.T) {
	t.Parallel()

	reviewerID := uuid.New()

	t.Run("intact_chain", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		svc := &mockExportService{
			auditFunc: func(_ context.Context, _ string, fromSeq, toSeq int64) (*export.AuditBundle, error) {
				assert.Equal(t, int64(1), fromSeq)
				assert.Equal(t, int64(0), toSeq, "0 means verify to the chain head")
				return &export.AuditBundle{FromSeq: 1, ToSeq: 12, ChainValid: true}, nil
			},
		}
		v1.RegisterExportRoutes(api, svc)

		resp := api.GetCtx(reviewerCtx(reviewerID), "/audit/verify")
		require.Equal(t, http.StatusOK, resp.Code)

		var body struct {
			ChainValid bool  `json:"chain_valid"`
			HeadSeq    int64 `json:"head_seq"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body.ChainValid)
		assert.Equal(t, int64(12), body.HeadSeq)
	})

	t.Run("broken_chain_reported_not_hidden", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		svc := &mockExportService{
			auditFunc: func(_ context.Context, _ string, _, _ int64) (*export.AuditBundle, error) {
				return &export.AuditBundle{FromSeq: 1, ToSeq: 12, ChainValid: false}, nil
			},
		}
		v1.RegisterExportRoutes(api, svc)

		resp := api.GetCtx(reviewerCtx(reviewerID), "/audit/verify")
		require.Equal(t, http.StatusOK, resp.Code)

		var body struct {
			ChainValid bool `json:"chain_valid"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.False(t, body.ChainValid)
	})
}
