package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agendaworks/scheduling-engine/internal/models"
	"github.com/agendaworks/scheduling-engine/internal/service"
)

type conflictRepoStub struct {
	conflicts map[string]*models.ScheduleConflict
	stale     bool
	closed    []string
	escalated []string
}

func (s *conflictRepoStub) List(_ context.Context, filter models.ConflictFilter) ([]models.ScheduleConflict, int, error) {
	var out []models.ScheduleConflict
	for _, c := range s.conflicts {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (s *conflictRepoStub) FindByID(_ context.Context, _, id string) (*models.ScheduleConflict, error) {
	c, ok := s.conflicts[id]
	if !ok {
		return nil, context.Canceled
	}
	return c, nil
}

func (s *conflictRepoStub) ListOpenByAppointment(_ context.Context, _, _ string) ([]models.ScheduleConflict, error) {
	return nil, nil
}

func (s *conflictRepoStub) Close(_ context.Context, _, id string, status models.ConflictStatus, resolvedBy, _ string) (bool, error) {
	if s.stale {
		return false, nil
	}
	c := s.conflicts[id]
	c.Status = status
	c.ResolvedBy = &resolvedBy
	now := time.Now().UTC()
	c.ResolvedAt = &now
	s.closed = append(s.closed, id)
	return true, nil
}

func (s *conflictRepoStub) Escalate(_ context.Context, _, id string, impact models.ConflictImpact) (bool, error) {
	if s.stale {
		return false, nil
	}
	c := s.conflicts[id]
	c.Status = models.ConflictEscalated
	c.Impact = impact
	s.escalated = append(s.escalated, id)
	return true, nil
}

func newConflictFixture(stale bool) (*ConflictHandler, *conflictRepoStub) {
	repo := &conflictRepoStub{
		stale: stale,
		conflicts: map[string]*models.ScheduleConflict{
			"c1": {
				ID:                   "c1",
				TenantID:             "tenant-1",
				PrimaryAppointmentID: "a1",
				Type:                 models.ConflictResource,
				Impact:               models.ImpactMedium,
				Status:               models.ConflictPending,
			},
		},
	}
	svc := service.NewConflictService(repo, nil, nil, zap.NewNop())
	return NewConflictHandler(svc), repo
}

func TestConflictHandlerList(t *testing.T) {
	h, _ := newConflictFixture(false)
	w, c := testCtx(t, http.MethodGet, "/conflicts?status=pending", nil)

	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	var conflicts []models.ScheduleConflict
	envelope := decodeEnvelope(t, w, &conflicts)
	require.Len(t, conflicts, 1)
	require.NotNil(t, envelope.Pagination)
	assert.Equal(t, 1, envelope.Pagination.TotalCount)
}

func TestConflictHandlerResolve(t *testing.T) {
	h, repo := newConflictFixture(false)
	w, c := testCtx(t, http.MethodPost, "/conflicts/c1/resolve", map[string]string{
		"action": "resolve",
		"notes":  "double checked the room",
	})
	c.Params = gin.Params{{Key: "id", Value: "c1"}}

	h.Resolve(c)

	require.Equal(t, http.StatusOK, w.Code)
	var resolved models.ScheduleConflict
	decodeEnvelope(t, w, &resolved)
	assert.Equal(t, models.ConflictResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "user-1", *resolved.ResolvedBy)
	assert.Equal(t, []string{"c1"}, repo.closed)
}

func TestConflictHandlerResolveMissingAction(t *testing.T) {
	h, _ := newConflictFixture(false)
	w, c := testCtx(t, http.MethodPost, "/conflicts/c1/resolve", map[string]string{"notes": "no action"})
	c.Params = gin.Params{{Key: "id", Value: "c1"}}

	h.Resolve(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConflictHandlerResolveUnknownAction(t *testing.T) {
	h, _ := newConflictFixture(false)
	w, c := testCtx(t, http.MethodPost, "/conflicts/c1/resolve", map[string]string{"action": "defer"})
	c.Params = gin.Params{{Key: "id", Value: "c1"}}

	h.Resolve(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConflictHandlerResolveStaleReturnsConflict(t *testing.T) {
	h, _ := newConflictFixture(true)
	w, c := testCtx(t, http.MethodPost, "/conflicts/c1/resolve", map[string]string{"action": "ignore"})
	c.Params = gin.Params{{Key: "id", Value: "c1"}}

	h.Resolve(c)

	require.Equal(t, http.StatusConflict, w.Code)
	envelope := decodeEnvelope(t, w, nil)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "STALE_CONFLICT", envelope.Error.Code)
}

func TestConflictHandlerEscalateRaisesImpact(t *testing.T) {
	h, repo := newConflictFixture(false)
	w, c := testCtx(t, http.MethodPost, "/conflicts/c1/resolve", map[string]string{"action": "escalate"})
	c.Params = gin.Params{{Key: "id", Value: "c1"}}

	h.Resolve(c)

	require.Equal(t, http.StatusOK, w.Code)
	var escalated models.ScheduleConflict
	decodeEnvelope(t, w, &escalated)
	assert.Equal(t, models.ConflictEscalated, escalated.Status)
	assert.Equal(t, models.ImpactHigh, escalated.Impact)
	assert.Nil(t, escalated.ResolvedAt)
	assert.Equal(t, []string{"c1"}, repo.escalated)
}
