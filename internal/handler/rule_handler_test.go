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

type ruleRepoStub struct {
	rules   []models.ScheduleRule
	created []*models.ScheduleRule
}

func (s *ruleRepoStub) ListActive(_ context.Context, _ string) ([]models.ScheduleRule, error) {
	return s.rules, nil
}

func (s *ruleRepoStub) List(_ context.Context, filter models.RuleFilter) ([]models.ScheduleRule, int, error) {
	return s.rules, len(s.rules), nil
}

func (s *ruleRepoStub) FindByID(_ context.Context, _, id string) (*models.ScheduleRule, error) {
	for i := range s.rules {
		if s.rules[i].ID == id {
			return &s.rules[i], nil
		}
	}
	return nil, context.Canceled
}

func (s *ruleRepoStub) Create(_ context.Context, rule *models.ScheduleRule) error {
	rule.ID = "rule-1"
	s.created = append(s.created, rule)
	return nil
}

func (s *ruleRepoStub) Update(_ context.Context, rule *models.ScheduleRule) error { return nil }

func (s *ruleRepoStub) Deactivate(_ context.Context, _, _ string) error { return nil }

type noOverlapCounter struct{}

func (noOverlapCounter) CountResourceOverlaps(_ context.Context, _, _ string, _, _ time.Time, _ string) (int, error) {
	return 0, nil
}

func newRuleHandler(repo *ruleRepoStub) *RuleHandler {
	engine := service.NewRuleEngine(noOverlapCounter{}, zap.NewNop())
	return NewRuleHandler(service.NewRuleService(repo, engine, nil, zap.NewNop()))
}

func TestRuleHandlerList(t *testing.T) {
	repo := &ruleRepoStub{rules: []models.ScheduleRule{
		{ID: "rule-1", TenantID: "tenant-1", Name: "Office hours", Kind: models.RuleWorkingHours, IsActive: true},
	}}
	w, c := testCtx(t, http.MethodGet, "/rules?page=1&limit=10", nil)

	newRuleHandler(repo).List(c)

	require.Equal(t, http.StatusOK, w.Code)
	var rules []models.ScheduleRule
	envelope := decodeEnvelope(t, w, &rules)
	require.Len(t, rules, 1)
	assert.Equal(t, "Office hours", rules[0].Name)
	require.NotNil(t, envelope.Pagination)
	assert.Equal(t, 1, envelope.Pagination.TotalCount)
}

func TestRuleHandlerCreate(t *testing.T) {
	repo := &ruleRepoStub{}
	w, c := testCtx(t, http.MethodPost, "/rules", service.CreateRuleRequest{
		Name: "Office hours",
		Kind: models.RuleWorkingHours,
		Params: models.RuleParams{
			WorkingHours: &models.WorkingHoursParams{Start: "09:00", End: "17:00"},
		},
	})

	newRuleHandler(repo).Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, repo.created, 1)
	assert.True(t, repo.created[0].IsActive)
}

func TestRuleHandlerCreateInvalidBody(t *testing.T) {
	w, c := testCtx(t, http.MethodPost, "/rules", nil)
	c.Request.Body = http.NoBody

	newRuleHandler(&ruleRepoStub{}).Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuleHandlerCreateRejectsMismatchedParams(t *testing.T) {
	w, c := testCtx(t, http.MethodPost, "/rules", service.CreateRuleRequest{
		Name: "Broken",
		Kind: models.RuleWorkingHours,
		Params: models.RuleParams{
			CapacityLimit: &models.CapacityLimitParams{MaxConcurrent: 2},
		},
	})

	newRuleHandler(&ruleRepoStub{}).Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuleHandlerEvaluateDryRun(t *testing.T) {
	repo := &ruleRepoStub{rules: []models.ScheduleRule{{
		ID:       "rule-1",
		TenantID: "tenant-1",
		Name:     "Office hours",
		Kind:     models.RuleWorkingHours,
		IsActive: true,
		Params: models.RuleParams{
			WorkingHours: &models.WorkingHoursParams{Start: "09:00", End: "17:00"},
		},
	}}}

	w, c := testCtx(t, http.MethodPost, "/rules/evaluate", service.EvaluateRequest{
		Title:       "Late meeting",
		StartTime:   time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC),
		ResourceIDs: []string{"room-a"},
	})

	newRuleHandler(repo).Evaluate(c)

	require.Equal(t, http.StatusOK, w.Code)
	var result service.EvaluateResult
	decodeEnvelope(t, w, &result)
	assert.False(t, result.Allowed)
	require.NotEmpty(t, result.Violations)
	assert.Equal(t, models.RuleWorkingHours, result.Violations[0].Kind)

	// The original write path must be untouched by a dry run.
	assert.Empty(t, repo.created)
}

func TestRuleHandlerGetNotFoundEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w, c := testCtx(t, http.MethodGet, "/rules/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	newRuleHandler(&ruleRepoStub{}).Get(c)

	require.Equal(t, http.StatusNotFound, w.Code)
	envelope := decodeEnvelope(t, w, nil)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "NOT_FOUND", envelope.Error.Code)
}
