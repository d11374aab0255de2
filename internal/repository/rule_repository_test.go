package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendaworks/scheduling-engine/internal/models"
)

func TestRuleRepositoryListActiveScansJSON(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRuleRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "name", "kind", "scope", "params", "valid_from", "valid_until", "is_active", "created_at", "updated_at"}).
		AddRow("rule1", "t1", "office hours", "working_hours",
			[]byte(`{}`),
			[]byte(`{"working_hours":{"start":"09:00","end":"17:00"}}`),
			nil, nil, true, now, now)

	mock.ExpectQuery("SELECT id, tenant_id, name, kind, scope, params, .+ FROM schedule_rules WHERE tenant_id = \\$1 AND is_active = TRUE").
		WithArgs("t1").
		WillReturnRows(rows)

	rules, err := repo.ListActive(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, models.RuleWorkingHours, rules[0].Kind)
	require.NotNil(t, rules[0].Params.WorkingHours)
	assert.Equal(t, "09:00", rules[0].Params.WorkingHours.Start)
	assert.True(t, rules[0].Scope.Global())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRuleRepository(db)

	mock.ExpectExec("INSERT INTO schedule_rules").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rule := &models.ScheduleRule{
		TenantID: "t1",
		Name:     "room B overbook",
		Kind:     models.RuleCapacityLimit,
		Scope:    models.RuleScope{ResourceIDs: []string{"roomB"}},
		Params:   models.RuleParams{CapacityLimit: &models.CapacityLimitParams{MaxConcurrent: 2}},
		IsActive: true,
	}
	require.NoError(t, rule.Params.Validate(rule.Kind))
	require.NoError(t, repo.Create(context.Background(), rule))
	assert.NotEmpty(t, rule.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
