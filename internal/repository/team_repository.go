package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agendaworks/scheduling-engine/internal/models"
)

const teamColumns = "id, tenant_id, name, lead_user_id, is_active, created_at, updated_at"

// TeamRepository manages persistence for teams and their rosters.
type TeamRepository struct {
	db *sqlx.DB
}

// NewTeamRepository constructs a TeamRepository.
func NewTeamRepository(db *sqlx.DB) *TeamRepository {
	return &TeamRepository{db: db}
}

// List returns teams matching the filter along with the total count.
func (r *TeamRepository) List(ctx context.Context, filter models.TeamFilter) ([]models.Team, int, error) {
	base := "FROM teams WHERE tenant_id = $1"
	args := []interface{}{filter.TenantID}

	if filter.Active != nil {
		base += fmt.Sprintf(" AND is_active = $%d", len(args)+1)
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		base += fmt.Sprintf(" AND LOWER(name) LIKE $%d", len(args)+1)
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY name ASC LIMIT %d OFFSET %d", teamColumns, base, size, offset)
	var teams []models.Team
	if err := r.db.SelectContext(ctx, &teams, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list teams: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count teams: %w", err)
	}

	return teams, total, nil
}

// FindByID fetches a team with its active roster.
func (r *TeamRepository) FindByID(ctx context.Context, tenantID, id string) (*models.Team, error) {
	query := fmt.Sprintf("SELECT %s FROM teams WHERE tenant_id = $1 AND id = $2", teamColumns)
	var team models.Team
	if err := r.db.GetContext(ctx, &team, query, tenantID, id); err != nil {
		return nil, err
	}

	const memberQuery = `SELECT id, team_id, user_id, role, is_active, availability, created_at
		FROM team_members WHERE team_id = $1 AND is_active = TRUE ORDER BY user_id`
	if err := r.db.SelectContext(ctx, &team.Members, memberQuery, id); err != nil {
		return nil, fmt.Errorf("load team members: %w", err)
	}
	return &team, nil
}

// Create inserts a new team record.
func (r *TeamRepository) Create(ctx context.Context, team *models.Team) error {
	if team.ID == "" {
		team.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if team.CreatedAt.IsZero() {
		team.CreatedAt = now
	}
	team.UpdatedAt = now

	const query = `INSERT INTO teams (id, tenant_id, name, lead_user_id, is_active, created_at, updated_at)
		VALUES (:id, :tenant_id, :name, :lead_user_id, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, team); err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

// AddMember attaches a user to the team roster.
func (r *TeamRepository) AddMember(ctx context.Context, member *models.TeamMember) error {
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO team_members (id, team_id, user_id, role, is_active, availability, created_at)
		VALUES (:id, :team_id, :user_id, :role, :is_active, :availability, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, member); err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

// MemberUserIDs returns the user ids of the team's active members.
func (r *TeamRepository) MemberUserIDs(ctx context.Context, teamID string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, "SELECT user_id FROM team_members WHERE team_id = $1 AND is_active = TRUE ORDER BY user_id", teamID); err != nil {
		return nil, fmt.Errorf("list team member ids: %w", err)
	}
	return ids, nil
}
