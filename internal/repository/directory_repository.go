package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/agendaworks/scheduling-engine/internal/models"
)

// DirectoryRepository reads the user directory maintained by the identity
// service. The engine only consults it for notification recipient
// resolution; it never writes users.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository constructs a DirectoryRepository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// OrgAdmins returns the active administrator user ids for a tenant.
func (r *DirectoryRepository) OrgAdmins(ctx context.Context, tenantID string) ([]string, error) {
	const query = `SELECT id FROM users WHERE tenant_id = $1 AND role = 'admin' AND is_active = true ORDER BY id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, tenantID); err != nil {
		return nil, fmt.Errorf("list org admins: %w", err)
	}
	return ids, nil
}

// ChannelPreferences returns each user's preferred notification channel.
// Users without a stored preference are absent from the map.
func (r *DirectoryRepository) ChannelPreferences(ctx context.Context, tenantID string, userIDs []string) (map[string]models.NotificationChannel, error) {
	if len(userIDs) == 0 {
		return map[string]models.NotificationChannel{}, nil
	}
	const query = `SELECT id, notification_channel FROM users
		WHERE tenant_id = $1 AND id = ANY($2) AND notification_channel IS NOT NULL`
	rows, err := r.db.QueryxContext(ctx, query, tenantID, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("load channel preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]models.NotificationChannel, len(userIDs))
	for rows.Next() {
		var id string
		var channel models.NotificationChannel
		if err := rows.Scan(&id, &channel); err != nil {
			return nil, fmt.Errorf("scan channel preference: %w", err)
		}
		prefs[id] = channel
	}
	return prefs, rows.Err()
}
