package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agendaworks/scheduling-engine/internal/models"
)

// NotificationRepo persists queued notification records.
type NotificationRepo interface {
	Insert(ctx context.Context, n *models.ScheduleNotification) error
	ListByAppointment(ctx context.Context, tenantID, appointmentID string) ([]models.ScheduleNotification, error)
}

// NotificationAppointmentRepo loads appointments for recipient resolution.
type NotificationAppointmentRepo interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.Appointment, error)
}

// NotificationTeamRepo resolves team recipients: the lead and, for
// appointments with no directly assigned users, the active roster.
type NotificationTeamRepo interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.Team, error)
	MemberUserIDs(ctx context.Context, teamID string) ([]string, error)
}

// Directory resolves organization admins and per-user channel preferences.
type Directory interface {
	OrgAdmins(ctx context.Context, tenantID string) ([]string, error)
	ChannelPreferences(ctx context.Context, tenantID string, userIDs []string) (map[string]models.NotificationChannel, error)
}

// NotificationService translates domain events into pending notification
// records with resolved recipient lists. Its contract ends at status
// pending; delivery belongs to an external collaborator.
type NotificationService struct {
	repo           NotificationRepo
	appointments   NotificationAppointmentRepo
	teams          NotificationTeamRepo
	directory      Directory
	metrics        *MetricsService
	logger         *zap.Logger
	defaultChannel models.NotificationChannel
	reminderLead   time.Duration
}

// NewNotificationService constructs a notification dispatcher.
func NewNotificationService(repo NotificationRepo, appointments NotificationAppointmentRepo, teams NotificationTeamRepo, directory Directory, metrics *MetricsService, logger *zap.Logger, defaultChannel models.NotificationChannel, reminderLead time.Duration) *NotificationService {
	if defaultChannel == "" {
		defaultChannel = models.ChannelEmail
	}
	if reminderLead <= 0 {
		reminderLead = 24 * time.Hour
	}
	return &NotificationService{
		repo:           repo,
		appointments:   appointments,
		teams:          teams,
		directory:      directory,
		metrics:        metrics,
		logger:         logger,
		defaultChannel: defaultChannel,
		reminderLead:   reminderLead,
	}
}

// HandleEvent dispatches one outbox event. Notification ids are derived
// from the event id, so redelivered events are written at most once.
func (s *NotificationService) HandleEvent(ctx context.Context, event *models.OutboxEvent) error {
	switch event.Type {
	case models.EventAppointmentCreated:
		return s.handleAppointmentEvent(ctx, event, models.NotifyAppointmentCreated, true)
	case models.EventAppointmentUpdated:
		return s.handleAppointmentEvent(ctx, event, models.NotifyAppointmentUpdated, false)
	case models.EventAppointmentCancelled:
		return s.handleAppointmentEvent(ctx, event, models.NotifyAppointmentCancelled, false)
	case models.EventAppointmentConfirmed, models.EventAppointmentCompleted,
		models.EventAppointmentNoShow, models.EventAppointmentRescheduled:
		return s.handleAppointmentEvent(ctx, event, models.NotifyScheduleChange, false)
	case models.EventConflictDetected, models.EventConflictEscalated:
		return s.handleConflictEvent(ctx, event)
	case models.EventConflictResolved:
		// Resolution is visible through the API; no fan-out.
		return nil
	default:
		if s.logger != nil {
			s.logger.Warn("ignoring outbox event of unknown type",
				zap.String("event_id", event.ID), zap.String("type", string(event.Type)))
		}
		return nil
	}
}

// NotifyConflict writes a conflict_detected notification. Elevated fan-out
// adds organization admins to the recipient set.
func (s *NotificationService) NotifyConflict(ctx context.Context, conflict *models.ScheduleConflict, elevated bool) error {
	recipients, err := s.conflictRecipients(ctx, conflict, elevated)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(models.ConflictEventPayload{
		ConflictID:             conflict.ID,
		PrimaryAppointmentID:   conflict.PrimaryAppointmentID,
		SecondaryAppointmentID: conflict.SecondaryAppointmentID,
		Type:                   string(conflict.Type),
		Impact:                 string(conflict.Impact),
		Status:                 string(conflict.Status),
	})
	if err != nil {
		return fmt.Errorf("marshal conflict payload: %w", err)
	}
	seed := fmt.Sprintf("conflict:%s:%s", conflict.ID, conflict.Status)
	return s.dispatch(ctx, seed, conflict.TenantID, models.NotifyConflictDetected, &conflict.PrimaryAppointmentID, &conflict.ID, recipients, payload, time.Now().UTC())
}

// ListByAppointment exposes the notifications raised for an appointment.
func (s *NotificationService) ListByAppointment(ctx context.Context, tenantID, appointmentID string) ([]models.ScheduleNotification, error) {
	return s.repo.ListByAppointment(ctx, tenantID, appointmentID)
}

func (s *NotificationService) handleAppointmentEvent(ctx context.Context, event *models.OutboxEvent, notifyType models.NotificationType, withReminder bool) error {
	var payload models.AppointmentEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decode appointment event %s: %w", event.ID, err)
	}

	recipients, err := s.appointmentRecipients(ctx, event.TenantID, payload.UserIDs, payload.TeamID)
	if err != nil {
		return err
	}
	if err := s.dispatch(ctx, "event:"+event.ID, event.TenantID, notifyType, &payload.AppointmentID, nil, recipients, event.Payload, time.Now().UTC()); err != nil {
		return err
	}

	if withReminder {
		remindAt := payload.StartTime.Add(-s.reminderLead)
		if remindAt.After(time.Now()) {
			if err := s.dispatch(ctx, "reminder:"+event.ID, event.TenantID, models.NotifyReminderDue, &payload.AppointmentID, nil, recipients, event.Payload, remindAt); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *NotificationService) handleConflictEvent(ctx context.Context, event *models.OutboxEvent) error {
	var payload models.ConflictEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decode conflict event %s: %w", event.ID, err)
	}
	conflict := &models.ScheduleConflict{
		ID:                     payload.ConflictID,
		TenantID:               event.TenantID,
		PrimaryAppointmentID:   payload.PrimaryAppointmentID,
		SecondaryAppointmentID: payload.SecondaryAppointmentID,
		Type:                   models.ConflictType(payload.Type),
		Impact:                 models.ConflictImpact(payload.Impact),
		Status:                 models.ConflictStatus(payload.Status),
	}
	elevated := event.Type == models.EventConflictEscalated || conflict.Impact == models.ImpactCritical
	return s.NotifyConflict(ctx, conflict, elevated)
}

// appointmentRecipients resolves the assigned users plus the team lead. A
// team appointment with no direct assignees fans out to the whole roster.
func (s *NotificationService) appointmentRecipients(ctx context.Context, tenantID string, userIDs []string, teamID *string) ([]string, error) {
	set := map[string]struct{}{}
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := set[id]; ok {
			return
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range userIDs {
		add(id)
	}
	if teamID != nil && s.teams != nil {
		team, err := s.teams.FindByID(ctx, tenantID, *teamID)
		if err == nil && team.LeadUserID != nil {
			add(*team.LeadUserID)
		}
		if len(userIDs) == 0 {
			members, err := s.teams.MemberUserIDs(ctx, *teamID)
			if err != nil {
				return nil, fmt.Errorf("resolve team roster %s: %w", *teamID, err)
			}
			for _, id := range members {
				add(id)
			}
		}
	}
	return out, nil
}

func (s *NotificationService) conflictRecipients(ctx context.Context, conflict *models.ScheduleConflict, elevated bool) ([]string, error) {
	var userIDs []string
	var teamID *string
	if s.appointments != nil {
		if appt, err := s.appointments.FindByID(ctx, conflict.TenantID, conflict.PrimaryAppointmentID); err == nil {
			userIDs = appt.UserIDs
			teamID = appt.TeamID
		}
	}
	recipients, err := s.appointmentRecipients(ctx, conflict.TenantID, userIDs, teamID)
	if err != nil {
		return nil, err
	}

	if (elevated || conflict.Impact == models.ImpactCritical) && s.directory != nil {
		admins, err := s.directory.OrgAdmins(ctx, conflict.TenantID)
		if err != nil {
			return nil, fmt.Errorf("resolve org admins: %w", err)
		}
		seen := map[string]struct{}{}
		for _, id := range recipients {
			seen[id] = struct{}{}
		}
		for _, id := range admins {
			if _, ok := seen[id]; !ok {
				recipients = append(recipients, id)
			}
		}
	}
	return recipients, nil
}

// dispatch groups recipients by preferred channel and writes one pending
// record per channel.
func (s *NotificationService) dispatch(ctx context.Context, seed, tenantID string, notifyType models.NotificationType, appointmentID, conflictID *string, recipients []string, payload json.RawMessage, scheduledFor time.Time) error {
	if len(recipients) == 0 {
		return nil
	}

	prefs := map[string]models.NotificationChannel{}
	if s.directory != nil {
		loaded, err := s.directory.ChannelPreferences(ctx, tenantID, recipients)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("channel preference lookup failed, using default channel", zap.Error(err))
			}
		} else {
			prefs = loaded
		}
	}

	byChannel := map[models.NotificationChannel][]string{}
	for _, id := range recipients {
		channel, ok := prefs[id]
		if !ok {
			channel = s.defaultChannel
		}
		byChannel[channel] = append(byChannel[channel], id)
	}

	for channel, ids := range byChannel {
		n := &models.ScheduleNotification{
			ID:            notificationID(seed, notifyType, channel),
			TenantID:      tenantID,
			Type:          notifyType,
			AppointmentID: appointmentID,
			ConflictID:    conflictID,
			Recipients:    models.RecipientList(ids),
			Channel:       channel,
			Payload:       payload,
			ScheduledFor:  scheduledFor,
			Status:        models.NotificationPending,
		}
		if err := s.repo.Insert(ctx, n); err != nil {
			return fmt.Errorf("insert %s notification: %w", notifyType, err)
		}
		if s.metrics != nil {
			s.metrics.RecordNotificationEnqueued()
		}
	}
	return nil
}

// notificationID derives a stable id so event redelivery cannot duplicate
// rows.
func notificationID(seed string, notifyType models.NotificationType, channel models.NotificationChannel) string {
	name := fmt.Sprintf("%s:%s:%s", seed, notifyType, channel)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
