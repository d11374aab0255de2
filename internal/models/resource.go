package models

import "time"

// ResourceType enumerates the kinds of bookable assets.
type ResourceType string

const (
	ResourceRoom      ResourceType = "room"
	ResourceEquipment ResourceType = "equipment"
	ResourceVehicle   ResourceType = "vehicle"
	ResourcePerson    ResourceType = "person"
	ResourceService   ResourceType = "service"
)

// Resource is a bookable asset. Resources are soft-deactivated, never hard
// deleted while historical appointments reference them.
type Resource struct {
	ID          string       `db:"id" json:"id"`
	TenantID    string       `db:"tenant_id" json:"tenant_id"`
	Name        string       `db:"name" json:"name"`
	Type        ResourceType `db:"type" json:"type"`
	Capacity    int          `db:"capacity" json:"capacity"`
	IsActive    bool         `db:"is_active" json:"is_active"`
	IsAvailable bool         `db:"is_available" json:"is_available"`
	HourlyRate  float64      `db:"hourly_rate" json:"hourly_rate"`
	DailyRate   float64      `db:"daily_rate" json:"daily_rate"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`

	MaintenanceWindows []MaintenanceWindow `db:"-" json:"maintenance_windows,omitempty"`
}

// Bookable reports whether the resource can accept new bookings at all.
// Maintenance-window overlap is checked separately against the candidate
// window.
func (r *Resource) Bookable() bool {
	return r.IsActive && r.IsAvailable
}

// MaintenanceWindow blocks a resource for a period.
type MaintenanceWindow struct {
	ID         string    `db:"id" json:"id"`
	ResourceID string    `db:"resource_id" json:"resource_id"`
	StartTime  time.Time `db:"start_time" json:"start_time"`
	EndTime    time.Time `db:"end_time" json:"end_time"`
	Reason     *string   `db:"reason" json:"reason,omitempty"`
}

// ResourceFilter describes query params for listing resources.
type ResourceFilter struct {
	TenantID string
	Type     ResourceType
	Active   *bool
	Search   string
	Page     int
	PageSize int
}
