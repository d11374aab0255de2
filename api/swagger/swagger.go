package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Scheduling Engine API",
        "description": "Appointment scheduling and conflict-resolution engine",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Appointments", "description": "Appointment booking and lifecycle"},
        {"name": "Conflicts", "description": "Detected schedule conflicts and resolution"},
        {"name": "Rules", "description": "Scheduling rule administration"},
        {"name": "Templates", "description": "Reusable appointment defaults"},
        {"name": "Availability", "description": "Free-slot lookups"},
        {"name": "Analytics", "description": "Rollup snapshots and exports"}
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/appointments": {
            "get": {
                "tags": ["Appointments"],
                "summary": "List appointments",
                "parameters": [
                    {"name": "resourceId", "in": "query", "type": "string"},
                    {"name": "teamId", "in": "query", "type": "string"},
                    {"name": "userId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "to", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "sort", "in": "query", "type": "string"},
                    {"name": "order", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Appointments"],
                "summary": "Book an appointment",
                "description": "Hard rule violations reject the request with 422. Detected overlaps are recorded as pending conflicts on the 201 response unless strict mode is enabled.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateAppointmentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflict detected (strict mode)"},
                    "422": {"description": "Rule violation"}
                }
            }
        },
        "/appointments/{id}": {
            "get": {
                "tags": ["Appointments"],
                "summary": "Get appointment",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            },
            "put": {
                "tags": ["Appointments"],
                "summary": "Update appointment",
                "description": "Window changes re-run the full booking checks and may record fresh conflicts.",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateAppointmentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition"},
                    "422": {"description": "Rule violation"}
                }
            }
        },
        "/appointments/{id}/confirm": {
            "post": {
                "tags": ["Appointments"],
                "summary": "Confirm appointment",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Invalid transition"}
                }
            }
        },
        "/appointments/{id}/start": {
            "post": {
                "tags": ["Appointments"],
                "summary": "Start appointment",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Invalid transition"}
                }
            }
        },
        "/appointments/{id}/complete": {
            "post": {
                "tags": ["Appointments"],
                "summary": "Complete appointment",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Invalid transition"}
                }
            }
        },
        "/appointments/{id}/no-show": {
            "post": {
                "tags": ["Appointments"],
                "summary": "Mark no-show",
                "description": "Allowed only once the booked window has elapsed.",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Window not elapsed"}
                }
            }
        },
        "/appointments/{id}/cancel": {
            "post": {
                "tags": ["Appointments"],
                "summary": "Cancel appointment",
                "description": "Cancellation-policy rules (minimum notice) are enforced.",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/CancelRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "422": {"description": "Rule violation"}
                }
            }
        },
        "/appointments/{id}/reschedule": {
            "post": {
                "tags": ["Appointments"],
                "summary": "Reschedule appointment",
                "description": "Creates a linked replacement and marks the original rescheduled, atomically.",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RescheduleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Rule violation"}
                }
            }
        },
        "/appointments/{id}/notifications": {
            "get": {
                "tags": ["Appointments"],
                "summary": "List appointment notifications",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/conflicts": {
            "get": {
                "tags": ["Conflicts"],
                "summary": "List conflicts",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "impact", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/conflicts/{id}": {
            "get": {
                "tags": ["Conflicts"],
                "summary": "Get conflict",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/conflicts/{id}/resolve": {
            "post": {
                "tags": ["Conflicts"],
                "summary": "Apply a resolution action",
                "description": "Actions resolve, ignore and escalate. Guarded by an optimistic pending-status check; a lost race returns 409.",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ResolveConflictRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Stale conflict"}
                }
            }
        },
        "/rules": {
            "get": {
                "tags": ["Rules"],
                "summary": "List scheduling rules",
                "parameters": [
                    {"name": "kind", "in": "query", "type": "string"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Rules"],
                "summary": "Create rule (admin)",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRuleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "403": {"description": "Admin required"}
                }
            }
        },
        "/rules/{id}": {
            "get": {
                "tags": ["Rules"],
                "summary": "Get rule",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}
            },
            "put": {
                "tags": ["Rules"],
                "summary": "Update rule (admin)",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRuleRequest"}}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "delete": {
                "tags": ["Rules"],
                "summary": "Deactivate rule (admin)",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"204": {"description": "No content"}}
            }
        },
        "/rules/evaluate": {
            "post": {
                "tags": ["Rules"],
                "summary": "Dry-run rule evaluation",
                "description": "Evaluates a candidate appointment against the active rules without writing anything.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EvaluateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/templates": {
            "get": {
                "tags": ["Templates"],
                "summary": "List templates",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Templates"],
                "summary": "Create template (admin)",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateTemplateRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "403": {"description": "Admin required"}
                }
            }
        },
        "/templates/{id}": {
            "get": {
                "tags": ["Templates"],
                "summary": "Get template",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}
            }
        },
        "/availability": {
            "get": {
                "tags": ["Availability"],
                "summary": "Free slots for a resource or team",
                "description": "Exactly one of resourceId and teamId is required. Slots shorter than the configured grain are dropped.",
                "parameters": [
                    {"name": "resourceId", "in": "query", "type": "string"},
                    {"name": "teamId", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "required": true, "type": "string", "format": "date-time"},
                    {"name": "to", "in": "query", "required": true, "type": "string", "format": "date-time"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error"}
                }
            }
        },
        "/analytics": {
            "get": {
                "tags": ["Analytics"],
                "summary": "List snapshots",
                "parameters": [
                    {"name": "granularity", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "to", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/analytics/aggregate": {
            "post": {
                "tags": ["Analytics"],
                "summary": "Build a snapshot on demand (admin)",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AggregateRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "403": {"description": "Admin required"}
                }
            }
        },
        "/analytics/{id}": {
            "get": {
                "tags": ["Analytics"],
                "summary": "Get snapshot",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}
            }
        },
        "/analytics/{id}/export": {
            "get": {
                "tags": ["Analytics"],
                "summary": "Export snapshot",
                "description": "Renders the snapshot as csv or pdf and returns a signed download URL.",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/analytics/exports/{token}": {
            "get": {
                "tags": ["Analytics"],
                "summary": "Download a rendered export",
                "description": "The signed token authorizes the download; no bearer token is required.",
                "parameters": [{"name": "token", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "File attachment"},
                    "404": {"description": "Unknown or expired token"}
                }
            }
        }
    },
    "definitions": {
        "CreateAppointmentRequest": {
            "type": "object",
            "required": ["title", "start_time"],
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "start_time": {"type": "string", "format": "date-time"},
                "end_time": {"type": "string", "format": "date-time"},
                "timezone": {"type": "string"},
                "priority": {"type": "string", "enum": ["low", "normal", "high", "urgent"]},
                "team_id": {"type": "string"},
                "template_id": {"type": "string"},
                "resource_ids": {"type": "array", "items": {"type": "string"}},
                "user_ids": {"type": "array", "items": {"type": "string"}},
                "cost": {"type": "number"},
                "is_billable": {"type": "boolean"}
            }
        },
        "UpdateAppointmentRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "start_time": {"type": "string", "format": "date-time"},
                "end_time": {"type": "string", "format": "date-time"},
                "priority": {"type": "string"},
                "cost": {"type": "number"},
                "is_billable": {"type": "boolean"}
            }
        },
        "RescheduleRequest": {
            "type": "object",
            "required": ["start_time", "end_time"],
            "properties": {
                "start_time": {"type": "string", "format": "date-time"},
                "end_time": {"type": "string", "format": "date-time"},
                "reason": {"type": "string"}
            }
        },
        "CancelRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"}
            }
        },
        "ResolveConflictRequest": {
            "type": "object",
            "required": ["action"],
            "properties": {
                "action": {"type": "string", "enum": ["resolve", "ignore", "escalate"]},
                "notes": {"type": "string"}
            }
        },
        "CreateRuleRequest": {
            "type": "object",
            "required": ["name", "kind"],
            "properties": {
                "name": {"type": "string"},
                "kind": {"type": "string", "enum": ["working_hours", "blackout", "break_time", "maintenance", "capacity_limit", "advance_booking", "cancellation"]},
                "scope": {"type": "object"},
                "params": {"type": "object"},
                "valid_from": {"type": "string", "format": "date-time"},
                "valid_until": {"type": "string", "format": "date-time"},
                "is_active": {"type": "boolean"}
            }
        },
        "EvaluateRequest": {
            "type": "object",
            "required": ["operation", "start_time", "end_time"],
            "properties": {
                "operation": {"type": "string", "enum": ["create", "update", "cancel", "reschedule"]},
                "title": {"type": "string"},
                "start_time": {"type": "string", "format": "date-time"},
                "end_time": {"type": "string", "format": "date-time"},
                "timezone": {"type": "string"},
                "priority": {"type": "string"},
                "team_id": {"type": "string"},
                "resource_ids": {"type": "array", "items": {"type": "string"}},
                "user_ids": {"type": "array", "items": {"type": "string"}}
            }
        },
        "CreateTemplateRequest": {
            "type": "object",
            "required": ["name", "default_duration"],
            "properties": {
                "name": {"type": "string"},
                "default_duration": {"type": "integer"},
                "capacity": {"type": "integer"},
                "price": {"type": "number"},
                "is_billable": {"type": "boolean"},
                "recurrence": {"type": "string", "enum": ["none", "daily", "weekly", "monthly"]},
                "breaks": {"type": "array", "items": {"type": "object"}}
            }
        },
        "AggregateRequest": {
            "type": "object",
            "required": ["period_start", "granularity"],
            "properties": {
                "period_start": {"type": "string", "format": "date-time"},
                "granularity": {"type": "string", "enum": ["daily", "weekly", "monthly", "quarterly", "yearly"]}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
