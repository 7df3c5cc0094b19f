// Package policy contiene DTOs para la política MFA por organización.
package policy

import "time"

// UpdateRequest reemplaza la política de la organización del caller.
type UpdateRequest struct {
	MFARequired     bool     `json:"mfa_required"`
	RequiredRoles   []string `json:"required_roles,omitempty" validate:"omitempty,dive,oneof=ADMIN PROVIDER STAFF BILLING PATIENT SERVICE"`
	GracePeriodDays int      `json:"grace_period_days" validate:"gte=0,lte=365"`
}

// Response describe la política vigente.
type Response struct {
	OrganizationID  string    `json:"organization_id"`
	MFARequired     bool      `json:"mfa_required"`
	RequiredRoles   []string  `json:"required_roles"`
	GracePeriodDays int       `json:"grace_period_days"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
	UpdatedBy       string    `json:"updated_by,omitempty"`
}
