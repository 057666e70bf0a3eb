package alloc

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"plantline/internal/domain"
)

// Override approval failures.
var (
	ErrUnauthorizedRole      = errors.New("unauthorized override attempt")
	ErrJustificationTooShort = errors.New("justification too short")
)

const minJustificationLength = 20

// DefaultAuthorizedRoles may approve constraint overrides.
var DefaultAuthorizedRoles = []string{"PLANT_MANAGER", "SAFETY_OFFICER", "OPERATIONS_DIRECTOR"}

// Registry validates and mints constraint overrides. It holds no state
// beyond the authorized role set; persistence belongs to the caller.
type Registry struct {
	AuthorizedRoles []string
}

func NewRegistry(roles []string) Registry {
	if len(roles) == 0 {
		roles = DefaultAuthorizedRoles
	}
	return Registry{AuthorizedRoles: roles}
}

// Approve validates the approval request and returns a new override with a
// fresh identifier. Role must be in the authorized set and the
// justification must carry at least 20 characters; nothing is mutated on
// failure.
func (r Registry) Approve(constraint, targetID, justification, approvedBy, role string, expiresAt time.Time) (domain.Override, error) {
	authorized := false
	for _, allowed := range r.AuthorizedRoles {
		if role == allowed {
			authorized = true
			break
		}
	}
	if !authorized {
		return domain.Override{}, ErrUnauthorizedRole
	}
	if len(justification) < minJustificationLength {
		return domain.Override{}, ErrJustificationTooShort
	}
	return domain.Override{
		ID:            uuid.New().String(),
		Constraint:    constraint,
		TargetID:      targetID,
		Justification: justification,
		ApprovedBy:    approvedBy,
		ApproverRole:  role,
		ExpiresAt:     expiresAt,
	}, nil
}

// Active filters the override set down to those still in force at now.
func Active(overrides []domain.Override, now time.Time) []domain.Override {
	var active []domain.Override
	for _, o := range overrides {
		if o.IsActive(now) {
			active = append(active, o)
		}
	}
	return active
}
