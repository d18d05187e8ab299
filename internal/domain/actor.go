package domain

import (
	"strings"

	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
)

// Actor is the authenticated caller as resolved by the host application.
// The engine never looks past id and role.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Validate rejects malformed actors with a ForbiddenError.
func (a Actor) Validate() error {
	if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Role) == "" {
		return errors.Forbidden("actor id and role are required")
	}
	return nil
}

// HasRole compares roles case-insensitively.
func (a Actor) HasRole(role string) bool {
	return strings.EqualFold(strings.TrimSpace(a.Role), strings.TrimSpace(role))
}
