// Package authz carries the request-scoped actor (id + role) that every core
// operation receives explicitly, and the role → capability table the core
// consults instead of comparing role names.
package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient   Role = "patient"
	RoleAdmission Role = "admission"
	RoleDoctor    Role = "doctor"
	RoleAdmin     Role = "admin"
)

type Capability string

const (
	CapBookAppointment  Capability = "appointment.book"
	CapCancelOwn        Capability = "appointment.cancel_own"
	CapCancelAny        Capability = "appointment.cancel_any"
	CapConfirm          Capability = "appointment.confirm"
	CapComplete         Capability = "appointment.complete"
	CapReassignStaff    Capability = "appointment.reassign"
	CapReprogram        Capability = "appointment.reprogram"
	CapViewAllAppts     Capability = "appointment.view_all"
	CapProgramSlots     Capability = "slot.program"
	CapApproveSlots     Capability = "slot.approve"
	CapDeleteSlots      Capability = "slot.delete"
	CapAutoApproveSlots Capability = "slot.auto_approve"
	CapViewPenalties    Capability = "penalty.view_all"
)

var capabilities = map[Role]map[Capability]bool{
	RolePatient: {
		CapBookAppointment: true,
		CapCancelOwn:       true,
	},
	RoleAdmission: {
		CapCancelAny:     true,
		CapConfirm:       true,
		CapReassignStaff: true,
		CapReprogram:     true,
		CapViewAllAppts:  true,
		CapProgramSlots:  true,
		CapViewPenalties: true,
	},
	RoleDoctor: {
		CapComplete:     true,
		CapViewAllAppts: true,
	},
	RoleAdmin: {
		CapCancelAny:        true,
		CapConfirm:          true,
		CapReassignStaff:    true,
		CapReprogram:        true,
		CapViewAllAppts:     true,
		CapProgramSlots:     true,
		CapApproveSlots:     true,
		CapDeleteSlots:      true,
		CapAutoApproveSlots: true,
		CapViewPenalties:    true,
	},
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := capabilities[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	_, ok := capabilities[r]
	return ok
}

func (r Role) IsStaff() bool {
	return r == RoleAdmission || r == RoleDoctor || r == RoleAdmin
}

// Actor is the authenticated caller as supplied by the session collaborator.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) Can(c Capability) bool {
	return capabilities[a.Role][c]
}

func (a Actor) Valid() bool {
	return a.ID != uuid.Nil && a.Role.Valid()
}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%s", a.Role, a.ID)
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
