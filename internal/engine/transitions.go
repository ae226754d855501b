package engine

import (
	"fmt"

	"dreamie/internal/domain"
	"dreamie/internal/engine/auth"
)

type role int

const (
	roleStaff role = iota
	roleOwner
	roleOwnerOrStaff
	roleSystem
)

type rule struct {
	from []domain.Status
	to   domain.Status
	role role
	// forceable rules accept any open source status when the staff actor forces.
	forceable bool
}

var openStatuses = []domain.Status{
	domain.StatusPending,
	domain.StatusProcessing,
	domain.StatusApproved,
	domain.StatusFound,
	domain.StatusReady,
}

var transitions = map[domain.Action]rule{
	domain.ActionApprove: {
		from: []domain.Status{domain.StatusPending},
		to:   domain.StatusApproved,
		role: roleStaff,
	},
	domain.ActionClaim: {
		from: []domain.Status{domain.StatusPending, domain.StatusApproved},
		to:   domain.StatusProcessing,
		role: roleStaff,
	},
	domain.ActionDeny: {
		from: []domain.Status{domain.StatusPending, domain.StatusApproved, domain.StatusProcessing},
		to:   domain.StatusRejected,
		role: roleStaff,
	},
	domain.ActionFind: {
		from: []domain.Status{domain.StatusApproved, domain.StatusProcessing},
		to:   domain.StatusFound,
		role: roleStaff,
	},
	domain.ActionCloseOut: {
		from:      []domain.Status{domain.StatusReady},
		to:        domain.StatusClosed,
		role:      roleStaff,
		forceable: true,
	},
	domain.ActionMarkReady: {
		from: []domain.Status{domain.StatusFound},
		to:   domain.StatusReady,
		role: roleOwner,
	},
	domain.ActionCancel: {
		from: openStatuses,
		to:   domain.StatusCancel,
		role: roleOwnerOrStaff,
	},
	domain.ActionExpire: {
		from: []domain.Status{domain.StatusReady},
		to:   domain.StatusClosed,
		role: roleSystem,
	},
}

// StaffOnly reports whether action requires a staff actor.
func StaffOnly(action domain.Action) bool {
	r, ok := transitions[action]
	return ok && r.role == roleStaff
}

// Targets lists the statuses action can move an application out of.
func Targets(action domain.Action) []domain.Status {
	return append([]domain.Status(nil), transitions[action].from...)
}

func (r rule) authorize(action domain.Action, actor domain.Actor, app domain.Application) error {
	switch r.role {
	case roleStaff:
		if actor.Staff {
			return nil
		}
		return auth.ForbiddenError{Action: string(action), Reason: "staff only"}
	case roleOwner:
		if actor.Owns(app) {
			return nil
		}
		return auth.ForbiddenError{Action: string(action), Reason: "only the requester can do this"}
	case roleOwnerOrStaff:
		if actor.Staff || actor.Owns(app) {
			return nil
		}
		return auth.ForbiddenError{Action: string(action), Reason: "only the requester or staff can do this"}
	case roleSystem:
		if actor.System {
			return nil
		}
		return auth.ForbiddenError{Action: string(action), Reason: "automatic only"}
	}
	return auth.ForbiddenError{Action: string(action)}
}

func (r rule) allows(action domain.Action, current domain.Status, force bool) error {
	for _, s := range r.from {
		if s == current {
			return nil
		}
	}
	if force && r.forceable && current.IsOpen() {
		return nil
	}
	return fmt.Errorf("%w: cannot %s an application in %s", ErrInvalidTransition, action, current)
}

// stamps reports whether the actor becomes the assigned staff.
func (r rule) stamps(actor domain.Actor, app domain.Application) bool {
	switch r.role {
	case roleStaff, roleSystem:
		return true
	case roleOwnerOrStaff:
		return actor.Staff && !actor.Owns(app)
	}
	return false
}
