package domain

import (
	"errors"
	"time"
)

// ErrSystemRole is returned when a mutation targets a role marked system.
var ErrSystemRole = errors.New("system roles cannot be deleted")

// Role is a named bundle of permissions. System roles are seeded and
// non-deletable.
type Role struct {
	ID        string
	Name      string
	System    bool
	DeletedAt *time.Time
}

// Permission is a globally unique (resource, action) pair.
type Permission struct {
	ID        string
	Resource  string
	Action    string
	DeletedAt *time.Time
}

// Name renders the permission in its wire form, resource:action.
func (p *Permission) Name() string {
	return p.Resource + ":" + p.Action
}

// Assignment links a subject to a role, optionally until ExpiresAt.
type Assignment struct {
	SubjectID string
	RoleID    string
	ExpiresAt *time.Time
	CreatedAt time.Time
}
