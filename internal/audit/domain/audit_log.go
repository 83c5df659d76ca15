package domain

import "time"

// Entry is one recorded credential-lifecycle event for a subject.
type Entry struct {
	ID         string
	SubjectID  string
	Event      string // login, refresh, revoke_all
	DeviceInfo string
	CreatedAt  time.Time
}
