package entity

import "time"

// Group is a named role group (alumno, maestro, administrador...)
// Many-to-many with Account via account_groups
type Group struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}
