package users

import "time"

// User represents a registered account. Registration and login live outside
// this service; Herald only reads the table.
type User struct {
	ID         int64
	Email      string
	Name       string
	IsActive   bool
	IsOperator bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
