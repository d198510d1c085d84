package models

import "time"

// Program is a workforce training program learners enroll into.
type Program struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	TuitionCents int64     `db:"tuition_cents" json:"tuition_cents"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
