package models

import "time"

// EmployerSponsor is an employer that contractually covers tuition for its
// sponsored learners.
type EmployerSponsor struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
