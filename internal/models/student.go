package models

import "time"

// Student is a learner owned by a parent account.
type Student struct {
	ID          string    `db:"id" json:"id"`
	ParentID    string    `db:"parent_id" json:"parent_id"`
	FullName    string    `db:"full_name" json:"full_name"`
	DateOfBirth time.Time `db:"date_of_birth" json:"date_of_birth"`
	MedicalNote string    `db:"medical_note" json:"medical_note"`
	Active      bool      `db:"active" json:"active"`
}
