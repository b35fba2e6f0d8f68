package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Instructor is one staff assignment on a session, in display order.
type Instructor struct {
	ID   string `json:"id" validate:"required"`
	Role string `json:"role" validate:"required"`
}

// Instructors is stored as a JSONB array.
type Instructors []Instructor

// Value implements driver.Valuer.
func (i Instructors) Value() (driver.Value, error) {
	if i == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(i)
}

// Scan implements sql.Scanner.
func (i *Instructors) Scan(src interface{}) error {
	return scanJSON(src, i)
}

// ScheduleSlot is a recurring meeting time such as Mon 09:00-11:00.
type ScheduleSlot struct {
	Day      string `json:"day" validate:"required"`
	Timeslot string `json:"timeslot" validate:"required"`
}

// Schedule is stored as a JSONB array.
type Schedule []ScheduleSlot

// Value implements driver.Valuer.
func (s Schedule) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *Schedule) Scan(src interface{}) error {
	return scanJSON(src, s)
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}

// Session is a capacity-bounded instance of a course. NumStudents caches the
// number of pending or confirmed enrollments.
type Session struct {
	ID          string      `db:"id" json:"id"`
	CourseID    string      `db:"course_id" json:"course_id"`
	Capacity    int         `db:"capacity" json:"capacity"`
	NumStudents int         `db:"num_students" json:"num_students"`
	Instructors Instructors `db:"instructors" json:"instructors"`
	Schedule    Schedule    `db:"schedule" json:"schedule"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time  `db:"updated_at" json:"updated_at,omitempty"`
}

// HasCapacity reports whether one more enrollment fits.
func (s Session) HasCapacity() bool {
	return s.NumStudents < s.Capacity
}

// SessionCapacity summarises seat usage of a session.
type SessionCapacity struct {
	SessionID   string `json:"session_id"`
	HasCapacity bool   `json:"has_capacity"`
	Current     int    `json:"current"`
	Capacity    int    `json:"capacity"`
}
