package models

import (
	"slices"
	"time"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending   EnrollmentStatus = "pending"
	EnrollmentStatusConfirmed EnrollmentStatus = "confirmed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// ActiveEnrollmentStatuses are the statuses that occupy a seat.
var ActiveEnrollmentStatuses = []EnrollmentStatus{EnrollmentStatusPending, EnrollmentStatusConfirmed}

// Active reports whether the status occupies a seat.
func (s EnrollmentStatus) Active() bool {
	return slices.Contains(ActiveEnrollmentStatuses, s)
}

// PaymentStatus tracks settlement of an enrollment.
type PaymentStatus string

// Possible payment statuses.
const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Enrollment is a student's registration in one session.
type Enrollment struct {
	ID            string           `db:"id" json:"id"`
	StudentID     string           `db:"student_id" json:"student_id"`
	SessionID     string           `db:"session_id" json:"session_id"`
	CourseID      string           `db:"course_id" json:"course_id"`
	ParentID      string           `db:"parent_id" json:"parent_id"`
	Status        EnrollmentStatus `db:"status" json:"status"`
	PaymentStatus PaymentStatus    `db:"payment_status" json:"payment_status"`
	Amount        float64          `db:"amount" json:"amount"`
	TotalAmount   float64          `db:"total_amount" json:"total_amount"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     *time.Time       `db:"updated_at" json:"updated_at,omitempty"`
}

// EnrollmentDetail joins parent, student and course names onto an enrollment.
type EnrollmentDetail struct {
	Enrollment
	ParentName  string `db:"parent_name" json:"parent_name"`
	StudentName string `db:"student_name" json:"student_name"`
	CourseTitle string `db:"course_title" json:"course_title"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	SessionID string
	CourseID  string
	ParentID  string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
}

// Eligibility answers whether a student may enroll in a course.
type Eligibility struct {
	StudentID string `json:"student_id"`
	CourseID  string `json:"course_id"`
	Eligible  bool   `json:"eligible"`
	Reason    string `json:"reason"`
}
