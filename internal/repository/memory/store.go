// Package memory is an in-process registration store with optimistic
// concurrency control. Each transaction records the version of every document
// it reads and of the enrollment collection when it queries it; commit fails
// with repository.ErrTxConflict if any of them moved.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/course-registration-api/internal/models"
	"github.com/noah-isme/course-registration-api/internal/repository"
)

type docKey struct {
	collection string
	id         string
}

const (
	colSessions    = "sessions"
	colStudents    = "students"
	colCourses     = "courses"
	colEnrollments = "enrollments"
)

// Store holds sessions, students, courses, parents and enrollments in maps.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]models.Session
	students    map[string]models.Student
	courses     map[string]models.Course
	parents     map[string]string
	enrollments map[string]models.Enrollment
	versions    map[docKey]uint64
	// enrollmentSet moves on every enrollment write; queries over the
	// collection validate against it.
	enrollmentSet uint64
	commits       uint64
	conflicts     uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		sessions:    make(map[string]models.Session),
		students:    make(map[string]models.Student),
		courses:     make(map[string]models.Course),
		parents:     make(map[string]string),
		enrollments: make(map[string]models.Enrollment),
		versions:    make(map[docKey]uint64),
	}
}

// PutSession stores a session outside any transaction.
func (s *Store) PutSession(session models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	s.bump(docKey{colSessions, session.ID})
}

// PutStudent stores a student outside any transaction.
func (s *Store) PutStudent(student models.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[student.ID] = student
	s.bump(docKey{colStudents, student.ID})
}

// PutCourse stores a course outside any transaction.
func (s *Store) PutCourse(course models.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[course.ID] = course
	s.bump(docKey{colCourses, course.ID})
}

// PutParent records a parent display name used by joined reads.
func (s *Store) PutParent(id, fullName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parents[id] = fullName
}

// PutEnrollment stores an enrollment outside any transaction, bypassing the
// session counter. It models out-of-band writes that cause counter drift.
func (s *Store) PutEnrollment(enrollment models.Enrollment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments[enrollment.ID] = enrollment
	s.bump(docKey{colEnrollments, enrollment.ID})
	s.enrollmentSet++
}

// Session returns a copy of the stored session.
func (s *Store) Session(id string) (models.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Enrollment returns a copy of the stored enrollment.
func (s *Store) Enrollment(id string) (models.Enrollment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enrollment, ok := s.enrollments[id]
	return enrollment, ok
}

// Stats reports committed and conflicted transaction counts.
func (s *Store) Stats() (commits, conflicts uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits, s.conflicts
}

func (s *Store) bump(key docKey) {
	s.versions[key]++
}

// RunInTx executes fn against a private write buffer and commits it
// atomically if none of the observed versions changed.
func (s *Store) RunInTx(ctx context.Context, fn func(repository.RegistrationTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		store:       s,
		reads:       make(map[docKey]uint64),
		sessions:    make(map[string]models.Session),
		enrollments: make(map[string]models.Enrollment),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, version := range tx.reads {
		if s.versions[key] != version {
			s.conflicts++
			return repository.ErrTxConflict
		}
	}
	if tx.queried && s.enrollmentSet != tx.enrollmentSet {
		s.conflicts++
		return repository.ErrTxConflict
	}

	for id, session := range tx.sessions {
		s.sessions[id] = session
		s.bump(docKey{colSessions, id})
	}
	for id, enrollment := range tx.enrollments {
		s.enrollments[id] = enrollment
		s.bump(docKey{colEnrollments, id})
	}
	if len(tx.enrollments) > 0 {
		s.enrollmentSet++
	}
	s.commits++
	return nil
}

type memTx struct {
	store *Store

	reads         map[docKey]uint64
	queried       bool
	enrollmentSet uint64

	sessions    map[string]models.Session
	enrollments map[string]models.Enrollment
}

func (t *memTx) observe(key docKey) {
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = t.store.versions[key]
	}
}

func (t *memTx) observeEnrollmentSet() {
	if !t.queried {
		t.queried = true
		t.enrollmentSet = t.store.enrollmentSet
	}
}

func (t *memTx) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if session, ok := t.sessions[id]; ok {
		return &session, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.observe(docKey{colSessions, id})
	session, ok := t.store.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &session, nil
}

func (t *memTx) GetStudent(ctx context.Context, id string) (*models.Student, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.observe(docKey{colStudents, id})
	student, ok := t.store.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &student, nil
}

func (t *memTx) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.observe(docKey{colCourses, id})
	course, ok := t.store.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &course, nil
}

func (t *memTx) GetEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	if enrollment, ok := t.enrollments[id]; ok {
		return &enrollment, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.observe(docKey{colEnrollments, id})
	enrollment, ok := t.store.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &enrollment, nil
}

func (t *memTx) FindOpenEnrollment(ctx context.Context, studentID, sessionID string) (*models.Enrollment, error) {
	match := func(e models.Enrollment) bool {
		return e.StudentID == studentID && e.SessionID == sessionID && e.Status != models.EnrollmentStatusCancelled
	}
	for _, enrollment := range t.enrollments {
		if match(enrollment) {
			found := enrollment
			return &found, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.observeEnrollmentSet()
	for id, enrollment := range t.store.enrollments {
		if _, overwritten := t.enrollments[id]; overwritten {
			continue
		}
		if match(enrollment) {
			found := enrollment
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) CountActiveEnrollments(ctx context.Context, sessionID string) (int, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.observeEnrollmentSet()
	count := 0
	for id, enrollment := range t.store.enrollments {
		if pending, ok := t.enrollments[id]; ok {
			enrollment = pending
		}
		if enrollment.SessionID == sessionID && enrollment.Status.Active() {
			count++
		}
	}
	for id, enrollment := range t.enrollments {
		if _, stored := t.store.enrollments[id]; stored {
			continue
		}
		if enrollment.SessionID == sessionID && enrollment.Status.Active() {
			count++
		}
	}
	return count, nil
}

func (t *memTx) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	t.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (t *memTx) UpdateEnrollmentStatus(ctx context.Context, id string, status models.EnrollmentStatus, updatedAt time.Time) error {
	current, err := t.GetEnrollment(ctx, id)
	if err != nil {
		return err
	}
	current.Status = status
	stamp := updatedAt
	current.UpdatedAt = &stamp
	t.enrollments[id] = *current
	return nil
}

func (t *memTx) SetSessionNumStudents(ctx context.Context, sessionID string, numStudents int) error {
	current, err := t.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	current.NumStudents = numStudents
	now := time.Now().UTC()
	current.UpdatedAt = &now
	t.sessions[sessionID] = *current
	return nil
}

// Sessions exposes the session read/write side of the store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{store: s}
}

// Enrollments exposes the joined enrollment read side of the store.
func (s *Store) Enrollments() *EnrollmentRepository {
	return &EnrollmentRepository{store: s}
}

// SessionRepository mirrors repository.SessionRepository in memory.
type SessionRepository struct {
	store *Store
}

func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	r.store.PutSession(*session)
	return nil
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	session, ok := r.store.Session(id)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &session, nil
}

func (r *SessionRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Session, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var sessions []models.Session
	for _, session := range r.store.sessions {
		if session.CourseID == courseID {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (r *SessionRepository) UpdateInstructors(ctx context.Context, id string, instructors models.Instructors) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	session, ok := r.store.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	session.Instructors = append(models.Instructors(nil), instructors...)
	r.store.sessions[id] = session
	r.store.bump(docKey{colSessions, id})
	return nil
}

func (r *SessionRepository) ListIDs(ctx context.Context) ([]string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ids := make([]string, 0, len(r.store.sessions))
	for id := range r.store.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// EnrollmentRepository mirrors repository.EnrollmentRepository in memory.
type EnrollmentRepository struct {
	store *Store
}

func (r *EnrollmentRepository) detail(e models.Enrollment) models.EnrollmentDetail {
	return models.EnrollmentDetail{
		Enrollment:  e,
		ParentName:  r.store.parents[e.ParentID],
		StudentName: r.store.students[e.StudentID].FullName,
		CourseTitle: r.store.courses[e.CourseID].Title,
	}
}

func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var matched []models.EnrollmentDetail
	for _, e := range r.store.enrollments {
		if (filter.StudentID != "" && e.StudentID != filter.StudentID) ||
			(filter.SessionID != "" && e.SessionID != filter.SessionID) ||
			(filter.CourseID != "" && e.CourseID != filter.CourseID) ||
			(filter.ParentID != "" && e.ParentID != filter.ParentID) ||
			(filter.Status != "" && e.Status != filter.Status) {
			continue
		}
		matched = append(matched, r.detail(e))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	total := len(matched)
	start := (page - 1) * size
	if start >= total {
		return []models.EnrollmentDetail{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e, ok := r.store.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail := r.detail(e)
	return &detail, nil
}

func (r *EnrollmentRepository) ListRoster(ctx context.Context, sessionID string) ([]models.EnrollmentDetail, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var roster []models.EnrollmentDetail
	for _, e := range r.store.enrollments {
		if e.SessionID == sessionID && e.Status.Active() {
			roster = append(roster, r.detail(e))
		}
	}
	sort.Slice(roster, func(i, j int) bool {
		a, b := strings.ToLower(roster[i].StudentName), strings.ToLower(roster[j].StudentName)
		if a == b {
			return roster[i].CreatedAt.Before(roster[j].CreatedAt)
		}
		return a < b
	})
	return roster, nil
}
