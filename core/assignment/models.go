package assignment

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/cinderella/core"
)

// Submission statuses
const (
	StatusPending   = "pending"
	StatusSubmitted = "submitted"
	StatusGraded    = "graded"
)

// Due date filters
const (
	DueUpcoming = "upcoming"
	DueOverdue  = "overdue"
)

type Assignment struct {
	ID           int         `json:"id" db:"id"`
	TeacherID    int         `json:"teacher_id" db:"teacher_id"`
	Title        string      `json:"title" db:"title"`
	Description  string      `json:"description" db:"description"`
	Instructions string      `json:"instructions" db:"instructions"`
	ClassName    string      `json:"class_name" db:"class_name"`
	DueDate      time.Time   `json:"due_date" db:"due_date"`           // UTC
	DocumentPath null.String `json:"document_path" db:"document_path"` // uploaded document path or URL
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`       // UTC
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`       // UTC
}

func (a Assignment) IsOverdue(now time.Time) bool {
	return a.DueDate.Before(now)
}

type Submission struct {
	ID           int          `json:"id" db:"id"`
	AssignmentID int          `json:"assignment_id" db:"assignment_id"`
	StudentID    int          `json:"student_id" db:"student_id"`
	DocumentPath string       `json:"document_path" db:"document_path"`
	Status       string       `json:"status" db:"status"`
	Grade        null.Float64 `json:"grade" db:"grade"`
	Feedback     string       `json:"feedback" db:"feedback"`
	SubmittedAt  time.Time    `json:"submitted_at" db:"submitted_at"` // UTC
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`     // UTC
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`     // UTC
}

// SubmissionDetail is a Submission along with its assignment and student.
type SubmissionDetail struct {
	Submission

	AssignmentTitle string    `json:"assignment_title" db:"assignment_title"`
	AssignmentClass string    `json:"assignment_class" db:"assignment_class"`
	DueDate         time.Time `json:"due_date" db:"due_date"`
	StudentName     string    `json:"student_name" db:"student_name"`
	StudentEmail    string    `json:"student_email" db:"student_email"`
	StudentClass    string    `json:"student_class" db:"student_class"`
}

// StudentAssignment is an assignment of a student's class along with the student's submission, if any.
type StudentAssignment struct {
	Assignment

	SubmissionID     null.Int     `json:"submission_id" db:"submission_id"`
	SubmissionStatus string       `json:"submission_status" db:"submission_status"`
	SubmittedAt      null.Time    `json:"submitted_at" db:"submitted_at"`
	Grade            null.Float64 `json:"grade" db:"grade"`
	Feedback         string       `json:"feedback" db:"feedback"`
}

type TeacherStats struct {
	TotalAssignments int `json:"total_assignments" db:"total_assignments"`
	Upcoming         int `json:"upcoming" db:"upcoming"`
	Overdue          int `json:"overdue" db:"overdue"`
	TotalClasses     int `json:"total_classes" db:"total_classes"`
	TotalSubmissions int `json:"total_submissions" db:"total_submissions"`
	PendingGrading   int `json:"pending_grading" db:"pending_grading"`
}

// NewAssignment contains information needed to create a new Assignment.
type NewAssignment struct {
	TeacherID    int       `json:"-"`
	Title        string    `json:"title" validate:"required,max=255"`
	Description  string    `json:"description"`
	Instructions string    `json:"instructions"`
	ClassName    string    `json:"class_name" validate:"required,max=100"`
	DueDate      time.Time `json:"due_date" validate:"required"`
	DocumentPath string    `json:"document_path" validate:"max=500"`
}

func (na *NewAssignment) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	na.Instructions = core.CleanString(na.Instructions)
	na.ClassName = core.CleanString(na.ClassName)
	na.DocumentPath = core.CleanString(na.DocumentPath)
	return validate.Struct(na)
}

// UpdateAssignment defines what information may be provided to modify an existing Assignment.
// Nil fields are left untouched.
type UpdateAssignment struct {
	Title        *string    `json:"title" validate:"omitempty,min=1,max=255"`
	Description  *string    `json:"description"`
	Instructions *string    `json:"instructions"`
	ClassName    *string    `json:"class_name" validate:"omitempty,min=1,max=100"`
	DueDate      *time.Time `json:"due_date"`
	DocumentPath *string    `json:"document_path" validate:"omitempty,max=500"`
}

func (ua *UpdateAssignment) Validate(validate *validator.Validate) error {
	for _, fld := range []*string{ua.Title, ua.Description, ua.Instructions, ua.ClassName, ua.DocumentPath} {
		if fld != nil {
			*fld = core.CleanString(*fld)
		}
	}
	return validate.Struct(ua)
}

// NewSubmission is a student's (re)submission of an assignment.
type NewSubmission struct {
	AssignmentID int    `json:"assignment_id" validate:"required,gt=0"`
	StudentID    int    `json:"-"`
	DocumentPath string `json:"document_path" validate:"required,max=500"`
}

func (ns *NewSubmission) Validate(validate *validator.Validate) error {
	ns.DocumentPath = core.CleanString(ns.DocumentPath)
	return validate.Struct(ns)
}

type GradeSubmission struct {
	Grade    *float64 `json:"grade" validate:"required,gte=0,lte=100"`
	Feedback string   `json:"feedback" validate:"max=5000"`
}

func (gs *GradeSubmission) Validate(validate *validator.Validate) error {
	gs.Feedback = core.CleanString(gs.Feedback)
	return validate.Struct(gs)
}

type QueryFilter struct {
	ClassName string `query:"class_name"`
	TeacherID int    `query:"teacher_id"`
	Due       string `query:"status" validate:"omitempty,oneof=upcoming overdue"`
	Limit     int    `query:"limit" validate:"gte=0,lte=100"`
	Offset    int    `query:"offset" validate:"gte=0"`
}

func (qf *QueryFilter) Validate(validate *validator.Validate) error {
	qf.ClassName = core.CleanString(qf.ClassName)
	qf.Due = core.CleanString(qf.Due, true /* lower */)
	return validate.Struct(qf)
}

// StudentFilter filters the assignments of a student by the status of their submission.
type StudentFilter struct {
	Status string `query:"status" validate:"omitempty,oneof=pending submitted graded"`
}

type Service interface {
	Create(ctx context.Context, na NewAssignment) (Assignment, error)
	Query(ctx context.Context, filter QueryFilter) ([]Assignment, int, error)
	GetByID(ctx context.Context, id int) (Assignment, error)
	Update(ctx context.Context, asgmt Assignment, ua UpdateAssignment) (Assignment, error)
	Delete(ctx context.Context, id int) error
	TeacherStats(ctx context.Context, teacherID int) (TeacherStats, error)
	QueryForStudent(ctx context.Context, studentID int, className string, filter StudentFilter) ([]StudentAssignment, error)

	Submit(ctx context.Context, ns NewSubmission) (sub Submission, created bool, err error)
	GetSubmission(ctx context.Context, id int) (Submission, error)
	QuerySubmissionsByAssignment(ctx context.Context, assignmentID int) ([]SubmissionDetail, error)
	QuerySubmissionsByTeacher(ctx context.Context, teacherID int) ([]SubmissionDetail, error)
	Grade(ctx context.Context, sub Submission, gs GradeSubmission) (Submission, error)
	DeleteSubmission(ctx context.Context, id int) error
}
