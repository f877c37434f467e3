package assignment

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
)

const defaultLimit = 50

var (
	// errors
	ErrNotFound           = errors.New("assignment not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrNoClass            = errors.New("student does not have a class assigned")
)

type Repository interface {
	CreateAssignment(ctx context.Context, asgmt Assignment) (Assignment, error)
	// QueryAssignments returns the page of assignments matching `filter`, latest due date first, and the total count.
	QueryAssignments(ctx context.Context, filter QueryFilter, now time.Time) ([]Assignment, int, error)
	GetAssignment(ctx context.Context, id int) (Assignment, error)
	UpdateAssignment(ctx context.Context, asgmt Assignment) (Assignment, error)
	DeleteAssignment(ctx context.Context, id int) error
	TeacherStats(ctx context.Context, teacherID int, now time.Time) (TeacherStats, error)
	QueryStudentAssignments(ctx context.Context, studentID int, className string, filter StudentFilter) ([]StudentAssignment, error)

	// UpsertSubmission creates the submission of (assignment, student) or replaces the submitted document.
	UpsertSubmission(ctx context.Context, sub Submission) (Submission, bool, error)
	GetSubmission(ctx context.Context, id int) (Submission, error)
	QuerySubmissions(ctx context.Context, assignmentID, teacherID int) ([]SubmissionDetail, error)
	UpdateSubmission(ctx context.Context, sub Submission) (Submission, error)
	DeleteSubmission(ctx context.Context, id int) error
}

type service struct {
	repo    Repository
	nowFunc func() time.Time // mockable
}

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo, nowFunc: time.Now}
}

func (svc *service) now() time.Time {
	return svc.nowFunc().UTC().Truncate(time.Microsecond)
}

func (svc *service) Create(ctx context.Context, na NewAssignment) (Assignment, error) {
	now := svc.now()
	return svc.repo.CreateAssignment(ctx, Assignment{
		TeacherID:    na.TeacherID,
		Title:        na.Title,
		Description:  na.Description,
		Instructions: na.Instructions,
		ClassName:    na.ClassName,
		DueDate:      na.DueDate.UTC(),
		DocumentPath: null.NewString(na.DocumentPath, na.DocumentPath != ""),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (svc *service) Query(ctx context.Context, filter QueryFilter) ([]Assignment, int, error) {
	if filter.Limit == 0 {
		filter.Limit = defaultLimit
	}
	return svc.repo.QueryAssignments(ctx, filter, svc.now())
}

func (svc *service) GetByID(ctx context.Context, id int) (Assignment, error) {
	return svc.repo.GetAssignment(ctx, id)
}

func (svc *service) Update(ctx context.Context, asgmt Assignment, ua UpdateAssignment) (Assignment, error) {
	if ua.Title != nil {
		asgmt.Title = *ua.Title
	}
	if ua.Description != nil {
		asgmt.Description = *ua.Description
	}
	if ua.Instructions != nil {
		asgmt.Instructions = *ua.Instructions
	}
	if ua.ClassName != nil {
		asgmt.ClassName = *ua.ClassName
	}
	if ua.DueDate != nil {
		asgmt.DueDate = ua.DueDate.UTC()
	}
	if ua.DocumentPath != nil {
		asgmt.DocumentPath = null.NewString(*ua.DocumentPath, *ua.DocumentPath != "")
	}
	asgmt.UpdatedAt = svc.now()
	return svc.repo.UpdateAssignment(ctx, asgmt)
}

func (svc *service) Delete(ctx context.Context, id int) error {
	return svc.repo.DeleteAssignment(ctx, id)
}

func (svc *service) TeacherStats(ctx context.Context, teacherID int) (TeacherStats, error) {
	return svc.repo.TeacherStats(ctx, teacherID, svc.now())
}

func (svc *service) QueryForStudent(ctx context.Context, studentID int, className string, filter StudentFilter) ([]StudentAssignment, error) {
	if className == "" {
		return nil, ErrNoClass
	}
	return svc.repo.QueryStudentAssignments(ctx, studentID, className, filter)
}

func (svc *service) Submit(ctx context.Context, ns NewSubmission) (Submission, bool, error) {
	if _, err := svc.repo.GetAssignment(ctx, ns.AssignmentID); err != nil {
		return Submission{}, false, err
	}
	now := svc.now()
	return svc.repo.UpsertSubmission(ctx, Submission{
		AssignmentID: ns.AssignmentID,
		StudentID:    ns.StudentID,
		DocumentPath: ns.DocumentPath,
		Status:       StatusSubmitted,
		SubmittedAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (svc *service) GetSubmission(ctx context.Context, id int) (Submission, error) {
	return svc.repo.GetSubmission(ctx, id)
}

func (svc *service) QuerySubmissionsByAssignment(ctx context.Context, assignmentID int) ([]SubmissionDetail, error) {
	return svc.repo.QuerySubmissions(ctx, assignmentID, 0)
}

func (svc *service) QuerySubmissionsByTeacher(ctx context.Context, teacherID int) ([]SubmissionDetail, error) {
	return svc.repo.QuerySubmissions(ctx, 0, teacherID)
}

func (svc *service) Grade(ctx context.Context, sub Submission, gs GradeSubmission) (Submission, error) {
	sub.Grade = null.Float64FromPtr(gs.Grade)
	sub.Feedback = gs.Feedback
	sub.Status = StatusGraded
	sub.UpdatedAt = svc.now()
	return svc.repo.UpdateSubmission(ctx, sub)
}

func (svc *service) DeleteSubmission(ctx context.Context, id int) error {
	return svc.repo.DeleteSubmission(ctx, id)
}
