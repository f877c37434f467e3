package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/cinderella/core"
	"github.com/trezcool/cinderella/core/assignment"
)

const (
	assignmentColumns = `id, teacher_id, title, description, instructions, class_name, due_date, document_path,
		created_at, updated_at`
	submissionColumns = `id, assignment_id, student_id, document_path, status, grade, feedback, submitted_at,
		created_at, updated_at`
)

type assignmentRepository struct {
	exec core.DBExecutor
}

var _ assignment.Repository = (*assignmentRepository)(nil) // interface compliance check

func NewAssignmentRepository(exec core.DBExecutor) assignment.Repository {
	return &assignmentRepository{exec: exec}
}

func trapNoRows(err error, notFoundErr error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFoundErr
	}
	return errors.Wrap(err, msg)
}

func (repo assignmentRepository) CreateAssignment(ctx context.Context, asgmt assignment.Assignment) (assignment.Assignment, error) {
	q := `INSERT INTO assignments (teacher_id, title, description, instructions, class_name, due_date, document_path, created_at, updated_at)
		VALUES (:teacher_id, :title, :description, :instructions, :class_name, :due_date, :document_path, :created_at, :updated_at)
		RETURNING id`

	rows, err := sqlx.NamedQueryContext(ctx, repo.exec, q, asgmt)
	if err != nil {
		return assignment.Assignment{}, errors.Wrap(err, "inserting assignment")
	}
	defer func() { _ = rows.Close() }()

	if rows.Next() {
		if err = rows.Scan(&asgmt.ID); err != nil {
			return assignment.Assignment{}, errors.Wrap(err, "scanning assignment ID")
		}
	}
	return asgmt, errors.Wrap(rows.Err(), "inserting assignment")
}

func (repo assignmentRepository) QueryAssignments(ctx context.Context, filter assignment.QueryFilter, now time.Time) ([]assignment.Assignment, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ClassName != "" {
		where = append(where, "class_name ILIKE ?")
		args = append(args, filter.ClassName)
	}
	if filter.TeacherID != 0 {
		where = append(where, "teacher_id = ?")
		args = append(args, filter.TeacherID)
	}
	switch filter.Due {
	case assignment.DueUpcoming:
		where = append(where, "due_date >= ?")
		args = append(args, now)
	case assignment.DueOverdue:
		where = append(where, "due_date < ?")
		args = append(args, now)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := sqlx.GetContext(ctx, repo.exec, &total, repo.exec.Rebind("SELECT COUNT(*) FROM assignments"+whereClause), args...); err != nil {
		return nil, 0, errors.Wrap(err, "counting assignments")
	}

	q := "SELECT " + assignmentColumns + " FROM assignments" + whereClause + " ORDER BY due_date DESC, id DESC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	q += " OFFSET ?"
	args = append(args, filter.Offset)

	asgmts := make([]assignment.Assignment, 0)
	if err := sqlx.SelectContext(ctx, repo.exec, &asgmts, repo.exec.Rebind(q), args...); err != nil {
		return nil, 0, errors.Wrap(err, "querying assignments")
	}
	return asgmts, total, nil
}

func (repo assignmentRepository) GetAssignment(ctx context.Context, id int) (assignment.Assignment, error) {
	var asgmt assignment.Assignment
	q := "SELECT " + assignmentColumns + " FROM assignments WHERE id = $1"
	if err := sqlx.GetContext(ctx, repo.exec, &asgmt, q, id); err != nil {
		return assignment.Assignment{}, trapNoRows(err, assignment.ErrNotFound, "finding assignment")
	}
	return asgmt, nil
}

func (repo assignmentRepository) UpdateAssignment(ctx context.Context, asgmt assignment.Assignment) (assignment.Assignment, error) {
	q := `UPDATE assignments SET title = :title, description = :description, instructions = :instructions,
		class_name = :class_name, due_date = :due_date, document_path = :document_path, updated_at = :updated_at
		WHERE id = :id`

	res, err := sqlx.NamedExecContext(ctx, repo.exec, q, asgmt)
	if err != nil {
		return assignment.Assignment{}, errors.Wrap(err, "updating assignment")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	return asgmt, nil
}

func (repo assignmentRepository) DeleteAssignment(ctx context.Context, id int) error {
	res, err := repo.exec.ExecContext(ctx, "DELETE FROM assignments WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return assignment.ErrNotFound
	}
	return nil
}

func (repo assignmentRepository) TeacherStats(ctx context.Context, teacherID int, now time.Time) (assignment.TeacherStats, error) {
	q := `SELECT
			COUNT(*) AS total_assignments,
			COUNT(*) FILTER (WHERE a.due_date >= $2) AS upcoming,
			COUNT(*) FILTER (WHERE a.due_date < $2) AS overdue,
			COUNT(DISTINCT a.class_name) AS total_classes,
			(SELECT COUNT(*) FROM submissions s INNER JOIN assignments sa ON sa.id = s.assignment_id
				WHERE sa.teacher_id = $1) AS total_submissions,
			(SELECT COUNT(*) FROM submissions s INNER JOIN assignments sa ON sa.id = s.assignment_id
				WHERE sa.teacher_id = $1 AND s.status = 'submitted') AS pending_grading
		FROM assignments a
		WHERE a.teacher_id = $1`

	var stats assignment.TeacherStats
	if err := sqlx.GetContext(ctx, repo.exec, &stats, q, teacherID, now); err != nil {
		return assignment.TeacherStats{}, errors.Wrap(err, "computing teacher stats")
	}
	return stats, nil
}

func (repo assignmentRepository) QueryStudentAssignments(ctx context.Context, studentID int, className string, filter assignment.StudentFilter) ([]assignment.StudentAssignment, error) {
	q := `SELECT a.id, a.teacher_id, a.title, a.description, a.instructions, a.class_name, a.due_date, a.document_path,
			a.created_at, a.updated_at,
			s.id AS submission_id, COALESCE(s.status, '') AS submission_status, s.submitted_at, s.grade,
			COALESCE(s.feedback, '') AS feedback
		FROM assignments a
		LEFT JOIN submissions s ON s.assignment_id = a.id AND s.student_id = $1
		WHERE a.class_name ILIKE $2`

	switch filter.Status {
	case assignment.StatusPending:
		q += " AND (s.status IS NULL OR s.status = 'pending')"
	case assignment.StatusSubmitted:
		q += " AND s.status = 'submitted'"
	case assignment.StatusGraded:
		q += " AND s.status = 'graded'"
	}
	q += " ORDER BY a.due_date DESC, a.id DESC"

	asgmts := make([]assignment.StudentAssignment, 0)
	if err := sqlx.SelectContext(ctx, repo.exec, &asgmts, q, studentID, className); err != nil {
		return nil, errors.Wrap(err, "querying student assignments")
	}
	return asgmts, nil
}

func (repo assignmentRepository) UpsertSubmission(ctx context.Context, sub assignment.Submission) (assignment.Submission, bool, error) {
	// xmax = 0 only for freshly inserted rows
	q := `INSERT INTO submissions (assignment_id, student_id, document_path, status, feedback, submitted_at, created_at, updated_at)
		VALUES (:assignment_id, :student_id, :document_path, :status, :feedback, :submitted_at, :created_at, :updated_at)
		ON CONFLICT (assignment_id, student_id) DO UPDATE
			SET document_path = EXCLUDED.document_path, status = EXCLUDED.status,
				submitted_at = EXCLUDED.submitted_at, updated_at = EXCLUDED.updated_at
		RETURNING ` + submissionColumns + `, (xmax = 0) AS created`

	rows, err := sqlx.NamedQueryContext(ctx, repo.exec, q, sub)
	if err != nil {
		return assignment.Submission{}, false, errors.Wrap(err, "upserting submission")
	}
	defer func() { _ = rows.Close() }()

	var res struct {
		assignment.Submission
		Created bool `db:"created"`
	}
	if !rows.Next() {
		if err = rows.Err(); err == nil {
			err = sql.ErrNoRows
		}
		return assignment.Submission{}, false, errors.Wrap(err, "upserting submission")
	}
	if err = rows.StructScan(&res); err != nil {
		return assignment.Submission{}, false, errors.Wrap(err, "scanning submission")
	}
	return res.Submission, res.Created, nil
}

func (repo assignmentRepository) GetSubmission(ctx context.Context, id int) (assignment.Submission, error) {
	var sub assignment.Submission
	q := "SELECT " + submissionColumns + " FROM submissions WHERE id = $1"
	if err := sqlx.GetContext(ctx, repo.exec, &sub, q, id); err != nil {
		return assignment.Submission{}, trapNoRows(err, assignment.ErrSubmissionNotFound, "finding submission")
	}
	return sub, nil
}

func (repo assignmentRepository) QuerySubmissions(ctx context.Context, assignmentID, teacherID int) ([]assignment.SubmissionDetail, error) {
	q := `SELECT s.id, s.assignment_id, s.student_id, s.document_path, s.status, s.grade, s.feedback, s.submitted_at,
			s.created_at, s.updated_at,
			a.title AS assignment_title, a.class_name AS assignment_class, a.due_date,
			COALESCE(NULLIF(u.name, ''), u.username) AS student_name, COALESCE(u.email, '') AS student_email,
			COALESCE(u.class_name, '') AS student_class
		FROM submissions s
		INNER JOIN assignments a ON a.id = s.assignment_id
		INNER JOIN users u ON u.id = s.student_id`

	var (
		where []string
		args  []interface{}
	)
	if assignmentID != 0 {
		where = append(where, "s.assignment_id = ?")
		args = append(args, assignmentID)
	}
	if teacherID != 0 {
		where = append(where, "a.teacher_id = ?")
		args = append(args, teacherID)
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY s.submitted_at DESC, s.id DESC"

	details := make([]assignment.SubmissionDetail, 0)
	if err := sqlx.SelectContext(ctx, repo.exec, &details, repo.exec.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	return details, nil
}

func (repo assignmentRepository) UpdateSubmission(ctx context.Context, sub assignment.Submission) (assignment.Submission, error) {
	q := `UPDATE submissions SET document_path = :document_path, status = :status, grade = :grade, feedback = :feedback,
		submitted_at = :submitted_at, updated_at = :updated_at
		WHERE id = :id`

	res, err := sqlx.NamedExecContext(ctx, repo.exec, q, sub)
	if err != nil {
		return assignment.Submission{}, errors.Wrap(err, "updating submission")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return assignment.Submission{}, assignment.ErrSubmissionNotFound
	}
	return sub, nil
}

func (repo assignmentRepository) DeleteSubmission(ctx context.Context, id int) error {
	res, err := repo.exec.ExecContext(ctx, "DELETE FROM submissions WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting submission")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return assignment.ErrSubmissionNotFound
	}
	return nil
}
