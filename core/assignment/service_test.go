package assignment_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/cinderella/core/assignment"
	"github.com/trezcool/cinderella/core/user"
	inmemdb "github.com/trezcool/cinderella/storage/database/inmem"
	testutil "github.com/trezcool/cinderella/tests"
)

type fixture struct {
	userRepo user.Repository
	repo     assignment.Repository
	svc      assignment.Service
}

func setup(t *testing.T) fixture {
	t.Helper()

	db := inmemdb.Open()
	repo := inmemdb.NewAssignmentRepository(db)
	return fixture{
		userRepo: inmemdb.NewUserRepository(db),
		repo:     repo,
		svc:      assignment.NewService(repo),
	}
}

func TestService_CreateUpdateDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	teacher := testutil.CreateUser(t, f.userRepo, "", "teacher", "", "", user.RoleTeacher, true)
	due := time.Now().Add(48 * time.Hour)

	asgmt, err := f.svc.Create(ctx, assignment.NewAssignment{
		TeacherID: teacher.ID,
		Title:     "Fractions",
		ClassName: "6A",
		DueDate:   due,
	})
	require.NoError(t, err)
	assert.NotZero(t, asgmt.ID)
	assert.False(t, asgmt.DocumentPath.Valid)
	assert.Equal(t, time.UTC, asgmt.DueDate.Location())

	title, docPath := "Fractions & decimals", "uploads/assignments/fractions.pdf"
	updated, err := f.svc.Update(ctx, asgmt, assignment.UpdateAssignment{Title: &title, DocumentPath: &docPath})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, "6A", updated.ClassName)
	assert.Equal(t, docPath, updated.DocumentPath.String)

	got, err := f.svc.GetByID(ctx, asgmt.ID)
	require.NoError(t, err)
	assert.Equal(t, title, got.Title)

	require.NoError(t, f.svc.Delete(ctx, asgmt.ID))
	_, err = f.svc.GetByID(ctx, asgmt.ID)
	assert.Equal(t, assignment.ErrNotFound, errors.Cause(err))
	assert.Equal(t, assignment.ErrNotFound, errors.Cause(f.svc.Delete(ctx, asgmt.ID)))
}

func TestService_Query(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	t1 := testutil.CreateUser(t, f.userRepo, "", "t1", "", "", user.RoleTeacher, true)
	t2 := testutil.CreateUser(t, f.userRepo, "", "t2", "", "", user.RoleTeacher, true)
	now := time.Now()

	past := testutil.CreateAssignment(t, f.repo, t1.ID, "past", "6A", now.Add(-24*time.Hour))
	soon := testutil.CreateAssignment(t, f.repo, t1.ID, "soon", "6A", now.Add(24*time.Hour))
	later := testutil.CreateAssignment(t, f.repo, t2.ID, "later", "6B", now.Add(72*time.Hour))

	titles := func(asgmts []assignment.Assignment) []string {
		res := make([]string, 0, len(asgmts))
		for _, a := range asgmts {
			res = append(res, a.Title)
		}
		return res
	}

	tests := []struct {
		name      string
		filter    assignment.QueryFilter
		want      []string
		wantTotal int
	}{
		{name: "all, latest due first", want: []string{later.Title, soon.Title, past.Title}, wantTotal: 3},
		{name: "by class", filter: assignment.QueryFilter{ClassName: "6a"}, want: []string{soon.Title, past.Title}, wantTotal: 2},
		{name: "by teacher", filter: assignment.QueryFilter{TeacherID: t2.ID}, want: []string{later.Title}, wantTotal: 1},
		{name: "upcoming", filter: assignment.QueryFilter{Due: assignment.DueUpcoming}, want: []string{later.Title, soon.Title}, wantTotal: 2},
		{name: "overdue", filter: assignment.QueryFilter{Due: assignment.DueOverdue}, want: []string{past.Title}, wantTotal: 1},
		{name: "paginated", filter: assignment.QueryFilter{Limit: 1, Offset: 1}, want: []string{soon.Title}, wantTotal: 3},
		{name: "offset out of range", filter: assignment.QueryFilter{Offset: 10}, want: []string{}, wantTotal: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asgmts, total, err := f.svc.Query(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(asgmts))
			assert.Equal(t, tt.wantTotal, total)
		})
	}
}

func TestService_SubmitAndGrade(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	teacher := testutil.CreateUser(t, f.userRepo, "", "teacher", "", "", user.RoleTeacher, true)
	student := testutil.CreateStudent(t, f.userRepo, "alice", "6A")
	asgmt := testutil.CreateAssignment(t, f.repo, teacher.ID, "Essay", "6A", time.Now().Add(24*time.Hour))

	_, _, err := f.svc.Submit(ctx, assignment.NewSubmission{AssignmentID: asgmt.ID + 1, StudentID: student.ID, DocumentPath: "a.pdf"})
	assert.Equal(t, assignment.ErrNotFound, errors.Cause(err))

	sub, created, err := f.svc.Submit(ctx, assignment.NewSubmission{AssignmentID: asgmt.ID, StudentID: student.ID, DocumentPath: "v1.pdf"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, assignment.StatusSubmitted, sub.Status)

	resub, created, err := f.svc.Submit(ctx, assignment.NewSubmission{AssignmentID: asgmt.ID, StudentID: student.ID, DocumentPath: "v2.pdf"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, sub.ID, resub.ID)
	assert.Equal(t, "v2.pdf", resub.DocumentPath)

	stats, err := f.svc.TeacherStats(ctx, teacher.ID)
	require.NoError(t, err)
	assert.Equal(t, assignment.TeacherStats{TotalAssignments: 1, Upcoming: 1, TotalClasses: 1, TotalSubmissions: 1, PendingGrading: 1}, stats)

	grade := 87.5
	graded, err := f.svc.Grade(ctx, resub, assignment.GradeSubmission{Grade: &grade, Feedback: "Well argued"})
	require.NoError(t, err)
	assert.Equal(t, assignment.StatusGraded, graded.Status)
	assert.Equal(t, 87.5, graded.Grade.Float64)

	details, err := f.svc.QuerySubmissionsByTeacher(ctx, teacher.ID)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "Essay", details[0].AssignmentTitle)
	assert.Equal(t, "alice", details[0].StudentName)
	assert.Equal(t, "6A", details[0].StudentClass)

	details, err = f.svc.QuerySubmissionsByAssignment(ctx, asgmt.ID)
	require.NoError(t, err)
	assert.Len(t, details, 1)

	stats, err = f.svc.TeacherStats(ctx, teacher.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingGrading)

	require.NoError(t, f.svc.DeleteSubmission(ctx, sub.ID))
	_, err = f.svc.GetSubmission(ctx, sub.ID)
	assert.Equal(t, assignment.ErrSubmissionNotFound, errors.Cause(err))
}

func TestService_QueryForStudent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	teacher := testutil.CreateUser(t, f.userRepo, "", "teacher", "", "", user.RoleTeacher, true)
	alice := testutil.CreateStudent(t, f.userRepo, "alice", "6A")
	now := time.Now()

	a1 := testutil.CreateAssignment(t, f.repo, teacher.ID, "a1", "6A", now.Add(24*time.Hour))
	a2 := testutil.CreateAssignment(t, f.repo, teacher.ID, "a2", "6A", now.Add(48*time.Hour))
	a3 := testutil.CreateAssignment(t, f.repo, teacher.ID, "a3", "6A", now.Add(72*time.Hour))
	testutil.CreateAssignment(t, f.repo, teacher.ID, "other class", "6B", now.Add(72*time.Hour))

	_, _, err := f.svc.Submit(ctx, assignment.NewSubmission{AssignmentID: a2.ID, StudentID: alice.ID, DocumentPath: "a2.pdf"})
	require.NoError(t, err)
	sub3, _, err := f.svc.Submit(ctx, assignment.NewSubmission{AssignmentID: a3.ID, StudentID: alice.ID, DocumentPath: "a3.pdf"})
	require.NoError(t, err)
	grade := 15.0
	_, err = f.svc.Grade(ctx, sub3, assignment.GradeSubmission{Grade: &grade})
	require.NoError(t, err)

	_, err = f.svc.QueryForStudent(ctx, alice.ID, "", assignment.StudentFilter{})
	assert.Equal(t, assignment.ErrNoClass, err)

	tests := []struct {
		name   string
		status string
		want   []int
	}{
		{name: "all", want: []int{a3.ID, a2.ID, a1.ID}},
		{name: "pending", status: assignment.StatusPending, want: []int{a1.ID}},
		{name: "submitted", status: assignment.StatusSubmitted, want: []int{a2.ID}},
		{name: "graded", status: assignment.StatusGraded, want: []int{a3.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sas, err := f.svc.QueryForStudent(ctx, alice.ID, alice.ClassName.String, assignment.StudentFilter{Status: tt.status})
			require.NoError(t, err)
			ids := make([]int, 0, len(sas))
			for _, sa := range sas {
				ids = append(ids, sa.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestNewAssignment_Validate(t *testing.T) {
	validate, _ := testutil.NewValidator()

	tests := []struct {
		name    string
		na      assignment.NewAssignment
		wantErr bool
	}{
		{name: "valid", na: assignment.NewAssignment{Title: " Essay ", ClassName: "6A", DueDate: time.Now()}},
		{name: "missing title", na: assignment.NewAssignment{Title: "  ", ClassName: "6A", DueDate: time.Now()}, wantErr: true},
		{name: "missing class", na: assignment.NewAssignment{Title: "Essay", DueDate: time.Now()}, wantErr: true},
		{name: "missing due date", na: assignment.NewAssignment{Title: "Essay", ClassName: "6A"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.na.Validate(validate)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, "Essay", tt.na.Title)
		})
	}
}

func TestGradeSubmission_Validate(t *testing.T) {
	validate, _ := testutil.NewValidator()
	grade := func(g float64) *float64 { return &g }

	tests := []struct {
		name    string
		gs      assignment.GradeSubmission
		wantErr bool
	}{
		{name: "valid", gs: assignment.GradeSubmission{Grade: grade(100)}},
		{name: "zero", gs: assignment.GradeSubmission{Grade: grade(0)}},
		{name: "missing", gs: assignment.GradeSubmission{}, wantErr: true},
		{name: "negative", gs: assignment.GradeSubmission{Grade: grade(-1)}, wantErr: true},
		{name: "above 100", gs: assignment.GradeSubmission{Grade: grade(100.5)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.gs.Validate(validate)
			assert.Equal(t, tt.wantErr, err != nil, "Validate() = %v", err)
		})
	}
}
