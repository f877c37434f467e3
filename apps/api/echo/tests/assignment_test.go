package tests

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/cinderella/apps/api/echo"
	"github.com/trezcool/cinderella/core/assignment"
	"github.com/trezcool/cinderella/core/user"
	testutil "github.com/trezcool/cinderella/tests"
)

func Test_assignmentApi(t *testing.T) {
	f := setup(t)
	admin := testutil.CreateUser(t, f.usrRepo, "Admin", "admin", "admin@test.cd", "", user.RoleAdmin, true)
	teacher := testutil.CreateUser(t, f.usrRepo, "Mr T", "teacher", "teacher@test.cd", "", user.RoleTeacher, true)
	other := testutil.CreateUser(t, f.usrRepo, "Ms O", "other", "other@test.cd", "", user.RoleTeacher, true)
	alice := testutil.CreateStudent(t, f.usrRepo, "alice", "6A")

	teacherToken := getToken(t, f.conf, teacher)
	otherToken := getToken(t, f.conf, other)
	aliceToken := getToken(t, f.conf, alice)
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	due := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	past := testutil.CreateAssignment(t, f.asgmtRepo, other.ID, "Old quiz", "6B", time.Now().Add(-24*time.Hour))

	var created assignment.Assignment
	t.Run("create", func(t *testing.T) {
		body := marchallObj(t, assignment.NewAssignment{Title: " Essay ", ClassName: "6A", DueDate: due, Instructions: "500 words"})

		req, rec := newAuthRequest(http.MethodPost, "/v1/assignments", aliceToken, body)
		f.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusForbidden, wantData: forbidden}, rec)

		req, rec = newAuthRequest(http.MethodPost, "/v1/assignments", teacherToken, []byte(`{"title": "Essay"}`))
		f.app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		req, rec = newAuthRequest(http.MethodPost, "/v1/assignments", teacherToken, body)
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		unmarshal(t, rec, &created)
		assert.Equal(t, teacher.ID, created.TeacherID)
		assert.Equal(t, "Essay", created.Title)
		assert.True(t, due.Equal(created.DueDate))
	})

	detailPath := "/v1/assignments/" + strconv.Itoa(created.ID)
	notFound := marchallObj(t, httpErr{Error: assignment.ErrNotFound.Error()})

	run(t, f.app, []httpTest{
		{name: "Auth required", path: "/v1/assignments", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "list", path: "/v1/assignments", token: aliceToken,
			wantData: marchallObj(t, echoapi.AssignmentPage{Total: 2, Results: []assignment.Assignment{created, past}}),
		},
		{
			name: "list by class", path: "/v1/assignments?class_name=6b", token: aliceToken,
			wantData: marchallObj(t, echoapi.AssignmentPage{Total: 1, Results: []assignment.Assignment{past}}),
		},
		{
			name: "list overdue", path: "/v1/assignments?status=overdue", token: aliceToken,
			wantData: marchallObj(t, echoapi.AssignmentPage{Total: 1, Results: []assignment.Assignment{past}}),
		},
		{name: "invalid status", path: "/v1/assignments?status=later", token: aliceToken, wantCode: http.StatusBadRequest},
		{name: "retrieve", path: detailPath, token: aliceToken, wantData: marchallObj(t, created)},
		{name: "unknown", path: "/v1/assignments/999", token: aliceToken, wantCode: http.StatusNotFound, wantData: notFound},
		{
			name: "other teacher cannot update", method: http.MethodPut, path: detailPath, token: otherToken,
			body: []byte(`{"title": "Hijacked"}`), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "student cannot delete", method: http.MethodDelete, path: detailPath, token: aliceToken,
			wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "stats of someone else", path: "/v1/assignments/teacher/" + strconv.Itoa(teacher.ID) + "/stats", token: otherToken,
			wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "stats", path: "/v1/assignments/teacher/" + strconv.Itoa(teacher.ID) + "/stats", token: teacherToken,
			wantData: marchallObj(t, assignment.TeacherStats{TotalAssignments: 1, Upcoming: 1, TotalClasses: 1}),
		},
		{
			name: "student assignments of someone else", path: "/v1/assignments/student/" + strconv.Itoa(admin.ID), token: aliceToken,
			wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "student assignments of a non student", path: "/v1/assignments/student/" + strconv.Itoa(teacher.ID), token: teacherToken,
			wantCode: http.StatusNotFound,
		},
	})

	t.Run("student assignments", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/assignments/student/"+strconv.Itoa(alice.ID)+"?status=pending", teacherToken)
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var sas []assignment.StudentAssignment
		unmarshal(t, rec, &sas)
		require.Len(t, sas, 1)
		assert.Equal(t, created.ID, sas[0].ID)
		assert.Equal(t, assignment.StatusPending, sas[0].SubmissionStatus)
	})

	t.Run("update", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, detailPath, teacherToken, []byte(`{"title": "Long essay", "document_path": "uploads/essay.pdf"}`))
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got assignment.Assignment
		unmarshal(t, rec, &got)
		assert.Equal(t, "Long essay", got.Title)
		assert.Equal(t, "uploads/essay.pdf", got.DocumentPath.String)
		assert.Equal(t, "500 words", got.Instructions)
	})

	t.Run("admin deletes", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, detailPath, getToken(t, f.conf, admin))
		f.app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		_, err := f.asgmtRepo.GetAssignment(context.Background(), created.ID)
		assert.Equal(t, assignment.ErrNotFound, errors.Cause(err))
	})
}

func Test_submissionApi(t *testing.T) {
	f := setup(t)
	admin := testutil.CreateUser(t, f.usrRepo, "Admin", "admin", "admin@test.cd", "", user.RoleAdmin, true)
	teacher := testutil.CreateUser(t, f.usrRepo, "Mr T", "teacher", "teacher@test.cd", "", user.RoleTeacher, true)
	other := testutil.CreateUser(t, f.usrRepo, "Ms O", "other", "other@test.cd", "", user.RoleTeacher, true)
	alice := testutil.CreateStudent(t, f.usrRepo, "alice", "6A")
	bob := testutil.CreateStudent(t, f.usrRepo, "bob", "6B")
	asgmt := testutil.CreateAssignment(t, f.asgmtRepo, teacher.ID, "Essay", "6A", time.Now().Add(24*time.Hour))

	teacherToken := getToken(t, f.conf, teacher)
	aliceToken := getToken(t, f.conf, alice)
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	submit := func(docPath string) []byte {
		return marchallObj(t, assignment.NewSubmission{AssignmentID: asgmt.ID, DocumentPath: docPath})
	}

	run(t, f.app, []httpTest{
		{
			name: "teachers cannot submit", method: http.MethodPost, path: "/v1/submissions", body: submit("a.pdf"),
			token: teacherToken, wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "wrong class", method: http.MethodPost, path: "/v1/submissions", body: submit("b.pdf"),
			token: getToken(t, f.conf, bob), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"assignment_id": "this assignment is not for your class"}),
		},
		{
			name: "unknown assignment", method: http.MethodPost, path: "/v1/submissions",
			body:  marchallObj(t, assignment.NewSubmission{AssignmentID: 999, DocumentPath: "a.pdf"}),
			token: aliceToken, wantCode: http.StatusNotFound,
		},
		{
			name: "missing document", method: http.MethodPost, path: "/v1/submissions", body: submit(" "),
			token: aliceToken, wantCode: http.StatusBadRequest,
		},
	})

	var sub assignment.Submission
	t.Run("submit then resubmit", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/submissions", aliceToken, submit("v1.pdf"))
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		unmarshal(t, rec, &sub)
		assert.Equal(t, alice.ID, sub.StudentID)
		assert.Equal(t, assignment.StatusSubmitted, sub.Status)

		req, rec = newAuthRequest(http.MethodPost, "/v1/submissions", aliceToken, submit("v2.pdf"))
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resub assignment.Submission
		unmarshal(t, rec, &resub)
		assert.Equal(t, sub.ID, resub.ID)
		assert.Equal(t, "v2.pdf", resub.DocumentPath)
	})

	subPath := "/v1/submissions/" + strconv.Itoa(sub.ID)

	run(t, f.app, []httpTest{
		{
			name: "other teacher cannot list", path: "/v1/submissions/assignment/" + strconv.Itoa(asgmt.ID),
			token: getToken(t, f.conf, other), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "student cannot list", path: "/v1/submissions/teacher/" + strconv.Itoa(teacher.ID),
			token: aliceToken, wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "grade out of range", method: http.MethodPut, path: subPath + "/grade", body: []byte(`{"grade": 101}`),
			token: teacherToken, wantCode: http.StatusBadRequest,
		},
		{
			name: "other teacher cannot grade", method: http.MethodPut, path: subPath + "/grade", body: []byte(`{"grade": 50}`),
			token: getToken(t, f.conf, other), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "someone else cannot withdraw", method: http.MethodDelete, path: subPath,
			token: getToken(t, f.conf, bob), wantCode: http.StatusForbidden, wantData: forbidden,
		},
	})

	t.Run("grade", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, subPath+"/grade", teacherToken, []byte(`{"grade": 92.5, "feedback": " Great work "}`))
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var graded assignment.Submission
		unmarshal(t, rec, &graded)
		assert.Equal(t, assignment.StatusGraded, graded.Status)
		assert.Equal(t, 92.5, graded.Grade.Float64)
		assert.Equal(t, "Great work", graded.Feedback)
	})

	t.Run("list by teacher", func(t *testing.T) {
		for _, path := range []string{
			"/v1/submissions/teacher/" + strconv.Itoa(teacher.ID),
			"/v1/submissions/assignment/" + strconv.Itoa(asgmt.ID),
		} {
			req, rec := newAuthRequest(http.MethodGet, path, getToken(t, f.conf, admin))
			f.app.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var details []assignment.SubmissionDetail
			unmarshal(t, rec, &details)
			require.Len(t, details, 1)
			assert.Equal(t, "Essay", details[0].AssignmentTitle)
			assert.Equal(t, "alice", details[0].StudentName)
			assert.Equal(t, assignment.StatusGraded, details[0].Status)
		}
	})

	t.Run("withdraw", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, subPath, aliceToken)
		f.app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		req, rec = newAuthRequest(http.MethodDelete, subPath, aliceToken)
		f.app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: assignment.ErrSubmissionNotFound.Error()}),
		}, rec)
	})
}
