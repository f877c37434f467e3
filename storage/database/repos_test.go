package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/cinderella/core"
	"github.com/trezcool/cinderella/core/assignment"
	"github.com/trezcool/cinderella/core/chat"
	"github.com/trezcool/cinderella/core/user"
	inmemdb "github.com/trezcool/cinderella/storage/database/inmem"
	sqlxrepos "github.com/trezcool/cinderella/storage/database/sqlx"
	testutil "github.com/trezcool/cinderella/tests"
)

type repos struct {
	users       user.Repository
	messages    chat.Repository
	assignments assignment.Repository
}

// backends returns a fresh set of repositories per storage engine; Postgres is skipped unless configured.
func backends(t *testing.T) map[string]func(t *testing.T) repos {
	return map[string]func(t *testing.T) repos{
		"inmem": func(t *testing.T) repos {
			db := inmemdb.Open()
			return repos{
				users:       inmemdb.NewUserRepository(db),
				messages:    inmemdb.NewMessageRepository(db),
				assignments: inmemdb.NewAssignmentRepository(db),
			}
		},
		"postgres": func(t *testing.T) repos {
			db := testutil.PrepareDB(t)
			return repos{
				users:       sqlxrepos.NewUserRepository(db),
				messages:    sqlxrepos.NewMessageRepository(db),
				assignments: sqlxrepos.NewAssignmentRepository(db),
			}
		},
	}
}

func newMessage(from, to user.User, body string, ts time.Time) chat.Message {
	return chat.Message{
		SenderID:     from.ID,
		ReceiverID:   to.ID,
		Body:         body,
		SenderRole:   from.Role,
		ReceiverRole: to.Role,
		Timestamp:    ts.UTC().Truncate(time.Microsecond),
	}
}

func TestUserRepository(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()
			now := time.Now()

			jane := testutil.CreateUser(t, r.users, "Jane Doe", "jane", "jane@test.cd", "", user.RoleTeacher, true, now.Add(-time.Hour))
			john := testutil.CreateUser(t, r.users, "John", "john", "", "", user.RoleStudent, true, now)
			old := testutil.CreateUser(t, r.users, "Old", "old", "old@test.cd", "", user.RoleAdmin, false, now.Add(-48*time.Hour))

			assert.Equal(t, user.ErrUsernameExists, errors.Cause(r.users.CheckUsernameUniqueness(ctx, "jane", "x@test.cd")))
			assert.Equal(t, user.ErrEmailExists, errors.Cause(r.users.CheckUsernameUniqueness(ctx, "x", "jane@test.cd")))
			assert.NoError(t, r.users.CheckUsernameUniqueness(ctx, "jane", "jane@test.cd", jane))
			assert.NoError(t, r.users.CheckUsernameUniqueness(ctx, "x", ""), "blank emails never clash")

			active := true
			tests := []struct {
				name     string
				filter   *user.QueryFilter
				ordering []core.DBOrdering
				want     []int
			}{
				{name: "all", want: []int{jane.ID, john.ID, old.ID}},
				{name: "search", filter: &user.QueryFilter{Search: "JO"}, want: []int{john.ID}},
				{name: "search email", filter: &user.QueryFilter{Search: "old@"}, want: []int{old.ID}},
				{name: "roles", filter: &user.QueryFilter{Roles: []string{user.RoleAdmin, user.RoleStudent}}, want: []int{john.ID, old.ID}},
				{name: "active", filter: &user.QueryFilter{IsActive: &active}, want: []int{jane.ID, john.ID}},
				{name: "created from", filter: &user.QueryFilter{CreatedFrom: now.Add(-2 * time.Hour)}, want: []int{jane.ID, john.ID}},
				{name: "exclude", filter: &user.QueryFilter{ExcludeIDs: []int{jane.ID}}, want: []int{john.ID, old.ID}},
				{name: "ordered", ordering: []core.DBOrdering{{Field: "created_at", Ascending: false}}, want: []int{john.ID, jane.ID, old.ID}},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					users, err := r.users.QueryUsers(ctx, tt.filter, tt.ordering)
					require.NoError(t, err)
					ids := make([]int, 0, len(users))
					for _, usr := range users {
						ids = append(ids, usr.ID)
					}
					assert.Equal(t, tt.want, ids)
				})
			}

			got, err := r.users.GetUser(ctx, user.GetFilter{UsernameOrEmail: "jane@test.cd"})
			require.NoError(t, err)
			assert.Equal(t, jane.ID, got.ID)
			assert.Equal(t, "", john.Email)

			john.ClassName = null.StringFrom("6A")
			john, err = r.users.UpdateUser(ctx, john)
			require.NoError(t, err)
			got, err = r.users.GetUser(ctx, user.GetFilter{Username: "john"})
			require.NoError(t, err)
			assert.Equal(t, "6A", got.ClassName.String)

			count, err := r.users.DeleteUsersByID(ctx, old.ID, old.ID+1000)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
			_, err = r.users.GetUser(ctx, user.GetFilter{ID: old.ID})
			assert.Equal(t, user.ErrNotFound, errors.Cause(err))
		})
	}
}

func TestMessageRepository(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()
			t0 := time.Now().Add(-time.Hour)

			admin := testutil.CreateUser(t, r.users, "", "admin", "admin@test.cd", "", user.RoleAdmin, true)
			teacher := testutil.CreateUser(t, r.users, "", "teacher", "t@test.cd", "", user.RoleTeacher, true)
			student := testutil.CreateStudent(t, r.users, "alice", "6A")

			seed := []chat.Message{
				newMessage(teacher, student, "hi alice", t0),
				newMessage(student, teacher, "hi sir", t0.Add(time.Minute)),
				newMessage(teacher, student, "submit by friday", t0.Add(2*time.Minute)),
				newMessage(admin, teacher, "meeting at 3", t0.Add(3*time.Minute)),
				newMessage(teacher, student, "same instant", t0.Add(4*time.Minute)),
				newMessage(teacher, student, "same instant, later id", t0.Add(4*time.Minute)),
			}
			var created []chat.Message
			for _, msg := range seed {
				msg, err := r.messages.CreateMessage(ctx, msg)
				require.NoError(t, err)
				require.NotZero(t, msg.ID)
				created = append(created, msg)
			}
			assert.Greater(t, created[1].ID, created[0].ID)

			conv, err := r.messages.QueryConversation(ctx, student.ID, teacher.ID)
			require.NoError(t, err)
			bodies := make([]string, 0, len(conv))
			for _, msg := range conv {
				bodies = append(bodies, msg.Body)
			}
			assert.Equal(t, []string{"hi alice", "hi sir", "submit by friday", "same instant", "same instant, later id"}, bodies)

			unread, err := r.messages.CountUnread(ctx, student.ID)
			require.NoError(t, err)
			assert.Equal(t, 4, unread)

			convs, err := r.messages.QueryConversations(ctx, teacher.ID)
			require.NoError(t, err)
			require.Len(t, convs, 2)
			assert.Equal(t, student.ID, convs[0].UserID)
			assert.Equal(t, "same instant, later id", convs[0].LastMessage)
			assert.Equal(t, 1, convs[0].UnreadCount)
			assert.Equal(t, admin.ID, convs[1].UserID)
			assert.Equal(t, "admin@test.cd", convs[1].Email)
			assert.Equal(t, 1, convs[1].UnreadCount)

			count, err := r.messages.MarkConversationRead(ctx, teacher.ID, student.ID)
			require.NoError(t, err)
			assert.Equal(t, 4, count)
			count, err = r.messages.MarkConversationRead(ctx, teacher.ID, student.ID)
			require.NoError(t, err)
			assert.Zero(t, count)

			unread, err = r.messages.CountUnread(ctx, student.ID)
			require.NoError(t, err)
			assert.Zero(t, unread)

			// the other direction is untouched
			unread, err = r.messages.CountUnread(ctx, teacher.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, unread)
		})
	}
}

func TestAssignmentRepository(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			r := open(t)
			ctx := context.Background()
			now := time.Now()

			teacher := testutil.CreateUser(t, r.users, "", "teacher", "", "", user.RoleTeacher, true)
			student := testutil.CreateStudent(t, r.users, "alice", "6A")
			overdue := testutil.CreateAssignment(t, r.assignments, teacher.ID, "overdue", "6A", now.Add(-time.Hour))
			upcoming := testutil.CreateAssignment(t, r.assignments, teacher.ID, "upcoming", "6B", now.Add(time.Hour))

			stats, err := r.assignments.TeacherStats(ctx, teacher.ID, now)
			require.NoError(t, err)
			assert.Equal(t, assignment.TeacherStats{TotalAssignments: 2, Upcoming: 1, Overdue: 1, TotalClasses: 2}, stats)

			sub := assignment.Submission{
				AssignmentID: overdue.ID,
				StudentID:    student.ID,
				DocumentPath: "v1.pdf",
				Status:       assignment.StatusSubmitted,
				SubmittedAt:  now.UTC().Truncate(time.Microsecond),
				CreatedAt:    now.UTC().Truncate(time.Microsecond),
				UpdatedAt:    now.UTC().Truncate(time.Microsecond),
			}
			first, created, err := r.assignments.UpsertSubmission(ctx, sub)
			require.NoError(t, err)
			assert.True(t, created)

			sub.DocumentPath = "v2.pdf"
			second, created, err := r.assignments.UpsertSubmission(ctx, sub)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.ID, second.ID)
			assert.Equal(t, "v2.pdf", second.DocumentPath)

			sas, err := r.assignments.QueryStudentAssignments(ctx, student.ID, "6A", assignment.StudentFilter{})
			require.NoError(t, err)
			require.Len(t, sas, 1)
			assert.Equal(t, overdue.ID, sas[0].ID)
			assert.Equal(t, null.IntFrom(first.ID), sas[0].SubmissionID)
			assert.Equal(t, assignment.StatusSubmitted, sas[0].SubmissionStatus)

			details, err := r.assignments.QuerySubmissions(ctx, 0, teacher.ID)
			require.NoError(t, err)
			require.Len(t, details, 1)
			assert.Equal(t, "overdue", details[0].AssignmentTitle)

			// messages referencing a deleted assignment survive it
			msg, err := r.messages.CreateMessage(ctx, chat.Message{
				SenderID:     teacher.ID,
				ReceiverID:   student.ID,
				Body:         "see the assignment",
				SenderRole:   teacher.Role,
				ReceiverRole: student.Role,
				AssignmentID: null.IntFrom(overdue.ID),
				Timestamp:    now.UTC().Truncate(time.Microsecond),
			})
			require.NoError(t, err)

			// dangling assignment reference
			dangling := msg
			dangling.ID = 0
			dangling.AssignmentID = null.IntFrom(upcoming.ID + 1000)
			_, err = r.messages.CreateMessage(ctx, dangling)
			assert.Equal(t, chat.ErrUnknownAssignment, errors.Cause(err))

			require.NoError(t, r.assignments.DeleteAssignment(ctx, overdue.ID))
			_, err = r.assignments.GetSubmission(ctx, first.ID)
			assert.Equal(t, assignment.ErrSubmissionNotFound, errors.Cause(err))
			assert.Equal(t, assignment.ErrNotFound, errors.Cause(r.assignments.DeleteAssignment(ctx, overdue.ID)))

			msgs, err := r.messages.QueryConversation(ctx, teacher.ID, student.ID)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, msg.ID, msgs[0].ID)
			assert.False(t, msgs[0].AssignmentID.Valid)

			asgmts, total, err := r.assignments.QueryAssignments(ctx, assignment.QueryFilter{}, now)
			require.NoError(t, err)
			assert.Equal(t, 1, total)
			require.Len(t, asgmts, 1)
			assert.Equal(t, upcoming.ID, asgmts[0].ID)
		})
	}
}
