package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/cinderella/core/assignment"
)

type assignmentRepository struct {
	db *DB
}

var _ assignment.Repository = (*assignmentRepository)(nil)

func NewAssignmentRepository(db *DB) assignment.Repository {
	return &assignmentRepository{db: db}
}

func (repo *assignmentRepository) CreateAssignment(ctx context.Context, asgmt assignment.Assignment) (assignment.Assignment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	repo.db.assignmentSeq++
	asgmt.ID = repo.db.assignmentSeq
	repo.db.assignments[asgmt.ID] = asgmt
	return asgmt, nil
}

func (repo *assignmentRepository) QueryAssignments(ctx context.Context, filter assignment.QueryFilter, now time.Time) ([]assignment.Assignment, int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	asgmts := lo.Filter(lo.Values(repo.db.assignments), func(a assignment.Assignment, _ int) bool {
		if filter.ClassName != "" && !strings.EqualFold(a.ClassName, filter.ClassName) {
			return false
		}
		if filter.TeacherID != 0 && a.TeacherID != filter.TeacherID {
			return false
		}
		switch filter.Due {
		case assignment.DueUpcoming:
			return !a.IsOverdue(now)
		case assignment.DueOverdue:
			return a.IsOverdue(now)
		}
		return true
	})
	sortAssignments(asgmts)

	total := len(asgmts)
	if filter.Offset >= total {
		return []assignment.Assignment{}, total, nil
	}
	asgmts = asgmts[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(asgmts) {
		asgmts = asgmts[:filter.Limit]
	}
	return asgmts, total, nil
}

func (repo *assignmentRepository) GetAssignment(ctx context.Context, id int) (assignment.Assignment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	asgmt, ok := repo.db.assignments[id]
	if !ok {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	return asgmt, nil
}

func (repo *assignmentRepository) UpdateAssignment(ctx context.Context, asgmt assignment.Assignment) (assignment.Assignment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.assignments[asgmt.ID]; !ok {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	repo.db.assignments[asgmt.ID] = asgmt
	return asgmt, nil
}

func (repo *assignmentRepository) DeleteAssignment(ctx context.Context, id int) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.assignments[id]; !ok {
		return assignment.ErrNotFound
	}
	delete(repo.db.assignments, id)

	// ON DELETE CASCADE / SET NULL
	for subID, sub := range repo.db.submissions {
		if sub.AssignmentID == id {
			delete(repo.db.submissions, subID)
		}
	}
	for i, msg := range repo.db.messages {
		if msg.AssignmentID.Valid && msg.AssignmentID.Int == id {
			repo.db.messages[i].AssignmentID = null.Int{}
		}
	}
	return nil
}

func (repo *assignmentRepository) TeacherStats(ctx context.Context, teacherID int, now time.Time) (assignment.TeacherStats, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var stats assignment.TeacherStats
	classes := make(map[string]struct{})
	for _, a := range repo.db.assignments {
		if a.TeacherID != teacherID {
			continue
		}
		stats.TotalAssignments++
		if a.IsOverdue(now) {
			stats.Overdue++
		} else {
			stats.Upcoming++
		}
		classes[a.ClassName] = struct{}{}
	}
	stats.TotalClasses = len(classes)

	for _, sub := range repo.db.submissions {
		if a, ok := repo.db.assignments[sub.AssignmentID]; ok && a.TeacherID == teacherID {
			stats.TotalSubmissions++
			if sub.Status == assignment.StatusSubmitted {
				stats.PendingGrading++
			}
		}
	}
	return stats, nil
}

func (repo *assignmentRepository) QueryStudentAssignments(ctx context.Context, studentID int, className string, filter assignment.StudentFilter) ([]assignment.StudentAssignment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	subs := make(map[int]assignment.Submission)
	for _, sub := range repo.db.submissions {
		if sub.StudentID == studentID {
			subs[sub.AssignmentID] = sub
		}
	}

	asgmts := lo.Filter(lo.Values(repo.db.assignments), func(a assignment.Assignment, _ int) bool {
		return strings.EqualFold(a.ClassName, className)
	})
	sortAssignments(asgmts)

	results := make([]assignment.StudentAssignment, 0, len(asgmts))
	for _, a := range asgmts {
		sa := assignment.StudentAssignment{Assignment: a}
		if sub, ok := subs[a.ID]; ok {
			sa.SubmissionID = null.IntFrom(sub.ID)
			sa.SubmissionStatus = sub.Status
			sa.SubmittedAt = null.TimeFrom(sub.SubmittedAt)
			sa.Grade = sub.Grade
			sa.Feedback = sub.Feedback
		}

		switch filter.Status {
		case assignment.StatusPending:
			if sa.SubmissionStatus != "" && sa.SubmissionStatus != assignment.StatusPending {
				continue
			}
		case assignment.StatusSubmitted, assignment.StatusGraded:
			if sa.SubmissionStatus != filter.Status {
				continue
			}
		}
		results = append(results, sa)
	}
	return results, nil
}

func (repo *assignmentRepository) UpsertSubmission(ctx context.Context, sub assignment.Submission) (assignment.Submission, bool, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.assignments[sub.AssignmentID]; !ok {
		return assignment.Submission{}, false, assignment.ErrNotFound
	}
	for id, existing := range repo.db.submissions {
		if existing.AssignmentID == sub.AssignmentID && existing.StudentID == sub.StudentID {
			existing.DocumentPath = sub.DocumentPath
			existing.Status = assignment.StatusSubmitted
			existing.SubmittedAt = sub.SubmittedAt
			existing.UpdatedAt = sub.UpdatedAt
			repo.db.submissions[id] = existing
			return existing, false, nil
		}
	}

	repo.db.submissionSeq++
	sub.ID = repo.db.submissionSeq
	repo.db.submissions[sub.ID] = sub
	return sub, true, nil
}

func (repo *assignmentRepository) GetSubmission(ctx context.Context, id int) (assignment.Submission, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	sub, ok := repo.db.submissions[id]
	if !ok {
		return assignment.Submission{}, assignment.ErrSubmissionNotFound
	}
	return sub, nil
}

func (repo *assignmentRepository) QuerySubmissions(ctx context.Context, assignmentID, teacherID int) ([]assignment.SubmissionDetail, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	details := make([]assignment.SubmissionDetail, 0)
	for _, sub := range repo.db.submissions {
		a, ok := repo.db.assignments[sub.AssignmentID]
		if !ok {
			continue
		}
		if (assignmentID != 0 && a.ID != assignmentID) || (teacherID != 0 && a.TeacherID != teacherID) {
			continue
		}
		student := repo.db.users[sub.StudentID]
		details = append(details, assignment.SubmissionDetail{
			Submission:      sub,
			AssignmentTitle: a.Title,
			AssignmentClass: a.ClassName,
			DueDate:         a.DueDate,
			StudentName:     student.DisplayName(),
			StudentEmail:    student.Email,
			StudentClass:    student.ClassName.String,
		})
	}
	sort.Slice(details, func(i, j int) bool {
		if details[i].SubmittedAt.Equal(details[j].SubmittedAt) {
			return details[i].ID > details[j].ID
		}
		return details[i].SubmittedAt.After(details[j].SubmittedAt)
	})
	return details, nil
}

func (repo *assignmentRepository) UpdateSubmission(ctx context.Context, sub assignment.Submission) (assignment.Submission, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.submissions[sub.ID]; !ok {
		return assignment.Submission{}, assignment.ErrSubmissionNotFound
	}
	repo.db.submissions[sub.ID] = sub
	return sub, nil
}

func (repo *assignmentRepository) DeleteSubmission(ctx context.Context, id int) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.submissions[id]; !ok {
		return assignment.ErrSubmissionNotFound
	}
	delete(repo.db.submissions, id)
	return nil
}

// sortAssignments orders by due date, latest first.
func sortAssignments(asgmts []assignment.Assignment) {
	sort.Slice(asgmts, func(i, j int) bool {
		if asgmts[i].DueDate.Equal(asgmts[j].DueDate) {
			return asgmts[i].ID > asgmts[j].ID
		}
		return asgmts[i].DueDate.After(asgmts[j].DueDate)
	})
}
