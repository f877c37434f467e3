package inmemdb

import (
	"sync"

	"github.com/trezcool/cinderella/core/assignment"
	"github.com/trezcool/cinderella/core/chat"
	"github.com/trezcool/cinderella/core/user"
)

// DB is an in-memory database.
// Tables share one lock so that joins across them see a consistent state.
type DB struct {
	mu sync.RWMutex

	users       map[int]user.User
	messages    []chat.Message
	assignments map[int]assignment.Assignment
	submissions map[int]assignment.Submission

	userSeq       int
	messageSeq    int64
	assignmentSeq int
	submissionSeq int
}

func Open() *DB {
	return &DB{
		users:       make(map[int]user.User),
		assignments: make(map[int]assignment.Assignment),
		submissions: make(map[int]assignment.Submission),
	}
}

// Truncate empties every table; sequences keep going.
func (db *DB) Truncate() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.users = make(map[int]user.User)
	db.messages = nil
	db.assignments = make(map[int]assignment.Assignment)
	db.submissions = make(map[int]assignment.Submission)
}
