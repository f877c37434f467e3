package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
)

var (
	// errors
	ErrNotAuthenticated = errors.New("not authenticated: join the chat first")
	ErrChatNotAllowed   = errors.New("students cannot message other students")
	ErrUnknownUser      = errors.New("unknown user")
	ErrDuplicateSession = errors.New("already connected from another session")
	ErrAlreadyJoined    = errors.New("connection already joined as another user")
	ErrSelfMessage      = errors.New("cannot message yourself")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrMalformedEvent   = errors.New("malformed event")

	// ErrUnknownAssignment is returned by Repository.CreateMessage when the message refers to a missing assignment.
	ErrUnknownAssignment = errors.New("invalid payload: assignmentId: no such assignment")
)

// Identity is the authenticated user a connection is bound to.
type Identity struct {
	ID       int    `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Email    string `json:"email"`
}

func (i Identity) Presence(online bool) Presence {
	return Presence{UserID: i.ID, Username: i.Username, Role: i.Role, IsOnline: online}
}

type Presence struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	IsOnline bool   `json:"isOnline"`
}

// Message is immutable once stored, except for IsRead.
type Message struct {
	ID           int64     `json:"id" db:"id"`
	SenderID     int       `json:"senderId" db:"sender_id"`
	ReceiverID   int       `json:"receiverId" db:"receiver_id"`
	Body         string    `json:"message" db:"message"`
	SenderRole   string    `json:"senderRole" db:"sender_role"`
	ReceiverRole string    `json:"receiverRole" db:"receiver_role"`
	AssignmentID null.Int  `json:"assignmentId" db:"assignment_id"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"` // UTC
	IsRead       bool      `json:"isRead" db:"is_read"`
}

// Conversation summarizes the thread between a user and one of their peers.
type Conversation struct {
	UserID          int       `json:"user_id" db:"user_id"`
	Username        string    `json:"username" db:"username"`
	Role            string    `json:"role" db:"role"`
	Email           string    `json:"email" db:"email"`
	LastMessage     string    `json:"last_message" db:"last_message"`
	LastMessageTime time.Time `json:"last_message_time" db:"last_message_time"`
	UnreadCount     int       `json:"unread_count" db:"unread_count"`
}

type (
	Repository interface {
		// CreateMessage stores `msg` and returns it with its assigned ID.
		// It returns ErrUnknownAssignment when `msg` refers to an assignment that does not exist.
		CreateMessage(ctx context.Context, msg Message) (Message, error)
		// QueryConversation returns the messages exchanged between `userA` and `userB` (both directions),
		// ordered by (timestamp, id).
		QueryConversation(ctx context.Context, userA, userB int) ([]Message, error)
		// MarkConversationRead flags the unread messages sent by `fromUserID` to `toUserID` as read
		// and returns how many were flagged.
		MarkConversationRead(ctx context.Context, fromUserID, toUserID int) (int, error)
		// QueryConversations returns one summary per peer of `userID`, most recent first.
		QueryConversations(ctx context.Context, userID int) ([]Conversation, error)
		// CountUnread counts the unread messages received by `userID`.
		CountUnread(ctx context.Context, userID int) (int, error)
	}

	// Directory resolves identities of users who are not necessarily online.
	// Identity returns ErrUnknownUser when no such user exists.
	Directory interface {
		Identity(ctx context.Context, userID int) (Identity, error)
	}
)

// StorageError is returned when the message store fails.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage unavailable while %s, please retry", e.Op)
}

func (e *StorageError) Unwrap() error { return e.Err }
func (e *StorageError) Cause() error  { return e.Err }

func IsStorageError(err error) bool {
	var sErr *StorageError
	return errors.As(err, &sErr)
}
