package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/cinderella/core"
	"github.com/trezcool/cinderella/core/chat"
)

const (
	messageColumns = `id, sender_id, receiver_id, message, sender_role, receiver_role, assignment_id, timestamp, is_read`

	messageAssignmentFKey = "messages_assignment_id_fkey"
)

type messageRepository struct {
	exec core.DBExecutor
}

var _ chat.Repository = (*messageRepository)(nil) // interface compliance check

func NewMessageRepository(exec core.DBExecutor) chat.Repository {
	return &messageRepository{exec: exec}
}

func (repo messageRepository) CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	q := `INSERT INTO messages (sender_id, receiver_id, message, sender_role, receiver_role, assignment_id, timestamp, is_read)
		VALUES (:sender_id, :receiver_id, :message, :sender_role, :receiver_role, :assignment_id, :timestamp, :is_read)
		RETURNING id`

	rows, err := sqlx.NamedQueryContext(ctx, repo.exec, q, msg)
	if err != nil {
		return chat.Message{}, insertMessageError(err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err = rows.Err(); err == nil {
			err = errors.New("no ID returned")
		}
		return chat.Message{}, insertMessageError(err)
	}
	if err = rows.Scan(&msg.ID); err != nil {
		return chat.Message{}, errors.Wrap(err, "scanning message ID")
	}
	return msg, nil
}

func (repo messageRepository) QueryConversation(ctx context.Context, userA, userB int) ([]chat.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY timestamp ASC, id ASC`

	msgs := make([]chat.Message, 0)
	if err := sqlx.SelectContext(ctx, repo.exec, &msgs, q, userA, userB); err != nil {
		return nil, errors.Wrap(err, "querying conversation")
	}
	return msgs, nil
}

func (repo messageRepository) MarkConversationRead(ctx context.Context, fromUserID, toUserID int) (int, error) {
	q := `UPDATE messages SET is_read = TRUE WHERE sender_id = $1 AND receiver_id = $2 AND NOT is_read`

	res, err := repo.exec.ExecContext(ctx, q, fromUserID, toUserID)
	if err != nil {
		return 0, errors.Wrap(err, "marking messages read")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "counting messages read")
}

func (repo messageRepository) QueryConversations(ctx context.Context, userID int) ([]chat.Conversation, error) {
	q := `WITH peer_messages AS (
			SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS peer_id,
				message, timestamp, id, (receiver_id = $1 AND NOT is_read) AS unread
			FROM messages
			WHERE sender_id = $1 OR receiver_id = $1
		), last_messages AS (
			SELECT DISTINCT ON (peer_id) peer_id, message, timestamp
			FROM peer_messages
			ORDER BY peer_id, timestamp DESC, id DESC
		)
		SELECT u.id AS user_id, u.username, u.role, COALESCE(u.email, '') AS email,
			lm.message AS last_message, lm.timestamp AS last_message_time,
			(SELECT COUNT(*) FROM peer_messages pm WHERE pm.peer_id = u.id AND pm.unread) AS unread_count
		FROM last_messages lm
		INNER JOIN users u ON u.id = lm.peer_id
		ORDER BY lm.timestamp DESC, u.id ASC`

	convs := make([]chat.Conversation, 0)
	if err := sqlx.SelectContext(ctx, repo.exec, &convs, q, userID); err != nil {
		return nil, errors.Wrap(err, "querying conversations")
	}
	return convs, nil
}

func (repo messageRepository) CountUnread(ctx context.Context, userID int) (int, error) {
	var count int
	q := `SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND NOT is_read`
	if err := sqlx.GetContext(ctx, repo.exec, &count, q, userID); err != nil {
		return 0, errors.Wrap(err, "counting unread messages")
	}
	return count, nil
}

// insertMessageError reports a dangling assignment reference as chat.ErrUnknownAssignment.
func insertMessageError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" && pqErr.Constraint == messageAssignmentFKey {
		err = chat.ErrUnknownAssignment
	}
	return errors.Wrap(err, "inserting message")
}
