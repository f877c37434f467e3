package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/cinderella/core/chat"
)

type messageRepository struct {
	db *DB
}

var _ chat.Repository = (*messageRepository)(nil)

func NewMessageRepository(db *DB) chat.Repository {
	return &messageRepository{db: db}
}

func (repo *messageRepository) CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if msg.AssignmentID.Valid {
		if _, ok := repo.db.assignments[msg.AssignmentID.Int]; !ok {
			return chat.Message{}, chat.ErrUnknownAssignment
		}
	}
	repo.db.messageSeq++
	msg.ID = repo.db.messageSeq
	repo.db.messages = append(repo.db.messages, msg)
	return msg, nil
}

func (repo *messageRepository) QueryConversation(ctx context.Context, userA, userB int) ([]chat.Message, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	msgs := make([]chat.Message, 0)
	for _, msg := range repo.db.messages {
		if isBetween(msg, userA, userB) {
			msgs = append(msgs, msg)
		}
	}
	sortMessages(msgs)
	return msgs, nil
}

func (repo *messageRepository) MarkConversationRead(ctx context.Context, fromUserID, toUserID int) (int, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	var count int
	for i, msg := range repo.db.messages {
		if msg.SenderID == fromUserID && msg.ReceiverID == toUserID && !msg.IsRead {
			repo.db.messages[i].IsRead = true
			count++
		}
	}
	return count, nil
}

func (repo *messageRepository) QueryConversations(ctx context.Context, userID int) ([]chat.Conversation, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	msgs := append([]chat.Message(nil), repo.db.messages...)
	sortMessages(msgs)

	byPeer := make(map[int]*chat.Conversation)
	for _, msg := range msgs {
		var peerID int
		switch userID {
		case msg.SenderID:
			peerID = msg.ReceiverID
		case msg.ReceiverID:
			peerID = msg.SenderID
		default:
			continue
		}
		peer, ok := repo.db.users[peerID]
		if !ok {
			continue
		}

		conv, ok := byPeer[peerID]
		if !ok {
			conv = &chat.Conversation{UserID: peer.ID, Username: peer.Username, Role: peer.Role, Email: peer.Email}
			byPeer[peerID] = conv
		}
		// messages are sorted: the last one wins
		conv.LastMessage = msg.Body
		conv.LastMessageTime = msg.Timestamp
		if msg.ReceiverID == userID && !msg.IsRead {
			conv.UnreadCount++
		}
	}

	convs := make([]chat.Conversation, 0, len(byPeer))
	for _, conv := range byPeer {
		convs = append(convs, *conv)
	}
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].LastMessageTime.Equal(convs[j].LastMessageTime) {
			return convs[i].UserID < convs[j].UserID
		}
		return convs[i].LastMessageTime.After(convs[j].LastMessageTime)
	})
	return convs, nil
}

func (repo *messageRepository) CountUnread(ctx context.Context, userID int) (int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var count int
	for _, msg := range repo.db.messages {
		if msg.ReceiverID == userID && !msg.IsRead {
			count++
		}
	}
	return count, nil
}

func isBetween(msg chat.Message, userA, userB int) bool {
	return (msg.SenderID == userA && msg.ReceiverID == userB) || (msg.SenderID == userB && msg.ReceiverID == userA)
}

func sortMessages(msgs []chat.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
