package chat

import (
	"encoding/json"

	"github.com/volatiletech/null/v8"
)

// client -> server events
const (
	EventJoin           = "join"
	EventSend           = "send"
	EventRequestHistory = "requestHistory"
	EventMarkRead       = "markRead"
	EventTypingStart    = "typingStart"
	EventTypingStop     = "typingStop"
)

// server -> client events
const (
	EventOnlineSnapshot   = "onlineSnapshot"
	EventUserOnline       = "userOnline"
	EventUserOffline      = "userOffline"
	EventMessageDelivered = "messageDelivered"
	EventMessageAck       = "messageAck"
	EventHistoryResult    = "historyResult"
	EventTypingNotice     = "typingNotice"
	EventReadReceipt      = "readReceipt"
	EventMessagesRead     = "messagesRead"
	EventRejection        = "rejection"
)

// Event is the envelope of every socket frame.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data"`
}

type inboundEvent struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// client -> server payloads

type JoinPayload struct {
	UserID   int    `json:"userId" validate:"required,gt=0"`
	Username string `json:"username" validate:"max=150"`
	Role     string `json:"role" validate:"omitempty,oneof=admin teacher student"`
	Email    string `json:"email"`
}

type SendPayload struct {
	SenderID     int      `json:"senderId" validate:"gte=0"`
	ReceiverID   int      `json:"receiverId" validate:"required,gt=0"`
	Message      string   `json:"message" validate:"required,max=5000"`
	SenderRole   string   `json:"senderRole"`
	ReceiverRole string   `json:"receiverRole" validate:"omitempty,oneof=admin teacher student"`
	AssignmentID null.Int `json:"assignmentId"`
}

type HistoryPayload struct {
	UserID      int `json:"userId" validate:"gte=0"`
	OtherUserID int `json:"otherUserId" validate:"required,gt=0"`
}

type MarkReadPayload struct {
	ConversationPeerID int `json:"conversationPeerId" validate:"required,gt=0"`
}

type TypingPayload struct {
	ReceiverID int `json:"receiverId" validate:"required,gt=0"`
}

// server -> client payloads

type TypingNotice struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// ReadReceipt is sent to the reader once a conversation has been marked read.
type ReadReceipt struct {
	ConversationPeerID int `json:"conversationPeerId"`
	Count              int `json:"count"`
}

// MessagesRead tells a sender that the peer has read their messages.
type MessagesRead struct {
	ReaderID int `json:"readerId"`
	Count    int `json:"count"`
}

type Rejection struct {
	Reason        string `json:"reason"`
	OriginalEvent string `json:"originalEvent"`
}
