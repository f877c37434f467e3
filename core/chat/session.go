package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/cinderella/core"
)

var (
	errSessionClosed = errors.New("session closed")
	errMissingRole   = errors.New("invalid payload: role: this field is required")
	errBlankMessage  = errors.New("invalid payload: message: this field is required")
)

// Session is the messaging state machine of one connection.
// It is joined while the Registry binds its connection to an identity; a replaced session falls back to unjoined.
// Events of a session must be handled sequentially, Disconnect may be called from any goroutine.
type Session struct {
	hub        *Hub
	conn       Conn
	authUserID int

	mu     sync.Mutex
	closed bool
}

func (s *Session) Conn() Conn { return s.conn }

// Identity returns the identity the session is joined as.
func (s *Session) Identity() (Identity, bool) {
	return s.hub.registry.LookupIdentity(s.conn.ID())
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Handle decodes and runs one inbound frame. Failures are sent back to the client as a rejection.
func (s *Session) Handle(ctx context.Context, frame []byte) {
	var in inboundEvent
	if err := json.Unmarshal(frame, &in); err != nil || in.Name == "" {
		s.reject(in.Name, ErrMalformedEvent)
		return
	}
	if err := s.dispatch(ctx, in); err != nil {
		s.reject(in.Name, err)
	}
}

func (s *Session) dispatch(ctx context.Context, in inboundEvent) error {
	switch in.Name {
	case EventJoin:
		return handlePayload(ctx, in.Data, s.Join)
	case EventSend:
		return handlePayload(ctx, in.Data, s.Send)
	case EventRequestHistory:
		return handlePayload(ctx, in.Data, s.RequestHistory)
	case EventMarkRead:
		return handlePayload(ctx, in.Data, s.MarkRead)
	case EventTypingStart:
		return handlePayload(ctx, in.Data, s.TypingStart)
	case EventTypingStop:
		return handlePayload(ctx, in.Data, s.TypingStop)
	default:
		return ErrUnknownEvent
	}
}

func handlePayload[P any](ctx context.Context, data json.RawMessage, fn func(context.Context, P) error) error {
	var payload P
	if len(data) == 0 {
		return ErrMalformedEvent
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return fn(ctx, payload)
}

func (s *Session) reject(eventName string, err error) {
	if IsStorageError(err) {
		s.hub.logger.Error(fmt.Sprintf("chat %s: %+v", eventName, errors.Unwrap(err)), errors.Unwrap(err))
	}
	rejection := Rejection{Reason: s.hub.rejectionReason(err), OriginalEvent: eventName}
	if sErr := s.conn.Send(Event{Name: EventRejection, Data: rejection}); sErr != nil {
		s.hub.logger.Warn(fmt.Sprintf("sending rejection of %s on %s: %v", eventName, s.conn.ID(), sErr))
	}
}

// joined returns the session identity or ErrNotAuthenticated.
func (s *Session) joined() (Identity, error) {
	identity, ok := s.Identity()
	if !ok {
		return Identity{}, ErrNotAuthenticated
	}
	return identity, nil
}

// Join binds the connection to the user, announces them to the other connections
// and replies with the online snapshot.
func (s *Session) Join(ctx context.Context, p JoinPayload) error {
	if s.isClosed() {
		return errSessionClosed
	}
	if err := s.hub.validate.Struct(p); err != nil {
		return err
	}
	if s.authUserID != 0 && p.UserID != s.authUserID {
		return ErrNotAuthenticated
	}

	current, rejoin := s.Identity()
	if rejoin && current.ID != p.UserID {
		return ErrAlreadyJoined
	}

	claimed := Identity{ID: p.UserID, Username: strings.TrimSpace(p.Username), Role: p.Role, Email: p.Email}
	identity, err := s.hub.resolveIdentity(ctx, p.UserID, claimed)
	if err != nil {
		return err
	}
	if identity.Role == "" {
		return errMissingRole
	}

	replaced, err := s.bind(identity, rejoin)
	if err != nil {
		return err
	}
	if replaced != nil {
		s.hub.logger.Debug(fmt.Sprintf("chat: user %d joined from %s, replacing %s", identity.ID, s.conn.ID(), replaced.ID()))
		if s.hub.conf.DuplicateSession == core.DuplicateSessionEvict {
			_ = replaced.Send(Event{
				Name: EventRejection,
				Data: Rejection{Reason: "signed in from another session", OriginalEvent: EventJoin},
			})
			if err = replaced.Close(); err != nil {
				s.hub.logger.Warn(fmt.Sprintf("evicting chat connection %s: %v", replaced.ID(), err))
			}
		}
	} else if !rejoin {
		s.hub.logger.Debug(fmt.Sprintf("chat: user %d joined from %s", identity.ID, s.conn.ID()))
	}

	snapshot := make([]Presence, 0, s.hub.registry.Len())
	for _, online := range s.hub.registry.ListOnline() {
		if online.ID == identity.ID && !s.hub.conf.SnapshotIncludesSelf {
			continue
		}
		snapshot = append(snapshot, online.Presence(true))
	}
	return s.conn.Send(Event{Name: EventOnlineSnapshot, Data: snapshot})
}

// bind registers the connection and announces a newly online user.
// A session disconnected while its join was in flight is not registered.
func (s *Session) bind(identity Identity, rejoin bool) (replaced Conn, err error) {
	s.hub.presenceMu.Lock()
	defer s.hub.presenceMu.Unlock()

	if s.isClosed() {
		return nil, errSessionClosed
	}
	switch s.hub.conf.DuplicateSession {
	case core.DuplicateSessionReject:
		if !s.hub.registry.TryJoin(identity, s.conn) {
			return nil, ErrDuplicateSession
		}
	default:
		replaced = s.hub.registry.Join(identity, s.conn)
	}
	if replaced == nil && !rejoin {
		s.hub.registry.Broadcast(s.conn.ID(), Event{Name: EventUserOnline, Data: identity.Presence(true)})
	}
	return replaced, nil
}

// Send stores a message, delivers it to the receiver if they are online and acknowledges it to the sender.
func (s *Session) Send(ctx context.Context, p SendPayload) error {
	sender, err := s.joined()
	if err != nil {
		return err
	}
	if err = s.hub.validate.Struct(p); err != nil {
		return err
	}
	if strings.TrimSpace(p.Message) == "" {
		return errBlankMessage
	}
	if p.SenderID != 0 && p.SenderID != sender.ID {
		return ErrNotAuthenticated
	}
	if p.ReceiverID == sender.ID {
		return ErrSelfMessage
	}

	receiverRole, err := s.hub.receiverRole(ctx, p.ReceiverID, p.ReceiverRole)
	if err != nil {
		return err
	}
	if !IsAllowed(sender.Role, receiverRole) {
		return ErrChatNotAllowed
	}

	msg, err := s.hub.repo.CreateMessage(ctx, Message{
		SenderID:     sender.ID,
		ReceiverID:   p.ReceiverID,
		Body:         p.Message,
		SenderRole:   sender.Role,
		ReceiverRole: receiverRole,
		AssignmentID: p.AssignmentID,
		Timestamp:    s.hub.now(),
	})
	if err != nil {
		if errors.Cause(err) == ErrUnknownAssignment {
			return ErrUnknownAssignment
		}
		return &StorageError{Op: "saving message", Err: err}
	}

	s.hub.deliver(msg.ReceiverID, Event{Name: EventMessageDelivered, Data: msg})
	return s.conn.Send(Event{Name: EventMessageAck, Data: msg})
}

// RequestHistory marks the messages of the other user as read and replies with the whole conversation.
func (s *Session) RequestHistory(ctx context.Context, p HistoryPayload) error {
	viewer, err := s.joined()
	if err != nil {
		return err
	}
	if err = s.hub.validate.Struct(p); err != nil {
		return err
	}
	if p.UserID != 0 && p.UserID != viewer.ID {
		return ErrNotAuthenticated
	}

	if _, err = s.markRead(ctx, viewer, p.OtherUserID); err != nil {
		return err
	}
	msgs, err := s.hub.repo.QueryConversation(ctx, viewer.ID, p.OtherUserID)
	if err != nil {
		return &StorageError{Op: "loading conversation", Err: err}
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return s.conn.Send(Event{Name: EventHistoryResult, Data: msgs})
}

// MarkRead marks the messages sent by the conversation peer as read.
func (s *Session) MarkRead(ctx context.Context, p MarkReadPayload) error {
	reader, err := s.joined()
	if err != nil {
		return err
	}
	if err = s.hub.validate.Struct(p); err != nil {
		return err
	}

	count, err := s.markRead(ctx, reader, p.ConversationPeerID)
	if err != nil {
		return err
	}
	return s.conn.Send(Event{
		Name: EventReadReceipt,
		Data: ReadReceipt{ConversationPeerID: p.ConversationPeerID, Count: count},
	})
}

// markRead flags peerID -> reader messages as read and tells the peer, if online.
func (s *Session) markRead(ctx context.Context, reader Identity, peerID int) (int, error) {
	count, err := s.hub.repo.MarkConversationRead(ctx, peerID, reader.ID)
	if err != nil {
		return 0, &StorageError{Op: "marking messages read", Err: err}
	}
	if count > 0 {
		s.hub.deliver(peerID, Event{Name: EventMessagesRead, Data: MessagesRead{ReaderID: reader.ID, Count: count}})
	}
	return count, nil
}

func (s *Session) TypingStart(ctx context.Context, p TypingPayload) error {
	return s.typing(p, true)
}

func (s *Session) TypingStop(ctx context.Context, p TypingPayload) error {
	return s.typing(p, false)
}

// typing forwards the typing state to an online receiver; it is dropped otherwise.
func (s *Session) typing(p TypingPayload, isTyping bool) error {
	sender, err := s.joined()
	if err != nil {
		return err
	}
	if err = s.hub.validate.Struct(p); err != nil {
		return err
	}
	s.hub.deliver(p.ReceiverID, Event{
		Name: EventTypingNotice,
		Data: TypingNotice{UserID: sender.ID, Username: sender.Username, IsTyping: isTyping},
	})
	return nil
}

// Disconnect unbinds the connection and announces the user offline if it still owned their presence.
// It is safe to call more than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.forget(s)

	s.hub.presenceMu.Lock()
	defer s.hub.presenceMu.Unlock()

	identity, offline := s.hub.registry.Remove(s.conn.ID())
	if !offline {
		return
	}
	if _, back := s.hub.registry.LookupConnection(identity.ID); back {
		return
	}
	s.hub.logger.Debug(fmt.Sprintf("chat: user %d left (%s)", identity.ID, s.conn.ID()))
	s.hub.registry.Broadcast(s.conn.ID(), Event{Name: EventUserOffline, Data: identity.Presence(false)})
}
