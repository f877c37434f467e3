package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/cinderella/core"
)

type HubDeps struct {
	Config     core.ChatConfig
	Registry   *Registry
	Repo       Repository
	Directory  Directory // optional
	Validate   *validator.Validate
	Translator ut.Translator
	Logger     core.Logger
}

// Hub runs the messaging sessions of every connection against a shared Registry.
type Hub struct {
	conf       core.ChatConfig
	registry   *Registry
	repo       Repository
	directory  Directory
	validate   *validator.Validate
	translator ut.Translator
	logger     core.Logger
	nowFunc    func() time.Time // mockable

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool

	// held across a registry bind or unbind and its presence broadcast
	presenceMu sync.Mutex
}

func NewHub(deps HubDeps) *Hub {
	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Hub{
		conf:       deps.Config,
		registry:   registry,
		repo:       deps.Repo,
		directory:  deps.Directory,
		validate:   deps.Validate,
		translator: deps.Translator,
		logger:     deps.Logger,
		nowFunc:    time.Now,
		sessions:   make(map[*Session]struct{}),
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

// Online returns the presence snapshot of the joined users.
func (h *Hub) Online() []Presence {
	online := h.registry.ListOnline()
	presences := make([]Presence, 0, len(online))
	for _, identity := range online {
		presences = append(presences, identity.Presence(true))
	}
	return presences
}

// NewSession starts the session of a freshly opened connection.
// `authUserID` is the user the transport authenticated (0 if none); the session may then only join as that user.
func (h *Hub) NewSession(conn Conn, authUserID int) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, core.NewShutdownError("chat hub closed")
	}
	s := &Session{hub: h, conn: conn, authUserID: authUserID}
	h.sessions[s] = struct{}{}
	return s, nil
}

func (h *Hub) forget(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// Close disconnects every session and closes their connections. New sessions are refused afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Disconnect()
		if err := s.conn.Close(); err != nil {
			h.logger.Warn(fmt.Sprintf("closing chat connection %s: %v", s.conn.ID(), err))
		}
	}
}

// resolveIdentity looks a user up in the directory, falling back to `fallback` when no directory is set.
func (h *Hub) resolveIdentity(ctx context.Context, userID int, fallback Identity) (Identity, error) {
	if h.directory == nil {
		return fallback, nil
	}
	identity, err := h.directory.Identity(ctx, userID)
	if err != nil {
		if errors.Cause(err) == ErrUnknownUser {
			return Identity{}, ErrUnknownUser
		}
		return Identity{}, &StorageError{Op: "resolving user", Err: err}
	}
	return identity, nil
}

// receiverRole resolves the role of `receiverID`: registry first, then the directory, then the client's claim.
func (h *Hub) receiverRole(ctx context.Context, receiverID int, claimed string) (string, error) {
	if identity, ok := h.registry.LookupUser(receiverID); ok {
		return identity.Role, nil
	}
	identity, err := h.resolveIdentity(ctx, receiverID, Identity{ID: receiverID, Role: claimed})
	if err != nil {
		return "", err
	}
	if identity.Role == "" {
		return "", ErrUnknownUser
	}
	return identity.Role, nil
}

func (h *Hub) now() time.Time {
	return h.nowFunc().UTC().Truncate(time.Microsecond)
}

// deliver queues `evt` on the connection of `userID` if they are online.
func (h *Hub) deliver(userID int, evt Event) bool {
	conn, ok := h.registry.LookupConnection(userID)
	if !ok {
		return false
	}
	if err := conn.Send(evt); err != nil {
		h.logger.Warn(fmt.Sprintf("delivering %s to user %d: %v", evt.Name, userID, err))
		return false
	}
	return true
}

// rejectionReason renders `err` for clients.
func (h *Hub) rejectionReason(err error) string {
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		if h.translator == nil {
			return "invalid payload: " + vErrs.Error()
		}
		fields := core.TranslateValidationErrors(vErrs, h.translator)
		return "invalid payload: " + core.JoinFieldErrors(fields)
	}
	return err.Error()
}
