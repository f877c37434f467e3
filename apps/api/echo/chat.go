package echoapi

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/trezcool/cinderella/core"
	"github.com/trezcool/cinderella/core/chat"
	"github.com/trezcool/cinderella/core/user"
)

type chatApi struct {
	conf     *core.Config
	hub      *chat.Hub
	repo     chat.Repository
	usrSvc   user.Service
	logger   core.Logger
	upgrader websocket.Upgrader
}

func registerChatAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := chatApi{
		conf:   deps.Conf,
		hub:    deps.ChatHub,
		repo:   deps.ChatRepo,
		usrSvc: deps.UserSvc,
		logger: deps.Logger,
	}
	api.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     api.checkOrigin,
	}

	cg := g.Group("/chat")

	// authenticates its own handshake: browsers cannot set headers on websocket requests
	cg.GET("/ws", api.connect)

	ag := cg.Group("", jwt)
	ag.GET("/online", api.online)
	ag.GET("/conversations", api.conversations)
	ag.GET("/available-users", api.availableUsers)
	ag.GET("/unread", api.unread)
}

func (api *chatApi) checkOrigin(r *http.Request) bool {
	allowed := api.conf.Chat.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	return lo.Contains(allowed, r.Header.Get(echo.HeaderOrigin))
}

// Handlers

func (api *chatApi) connect(ctx echo.Context) error {
	raw := requestToken(ctx)
	if raw == "" {
		return errUnauthorized
	}
	claims, err := parseToken(api.conf, raw)
	if err != nil {
		return errUnauthorized
	}
	usr, err := getContextUser(ctx, api.usrSvc, *claims)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !usr.IsActive {
		return errAccountDeactivated
	}

	ws, err := api.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// the upgrader already replied
		api.logger.Debug("upgrading chat connection: " + err.Error())
		return nil
	}

	conn := newWSConn(ws, api.conf.Chat, api.logger)
	go conn.writeLoop()

	session, err := api.hub.NewSession(conn, usr.ID)
	if err != nil {
		conn.Close()
		<-conn.Done()
		return nil
	}

	reqCtx, cancel := context.WithCancel(ctx.Request().Context())
	defer cancel()

	conn.readLoop(func(frame []byte) {
		session.Handle(reqCtx, frame)
	})

	session.Disconnect()
	conn.Close()
	<-conn.Done()
	return nil
}

func (api *chatApi) online(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.hub.Online())
}

func (api *chatApi) conversations(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	convs, err := api.repo.QueryConversations(ctx.Request().Context(), usr.ID)
	if err != nil {
		return &chat.StorageError{Op: "loading conversations", Err: err}
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	return ctx.JSON(http.StatusOK, convs)
}

// availableUsers lists who the caller may chat with, flagged online or not.
func (api *chatApi) availableUsers(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	peers, err := api.usrSvc.ChatPeers(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "querying chat peers")
	}

	registry := api.hub.Registry()
	return ctx.JSON(http.StatusOK, lo.Map(peers, func(peer user.User, _ int) chat.Presence {
		_, online := registry.LookupConnection(peer.ID)
		return peer.ChatIdentity().Presence(online)
	}))
}

func (api *chatApi) unread(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	count, err := api.repo.CountUnread(ctx.Request().Context(), usr.ID)
	if err != nil {
		return &chat.StorageError{Op: "counting unread messages", Err: err}
	}
	return ctx.JSON(http.StatusOK, UnreadResponse{UnreadCount: count})
}

type UnreadResponse struct {
	UnreadCount int `json:"unread_count"`
}
