// Package routers registers the relay's HTTP surface: the websocket bridge
// endpoint, the SSE generation endpoint, and chat history routes.
package routers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tokenrelay/internal/chat"
	"tokenrelay/internal/dispatch"
	"tokenrelay/internal/middleware"
	"tokenrelay/internal/stats"
	"tokenrelay/internal/users"
)

type RelayRouter struct {
	dispatch *dispatch.Manager
	chats    chat.Store
	users    *users.Manager
	usage    *stats.Recorder
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
}

func RegisterRelayRoutes(e *echo.Group, dm *dispatch.Manager, store chat.Store, um *users.Manager, usage *stats.Recorder, log *zap.SugaredLogger) error {
	rr := &RelayRouter{
		dispatch: dm,
		chats:    store,
		users:    um,
		usage:    usage,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// TODO: restrict origins once the frontend host is pinned
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	umw := middleware.NewUserMiddleware(um)

	// The websocket endpoint authenticates from the turn request frame, not
	// a header, so it sits outside the user middleware.
	e.GET("/ws", rr.TurnWS)

	v1 := e.Group("/v1", umw.ExtractUser)
	requireUser := v1.Group("", umw.RequireUser)
	requireUser.POST("/generate", rr.GenerateSSE)
	requireUser.GET("/chats/:chat_id", rr.GetChat)
	requireUser.DELETE("/chats/:chat_id", rr.DeleteChat)
	return nil
}
