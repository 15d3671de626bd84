package live

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/config"
	"github.com/stopka007/IoT-sub000/internal/ids"
	"github.com/stopka007/IoT-sub000/internal/service"
)

// Authenticator verifies the access token presented by a connecting client.
type Authenticator interface {
	Authenticate(header string) (service.Principal, error)
	AuthenticateToken(token string) (service.Principal, error)
}

type Handler struct {
	registry *Registry
	auth     Authenticator
	cfg      config.LiveConfig
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(registry *Registry, auth Authenticator, cfg config.LiveConfig, log zerolog.Logger) *Handler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Handler{
		registry: registry,
		auth:     auth,
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers cannot set headers on WebSocket requests; the token
			// check below is what gates access.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve authenticates the request, upgrades it and keeps the connection
// registered until either side closes it.
func (h *Handler) Serve(c *gin.Context) {
	var (
		principal service.Principal
		err       error
	)
	if token := c.Query("token"); token != "" {
		principal, err = h.auth.AuthenticateToken(token)
	} else {
		principal, err = h.auth.Authenticate(c.GetHeader("Authorization"))
	}
	if err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		ID:     ids.New(),
		UserID: principal.UserID,
		Send:   make(chan []byte, h.cfg.SendBuffer),
	}
	h.registry.Add(client)
	h.log.Debug().Str("client_id", client.ID).Str("user_id", client.UserID).Msg("live client connected")

	go h.writePump(client, conn)
	h.readPump(client, conn)
}

// readPump discards client frames and unregisters the client once the
// connection fails or the peer stops answering pings.
func (h *Handler) readPump(client *Client, conn *websocket.Conn) {
	defer func() {
		h.registry.Remove(client)
		_ = conn.Close()
		h.log.Debug().Str("client_id", client.ID).Msg("live client disconnected")
	}()

	conn.SetReadLimit(512)
	wait := 2 * h.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(client *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
