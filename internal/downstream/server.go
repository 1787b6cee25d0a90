package downstream

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koshedutech/market-broker/internal/channel"
	"github.com/koshedutech/market-broker/internal/downstream/protocol"
	"github.com/koshedutech/market-broker/internal/logging"
	"github.com/koshedutech/market-broker/internal/orderdispatch"
	"github.com/koshedutech/market-broker/internal/ratelimiter"
	"github.com/koshedutech/market-broker/internal/restclient"
	"github.com/koshedutech/market-broker/internal/streammanager"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // §6: "accepts any origin"
}

// LifecycleHooks lets the Server notify the broker orchestrator when the
// first renderer joins or the last one leaves, without importing the broker
// package (which itself depends on this one for *Hub).
type LifecycleHooks struct {
	OnJoined func(ctx context.Context)
	OnLeft   func()
}

// Server is §4.6's downstream websocket acceptor.
type Server struct {
	hub     *Hub
	rest    restclient.Client
	limiter *ratelimiter.RateLimiter
	dial    streammanager.Dialer
	wsURL   string
	hooks   LifecycleHooks
	log     *logging.Logger
}

// NewServer builds a Server. dial/wsURL parameterize each renderer's own
// MarketStreamManager (owned by its ChannelManager, per §3's Ownership note).
func NewServer(hub *Hub, rest restclient.Client, limiter *ratelimiter.RateLimiter, dial streammanager.Dialer, wsURL string, hooks LifecycleHooks) *Server {
	return &Server{hub: hub, rest: rest, limiter: limiter, dial: dial, wsURL: wsURL, hooks: hooks, log: logging.WithComponent("downstream.server")}
}

// Handler returns the http.Handler to mount at the websocket listen path.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.New().String()
	renderer := s.hub.Register(id)
	if s.hooks.OnJoined != nil {
		s.hooks.OnJoined(context.Background())
	}

	streamCfg := streammanager.Config{WSBaseURL: s.wsURL}
	chanMgr := channel.New(streamCfg, s.dial, s.rest, s.limiter, renderer)
	dispatcher := orderdispatch.New(s.rest, s.limiter)

	rc := &rendererConn{
		id: id, conn: conn, renderer: renderer, channels: chanMgr, dispatcher: dispatcher,
		server: s, closeChan: make(chan struct{}),
	}
	go rc.writePump()
	go rc.readPump()
}

// rendererConn binds one accepted websocket to its ChannelManager/Dispatcher
// and pumps outbound frames from the renderer's mailbox to the wire.
type rendererConn struct {
	id         string
	conn       *websocket.Conn
	renderer   *Renderer
	channels   *channel.Manager
	dispatcher *orderdispatch.Dispatcher
	server     *Server
	closeChan  chan struct{}
}

func (rc *rendererConn) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		rc.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-rc.renderer.send:
			rc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				rc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := encode(msg)
			if err != nil {
				continue
			}
			if err := rc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			rc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := rc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-rc.closeChan:
			return
		}
	}
}

func (rc *rendererConn) readPump() {
	defer func() {
		rc.channels.Cleanup()
		rc.server.hub.Unregister(rc.id)
		if rc.server.hooks.OnLeft != nil {
			rc.server.hooks.OnLeft()
		}
		rc.conn.Close()
		close(rc.closeChan)
	}()

	rc.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	rc.conn.SetPongHandler(func(string) error {
		rc.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := rc.conn.ReadMessage()
		if err != nil {
			return
		}
		rc.handleFrame(raw)
	}
}

func (rc *rendererConn) handleFrame(raw []byte) {
	action, err := protocol.ParseAction(raw)
	if err != nil {
		rc.server.log.Warn("dropping unparseable renderer frame", "renderer", rc.id, "error", err)
		return
	}

	switch action.Kind {
	case protocol.ActionSubscribe:
		cid := action.ChannelID
		if cid == "" {
			// The legacy request:"chart" frame carries no channelId; derive
			// the deterministic one so repeated legacy chart switches land on
			// the same channel instead of colliding on "".
			cid = channel.ID(action.ChannelType, action.Symbol, action.Interval)
		}
		// fetchDetailSnapshots' parallel REST fan-out can run well past a
		// single frame's budget under limiter backpressure; run it off the
		// read pump so a busy first-detail subscribe can't stall delivery of
		// this connection's later frames.
		go rc.channels.Subscribe(context.Background(), cid, action.ChannelType, action.Symbol, action.Interval, action.RequestID)
	case protocol.ActionUnsubscribe:
		rc.channels.Unsubscribe(action.ChannelID)
	case protocol.ActionEnableDepthView:
		rc.channels.EnableDepthView(action.Symbol)
	case protocol.ActionDisableDepthView:
		rc.channels.DisableDepthView()
	case protocol.ActionOrder:
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		detail, _ := rc.channels.GetDetailChannel()
		detailSymbol := ""
		if detail != nil {
			detailSymbol = detail.Symbol
		}
		rc.dispatcher.HandleOrder(ctx, rc.renderer, action, detailSymbol)
	case protocol.ActionCancelOrder:
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		rc.dispatcher.HandleCancelOrder(ctx, rc.renderer, action)
	}
}
