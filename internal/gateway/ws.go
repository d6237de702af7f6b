package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/piyushsatti/nonagon/internal/domain"
)

// feedTopics are the bus prefixes forwarded on the live feed.
var feedTopics = []string{"quest.", "signup.", "flush."}

// feedEvent is the wire shape of one live-feed message.
type feedEvent struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(ctx context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, payload)
}

// handleWS upgrades the connection and streams matching bus events until
// the client disconnects. The feed is read-only; inbound frames are drained
// and discarded.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, domain.Unauthorizedf("unauthorized"))
		return
	}
	if s.cfg.Bus == nil {
		writeError(w, domain.Validationf("live feed is not available"))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	c := &wsClient{conn: conn}
	s.addClient(c)
	s.logger.Info("ws: client connected")
	defer func() {
		s.removeClient(c)
		s.logger.Info("ws: client disconnecting")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := make([]func(), 0, len(feedTopics))
	var wg sync.WaitGroup
	for _, prefix := range feedTopics {
		sub := s.cfg.Bus.Subscribe(prefix)
		subs = append(subs, func() { s.cfg.Bus.Unsubscribe(sub) })
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-sub.Ch():
					if !ok {
						return
					}
					if err := c.write(ctx, feedEvent{Topic: ev.Topic, Payload: ev.Payload}); err != nil {
						cancel()
						return
					}
				}
			}
		}()
	}

	// Block on the read side so a client close tears the feed down.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	cancel()
	for _, unsubscribe := range subs {
		unsubscribe()
	}
	wg.Wait()
}

func (s *Server) addClient(c *wsClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *wsClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}
