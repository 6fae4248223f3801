package settlementd

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"tappay/core/events"
)

const wsWriteTimeout = 10 * time.Second

// handleEventStream upgrades to a websocket and streams committed events,
// starting after the optional cursor query parameter. Operators see every
// event; other callers only see events naming their own account.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	visible := func(events.FeedUpdate) bool { return true }
	if !caller.Has(ScopeOperator) {
		account := caller.Account.Hex()
		visible = func(update events.FeedUpdate) bool { return mentions(update, account) }
	}
	if err := s.streamEvents(ctx, conn, cursor, visible); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string, visible func(events.FeedUpdate) bool) error {
	updates, cancel, backlog := s.core.Feed.Subscribe(ctx, cursor)
	defer cancel()

	for _, update := range backlog {
		if !visible(update) {
			continue
		}
		if err := writeUpdate(ctx, conn, update); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if !visible(update) {
				continue
			}
			if err := writeUpdate(ctx, conn, update); err != nil {
				return err
			}
		}
	}
}

func writeUpdate(ctx context.Context, conn *websocket.Conn, update events.FeedUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func mentions(update events.FeedUpdate, account string) bool {
	if update.Event == nil {
		return false
	}
	for _, value := range update.Event.Attributes {
		if strings.EqualFold(value, account) {
			return true
		}
	}
	return false
}
