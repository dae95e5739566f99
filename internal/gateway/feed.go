package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const feedWriteTimeout = 5 * time.Second

// handleLockFeed streams a lock snapshot every LockFeedRate until the client
// goes away. Client messages are ignored.
func (g *Gateway) handleLockFeed(w http.ResponseWriter, r *http.Request) {
	noWriteDeadline(w)
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusInternalError, "unexpected close")
	}()

	g.metrics.feedClients.Add(1)
	defer g.metrics.feedClients.Add(-1)

	ctx := conn.CloseRead(r.Context())
	ticker := g.clock.NewTicker(g.config.LockFeedRate)
	defer ticker.Stop()

	for {
		if err := g.sendLocks(ctx, conn); err != nil {
			g.logger.Debug("gateway: lock feed stopped", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (g *Gateway) sendLocks(ctx context.Context, conn *websocket.Conn) error {
	statuses, err := g.deps.Locks.List(ctx)
	if err != nil {
		return fmt.Errorf("list locks: %w", err)
	}
	data, err := json.Marshal(toLockJSON(statuses))
	if err != nil {
		return fmt.Errorf("marshal locks: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
