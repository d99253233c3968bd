package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/orchestrator"
)

// eventWriteTimeout bounds one frame write so a stalled client cannot pin
// the handler goroutine.
const eventWriteTimeout = 5 * time.Second

// =============================================================================
// Event stream handler
// =============================================================================

// EventsHandler streams orchestrator lifecycle events over WebSocket. Each
// connection gets its own subscription; a slow client drops events rather
// than backpressuring the orchestrator.
type EventsHandler struct {
	bus    *orchestrator.EventBus
	logger *zap.Logger
}

// NewEventsHandler creates an events handler over the orchestrator's bus.
func NewEventsHandler(bus *orchestrator.EventBus, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{bus: bus, logger: logger}
}

// HandleEvents upgrades the request to a WebSocket and streams events as
// JSON text frames until the client disconnects or the bus closes.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "event stream aborted")

	events, cancel := h.bus.Subscribe()
	defer cancel()

	// The stream is write-only; CloseRead surfaces a client disconnect as
	// context cancellation.
	ctx := conn.CloseRead(r.Context())

	h.logger.Info("event stream opened", zap.String("remote", r.RemoteAddr))

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case evt, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "orchestrator stopped")
				return
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				h.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt orchestrator.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
