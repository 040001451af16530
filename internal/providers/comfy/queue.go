package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

// QueueSink receives queue events decoded from the service's event stream.
// *phase.Tracker satisfies it.
type QueueSink interface {
	SetQueuePosition(n int)
	MarkExecuting()
}

// queueFrame is the subset of service event frames the listener decodes.
type queueFrame struct {
	Type string `json:"type"`
	Data struct {
		Status struct {
			ExecInfo struct {
				QueueRemaining int `json:"queue_remaining"`
			} `json:"exec_info"`
		} `json:"status"`
	} `json:"data"`
}

// ListenQueue subscribes to the service's event stream and forwards queue
// positions and the executing signal to sink until the context is cancelled
// or the connection drops. The stream is advisory; callers treat any error
// as a degraded-but-working condition and fall back to polling.
func (c *Client) ListenQueue(ctx context.Context, clientID string, sink QueueSink) error {
	endpoint := c.wsBaseURL + "/ws?clientId=" + url.QueryEscape(clientID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("comfy: dial event stream: %w", err)
	}
	defer conn.Close()

	c.logger.Debug().Str("client_id", clientID).Msg("comfy: event stream connected")

	// ReadMessage has no context form; closing the connection unblocks it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("comfy: read event stream: %w", err)
		}

		var frame queueFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			// Binary preview frames and vendor extensions are expected noise.
			continue
		}

		switch frame.Type {
		case "status":
			remaining := frame.Data.Status.ExecInfo.QueueRemaining
			sink.SetQueuePosition(remaining)
			if remaining == 0 {
				// An empty queue means this job is the one being executed.
				sink.MarkExecuting()
			}
		case "executing":
			sink.MarkExecuting()
		}
	}
}
