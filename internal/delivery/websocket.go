package delivery

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/ShayCichocki/fanout/pkg/models"
)

const writeWait = 10 * time.Second

// MessageTypeReport tags report envelopes.
const MessageTypeReport = "mission_report"

// Envelope is the JSON message written for each report.
type Envelope struct {
	Type       string        `json:"type"`
	Origin     models.Origin `json:"origin"`
	DisplayKey string        `json:"display_key,omitempty"`
	Text       string        `json:"text"`
	SentAt     time.Time     `json:"sent_at"`
}

// WebSocketDeliverer pushes reports to a websocket endpoint. The
// connection is opened lazily and redialled once if a write fails.
type WebSocketDeliverer struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger hclog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketDeliverer creates a deliverer for url (ws:// or wss://).
func NewWebSocketDeliverer(url string, header http.Header, logger hclog.Logger) *WebSocketDeliverer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &WebSocketDeliverer{
		url:    url,
		header: header,
		dialer: websocket.DefaultDialer,
		logger: logger.Named("delivery.ws"),
	}
}

// Deliver writes one envelope.
func (d *WebSocketDeliverer) Deliver(ctx context.Context, origin models.Origin, displayKey, text string) error {
	env := Envelope{
		Type:       MessageTypeReport,
		Origin:     origin,
		DisplayKey: displayKey,
		Text:       text,
		SentAt:     time.Now().UTC(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if d.conn == nil {
			conn, _, err := d.dialer.DialContext(ctx, d.url, d.header)
			if err != nil {
				return fmt.Errorf("dial %s: %w", d.url, err)
			}
			d.conn = conn
		}

		deadline := time.Now().Add(writeWait)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		_ = d.conn.SetWriteDeadline(deadline)

		err := d.conn.WriteJSON(env)
		if err == nil {
			return nil
		}
		lastErr = err
		d.logger.Warn("report write failed, reconnecting", "url", d.url, "error", err)
		d.conn.Close()
		d.conn = nil
	}
	return fmt.Errorf("write report: %w", lastErr)
}

// Close closes the underlying connection, if any.
func (d *WebSocketDeliverer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	_ = d.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := d.conn.Close()
	d.conn = nil
	return err
}

var _ Deliverer = (*WebSocketDeliverer)(nil)
