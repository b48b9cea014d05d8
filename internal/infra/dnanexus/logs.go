package dnanexus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"applet-tester/internal/domain/model"
	"applet-tester/pkg/log"
)

// LogLevels are the job log levels requested from the stream.
var LogLevels = []string{"EMERG", "ALERT", "CRITICAL", "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG", "STDERR", "STDOUT"}

type logRequest struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	Tail        bool     `json:"tail"`
	Levels      []string `json:"levels"`
}

// StreamJobLog follows the job log over a websocket and calls fn for each
// message until the END_LOG system message arrives or ctx is done.
func (c *Client) StreamJobLog(ctx context.Context, jobID string, fn func(model.LogMessage)) error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("failed to get API token: %w", err)
	}

	url := websocketURL(c.baseURL) + "/" + jobID + "/getLog/websocket"
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return fmt.Errorf("failed to open log stream for %s (status=%s): %w", jobID, resp.Status, err)
		}
		return fmt.Errorf("failed to open log stream for %s: %w", jobID, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	hello := logRequest{
		AccessToken: token.AccessToken,
		TokenType:   "Bearer",
		Tail:        true,
		Levels:      LogLevels,
	}
	if err := conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("failed to request log stream for %s: %w", jobID, err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("log stream for %s failed: %w", jobID, err)
		}

		var msg model.LogMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug("Ignoring malformed log message", "job_id", jobID, "error", err)
			continue
		}
		if msg.IsEnd() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
		fn(msg)
	}
}

func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
