package wiki

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// maxEventSize bounds one SSE line; edit events are a few KB.
const maxEventSize = 1 << 20

// Stream reads EventStreams recentchange and calls fn with every raw edit
// event for this client's wiki. It returns when ctx ends, the connection
// fails, or fn returns an error.
func (c *Client) Stream(ctx context.Context, fn func(json.RawMessage) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.stream, nil)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Endpoint: "stream", Status: resp.StatusCode}
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), maxEventSize)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		raw := json.RawMessage(strings.TrimPrefix(line, "data: "))
		if !c.wantEvent(raw) {
			continue
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("stream: upstream closed")
}

func (c *Client) wantEvent(raw json.RawMessage) bool {
	var head struct {
		ServerName string `json:"server_name"`
		Type       string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return false
	}
	return head.ServerName == c.wiki && head.Type == "edit"
}
