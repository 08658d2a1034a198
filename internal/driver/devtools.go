package driver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// DebuggerURL resolves a DevTools endpoint to its browser websocket URL.
// endpoint is either a ws:// URL, used as is, or an http:// base whose
// /json/version document names the websocket. Either way the websocket
// handshake is attempted once before the URL is returned.
func DebuggerURL(ctx context.Context, endpoint string) (string, error) {
	wsURL := endpoint
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		var err error
		wsURL, err = fetchDebuggerURL(ctx, endpoint)
		if err != nil {
			return "", err
		}
	}

	if err := dialWebSocket(ctx, wsURL); err != nil {
		return "", err
	}
	return wsURL, nil
}

func fetchDebuggerURL(ctx context.Context, endpoint string) (string, error) {
	url := strings.TrimSuffix(endpoint, "/") + "/json/version"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", url, err)
	}

	ws := gjson.GetBytes(body, "webSocketDebuggerUrl").String()
	if ws == "" {
		return "", fmt.Errorf("%w at %s", ErrNoDebuggerURL, url)
	}
	return ws, nil
}

func dialWebSocket(ctx context.Context, wsURL string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("DevTools websocket %s unreachable: %w", wsURL, err)
	}
	return conn.Close()
}
