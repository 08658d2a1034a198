package browser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

const (
	fakeTargetID  = "TARGET-1"
	fakeSessionID = "SESSION-1"
)

var fakeScreenshot = []byte("\x89PNG fake")

type devtoolsMessage struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    any             `json:"result,omitempty"`
}

// fakeDevTools is a browser websocket endpoint that answers just enough of
// the DevTools protocol for one page target: target creation, evaluation,
// navigation with load events, history, screenshots and key events.
type fakeDevTools struct {
	srv *httptest.Server

	mu      sync.Mutex
	methods []string
	history []string
	current int
}

func newFakeDevTools(t *testing.T) *fakeDevTools {
	t.Helper()
	f := &fakeDevTools{current: -1}
	upgrader := websocket.Upgrader{}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg devtoolsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			for _, out := range f.handle(msg) {
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDevTools) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/devtools/browser/fake"
}

// count returns how many times method was called.
func (f *fakeDevTools) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.methods {
		if m == method {
			n++
		}
	}
	return n
}

func (f *fakeDevTools) location() string {
	if f.current < 0 {
		return "about:blank"
	}
	return f.history[f.current]
}

func (f *fakeDevTools) evaluate(expression string) map[string]any {
	switch expression {
	case "self":
		return map[string]any{"type": "object", "className": "Window"}
	case "document.readyState":
		return map[string]any{"type": "string", "value": "complete"}
	case "document.location.toString()":
		return map[string]any{"type": "string", "value": f.location()}
	default:
		return map[string]any{"type": "boolean", "value": true}
	}
}

func (f *fakeDevTools) handle(msg devtoolsMessage) []devtoolsMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods = append(f.methods, msg.Method)

	var params struct {
		Expression string `json:"expression"`
		URL        string `json:"url"`
		EntryID    int64  `json:"entryId"`
	}
	_ = json.Unmarshal(msg.Params, &params)

	reply := devtoolsMessage{ID: msg.ID, SessionID: msg.SessionID, Result: map[string]any{}}
	var events []devtoolsMessage

	switch msg.Method {
	case "Target.createTarget":
		reply.Result = map[string]any{"targetId": fakeTargetID}
	case "Target.attachToTarget":
		reply.Result = map[string]any{"sessionId": fakeSessionID}
	case "Runtime.evaluate":
		reply.Result = map[string]any{"result": f.evaluate(params.Expression)}
	case "Page.navigate":
		f.history = append(f.history[:f.current+1], params.URL)
		f.current = len(f.history) - 1
		loader := fmt.Sprintf("LOADER-%d", len(f.history))
		reply.Result = map[string]any{"frameId": fakeTargetID, "loaderId": loader}
		events = append(events,
			f.event("Page.lifecycleEvent", map[string]any{
				"frameId": fakeTargetID, "loaderId": loader, "name": "init", "timestamp": 1.0,
			}),
			f.event("Page.loadEventFired", map[string]any{"timestamp": 2.0}),
		)
	case "Page.getNavigationHistory":
		entries := make([]map[string]any, len(f.history))
		for i, u := range f.history {
			entries[i] = map[string]any{
				"id": i, "url": u, "userTypedURL": u, "title": u, "transitionType": "typed",
			}
		}
		reply.Result = map[string]any{"currentIndex": f.current, "entries": entries}
	case "Page.navigateToHistoryEntry":
		f.current = int(params.EntryID)
	case "Page.captureScreenshot":
		reply.Result = map[string]any{"data": base64.StdEncoding.EncodeToString(fakeScreenshot)}
	}
	return append([]devtoolsMessage{reply}, events...)
}

func (f *fakeDevTools) event(method string, params map[string]any) devtoolsMessage {
	raw, _ := json.Marshal(params)
	return devtoolsMessage{SessionID: fakeSessionID, Method: method, Params: raw}
}
