package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/browsr/internal/browser"
	"github.com/standardbeagle/browsr/internal/config"
)

// Tool names.
const (
	OpenWebBrowser = "open_web_browser"
	ClickAt        = "click_at"
	HoverAt        = "hover_at"
	TypeTextAt     = "type_text_at"
	ScrollDocument = "scroll_document"
	ScrollAt       = "scroll_at"
	Wait5Seconds   = "wait_5_seconds"
	GoBack         = "go_back"
	GoForward      = "go_forward"
	Search         = "search"
	Navigate       = "navigate"
	KeyCombination = "key_combination"
	DragAndDrop    = "drag_and_drop"
	CurrentState   = "current_state"
	NewTab         = "new_tab"
	CloseTab       = "close_tab"
	SwitchTab      = "switch_tab"
	ListTabs       = "list_tabs"
)

// DefaultScrollMagnitude is used when scroll_at omits magnitude.
const DefaultScrollMagnitude = 800

// Session is what the browser tools drive. *session.Manager implements it.
type Session interface {
	Open(ctx context.Context) (*browser.Observation, error)
	CurrentState(ctx context.Context) (*browser.Observation, error)
	ClickAt(ctx context.Context, x, y int) (*browser.Observation, error)
	HoverAt(ctx context.Context, x, y int) (*browser.Observation, error)
	TypeTextAt(ctx context.Context, x, y int, text string, pressEnter, clearBeforeTyping bool) (*browser.Observation, error)
	ScrollDocument(ctx context.Context, direction string) (*browser.Observation, error)
	ScrollAt(ctx context.Context, x, y int, direction string, magnitude int) (*browser.Observation, error)
	Wait5Seconds(ctx context.Context) (*browser.Observation, error)
	GoBack(ctx context.Context) (*browser.Observation, error)
	GoForward(ctx context.Context) (*browser.Observation, error)
	Search(ctx context.Context) (*browser.Observation, error)
	Navigate(ctx context.Context, url string) (*browser.Observation, error)
	KeyCombination(ctx context.Context, keys []string) (*browser.Observation, error)
	DragAndDrop(ctx context.Context, x, y, destX, destY int) (*browser.Observation, error)
	NewTab(ctx context.Context, url string) (*browser.Observation, *browser.TabInfo, error)
	CloseTab(ctx context.Context, handle string) (*browser.Observation, error)
	SwitchTab(ctx context.Context, sel browser.TabSelector) (*browser.Observation, error)
	ListTabs(ctx context.Context) (*browser.Observation, []browser.TabInfo, error)
}

// NoInput is the argument type of tools without parameters.
type NoInput struct{}

// PointInput is the argument type of click_at and hover_at.
type PointInput struct {
	X int `json:"x" jsonschema:"X coordinate in pixels from the left of the viewport"`
	Y int `json:"y" jsonschema:"Y coordinate in pixels from the top of the viewport"`
}

type TypeTextInput struct {
	X                 int    `json:"x" jsonschema:"X coordinate of the element to type into"`
	Y                 int    `json:"y" jsonschema:"Y coordinate of the element to type into"`
	Text              string `json:"text" jsonschema:"Text to type"`
	PressEnter        bool   `json:"press_enter,omitempty" jsonschema:"Press ENTER after typing (default false)"`
	ClearBeforeTyping *bool  `json:"clear_before_typing,omitempty" jsonschema:"Clear existing content before typing (default true)"`
}

type ScrollDocumentInput struct {
	Direction string `json:"direction" jsonschema:"One of up, down, left, right"`
}

type ScrollAtInput struct {
	X         int    `json:"x" jsonschema:"X coordinate of the element to scroll"`
	Y         int    `json:"y" jsonschema:"Y coordinate of the element to scroll"`
	Direction string `json:"direction" jsonschema:"One of up, down, left, right"`
	Magnitude *int   `json:"magnitude,omitempty" jsonschema:"Pixels to scroll (default 800)"`
}

type NavigateInput struct {
	URL string `json:"url" jsonschema:"URL to open; https:// is added when no scheme is given"`
}

type KeyCombinationInput struct {
	Keys []string `json:"keys" jsonschema:"Keys to press together, e.g. [\"Control\", \"c\"] or [\"Enter\"]"`
}

type DragAndDropInput struct {
	X            int `json:"x" jsonschema:"X coordinate of the element to drag"`
	Y            int `json:"y" jsonschema:"Y coordinate of the element to drag"`
	DestinationX int `json:"destination_x" jsonschema:"X coordinate to drop at"`
	DestinationY int `json:"destination_y" jsonschema:"Y coordinate to drop at"`
}

type NewTabInput struct {
	URL string `json:"url,omitempty" jsonschema:"Optional URL to open in the new tab"`
}

type CloseTabInput struct {
	Handle string `json:"handle,omitempty" jsonschema:"Window handle to close (default: the current tab)"`
}

type SwitchTabInput struct {
	Handle *string `json:"handle,omitempty" jsonschema:"Window handle to switch to"`
	Index  *int    `json:"index,omitempty" jsonschema:"0-based tab index to switch to"`
}

// registrar adds tools unless they are disabled.
type registrar struct {
	server     *mcp.Server
	cfg        *config.Config
	log        logrus.FieldLogger
	registered []string
}

func addTool[In any](r *registrar, tool *mcp.Tool, h mcp.ToolHandlerFor[In, any]) {
	if r.cfg.IsToolDisabled(tool.Name) {
		r.log.WithField("tool", tool.Name).Info("tool disabled")
		return
	}
	mcp.AddTool(r.server, tool, h)
	r.registered = append(r.registered, tool.Name)
}

// RegisterBrowserTools adds the browser tools to server and returns the
// names that were registered.
func RegisterBrowserTools(server *mcp.Server, sess Session, cfg *config.Config, log logrus.FieldLogger) []string {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &registrar{server: server, cfg: cfg, log: log.WithField("component", "tools")}
	h := &handlers{sess: sess, log: r.log}

	addTool(r, &mcp.Tool{
		Name:        OpenWebBrowser,
		Description: "Opens the web browser. Call this first before any other browser actions.",
	}, h.open)
	addTool(r, &mcp.Tool{
		Name:        ClickAt,
		Description: "Clicks at a specific x, y coordinate on the webpage. The coordinates are absolute values scaled to the screen dimensions.",
	}, h.clickAt)
	addTool(r, &mcp.Tool{
		Name:        HoverAt,
		Description: "Hovers at a specific x, y coordinate on the webpage. May be used to explore sub-menus that appear on hover.",
	}, h.hoverAt)
	addTool(r, &mcp.Tool{
		Name:        TypeTextAt,
		Description: "Types text at a specific x, y coordinate. The system can optionally press ENTER after typing and clear existing content before typing.",
	}, h.typeTextAt)
	addTool(r, &mcp.Tool{
		Name:        ScrollDocument,
		Description: "Scrolls the entire webpage 'up', 'down', 'left' or 'right' based on direction.",
	}, h.scrollDocument)
	addTool(r, &mcp.Tool{
		Name:        ScrollAt,
		Description: "Scrolls up, down, right, or left at a x, y coordinate by magnitude pixels.",
	}, h.scrollAt)
	addTool(r, &mcp.Tool{
		Name:        Wait5Seconds,
		Description: "Waits for 5 seconds to allow unfinished webpage processes to complete.",
	}, h.wait)
	addTool(r, &mcp.Tool{
		Name:        GoBack,
		Description: "Navigates back to the previous webpage in the browser history.",
	}, h.goBack)
	addTool(r, &mcp.Tool{
		Name:        GoForward,
		Description: "Navigates forward to the next webpage in the browser history.",
	}, h.goForward)
	addTool(r, &mcp.Tool{
		Name:        Search,
		Description: "Directly jumps to a search engine home page. Used when you need to start with a search.",
	}, h.search)
	addTool(r, &mcp.Tool{
		Name:        Navigate,
		Description: "Navigates directly to a specified URL. URLs without a protocol will be prefixed with 'https://'.",
	}, h.navigate)
	addTool(r, &mcp.Tool{
		Name:        KeyCombination,
		Description: "Presses keyboard keys and combinations, such as ['Control', 'c'] or ['Enter']. Supports modifiers like Control, Shift, Alt, Meta/Command.",
	}, h.keyCombination)
	addTool(r, &mcp.Tool{
		Name:        DragAndDrop,
		Description: "Drag and drop an element from a x, y coordinate to a destination_x, destination_y coordinate.",
	}, h.dragAndDrop)
	addTool(r, &mcp.Tool{
		Name:        CurrentState,
		Description: "Returns the current state of the webpage including a screenshot and the current URL.",
	}, h.currentState)
	addTool(r, &mcp.Tool{
		Name:        NewTab,
		Description: "Creates a new browser tab. Optionally navigates to a URL in the new tab. Returns information about the new tab and a screenshot.",
	}, h.newTab)
	addTool(r, &mcp.Tool{
		Name:        CloseTab,
		Description: "Closes a browser tab. If no handle is provided, closes the current tab.",
	}, h.closeTab)
	addTool(r, &mcp.Tool{
		Name:        SwitchTab,
		Description: "Switches to a different browser tab by handle or index. Provide exactly one of 'handle' (window handle string) or 'index' (0-based tab index).",
	}, h.switchTab)
	addTool(r, &mcp.Tool{
		Name:        ListTabs,
		Description: "Lists all open browser tabs with their handles, URLs, titles, and active status. Also returns a screenshot of the current tab.",
	}, h.listTabs)

	r.log.WithField("count", len(r.registered)).Debug("browser tools registered")
	return r.registered
}

type handlers struct {
	sess Session
	log  logrus.FieldLogger
}

// reply converts an action outcome into the tool envelope. Action errors
// never surface as protocol errors.
func (h *handlers) reply(tool, action string, start time.Time, obs *browser.Observation, err error, resp StateResponse) (*mcp.CallToolResult, any, error) {
	entry := h.log.WithFields(logrus.Fields{"tool": tool, "elapsed": time.Since(start).Round(time.Millisecond)})
	if err != nil {
		entry.WithError(err).Warn("tool failed")
		return failure(action, err), nil, nil
	}
	entry.Info(resp.Message)
	return stateResult(obs, resp), nil, nil
}

func (h *handlers) open(ctx context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, err := h.sess.Open(ctx)
	return h.reply(OpenWebBrowser, "open browser", start, obs, err, StateResponse{Message: "Browser opened successfully"})
}

func (h *handlers) clickAt(ctx context.Context, _ *mcp.CallToolRequest, in PointInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, err := h.sess.ClickAt(ctx, in.X, in.Y)
	return h.reply(ClickAt, "click", start, obs, err, StateResponse{Message: fmt.Sprintf("Clicked at (%d, %d)", in.X, in.Y)})
}

func (h *handlers) hoverAt(ctx context.Context, _ *mcp.CallToolRequest, in PointInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, err := h.sess.HoverAt(ctx, in.X, in.Y)
	return h.reply(HoverAt, "hover", start, obs, err, StateResponse{Message: fmt.Sprintf("Hovered at (%d, %d)", in.X, in.Y)})
}

func (h *handlers) typeTextAt(ctx context.Context, _ *mcp.CallToolRequest, in TypeTextInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	clearFirst := true
	if in.ClearBeforeTyping != nil {
		clearFirst = *in.ClearBeforeTyping
	}
	obs, err := h.sess.TypeTextAt(ctx, in.X, in.Y, in.Text, in.PressEnter, clearFirst)
	return h.reply(TypeTextAt, "type", start, obs, err, StateResponse{Message: fmt.Sprintf("Typed text at (%d, %d)", in.X, in.Y)})
}

func (h *handlers) scrollDocument(ctx context.Context, _ *mcp.CallToolRequest, in ScrollDocumentInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, err := h.sess.ScrollDocument(ctx, in.Direction)
	return h.reply(ScrollDocument, "scroll", start, obs, err, StateResponse{Message: "Scrolled " + in.Direction})
}

func (h *handlers) scrollAt(ctx context.Context, _ *mcp.CallToolRequest, in ScrollAtInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	magnitude := DefaultScrollMagnitude
	if in.Magnitude != nil {
		magnitude = *in.Magnitude
	}
	obs, err := h.sess.ScrollAt(ctx, in.X, in.Y, in.Direction, magnitude)
	return h.reply(ScrollAt, "scroll", start, obs, err, StateResponse{
		Message: fmt.Sprintf("Scrolled %s by %d pixels at (%d, %d)", in.Direction, magnitude, in.X, in.Y),
	})
}

func (h *handlers) wait(ctx context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, err := h.sess.Wait5Seconds(ctx)
	return h.reply(Wait5Seconds, "wait", start, obs, err, StateResponse{Message: "Waited 5 seconds"})
}

func (h *handlers) goBack(ctx context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, err := h.sess.GoBack(ctx)
	return h.reply(GoBack, "go back", start, obs, err, StateResponse{Message: "Navigated back"})
}

func (h *handlers) goForward(ctx context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, err := h.sess.GoForward(ctx)
	return h.reply(GoForward, "go forward", start, obs, err, StateResponse{Message: "Navigated forward"})
}

func (h *handlers) search(ctx context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, err := h.sess.Search(ctx)
	return h.reply(Search, "navigate to search", start, obs, err, StateResponse{Message: "Navigated to search engine"})
}

func (h *handlers) navigate(ctx context.Context, _ *mcp.CallToolRequest, in NavigateInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, err := h.sess.Navigate(ctx, in.URL)
	return h.reply(Navigate, "navigate", start, obs, err, StateResponse{Message: "Navigated to " + in.URL})
}

func (h *handlers) keyCombination(ctx context.Context, _ *mcp.CallToolRequest, in KeyCombinationInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, err := h.sess.KeyCombination(ctx, in.Keys)
	return h.reply(KeyCombination, "press keys", start, obs, err, StateResponse{Message: fmt.Sprintf("Pressed keys: %q", in.Keys)})
}

func (h *handlers) dragAndDrop(ctx context.Context, _ *mcp.CallToolRequest, in DragAndDropInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, err := h.sess.DragAndDrop(ctx, in.X, in.Y, in.DestinationX, in.DestinationY)
	return h.reply(DragAndDrop, "drag and drop", start, obs, err, StateResponse{
		Message: fmt.Sprintf("Dragged from (%d, %d) to (%d, %d)", in.X, in.Y, in.DestinationX, in.DestinationY),
	})
}

func (h *handlers) currentState(ctx context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, err := h.sess.CurrentState(ctx)
	return h.reply(CurrentState, "get current state", start, obs, err, StateResponse{Message: "Current state retrieved"})
}

func (h *handlers) newTab(ctx context.Context, _ *mcp.CallToolRequest, in NewTabInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, tab, err := h.sess.NewTab(ctx, in.URL)
	return h.reply(NewTab, "create new tab", start, obs, err, StateResponse{Message: "New tab created successfully", Tab: tab})
}

func (h *handlers) closeTab(ctx context.Context, _ *mcp.CallToolRequest, in CloseTabInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, err := h.sess.CloseTab(ctx, in.Handle)
	return h.reply(CloseTab, "close tab", start, obs, err, StateResponse{Message: "Tab closed successfully"})
}

func (h *handlers) switchTab(ctx context.Context, _ *mcp.CallToolRequest, in SwitchTabInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, err := h.sess.SwitchTab(ctx, browser.TabSelector{Handle: in.Handle, Index: in.Index})
	return h.reply(SwitchTab, "switch tab", start, obs, err, StateResponse{Message: "Switched to tab"})
}

func (h *handlers) listTabs(ctx context.Context, _ *mcp.CallToolRequest, _ NoInput) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	obs, tabs, err := h.sess.ListTabs(ctx)
	return h.reply(ListTabs, "list tabs", start, obs, err, StateResponse{Message: "Tabs listed successfully", Tabs: tabs})
}
