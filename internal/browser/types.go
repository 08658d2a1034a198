package browser

import (
	"context"
	"strings"
)

// Observation is what the caller sees after every action.
type Observation struct {
	Screenshot []byte `json:"screenshot"`
	URL        string `json:"url"`
}

// TabInfo describes one browser window handle.
type TabInfo struct {
	Handle string `json:"handle"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
	// NavigationError is set by NewTab when the tab opened but the URL did not load.
	NavigationError string `json:"navigation_error,omitempty"`
}

// TabSelector picks a tab by handle or by zero-based index. Exactly one
// must be set.
type TabSelector struct {
	Handle *string
	Index  *int
}

// Direction is a scroll direction.
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// ParseDirection accepts up/down/left/right in any case.
func ParseDirection(op, s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Up, Down, Left, Right:
		return d, nil
	}
	return "", invalidInput(op, "direction %q must be one of up, down, left, right", s)
}

// Delta returns the x/y offsets for scrolling magnitude pixels in d.
func (d Direction) Delta(magnitude int) (dx, dy int) {
	switch d {
	case Up:
		return 0, -magnitude
	case Down:
		return 0, magnitude
	case Left:
		return -magnitude, 0
	case Right:
		return magnitude, 0
	}
	return 0, 0
}

// Backend performs primitive browser actions over one control protocol.
// Each action returns the page state after it completes. A Backend is not
// safe for concurrent use; the session manager serializes callers.
type Backend interface {
	Open(ctx context.Context) (*Observation, error)
	Close(ctx context.Context) error
	IsOpen() bool

	CurrentState(ctx context.Context) (*Observation, error)
	ClickAt(ctx context.Context, x, y int) (*Observation, error)
	HoverAt(ctx context.Context, x, y int) (*Observation, error)
	TypeTextAt(ctx context.Context, x, y int, text string, pressEnter, clearBeforeTyping bool) (*Observation, error)
	ScrollDocument(ctx context.Context, direction string) (*Observation, error)
	ScrollAt(ctx context.Context, x, y int, direction string, magnitude int) (*Observation, error)
	Wait5Seconds(ctx context.Context) (*Observation, error)
	GoBack(ctx context.Context) (*Observation, error)
	GoForward(ctx context.Context) (*Observation, error)
	Search(ctx context.Context) (*Observation, error)
	Navigate(ctx context.Context, url string) (*Observation, error)
	KeyCombination(ctx context.Context, keys []string) (*Observation, error)
	DragAndDrop(ctx context.Context, x, y, destX, destY int) (*Observation, error)

	NewTab(ctx context.Context, url string) (*Observation, *TabInfo, error)
	CloseTab(ctx context.Context, handle string) (*Observation, error)
	SwitchTab(ctx context.Context, sel TabSelector) (*Observation, error)
	ListTabs(ctx context.Context) (*Observation, []TabInfo, error)
}
