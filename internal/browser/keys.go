package browser

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/chromedp/cdproto/input"
	"github.com/tebeka/selenium"
)

// keyDef describes one key for both protocols.
type keyDef struct {
	name string
	// native is the WebDriver code point sent with SendKeys.
	native string
	// key, code and vk are the DOM KeyboardEvent values.
	key  string
	code string
	vk   int64
	// modifier is non-zero for Shift, Control, Alt and Meta.
	modifier input.Modifier
}

func (k keyDef) isModifier() bool { return k.modifier != 0 }

func named(native, key, code string, vk int64) keyDef {
	return keyDef{native: native, key: key, code: code, vk: vk}
}

var namedKeys = map[string]keyDef{
	"backspace":  named(selenium.BackspaceKey, "Backspace", "Backspace", 8),
	"tab":        named(selenium.TabKey, "Tab", "Tab", 9),
	"enter":      named(selenium.EnterKey, "Enter", "Enter", 13),
	"return":     named(selenium.EnterKey, "Enter", "Enter", 13),
	"shift":      {native: selenium.ShiftKey, key: "Shift", code: "ShiftLeft", vk: 16, modifier: input.ModifierShift},
	"control":    {native: selenium.ControlKey, key: "Control", code: "ControlLeft", vk: 17, modifier: input.ModifierCtrl},
	"ctrl":       {native: selenium.ControlKey, key: "Control", code: "ControlLeft", vk: 17, modifier: input.ModifierCtrl},
	"alt":        {native: selenium.AltKey, key: "Alt", code: "AltLeft", vk: 18, modifier: input.ModifierAlt},
	"escape":     named(selenium.EscapeKey, "Escape", "Escape", 27),
	"esc":        named(selenium.EscapeKey, "Escape", "Escape", 27),
	"space":      named(selenium.SpaceKey, " ", "Space", 32),
	"pageup":     named(selenium.PageUpKey, "PageUp", "PageUp", 33),
	"pagedown":   named(selenium.PageDownKey, "PageDown", "PageDown", 34),
	"end":        named(selenium.EndKey, "End", "End", 35),
	"home":       named(selenium.HomeKey, "Home", "Home", 36),
	"left":       named(selenium.LeftArrowKey, "ArrowLeft", "ArrowLeft", 37),
	"arrowleft":  named(selenium.LeftArrowKey, "ArrowLeft", "ArrowLeft", 37),
	"up":         named(selenium.UpArrowKey, "ArrowUp", "ArrowUp", 38),
	"arrowup":    named(selenium.UpArrowKey, "ArrowUp", "ArrowUp", 38),
	"right":      named(selenium.RightArrowKey, "ArrowRight", "ArrowRight", 39),
	"arrowright": named(selenium.RightArrowKey, "ArrowRight", "ArrowRight", 39),
	"down":       named(selenium.DownArrowKey, "ArrowDown", "ArrowDown", 40),
	"arrowdown":  named(selenium.DownArrowKey, "ArrowDown", "ArrowDown", 40),
	"insert":     named(selenium.InsertKey, "Insert", "Insert", 45),
	"delete":     named(selenium.DeleteKey, "Delete", "Delete", 46),
	"f1":         named(selenium.F1Key, "F1", "F1", 112),
	"f2":         named(selenium.F2Key, "F2", "F2", 113),
	"f3":         named(selenium.F3Key, "F3", "F3", 114),
	"f4":         named(selenium.F4Key, "F4", "F4", 115),
	"f5":         named(selenium.F5Key, "F5", "F5", 116),
	"f6":         named(selenium.F6Key, "F6", "F6", 117),
	"f7":         named(selenium.F7Key, "F7", "F7", 118),
	"f8":         named(selenium.F8Key, "F8", "F8", 119),
	"f9":         named(selenium.F9Key, "F9", "F9", 120),
	"f10":        named(selenium.F10Key, "F10", "F10", 121),
	"f11":        named(selenium.F11Key, "F11", "F11", 122),
	"f12":        named(selenium.F12Key, "F12", "F12", 123),
	"meta":       {native: selenium.MetaKey, key: "Meta", code: "MetaLeft", vk: 91, modifier: input.ModifierMeta},
	"command":    {native: selenium.MetaKey, key: "Meta", code: "MetaLeft", vk: 91, modifier: input.ModifierMeta},
}

// lookupKey resolves a named key (case-insensitive) or a single printable
// character other than quotes and backslash.
func lookupKey(name string) (keyDef, bool) {
	if def, ok := namedKeys[strings.ToLower(name)]; ok {
		def.name = name
		return def, true
	}

	if utf8.RuneCountInString(name) != 1 {
		return keyDef{}, false
	}
	r, _ := utf8.DecodeRuneInString(name)
	if !unicode.IsPrint(r) || r == '"' || r == '\'' || r == '\\' {
		return keyDef{}, false
	}

	def := keyDef{name: name, native: name, key: name}
	switch {
	case r >= 'a' && r <= 'z':
		def.code = "Key" + strings.ToUpper(name)
		def.vk = int64(unicode.ToUpper(r))
	case r >= 'A' && r <= 'Z':
		def.code = "Key" + name
		def.vk = int64(r)
	case r >= '0' && r <= '9':
		def.code = "Digit" + name
		def.vk = int64(r)
	}
	return def, true
}

// resolveKeys validates every key and returns their definitions.
func resolveKeys(op string, keys []string) ([]keyDef, error) {
	if len(keys) == 0 {
		return nil, invalidInput(op, "at least one key is required")
	}
	defs := make([]keyDef, 0, len(keys))
	for _, k := range keys {
		def, ok := lookupKey(k)
		if !ok {
			return nil, invalidInput(op, "unsupported key %q", k)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// ValidKey reports whether name is accepted by key_combination.
func ValidKey(name string) bool {
	_, ok := lookupKey(name)
	return ok
}
