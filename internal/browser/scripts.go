package browser

import (
	"encoding/json"
	"fmt"
)

// Page scripts are written as function bodies: WebDriver executes them as
// such, and the DevTools backend wraps them in an IIFE. Every action script
// returns true so both protocols see a defined result. Only integers and
// JSON-encoded strings are ever interpolated.

const readyStateScript = `return document.readyState;`

const newTabScript = `window.open('about:blank', '_blank'); return true;`

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func iife(body string) string {
	return "(function() {\n" + body + "\n})()"
}

func clickScript(x, y int) string {
	return fmt.Sprintf(`var el = document.elementFromPoint(%[1]d, %[2]d);
if (el) {
  el.click();
} else {
  document.dispatchEvent(new MouseEvent('click', {view: window, bubbles: true, cancelable: true, clientX: %[1]d, clientY: %[2]d}));
}
return true;`, x, y)
}

func hoverScript(x, y int) string {
	return fmt.Sprintf(`var el = document.elementFromPoint(%[1]d, %[2]d);
if (el) {
  ['mouseenter', 'mouseover', 'mousemove'].forEach(function(type) {
    el.dispatchEvent(new MouseEvent(type, {view: window, bubbles: type !== 'mouseenter', cancelable: true, clientX: %[1]d, clientY: %[2]d}));
  });
}
return true;`, x, y)
}

func focusScript(x, y int) string {
	return fmt.Sprintf(`var el = document.elementFromPoint(%d, %d);
if (el) {
  el.click();
  el.focus();
}
return true;`, x, y)
}

const clearScript = `var active = document.activeElement;
if (active && (active.tagName === 'INPUT' || active.tagName === 'TEXTAREA')) {
  active.value = '';
  active.dispatchEvent(new Event('input', {bubbles: true}));
} else if (active && active.isContentEditable) {
  var selection = window.getSelection();
  var range = document.createRange();
  range.selectNodeContents(active);
  selection.removeAllRanges();
  selection.addRange(range);
  selection.deleteFromDocument();
}
return true;`

func insertTextScript(text string) string {
	return fmt.Sprintf(`var text = %s;
var active = document.activeElement;
if (active && (active.tagName === 'INPUT' || active.tagName === 'TEXTAREA')) {
  active.value = (active.value || '') + text;
  active.dispatchEvent(new Event('input', {bubbles: true}));
} else if (active && active.isContentEditable) {
  var selection = window.getSelection();
  if (selection.rangeCount > 0) {
    var range = selection.getRangeAt(0);
    range.deleteContents();
    var node = document.createTextNode(text);
    range.insertNode(node);
    range.setStartAfter(node);
    range.setEndAfter(node);
    selection.removeAllRanges();
    selection.addRange(range);
  } else {
    active.textContent += text;
  }
} else if (active) {
  for (var i = 0; i < text.length; i++) {
    active.dispatchEvent(new KeyboardEvent('keypress', {key: text[i], charCode: text.charCodeAt(i), bubbles: true}));
  }
}
return true;`, jsString(text))
}

func scrollDocumentScript(d Direction) string {
	switch d {
	case Up:
		return `window.scrollBy(0, -window.innerHeight * 0.8); return true;`
	case Down:
		return `window.scrollBy(0, window.innerHeight * 0.8); return true;`
	case Left:
		return `window.scrollBy(-window.innerWidth * 0.5, 0); return true;`
	default:
		return `window.scrollBy(window.innerWidth * 0.5, 0); return true;`
	}
}

func scrollAtScript(x, y, dx, dy int) string {
	return fmt.Sprintf(`var el = document.elementFromPoint(%d, %d);
if (el) {
  el.scrollBy(%[3]d, %[4]d);
} else {
  window.scrollBy(%[3]d, %[4]d);
}
return true;`, x, y, dx, dy)
}

func dragScript(x, y, destX, destY int) string {
	return fmt.Sprintf(`var startX = %d, startY = %d, endX = %d, endY = %d;
var source = document.elementFromPoint(startX, startY);
if (!source) return true;
var data = new DataTransfer();
function fire(target, type, cx, cy) {
  target.dispatchEvent(new DragEvent(type, {bubbles: true, cancelable: true, dataTransfer: data, clientX: cx, clientY: cy}));
}
fire(source, 'dragstart', startX, startY);
fire(source, 'drag', endX, endY);
var target = document.elementFromPoint(endX, endY);
if (target) fire(target, 'drop', endX, endY);
fire(source, 'dragend', endX, endY);
return true;`, x, y, destX, destY)
}

func keydownScript(key string, ctrl, shift, alt, meta bool) string {
	return fmt.Sprintf(`var target = document.activeElement || document.body;
target.dispatchEvent(new KeyboardEvent('keydown', {key: %s, ctrlKey: %t, shiftKey: %t, altKey: %t, metaKey: %t, bubbles: true, cancelable: true}));
return true;`, jsString(key), ctrl, shift, alt, meta)
}

func highlightScript(x, y int) string {
	return fmt.Sprintf(`var ring = document.createElement('div');
ring.style.cssText = 'position:fixed;left:%dpx;top:%dpx;width:20px;height:20px;border:2px solid red;border-radius:50%%;box-sizing:border-box;pointer-events:none;z-index:2147483647';
(document.body || document.documentElement).appendChild(ring);
setTimeout(function() { ring.remove(); }, 1000);
return true;`, x-10, y-10)
}

// stealthScript hides the most common automation fingerprints.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'plugins', {get: () => ([{name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format', length: 1}])});
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});`
