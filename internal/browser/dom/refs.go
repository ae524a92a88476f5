// browser/dom/refs.go
package dom

import (
	"fmt"
	"regexp"
)

// RefAttr is the attribute the stamping script writes onto live elements.
const RefAttr = "data-wayfinder-ref"

var refPattern = regexp.MustCompile(`^e[1-9][0-9]*$`)

// ValidRef reports whether ref has the shape produced by the stamping script.
func ValidRef(ref string) bool {
	return refPattern.MatchString(ref)
}

// Selector returns the CSS selector that resolves ref on the live page.
func Selector(ref string) string {
	return fmt.Sprintf(`[%s="%s"]`, RefAttr, ref)
}

// candidateSelector matches everything that might be interactive. Finer
// filtering happens in Go once the snapshot is parsed.
const candidateSelector = `a[href], button, input, textarea, select, summary, [contenteditable=""], [contenteditable="true"], ` +
	`[role="button"], [role="link"], [role="tab"], [role="menuitem"], [role="checkbox"], [role="radio"], [role="option"], [role="switch"], [role="combobox"], [role="searchbox"], [role="textbox"]`

// copiedAttrs are the attributes carried from the live element into the snapshot fragment.
const copiedAttrs = `["role","aria-label","aria-disabled","href","type","name","placeholder","value","title","alt","disabled","readonly","contenteditable","id"]`

// StampScript clears previous references, stamps every visible candidate in
// document order with a fresh reference (e1, e2, ...) and returns an HTML
// fragment with one shallow copy per stamped element.
var StampScript = fmt.Sprintf(`(() => {
  const attr = %q;
  document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
  const keep = %s;
  const visible = (el) => {
    const rect = el.getBoundingClientRect();
    if (rect.width === 0 && rect.height === 0) return false;
    const style = window.getComputedStyle(el);
    return style.visibility !== 'hidden' && style.display !== 'none' && style.opacity !== '0';
  };
  const out = [];
  let n = 0;
  document.querySelectorAll(%q).forEach(el => {
    if (!visible(el)) return;
    n++;
    const ref = 'e' + n;
    el.setAttribute(attr, ref);
    const copy = document.createElement(el.tagName.toLowerCase());
    copy.setAttribute(attr, ref);
    for (const name of keep) {
      if (el.hasAttribute(name)) copy.setAttribute(name, el.getAttribute(name));
    }
    if (el.tagName === 'A' && el.href) copy.setAttribute('href', el.href);
    if ((el.tagName === 'INPUT' || el.tagName === 'TEXTAREA') && el.value) copy.setAttribute('value', el.value);
    if (el.tagName === 'SELECT' && el.selectedOptions && el.selectedOptions.length) {
      copy.setAttribute('value', el.selectedOptions[0].textContent.trim());
    }
    if (el.labels && el.labels.length && !el.hasAttribute('aria-label')) {
      copy.setAttribute('aria-label', el.labels[0].innerText.trim());
    }
    copy.textContent = (el.innerText || '').replace(/\s+/g, ' ').trim().slice(0, 500);
    out.push(copy.outerHTML);
  });
  return '<div>' + out.join('') + '</div>';
})()`, RefAttr, copiedAttrs, candidateSelector)
