// browser/dom/elements.go
package dom

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/wayfinder/api/schemas"
)

// ParseElements turns the fragment produced by StampScript into elements, in
// document order, skipping anything that cannot be acted on.
func ParseElements(fragment string) ([]schemas.Element, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("parsing interactive fragment: %w", err)
	}

	var elements []schemas.Element
	doc.Find("[" + RefAttr + "]").Each(func(_ int, s *goquery.Selection) {
		ref, _ := s.Attr(RefAttr)
		if !ValidRef(ref) || !actionable(s) {
			return
		}
		tag := goquery.NodeName(s)
		el := schemas.Element{
			Ref:   ref,
			Tag:   tag,
			Role:  roleOf(s, tag),
			Label: labelOf(s),
		}
		if href, ok := s.Attr("href"); ok && tag == "a" {
			el.Href = href
		}
		elements = append(elements, el)
	})
	return elements, nil
}

// actionable applies the disabled, readonly and hidden-input rules.
func actionable(s *goquery.Selection) bool {
	tag := goquery.NodeName(s)
	if tag == "html" || tag == "body" {
		return false
	}
	if _, disabled := s.Attr("disabled"); disabled {
		return false
	}
	if v, ok := s.Attr("aria-disabled"); ok && v == "true" {
		return false
	}
	inputType := strings.ToLower(s.AttrOr("type", "text"))
	if tag == "input" && inputType == "hidden" {
		return false
	}
	if isTextInput(tag, inputType) {
		if _, readonly := s.Attr("readonly"); readonly {
			return false
		}
	}
	return true
}

func isTextInput(tag, inputType string) bool {
	if tag == "textarea" {
		return true
	}
	if tag != "input" {
		return false
	}
	switch inputType {
	case "text", "search", "email", "url", "tel", "password", "number":
		return true
	}
	return false
}

// roleOf prefers an explicit ARIA role and otherwise derives one from the tag.
func roleOf(s *goquery.Selection, tag string) string {
	if role := strings.TrimSpace(s.AttrOr("role", "")); role != "" {
		return role
	}
	switch tag {
	case "a":
		return "link"
	case "button", "summary":
		return "button"
	case "select":
		return "combobox"
	case "textarea":
		return "textbox"
	case "input":
		switch t := strings.ToLower(s.AttrOr("type", "text")); t {
		case "submit", "button", "reset", "image":
			return "button"
		case "checkbox", "radio":
			return t
		case "search":
			return "searchbox"
		default:
			return "textbox"
		}
	}
	if _, ok := s.Attr("contenteditable"); ok {
		return "textbox"
	}
	return tag
}

// labelOf picks the most descriptive accessible name available.
func labelOf(s *goquery.Selection) string {
	candidates := []string{
		s.AttrOr("aria-label", ""),
		s.Text(),
		s.AttrOr("placeholder", ""),
		s.AttrOr("title", ""),
		s.AttrOr("alt", ""),
		s.AttrOr("value", ""),
		s.AttrOr("name", ""),
		s.AttrOr("id", ""),
	}
	for _, c := range candidates {
		if c = strings.Join(strings.Fields(c), " "); c != "" {
			return c
		}
	}
	return ""
}
