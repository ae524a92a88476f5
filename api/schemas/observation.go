package schemas

import "time"

// Element is one interactive element visible in an observation. Ref is only
// meaningful against the observation it came from.
type Element struct {
	Ref   string `json:"ref" yaml:"ref"`
	Role  string `json:"role" yaml:"role"`
	Label string `json:"label" yaml:"label"`
	Href  string `json:"href,omitempty" yaml:"href,omitempty"`
	Tag   string `json:"tag,omitempty" yaml:"tag,omitempty"`
}

// Observation is an immutable snapshot of what the agent can currently see.
type Observation struct {
	URL             string    `json:"url" yaml:"url"`
	Title           string    `json:"title" yaml:"title"`
	Elements        []Element `json:"elements" yaml:"elements"`
	ElementsOmitted int       `json:"elements_omitted,omitempty" yaml:"elements_omitted,omitempty"`
	Text            string    `json:"text,omitempty" yaml:"text,omitempty"`
	TextTruncated   bool      `json:"text_truncated,omitempty" yaml:"text_truncated,omitempty"`
	Fingerprint     string    `json:"fingerprint" yaml:"fingerprint"`
	CapturedAt      time.Time `json:"captured_at" yaml:"captured_at"`
}

// HasRef reports whether ref names an element of this observation.
func (o Observation) HasRef(ref string) bool {
	_, ok := o.Element(ref)
	return ok
}

// Element looks up an element by reference.
func (o Observation) Element(ref string) (Element, bool) {
	for _, el := range o.Elements {
		if el.Ref == ref {
			return el, true
		}
	}
	return Element{}, false
}

// Summary condenses the observation into what the history ledger keeps.
func (o Observation) Summary() ObservationSummary {
	return ObservationSummary{
		URL:          o.URL,
		Title:        o.Title,
		ElementCount: len(o.Elements),
		Fingerprint:  o.Fingerprint,
	}
}

// ObservationSummary is the part of an observation recorded in history.
type ObservationSummary struct {
	URL          string `json:"url" yaml:"url"`
	Title        string `json:"title" yaml:"title"`
	ElementCount int    `json:"element_count" yaml:"element_count"`
	Fingerprint  string `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
}

// PageSnapshot is the raw material a browser session hands to the observer.
// Interactive holds one HTML node per visible interactive element, each
// stamped with a reference attribute.
type PageSnapshot struct {
	URL         string
	Title       string
	Interactive string
	Document    string
}
