package target

import (
	"strings"
)

// DebugTarget is one entry of the upstream /json discovery document
type DebugTarget struct {
	Description          string `json:"description"`
	DevtoolsFrontendURL  string `json:"devtoolsFrontendUrl"`
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Category is one of the two logical debug sessions exposed by the proxy
type Category string

const (
	Dynamics Category = "Dynamics"
	Events   Category = "Events"
)

// Categories lists every category in restart order
var Categories = []Category{Dynamics, Events}

// Keyword returns the lowercase title substring that marks a target as
// belonging to this category.
func (c Category) Keyword() string {
	return strings.ToLower(string(c))
}

// Matches reports whether a target title belongs to the category, ignoring case
func (c Category) Matches(title string) bool {
	return strings.Contains(strings.ToLower(title), c.Keyword())
}

func (c Category) String() string {
	return string(c)
}

// Partition splits a catalog into per-category candidate lists, keeping the
// input order within each list. A title naming both categories lands in both.
func Partition(targets []DebugTarget) map[Category][]DebugTarget {
	out := make(map[Category][]DebugTarget, len(Categories))
	for _, c := range Categories {
		out[c] = nil
	}
	for _, t := range targets {
		for _, c := range Categories {
			if c.Matches(t.Title) {
				out[c] = append(out[c], t)
			}
		}
	}
	return out
}

// PathToken returns the final "/" segment of a websocket debugger URL, which
// is the upstream path the relay dials.
func PathToken(wsURL string) string {
	if i := strings.LastIndex(wsURL, "/"); i >= 0 {
		return wsURL[i+1:]
	}
	return wsURL
}
