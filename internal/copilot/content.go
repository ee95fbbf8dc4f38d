package copilot

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Content is the subset of an uploaded payload the backend reads. The raw
// payload is stored untouched alongside it.
type Content struct {
	StageName string     `json:"stage_name"`
	Doc       *Doc       `json:"doc,omitempty"`
	Opers     []Operator `json:"opers,omitempty"`
	Groups    []Group    `json:"groups,omitempty"`
}

type Doc struct {
	Title   string `json:"title"`
	Details string `json:"details"`
}

type Operator struct {
	Name string `json:"name"`
}

type Group struct {
	Name  string     `json:"name"`
	Opers []Operator `json:"opers"`
}

var quoteStripper = strings.NewReplacer(`"`, "", "“", "", "”", "")

// RemoveQuotes strips ASCII and CJK double quotes.
func RemoveQuotes(s string) string {
	return quoteStripper.Replace(s)
}

// ParseContent decodes an uploaded payload and normalizes operator names.
func ParseContent(raw string) (*Content, error) {
	var c Content
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("parsing copilot content: %w", err)
	}
	if strings.TrimSpace(c.StageName) == "" {
		return nil, fmt.Errorf("parsing copilot content: stage_name is required")
	}
	for i := range c.Opers {
		c.Opers[i].Name = RemoveQuotes(c.Opers[i].Name)
	}
	for gi := range c.Groups {
		for oi := range c.Groups[gi].Opers {
			c.Groups[gi].Opers[oi].Name = RemoveQuotes(c.Groups[gi].Opers[oi].Name)
		}
	}
	return &c, nil
}

// Title returns doc.title or "" when absent.
func (c *Content) Title() string {
	if c.Doc == nil {
		return ""
	}
	return c.Doc.Title
}

func (c *Content) Details() string {
	if c.Doc == nil {
		return ""
	}
	return c.Doc.Details
}

// OperatorNames returns the distinct operator names referenced directly or
// through groups, in first-seen order.
func (c *Content) OperatorNames() []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for _, o := range c.Opers {
		add(o.Name)
	}
	for _, g := range c.Groups {
		for _, o := range g.Opers {
			add(o.Name)
		}
	}
	return names
}
