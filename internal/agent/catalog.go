package agent

import (
	"fmt"
	"sort"
	"strings"
)

// Definition binds an agent type to its task-type prefix and constructor
type Definition struct {
	Type        string
	Prefix      string
	Description string
	New         func() Handler
}

// Catalog is the closed table of deployable agent types. It is validated at
// construction so every task type resolves to at most one agent type.
type Catalog struct {
	defs   []Definition
	byType map[string]Definition
}

// NewCatalog validates defs and builds a catalog. Types must be unique and
// no prefix may be a prefix of another.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{byType: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		switch {
		case d.Type == "":
			return nil, fmt.Errorf("agent definition with prefix %q has no type", d.Prefix)
		case d.Prefix == "":
			return nil, fmt.Errorf("agent type %q has no task prefix", d.Type)
		case d.New == nil:
			return nil, fmt.Errorf("agent type %q has no constructor", d.Type)
		}
		if _, dup := c.byType[d.Type]; dup {
			return nil, fmt.Errorf("agent type %q defined twice", d.Type)
		}
		for _, other := range c.defs {
			if strings.HasPrefix(d.Prefix, other.Prefix) || strings.HasPrefix(other.Prefix, d.Prefix) {
				return nil, fmt.Errorf("ambiguous task prefixes: %q (%s) and %q (%s)", d.Prefix, d.Type, other.Prefix, other.Type)
			}
		}
		c.byType[d.Type] = d
		c.defs = append(c.defs, d)
	}
	sort.Slice(c.defs, func(i, j int) bool { return c.defs[i].Type < c.defs[j].Type })
	return c, nil
}

// Lookup returns the definition of an agent type
func (c *Catalog) Lookup(agentType string) (Definition, bool) {
	d, ok := c.byType[agentType]
	return d, ok
}

// Resolve returns the definition whose prefix matches taskType
func (c *Catalog) Resolve(taskType string) (Definition, bool) {
	for _, d := range c.defs {
		if strings.HasPrefix(taskType, d.Prefix) {
			return d, true
		}
	}
	return Definition{}, false
}

// Definitions returns every definition sorted by type
func (c *Catalog) Definitions() []Definition {
	return append([]Definition(nil), c.defs...)
}

// Types returns every agent type in sorted order
func (c *Catalog) Types() []string {
	types := make([]string, len(c.defs))
	for i, d := range c.defs {
		types[i] = d.Type
	}
	return types
}

// DefaultCatalog returns the built-in agent types
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Definition{Type: "echo", Prefix: "echo_", Description: "Returns the task payload unchanged", New: func() Handler { return &EchoHandler{} }},
		Definition{Type: "content_creator", Prefix: "content_", Description: "Drafts posts, articles and media briefs", New: func() Handler { return &ContentHandler{} }},
		Definition{Type: "social_poster", Prefix: "social_", Description: "Publishes and schedules social media posts", New: func() Handler { return NewSocialHandler() }},
		Definition{Type: "marketing_analyst", Prefix: "analysis_", Description: "Campaign metrics and budget allocation", New: func() Handler { return &AnalystHandler{} }},
		Definition{Type: "customer_support", Prefix: "support_", Description: "Tickets, FAQ lookups and feedback", New: func() Handler { return NewSupportHandler() }},
		Definition{Type: "payment_processor", Prefix: "payment_", Description: "Payment, invoice and refund requests", New: func() Handler { return &PaymentHandler{} }},
		Definition{Type: "security_monitor", Prefix: "security_", Description: "Log monitoring, audits and threat handling", New: func() Handler { return NewSecurityHandler() }},
	)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog: %v", err))
	}
	return c
}
