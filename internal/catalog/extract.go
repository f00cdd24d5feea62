package catalog

import "strings"

// Extract returns the distinct instruments mentioned in text, in catalog order
// (not match position). The first alias hit for a symbol wins and the remaining
// aliases of that symbol are not tried.
func (c *Catalog) Extract(text string) []Reference {
	if c == nil || strings.TrimSpace(text) == "" {
		return nil
	}

	var refs []Reference
	for i, inst := range c.instruments {
		for _, pattern := range c.patterns[i] {
			if pattern.MatchString(text) {
				refs = append(refs, Reference{Symbol: inst.Symbol, Region: inst.Region})
				break
			}
		}
	}
	return refs
}

// SearchQuery joins every alias into one disjunctive upstream search expression.
// Aliases with internal whitespace are quoted so they are searched as a phrase.
func (c *Catalog) SearchQuery() string {
	if c == nil {
		return ""
	}

	terms := make([]string, 0, len(c.instruments)*2)
	for _, inst := range c.instruments {
		for _, alias := range inst.Aliases {
			if strings.ContainsAny(alias, " \t") {
				terms = append(terms, `"`+alias+`"`)
				continue
			}
			terms = append(terms, alias)
		}
	}
	return strings.Join(terms, " OR ")
}
