package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed instruments.yaml
var defaultCatalogYAML []byte

// Instrument is one catalog entry: a canonical symbol, the free-text aliases that
// denote it, and the region it trades in.
type Instrument struct {
	Symbol  string   `yaml:"symbol"`
	Region  string   `yaml:"region"`
	Aliases []string `yaml:"aliases"`
}

// Reference is a symbol found in text together with its region.
type Reference struct {
	Symbol string
	Region string
}

type catalogFile struct {
	Instruments []Instrument `yaml:"instruments"`
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	instruments []Instrument
	bySymbol    map[string]int
	patterns    [][]*regexp.Regexp
}

// Load reads a catalog file. An empty path selects the embedded default catalog.
func Load(path string) (*Catalog, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return Parse(defaultCatalogYAML)
	}

	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("read catalog file %q: %w", trimmed, err)
	}
	cat, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("catalog file %q: %w", trimmed, err)
	}
	return cat, nil
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

func Parse(raw []byte) (*Catalog, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)

	var file catalogFile
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog YAML: %w", err)
	}
	return New(file.Instruments)
}

// New validates entries and compiles their alias patterns. Entry order is kept
// and defines extraction priority.
func New(instruments []Instrument) (*Catalog, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("catalog has no instruments")
	}

	c := &Catalog{
		instruments: make([]Instrument, 0, len(instruments)),
		bySymbol:    make(map[string]int, len(instruments)),
		patterns:    make([][]*regexp.Regexp, 0, len(instruments)),
	}

	for i, raw := range instruments {
		symbol := strings.TrimSpace(raw.Symbol)
		if symbol == "" {
			return nil, fmt.Errorf("instruments[%d].symbol must not be empty", i)
		}
		if _, exists := c.bySymbol[symbol]; exists {
			return nil, fmt.Errorf("instruments[%d]: duplicate symbol %q", i, symbol)
		}
		region := strings.TrimSpace(raw.Region)
		if region == "" {
			return nil, fmt.Errorf("instruments[%d] (%s): region must not be empty", i, symbol)
		}
		if len(raw.Aliases) == 0 {
			return nil, fmt.Errorf("instruments[%d] (%s): at least one alias is required", i, symbol)
		}

		aliases := make([]string, 0, len(raw.Aliases))
		patterns := make([]*regexp.Regexp, 0, len(raw.Aliases))
		for j, alias := range raw.Aliases {
			trimmed := strings.TrimSpace(alias)
			if trimmed == "" {
				return nil, fmt.Errorf("instruments[%d] (%s): aliases[%d] must not be empty", i, symbol, j)
			}
			pattern, err := compileAlias(trimmed)
			if err != nil {
				return nil, fmt.Errorf("instruments[%d] (%s): alias %q: %w", i, symbol, trimmed, err)
			}
			aliases = append(aliases, trimmed)
			patterns = append(patterns, pattern)
		}

		c.bySymbol[symbol] = len(c.instruments)
		c.instruments = append(c.instruments, Instrument{
			Symbol:  symbol,
			Region:  region,
			Aliases: aliases,
		})
		c.patterns = append(c.patterns, patterns)
	}

	return c, nil
}

// Word characters are letters, digits and underscore in any script, so an
// alias never matches at the edge of a longer word such as "Equinorål".
const (
	leadingBoundary  = `(?:^|[^\p{L}\p{N}_])`
	trailingBoundary = `(?:$|[^\p{L}\p{N}_])`
)

// compileAlias builds a case-insensitive whole-word pattern for a literal alias.
// A side that begins or ends with a non-word character carries no boundary
// assertion, otherwise an alias like "J&J!" could never match.
func compileAlias(alias string) (*regexp.Regexp, error) {
	first, _ := utf8.DecodeRuneInString(alias)
	last, _ := utf8.DecodeLastRuneInString(alias)

	var b strings.Builder
	b.WriteString("(?i)")
	if isWordRune(first) {
		b.WriteString(leadingBoundary)
	}
	b.WriteString(regexp.QuoteMeta(alias))
	if isWordRune(last) {
		b.WriteString(trailingBoundary)
	}
	return regexp.Compile(b.String())
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.instruments)
}

// Instruments returns a copy of the entries in catalog order.
func (c *Catalog) Instruments() []Instrument {
	if c == nil {
		return nil
	}
	out := make([]Instrument, len(c.instruments))
	for i, inst := range c.instruments {
		out[i] = Instrument{
			Symbol:  inst.Symbol,
			Region:  inst.Region,
			Aliases: append([]string(nil), inst.Aliases...),
		}
	}
	return out
}

func (c *Catalog) Lookup(symbol string) (Instrument, bool) {
	if c == nil {
		return Instrument{}, false
	}
	idx, ok := c.bySymbol[strings.TrimSpace(symbol)]
	if !ok {
		return Instrument{}, false
	}
	inst := c.instruments[idx]
	inst.Aliases = append([]string(nil), inst.Aliases...)
	return inst, true
}
