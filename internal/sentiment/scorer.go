package sentiment

import (
	"bufio"
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/tsawler/prose/v3"
)

//go:embed lexicon.tsv
var defaultLexiconTSV []byte

// ErrLexiconMissing is returned by Load when the configured lexicon file does not
// exist. Lexicons are never downloaded at runtime.
var ErrLexiconMissing = errors.New("sentiment lexicon not found")

const (
	maxValence       = 4.0
	normalizeAlpha   = 15.0
	negationScalar   = -0.74
	capsIncrement    = 0.733
	exclaimIncrement = 0.292
	maxExclaims      = 4
	lookbackWindow   = 3
)

// boosterDecay scales an intensifier by its distance from the scored word.
var boosterDecay = [lookbackWindow]float64{1, 0.95, 0.9}

var boosters = map[string]float64{
	"absolutely":   0.293,
	"completely":   0.293,
	"extremely":    0.293,
	"hugely":       0.293,
	"incredibly":   0.293,
	"really":       0.293,
	"so":           0.293,
	"super":        0.293,
	"totally":      0.293,
	"very":         0.293,
	"barely":       -0.293,
	"hardly":       -0.293,
	"kinda":        -0.293,
	"slightly":     -0.293,
	"somewhat":     -0.293,
	"marginally":   -0.293,
	"occasionally": -0.293,
}

var negators = map[string]struct{}{
	"not":     {},
	"no":      {},
	"never":   {},
	"nor":     {},
	"none":    {},
	"nothing": {},
	"without": {},
	"cannot":  {},
	"n't":     {},
	"dont":    {},
	"don't":   {},
	"doesn't": {},
	"didn't":  {},
	"isn't":   {},
	"wasn't":  {},
	"aren't":  {},
	"can't":   {},
	"won't":   {},
	"ain't":   {},
}

// Scorer maps text to a sentiment score in [-1, 1]. Implementations must be
// deterministic for identical input.
type Scorer interface {
	Score(text string) (float64, error)
}

// Analyzer is a lexicon and rule based scorer producing a normalized compound
// score.
type Analyzer struct {
	valence map[string]float64
}

// Load initializes the analyzer from a tab separated lexicon file. An empty
// path loads the embedded lexicon.
func Load(path string) (*Analyzer, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		lexicon, err := ParseLexicon(bytes.NewReader(defaultLexiconTSV))
		if err != nil {
			return nil, fmt.Errorf("parse embedded lexicon: %w", err)
		}
		return NewAnalyzer(lexicon), nil
	}

	f, err := os.Open(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrLexiconMissing, trimmed)
		}
		return nil, fmt.Errorf("open lexicon %q: %w", trimmed, err)
	}
	defer f.Close()

	lexicon, err := ParseLexicon(f)
	if err != nil {
		return nil, fmt.Errorf("parse lexicon %q: %w", trimmed, err)
	}
	return NewAnalyzer(lexicon), nil
}

// ParseLexicon reads "token<TAB>valence" lines. Blank lines and lines starting
// with '#' are ignored.
func ParseLexicon(r io.Reader) (map[string]float64, error) {
	lexicon := make(map[string]float64, 256)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		token, rawValence, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("line %d: expected token<TAB>valence", lineNo)
		}
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			return nil, fmt.Errorf("line %d: empty token", lineNo)
		}
		valence, err := strconv.ParseFloat(strings.TrimSpace(rawValence), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid valence: %w", lineNo, err)
		}
		if math.Abs(valence) > maxValence {
			return nil, fmt.Errorf("line %d: valence %.2f outside [-%.0f, %.0f]", lineNo, valence, maxValence, maxValence)
		}
		lexicon[token] = valence
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	if len(lexicon) == 0 {
		return nil, fmt.Errorf("lexicon is empty")
	}
	return lexicon, nil
}

func NewAnalyzer(lexicon map[string]float64) *Analyzer {
	valence := make(map[string]float64, len(lexicon))
	for token, v := range lexicon {
		valence[strings.ToLower(token)] = v
	}
	return &Analyzer{valence: valence}
}

func (a *Analyzer) Score(text string) (float64, error) {
	if a == nil {
		return 0, fmt.Errorf("sentiment analyzer is not initialized")
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, nil
	}

	tokens, err := tokenize(trimmed)
	if err != nil {
		return 0, err
	}
	return a.scoreTokens(tokens), nil
}

func tokenize(text string) ([]string, error) {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, fmt.Errorf("tokenize text: %w", err)
	}

	tokens := doc.Tokens()
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if trimmed := strings.TrimSpace(tok.Text); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}

func (a *Analyzer) scoreTokens(tokens []string) float64 {
	mixedCase := hasMixedCase(tokens)

	var sum float64
	exclaims := 0
	for i, raw := range tokens {
		exclaims += strings.Count(raw, "!")

		word := strings.ToLower(strings.Trim(raw, "!"))
		if word == "" {
			continue
		}
		if _, ok := boosters[word]; ok {
			continue
		}
		if _, ok := negators[word]; ok {
			continue
		}
		v, ok := a.valence[word]
		if !ok || v == 0 {
			continue
		}

		if mixedCase && isShouted(raw) {
			v = intensify(v, capsIncrement)
		}
		for dist := 1; dist <= lookbackWindow && i-dist >= 0; dist++ {
			prev := strings.ToLower(tokens[i-dist])
			if scale, ok := boosters[prev]; ok {
				v = intensify(v, scale*boosterDecay[dist-1])
			}
			if _, ok := negators[prev]; ok {
				v *= negationScalar
			}
		}
		sum += v
	}

	if sum != 0 {
		sum = intensify(sum, float64(min(exclaims, maxExclaims))*exclaimIncrement)
	}
	return normalize(sum)
}

// intensify moves v away from zero by delta; a negative delta dampens.
func intensify(v, delta float64) float64 {
	if v > 0 {
		return v + delta
	}
	return v - delta
}

func normalize(sum float64) float64 {
	score := sum / math.Sqrt(sum*sum+normalizeAlpha)
	return math.Max(-1, math.Min(1, score))
}

func isShouted(token string) bool {
	letters := 0
	for _, r := range token {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
		letters++
	}
	return letters > 1
}

func hasMixedCase(tokens []string) bool {
	shouted, other := false, false
	for _, tok := range tokens {
		hasLetter := strings.IndexFunc(tok, unicode.IsLetter) >= 0
		if !hasLetter {
			continue
		}
		if isShouted(tok) {
			shouted = true
		} else {
			other = true
		}
		if shouted && other {
			return true
		}
	}
	return false
}
