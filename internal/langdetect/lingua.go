package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

const minLetters = 6

// MarketLanguages covers the forums the catalog tracks.
var MarketLanguages = []lingua.Language{
	lingua.English,
	lingua.Bokmal,
	lingua.Nynorsk,
	lingua.Swedish,
	lingua.Danish,
	lingua.German,
	lingua.French,
	lingua.Spanish,
}

// Detector builds its lingua models on first use.
type Detector struct {
	languages []lingua.Language
	once      sync.Once
	detector  lingua.LanguageDetector
}

// New restricts detection to languages. Fewer than two means all languages.
func New(languages ...lingua.Language) *Detector {
	return &Detector{languages: append([]lingua.Language(nil), languages...)}
}

var defaultDetector = New(MarketLanguages...)

// DetectISO6391 uses the shared market-language detector.
func DetectISO6391(text string) string {
	return defaultDetector.Detect(text)
}

// Detect returns a lowercase ISO 639-1 code, or "" when the text is too short
// or the language is unknown.
func (d *Detector) Detect(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}

	language, exists := d.get().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func (d *Detector) get() lingua.LanguageDetector {
	d.once.Do(func() {
		unconfigured := lingua.NewLanguageDetectorBuilder()
		var builder lingua.LanguageDetectorBuilder
		if len(d.languages) >= 2 {
			builder = unconfigured.FromLanguages(d.languages...)
		} else {
			builder = unconfigured.FromAllLanguages()
		}
		d.detector = builder.WithPreloadedLanguageModels().Build()
	})
	return d.detector
}
