package report

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Language is a report locale code.
type Language string

const (
	LangEnglish Language = "en"
	LangTurkish Language = "tr"
)

var ErrUnsupportedLanguage = errors.New("report: unsupported language")

//go:embed en.json tr.json
var localeFS embed.FS

var locales = map[Language]map[string]string{}

func init() {
	mustLoadLocale(LangEnglish, "en.json")
	mustLoadLocale(LangTurkish, "tr.json")
}

func mustLoadLocale(lang Language, file string) {
	data, err := localeFS.ReadFile(file)
	if err != nil {
		panic(fmt.Sprintf("report: load locale %s: %v", lang, err))
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err != nil {
		panic(fmt.Sprintf("report: parse locale %s: %v", lang, err))
	}
	locales[lang] = parsed
}

// Languages lists the embedded locales.
func Languages() []Language {
	out := make([]Language, 0, len(locales))
	for l := range locales {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Translator resolves report strings for one language, falling back to
// English for missing keys.
type Translator struct {
	lang Language
	data map[string]string
}

func NewTranslator(lang Language) Translator {
	data, ok := locales[lang]
	if !ok {
		lang = LangEnglish
		data = locales[LangEnglish]
	}
	return Translator{lang: lang, data: data}
}

func (t Translator) Lang() Language {
	return t.lang
}

func (t Translator) T(key string) string {
	if val, ok := t.data[key]; ok {
		return val
	}
	if val, ok := locales[LangEnglish][key]; ok {
		return val
	}
	return key
}

func (t Translator) Format(key string, args ...interface{}) string {
	return fmt.Sprintf(t.T(key), args...)
}

// ParseLanguage accepts flag values ("tr", "english") as well as POSIX
// locale strings ("tr_TR.UTF-8").
func ParseLanguage(lang string) (Language, error) {
	s := strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, "_", "-")
	switch s {
	case "", "c", "posix", "en", "en-us", "en-gb", "english":
		return LangEnglish, nil
	case "tr", "tr-tr", "turkish", "türkçe", "turkce":
		return LangTurkish, nil
	default:
		return LangEnglish, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}
}
