package report

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed mappings.yaml
var mappingsYAML []byte

// Source says where a mapped field reads its value from.
type Source string

const (
	SourceOIT      Source = "OIT"
	SourceAI       Source = "AI"
	SourceDate     Source = "DATE"
	SourceStatic   Source = "STATIC"
	SourceSampling Source = "SAMPLING"
	SourceSystem   Source = "SYSTEM"
)

// FieldMapping resolves one placeholder.
type FieldMapping struct {
	Source      Source `yaml:"source"`
	Field       string `yaml:"field"`
	StaticValue string `yaml:"staticValue"`
	Format      string `yaml:"format"`
}

type typeRule struct {
	Type       string   `yaml:"type"`
	Keywords   []string `yaml:"keywords"`
	OrderTypes []string `yaml:"order_types"`
}

type inferenceRule struct {
	Contains string       `yaml:"contains"`
	Mapping  FieldMapping `yaml:"mapping"`
}

// Tables is the parsed mappings file.
type Tables struct {
	TemplateTypes []typeRule                         `yaml:"template_types"`
	DefaultType   string                             `yaml:"default_type"`
	Mappings      map[string]map[string]FieldMapping `yaml:"mappings"`
	Numbered      map[string]FieldMapping            `yaml:"numbered"`
	Inference     []inferenceRule                    `yaml:"inference"`
	Aliases       map[string]FieldMapping            `yaml:"aliases"`
}

// LoadTables parses a mappings document.
func LoadTables(data []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "parse mappings")
	}
	if t.DefaultType == "" {
		t.DefaultType = "default"
	}
	for i := range t.TemplateTypes {
		for j, kw := range t.TemplateTypes[i].Keywords {
			t.TemplateTypes[i].Keywords[j] = strings.ToLower(kw)
		}
	}
	for i := range t.Inference {
		t.Inference[i].Contains = strings.ToLower(t.Inference[i].Contains)
	}
	return &t, nil
}

var defaultTables = mustLoadTables()

func mustLoadTables() *Tables {
	t, err := LoadTables(mappingsYAML)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultTables returns the embedded mapping tables.
func DefaultTables() *Tables { return defaultTables }

// TemplateType detects the template type from its file name.
func (t *Tables) TemplateType(fileName string) string {
	name := strings.ToLower(fileName)
	for _, r := range t.TemplateTypes {
		for _, kw := range r.Keywords {
			if strings.Contains(name, kw) {
				return r.Type
			}
		}
	}
	return t.DefaultType
}

// ForOrderType returns the template type used for an order classification.
func (t *Tables) ForOrderType(orderType string) string {
	for _, r := range t.TemplateTypes {
		for _, ot := range r.OrderTypes {
			if strings.EqualFold(ot, orderType) {
				return r.Type
			}
		}
	}
	return t.DefaultType
}

// infer returns the first inference rule whose words appear, in order and
// adjacent, among the words of the placeholder name. Words are split on
// separators, case changes and letter/digit boundaries, so "nit" matches
// "nit_empresa" and "NitEmpresa1" but not "punto_monitoreo".
func (t *Tables) infer(name string) (FieldMapping, bool) {
	words := nameWords(name)
	for _, r := range t.Inference {
		if hasWords(words, strings.Split(r.Contains, "_")) {
			return r.Mapping, true
		}
	}
	return FieldMapping{}, false
}

func nameWords(name string) []string {
	var (
		words []string
		cur   []rune
		prev  rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for _, r := range name {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case len(cur) > 0 && (unicode.IsUpper(r) && unicode.IsLower(prev) ||
			unicode.IsDigit(r) != unicode.IsDigit(prev)):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
		prev = r
	}
	flush()
	return words
}

func hasWords(words, rule []string) bool {
	for i := 0; i+len(rule) <= len(words); i++ {
		ok := true
		for j, w := range rule {
			if !sameWord(words[i+j], w) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// sameWord accepts the Spanish plural of w.
func sameWord(word, w string) bool {
	return word == w || word == w+"s" || word == w+"es"
}

// lookupPath walks a dot/bracket path ("stations[0].code") through decoded
// JSON values.
func lookupPath(root any, path string) (any, bool) {
	cur := root
	for _, tok := range splitPath(path) {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[tok]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(tok)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

func splitPath(path string) []string {
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)
	var out []string
	for _, p := range strings.Split(path, ".") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stringify renders a decoded JSON value for a document.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "Sí"
		}
		return "No"
	case []any:
		parts := make([]string, 0, len(val))
		for _, e := range val {
			if s := stringify(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		for _, k := range []string{"name", "nombre", "value", "valor", "code", "codigo"} {
			if s, ok := val[k]; ok {
				return stringify(s)
			}
		}
		b, _ := json.Marshal(val)
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}

var spanishMonths = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var titleCaser = cases.Title(language.Spanish)

// applyFormat formats a resolved value. Date formats leave values they cannot
// parse untouched.
func applyFormat(value, format string) string {
	if value == "" || format == "" {
		return value
	}
	switch format {
	case "upper":
		return strings.ToUpper(value)
	case "lower":
		return strings.ToLower(value)
	case "title":
		return titleCaser.String(strings.ToLower(value))
	}
	t, ok := parseDate(value)
	if !ok {
		return value
	}
	switch format {
	case "date:long":
		return fmt.Sprintf("%d de %s de %d", t.Day(), spanishMonths[t.Month()-1], t.Year())
	case "date:short":
		return t.Format("02/01/2006")
	case "date:iso":
		return t.Format("2006-01-02")
	case "year":
		return strconv.Itoa(t.Year())
	}
	return value
}
