package report

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

// MaxNumbered is the highest var_N placeholder always present in the data.
const MaxNumbered = 200

// FieldLister enumerates the placeholders of a template.
type FieldLister interface {
	Fields(ctx context.Context, templateName string) ([]string, error)
}

// OrderContext is everything a report can read.
type OrderContext struct {
	Order *oit.Order
	Now   time.Time
	// System carries generator-provided values (reportId, generatedBy).
	System map[string]string
}

// Mapper turns an order into the flat placeholder map a renderer consumes.
type Mapper struct {
	tables *Tables
	fields FieldLister
	logger *zap.Logger
}

// NewMapper creates a Mapper over the embedded tables. fields may be nil,
// in which case only mapped, numbered and alias keys are produced.
func NewMapper(fields FieldLister, logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{tables: DefaultTables(), fields: fields, logger: logger}
}

// WithTables returns a copy of m reading from t.
func (m *Mapper) WithTables(t *Tables) *Mapper {
	c := *m
	c.tables = t
	return &c
}

// TemplateType detects the mapping table for a template file name.
func (m *Mapper) TemplateType(templateFileName string) string {
	return m.tables.TemplateType(templateFileName)
}

// GenerateData resolves every placeholder of the template. Each key goes
// through the explicit mapping, then the numbered table, then name
// inference, and ends as "" when nothing matched. Aliases and var_1..var_200
// are always present.
func (m *Mapper) GenerateData(ctx context.Context, templateFileName string, oc OrderContext, narrative string) map[string]string {
	src := newSources(oc, narrative)
	ttype := m.tables.TemplateType(templateFileName)
	mapping := m.tables.Mappings[ttype]
	if mapping == nil {
		mapping = m.tables.Mappings[m.tables.DefaultType]
	}

	var names []string
	if m.fields != nil && templateFileName != "" {
		fields, err := m.fields.Fields(ctx, templateFileName)
		if err != nil {
			m.logger.Warn("template fields unavailable, using mapping keys only",
				zap.String("template", templateFileName), zap.Error(err))
		}
		names = fields
	}
	for name := range mapping {
		names = append(names, name)
	}

	out := make(map[string]string, len(names)+len(m.tables.Aliases)+MaxNumbered)
	for _, name := range names {
		if _, done := out[name]; done {
			continue
		}
		out[name] = m.resolve(name, mapping, src)
	}

	for name, fm := range m.tables.Aliases {
		if out[name] == "" {
			out[name] = src.value(fm)
		}
	}
	for i := 1; i <= MaxNumbered; i++ {
		name := "var_" + strconv.Itoa(i)
		if _, ok := out[name]; ok {
			continue
		}
		if fm, ok := m.tables.Numbered[name]; ok {
			out[name] = src.value(fm)
		} else {
			out[name] = ""
		}
	}
	return out
}

func (m *Mapper) resolve(name string, mapping map[string]FieldMapping, src sources) string {
	if fm, ok := mapping[name]; ok {
		if v := src.value(fm); v != "" {
			return v
		}
	}
	if fm, ok := m.tables.Numbered[name]; ok {
		if v := src.value(fm); v != "" {
			return v
		}
	}
	if fm, ok := m.tables.infer(name); ok {
		if v := src.value(fm); v != "" {
			return v
		}
	}
	return ""
}

type sources struct {
	oit      map[string]any
	ai       map[string]any
	sampling map[string]any
	system   map[string]string
	now      time.Time
}

func newSources(oc OrderContext, narrative string) sources {
	s := sources{now: oc.Now, system: map[string]string{}}
	if s.now.IsZero() {
		s.now = time.Now()
	}
	if oc.Order != nil {
		s.oit = toMap(oc.Order)
		s.ai = toMap(oc.Order.AIData.Data)
		s.sampling = oc.Order.SamplingData
	}
	for k, v := range oc.System {
		s.system[k] = v
	}
	s.system["narrative"] = narrative
	s.system["now"] = s.now.Format(time.RFC3339)
	return s
}

func (s sources) value(fm FieldMapping) string {
	var v string
	switch fm.Source {
	case SourceStatic:
		v = fm.StaticValue
	case SourceOIT:
		v = s.path(s.oit, fm.Field)
	case SourceAI:
		v = s.path(s.ai, fm.Field)
	case SourceSampling:
		v = s.path(s.sampling, fm.Field)
	case SourceSystem:
		v = s.system[fm.Field]
	case SourceDate:
		v = s.date(fm.Field)
		if fm.Format == "" {
			return applyFormat(v, "date:long")
		}
	}
	return applyFormat(v, fm.Format)
}

func (s sources) path(root map[string]any, path string) string {
	if root == nil || path == "" {
		return ""
	}
	v, ok := lookupPath(root, path)
	if !ok {
		return ""
	}
	return stringify(v)
}

// date resolves a DATE field: "now" or a date-valued field of the order or
// its AI data.
func (s sources) date(field string) string {
	if field == "" || field == "now" {
		return s.now.Format(time.RFC3339)
	}
	if v := s.path(s.oit, field); v != "" {
		return v
	}
	return s.path(s.ai, field)
}

func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
