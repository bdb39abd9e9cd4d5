package report

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/lukasjarosch/go-docx"
	"github.com/rotisserie/eris"

	"github.com/dylan-vpa/serambienteai-sub000/internal/storage"
)

// Renderer fills a named template with placeholder values.
type Renderer interface {
	FieldLister
	Render(ctx context.Context, templateName string, data map[string]string) ([]byte, error)
}

// ErrNoTemplate is returned when no Word template is available.
var ErrNoTemplate = eris.New("no report template")

var (
	xmlTag      = regexp.MustCompile(`<[^>]+>`)
	placeholder = regexp.MustCompile(`\{([A-Za-z0-9_.\-]+)\}`)
)

// Templates is the Word template catalog kept under a bucket prefix.
type Templates struct {
	bucket storage.Bucket
	prefix string
}

// NewTemplates creates a catalog over bucket keys starting with prefix.
func NewTemplates(bucket storage.Bucket, prefix string) *Templates {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Templates{bucket: bucket, prefix: prefix}
}

// List returns the .docx template names, sorted.
func (t *Templates) List(ctx context.Context) ([]string, error) {
	keys, err := t.bucket.List(ctx, t.prefix)
	if err != nil {
		return nil, eris.Wrap(err, "list templates")
	}
	var names []string
	for _, k := range keys {
		name := strings.TrimPrefix(k, t.prefix)
		if strings.EqualFold(path.Ext(name), ".docx") && !strings.Contains(name, "/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load fetches a template's bytes.
func (t *Templates) Load(ctx context.Context, name string) ([]byte, error) {
	b, err := t.bucket.Get(ctx, t.prefix+name)
	if err != nil {
		return nil, eris.Wrapf(err, "load template %s", name)
	}
	return b, nil
}

// Match picks the template for an order type: the first whose file name maps
// to the same template type, else the first generic one, else the first.
func (t *Templates) Match(ctx context.Context, tables *Tables, orderType string) (string, error) {
	names, err := t.List(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNoTemplate
	}
	want := tables.ForOrderType(orderType)
	var generic string
	for _, n := range names {
		tt := tables.TemplateType(n)
		if tt == want {
			return n, nil
		}
		if generic == "" && tt == tables.DefaultType {
			generic = n
		}
	}
	if generic != "" {
		return generic, nil
	}
	return names[0], nil
}

// Docx renders Word templates with go-docx.
type Docx struct {
	templates *Templates
}

// NewDocx creates a Word renderer over a template catalog.
func NewDocx(templates *Templates) *Docx {
	return &Docx{templates: templates}
}

// Fields enumerates the {placeholder} names of a template.
func (d *Docx) Fields(ctx context.Context, templateName string) ([]string, error) {
	b, err := d.templates.Load(ctx, templateName)
	if err != nil {
		return nil, err
	}
	return DocxFields(b)
}

// Render fills the template. Keys the template does not contain are skipped.
func (d *Docx) Render(ctx context.Context, templateName string, data map[string]string) ([]byte, error) {
	b, err := d.templates.Load(ctx, templateName)
	if err != nil {
		return nil, err
	}
	return FillDocx(b, data)
}

// DocxFields lists the placeholders in the body, headers and footers of a
// .docx. Run markup is stripped first so placeholders split across runs are
// still found.
func DocxFields(docxBytes []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(docxBytes), int64(len(docxBytes)))
	if err != nil {
		return nil, eris.Wrap(err, "open docx")
	}
	seen := map[string]bool{}
	for _, f := range zr.File {
		if !isContentPart(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", f.Name)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", f.Name)
		}
		text := xmlTag.ReplaceAll(raw, nil)
		for _, m := range placeholder.FindAllSubmatch(text, -1) {
			seen[string(m[1])] = true
		}
	}
	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields, nil
}

func isContentPart(name string) bool {
	if name == "word/document.xml" {
		return true
	}
	base := path.Base(name)
	return strings.HasPrefix(name, "word/") && strings.HasSuffix(base, ".xml") &&
		(strings.HasPrefix(base, "header") || strings.HasPrefix(base, "footer"))
}

// FillDocx replaces placeholders in a .docx held in memory.
func FillDocx(docxBytes []byte, data map[string]string) ([]byte, error) {
	fields, err := DocxFields(docxBytes)
	if err != nil {
		return nil, err
	}
	doc, err := docx.OpenBytes(docxBytes)
	if err != nil {
		return nil, eris.Wrap(err, "parse docx template")
	}
	defer doc.Close()

	replacements := make(docx.PlaceholderMap, len(fields))
	for _, f := range fields {
		replacements[f] = data[f]
	}
	if err := doc.ReplaceAll(replacements); err != nil {
		return nil, eris.Wrap(err, "fill docx template")
	}

	var buf bytes.Buffer
	if err := doc.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "write docx")
	}
	return buf.Bytes(), nil
}
