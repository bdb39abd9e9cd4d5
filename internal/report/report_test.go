package report

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dylan-vpa/serambienteai-sub000/internal/notify"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/storage"
	"github.com/dylan-vpa/serambienteai-sub000/internal/store"
)

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

// buildDocx assembles a minimal Word package.
func buildDocx(t *testing.T, body, header string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
			`<Default Extension="xml" ContentType="application/xml"/>` +
			`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`,
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8"?><w:document ` + wordNS + `><w:body>` + body + `</w:body></w:document>`,
	}
	if header != "" {
		files["word/header1.xml"] = `<?xml version="1.0" encoding="UTF-8"?><w:hdr ` + wordNS + `>` + header + `</w:hdr>`
	}
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func para(text string) string {
	return `<w:p><w:r><w:t>` + text + `</w:t></w:r></w:p>`
}

func documentText(t *testing.T, docx []byte) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(docx), int64(len(docx)))
	if err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	for _, f := range zr.File {
		if !isContentPart(f.Name) {
			continue
		}
		rc, _ := f.Open()
		var b bytes.Buffer
		b.ReadFrom(rc)
		rc.Close()
		sb.Write(xmlTag.ReplaceAll(b.Bytes(), nil))
	}
	return sb.String()
}

func TestDocxFields(t *testing.T) {
	// {cliente} split across two runs the way Word saves edited text
	body := para("Cliente: {numero_oit}") +
		`<w:p><w:r><w:t>{clie</w:t></w:r><w:r><w:t>nte}</w:t></w:r></w:p>` +
		para("{var_7} y {var_7}")
	docx := buildDocx(t, body, para("Orden {OIT}"))

	got, err := DocxFields(docx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"OIT", "cliente", "numero_oit", "var_7"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fields (-want +got):\n%s", diff)
	}
}

func TestDocxFields_NotAZip(t *testing.T) {
	if _, err := DocxFields([]byte("plain text")); err == nil {
		t.Fatal("expected error")
	}
}

func TestFillDocx(t *testing.T) {
	docx := buildDocx(t, para("Cliente: {cliente}")+para("Orden {numero_oit}"), "")
	out, err := FillDocx(docx, map[string]string{"cliente": "ACME", "numero_oit": "OIT-1", "unused": "x"})
	if err != nil {
		t.Fatal(err)
	}
	text := documentText(t, out)
	if !strings.Contains(text, "Cliente: ACME") || !strings.Contains(text, "Orden OIT-1") {
		t.Errorf("filled text = %q", text)
	}
	if left, _ := DocxFields(out); len(left) != 0 {
		t.Errorf("placeholders left: %v", left)
	}
}

func TestTemplates_ListAndMatch(t *testing.T) {
	bucket := storage.NewMemory()
	ctx := context.Background()
	for _, k := range []string{
		"templates/informe_general.docx",
		"templates/informe_ruido.docx",
		"templates/informe_calidad_aire.docx",
		"templates/notes.txt",
		"templates/old/informe_agua.docx",
	} {
		bucket.Put(ctx, k, "", []byte("x"))
	}
	tpl := NewTemplates(bucket, "templates")

	names, err := tpl.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"informe_calidad_aire.docx", "informe_general.docx", "informe_ruido.docx"}, names); diff != "" {
		t.Errorf("list (-want +got):\n%s", diff)
	}

	tests := []struct {
		orderType string
		want      string
	}{
		{"RUIDO", "informe_ruido.docx"},
		{"CALIDAD_AIRE", "informe_calidad_aire.docx"},
		{"AGUA", "informe_general.docx"},
		{"DEFAULT", "informe_general.docx"},
	}
	for _, tt := range tests {
		got, err := tpl.Match(ctx, DefaultTables(), tt.orderType)
		if err != nil || got != tt.want {
			t.Errorf("Match(%s) = %q, %v want %q", tt.orderType, got, err, tt.want)
		}
	}

	empty := NewTemplates(storage.NewMemory(), "templates/")
	if _, err := empty.Match(ctx, DefaultTables(), "RUIDO"); !errors.Is(err, ErrNoTemplate) {
		t.Errorf("empty catalog err = %v", err)
	}
}

type fakePDF struct {
	fromDocxFn func(ctx context.Context, docx []byte) ([]byte, error)
	htmlSeen   string
}

func (f *fakePDF) FromDocx(ctx context.Context, docx []byte) ([]byte, error) {
	if f.fromDocxFn != nil {
		return f.fromDocxFn(ctx, docx)
	}
	return []byte("%PDF-docx"), nil
}

func (f *fakePDF) FromHTML(_ context.Context, html string) ([]byte, error) {
	f.htmlSeen = html
	return []byte("%PDF-html"), nil
}

type generatorFixture struct {
	store  *store.MemStore
	bucket *storage.Memory
	pdf    *fakePDF
	sent   *notify.Recorder
	gen    *Generator
	order  *oit.Order
}

func newGeneratorFixture(t *testing.T, templates map[string][]byte) *generatorFixture {
	t.Helper()
	ctx := context.Background()
	f := &generatorFixture{
		store:  store.NewMemStore(),
		bucket: storage.NewMemory(),
		pdf:    &fakePDF{},
		sent:   &notify.Recorder{},
	}
	for name, b := range templates {
		f.bucket.Put(ctx, "templates/"+name, "", b)
	}
	f.order = sampleOrder()
	f.order.Status = oit.StatusCompleted
	if err := f.store.CreateOrder(ctx, f.order); err != nil {
		t.Fatal(err)
	}
	tpl := NewTemplates(f.bucket, "templates/")
	f.gen = NewGenerator(f.store, f.bucket, tpl, NewDocx(tpl), f.pdf, f.sent, nil)
	f.gen.now = func() time.Time { return reportDate }
	return f
}

func TestGenerator_Docx(t *testing.T) {
	tplBytes := buildDocx(t, para("Cliente {cliente}")+para("Estación {estacion_1}"), "")
	f := newGeneratorFixture(t, map[string][]byte{"informe_calidad_aire.docx": tplBytes})
	ctx := context.Background()

	key, err := f.gen.Generate(ctx, f.order.ID, FormatDocx, "u2")
	if err != nil {
		t.Fatal(err)
	}
	if want := "orders/" + f.order.ID + "/reports/informe-OIT-2026-0042-20260309-100000.docx"; key != want {
		t.Errorf("key = %q, want %q", key, want)
	}
	body, err := f.bucket.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if text := documentText(t, body); !strings.Contains(text, "Cliente ACME INDUSTRIAL S.A.S.") || !strings.Contains(text, "Estación E-01") {
		t.Errorf("report text = %q", text)
	}
	got, _ := f.store.GetOrder(ctx, f.order.ID)
	if got.FinalReportFile != key {
		t.Errorf("FinalReportFile = %q", got.FinalReportFile)
	}
	var users []string
	for _, n := range f.sent.Sent {
		users = append(users, n.UserID)
	}
	if diff := cmp.Diff([]string{"u2", "u1"}, users); diff != "" {
		t.Errorf("notified (-want +got):\n%s", diff)
	}
}

func TestGenerator_DocxWithoutTemplate(t *testing.T) {
	f := newGeneratorFixture(t, nil)
	if _, err := f.gen.Generate(context.Background(), f.order.ID, FormatDocx, "u1"); !errors.Is(err, ErrNoTemplate) {
		t.Fatalf("err = %v, want ErrNoTemplate", err)
	}
}

func TestGenerator_PDF(t *testing.T) {
	tplBytes := buildDocx(t, para("{cliente}"), "")

	t.Run("converted from docx", func(t *testing.T) {
		f := newGeneratorFixture(t, map[string][]byte{"informe_general.docx": tplBytes})
		key, err := f.gen.Generate(context.Background(), f.order.ID, FormatPDF, "u1")
		if err != nil {
			t.Fatal(err)
		}
		body, _ := f.bucket.Get(context.Background(), key)
		if string(body) != "%PDF-docx" || !strings.HasSuffix(key, ".pdf") {
			t.Errorf("key=%s body=%q", key, body)
		}
	})

	t.Run("conversion failure falls back to html", func(t *testing.T) {
		f := newGeneratorFixture(t, map[string][]byte{"informe_general.docx": tplBytes})
		f.pdf.fromDocxFn = func(context.Context, []byte) ([]byte, error) { return nil, errors.New("soffice missing") }
		key, err := f.gen.Generate(context.Background(), f.order.ID, FormatPDF, "u1")
		if err != nil {
			t.Fatal(err)
		}
		body, _ := f.bucket.Get(context.Background(), key)
		if string(body) != "%PDF-html" {
			t.Errorf("body = %q", body)
		}
		if !strings.Contains(f.pdf.htmlSeen, "Todas las estaciones cumplen la norma.") {
			t.Error("html report missing narrative")
		}
	})

	t.Run("no template renders html", func(t *testing.T) {
		f := newGeneratorFixture(t, nil)
		if _, err := f.gen.Generate(context.Background(), f.order.ID, FormatPDF, "u1"); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(f.pdf.htmlSeen, "OIT-2026-0042") {
			t.Error("html report missing order number")
		}
	})
}

func TestGenerator_OrderNotFound(t *testing.T) {
	f := newGeneratorFixture(t, nil)
	if _, err := f.gen.Generate(context.Background(), "missing", FormatPDF, "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatDocx, "PDF": FormatPDF, "docx": FormatDocx} {
		if got, ok := ParseFormat(in); !ok || got != want {
			t.Errorf("ParseFormat(%q) = %q,%v", in, got, ok)
		}
	}
	if _, ok := ParseFormat("odt"); ok {
		t.Error("odt accepted")
	}
}
