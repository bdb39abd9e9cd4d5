package report

import (
	"bytes"
	"context"
	_ "embed"
	"html/template"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed report.html.tmpl
var reportHTML string

var htmlReport = template.Must(template.New("report").Parse(reportHTML))

// CommandRunner runs an external binary and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	// LibreOffice needs a writable profile directory; Lambda only allows /tmp.
	cmd.Env = append(os.Environ(), "HOME="+os.TempDir())
	return cmd.CombinedOutput()
}

// HTMLPrinter prints an HTML document to PDF.
type HTMLPrinter func(ctx context.Context, html string) ([]byte, error)

// PDF converts rendered reports to PDF.
type PDF struct {
	sofficePath string
	chromePath  string
	run         CommandRunner
	printHTML   HTMLPrinter
	logger      *zap.Logger
}

// PDFOption configures a PDF converter.
type PDFOption func(*PDF)

// WithSofficePath overrides the LibreOffice binary lookup.
func WithSofficePath(p string) PDFOption { return func(c *PDF) { c.sofficePath = p } }

// WithChromePath sets the headless Chrome binary.
func WithChromePath(p string) PDFOption { return func(c *PDF) { c.chromePath = p } }

// WithCommandRunner replaces command execution (tests).
func WithCommandRunner(r CommandRunner) PDFOption { return func(c *PDF) { c.run = r } }

// WithHTMLPrinter replaces the chromedp printer (tests).
func WithHTMLPrinter(p HTMLPrinter) PDFOption { return func(c *PDF) { c.printHTML = p } }

// NewPDF creates a converter.
func NewPDF(logger *zap.Logger, opts ...PDFOption) *PDF {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &PDF{run: execRunner, logger: logger}
	for _, o := range opts {
		o(c)
	}
	if c.printHTML == nil {
		c.printHTML = chromePrinter(c.chromePath)
	}
	return c
}

// FromDocx converts a Word document with headless LibreOffice.
func (c *PDF) FromDocx(ctx context.Context, docxBytes []byte) ([]byte, error) {
	tmpdir, err := os.MkdirTemp("", "report-*")
	if err != nil {
		return nil, eris.Wrap(err, "create temp dir")
	}
	defer os.RemoveAll(tmpdir)

	in := filepath.Join(tmpdir, "report.docx")
	if err := os.WriteFile(in, docxBytes, 0o600); err != nil {
		return nil, eris.Wrap(err, "write temp docx")
	}
	out, err := c.run(ctx, c.soffice(), "--headless", "--norestore", "--convert-to", "pdf", "--outdir", tmpdir, in)
	if err != nil {
		return nil, eris.Wrapf(err, "soffice: %s", bytes.TrimSpace(out))
	}
	pdf, err := os.ReadFile(filepath.Join(tmpdir, "report.pdf"))
	if err != nil {
		return nil, eris.Wrap(err, "read converted pdf")
	}
	return pdf, nil
}

// FromHTML prints an HTML document with headless Chrome.
func (c *PDF) FromHTML(ctx context.Context, html string) ([]byte, error) {
	return c.printHTML(ctx, html)
}

func (c *PDF) soffice() string {
	if c.sofficePath != "" {
		return c.sofficePath
	}
	execPath, _ := os.Executable()
	for _, p := range []string{
		filepath.Join(filepath.Dir(execPath), "bin", "soffice"),
		"/opt/libreoffice/program/soffice",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "soffice"
}

func chromePrinter(execPath string) HTMLPrinter {
	return func(ctx context.Context, html string) ([]byte, error) {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("single-process", true),
		)
		if execPath != "" {
			opts = append(opts, chromedp.ExecPath(execPath))
		}
		allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
		defer allocCancel()
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		defer browserCancel()

		var pdf []byte
		err := chromedp.Run(browserCtx,
			chromedp.Navigate("about:blank"),
			chromedp.ActionFunc(func(ctx context.Context) error {
				tree, err := page.GetFrameTree().Do(ctx)
				if err != nil {
					return err
				}
				return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
			}),
			chromedp.ActionFunc(func(ctx context.Context) error {
				var err error
				pdf, _, err = page.PrintToPDF().
					WithPrintBackground(true).
					WithPaperWidth(8.27).
					WithPaperHeight(11.69).
					Do(ctx)
				return err
			}),
		)
		if err != nil {
			return nil, eris.Wrap(err, "print html to pdf")
		}
		return pdf, nil
	}
}

type htmlRow struct{ Label, Value string }

type htmlSection struct{ Title, Body string }

type htmlStep struct{ Title, Status string }

type htmlView struct {
	OITNumber   string
	Summary     []htmlRow
	Sections    []htmlSection
	Steps       []htmlStep
	GeneratedAt string
}

// RenderHTML builds the standalone HTML report used when no Word template
// applies. data is the mapper output for the order.
func RenderHTML(oc OrderContext, data map[string]string, narrative string) (string, error) {
	now := oc.Now
	if now.IsZero() {
		now = time.Now()
	}
	v := htmlView{
		OITNumber: data["OIT"],
		Summary: []htmlRow{
			{"Cliente", data["Client"]},
			{"Orden", data["OIT"]},
			{"Ubicación", data["Location"]},
			{"Ciudad", data["ciudad_1"]},
			{"Descripción", data["Description"]},
			{"Fecha", data["Date"]},
		},
		GeneratedAt: applyFormat(now.Format(time.RFC3339), "date:long"),
	}
	if o := oc.Order; o != nil {
		v.Sections = []htmlSection{
			{"Análisis final", narrative},
			{"Resultados de laboratorio", o.LabResultsAnalysis},
			{"Formato de campo", o.FieldFormAnalysis},
		}
		for i, s := range o.Steps() {
			status := "Pendiente"
			if o.SamplingProgress.IsCompleted(i) {
				status = "Validado"
			}
			v.Steps = append(v.Steps, htmlStep{Title: s.Title, Status: status})
		}
	}
	var buf bytes.Buffer
	if err := htmlReport.Execute(&buf, v); err != nil {
		return "", eris.Wrap(err, "render html report")
	}
	return buf.String(), nil
}
