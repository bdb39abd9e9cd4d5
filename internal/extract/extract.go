// Package extract turns uploaded documents into plain text. Extraction is
// best-effort: every path degrades to the next one and total failure yields
// an empty string, never an error.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dylan-vpa/serambienteai-sub000/internal/llm"
)

const (
	// minDigitalText is the digital-text length below which a PDF is treated
	// as scanned and sent to OCR.
	minDigitalText = 100
	// maxOCRPages bounds the pages sent to the vision model per document.
	maxOCRPages = 10
	// minRun is the shortest printable run kept by the binary fallback.
	minRun = 4

	ocrPrompt = "Transcribe all the text in this document page verbatim, preserving line breaks and table rows. " +
		"Do not summarize, translate or add commentary. If the page has no text, answer with an empty string."
)

// TextExtractor is what the pipeline needs from this package.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) string
}

// CommandRunner runs an external binary and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Extractor implements TextExtractor with mutool and a vision model.
type Extractor struct {
	model      llm.Client
	logger     *zap.Logger
	mutoolPath string
	run        CommandRunner
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMutoolPath overrides the mutool binary lookup.
func WithMutoolPath(p string) Option {
	return func(e *Extractor) { e.mutoolPath = p }
}

// WithRunner replaces command execution (tests).
func WithRunner(r CommandRunner) Option {
	return func(e *Extractor) { e.run = r }
}

// New creates an Extractor. model may be llm.Unavailable, in which case OCR is
// skipped.
func New(model llm.Client, logger *zap.Logger, opts ...Option) *Extractor {
	e := &Extractor{model: model, logger: logger, run: execRunner}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExtractText returns the best text it can get out of data.
func (e *Extractor) ExtractText(ctx context.Context, data []byte, mimeType string) string {
	if len(data) == 0 {
		return ""
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	switch {
	case isPDF(data, mimeType):
		return e.fromPDF(ctx, data)
	case strings.HasPrefix(mimeType, "image/") || isImage(data):
		return e.ocrImage(ctx, data)
	case isPlainText(data, mimeType):
		return string(data)
	default:
		return PrintableRuns(data)
	}
}

func (e *Extractor) fromPDF(ctx context.Context, data []byte) string {
	tmpdir, err := os.MkdirTemp("", "extract-*")
	if err != nil {
		e.logger.Warn("create temp dir", zap.Error(err))
		return PrintableRuns(data)
	}
	defer os.RemoveAll(tmpdir)

	pdfPath := filepath.Join(tmpdir, "input.pdf")
	if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
		e.logger.Warn("write temp pdf", zap.Error(err))
		return PrintableRuns(data)
	}

	text, err := e.digitalText(ctx, pdfPath, tmpdir)
	if err != nil {
		e.logger.Warn("pdf text extraction failed", zap.Error(err))
	}
	if len(strings.TrimSpace(text)) >= minDigitalText {
		return text
	}

	if ocr := e.ocrPDF(ctx, pdfPath, tmpdir); strings.TrimSpace(ocr) != "" {
		return ocr
	}
	if strings.TrimSpace(text) != "" {
		return text
	}
	return PrintableRuns(data)
}

func (e *Extractor) digitalText(ctx context.Context, pdfPath, tmpdir string) (string, error) {
	outPath := filepath.Join(tmpdir, "text.txt")
	// mutool draw -F txt -o /tmp/text.txt input.pdf
	if out, err := e.run(ctx, e.mutool(), "draw", "-F", "txt", "-o", outPath, pdfPath); err != nil {
		return "", eris.Wrapf(err, "mutool draw txt (%s)", strings.TrimSpace(string(out)))
	}
	b, err := os.ReadFile(outPath)
	if err != nil {
		return "", eris.Wrap(err, "read text output")
	}
	return string(b), nil
}

func (e *Extractor) ocrPDF(ctx context.Context, pdfPath, tmpdir string) string {
	if !e.model.Available(ctx) {
		return ""
	}
	// mutool draw -o /tmp/page-%04d.jpg -r 150 -F jpeg input.pdf 1-N
	pattern := filepath.Join(tmpdir, "page-%04d.jpg")
	pages := fmt.Sprintf("1-%d", maxOCRPages)
	if out, err := e.run(ctx, e.mutool(), "draw", "-o", pattern, "-r", "150", "-F", "jpeg", pdfPath, pages); err != nil {
		e.logger.Warn("render pages for ocr", zap.Error(err), zap.String("output", strings.TrimSpace(string(out))))
		return ""
	}
	matches, err := filepath.Glob(filepath.Join(tmpdir, "page-*.jpg"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)

	var b strings.Builder
	for i, m := range matches {
		img, err := os.ReadFile(m)
		if err != nil {
			continue
		}
		text, err := e.transcribe(ctx, img, "image/jpeg")
		if err != nil {
			e.logger.Warn("ocr page failed", zap.Int("page", i+1), zap.Error(err))
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String()
}

func (e *Extractor) ocrImage(ctx context.Context, data []byte) string {
	if !e.model.Available(ctx) {
		return ""
	}
	img, mimeType, err := NormalizeImage(data)
	if err != nil {
		e.logger.Warn("normalize image", zap.Error(err))
		return ""
	}
	text, err := e.transcribe(ctx, img, mimeType)
	if err != nil {
		e.logger.Warn("ocr image failed", zap.Error(err))
		return ""
	}
	return text
}

func (e *Extractor) transcribe(ctx context.Context, img []byte, mimeType string) (string, error) {
	out, err := e.model.Generate(ctx, ocrPrompt, llm.GenerateOptions{
		Temperature: llm.Temp(0),
		Images:      []llm.Image{{Data: img, MIMEType: mimeType}},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(llm.CleanFences(out)), nil
}

func (e *Extractor) mutool() string {
	if e.mutoolPath != "" {
		return e.mutoolPath
	}
	// Look for bundled binary relative to Lambda executable
	execPath, _ := os.Executable()
	bundled := filepath.Join(filepath.Dir(execPath), "bin", "mutool-arm64")
	if _, err := os.Stat(bundled); err == nil {
		return bundled
	}
	return "mutool"
}

// NormalizeImage returns data as JPEG or PNG, which every vision backend
// accepts. GIF, BMP, TIFF and WebP are decoded and re-encoded as JPEG.
func NormalizeImage(data []byte) ([]byte, string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", eris.Wrap(err, "detect image format")
	}
	switch format {
	case "jpeg":
		return data, "image/jpeg", nil
	case "png":
		return data, "image/png", nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", eris.Wrapf(err, "decode %s", format)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, "", eris.Wrap(err, "encode jpeg")
	}
	return buf.Bytes(), "image/jpeg", nil
}

// PrintableRuns keeps runs of at least four printable ASCII characters, one
// run per line. It is the last resort for files no parser understands.
func PrintableRuns(data []byte) string {
	var (
		out []string
		run []byte
	)
	flush := func() {
		if len(run) >= minRun {
			out = append(out, strings.TrimSpace(string(run)))
		}
		run = run[:0]
	}
	for _, c := range data {
		if c >= 0x20 && c < 0x7f || c == '\t' {
			run = append(run, c)
			continue
		}
		flush()
	}
	flush()
	return strings.Join(out, "\n")
}

func isPDF(data []byte, mimeType string) bool {
	return mimeType == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF"))
}

func isImage(data []byte) bool {
	_, _, err := image.DecodeConfig(bytes.NewReader(data))
	return err == nil
}

func isPlainText(data []byte, mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/") || mimeType == "application/csv" || mimeType == "application/json" {
		return true
	}
	sample := data
	if len(sample) > 4096 {
		n := 4096
		for n > 0 && !utf8.RuneStart(sample[n]) {
			n--
		}
		sample = sample[:n]
	}
	return utf8.Valid(sample) && !bytes.ContainsRune(sample, 0)
}
