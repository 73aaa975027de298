package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrEmptyDocument is returned for zero-length uploads.
	ErrEmptyDocument = errors.New("document is empty")
	// ErrUnsupportedDocument is returned for document types that cannot be read as text.
	ErrUnsupportedDocument = errors.New("unsupported document type")
)

const (
	mimePDF  = "application/pdf"
	mimeText = "text/plain"
)

// DocumentExtractor reads text out of uploaded documents. PDFs go through
// the poppler pdftotext binary; UTF-8 text is passed through.
type DocumentExtractor struct {
	PdftotextPath string
	Timeout       time.Duration
	logger        *slog.Logger
}

// NewDocumentExtractor returns an extractor. An empty path looks up
// pdftotext on PATH when first needed.
func NewDocumentExtractor(pdftotextPath string, logger *slog.Logger) *DocumentExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentExtractor{
		PdftotextPath: pdftotextPath,
		Timeout:       2 * time.Minute,
		logger:        logger,
	}
}

// DetectContentType returns the MIME type of data.
func DetectContentType(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsPDF reports whether a MIME type names a PDF.
func IsPDF(contentType string) bool {
	return strings.HasPrefix(contentType, mimePDF)
}

// IsText reports whether a MIME type names plain text.
func IsText(contentType string) bool {
	return strings.HasPrefix(contentType, mimeText)
}

// Extract returns the text of data along with its detected MIME type.
func (e *DocumentExtractor) Extract(ctx context.Context, data []byte) (Extracted, error) {
	if len(data) == 0 {
		return Extracted{}, ErrEmptyDocument
	}

	mt := mimetype.Detect(data)
	switch {
	case mt.Is(mimePDF):
		text, err := e.pdfToText(ctx, data)
		if err != nil {
			return Extracted{}, err
		}
		return Extracted{Text: text, ContentType: mt.String()}, nil
	case mt.Is(mimeText) && utf8.Valid(data):
		return Extracted{Text: string(data), ContentType: mt.String()}, nil
	default:
		return Extracted{}, fmt.Errorf("%w: %s", ErrUnsupportedDocument, mt.String())
	}
}

func (e *DocumentExtractor) pdfToText(ctx context.Context, data []byte) (string, error) {
	bin := e.PdftotextPath
	if bin == "" {
		bin = "pdftotext"
	}
	bin, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%w: pdftotext: %w", ErrUnavailable, err)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "debias_pdftotext_*")
	if err != nil {
		return "", fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	inPath := filepath.Join(tmpDir, "in.pdf")
	outPath := filepath.Join(tmpDir, "out.txt")
	if err := os.WriteFile(inPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}

	cmd := exec.CommandContext(callCtx, bin, "-enc", "UTF-8", "-q", inPath, outPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if s := strings.TrimSpace(stderr.String()); s != "" {
			return "", fmt.Errorf("pdftotext: %w; stderr=%s", err, s)
		}
		return "", fmt.Errorf("pdftotext: %w", err)
	}

	b, err := os.ReadFile(outPath)
	if err != nil {
		return "", fmt.Errorf("read pdftotext output: %w", err)
	}
	txt := strings.TrimSpace(string(b))
	e.logger.Debug("Extracted PDF text", "bytes", len(data), "chars", utf8.RuneCountInString(txt))
	return txt, nil
}
