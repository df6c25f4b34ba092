package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Text-showing operators in PDF content streams: (string) Tj and the
// array form [ (a) (b) ] TJ.
var (
	pdfTjRe  = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)\s*Tj`)
	pdfTJRe  = regexp.MustCompile(`\[((?:\\.|[^\]])*)\]\s*TJ`)
	pdfStrRe = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)`)
)

// extractPDFText pulls page content streams out with pdfcpu and recovers
// the literal strings fed to the text-showing operators. This misses
// hex-encoded and heavily subsetted text, which then surfaces as an empty
// result and a recorded failure rather than garbage output.
func extractPDFText(body []byte) (string, error) {
	tmpDir, err := os.MkdirTemp("", "harvester-pdf-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmpDir)
	}()

	src := filepath.Join(tmpDir, "doc.pdf")
	if err := os.WriteFile(src, body, 0o600); err != nil {
		return "", fmt.Errorf("write temp pdf: %w", err)
	}

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed

	outDir := filepath.Join(tmpDir, "content")
	if err := os.Mkdir(outDir, 0o700); err != nil {
		return "", fmt.Errorf("create content dir: %w", err)
	}
	if err := api.ExtractContentFile(src, outDir, nil, cfg); err != nil {
		return "", fmt.Errorf("extract pdf content: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("read content dir: %w", err)
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stream, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err != nil {
			return "", fmt.Errorf("read content stream: %w", err)
		}
		page := collectPDFStrings(string(stream))
		if page != "" {
			b.WriteString(page)
			b.WriteString("\n\n")
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("pdf has no extractable text")
	}
	return out, nil
}

func collectPDFStrings(stream string) string {
	var parts []string
	for _, m := range pdfTjRe.FindAllStringSubmatch(stream, -1) {
		if s := unescapePDFString(m[1]); s != "" {
			parts = append(parts, s)
		}
	}
	for _, m := range pdfTJRe.FindAllStringSubmatch(stream, -1) {
		for _, inner := range pdfStrRe.FindAllStringSubmatch(m[1], -1) {
			if s := unescapePDFString(inner[1]); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func unescapePDFString(s string) string {
	replacer := strings.NewReplacer(
		`\(`, "(",
		`\)`, ")",
		`\\`, `\`,
		`\n`, "\n",
		`\r`, "",
		`\t`, " ",
	)
	return strings.TrimSpace(replacer.Replace(s))
}
