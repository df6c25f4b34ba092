// Package export renders stored notices into markdown documents with YAML
// front matter, suitable for a static-site content directory.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kennygrant/sanitize"
	"go.uber.org/zap"

	"github.com/pncplab/harvester/internal/catalog"
)

const maxFilenameLen = 120

// Renderer writes one markdown file per notice and records the outcome in
// the conversion table under sequence 0.
type Renderer struct {
	store  catalog.Store
	clock  catalog.Clock
	dir    string
	logger *zap.Logger
}

func NewRenderer(store catalog.Store, clock catalog.Clock, dir string, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{store: store, clock: clock, dir: dir, logger: logger}
}

// RenderAll walks every stored notice and exports it. Per-notice failures
// are recorded and the walk continues.
func (r *Renderer) RenderAll(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	exported, failed := 0, 0
	for offset := 0; ; offset += batchSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("export canceled: %w", err)
		}
		refs, err := r.store.ListNoticeRefs(ctx, offset, batchSize)
		if err != nil {
			return fmt.Errorf("list notice refs at offset %d: %w", offset, err)
		}
		if len(refs) == 0 {
			break
		}
		for _, ref := range refs {
			if err := r.RenderOne(ctx, ref.ControlNumber); err != nil {
				failed++
				r.logger.Warn("export failed",
					zap.String("control_number", ref.ControlNumber),
					zap.Error(err),
				)
				continue
			}
			exported++
		}
	}
	r.logger.Info("export finished", zap.Int("exported", exported), zap.Int("failed", failed))
	return nil
}

// RenderOne assembles the markdown document for a single notice, writes it
// to disk, and stores the result as the sequence 0 conversion row. A file
// write failure is still recorded, with empty content and the error text,
// and returned to the caller.
func (r *Renderer) RenderOne(ctx context.Context, controlNumber string) error {
	notice, err := r.store.GetNotice(ctx, controlNumber)
	if err != nil {
		return fmt.Errorf("load notice: %w", err)
	}
	items, err := r.store.ListItems(ctx, controlNumber)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	files, err := r.store.ListAttachments(ctx, controlNumber)
	if err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	bodies, err := r.store.ListSuccessfulConversions(ctx, controlNumber)
	if err != nil {
		return fmt.Errorf("load conversions: %w", err)
	}

	content := Render(notice, items, files, bodies)
	filename := Filename(notice)

	writeErr := os.WriteFile(filepath.Join(r.dir, filename), []byte(content), 0o644)

	record := catalog.Conversion{
		ControlNumber: controlNumber,
		Sequence:      0,
		Filename:      filename,
		Content:       content,
		OK:            writeErr == nil,
		ConvertedAt:   r.clock.Now(),
	}
	if writeErr != nil {
		record.Content = ""
		record.Error = writeErr.Error()
	}
	if err := r.store.UpsertConversion(ctx, record); err != nil {
		return fmt.Errorf("record export outcome: %w", err)
	}
	if writeErr != nil {
		return fmt.Errorf("write %s: %w", filename, writeErr)
	}
	r.logger.Debug("markdown exported",
		zap.String("control_number", controlNumber),
		zap.String("file", filename),
	)
	return nil
}

// Filename derives the on-disk name from the control number, sanitized and
// capped so any catalog value yields a usable path.
func Filename(n catalog.Notice) string {
	name := sanitize.BaseName(n.ControlNumber)
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	name = strings.Trim(name, ".-_")
	if name == "" {
		name = "notice"
	}
	return name + ".md"
}

// Render builds the markdown document: YAML front matter followed by the
// description, the item table, attachment links, and the extracted bodies.
func Render(n catalog.Notice, items []catalog.Item, files []catalog.Attachment, bodies []catalog.Conversion) string {
	var b strings.Builder

	b.WriteString("---\n")
	writeField(&b, "title", orDash(n.Title))
	published := "-"
	if n.PublishedAt != nil {
		published = n.PublishedAt.Format("2006-01-02T15:04:05")
	}
	writeField(&b, "date", published)
	b.WriteString("draft: false\n")
	writeField(&b, "slug", strings.TrimSuffix(Filename(n), ".md"))
	writeField(&b, "control_number", n.ControlNumber)
	writeField(&b, "numero", orDash(n.Number))
	fmt.Fprintf(&b, "ano: %d\n", n.Year)
	fmt.Fprintf(&b, "numero_sequencial: %d\n", n.SequenceNumber)
	writeField(&b, "orgao_nome", orDash(n.OrgName))
	writeField(&b, "uf", orDash(n.UF))
	writeField(&b, "municipio", orDash(n.Municipality))
	writeField(&b, "modalidade", orDash(n.Modality))
	writeField(&b, "situacao", orDash(n.Status))
	total := 0.0
	if n.TotalValue != nil {
		total = *n.TotalValue
	}
	fmt.Fprintf(&b, "valor_global: %g\n", total)
	fmt.Fprintf(&b, "items_count: %d\n", len(items))
	fmt.Fprintf(&b, "docs_count: %d\n", len(files))
	var tags []string
	for _, t := range []string{n.UF, n.Modality} {
		if t != "" {
			tags = append(tags, fmt.Sprintf("%q", t))
		}
	}
	fmt.Fprintf(&b, "tags: [%s]\n", strings.Join(tags, ", "))
	b.WriteString("categories: [\"licitacoes\"]\n")
	b.WriteString("---\n\n")

	b.WriteString("## Descrição Geral\n")
	if n.Description != "" {
		b.WriteString(n.Description + "\n")
	} else {
		b.WriteString("(Sem descrição)\n")
	}

	b.WriteString("\n---\n\n## Itens Licitados\n")
	b.WriteString("| Número | Descrição | Valor Total |\n")
	b.WriteString("|--------|-----------|-------------|\n")
	for _, it := range items {
		fmt.Fprintf(&b, "| %d | %s | %s |\n", it.Number, orDash(it.Description), FormatBRL(it.TotalValue))
	}

	b.WriteString("\n---\n\n## Documentos Relacionados\n")
	if len(files) == 0 {
		b.WriteString("(Nenhum documento relacionado)\n")
	}
	for _, f := range files {
		fmt.Fprintf(&b, "- [%s](%s)\n", orDash(f.Title), f.URL)
	}

	b.WriteString("\n---\n\n## Conteúdo dos arquivos\n")
	if len(bodies) == 0 {
		b.WriteString("(Nenhum conteúdo convertido disponível)\n")
	}
	for _, doc := range bodies {
		title := doc.Filename
		if title == "" {
			title = fmt.Sprintf("Documento %d", doc.Sequence)
		}
		fmt.Fprintf(&b, "\n### %s\n\n", title)
		if doc.Content != "" {
			b.WriteString(doc.Content + "\n")
		} else {
			b.WriteString("(Sem conteúdo)\n")
		}
	}

	return b.String()
}

// FormatBRL renders a value in Brazilian currency notation, with dots for
// thousands and a comma before the cents. Nil becomes "-".
func FormatBRL(v *float64) string {
	if v == nil {
		return "-"
	}
	s := fmt.Sprintf("%.2f", *v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, cents, _ := strings.Cut(s, ".")
	var parts []string
	for len(whole) > 3 {
		parts = append([]string{whole[len(whole)-3:]}, parts...)
		whole = whole[:len(whole)-3]
	}
	parts = append([]string{whole}, parts...)
	out := "R$ " + strings.Join(parts, ".") + "," + cents
	if neg {
		out = "R$ -" + strings.Join(parts, ".") + "," + cents
	}
	return out
}

func writeField(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "%s: %q\n", key, value)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
