package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pncplab/harvester/internal/catalog"
	"github.com/pncplab/harvester/internal/storage/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func ptr[T any](v T) *T { return &v }

func fixtureNotice() catalog.Notice {
	published := time.Date(2024, 5, 10, 8, 30, 0, 0, time.UTC)
	return catalog.Notice{
		ControlNumber:  "12345678000190-1-000042/2024",
		OrgID:          "12345678000190",
		Year:           2024,
		SequenceNumber: 42,
		Title:          "Aquisição de material de escritório",
		Description:    "Compra de canetas e papel.",
		Number:         "42/2024",
		OrgName:        "Prefeitura de Teste",
		Municipality:   "Campinas",
		UF:             "SP",
		Modality:       "Pregão Eletrônico",
		Status:         "Divulgada",
		PublishedAt:    &published,
		TotalValue:     ptr(1234567.89),
	}
}

func TestRenderFrontMatter(t *testing.T) {
	t.Parallel()

	got := Render(fixtureNotice(), nil, nil, nil)

	require.True(t, strings.HasPrefix(got, "---\n"))
	require.Contains(t, got, "title: \"Aquisição de material de escritório\"\n")
	require.Contains(t, got, "date: \"2024-05-10T08:30:00\"\n")
	require.Contains(t, got, "draft: false\n")
	require.Contains(t, got, "ano: 2024\n")
	require.Contains(t, got, "numero_sequencial: 42\n")
	require.Contains(t, got, "orgao_nome: \"Prefeitura de Teste\"\n")
	require.Contains(t, got, "uf: \"SP\"\n")
	require.Contains(t, got, "municipio: \"Campinas\"\n")
	require.Contains(t, got, "valor_global: 1.23456789e+06\n")
	require.Contains(t, got, "items_count: 0\n")
	require.Contains(t, got, "docs_count: 0\n")
	require.Contains(t, got, `tags: ["SP", "Pregão Eletrônico"]`)
	require.Contains(t, got, `categories: ["licitacoes"]`)
}

func TestRenderSections(t *testing.T) {
	t.Parallel()

	items := []catalog.Item{
		{Number: 1, Description: "Caneta azul", TotalValue: ptr(1500.5)},
		{Number: 2},
	}
	files := []catalog.Attachment{
		{Sequence: 1, URL: "https://example.org/edital.pdf", Title: "Edital"},
	}
	bodies := []catalog.Conversion{
		{Sequence: 1, Filename: "edital.pdf", Content: "Texto extraído do edital.", OK: true},
		{Sequence: 2, OK: true},
	}

	got := Render(fixtureNotice(), items, files, bodies)

	require.Contains(t, got, "## Descrição Geral\nCompra de canetas e papel.\n")
	require.Contains(t, got, "| 1 | Caneta azul | R$ 1.500,50 |")
	require.Contains(t, got, "| 2 | - | - |")
	require.Contains(t, got, "- [Edital](https://example.org/edital.pdf)")
	require.Contains(t, got, "### edital.pdf")
	require.Contains(t, got, "Texto extraído do edital.")
	require.Contains(t, got, "### Documento 2")
	require.Contains(t, got, "(Sem conteúdo)")
}

func TestRenderEmptyPlaceholders(t *testing.T) {
	t.Parallel()

	got := Render(catalog.Notice{ControlNumber: "cn-1"}, nil, nil, nil)

	require.Contains(t, got, "date: \"-\"\n")
	require.Contains(t, got, "valor_global: 0\n")
	require.Contains(t, got, "tags: []\n")
	require.Contains(t, got, "(Sem descrição)")
	require.Contains(t, got, "(Nenhum documento relacionado)")
	require.Contains(t, got, "(Nenhum conteúdo convertido disponível)")
}

func TestFilename(t *testing.T) {
	t.Parallel()

	require.Equal(t, "12345678000190-1-000042-2024.md", Filename(catalog.Notice{ControlNumber: "12345678000190-1-000042/2024"}))
	require.Equal(t, "notice.md", Filename(catalog.Notice{}))

	long := strings.Repeat("a", 300)
	name := Filename(catalog.Notice{ControlNumber: long})
	require.Len(t, name, maxFilenameLen+len(".md"))
}

func TestFormatBRL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "-", FormatBRL(nil))
	require.Equal(t, "R$ 0,00", FormatBRL(ptr(0.0)))
	require.Equal(t, "R$ 12,34", FormatBRL(ptr(12.34)))
	require.Equal(t, "R$ 1.234,56", FormatBRL(ptr(1234.56)))
	require.Equal(t, "R$ 1.234.567,89", FormatBRL(ptr(1234567.89)))
	require.Equal(t, "R$ -1.500,00", FormatBRL(ptr(-1500.0)))
}

func TestRenderOneWritesFileAndRecordsOutcome(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	ctx := context.Background()
	n := fixtureNotice()
	_, err := store.UpsertNotice(ctx, n)
	require.NoError(t, err)
	_, err = store.UpsertItem(ctx, catalog.Item{ControlNumber: n.ControlNumber, Number: 1, Description: "Caneta"})
	require.NoError(t, err)

	dir := t.TempDir()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	r := NewRenderer(store, clock, dir, zap.NewNop())

	require.NoError(t, r.RenderOne(ctx, n.ControlNumber))

	data, err := os.ReadFile(filepath.Join(dir, Filename(n)))
	require.NoError(t, err)
	require.Contains(t, string(data), "Caneta")

	rec, err := store.GetConversion(ctx, n.ControlNumber, 0)
	require.NoError(t, err)
	require.True(t, rec.OK)
	require.Equal(t, Filename(n), rec.Filename)
	require.Equal(t, string(data), rec.Content)
	require.Equal(t, clock.now, rec.ConvertedAt)
}

func TestRenderOneRecordsWriteFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	ctx := context.Background()
	n := fixtureNotice()
	_, err := store.UpsertNotice(ctx, n)
	require.NoError(t, err)

	// A file where the directory should be makes the write fail.
	base := t.TempDir()
	blocked := filepath.Join(base, "not-a-dir")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))
	dir := filepath.Join(blocked, "out")

	r := NewRenderer(store, &fakeClock{now: time.Unix(1700000000, 0)}, dir, zap.NewNop())
	require.Error(t, r.RenderOne(ctx, n.ControlNumber))

	rec, err := store.GetConversion(ctx, n.ControlNumber, 0)
	require.NoError(t, err)
	require.False(t, rec.OK)
	require.Empty(t, rec.Content)
	require.NotEmpty(t, rec.Error)
}

func TestRenderOneMissingNotice(t *testing.T) {
	t.Parallel()

	r := NewRenderer(memory.NewStore(), &fakeClock{}, t.TempDir(), zap.NewNop())
	require.Error(t, r.RenderOne(context.Background(), "missing"))
}

func TestRenderAllExportsEverything(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	ctx := context.Background()
	for _, cn := range []string{"cn-a", "cn-b", "cn-c"} {
		_, err := store.UpsertNotice(ctx, catalog.Notice{ControlNumber: cn, OrgID: "org", Year: 2024, SequenceNumber: 1})
		require.NoError(t, err)
	}

	dir := t.TempDir()
	r := NewRenderer(store, &fakeClock{now: time.Unix(1700000000, 0)}, dir, zap.NewNop())
	require.NoError(t, r.RenderAll(ctx, 2))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}
