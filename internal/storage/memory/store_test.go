package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pncplab/harvester/internal/catalog"
)

func TestUpsertNoticeInsertIfAbsent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	first := catalog.Notice{ControlNumber: "cn-1", Title: "original"}
	inserted, err := s.UpsertNotice(ctx, first)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.UpsertNotice(ctx, catalog.Notice{ControlNumber: "cn-1", Title: "replacement"})
	require.NoError(t, err)
	require.False(t, inserted)

	got, err := s.GetNotice(ctx, "cn-1")
	require.NoError(t, err)
	require.Equal(t, "original", got.Title)
}

func TestUpsertChildrenInsertIfAbsent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	inserted, err := s.UpsertItem(ctx, catalog.Item{ControlNumber: "cn-1", Number: 1, Description: "first"})
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = s.UpsertItem(ctx, catalog.Item{ControlNumber: "cn-1", Number: 1, Description: "second"})
	require.NoError(t, err)
	require.False(t, inserted)

	inserted, err = s.UpsertAttachment(ctx, catalog.Attachment{ControlNumber: "cn-1", Sequence: 1, URL: "http://a"})
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = s.UpsertAttachment(ctx, catalog.Attachment{ControlNumber: "cn-1", Sequence: 1, URL: "http://b"})
	require.NoError(t, err)
	require.False(t, inserted)

	items, err := s.ListItems(ctx, "cn-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "first", items[0].Description)
}

func TestUpsertConversionReplaces(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertConversion(ctx, catalog.Conversion{
		ControlNumber: "cn-1",
		Sequence:      2,
		OK:            false,
		Error:         "boom",
	}))
	require.NoError(t, s.UpsertConversion(ctx, catalog.Conversion{
		ControlNumber: "cn-1",
		Sequence:      2,
		OK:            true,
		Content:       "converted",
	}))

	got, err := s.GetConversion(ctx, "cn-1", 2)
	require.NoError(t, err)
	require.True(t, got.OK)
	require.Equal(t, "converted", got.Content)
	require.Empty(t, got.Error)
}

func TestGetNoticeNotFound(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, err := s.GetNotice(context.Background(), "missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = s.GetConversion(context.Background(), "missing", 0)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCountsAndControlNumbers(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	_, err := s.UpsertNotice(ctx, catalog.Notice{ControlNumber: "cn-1"})
	require.NoError(t, err)
	_, err = s.UpsertNotice(ctx, catalog.Notice{ControlNumber: "cn-2"})
	require.NoError(t, err)
	_, err = s.UpsertItem(ctx, catalog.Item{ControlNumber: "cn-1", Number: 1})
	require.NoError(t, err)
	_, err = s.UpsertItem(ctx, catalog.Item{ControlNumber: "cn-1", Number: 2})
	require.NoError(t, err)
	_, err = s.UpsertAttachment(ctx, catalog.Attachment{ControlNumber: "cn-2", Sequence: 1})
	require.NoError(t, err)

	keys, err := s.ControlNumbers(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"cn-1": {}, "cn-2": {}}, keys)

	n, err := s.CountItems(ctx, "cn-1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.CountAttachments(ctx, "cn-1")
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.CountAttachments(ctx, "cn-2")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestListNoticeRefsPaging(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.UpsertNotice(ctx, catalog.Notice{
			ControlNumber:  fmt.Sprintf("cn-%d", i),
			OrgID:          "org",
			Year:           2024,
			SequenceNumber: i + 1,
		})
		require.NoError(t, err)
	}

	refs, err := s.ListNoticeRefs(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	require.Equal(t, "cn-0", refs[0].ControlNumber)
	require.Equal(t, "cn-2", refs[2].ControlNumber)

	refs, err = s.ListNoticeRefs(ctx, 3, 3)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, "cn-4", refs[1].ControlNumber)

	refs, err = s.ListNoticeRefs(ctx, 10, 3)
	require.NoError(t, err)
	require.Empty(t, refs)
}

func TestSearchNoticesFiltersAndOrder(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	older := base.Add(-48 * time.Hour)
	newer := base
	_, err := s.UpsertNotice(ctx, catalog.Notice{
		ControlNumber: "cn-old", OrgName: "Prefeitura A", Status: "aberta", PublishedAt: &older,
	})
	require.NoError(t, err)
	_, err = s.UpsertNotice(ctx, catalog.Notice{
		ControlNumber: "cn-new", OrgName: "Prefeitura A", Status: "aberta", PublishedAt: &newer,
	})
	require.NoError(t, err)
	_, err = s.UpsertNotice(ctx, catalog.Notice{
		ControlNumber: "cn-other", OrgName: "Prefeitura B", Status: "encerrada",
	})
	require.NoError(t, err)

	got, err := s.SearchNotices(ctx, catalog.NoticeFilter{OrgName: "Prefeitura A"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "cn-new", got[0].ControlNumber)
	require.Equal(t, "cn-old", got[1].ControlNumber)

	from := base.Add(-time.Hour)
	got, err = s.SearchNotices(ctx, catalog.NoticeFilter{PublishedFrom: &from})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "cn-new", got[0].ControlNumber)

	got, err = s.SearchNotices(ctx, catalog.NoticeFilter{Status: "encerrada"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "cn-other", got[0].ControlNumber)
}

func TestSearchNoticesCapsResults(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	for i := 0; i < searchLimit+20; i++ {
		ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute)
		_, err := s.UpsertNotice(ctx, catalog.Notice{
			ControlNumber: fmt.Sprintf("cn-%03d", i),
			PublishedAt:   &ts,
		})
		require.NoError(t, err)
	}

	got, err := s.SearchNotices(ctx, catalog.NoticeFilter{})
	require.NoError(t, err)
	require.Len(t, got, searchLimit)
}

func TestListSuccessfulConversionsExcludesSeqZeroAndFailures(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertConversion(ctx, catalog.Conversion{ControlNumber: "cn-1", Sequence: 0, OK: true}))
	require.NoError(t, s.UpsertConversion(ctx, catalog.Conversion{ControlNumber: "cn-1", Sequence: 1, OK: true, Content: "a"}))
	require.NoError(t, s.UpsertConversion(ctx, catalog.Conversion{ControlNumber: "cn-1", Sequence: 2, OK: false}))
	require.NoError(t, s.UpsertConversion(ctx, catalog.Conversion{ControlNumber: "cn-1", Sequence: 3, OK: true, Content: "c"}))

	got, err := s.ListSuccessfulConversions(ctx, "cn-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 1, got[0].Sequence)
	require.Equal(t, 3, got[1].Sequence)
}
