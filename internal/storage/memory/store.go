// Package memory provides an in-memory catalog store for tests and local
// development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pncplab/harvester/internal/catalog"
)

type itemKey struct {
	controlNumber string
	number        int
}

// Store is a map-backed catalog.Store, safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	notices     map[string]catalog.Notice
	items       map[itemKey]catalog.Item
	attachments map[itemKey]catalog.Attachment
	conversions map[itemKey]catalog.Conversion
}

var _ catalog.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		notices:     make(map[string]catalog.Notice),
		items:       make(map[itemKey]catalog.Item),
		attachments: make(map[itemKey]catalog.Attachment),
		conversions: make(map[itemKey]catalog.Conversion),
	}
}

// UpsertNotice inserts the notice unless its key exists already.
func (s *Store) UpsertNotice(_ context.Context, n catalog.Notice) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notices[n.ControlNumber]; ok {
		return false, nil
	}
	s.notices[n.ControlNumber] = n
	return true, nil
}

// UpsertItem inserts a line item unless its key exists already.
func (s *Store) UpsertItem(_ context.Context, it catalog.Item) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := itemKey{it.ControlNumber, it.Number}
	if _, ok := s.items[k]; ok {
		return false, nil
	}
	s.items[k] = it
	return true, nil
}

// UpsertAttachment inserts an attachment unless its key exists already.
func (s *Store) UpsertAttachment(_ context.Context, a catalog.Attachment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := itemKey{a.ControlNumber, a.Sequence}
	if _, ok := s.attachments[k]; ok {
		return false, nil
	}
	s.attachments[k] = a
	return true, nil
}

// UpsertConversion replaces the conversion row for its key.
func (s *Store) UpsertConversion(_ context.Context, c catalog.Conversion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversions[itemKey{c.ControlNumber, c.Sequence}] = c
	return nil
}

// ControlNumbers returns every stored notice key.
func (s *Store) ControlNumbers(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make(map[string]struct{}, len(s.notices))
	for cn := range s.notices {
		keys[cn] = struct{}{}
	}
	return keys, nil
}

// CountItems returns the number of items stored for a notice.
func (s *Store) CountItems(_ context.Context, controlNumber string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.items {
		if k.controlNumber == controlNumber {
			n++
		}
	}
	return n, nil
}

// CountAttachments returns the number of attachments stored for a notice.
func (s *Store) CountAttachments(_ context.Context, controlNumber string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.attachments {
		if k.controlNumber == controlNumber {
			n++
		}
	}
	return n, nil
}

// ListNoticeRefs pages over notices ordered by control number.
func (s *Store) ListNoticeRefs(_ context.Context, offset, limit int) ([]catalog.NoticeRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.notices))
	for cn := range s.notices {
		keys = append(keys, cn)
	}
	sort.Strings(keys)

	if offset >= len(keys) {
		return nil, nil
	}
	end := offset + limit
	if end > len(keys) {
		end = len(keys)
	}
	refs := make([]catalog.NoticeRef, 0, end-offset)
	for _, cn := range keys[offset:end] {
		n := s.notices[cn]
		refs = append(refs, catalog.NoticeRef{
			ControlNumber:  n.ControlNumber,
			OrgID:          n.OrgID,
			Year:           n.Year,
			SequenceNumber: n.SequenceNumber,
		})
	}
	return refs, nil
}

// GetNotice retrieves one notice by control number.
func (s *Store) GetNotice(_ context.Context, controlNumber string) (catalog.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notices[controlNumber]
	if !ok {
		return catalog.Notice{}, catalog.ErrNotFound
	}
	return n, nil
}

const searchLimit = 100

// SearchNotices lists notices matching the filter, newest publication first.
func (s *Store) SearchNotices(_ context.Context, f catalog.NoticeFilter) ([]catalog.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Notice
	for _, n := range s.notices {
		if f.OrgName != "" && n.OrgName != f.OrgName {
			continue
		}
		if f.Modality != "" && n.Modality != f.Modality {
			continue
		}
		if f.Status != "" && n.Status != f.Status {
			continue
		}
		if f.Municipality != "" && n.Municipality != f.Municipality {
			continue
		}
		if f.PublishedFrom != nil && (n.PublishedAt == nil || n.PublishedAt.Before(*f.PublishedFrom)) {
			continue
		}
		if f.PublishedTo != nil && (n.PublishedAt == nil || n.PublishedAt.After(*f.PublishedTo)) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].PublishedAt, out[j].PublishedAt
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return pi.After(*pj)
		}
	})
	if len(out) > searchLimit {
		out = out[:searchLimit]
	}
	return out, nil
}

// ListItems returns a notice's line items ordered by item number.
func (s *Store) ListItems(_ context.Context, controlNumber string) ([]catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []catalog.Item
	for k, it := range s.items {
		if k.controlNumber == controlNumber {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Number < items[j].Number })
	return items, nil
}

// ListAttachments returns a notice's attachments ordered by sequence.
func (s *Store) ListAttachments(_ context.Context, controlNumber string) ([]catalog.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var files []catalog.Attachment
	for k, a := range s.attachments {
		if k.controlNumber == controlNumber {
			files = append(files, a)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Sequence < files[j].Sequence })
	return files, nil
}

// GetConversion retrieves one conversion by key.
func (s *Store) GetConversion(_ context.Context, controlNumber string, sequence int) (catalog.Conversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversions[itemKey{controlNumber, sequence}]
	if !ok {
		return catalog.Conversion{}, catalog.ErrNotFound
	}
	return c, nil
}

// ListSuccessfulConversions returns successful per-document conversions.
func (s *Store) ListSuccessfulConversions(_ context.Context, controlNumber string) ([]catalog.Conversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var convs []catalog.Conversion
	for k, c := range s.conversions {
		if k.controlNumber == controlNumber && k.number != 0 && c.OK {
			convs = append(convs, c)
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].Sequence < convs[j].Sequence })
	return convs, nil
}
