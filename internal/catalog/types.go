// Package catalog defines core types shared across subsystems.
package catalog

import "time"

// Notice is one procurement notice from the remote catalog, keyed by its
// PNCP control number. Notices are insert-if-absent: once stored they are
// never updated or deleted.
type Notice struct {
	ControlNumber  string         `json:"control_number"`
	OrgID          string         `json:"org_id"`
	Year           int            `json:"year"`
	SequenceNumber int            `json:"sequence_number"`
	Title          string         `json:"title,omitempty"`
	Description    string         `json:"description,omitempty"`
	DocumentType   string         `json:"document_type,omitempty"`
	Number         string         `json:"number,omitempty"`
	OrgName        string         `json:"org_name,omitempty"`
	UnitName       string         `json:"unit_name,omitempty"`
	SphereName     string         `json:"sphere_name,omitempty"`
	PowerName      string         `json:"power_name,omitempty"`
	Municipality   string         `json:"municipality,omitempty"`
	UF             string         `json:"uf,omitempty"`
	Modality       string         `json:"modality,omitempty"`
	Status         string         `json:"status,omitempty"`
	PublishedAt    *time.Time     `json:"published_at,omitempty"`
	UpdatedAt      *time.Time     `json:"updated_at,omitempty"`
	TotalValue     *float64       `json:"total_value,omitempty"`
	Canceled       bool           `json:"canceled,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// HasChildKeys reports whether the notice carries the three foreign fields
// required to address its sub-resources.
func (n Notice) HasChildKeys() bool {
	return n.OrgID != "" && n.Year != 0 && n.SequenceNumber != 0
}

// Item is one line item of a notice.
type Item struct {
	ControlNumber string   `json:"control_number"`
	Number        int      `json:"number"`
	Description   string   `json:"description,omitempty"`
	TotalValue    *float64 `json:"total_value,omitempty"`
}

// Attachment is one document reference attached to a notice.
type Attachment struct {
	ControlNumber string `json:"control_number"`
	Sequence      int    `json:"sequence"`
	URL           string `json:"url"`
	Title         string `json:"title,omitempty"`
	Active        bool   `json:"active"`
}

// Conversion records the text-extraction outcome for one attachment.
// Sequence 0 is reserved for the rendered full-record document produced by
// the exporter. Unlike the other tables, conversions are replaced on every
// write so a re-run can flip a prior failure to success.
type Conversion struct {
	ControlNumber string    `json:"control_number"`
	Sequence      int       `json:"sequence"`
	Filename      string    `json:"filename,omitempty"`
	Content       string    `json:"content,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
	ConvertedAt   time.Time `json:"converted_at"`
}

// NoticeRef is the minimal projection used for bounded-memory scans.
type NoticeRef struct {
	ControlNumber  string
	OrgID          string
	Year           int
	SequenceNumber int
}

// NoticeFilter narrows dashboard listings. Zero values mean "no filter".
type NoticeFilter struct {
	OrgName       string
	Modality      string
	Status        string
	Municipality  string
	PublishedFrom *time.Time
	PublishedTo   *time.Time
}
