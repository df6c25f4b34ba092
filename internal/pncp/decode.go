package pncp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pncplab/harvester/internal/catalog"
)

// Known search-record fields. Anything else lands in Notice.Extra so a new
// upstream field never grows the schema.
type rawNotice struct {
	ControlNumber  string   `json:"numero_controle_pncp"`
	OrgID          string   `json:"orgao_cnpj"`
	Year           int      `json:"ano"`
	SequenceNumber int      `json:"numero_sequencial"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	DocumentType   string   `json:"document_type"`
	Number         string   `json:"numero"`
	OrgName        string   `json:"orgao_nome"`
	UnitName       string   `json:"unidade_nome"`
	SphereName     string   `json:"esfera_nome"`
	PowerName      string   `json:"poder_nome"`
	Municipality   string   `json:"municipio_nome"`
	UF             string   `json:"uf"`
	Modality       string   `json:"modalidade_licitacao_nome"`
	Status         string   `json:"situacao_nome"`
	PublishedAt    string   `json:"data_publicacao_pncp"`
	UpdatedAt      string   `json:"data_atualizacao_pncp"`
	TotalValue     *float64 `json:"valor_global"`
	Canceled       bool     `json:"cancelado"`
}

var knownNoticeKeys = map[string]struct{}{
	"numero_controle_pncp":      {},
	"orgao_cnpj":                {},
	"ano":                       {},
	"numero_sequencial":         {},
	"title":                     {},
	"description":               {},
	"document_type":             {},
	"numero":                    {},
	"orgao_nome":                {},
	"unidade_nome":              {},
	"esfera_nome":               {},
	"poder_nome":                {},
	"municipio_nome":            {},
	"uf":                        {},
	"modalidade_licitacao_nome": {},
	"situacao_nome":             {},
	"data_publicacao_pncp":      {},
	"data_atualizacao_pncp":     {},
	"valor_global":              {},
	"cancelado":                 {},
}

// decodeNotice maps a raw search record onto the allow-listed Notice
// fields, keeping unknown keys in Extra.
func decodeNotice(raw json.RawMessage) (catalog.Notice, error) {
	var rn rawNotice
	if err := json.Unmarshal(raw, &rn); err != nil {
		return catalog.Notice{}, fmt.Errorf("decode notice: %w", err)
	}

	n := catalog.Notice{
		ControlNumber:  rn.ControlNumber,
		OrgID:          rn.OrgID,
		Year:           rn.Year,
		SequenceNumber: rn.SequenceNumber,
		Title:          rn.Title,
		Description:    rn.Description,
		DocumentType:   rn.DocumentType,
		Number:         rn.Number,
		OrgName:        rn.OrgName,
		UnitName:       rn.UnitName,
		SphereName:     rn.SphereName,
		PowerName:      rn.PowerName,
		Municipality:   rn.Municipality,
		UF:             rn.UF,
		Modality:       rn.Modality,
		Status:         rn.Status,
		TotalValue:     rn.TotalValue,
		Canceled:       rn.Canceled,
	}
	n.PublishedAt = parseCatalogTime(rn.PublishedAt)
	n.UpdatedAt = parseCatalogTime(rn.UpdatedAt)

	var all map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return catalog.Notice{}, fmt.Errorf("decode notice extras: %w", err)
	}
	for key := range all {
		if _, known := knownNoticeKeys[key]; known {
			delete(all, key)
		}
	}
	if len(all) > 0 {
		n.Extra = all
	}
	return n, nil
}

// The catalog emits timestamps both with and without offsets.
var catalogTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseCatalogTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range catalogTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
