// Package postgres provides the pgx-backed catalog store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pncplab/harvester/internal/catalog"
)

// dbConn is the subset of pgxpool.Pool the store needs; pgxmock satisfies
// it in tests.
type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// SkipMigrations is used by tests that manage their own schema.
	SkipMigrations bool
}

// Store implements catalog.Store on Postgres.
type Store struct {
	pool dbConn
}

var _ catalog.Store = (*Store)(nil)

// NewStore connects to Postgres and applies migrations.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if !cfg.SkipMigrations {
		if err := Migrate(cfg.DSN); err != nil {
			return nil, err
		}
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for
// testing).
func NewStoreWithPool(pool dbConn) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertNotice inserts the notice unless its key exists already.
func (s *Store) UpsertNotice(ctx context.Context, n catalog.Notice) (bool, error) {
	if n.ControlNumber == "" {
		return false, fmt.Errorf("control number is required")
	}
	var extraJSON []byte
	if len(n.Extra) > 0 {
		var err error
		extraJSON, err = json.Marshal(n.Extra)
		if err != nil {
			return false, fmt.Errorf("marshal extra: %w", err)
		}
	}
	query := `
		INSERT INTO notices (
			control_number, org_id, year, sequence_number,
			title, description, document_type, number,
			org_name, unit_name, sphere_name, power_name,
			municipality, uf, modality, status,
			published_at, updated_at, total_value, canceled, extra
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
		)
		ON CONFLICT (control_number) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		n.ControlNumber, n.OrgID, n.Year, n.SequenceNumber,
		n.Title, n.Description, n.DocumentType, n.Number,
		n.OrgName, n.UnitName, n.SphereName, n.PowerName,
		n.Municipality, n.UF, n.Modality, n.Status,
		n.PublishedAt, n.UpdatedAt, n.TotalValue, n.Canceled, extraJSON,
	)
	if err != nil {
		return false, fmt.Errorf("insert notice: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertItem inserts a line item unless its key exists already.
func (s *Store) UpsertItem(ctx context.Context, it catalog.Item) (bool, error) {
	query := `
		INSERT INTO items (control_number, number, description, total_value)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (control_number, number) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query, it.ControlNumber, it.Number, it.Description, it.TotalValue)
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertAttachment inserts an attachment unless its key exists already.
func (s *Store) UpsertAttachment(ctx context.Context, a catalog.Attachment) (bool, error) {
	query := `
		INSERT INTO attachments (control_number, sequence, url, title, active)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (control_number, sequence) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query, a.ControlNumber, a.Sequence, a.URL, a.Title, a.Active)
	if err != nil {
		return false, fmt.Errorf("insert attachment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertConversion replaces the conversion row for its key.
func (s *Store) UpsertConversion(ctx context.Context, c catalog.Conversion) error {
	query := `
		INSERT INTO conversions (control_number, sequence, filename, content, ok, error, converted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (control_number, sequence) DO UPDATE SET
			filename = EXCLUDED.filename,
			content = EXCLUDED.content,
			ok = EXCLUDED.ok,
			error = EXCLUDED.error,
			converted_at = EXCLUDED.converted_at`
	_, err := s.pool.Exec(ctx, query,
		c.ControlNumber, c.Sequence, c.Filename, c.Content, c.OK, c.Error, c.ConvertedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert conversion: %w", err)
	}
	return nil
}

// ControlNumbers returns every stored notice key.
func (s *Store) ControlNumbers(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT control_number FROM notices`)
	if err != nil {
		return nil, fmt.Errorf("list control numbers: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var cn string
		if err := rows.Scan(&cn); err != nil {
			return nil, fmt.Errorf("scan control number: %w", err)
		}
		keys[cn] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate control numbers: %w", err)
	}
	return keys, nil
}

// CountItems returns the number of line items stored for a notice.
func (s *Store) CountItems(ctx context.Context, controlNumber string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM items WHERE control_number = $1`, controlNumber)
}

// CountAttachments returns the number of attachments stored for a notice.
func (s *Store) CountAttachments(ctx context.Context, controlNumber string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM attachments WHERE control_number = $1`, controlNumber)
}

func (s *Store) count(ctx context.Context, query, controlNumber string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, query, controlNumber).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// ListNoticeRefs pages over notices ordered by control number for stable
// resumption.
func (s *Store) ListNoticeRefs(ctx context.Context, offset, limit int) ([]catalog.NoticeRef, error) {
	query := `
		SELECT control_number, org_id, year, sequence_number
		FROM notices
		ORDER BY control_number
		LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notice refs: %w", err)
	}
	defer rows.Close()

	var refs []catalog.NoticeRef
	for rows.Next() {
		var ref catalog.NoticeRef
		if err := rows.Scan(&ref.ControlNumber, &ref.OrgID, &ref.Year, &ref.SequenceNumber); err != nil {
			return nil, fmt.Errorf("scan notice ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notice refs: %w", err)
	}
	return refs, nil
}

const noticeColumns = `
	control_number, org_id, year, sequence_number,
	title, description, document_type, number,
	org_name, unit_name, sphere_name, power_name,
	municipality, uf, modality, status,
	published_at, updated_at, total_value, canceled, extra`

// GetNotice retrieves one notice by control number.
func (s *Store) GetNotice(ctx context.Context, controlNumber string) (catalog.Notice, error) {
	query := `SELECT` + noticeColumns + ` FROM notices WHERE control_number = $1`
	n, err := scanNotice(s.pool.QueryRow(ctx, query, controlNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Notice{}, catalog.ErrNotFound
		}
		return catalog.Notice{}, fmt.Errorf("get notice: %w", err)
	}
	return n, nil
}

// searchLimit caps dashboard listings.
const searchLimit = 100

// SearchNotices lists notices matching the filter, newest publication first.
func (s *Store) SearchNotices(ctx context.Context, f catalog.NoticeFilter) ([]catalog.Notice, error) {
	query := `SELECT` + noticeColumns + ` FROM notices WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(clause, len(args))
	}
	if f.OrgName != "" {
		add(" AND org_name = $%d", f.OrgName)
	}
	if f.Modality != "" {
		add(" AND modality = $%d", f.Modality)
	}
	if f.Status != "" {
		add(" AND status = $%d", f.Status)
	}
	if f.Municipality != "" {
		add(" AND municipality = $%d", f.Municipality)
	}
	if f.PublishedFrom != nil {
		add(" AND published_at >= $%d", *f.PublishedFrom)
	}
	if f.PublishedTo != nil {
		add(" AND published_at <= $%d", *f.PublishedTo)
	}
	query += fmt.Sprintf(" ORDER BY published_at DESC NULLS LAST LIMIT %d", searchLimit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search notices: %w", err)
	}
	defer rows.Close()

	var notices []catalog.Notice
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notice: %w", err)
		}
		notices = append(notices, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notices: %w", err)
	}
	return notices, nil
}

func scanNotice(row pgx.Row) (catalog.Notice, error) {
	var (
		n         catalog.Notice
		title     *string
		desc      *string
		docType   *string
		number    *string
		orgName   *string
		unitName  *string
		sphere    *string
		power     *string
		muni      *string
		uf        *string
		modality  *string
		status    *string
		extraJSON []byte
	)
	err := row.Scan(
		&n.ControlNumber, &n.OrgID, &n.Year, &n.SequenceNumber,
		&title, &desc, &docType, &number,
		&orgName, &unitName, &sphere, &power,
		&muni, &uf, &modality, &status,
		&n.PublishedAt, &n.UpdatedAt, &n.TotalValue, &n.Canceled, &extraJSON,
	)
	if err != nil {
		return catalog.Notice{}, err
	}
	n.Title = deref(title)
	n.Description = deref(desc)
	n.DocumentType = deref(docType)
	n.Number = deref(number)
	n.OrgName = deref(orgName)
	n.UnitName = deref(unitName)
	n.SphereName = deref(sphere)
	n.PowerName = deref(power)
	n.Municipality = deref(muni)
	n.UF = deref(uf)
	n.Modality = deref(modality)
	n.Status = deref(status)
	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &n.Extra); err != nil {
			return catalog.Notice{}, fmt.Errorf("unmarshal extra: %w", err)
		}
	}
	return n, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ListItems returns a notice's line items ordered by item number.
func (s *Store) ListItems(ctx context.Context, controlNumber string) ([]catalog.Item, error) {
	query := `
		SELECT control_number, number, description, total_value
		FROM items
		WHERE control_number = $1
		ORDER BY number`
	rows, err := s.pool.Query(ctx, query, controlNumber)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []catalog.Item
	for rows.Next() {
		var (
			it   catalog.Item
			desc *string
		)
		if err := rows.Scan(&it.ControlNumber, &it.Number, &desc, &it.TotalValue); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Description = deref(desc)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// ListAttachments returns a notice's attachments ordered by sequence.
func (s *Store) ListAttachments(ctx context.Context, controlNumber string) ([]catalog.Attachment, error) {
	query := `
		SELECT control_number, sequence, url, title, active
		FROM attachments
		WHERE control_number = $1
		ORDER BY sequence`
	rows, err := s.pool.Query(ctx, query, controlNumber)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var files []catalog.Attachment
	for rows.Next() {
		var (
			a     catalog.Attachment
			title *string
		)
		if err := rows.Scan(&a.ControlNumber, &a.Sequence, &a.URL, &title, &a.Active); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		a.Title = deref(title)
		files = append(files, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return files, nil
}

// GetConversion retrieves one conversion by key.
func (s *Store) GetConversion(ctx context.Context, controlNumber string, sequence int) (catalog.Conversion, error) {
	query := `
		SELECT control_number, sequence, filename, content, ok, error, converted_at
		FROM conversions
		WHERE control_number = $1 AND sequence = $2`
	c, err := scanConversion(s.pool.QueryRow(ctx, query, controlNumber, sequence))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Conversion{}, catalog.ErrNotFound
		}
		return catalog.Conversion{}, fmt.Errorf("get conversion: %w", err)
	}
	return c, nil
}

// ListSuccessfulConversions returns per-document conversions that
// succeeded, excluding the sequence-0 full-record artifact.
func (s *Store) ListSuccessfulConversions(ctx context.Context, controlNumber string) ([]catalog.Conversion, error) {
	query := `
		SELECT control_number, sequence, filename, content, ok, error, converted_at
		FROM conversions
		WHERE control_number = $1 AND sequence <> 0 AND ok
		ORDER BY sequence`
	rows, err := s.pool.Query(ctx, query, controlNumber)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()

	var convs []catalog.Conversion
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversions: %w", err)
	}
	return convs, nil
}

func scanConversion(row pgx.Row) (catalog.Conversion, error) {
	var (
		c        catalog.Conversion
		filename *string
		content  *string
		errText  *string
	)
	err := row.Scan(&c.ControlNumber, &c.Sequence, &filename, &content, &c.OK, &errText, &c.ConvertedAt)
	if err != nil {
		return catalog.Conversion{}, err
	}
	c.Filename = deref(filename)
	c.Content = deref(content)
	c.Error = deref(errText)
	return c, nil
}
