package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

// Schema creates every table the repository needs.
//
//go:embed schema.sql
var Schema string

// publishLockKey identifies the transaction-scoped advisory lock that
// serializes publishes.
const publishLockKey int64 = 0x62616e6e657273

const liveIndexName = "publication_single_live_idx"

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

// Conn is a DBTX that can open transactions, such as *pgxpool.Pool or *pgx.Conn.
type Conn interface {
	DBTX
	Begin(context.Context) (pgx.Tx, error)
	BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error)
}

// Repository implements simplebanners.Repository using PostgreSQL
type Repository struct {
	queries
	conn        Conn
	lockTimeout time.Duration
}

// Option configures the PostgreSQL repository
type Option func(*Repository)

// WithLockTimeout sets lock_timeout for the publish lock. A publish that
// waits longer fails with simplebanners.ErrPublishConflict. Zero waits
// indefinitely.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Repository) {
		r.lockTimeout = d
	}
}

// New creates a new PostgreSQL repository
func New(conn Conn, opts ...Option) *Repository {
	r := &Repository{queries: queries{db: conn}, conn: conn}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool, opts ...Option) *Repository {
	return New(pool, opts...)
}

var _ simplebanners.Repository = (*Repository)(nil)

// Migrate applies Schema.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return handlePostgresError("migrate", err)
	}
	return nil
}

// WithTx runs fn in a database transaction. The transaction is rolled back
// when fn fails or ctx is done before commit.
func (r *Repository) WithTx(ctx context.Context, fn func(tx simplebanners.Tx) error) (err error) {
	pgTx, err := r.conn.Begin(ctx)
	if err != nil {
		return handlePostgresError("begin", err)
	}
	defer func() {
		if err != nil {
			_ = pgTx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(&txQueries{queries: queries{db: pgTx}, lockTimeout: r.lockTimeout}); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = pgTx.Commit(ctx); err != nil {
		return handlePostgresError("commit", err)
	}
	return nil
}

// GetLiveSnapshotPage runs its reads in one REPEATABLE READ snapshot so a
// publish committing in between cannot mix two publications.
func (r *Repository) GetLiveSnapshotPage(ctx context.Context, limit, offset int) (*simplebanners.Publication, []*simplebanners.Snapshot, int, error) {
	pgTx, err := r.conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, 0, handlePostgresError("begin", err)
	}
	defer func() { _ = pgTx.Rollback(context.WithoutCancel(ctx)) }()

	q := queries{db: pgTx}
	return q.GetLiveSnapshotPage(ctx, limit, offset)
}

// CreateEntries inserts all entries atomically.
func (r *Repository) CreateEntries(ctx context.Context, entries []*simplebanners.Entry) error {
	return r.WithTx(ctx, func(tx simplebanners.Tx) error {
		return tx.CreateEntries(ctx, entries)
	})
}

// Error handling helper
func handlePostgresError(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if pgErr.ConstraintName == liveIndexName {
				return fmt.Errorf("%s: %w", operation, simplebanners.ErrPublishConflict)
			}
			return fmt.Errorf("%s: %w (%s)", operation, simplebanners.ErrDuplicateName, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			deleting := strings.HasPrefix(operation, "delete")
			return fmt.Errorf("%s: %w", operation, foreignKeyError(pgErr.ConstraintName, deleting))
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return fmt.Errorf("%s: %w: %s", operation, simplebanners.ErrPublishConflict, pgErr.Message)
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

func foreignKeyError(constraint string, deleting bool) error {
	switch {
	case strings.HasSuffix(constraint, "page_fk"):
		if deleting {
			return simplebanners.ErrPageInUse
		}
		return simplebanners.ErrPageNotFound
	case strings.HasSuffix(constraint, "slot_fk"):
		if deleting {
			return simplebanners.ErrSlotInUse
		}
		return simplebanners.ErrSlotNotFound
	case strings.HasSuffix(constraint, "entry_fk"):
		return simplebanners.ErrEntryNotFound
	case strings.HasSuffix(constraint, "publication_fk"):
		return simplebanners.ErrPublicationNotFound
	case strings.HasSuffix(constraint, "snapshot_fk"):
		return simplebanners.ErrSnapshotNotFound
	}
	return fmt.Errorf("referenced record not found (%s)", constraint)
}

// queries implements simplebanners.Store over a DBTX.
type queries struct {
	db DBTX
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (q *queries) execBatch(ctx context.Context, operation string, batch *pgx.Batch) (err error) {
	results := q.db.SendBatch(ctx, batch)
	defer func() {
		if closeErr := results.Close(); err == nil && closeErr != nil {
			err = handlePostgresError(operation, closeErr)
		}
	}()
	for i := 0; i < batch.Len(); i++ {
		if _, execErr := results.Exec(); execErr != nil {
			return handlePostgresError(operation, execErr)
		}
	}
	return nil
}

// Page operations

const pageColumns = `id, name, description, created_at, updated_at`

func scanPage(row rowScanner) (*simplebanners.Page, error) {
	var page simplebanners.Page
	if err := row.Scan(&page.ID, &page.Name, &page.Description, &page.CreatedAt, &page.UpdatedAt); err != nil {
		return nil, err
	}
	page.CreatedAt = page.CreatedAt.UTC()
	page.UpdatedAt = page.UpdatedAt.UTC()
	return &page, nil
}

func (q *queries) CreatePage(ctx context.Context, page *simplebanners.Page) error {
	query := `INSERT INTO page (` + pageColumns + `) VALUES ($1, $2, $3, $4, $5)`
	_, err := q.db.Exec(ctx, query, page.ID, page.Name, page.Description, page.CreatedAt, page.UpdatedAt)
	if err != nil {
		return handlePostgresError("create page", err)
	}
	return nil
}

func (q *queries) GetPage(ctx context.Context, id uuid.UUID) (*simplebanners.Page, error) {
	query := `SELECT ` + pageColumns + ` FROM page WHERE id = $1`
	page, err := scanPage(q.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplebanners.ErrPageNotFound
		}
		return nil, handlePostgresError("get page", err)
	}
	return page, nil
}

func (q *queries) UpdatePage(ctx context.Context, page *simplebanners.Page) error {
	query := `UPDATE page SET name = $2, description = $3, updated_at = $4 WHERE id = $1`
	tag, err := q.db.Exec(ctx, query, page.ID, page.Name, page.Description, page.UpdatedAt)
	if err != nil {
		return handlePostgresError("update page", err)
	}
	if tag.RowsAffected() == 0 {
		return simplebanners.ErrPageNotFound
	}
	return nil
}

func (q *queries) DeletePage(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM page WHERE id = $1`, id)
	if err != nil {
		return handlePostgresError("delete page", err)
	}
	if tag.RowsAffected() == 0 {
		return simplebanners.ErrPageNotFound
	}
	return nil
}

func (q *queries) ListPages(ctx context.Context) ([]*simplebanners.Page, error) {
	query := `SELECT ` + pageColumns + ` FROM page ORDER BY created_at DESC, id DESC`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, handlePostgresError("list pages", err)
	}
	defer rows.Close()

	pages := make([]*simplebanners.Page, 0)
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, handlePostgresError("list pages", err)
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

// Slot operations

const slotColumns = `id, name, description, page_id, hidden, created_at, updated_at`

func scanSlot(row rowScanner) (*simplebanners.Slot, error) {
	var slot simplebanners.Slot
	if err := row.Scan(&slot.ID, &slot.Name, &slot.Description, &slot.PageID, &slot.Hidden, &slot.CreatedAt, &slot.UpdatedAt); err != nil {
		return nil, err
	}
	slot.CreatedAt = slot.CreatedAt.UTC()
	slot.UpdatedAt = slot.UpdatedAt.UTC()
	return &slot, nil
}

func (q *queries) CreateSlot(ctx context.Context, slot *simplebanners.Slot) error {
	query := `INSERT INTO slot (` + slotColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := q.db.Exec(ctx, query,
		slot.ID, slot.Name, slot.Description, slot.PageID, slot.Hidden, slot.CreatedAt, slot.UpdatedAt)
	if err != nil {
		return handlePostgresError("create slot", err)
	}
	return nil
}

func (q *queries) GetSlot(ctx context.Context, id uuid.UUID) (*simplebanners.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slot WHERE id = $1`
	slot, err := scanSlot(q.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplebanners.ErrSlotNotFound
		}
		return nil, handlePostgresError("get slot", err)
	}
	return slot, nil
}

func (q *queries) UpdateSlot(ctx context.Context, slot *simplebanners.Slot) error {
	query := `
		UPDATE slot SET name = $2, description = $3, page_id = $4, hidden = $5, updated_at = $6
		WHERE id = $1`
	tag, err := q.db.Exec(ctx, query,
		slot.ID, slot.Name, slot.Description, slot.PageID, slot.Hidden, slot.UpdatedAt)
	if err != nil {
		return handlePostgresError("update slot", err)
	}
	if tag.RowsAffected() == 0 {
		return simplebanners.ErrSlotNotFound
	}
	return nil
}

func (q *queries) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM slot WHERE id = $1`, id)
	if err != nil {
		return handlePostgresError("delete slot", err)
	}
	if tag.RowsAffected() == 0 {
		return simplebanners.ErrSlotNotFound
	}
	return nil
}

func (q *queries) ListSlots(ctx context.Context) ([]*simplebanners.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slot ORDER BY created_at DESC, id DESC`
	return q.listSlots(ctx, query)
}

func (q *queries) ListSlotsByPage(ctx context.Context, pageID uuid.UUID) ([]*simplebanners.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slot WHERE page_id = $1 ORDER BY created_at DESC, id DESC`
	return q.listSlots(ctx, query, pageID)
}

func (q *queries) listSlots(ctx context.Context, query string, args ...any) ([]*simplebanners.Slot, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, handlePostgresError("list slots", err)
	}
	defer rows.Close()

	slots := make([]*simplebanners.Slot, 0)
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, handlePostgresError("list slots", err)
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// Entry operations

const entryColumns = `
	e.id, e.name, e.priority, e.countries, e.languages, e.start_time, e.end_time,
	e.dismissible, e.stopped, e.body, e.segments, e.slot_id, e.content_hash, e.active,
	e.last_published_at, e.created_at, e.updated_at,
	s.name, s.description, p.id, p.name, p.description`

const entryFrom = `
	FROM entry e
	JOIN slot s ON s.id = e.slot_id
	JOIN page p ON p.id = s.page_id`

func scanEntry(row rowScanner) (*simplebanners.Entry, error) {
	var (
		entry simplebanners.Entry
		hash  []byte
	)
	err := row.Scan(
		&entry.ID, &entry.Name, &entry.Priority, &entry.Countries, &entry.Languages,
		&entry.StartTime, &entry.EndTime, &entry.Dismissible, &entry.Stopped, &entry.Body,
		&entry.Segments, &entry.SlotID, &hash, &entry.Active, &entry.LastPublishedAt,
		&entry.CreatedAt, &entry.UpdatedAt,
		&entry.Slot.Name, &entry.Slot.Description,
		&entry.Slot.Page.ID, &entry.Slot.Page.Name, &entry.Slot.Page.Description)
	if err != nil {
		return nil, err
	}
	entry.Slot.ID = entry.SlotID
	if entry.ContentHash, err = simplebanners.FingerprintFromBytes(hash); err != nil {
		return nil, err
	}
	entry.StartTime = simplebanners.NormalizeTime(entry.StartTime)
	entry.EndTime = simplebanners.NormalizeTime(entry.EndTime)
	entry.LastPublishedAt = simplebanners.NormalizeTime(entry.LastPublishedAt)
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return &entry, nil
}

func textArray(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func uuidArray(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func (q *queries) queryEntries(ctx context.Context, operation, where string, args ...any) ([]*simplebanners.Entry, error) {
	return q.scanEntries(ctx, operation, selectEntriesSQL(where, ""), args...)
}

func selectEntriesSQL(where, locking string) string {
	query := `SELECT ` + entryColumns + entryFrom + ` WHERE ` + where + ` ORDER BY e.created_at DESC, e.id DESC`
	if locking != "" {
		query += ` ` + locking
	}
	return query
}

func (q *queries) scanEntries(ctx context.Context, operation, query string, args ...any) ([]*simplebanners.Entry, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, handlePostgresError(operation, err)
	}
	defer rows.Close()

	entries := make([]*simplebanners.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, handlePostgresError(operation, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

const insertEntrySQL = `
	INSERT INTO entry (
		id, name, priority, countries, languages, start_time, end_time,
		dismissible, stopped, body, segments, slot_id, content_hash, active,
		last_published_at, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

func (q *queries) CreateEntries(ctx context.Context, entries []*simplebanners.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insertEntrySQL,
			e.ID, e.Name, e.Priority, textArray(e.Countries), textArray(e.Languages),
			e.StartTime, e.EndTime, e.Dismissible, e.Stopped, e.Body, textArray(e.Segments),
			e.SlotID, e.ContentHash.Bytes(), e.Active, e.LastPublishedAt, e.CreatedAt, e.UpdatedAt)
	}
	return q.execBatch(ctx, "create entries", batch)
}

func (q *queries) GetEntry(ctx context.Context, id uuid.UUID) (*simplebanners.Entry, error) {
	query := `SELECT ` + entryColumns + entryFrom + ` WHERE e.id = $1 AND e.active`
	entry, err := scanEntry(q.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplebanners.ErrEntryNotFound
		}
		return nil, handlePostgresError("get entry", err)
	}
	return entry, nil
}

// GetEntries returns the active entries in the order of ids, skipping
// repeats. A missing id fails the whole call.
func (q *queries) GetEntries(ctx context.Context, ids []uuid.UUID) ([]*simplebanners.Entry, error) {
	found, err := q.queryEntries(ctx, "get entries", `e.id = ANY($1::uuid[]) AND e.active`, uuidArray(ids))
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*simplebanners.Entry, len(found))
	for _, entry := range found {
		byID[entry.ID] = entry
	}

	seen := make(map[uuid.UUID]struct{}, len(ids))
	result := make([]*simplebanners.Entry, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entry, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("entry %s: %w", id, simplebanners.ErrEntryNotFound)
		}
		result = append(result, entry)
	}
	return result, nil
}

func (q *queries) UpdateEntry(ctx context.Context, e *simplebanners.Entry) error {
	query := `
		UPDATE entry SET
			name = $2, priority = $3, countries = $4, languages = $5, start_time = $6,
			end_time = $7, dismissible = $8, stopped = $9, body = $10, segments = $11,
			slot_id = $12, content_hash = $13, active = $14, last_published_at = $15,
			updated_at = $16
		WHERE id = $1`
	tag, err := q.db.Exec(ctx, query,
		e.ID, e.Name, e.Priority, textArray(e.Countries), textArray(e.Languages), e.StartTime,
		e.EndTime, e.Dismissible, e.Stopped, e.Body, textArray(e.Segments),
		e.SlotID, e.ContentHash.Bytes(), e.Active, e.LastPublishedAt, e.UpdatedAt)
	if err != nil {
		return handlePostgresError("update entry", err)
	}
	if tag.RowsAffected() == 0 {
		return simplebanners.ErrEntryNotFound
	}
	return nil
}

func (q *queries) DeleteEntry(ctx context.Context, id uuid.UUID, at time.Time) error {
	// Soft delete: snapshots keep referencing the row
	query := `UPDATE entry SET active = FALSE, updated_at = $2 WHERE id = $1 AND active`
	tag, err := q.db.Exec(ctx, query, id, at)
	if err != nil {
		return handlePostgresError("delete entry", err)
	}
	if tag.RowsAffected() == 0 {
		return simplebanners.ErrEntryNotFound
	}
	return nil
}

func (q *queries) ListEntries(ctx context.Context, filter simplebanners.EntryFilter) ([]*simplebanners.Entry, error) {
	return q.queryEntries(ctx, "list entries",
		`($1::uuid IS NULL OR e.slot_id = $1::uuid) AND ($2::boolean OR e.active)`,
		filter.SlotID, filter.IncludeInactive)
}

// Publication operations

const publicationColumns = `id, state, published_by, published_at, created_at`

func scanPublication(row rowScanner) (*simplebanners.Publication, error) {
	var (
		pub   simplebanners.Publication
		state string
	)
	if err := row.Scan(&pub.ID, &state, &pub.PublishedBy, &pub.PublishedAt, &pub.CreatedAt); err != nil {
		return nil, err
	}
	pub.State = simplebanners.PublicationState(state)
	pub.PublishedAt = pub.PublishedAt.UTC()
	pub.CreatedAt = pub.CreatedAt.UTC()
	return &pub, nil
}

func (q *queries) GetPublication(ctx context.Context, id uuid.UUID) (*simplebanners.Publication, error) {
	query := `SELECT ` + publicationColumns + ` FROM publication WHERE id = $1`
	pub, err := scanPublication(q.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplebanners.ErrPublicationNotFound
		}
		return nil, handlePostgresError("get publication", err)
	}
	return pub, nil
}

func (q *queries) GetLivePublication(ctx context.Context) (*simplebanners.Publication, error) {
	query := `SELECT ` + publicationColumns + ` FROM publication WHERE state = 'live'`
	pub, err := scanPublication(q.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplebanners.ErrNoLivePublication
		}
		return nil, handlePostgresError("get live publication", err)
	}
	return pub, nil
}

func (q *queries) ListPublications(ctx context.Context) ([]*simplebanners.Publication, error) {
	query := `SELECT ` + publicationColumns + ` FROM publication ORDER BY created_at DESC, id DESC`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, handlePostgresError("list publications", err)
	}
	defer rows.Close()

	pubs := make([]*simplebanners.Publication, 0)
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, handlePostgresError("list publications", err)
		}
		pubs = append(pubs, pub)
	}
	return pubs, rows.Err()
}

// Snapshot operations

const snapshotColumns = `
	s.id, s.entry_id, s.content_hash, s.current_publication_id, s.name, s.priority,
	s.countries, s.languages, s.start_time, s.end_time, s.dismissible, s.stopped,
	s.body, s.segments, s.slot, s.created_at`

func scanSnapshot(row rowScanner) (*simplebanners.Snapshot, error) {
	var (
		snap     simplebanners.Snapshot
		hash     []byte
		slotJSON []byte
	)
	err := row.Scan(
		&snap.ID, &snap.EntryID, &hash, &snap.CurrentPublicationID, &snap.Name, &snap.Priority,
		&snap.Countries, &snap.Languages, &snap.StartTime, &snap.EndTime, &snap.Dismissible,
		&snap.Stopped, &snap.Body, &snap.Segments, &slotJSON, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}
	if snap.ContentHash, err = simplebanners.FingerprintFromBytes(hash); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(slotJSON, &snap.Slot); err != nil {
		return nil, fmt.Errorf("decode snapshot slot: %w", err)
	}
	snap.StartTime = simplebanners.NormalizeTime(snap.StartTime)
	snap.EndTime = simplebanners.NormalizeTime(snap.EndTime)
	snap.CreatedAt = snap.CreatedAt.UTC()
	return &snap, nil
}

func (q *queries) querySnapshots(ctx context.Context, operation, query string, args ...any) ([]*simplebanners.Snapshot, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, handlePostgresError(operation, err)
	}
	defer rows.Close()

	snapshots := make([]*simplebanners.Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, handlePostgresError(operation, err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func (q *queries) GetSnapshot(ctx context.Context, id uuid.UUID) (*simplebanners.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshot s WHERE s.id = $1`
	snap, err := scanSnapshot(q.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplebanners.ErrSnapshotNotFound
		}
		return nil, handlePostgresError("get snapshot", err)
	}
	return snap, nil
}

func (q *queries) ListCurrentSnapshots(ctx context.Context, publicationID uuid.UUID, limit, offset int) ([]*simplebanners.Snapshot, int, error) {
	var count int
	err := q.db.QueryRow(ctx,
		`SELECT count(*) FROM snapshot WHERE current_publication_id = $1`, publicationID).Scan(&count)
	if err != nil {
		return nil, 0, handlePostgresError("count current snapshots", err)
	}

	// LIMIT NULL means no limit
	query := `SELECT ` + snapshotColumns + `
		FROM snapshot s
		WHERE s.current_publication_id = $1
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT NULLIF($2::integer, 0) OFFSET $3::integer`
	snapshots, err := q.querySnapshots(ctx, "list current snapshots", query, publicationID, max(limit, 0), max(offset, 0))
	if err != nil {
		return nil, 0, err
	}
	return snapshots, count, nil
}

func (q *queries) GetLiveSnapshotPage(ctx context.Context, limit, offset int) (*simplebanners.Publication, []*simplebanners.Snapshot, int, error) {
	pub, err := q.GetLivePublication(ctx)
	if err != nil {
		return nil, nil, 0, err
	}
	snapshots, count, err := q.ListCurrentSnapshots(ctx, pub.ID, limit, offset)
	if err != nil {
		return nil, nil, 0, err
	}
	return pub, snapshots, count, nil
}

func (q *queries) ListLoggedSnapshots(ctx context.Context, publicationID uuid.UUID) ([]*simplebanners.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM snapshot s
		JOIN publication_snapshot ps ON ps.snapshot_id = s.id
		WHERE ps.publication_id = $1
		ORDER BY s.created_at DESC, s.id DESC`
	return q.querySnapshots(ctx, "list logged snapshots", query, publicationID)
}

// ListSnapshotPublications returns the snapshot's publications oldest first.
func (q *queries) ListSnapshotPublications(ctx context.Context, snapshotID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT p.id
		FROM publication_snapshot ps
		JOIN publication p ON p.id = ps.publication_id
		WHERE ps.snapshot_id = $1
		ORDER BY p.created_at ASC, p.id ASC`
	rows, err := q.db.Query(ctx, query, snapshotID)
	if err != nil {
		return nil, handlePostgresError("list snapshot publications", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, handlePostgresError("list snapshot publications", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q *queries) ListEntrySnapshots(ctx context.Context, entryID uuid.UUID) ([]*simplebanners.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM snapshot s
		WHERE s.entry_id = $1
		ORDER BY s.created_at DESC, s.id DESC`
	return q.querySnapshots(ctx, "list entry snapshots", query, entryID)
}

// txQueries adds the publish-only operations. It is only ever bound to a
// pgx.Tx.
type txQueries struct {
	queries
	lockTimeout time.Duration
}

var _ simplebanners.Tx = (*txQueries)(nil)

// LockLivePublication takes the publish advisory lock, then row-locks the
// live publication. Both are released at commit or rollback.
func (t *txQueries) LockLivePublication(ctx context.Context) (*simplebanners.Publication, error) {
	if t.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", t.lockTimeout.Milliseconds())
		if _, err := t.db.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			return nil, handlePostgresError("set lock timeout", err)
		}
	}
	if _, err := t.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, publishLockKey); err != nil {
		return nil, handlePostgresError("lock live publication", err)
	}

	query := `SELECT ` + publicationColumns + ` FROM publication WHERE state = 'live' FOR UPDATE`
	pub, err := scanPublication(t.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, handlePostgresError("lock live publication", err)
	}
	return pub, nil
}

func (t *txQueries) CreatePublication(ctx context.Context, pub *simplebanners.Publication) error {
	if !pub.State.IsValid() {
		return fmt.Errorf("invalid publication state %q", pub.State)
	}
	query := `INSERT INTO publication (` + publicationColumns + `) VALUES ($1, $2, $3, $4, $5)`
	_, err := t.db.Exec(ctx, query, pub.ID, string(pub.State), pub.PublishedBy, pub.PublishedAt, pub.CreatedAt)
	if err != nil {
		return handlePostgresError("create publication", err)
	}
	return nil
}

func (t *txQueries) SetPublicationState(ctx context.Context, id uuid.UUID, state simplebanners.PublicationState) error {
	var current string
	err := t.db.QueryRow(ctx, `SELECT state FROM publication WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return simplebanners.ErrPublicationNotFound
		}
		return handlePostgresError("set publication state", err)
	}
	if simplebanners.PublicationState(current) == simplebanners.PublicationStateDeactivated &&
		state == simplebanners.PublicationStateLive {
		return simplebanners.ErrInvalidTransition
	}
	if _, err := t.db.Exec(ctx, `UPDATE publication SET state = $2 WHERE id = $1`, id, string(state)); err != nil {
		return handlePostgresError("set publication state", err)
	}
	return nil
}

// ListEligibleEntries share-locks the returned entries and their slots, so
// edits wait for the publish to finish instead of racing its fingerprints.
func (t *txQueries) ListEligibleEntries(ctx context.Context) ([]*simplebanners.Entry, error) {
	return t.scanEntries(ctx, "list eligible entries",
		selectEntriesSQL(`e.active AND NOT s.hidden`, `FOR SHARE OF e, s`))
}

func (t *txQueries) TouchEntries(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE entry SET last_published_at = $2, updated_at = $2 WHERE id = ANY($1::uuid[])`
	if _, err := t.db.Exec(ctx, query, uuidArray(ids), at); err != nil {
		return handlePostgresError("touch entries", err)
	}
	return nil
}

// FindMatchingSnapshots picks, per entry, the newest snapshot whose
// fingerprint equals the one carried by the given entry.
func (t *txQueries) FindMatchingSnapshots(ctx context.Context, entries []*simplebanners.Entry) (map[uuid.UUID]*simplebanners.Snapshot, error) {
	matches := make(map[uuid.UUID]*simplebanners.Snapshot)
	if len(entries) == 0 {
		return matches, nil
	}
	ids := make([]string, 0, len(entries))
	hashes := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID.String())
		hashes = append(hashes, entry.ContentHash.Bytes())
	}
	query := `SELECT DISTINCT ON (s.entry_id) ` + snapshotColumns + `
		FROM snapshot s
		JOIN unnest($1::uuid[], $2::bytea[]) AS w(entry_id, content_hash)
			ON w.entry_id = s.entry_id AND w.content_hash = s.content_hash
		ORDER BY s.entry_id, s.created_at DESC, s.id DESC`
	snapshots, err := t.querySnapshots(ctx, "find matching snapshots", query, ids, hashes)
	if err != nil {
		return nil, err
	}
	for _, snap := range snapshots {
		matches[snap.EntryID] = snap
	}
	return matches, nil
}

const insertSnapshotSQL = `
	INSERT INTO snapshot (
		id, entry_id, content_hash, current_publication_id, name, priority,
		countries, languages, start_time, end_time, dismissible, stopped,
		body, segments, slot, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

func (t *txQueries) CreateSnapshots(ctx context.Context, snapshots []*simplebanners.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range snapshots {
		slotJSON, err := json.Marshal(s.Slot)
		if err != nil {
			return fmt.Errorf("encode snapshot slot: %w", err)
		}
		batch.Queue(insertSnapshotSQL,
			s.ID, s.EntryID, s.ContentHash.Bytes(), s.CurrentPublicationID, s.Name, s.Priority,
			textArray(s.Countries), textArray(s.Languages), s.StartTime, s.EndTime, s.Dismissible, s.Stopped,
			s.Body, textArray(s.Segments), slotJSON, s.CreatedAt)
	}
	return t.execBatch(ctx, "create snapshots", batch)
}

func (t *txQueries) AttributeSnapshots(ctx context.Context, snapshotIDs []uuid.UUID, publicationID uuid.UUID) error {
	if len(snapshotIDs) == 0 {
		return nil
	}
	ids := uuidArray(snapshotIDs)
	query := `UPDATE snapshot SET current_publication_id = $1 WHERE id = ANY($2::uuid[])`
	tag, err := t.db.Exec(ctx, query, publicationID, ids)
	if err != nil {
		return handlePostgresError("attribute snapshots", err)
	}
	if int(tag.RowsAffected()) != countUnique(snapshotIDs) {
		return simplebanners.ErrSnapshotNotFound
	}
	return nil
}

func (t *txQueries) AddToPublicationLog(ctx context.Context, publicationID uuid.UUID, snapshotIDs []uuid.UUID) error {
	if len(snapshotIDs) == 0 {
		return nil
	}
	query := `
		INSERT INTO publication_snapshot (publication_id, snapshot_id)
		SELECT $1::uuid, unnest($2::uuid[])
		ON CONFLICT DO NOTHING`
	if _, err := t.db.Exec(ctx, query, publicationID, uuidArray(snapshotIDs)); err != nil {
		return handlePostgresError("add to publication log", err)
	}
	return nil
}

func countUnique(ids []uuid.UUID) int {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}
