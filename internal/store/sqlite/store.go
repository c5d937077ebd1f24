package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-reconciler/internal/domain"
	"github.com/dvloznov/txn-reconciler/internal/migrate"
	"github.com/dvloznov/txn-reconciler/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a store.Store backed by a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and applies pending migrations.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: opening database: %w", err)
	}

	// SQLite serialises writers; a single connection also keeps ":memory:"
	// databases shared across calls.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("Open: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}

	migrations, err := migrate.Read(ctx, migrationFiles, "migrations", nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: reading migrations: %w", err)
	}
	if _, err := migrate.Apply(ctx, s.Migrator(), migrations, "sqlite-store"); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: applying migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// FindClientByTaxID implements store.ClientStore.
func (s *Store) FindClientByTaxID(ctx context.Context, taxID string) (*domain.Client, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, tax_id, created_at, updated_at
		FROM clients
		WHERE tax_id = ?
	`, taxID)

	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindClientByTaxID: %w", err)
	}
	return c, nil
}

// CreateClient implements store.ClientStore.
func (s *Store) CreateClient(ctx context.Context, name, taxID string) (*domain.Client, error) {
	now := time.Now().UTC()
	c := &domain.Client{
		ID:        uuid.NewString(),
		Name:      name,
		TaxID:     taxID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, tax_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tax_id) DO NOTHING
	`, c.ID, c.Name, c.TaxID, now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("CreateClient: inserting row: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("CreateClient: rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("CreateClient: tax id %s: %w", taxID, store.ErrDuplicate)
	}

	return c, nil
}

// CountClients implements store.ClientStore.
func (s *Store) CountClients(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountClients: %w", err)
	}
	return n, nil
}

const transactionColumns = `
	t.id, t.external_id, t.client_id, t.date, t.value, t.ingestion_run_id,
	t.created_at, t.updated_at,
	c.id, c.name, c.tax_id, c.created_at, c.updated_at`

const transactionFrom = `
	FROM transactions t
	JOIN clients c ON c.id = t.client_id`

// FindTransactionByExternalID implements store.TransactionStore.
func (s *Store) FindTransactionByExternalID(ctx context.Context, externalID string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+transactionFrom+`
		WHERE t.external_id = ?`, externalID)

	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindTransactionByExternalID: %w", err)
	}
	return tx, nil
}

// CreateTransaction implements store.TransactionStore.
func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	now := time.Now().UTC()
	id := uuid.NewString()

	var runID sql.NullString
	if tx.IngestionRunID != "" {
		runID = sql.NullString{String: tx.IngestionRunID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, external_id, client_id, date, value,
			ingestion_run_id, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO NOTHING
	`,
		id, tx.ExternalID, tx.ClientID, tx.Date.String(), tx.Value.String(),
		runID, now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("CreateTransaction: inserting row: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("CreateTransaction: rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("CreateTransaction: external id %s: %w", tx.ExternalID, store.ErrDuplicate)
	}

	created, err := s.FindTransactionByExternalID(ctx, tx.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("CreateTransaction: re-reading row: %w", err)
	}
	return created, nil
}

// whereClause renders filter as a SQL condition over the aliased join.
func whereClause(filter store.TransactionFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if filter.ClientName != "" {
		conds = append(conds, `LOWER(c.name) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(filter.ClientName))+"%")
	}
	if filter.StartDate.IsValid() {
		conds = append(conds, "t.date >= ?")
		args = append(args, filter.StartDate.String())
	}
	if filter.EndDate.IsValid() {
		conds = append(conds, "t.date <= ?")
		args = append(args, filter.EndDate.String())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// orderClause orders by date in SQL. Values are stored as decimal text,
// which SQLite cannot compare exactly, so value orders fall back to
// external_id here and are sorted in Go by sortByValue.
func orderClause(order store.Sort) string {
	if order.Field == store.SortByValue {
		return " ORDER BY t.external_id ASC"
	}
	dir := "ASC"
	if order.Direction == store.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY t.date %s, t.external_id ASC", dir)
}

// valueBefore reports whether a sorts before b by value in dir, ties broken
// by external id ascending.
func valueBefore(a, b *domain.Transaction, dir store.Direction) bool {
	if c := a.Value.Cmp(b.Value); c != 0 {
		if dir == store.Desc {
			return c > 0
		}
		return c < 0
	}
	return a.ExternalID < b.ExternalID
}

func sortByValue(txs []*domain.Transaction, dir store.Direction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return valueBefore(txs[i], txs[j], dir)
	})
}

// CountTransactions implements store.TransactionStore.
func (s *Store) CountTransactions(ctx context.Context, filter store.TransactionFilter) (int64, error) {
	where, args := whereClause(filter)

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+transactionFrom+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountTransactions: %w", err)
	}
	return n, nil
}

// SumTransactionValues implements store.TransactionStore. Values are summed
// as decimals so the total is exact.
func (s *Store) SumTransactionValues(ctx context.Context, filter store.TransactionFilter) (decimal.Decimal, error) {
	where, args := whereClause(filter)

	rows, err := s.db.QueryContext(ctx, `SELECT t.value`+transactionFrom+where, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SumTransactionValues: query: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("SumTransactionValues: scan: %w", err)
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("SumTransactionValues: parsing stored value %q: %w", raw, err)
		}
		sum = sum.Add(v)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("SumTransactionValues: iterating: %w", err)
	}
	return sum, nil
}

// FindTransactionExtremum implements store.TransactionStore. Value extrema
// are found with one pass over the matching rows, comparing decimals.
func (s *Store) FindTransactionExtremum(ctx context.Context, field store.SortField, dir store.Direction, filter store.TransactionFilter) (*domain.Transaction, error) {
	if field == store.SortByValue {
		return s.valueExtremum(ctx, dir, filter)
	}
	txs, err := s.FindTransactionsPaged(ctx, filter, store.Sort{Field: field, Direction: dir}, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("FindTransactionExtremum: %w", err)
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return txs[0], nil
}

func (s *Store) valueExtremum(ctx context.Context, dir store.Direction, filter store.TransactionFilter) (*domain.Transaction, error) {
	where, args := whereClause(filter)

	rows, err := s.db.QueryContext(ctx, `SELECT `+transactionColumns+transactionFrom+where, args...)
	if err != nil {
		return nil, fmt.Errorf("FindTransactionExtremum: query: %w", err)
	}
	defer rows.Close()

	var best *domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("FindTransactionExtremum: scan: %w", err)
		}
		if best == nil || valueBefore(tx, best, dir) {
			best = tx
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FindTransactionExtremum: iterating: %w", err)
	}
	return best, nil
}

// FindTransactionsPaged implements store.TransactionStore. Value-sorted
// pages read every matching row and sort them in Go.
func (s *Store) FindTransactionsPaged(ctx context.Context, filter store.TransactionFilter, order store.Sort, skip, limit int) ([]*domain.Transaction, error) {
	where, args := whereClause(filter)
	query := `SELECT ` + transactionColumns + transactionFrom + where + orderClause(order)

	byValue := order.Field == store.SortByValue
	switch {
	case byValue:
		// paged below, after sorting
	case limit > 0:
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, skip)
	case skip > 0:
		query += " LIMIT -1 OFFSET ?"
		args = append(args, skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("FindTransactionsPaged: query: %w", err)
	}
	defer rows.Close()

	txs := []*domain.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("FindTransactionsPaged: scan: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FindTransactionsPaged: iterating: %w", err)
	}

	if byValue {
		sortByValue(txs, order.Direction)
		if skip >= len(txs) {
			return []*domain.Transaction{}, nil
		}
		txs = txs[skip:]
		if limit > 0 && limit < len(txs) {
			txs = txs[:limit]
		}
	}
	return txs, nil
}

// StartIngestionRun implements store.RunStore.
func (s *Store) StartIngestionRun(ctx context.Context, run *domain.IngestionRun) error {
	if run.ID == "" {
		return fmt.Errorf("StartIngestionRun: run ID is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (
			id, source, filename, checksum_sha256, status, started_at
		)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.Source, run.Filename, run.ChecksumSHA256, string(run.Status), run.StartedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("StartIngestionRun: inserting row: %w", err)
	}
	return nil
}

// FinishIngestionRun implements store.RunStore.
func (s *Store) FinishIngestionRun(ctx context.Context, run *domain.IngestionRun) error {
	var finished sql.NullString
	if run.FinishedAt != nil {
		finished = sql.NullString{String: run.FinishedAt.UTC().Format(timeLayout), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_runs
		SET status = ?,
		    checksum_sha256 = ?,
		    finished_at = ?,
		    processed = ?,
		    skipped = ?,
		    rejected = ?,
		    error_message = ?
		WHERE id = ?
	`, string(run.Status), run.ChecksumSHA256, finished, run.Processed, run.Skipped, run.Rejected, run.ErrorMessage, run.ID)
	if err != nil {
		return fmt.Errorf("FinishIngestionRun: updating row: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("FinishIngestionRun: run not found: %s", run.ID)
	}
	return nil
}

// ListIngestionRuns implements store.RunStore. Runs are returned newest first.
func (s *Store) ListIngestionRuns(ctx context.Context, limit int) ([]*domain.IngestionRun, error) {
	query := `
		SELECT id, source, filename, checksum_sha256, status, started_at,
		       finished_at, processed, skipped, rejected, error_message
		FROM ingestion_runs
		ORDER BY started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListIngestionRuns: query: %w", err)
	}
	defer rows.Close()

	runs := []*domain.IngestionRun{}
	for rows.Next() {
		var (
			r                domain.IngestionRun
			checksum, errMsg sql.NullString
			status, started  string
			finished         sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Filename, &checksum, &status, &started,
			&finished, &r.Processed, &r.Skipped, &r.Rejected, &errMsg); err != nil {
			return nil, fmt.Errorf("ListIngestionRuns: scan: %w", err)
		}
		r.Status = domain.RunStatus(status)
		r.ChecksumSHA256 = checksum.String
		r.ErrorMessage = errMsg.String
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("ListIngestionRuns: parsing started_at: %w", err)
		}
		if finished.Valid {
			ft, err := time.Parse(timeLayout, finished.String)
			if err != nil {
				return nil, fmt.Errorf("ListIngestionRuns: parsing finished_at: %w", err)
			}
			r.FinishedAt = &ft
		}
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListIngestionRuns: iterating: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanClient(row scanner) (*domain.Client, error) {
	var (
		c                domain.Client
		created, updated string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.TaxID, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if c.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var (
		tx                 domain.Transaction
		c                  domain.Client
		date, value        string
		runID              sql.NullString
		created, updated   string
		cCreated, cUpdated string
	)
	if err := row.Scan(
		&tx.ID, &tx.ExternalID, &tx.ClientID, &date, &value, &runID, &created, &updated,
		&c.ID, &c.Name, &c.TaxID, &cCreated, &cUpdated,
	); err != nil {
		return nil, err
	}

	var err error
	if tx.Date, err = civil.ParseDate(date); err != nil {
		return nil, fmt.Errorf("parsing date %q: %w", date, err)
	}
	if tx.Value, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("parsing value %q: %w", value, err)
	}
	tx.IngestionRunID = runID.String
	if tx.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if tx.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if c.CreatedAt, err = time.Parse(timeLayout, cCreated); err != nil {
		return nil, fmt.Errorf("parsing client created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(timeLayout, cUpdated); err != nil {
		return nil, fmt.Errorf("parsing client updated_at: %w", err)
	}
	tx.Client = &c
	return &tx, nil
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
