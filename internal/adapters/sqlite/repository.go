package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"neptunebot/internal/domain"
	"neptunebot/internal/ports"
)

// Repository implements ports.PositionRepository using SQLite. Positions and
// their legs live in two tables; every write rewrites the position's legs so
// the stored row set always matches the in-memory position.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/neptunebot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; a single connection avoids
	// SQLITE_BUSY churn in the Go driver.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite repository ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		open_quantity REAL NOT NULL,
		remaining_quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		leverage INTEGER NOT NULL,
		state TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS position_legs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		order_id INTEGER NOT NULL,
		client_order_id TEXT NOT NULL,
		trigger_price REAL NOT NULL,
		quantity REAL NOT NULL,
		callback_rate REAL NOT NULL,
		status TEXT NOT NULL,
		FOREIGN KEY (position_id) REFERENCES positions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_positions_user_symbol_state ON positions (user, symbol, state);
	CREATE INDEX IF NOT EXISTS idx_position_legs_position_id ON position_legs (position_id);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// Save inserts a new position with its legs and returns its assigned ID.
func (r *Repository) Save(ctx context.Context, pos *domain.Position) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to begin transaction: %w", ports.ErrQueryFailed, err)
	}
	defer tx.Rollback()

	const query = `
	INSERT INTO positions (user, symbol, side, open_quantity, remaining_quantity, entry_price, leverage, state, opened_at, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := tx.ExecContext(ctx, query,
		pos.User, pos.Symbol, pos.Side, pos.OpenQuantity, pos.RemainingQuantity,
		pos.EntryPrice, pos.Leverage, pos.State, pos.OpenedAt, nullableTime(pos.ClosedAt))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert position %s/%s: %w", ports.ErrQueryFailed, pos.User, pos.Symbol, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get inserted position id: %w", ports.ErrQueryFailed, err)
	}

	if err := insertLegs(ctx, tx, id, pos.Legs); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: failed to commit position insert: %w", ports.ErrQueryFailed, err)
	}
	return id, nil
}

// Update rewrites an existing position and its legs.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	if pos.ID == 0 {
		return fmt.Errorf("%w: position %s/%s has no id", ports.ErrUpdateFailed, pos.User, pos.Symbol)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", ports.ErrUpdateFailed, err)
	}
	defer tx.Rollback()

	const query = `
	UPDATE positions
	SET remaining_quantity = ?, entry_price = ?, state = ?, closed_at = ?
	WHERE id = ?`

	result, err := tx.ExecContext(ctx, query,
		pos.RemainingQuantity, pos.EntryPrice, pos.State, nullableTime(pos.ClosedAt), pos.ID)
	if err != nil {
		return fmt.Errorf("%w: failed to update position %d: %w", ports.ErrUpdateFailed, pos.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to check update result: %w", ports.ErrUpdateFailed, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: position %d not found", ports.ErrNotFound, pos.ID)
	}

	// Rewrite the legs wholesale; there are at most five per position.
	if _, err := tx.ExecContext(ctx, `DELETE FROM position_legs WHERE position_id = ?`, pos.ID); err != nil {
		return fmt.Errorf("%w: failed to clear legs for position %d: %w", ports.ErrUpdateFailed, pos.ID, err)
	}
	if err := insertLegs(ctx, tx, pos.ID, pos.Legs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit position update: %w", ports.ErrUpdateFailed, err)
	}
	return nil
}

// FindLive retrieves every position whose state is still live.
func (r *Repository) FindLive(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT id, user, symbol, side, open_quantity, remaining_quantity, entry_price, leverage, state, opened_at, closed_at
	FROM positions
	WHERE state NOT IN (?, ?)
	ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, domain.StateClosed, domain.StateFailed)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query live positions: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating live positions: %w", ports.ErrQueryFailed, err)
	}

	for _, pos := range positions {
		if err := r.loadLegs(ctx, pos); err != nil {
			return nil, err
		}
	}
	return positions, nil
}

// loadLegs fills in the position's legs from the database.
func (r *Repository) loadLegs(ctx context.Context, pos *domain.Position) error {
	const query = `
	SELECT kind, order_id, client_order_id, trigger_price, quantity, callback_rate, status
	FROM position_legs
	WHERE position_id = ?
	ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, pos.ID)
	if err != nil {
		return fmt.Errorf("%w: failed to query legs for position %d: %w", ports.ErrQueryFailed, pos.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var leg domain.Leg
		if err := rows.Scan(&leg.Kind, &leg.OrderID, &leg.ClientOrderID, &leg.TriggerPrice, &leg.Quantity, &leg.CallbackRate, &leg.Status); err != nil {
			return fmt.Errorf("%w: failed to scan leg for position %d: %w", ports.ErrQueryFailed, pos.ID, err)
		}
		pos.Legs = append(pos.Legs, leg)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: error iterating legs for position %d: %w", ports.ErrQueryFailed, pos.ID, err)
	}
	return nil
}

func insertLegs(ctx context.Context, tx *sql.Tx, positionID int64, legs []domain.Leg) error {
	const query = `
	INSERT INTO position_legs (position_id, kind, order_id, client_order_id, trigger_price, quantity, callback_rate, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	for _, leg := range legs {
		if _, err := tx.ExecContext(ctx, query,
			positionID, leg.Kind, leg.OrderID, leg.ClientOrderID, leg.TriggerPrice, leg.Quantity, leg.CallbackRate, leg.Status); err != nil {
			return fmt.Errorf("%w: failed to insert %s leg for position %d: %w", ports.ErrQueryFailed, leg.Kind, positionID, err)
		}
	}
	return nil
}

func scanPosition(rows *sql.Rows) (*domain.Position, error) {
	var pos domain.Position
	var closedAt sql.NullTime
	if err := rows.Scan(&pos.ID, &pos.User, &pos.Symbol, &pos.Side, &pos.OpenQuantity, &pos.RemainingQuantity,
		&pos.EntryPrice, &pos.Leverage, &pos.State, &pos.OpenedAt, &closedAt); err != nil {
		return nil, fmt.Errorf("%w: failed to scan position: %w", ports.ErrQueryFailed, err)
	}
	if closedAt.Valid {
		pos.ClosedAt = closedAt.Time
	}
	return &pos, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
