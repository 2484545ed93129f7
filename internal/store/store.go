// Package store is the SQLite-backed record store for users and pickups.
package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"greencycle/internal/domain"
	"greencycle/internal/metrics"

	_ "modernc.org/sqlite"
)

var (
	ErrUnknownTable  = errors.New("store: unknown table")
	ErrUnknownColumn = errors.New("store: unknown column")
	ErrNotFound      = errors.New("store: not found")
)

// pickupColumns is the whitelist of columns a query may filter or sort on.
var pickupColumns = map[string]bool{
	"id": true, "user_id": true, "pickup_date": true, "pickup_time": true,
	"address": true, "service_type": true, "status": true, "notes": true, "created_at": true,
}

const pickupSelect = `SELECT id, user_id, pickup_date, pickup_time, address, service_type, status, COALESCE(notes, ''), created_at FROM pickups`

// SQLiteStore implements domain.RecordStore using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	validate *validator.Validate
	notifier domain.PickupNotifier
	now      func() time.Time
	logger   *slog.Logger
}

// Config holds SQLiteStore dependencies.
type Config struct {
	Path     string
	Notifier domain.PickupNotifier // optional; receives a change per write
	Now      func() time.Time
	Logger   *slog.Logger
}

func Open(cfg Config) (*SQLiteStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, cfg.Logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{
		db:       db,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		notifier: cfg.Notifier,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// SchemaVersion reports the applied schema version and the latest one this
// build knows about.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (applied, latest int, err error) {
	applied, err = readSchemaVersion(ctx, s.db)
	return applied, schemaVersion, err
}

// JournalMode reports the SQLite journal mode of the open database.
func (s *SQLiteStore) JournalMode(ctx context.Context) (string, error) {
	var mode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return "", err
	}
	return mode, nil
}

// QueryRecords runs a filtered read against an allow-listed table.
func (s *SQLiteStore) QueryRecords(ctx context.Context, q domain.Query) ([]domain.Pickup, error) {
	if q.Table != domain.TablePickups {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, q.Table)
	}

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(pickupSelect)

	for i, f := range q.Filters {
		if !pickupColumns[f.Column] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, f.Column)
		}
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		clause, vals, err := filterSQL(f)
		if err != nil {
			return nil, err
		}
		sb.WriteString(clause)
		args = append(args, vals...)
	}

	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			if !pickupColumns[o.Column] {
				return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, o.Column)
			}
			dir := "ASC"
			if o.Descending {
				dir = "DESC"
			}
			parts[i] = o.Column + " " + dir
		}
		sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Table, err)
	}
	defer rows.Close()

	var out []domain.Pickup
	for rows.Next() {
		p, err := scanPickup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func filterSQL(f domain.Filter) (string, []any, error) {
	switch f.Op {
	case domain.OpEq:
		return f.Column + " = ?", []any{f.Value}, nil
	case domain.OpGte:
		return f.Column + " >= ?", []any{f.Value}, nil
	case domain.OpLt:
		return f.Column + " < ?", []any{f.Value}, nil
	case domain.OpIn:
		vals := inValues(f.Value)
		if len(vals) == 0 {
			return "1 = 0", nil, nil
		}
		return f.Column + " IN (" + strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",") + ")", vals, nil
	}
	return "", nil, fmt.Errorf("store: unsupported filter op %q", f.Op)
}

func inValues(v any) []any {
	switch vs := v.(type) {
	case []string:
		out := make([]any, len(vs))
		for i, s := range vs {
			out[i] = s
		}
		return out
	case []domain.PickupStatus:
		out := make([]any, len(vs))
		for i, s := range vs {
			out[i] = string(s)
		}
		return out
	case []any:
		return vs
	}
	return []any{v}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPickup(r scanner) (domain.Pickup, error) {
	var p domain.Pickup
	var status string
	if err := r.Scan(&p.ID, &p.UserID, &p.Date, &p.TimeWindow, &p.Address, &p.ServiceType, &status, &p.Notes, &p.CreatedAt); err != nil {
		return p, fmt.Errorf("scan pickup: %w", err)
	}
	p.Status = domain.PickupStatus(status)
	return p, nil
}

// InsertPickup validates and stores a new pickup. Empty ID and Status are
// filled in; new pickups start as scheduled.
func (s *SQLiteStore) InsertPickup(ctx context.Context, p domain.Pickup) (domain.Pickup, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.StatusScheduled
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	if err := s.validate.Struct(p); err != nil {
		return domain.Pickup{}, fmt.Errorf("invalid pickup: %w", err)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pickups (id, user_id, pickup_date, pickup_time, address, service_type, status, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Date, p.TimeWindow, p.Address, p.ServiceType, string(p.Status), p.Notes, p.CreatedAt,
	)
	if err != nil {
		return domain.Pickup{}, fmt.Errorf("insert pickup: %w", err)
	}
	s.logger.Info("pickup scheduled", "id", p.ID, "user", p.UserID, "date", p.Date)
	s.publish(domain.PickupChange{UserID: p.UserID, PickupID: p.ID, Kind: "insert"})
	return p, nil
}

// UpdatePickupStatus moves a pickup to a new status.
func (s *SQLiteStore) UpdatePickupStatus(ctx context.Context, id string, status domain.PickupStatus) error {
	switch status {
	case domain.StatusScheduled, domain.StatusInProgress, domain.StatusCompleted, domain.StatusCancelled:
	default:
		return fmt.Errorf("store: unknown pickup status %q", status)
	}

	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM pickups WHERE id = ?`, id).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("pickup %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup pickup: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE pickups SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now().UTC(), id,
	); err != nil {
		return fmt.Errorf("update pickup: %w", err)
	}
	s.logger.Info("pickup status changed", "id", id, "status", status)
	s.publish(domain.PickupChange{UserID: userID, PickupID: id, Kind: "update"})
	return nil
}

// GetPickup returns one pickup by id.
func (s *SQLiteStore) GetPickup(ctx context.Context, id string) (domain.Pickup, error) {
	p, err := scanPickup(s.db.QueryRowContext(ctx, pickupSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("pickup %s: %w", id, ErrNotFound)
	}
	return p, err
}

// ListPickups returns a user's pickups, newest date first.
func (s *SQLiteStore) ListPickups(ctx context.Context, userID string, limit int) ([]domain.Pickup, error) {
	return s.QueryRecords(ctx, domain.Query{
		Table:   domain.TablePickups,
		Filters: []domain.Filter{{Column: "user_id", Op: domain.OpEq, Value: userID}},
		Order:   []domain.Order{{Column: "pickup_date", Descending: true}, {Column: "pickup_time", Descending: true}},
		Limit:   limit,
	})
}

func (s *SQLiteStore) publish(c domain.PickupChange) {
	metrics.PickupsChanged.Inc()
	if s.notifier != nil {
		s.notifier.PublishPickupChange(c)
	}
}

// CreateUser registers a user and returns the bearer token that identifies
// them. Only a hash of the token is stored.
func (s *SQLiteStore) CreateUser(ctx context.Context, email, fullName string) (domain.Identity, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := s.validate.Var(email, "required,email"); err != nil {
		return domain.Identity{}, "", fmt.Errorf("invalid email %q: %w", email, err)
	}

	token, err := newToken()
	if err != nil {
		return domain.Identity{}, "", err
	}
	id := domain.Identity{UserID: uuid.NewString(), Email: email, FullName: strings.TrimSpace(fullName)}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, full_name, token_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		id.UserID, id.Email, id.FullName, hashToken(token), s.now().UTC(),
	); err != nil {
		return domain.Identity{}, "", fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user created", "id", id.UserID, "email", id.Email)
	return id, token, nil
}

// UserByToken resolves a bearer token.
func (s *SQLiteStore) UserByToken(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var id domain.Identity
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, COALESCE(full_name, '') FROM users WHERE token_hash = ?`, hashToken(token),
	).Scan(&id.UserID, &id.Email, &id.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &id, nil
}

// UserByEmail finds a user by email.
func (s *SQLiteStore) UserByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	var id domain.Identity
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, COALESCE(full_name, '') FROM users WHERE email = ?`, strings.TrimSpace(strings.ToLower(email)),
	).Scan(&id.UserID, &id.Email, &id.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &id, nil
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Snapshot writes a consistent copy of the database to path, which must not
// exist yet. Safe while the store is serving.
func (s *SQLiteStore) Snapshot(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("snapshot target %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return "gc_" + hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
