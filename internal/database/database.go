package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"rezerv/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type DB struct {
	*sql.DB
	mu        sync.RWMutex
	resources map[int64]models.Resource

	// Per-resource creation locks: the conflict check and the insert must
	// execute as one atomic unit per resource, while reservations on
	// different resources never contend.
	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		// Создаем директорию для БД, если её нет
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	if path == ":memory:" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Каждое соединение с :memory: получает свою БД
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{
		DB:        db,
		resources: make(map[int64]models.Resource),
		locks:     make(map[int64]*sync.Mutex),
		logger:    logger,
	}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Таблица ресурсов (номера и столики)
		`CREATE TABLE IF NOT EXISTS resources (
            id INTEGER PRIMARY KEY,
            owner_id INTEGER NOT NULL,
            owner_kind TEXT NOT NULL,
            kind TEXT NOT NULL,
            name TEXT NOT NULL,
            capacity INTEGER NOT NULL,
            rate REAL NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		// Таблица бронирований
		`CREATE TABLE IF NOT EXISTS reservations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            reference TEXT NOT NULL UNIQUE,
            resource_id INTEGER NOT NULL,
            customer_id INTEGER NOT NULL,
            start_at INTEGER NOT NULL,
            end_at INTEGER NOT NULL,
            guest_count INTEGER NOT NULL,
            guest_name TEXT NOT NULL,
            guest_phone TEXT NOT NULL,
            comment TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            payment_status TEXT NOT NULL DEFAULT 'pending',
            total_amount REAL NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1
        )`,

		`CREATE INDEX IF NOT EXISTS idx_resources_owner ON resources(owner_kind, owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_resource_id ON reservations(resource_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_customer_id ON reservations(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_start_at ON reservations(start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_reference ON reservations(reference)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// SyncResources upserts the catalog and rebuilds the in-memory cache.
// Called at startup with resources from config.
func (db *DB) SyncResources(ctx context.Context, resources []models.Resource) error {
	query := `INSERT INTO resources (id, owner_id, owner_kind, kind, name, capacity, rate, is_active, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  owner_id = excluded.owner_id,
                  owner_kind = excluded.owner_kind,
                  kind = excluded.kind,
                  name = excluded.name,
                  capacity = excluded.capacity,
                  rate = excluded.rate,
                  is_active = excluded.is_active,
                  updated_at = excluded.updated_at`

	now := time.Now()
	for i := range resources {
		r := &resources[i]
		if _, err := db.ExecContext(ctx, query,
			r.ID, r.OwnerID, r.OwnerKind, r.Kind, r.Name,
			r.Capacity, r.Rate, r.IsActive, now, now,
		); err != nil {
			return fmt.Errorf("failed to sync resource %d: %w", r.ID, err)
		}
	}

	db.mu.Lock()
	db.resources = make(map[int64]models.Resource, len(resources))
	for _, r := range resources {
		db.resources[r.ID] = r
	}
	db.mu.Unlock()

	return nil
}

// GetResource returns a resource from the cache, falling back to the table.
func (db *DB) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	db.mu.RLock()
	r, ok := db.resources[id]
	db.mu.RUnlock()
	if ok {
		return &r, nil
	}

	query := `SELECT id, owner_id, owner_kind, kind, name, capacity, rate, is_active, created_at, updated_at
              FROM resources WHERE id = ?`
	var res models.Resource
	err := db.QueryRowContext(ctx, query, id).Scan(
		&res.ID, &res.OwnerID, &res.OwnerKind, &res.Kind, &res.Name,
		&res.Capacity, &res.Rate, &res.IsActive, &res.CreatedAt, &res.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resource %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}

	db.mu.Lock()
	db.resources[res.ID] = res
	db.mu.Unlock()

	return &res, nil
}

// GetResources returns the cached catalog sorted by id.
func (db *DB) GetResources() []models.Resource {
	db.mu.RLock()
	out := make([]models.Resource, 0, len(db.resources))
	for _, r := range db.resources {
		out = append(out, r)
	}
	db.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// resourceLock returns the creation mutex for one resource.
func (db *DB) resourceLock(resourceID int64) *sync.Mutex {
	db.locksMu.Lock()
	defer db.locksMu.Unlock()
	l, ok := db.locks[resourceID]
	if !ok {
		l = &sync.Mutex{}
		db.locks[resourceID] = l
	}
	return l
}

func (db *DB) Close() error {
	return db.DB.Close()
}
