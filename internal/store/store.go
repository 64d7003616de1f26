// Package store is the durable cache under every pack kind: SQLite tables
// keyed by content key, plus the place library and its tile-fetch ledger.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

type Store struct {
	db   *sql.DB
	log  zerolog.Logger
	sink PackSink
}

// PackSink is told about every pack row the store writes. Implementations
// must not block; the store calls them inline on the write path.
type PackSink interface {
	PackStored(kind, key string, bytes int)
}

// SetPackSink installs the write notifier. Call it once, before the store
// starts taking traffic.
func (s *Store) SetPackSink(sink PackSink) { s.sink = sink }

// Open creates (or opens) the cache database and applies the schema. WAL and
// NORMAL sync are set through the DSN so every connection gets them.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single writer keeps us clear of SQLITE_BUSY under concurrent builds.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

var packTables = []struct{ table, keyCol string }{
	{"nav_packs", "route_key"},
	{"corridor_packs", "corridor_key"},
	{"places_packs", "places_key"},
	{"traffic_packs", "traffic_key"},
	{"hazard_packs", "hazards_key"},
}

var packKinds = map[string]string{
	"nav_packs":      "nav",
	"corridor_packs": "corridor",
	"places_packs":   "places",
	"traffic_packs":  "traffic",
	"hazard_packs":   "hazards",
}

func (s *Store) migrate(ctx context.Context) error {
	for _, pt := range packTables {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s TEXT PRIMARY KEY,
			pack_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`, pt.table, pt.keyCol)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create %s: %w", pt.table, err)
		}
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS manifests (
			plan_id TEXT PRIMARY KEY,
			manifest_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS places_items (
			osm_type TEXT NOT NULL,
			osm_id INTEGER NOT NULL,
			lat REAL NOT NULL,
			lng REAL NOT NULL,
			name TEXT,
			category TEXT NOT NULL,
			tags_json TEXT,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			PRIMARY KEY (osm_type, osm_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_places_items_lat_lng ON places_items (lat, lng)`,
		`CREATE INDEX IF NOT EXISTS idx_places_items_category ON places_items (category)`,
		`CREATE TABLE IF NOT EXISTS places_tile_state (
			tile_key TEXT PRIMARY KEY,
			bbox TEXT NOT NULL,
			categories_json TEXT NOT NULL,
			item_count INTEGER NOT NULL,
			last_fetched TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// StoredPack is a raw pack row. Callers unmarshal JSON themselves; CreatedAt
// drives overlay freshness checks.
type StoredPack struct {
	Key       string
	JSON      []byte
	CreatedAt time.Time
}

func (s *Store) putPack(ctx context.Context, table, keyCol, key string, packJSON []byte) error {
	stmt := fmt.Sprintf(`INSERT OR REPLACE INTO %s (%s, pack_json, created_at) VALUES (?, ?, ?)`, table, keyCol)
	if _, err := s.db.ExecContext(ctx, stmt, key, string(packJSON), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("store: put %s %s: %w", table, key, err)
	}
	if s.sink != nil {
		s.sink.PackStored(packKinds[table], key, len(packJSON))
	}
	return nil
}

func (s *Store) getPack(ctx context.Context, table, keyCol, key string) (*StoredPack, error) {
	stmt := fmt.Sprintf(`SELECT pack_json, created_at FROM %s WHERE %s = ?`, table, keyCol)
	var raw, created string
	err := s.db.QueryRowContext(ctx, stmt, key).Scan(&raw, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s %s: %w", table, key, err)
	}
	ts, _ := time.Parse(time.RFC3339Nano, created)
	return &StoredPack{Key: key, JSON: []byte(raw), CreatedAt: ts}, nil
}

func (s *Store) packSize(ctx context.Context, table, keyCol, key string) (int64, bool, error) {
	stmt := fmt.Sprintf(`SELECT length(pack_json) FROM %s WHERE %s = ?`, table, keyCol)
	var n int64
	err := s.db.QueryRowContext(ctx, stmt, key).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: size %s %s: %w", table, key, err)
	}
	return n, true, nil
}

func (s *Store) PutNavPack(ctx context.Context, key string, packJSON []byte) error {
	return s.putPack(ctx, "nav_packs", "route_key", key, packJSON)
}

func (s *Store) GetNavPack(ctx context.Context, key string) (*StoredPack, error) {
	return s.getPack(ctx, "nav_packs", "route_key", key)
}

func (s *Store) NavPackSize(ctx context.Context, key string) (int64, bool, error) {
	return s.packSize(ctx, "nav_packs", "route_key", key)
}

func (s *Store) PutCorridorPack(ctx context.Context, key string, packJSON []byte) error {
	return s.putPack(ctx, "corridor_packs", "corridor_key", key, packJSON)
}

func (s *Store) GetCorridorPack(ctx context.Context, key string) (*StoredPack, error) {
	return s.getPack(ctx, "corridor_packs", "corridor_key", key)
}

func (s *Store) CorridorPackSize(ctx context.Context, key string) (int64, bool, error) {
	return s.packSize(ctx, "corridor_packs", "corridor_key", key)
}

func (s *Store) PutPlacesPack(ctx context.Context, key string, packJSON []byte) error {
	return s.putPack(ctx, "places_packs", "places_key", key, packJSON)
}

func (s *Store) GetPlacesPack(ctx context.Context, key string) (*StoredPack, error) {
	return s.getPack(ctx, "places_packs", "places_key", key)
}

func (s *Store) PlacesPackSize(ctx context.Context, key string) (int64, bool, error) {
	return s.packSize(ctx, "places_packs", "places_key", key)
}

func (s *Store) PutTrafficPack(ctx context.Context, key string, packJSON []byte) error {
	return s.putPack(ctx, "traffic_packs", "traffic_key", key, packJSON)
}

func (s *Store) GetTrafficPack(ctx context.Context, key string) (*StoredPack, error) {
	return s.getPack(ctx, "traffic_packs", "traffic_key", key)
}

func (s *Store) TrafficPackSize(ctx context.Context, key string) (int64, bool, error) {
	return s.packSize(ctx, "traffic_packs", "traffic_key", key)
}

func (s *Store) PutHazardsPack(ctx context.Context, key string, packJSON []byte) error {
	return s.putPack(ctx, "hazard_packs", "hazards_key", key, packJSON)
}

func (s *Store) GetHazardsPack(ctx context.Context, key string) (*StoredPack, error) {
	return s.getPack(ctx, "hazard_packs", "hazards_key", key)
}

func (s *Store) HazardsPackSize(ctx context.Context, key string) (int64, bool, error) {
	return s.packSize(ctx, "hazard_packs", "hazards_key", key)
}

func (s *Store) PutManifest(ctx context.Context, planID string, manifestJSON []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO manifests (plan_id, manifest_json, created_at) VALUES (?, ?, ?)`,
		planID, string(manifestJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: put manifest %s: %w", planID, err)
	}
	if s.sink != nil {
		s.sink.PackStored("manifest", planID, len(manifestJSON))
	}
	return nil
}

func (s *Store) GetManifest(ctx context.Context, planID string) (*StoredPack, error) {
	var raw, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT manifest_json, created_at FROM manifests WHERE plan_id = ?`, planID).Scan(&raw, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get manifest %s: %w", planID, err)
	}
	ts, _ := time.Parse(time.RFC3339Nano, created)
	return &StoredPack{Key: planID, JSON: []byte(raw), CreatedAt: ts}, nil
}
