package edges

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// sqliteStore reads an edges file with an optional edges_rtree virtual
// table. Without the R-tree it falls back to an endpoint range scan, which
// is slow but correct.
type sqliteStore struct {
	db       *sql.DB
	log      zerolog.Logger
	hasRTree bool
	optional map[string]bool // highway, name, osm_way_id are not always built
}

func openSQLite(ctx context.Context, path string, log zerolog.Logger) (Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("edges: open sqlite %s: %w", path, err)
	}
	s := &sqliteStore{db: db, log: log, optional: map[string]bool{}}

	if _, err := db.ExecContext(ctx, "SELECT 1 FROM edges LIMIT 1"); err != nil {
		db.Close()
		return nil, fmt.Errorf("edges: %s has no edges table: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "SELECT 1 FROM edges_rtree LIMIT 1"); err == nil {
		s.hasRTree = true
	}
	rows, err := db.QueryContext(ctx, "PRAGMA table_info(edges)")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var cid int
			var name, typ string
			var notnull, pk int
			var dflt any
			if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err == nil {
				switch name {
				case "highway", "name", "osm_way_id":
					s.optional[name] = true
				}
			}
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("path", path).Int64("rows", n).Bool("rtree", s.hasRTree).
		Msg("edges sqlite opened")
	return s, nil
}

func (s *sqliteStore) selectCols() string {
	cols := "e.rowid, e.from_id, e.to_id, e.from_lat, e.from_lng, e.to_lat, e.to_lng, e.dist_m, e.cost_s, e.toll, e.ferry, e.unsealed"
	for _, c := range []string{"highway", "name", "osm_way_id"} {
		if s.optional[c] {
			cols += ", e." + c
		} else {
			cols += ", NULL"
		}
	}
	return cols
}

func (s *sqliteStore) QueryBBox(ctx context.Context, minLng, maxLng, minLat, maxLat float64, maxEdges int) ([]Row, error) {
	var (
		query string
		args  []any
	)
	if s.hasRTree {
		query = `SELECT ` + s.selectCols() + `
			FROM edges e
			JOIN edges_rtree r ON e.rowid = r.id
			WHERE r.min_lng <= ? AND r.max_lng >= ?
			  AND r.min_lat <= ? AND r.max_lat >= ?
			LIMIT ?`
		args = []any{maxLng, minLng, maxLat, minLat, maxEdges}
	} else {
		query = `SELECT ` + s.selectCols() + `
			FROM edges e
			WHERE (e.from_lng BETWEEN ? AND ? AND e.from_lat BETWEEN ? AND ?)
			   OR (e.to_lng   BETWEEN ? AND ? AND e.to_lat   BETWEEN ? AND ?)
			LIMIT ?`
		args = []any{minLng, maxLng, minLat, maxLat, minLng, maxLng, minLat, maxLat, maxEdges}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("edges: sqlite bbox query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r                     Row
			toll, ferry, unsealed sql.NullInt64
			highway, name         sql.NullString
			osmWayID              sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &r.FromLat, &r.FromLng,
			&r.ToLat, &r.ToLng, &r.DistM, &r.CostS,
			&toll, &ferry, &unsealed, &highway, &name, &osmWayID); err != nil {
			return nil, fmt.Errorf("edges: scan: %w", err)
		}
		r.Toll = toll.Int64 != 0
		r.Ferry = ferry.Int64 != 0
		r.Unsealed = unsealed.Int64 != 0
		r.Highway = highway.String
		r.Name = name.String
		r.OSMWayID = osmWayID.Int64
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM edges").Scan(&n); err != nil {
		return 0, fmt.Errorf("edges: count: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }
