package edges

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// postgresStore queries a PostGIS-indexed edges table. The && envelope
// overlap rides the GIST index.
type postgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

const pgSelectCols = `id, from_id, to_id,
	from_lat, from_lng, to_lat, to_lng,
	dist_m, cost_s,
	toll, ferry, unsealed,
	highway, name, osm_way_id`

func openPostgres(ctx context.Context, databaseURL string, log zerolog.Logger) (Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("edges: parse database url: %w", err)
	}
	cfg.MinConns = 1
	cfg.MaxConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("edges: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("edges: ping postgres: %w", err)
	}

	var postgisVer string
	if err := pool.QueryRow(ctx, "SELECT PostGIS_Version()").Scan(&postgisVer); err != nil {
		pool.Close()
		return nil, fmt.Errorf("edges: postgis missing: %w", err)
	}
	s := &postgresStore{pool: pool, log: log}
	n, err := s.Count(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Str("postgis", postgisVer).Int64("rows", n).Msg("edges postgres connected")
	return s, nil
}

func (s *postgresStore) QueryBBox(ctx context.Context, minLng, maxLng, minLat, maxLat float64, maxEdges int) ([]Row, error) {
	// ST_MakeEnvelope takes (xmin, ymin, xmax, ymax) = (minLng, minLat, maxLng, maxLat).
	rows, err := s.pool.Query(ctx, `SELECT `+pgSelectCols+`
		FROM edges
		WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		LIMIT $5`,
		minLng, minLat, maxLng, maxLat, maxEdges)
	if err != nil {
		return nil, fmt.Errorf("edges: postgres bbox query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r                     Row
			toll, ferry, unsealed int
			highway, name         *string
			osmWayID              *int64
		)
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &r.FromLat, &r.FromLng,
			&r.ToLat, &r.ToLng, &r.DistM, &r.CostS,
			&toll, &ferry, &unsealed, &highway, &name, &osmWayID); err != nil {
			return nil, fmt.Errorf("edges: scan: %w", err)
		}
		r.Toll = toll != 0
		r.Ferry = ferry != 0
		r.Unsealed = unsealed != 0
		if highway != nil {
			r.Highway = *highway
		}
		if name != nil {
			r.Name = *name
		}
		if osmWayID != nil {
			r.OSMWayID = *osmWayID
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("edges: iterate: %w", err)
	}
	return out, nil
}

func (s *postgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM edges").Scan(&n); err != nil {
		return 0, fmt.Errorf("edges: count: %w", err)
	}
	return n, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
