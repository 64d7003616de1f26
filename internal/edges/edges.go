// Package edges is the read-only spatial interface over the road network.
// Two back-ends sit behind the same contract: an embedded SQLite file with an
// R-tree index for local work, and Postgres+PostGIS for hosted data.
package edges

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Row is one road edge returned by a bbox query. Flag columns arrive as 0/1
// integers from both back-ends and are surfaced as bools.
type Row struct {
	ID       int64
	FromID   int64
	ToID     int64
	FromLat  float64
	FromLng  float64
	ToLat    float64
	ToLng    float64
	DistM    float64
	CostS    float64
	Toll     bool
	Ferry    bool
	Unsealed bool
	Highway  string
	Name     string
	OSMWayID int64
}

type Store interface {
	// QueryBBox returns edges intersecting the box, capped at maxEdges.
	QueryBBox(ctx context.Context, minLng, maxLng, minLat, maxLat float64, maxEdges int) ([]Row, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Open selects the back-end: a database URL wins over a file path.
func Open(ctx context.Context, databaseURL, sqlitePath string, log zerolog.Logger) (Store, error) {
	if databaseURL != "" {
		return openPostgres(ctx, databaseURL, log)
	}
	if sqlitePath != "" {
		return openSQLite(ctx, sqlitePath, log)
	}
	return nil, errors.New("edges: no back-end configured (set EDGES_DATABASE_URL or EDGES_DB_PATH)")
}
