package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roamtrip/roampack/internal/model"
)

// splitOSMID parses "osm:<type>:<id>". Items from other providers (mapbox,
// synthetic) are not persisted in the place library.
func splitOSMID(id string) (string, int64, bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] != "osm" {
		return "", 0, false
	}
	n, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, false
	}
	switch parts[1] {
	case "node", "way", "relation":
		return parts[1], n, true
	}
	return "", 0, false
}

// UpsertPlaces merges fetched items into the library. Existing names survive
// an incoming blank name; last_seen always advances. Returns the number of
// OSM-backed rows written.
func (s *Store) UpsertPlaces(ctx context.Context, items []model.PlaceItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: upsert places: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO places_items
		(osm_type, osm_id, lat, lng, name, category, tags_json, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (osm_type, osm_id) DO UPDATE SET
			lat = excluded.lat,
			lng = excluded.lng,
			name = COALESCE(NULLIF(excluded.name, ''), places_items.name),
			category = excluded.category,
			tags_json = excluded.tags_json,
			last_seen = excluded.last_seen`)
	if err != nil {
		return 0, fmt.Errorf("store: upsert places: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	n := 0
	for _, it := range items {
		osmType, osmID, ok := splitOSMID(it.ID)
		if !ok {
			continue
		}
		var tags []byte
		if len(it.Extra) > 0 {
			tags, _ = json.Marshal(it.Extra)
		}
		if _, err := stmt.ExecContext(ctx, osmType, osmID, it.Lat, it.Lng, it.Name,
			string(it.Category), string(tags), now, now); err != nil {
			return n, fmt.Errorf("store: upsert place %s: %w", it.ID, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("store: upsert places: %w", err)
	}
	return n, nil
}

func scanPlaceRows(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]model.PlaceItem, error) {
	var out []model.PlaceItem
	for rows.Next() {
		var (
			osmType  string
			osmID    int64
			lat, lng float64
			name     *string
			category string
			tags     *string
		)
		if err := rows.Scan(&osmType, &osmID, &lat, &lng, &name, &category, &tags); err != nil {
			return nil, fmt.Errorf("store: scan place: %w", err)
		}
		it := model.PlaceItem{
			ID:       fmt.Sprintf("osm:%s:%d", osmType, osmID),
			Lat:      lat,
			Lng:      lng,
			Category: model.Category(category),
		}
		if name != nil {
			it.Name = *name
		}
		if tags != nil && *tags != "" {
			var extra map[string]any
			if err := json.Unmarshal([]byte(*tags), &extra); err == nil {
				it.Extra = extra
			}
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func categoryFilter(categories []model.Category, args []any) (string, []any) {
	if len(categories) == 0 {
		return "", args
	}
	ph := make([]string, len(categories))
	for i, c := range categories {
		ph[i] = "?"
		args = append(args, string(c))
	}
	return " AND category IN (" + strings.Join(ph, ",") + ")", args
}

// QueryPlacesBBox reads the library inside a bbox, optionally narrowed to a
// category set, capped at limit.
func (s *Store) QueryPlacesBBox(ctx context.Context, bbox model.BBox, categories []model.Category, limit int) ([]model.PlaceItem, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := `SELECT osm_type, osm_id, lat, lng, name, category, tags_json FROM places_items
		WHERE lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`
	args := []any{bbox.MinLat(), bbox.MaxLat(), bbox.MinLng(), bbox.MaxLng()}
	cond, args := categoryFilter(categories, args)
	q += cond + ` ORDER BY osm_type, osm_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query places bbox: %w", err)
	}
	defer rows.Close()
	return scanPlaceRows(rows)
}

// QueryPlacesNear reads the library around a point, nearest first. The SQL
// prefilter is a degree window; exact distances are computed in Go.
func (s *Store) QueryPlacesNear(ctx context.Context, center model.LatLng, radiusM float64, categories []model.Category, limit int) ([]model.PlaceItem, error) {
	if limit <= 0 {
		limit = 1000
	}
	dLat := radiusM / 111320.0
	cos := math.Cos(center.Lat * math.Pi / 180)
	if cos < 0.2 {
		cos = 0.2
	}
	dLng := radiusM / (111320.0 * cos)
	bbox := model.NewBBox(center.Lng-dLng, center.Lat-dLat, center.Lng+dLng, center.Lat+dLat)

	items, err := s.QueryPlacesBBox(ctx, bbox, categories, limit*4)
	if err != nil {
		return nil, err
	}
	type scored struct {
		item model.PlaceItem
		d    float64
	}
	var kept []scored
	for _, it := range items {
		d := model.HaversineM(center, model.LatLng{Lat: it.Lat, Lng: it.Lng})
		if d <= radiusM {
			kept = append(kept, scored{it, d})
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].d < kept[j].d })
	if len(kept) > limit {
		kept = kept[:limit]
	}
	out := make([]model.PlaceItem, len(kept))
	for i, k := range kept {
		out[i] = k.item
	}
	return out, nil
}

// SearchPlacesByName matches names case-insensitively, substring style.
func (s *Store) SearchPlacesByName(ctx context.Context, text string, categories []model.Category, limit int) ([]model.PlaceItem, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT osm_type, osm_id, lat, lng, name, category, tags_json FROM places_items
		WHERE name LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(text) + "%"}
	cond, args := categoryFilter(categories, args)
	q += cond + ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search places: %w", err)
	}
	defer rows.Close()
	return scanPlaceRows(rows)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// TileFresh reports whether a tile was fetched within ttl covering at least
// the requested categories.
func (s *Store) TileFresh(ctx context.Context, tileKey string, categories []model.Category, ttl time.Duration) (bool, error) {
	var catsJSON, fetched string
	err := s.db.QueryRowContext(ctx,
		`SELECT categories_json, last_fetched FROM places_tile_state WHERE tile_key = ?`, tileKey).
		Scan(&catsJSON, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: tile state %s: %w", tileKey, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, fetched)
	if err != nil || time.Since(ts) > ttl {
		return false, nil
	}
	var have []string
	if err := json.Unmarshal([]byte(catsJSON), &have); err != nil {
		return false, nil
	}
	haveSet := make(map[string]bool, len(have))
	for _, c := range have {
		haveSet[c] = true
	}
	for _, c := range categories {
		if !haveSet[string(c)] {
			return false, nil
		}
	}
	return true, nil
}

// MarkTileFetched records a completed tile fetch, merging the category set
// with whatever was already covered.
func (s *Store) MarkTileFetched(ctx context.Context, tileKey string, bbox model.BBox, categories []model.Category, itemCount int) error {
	merged := make(map[string]bool, len(categories))
	for _, c := range categories {
		merged[string(c)] = true
	}
	var prevJSON string
	if err := s.db.QueryRowContext(ctx,
		`SELECT categories_json FROM places_tile_state WHERE tile_key = ?`, tileKey).
		Scan(&prevJSON); err == nil {
		var prev []string
		if json.Unmarshal([]byte(prevJSON), &prev) == nil {
			for _, c := range prev {
				merged[c] = true
			}
		}
	}
	cats := make([]string, 0, len(merged))
	for c := range merged {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	catsJSON, _ := json.Marshal(cats)
	bboxJSON, _ := json.Marshal([]float64{bbox[0], bbox[1], bbox[2], bbox[3]})

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO places_tile_state (tile_key, bbox, categories_json, item_count, last_fetched)
		 VALUES (?, ?, ?, ?, ?)`,
		tileKey, string(bboxJSON), string(catsJSON), itemCount, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: mark tile %s: %w", tileKey, err)
	}
	return nil
}

// PlaceCount is used by health reporting.
func (s *Store) PlaceCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM places_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: place count: %w", err)
	}
	return n, nil
}
