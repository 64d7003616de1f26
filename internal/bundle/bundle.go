// Package bundle assembles the offline manifest for a plan and packages
// every referenced pack into one downloadable archive.
package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"github.com/roamtrip/roampack/internal/apperr"
	"github.com/roamtrip/roampack/internal/logger"
	"github.com/roamtrip/roampack/internal/model"
	"github.com/roamtrip/roampack/internal/store"
)

type Service struct {
	store *store.Store
	log   zerolog.Logger
}

func New(st *store.Store, log zerolog.Logger) *Service {
	return &Service{store: st, log: log.With().Str("component", "bundle").Logger()}
}

// AssetRef names one bundle constituent: its content key and the state the
// build left it in. A zero AssetRef reads as missing.
type AssetRef struct {
	Key    string
	Status model.AssetStatus
}

// Ready marks a built asset.
func Ready(key string) AssetRef { return AssetRef{Key: key, Status: model.AssetReady} }

// Failed marks an asset whose build was attempted and did not complete.
func Failed(key string) AssetRef { return AssetRef{Key: key, Status: model.AssetError} }

type ManifestInput struct {
	PlanID   string
	RouteKey string
	Styles   []string
	Navpack  AssetRef
	Corridor AssetRef
	Places   AssetRef
	Traffic  AssetRef
	Hazards  AssetRef
}

type sizer func(ctx context.Context, key string) (int64, bool, error)

func (s *Service) assetFor(ctx context.Context, ref AssetRef, size sizer) model.ManifestAsset {
	asset := model.ManifestAsset{Key: ref.Key, Status: ref.Status}
	if asset.Status == "" {
		asset.Status = model.AssetMissing
	}
	if asset.Status != model.AssetReady || ref.Key == "" {
		return asset
	}
	n, ok, err := size(ctx, ref.Key)
	if err != nil || !ok {
		// The key was handed to us as ready; a vanished row downgrades the
		// asset rather than failing the whole manifest.
		s.log.Warn().Err(err).Str("key", ref.Key).Msg("ready asset has no stored bytes")
		asset.Status = model.AssetError
		return asset
	}
	asset.Bytes = n
	return asset
}

// BuildManifest sums the stored byte lengths of every ready asset, persists
// the manifest under the plan id, and returns it. Rebuilding with the same
// inputs yields an equivalent manifest apart from created_at.
func (s *Service) BuildManifest(ctx context.Context, in ManifestInput) (*model.OfflineBundleManifest, error) {
	if in.PlanID == "" {
		return nil, apperr.BadRequest("plan_id required")
	}
	if in.RouteKey == "" {
		return nil, apperr.BadRequest("route_key required")
	}
	styles := in.Styles
	if styles == nil {
		styles = []string{}
	}

	m := &model.OfflineBundleManifest{
		PlanID:    in.PlanID,
		RouteKey:  in.RouteKey,
		Styles:    styles,
		Navpack:   s.assetFor(ctx, in.Navpack, s.store.NavPackSize),
		Corridor:  s.assetFor(ctx, in.Corridor, s.store.CorridorPackSize),
		Places:    s.assetFor(ctx, in.Places, s.store.PlacesPackSize),
		Traffic:   s.assetFor(ctx, in.Traffic, s.store.TrafficPackSize),
		Hazards:   s.assetFor(ctx, in.Hazards, s.store.HazardsPackSize),
		CreatedAt: time.Now().UTC(),
	}
	m.BytesTotal = m.Navpack.Bytes + m.Corridor.Bytes + m.Places.Bytes + m.Traffic.Bytes + m.Hazards.Bytes

	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("bundle: encode manifest: %w", err)
	}
	if err := s.store.PutManifest(ctx, in.PlanID, body); err != nil {
		return nil, err
	}

	logger.FromContext(ctx, &s.log).Info().
		Str("plan_id", in.PlanID).
		Str("route_key", in.RouteKey).
		Int64("bytes_total", m.BytesTotal).
		Msg("manifest built")
	return m, nil
}

// Manifest returns the stored manifest for a plan.
func (s *Service) Manifest(ctx context.Context, planID string) (*model.OfflineBundleManifest, error) {
	stored, err := s.store.GetManifest(ctx, planID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, apperr.NotFound("bundle_missing: no manifest for plan_id " + planID)
	}
	var m model.OfflineBundleManifest
	if err := json.Unmarshal(stored.JSON, &m); err != nil {
		return nil, fmt.Errorf("bundle: decode manifest %s: %w", planID, err)
	}
	return &m, nil
}

// ZipResult is a finished archive plus the raw size of every member that
// went in, so callers can report compression and per-asset weight.
type ZipResult struct {
	PlanID        string
	ZipBytes      []byte
	BytesZip      int
	BytesManifest int
	BytesNavpack  int
	BytesCorridor int
	BytesPlaces   int
	BytesTraffic  int
	BytesHazards  int
}

type packGetter func(ctx context.Context, key string) (*store.StoredPack, error)

// member fetches one referenced pack body. Required members and any member
// the manifest references must exist; a ready key with no stored row is a
// hard not_found naming the asset.
func (s *Service) member(ctx context.Context, name string, ref model.ManifestAsset, required bool, get packGetter) ([]byte, error) {
	if ref.Key == "" || ref.Status != model.AssetReady {
		if required {
			return nil, apperr.NotFound(name + "_missing: manifest has no ready " + name)
		}
		return nil, nil
	}
	stored, err := get(ctx, ref.Key)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, apperr.NotFound(fmt.Sprintf("%s_missing: no %s cached for key %s", name, name, ref.Key))
	}
	return stored.JSON, nil
}

// BuildZip packages everything the manifest references into a Deflate zip:
// manifest.json, navpack.json and corridor.json always, places/traffic/
// hazards when present.
func (s *Service) BuildZip(ctx context.Context, planID string) (*ZipResult, error) {
	m, err := s.Manifest(ctx, planID)
	if err != nil {
		return nil, err
	}

	navRef := m.Navpack
	if navRef.Key == "" {
		navRef.Key = m.RouteKey
	}
	bNav, err := s.member(ctx, "navpack", navRef, true, s.store.GetNavPack)
	if err != nil {
		return nil, err
	}
	bCorr, err := s.member(ctx, "corridor", m.Corridor, true, s.store.GetCorridorPack)
	if err != nil {
		return nil, err
	}
	bPlaces, err := s.member(ctx, "places", m.Places, false, s.store.GetPlacesPack)
	if err != nil {
		return nil, err
	}
	bTraffic, err := s.member(ctx, "traffic", m.Traffic, false, s.store.GetTrafficPack)
	if err != nil {
		return nil, err
	}
	bHazards, err := s.member(ctx, "hazards", m.Hazards, false, s.store.GetHazardsPack)
	if err != nil {
		return nil, err
	}

	bManifest, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("bundle: encode manifest: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	members := []struct {
		name string
		body []byte
	}{
		{"manifest.json", bManifest},
		{"navpack.json", bNav},
		{"corridor.json", bCorr},
		{"places.json", bPlaces},
		{"traffic.json", bTraffic},
		{"hazards.json", bHazards},
	}
	for _, mb := range members {
		if mb.body == nil {
			continue
		}
		w, err := zw.Create(mb.name)
		if err != nil {
			return nil, fmt.Errorf("bundle: zip create %s: %w", mb.name, err)
		}
		if _, err := w.Write(mb.body); err != nil {
			return nil, fmt.Errorf("bundle: zip write %s: %w", mb.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("bundle: zip close: %w", err)
	}

	res := &ZipResult{
		PlanID:        planID,
		ZipBytes:      buf.Bytes(),
		BytesZip:      buf.Len(),
		BytesManifest: len(bManifest),
		BytesNavpack:  len(bNav),
		BytesCorridor: len(bCorr),
		BytesPlaces:   len(bPlaces),
		BytesTraffic:  len(bTraffic),
		BytesHazards:  len(bHazards),
	}
	logger.FromContext(ctx, &s.log).Info().
		Str("plan_id", planID).
		Int("bytes_zip", res.BytesZip).
		Msg("bundle zip built")
	return res, nil
}
