package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// minCorridorBufferM is the floor for the corridor buffer. Corridor place
// acceptance short-circuits at 500m from a route sample, so buffers anywhere
// near that would accept points the filter never measured.
const minCorridorBufferM = 1000

type OverpassCfg struct {
	URL       string
	Timeout   time.Duration
	Throttle  time.Duration
	Retries   int
	RetryBase time.Duration
}

type PlacesCfg struct {
	TileStepDeg        float64
	MaxTiles           int
	HardCap            int
	LocalSatisfyRatio  float64
	TileTTL            time.Duration
	TimeBudget         time.Duration
	MaxTilesPerRequest int
	PublishCap         int
}

type OverlaysCfg struct {
	CacheFor       time.Duration
	Timeout        time.Duration
	QLDFullRefresh time.Duration
	QLDCacheFor    time.Duration
}

// FeedsCfg wires the per-jurisdiction upstream endpoints. URLs default to the
// public endpoints; API keys default to empty, which disables or degrades the
// source (the fan-out records a warning instead of failing the poll).
type FeedsCfg struct {
	QLDTrafficURL      string
	QLDTrafficDeltaURL string
	QLDTrafficAPIKey   string

	NSWTrafficEnabled bool
	NSWTrafficBase    string
	NSWTrafficAPIKey  string

	VICTrafficEnabled bool
	VICTrafficURL     string
	VICTrafficAPIKey  string

	SATrafficEnabled bool
	SATrafficURL     string

	WATrafficEnabled bool
	WATrafficURL     string

	NTTrafficEnabled bool
	NTTrafficURL     string

	BOMRSS map[string]string // state -> warnings feed URL

	QLDQFESCapURL    string
	NSWRFSURL        string
	VICEmergencyURL  string
	SACFSURL         string
	WADFESCapURL     string
	NTSecureCapURL   string
	TASAlertCapURL   string
	TASTheListURL    string
	DEAHotspotsURL   string
	DEAMaxAgeH       int
	DEAMinConfidence float64
}

type SupaCfg struct {
	URL            string
	ServiceRoleKey string
	Enabled        bool
}

type OSRMCfg struct {
	URL     string
	Profile string
	Timeout time.Duration
}

type ElevationCfg struct {
	URL     string
	Timeout time.Duration
	Batch   int
}

type MapboxCfg struct {
	Token   string
	URL     string
	Country string
}

type PackEventsCfg struct {
	Brokers string
	Topic   string
	Queue   int
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	DataDir     string
	CacheDBPath string

	EdgesDatabaseURL string
	EdgesDBPath      string

	AlgoVersion         string
	CorridorAlgoVersion string
	PlacesAlgoVersion   string
	TrafficAlgoVersion  string
	HazardsAlgoVersion  string

	CorridorBufferM  float64
	CorridorMaxEdges int

	Overpass  OverpassCfg
	Places    PlacesCfg
	Overlays  OverlaysCfg
	Feeds     FeedsCfg
	Supa      SupaCfg
	OSRM      OSRMCfg
	Elevation ElevationCfg
	Mapbox    MapboxCfg

	RedisAddr    string
	RedisPackTTL time.Duration

	PackEvents PackEventsCfg
}

func FromEnv() Config {
	dataDir := getenv("DATA_DIR", "./data")

	ratio := getfloat("PLACES_LOCAL_SATISFY_RATIO", 0.70)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}

	tileStep := getfloat("PLACES_TILE_STEP_DEG", 0.15)
	if tileStep <= 0 {
		tileStep = 0.15
	}

	maxTiles := getint("PLACES_MAX_TILES", 64)
	if maxTiles < 1 {
		maxTiles = 1
	}

	retries := getint("OVERPASS_RETRIES", 4)
	if retries < 0 {
		retries = 0
	}

	// The corridor acceptance filter short-circuits at 500m, which is only
	// correct while the buffer stays well above it.
	bufferM := getfloat("CORRIDOR_BUFFER_M_DEFAULT", 15000)
	if bufferM < minCorridorBufferM {
		bufferM = minCorridorBufferM
	}

	return Config{
		Addr:       getenv("ADDR", ":8080"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		DataDir:     dataDir,
		CacheDBPath: getenv("CACHE_DB_PATH", filepath.Join(dataDir, "roampack.db")),

		EdgesDatabaseURL: getenv("EDGES_DATABASE_URL", ""),
		EdgesDBPath:      getenv("EDGES_DB_PATH", filepath.Join(dataDir, "edges.db")),

		AlgoVersion:         getenv("ALGO_VERSION", "navpack.v1.osrm.mld"),
		CorridorAlgoVersion: getenv("CORRIDOR_ALGO_VERSION", "corridor.v1.edgesqlite"),
		PlacesAlgoVersion:   getenv("PLACES_ALGO_VERSION", "places.v1.overpass.tiled"),
		TrafficAlgoVersion:  getenv("TRAFFIC_ALGO_VERSION", "traffic.v2.qldtraffic.events"),
		HazardsAlgoVersion:  getenv("HAZARDS_ALGO_VERSION", "hazards.v1.qld.cap"),

		CorridorBufferM:  bufferM,
		CorridorMaxEdges: getint("CORRIDOR_MAX_EDGES_DEFAULT", 350000),

		Overpass: OverpassCfg{
			URL:       getenv("OVERPASS_URL", "https://overpass-api.de/api/interpreter"),
			Timeout:   getsec("OVERPASS_TIMEOUT_S", 90),
			Throttle:  getsec("OVERPASS_THROTTLE_S", 1),
			Retries:   retries,
			RetryBase: getsec("OVERPASS_RETRY_BASE_S", 0.75),
		},

		Places: PlacesCfg{
			TileStepDeg:        tileStep,
			MaxTiles:           maxTiles,
			HardCap:            getint("PLACES_HARD_CAP", 12000),
			LocalSatisfyRatio:  ratio,
			TileTTL:            getsec("PLACES_TILE_TTL_S", 14*24*3600),
			TimeBudget:         getsec("PLACES_TIME_BUDGET_S", 10),
			MaxTilesPerRequest: getint("PLACES_MAX_OVERPASS_TILES_PER_REQ", 12),
			PublishCap:         getint("PLACES_SUPA_PUBLISH_CAP", 4000),
		},

		Overlays: OverlaysCfg{
			CacheFor:       getsec("OVERLAYS_CACHE_SECONDS", 120),
			Timeout:        getsec("OVERLAYS_TIMEOUT_S", 15),
			QLDFullRefresh: getsec("QLD_TRAFFIC_FULL_REFRESH_S", 900),
			QLDCacheFor:    getsec("QLD_TRAFFIC_CACHE_S", 60),
		},

		Feeds: feedsFromEnv(),

		Supa: SupaCfg{
			URL:            getenv("SUPA_URL", ""),
			ServiceRoleKey: getenv("SUPA_SERVICE_ROLE_KEY", ""),
			Enabled:        getbool("SUPA_ENABLED", false),
		},

		OSRM: OSRMCfg{
			URL:     getenv("OSRM_URL", "https://router.project-osrm.org"),
			Profile: getenv("OSRM_PROFILE", "driving"),
			Timeout: getsec("OSRM_TIMEOUT_S", 30),
		},

		Elevation: ElevationCfg{
			URL:     getenv("ELEVATION_URL", "https://api.open-elevation.com/api/v1/lookup"),
			Timeout: getsec("ELEVATION_TIMEOUT_S", 20),
			Batch:   getint("ELEVATION_BATCH", 200),
		},

		Mapbox: MapboxCfg{
			Token:   getenv("MAPBOX_TOKEN", ""),
			URL:     getenv("MAPBOX_GEOCODE_URL", "https://api.mapbox.com/geocoding/v5/mapbox.places"),
			Country: getenv("MAPBOX_COUNTRY", "au"),
		},

		RedisAddr:    getenv("REDIS_ADDR", ""),
		RedisPackTTL: getsec("REDIS_PACK_TTL_S", 300),

		PackEvents: PackEventsCfg{
			Brokers: getenv("PACK_EVENTS_BROKERS", ""),
			Topic:   getenv("PACK_EVENTS_TOPIC", "roampack.packs"),
			Queue:   getint("PACK_EVENTS_QUEUE", 1024),
		},
	}
}

func feedsFromEnv() FeedsCfg {
	bom := map[string]string{
		"qld": getenv("BOM_RSS_QLD_URL", "http://www.bom.gov.au/fwo/IDZ00056.warnings_qld.xml"),
		"nsw": getenv("BOM_RSS_NSW_URL", "http://www.bom.gov.au/fwo/IDZ00054.warnings_nsw.xml"),
		"vic": getenv("BOM_RSS_VIC_URL", "http://www.bom.gov.au/fwo/IDZ00059.warnings_vic.xml"),
		"sa":  getenv("BOM_RSS_SA_URL", "http://www.bom.gov.au/fwo/IDZ00057.warnings_sa.xml"),
		"wa":  getenv("BOM_RSS_WA_URL", "http://www.bom.gov.au/fwo/IDZ00060.warnings_wa.xml"),
		"nt":  getenv("BOM_RSS_NT_URL", "http://www.bom.gov.au/fwo/IDZ00055.warnings_nt.xml"),
		"tas": getenv("BOM_RSS_TAS_URL", "http://www.bom.gov.au/fwo/IDZ00058.warnings_tas.xml"),
	}

	return FeedsCfg{
		QLDTrafficURL:      getenv("QLD_TRAFFIC_URL", "https://api.qldtraffic.qld.gov.au/v2/events"),
		QLDTrafficDeltaURL: getenv("QLD_TRAFFIC_DELTA_URL", "https://api.qldtraffic.qld.gov.au/v2/events/past-one-hour"),
		QLDTrafficAPIKey:   getenv("QLD_TRAFFIC_API_KEY", ""),

		NSWTrafficEnabled: getbool("NSW_TRAFFIC_ENABLED", true),
		NSWTrafficBase:    getenv("NSW_TRAFFIC_URL", "https://api.transport.nsw.gov.au/v1/live/hazards"),
		NSWTrafficAPIKey:  getenv("NSW_TRAFFIC_API_KEY", ""),

		VICTrafficEnabled: getbool("VIC_TRAFFIC_ENABLED", true),
		VICTrafficURL:     getenv("VIC_TRAFFIC_URL", "https://data-exchange-api.vicroads.vic.gov.au/opendata/disruptions/v1"),
		VICTrafficAPIKey:  getenv("VIC_TRAFFIC_API_KEY", ""),

		SATrafficEnabled: getbool("SA_TRAFFIC_ENABLED", false),
		SATrafficURL:     getenv("SA_TRAFFIC_URL", "https://traffic.sa.gov.au/data/incidents.geojson"),

		WATrafficEnabled: getbool("WA_TRAFFIC_ENABLED", true),
		WATrafficURL:     getenv("WA_TRAFFIC_URL", "https://portal-mainroads.opendata.arcgis.com/api/feed/incidents/query"),

		NTTrafficEnabled: getbool("NT_TRAFFIC_ENABLED", true),
		NTTrafficURL:     getenv("NT_TRAFFIC_URL", "https://roadreport.nt.gov.au/api/roadreports"),

		BOMRSS: bom,

		QLDQFESCapURL:    getenv("QLD_QFES_CAP_URL", "https://publiccontent-gis-psba-qld-gov-au.s3.amazonaws.com/content/Feeds/BushfireCurrentIncidents/bushfireAlert.xml"),
		NSWRFSURL:        getenv("NSW_RFS_URL", "https://www.rfs.nsw.gov.au/feeds/majorIncidents.json"),
		VICEmergencyURL:  getenv("VIC_EMERGENCY_URL", "https://emergency.vic.gov.au/public/osom-geojson.json"),
		SACFSURL:         getenv("SA_CFS_URL", "https://data.eso.sa.gov.au/prod/cfs/criimson/cfs_current_incidents.json"),
		WADFESCapURL:     getenv("WA_DFES_CAP_URL", "https://www.emergency.wa.gov.au/data/message.rss"),
		NTSecureCapURL:   getenv("NT_SECURENT_CAP_URL", "https://securent.nt.gov.au/api/public/alerts/cap"),
		TASAlertCapURL:   getenv("TAS_ALERT_CAP_URL", "https://alert.tas.gov.au/data/cap.xml"),
		TASTheListURL:    getenv("TAS_THELIST_URL", "https://services.thelist.tas.gov.au/arcgis/rest/services/Public/EmergencyIncidents/MapServer/0/query?where=1%3D1&outFields=*&returnGeometry=true&f=json"),
		DEAHotspotsURL:   getenv("DEA_HOTSPOTS_URL", "https://hotspots.dea.ga.gov.au/data/recent-hotspots.json"),
		DEAMaxAgeH:       getint("DEA_HOTSPOTS_MAX_AGE_H", 72),
		DEAMinConfidence: getfloat("DEA_HOTSPOTS_MIN_CONFIDENCE", 50),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getsec reads a numeric env value expressed in seconds (fractions allowed).
func getsec(k string, defSeconds float64) time.Duration {
	s := defSeconds
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			s = f
		}
	}
	return time.Duration(s * float64(time.Second))
}
