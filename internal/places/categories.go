package places

import (
	"strings"

	"github.com/roamtrip/roampack/internal/model"
)

// overpassFilters maps each category to its OSM tag filter expressions.
// Geocoder-only categories (address, place, region) have no entry and are
// silently skipped when building queries.
var overpassFilters = map[model.Category][]string{
	model.CatFuel:       {`["amenity"="fuel"]`},
	model.CatEVCharging: {`["amenity"="charging_station"]`},
	model.CatToilet:     {`["amenity"="toilets"]`},
	model.CatWater:      {`["amenity"="drinking_water"]`, `["man_made"="water_well"]`},
	model.CatShower:     {`["amenity"="shower"]`},
	model.CatDumpPoint:  {`["amenity"="sanitary_dump_station"]`},
	model.CatATM:        {`["amenity"="atm"]`},
	model.CatHospital:   {`["amenity"="hospital"]`},
	model.CatPharmacy:   {`["amenity"="pharmacy"]`},
	model.CatPolice:     {`["amenity"="police"]`},
	model.CatMechanic:   {`["shop"="car_repair"]`, `["amenity"="car_repair"]`},
	model.CatRestArea:   {`["highway"="rest_area"]`},

	model.CatGrocery:      {`["shop"="supermarket"]`, `["shop"="convenience"]`},
	model.CatSupermarket:  {`["shop"="supermarket"]`},
	model.CatBottleShop:   {`["shop"="alcohol"]`},
	model.CatCampingStore: {`["shop"="outdoor"]`},
	model.CatHardware:     {`["shop"="hardware"]`, `["shop"="doityourself"]`},

	model.CatCafe:       {`["amenity"="cafe"]`},
	model.CatRestaurant: {`["amenity"="restaurant"]`},
	model.CatFastFood:   {`["amenity"="fast_food"]`},
	model.CatPub:        {`["amenity"="pub"]`},
	model.CatBar:        {`["amenity"="bar"]`},
	model.CatBakery:     {`["shop"="bakery"]`},
	model.CatBBQ:        {`["amenity"="bbq"]`},

	model.CatCamp:        {`["tourism"="camp_site"]`, `["tourism"="caravan_site"]`},
	model.CatCaravanPark: {`["tourism"="caravan_site"]`},
	model.CatHotel:       {`["tourism"="hotel"]`},
	model.CatMotel:       {`["tourism"="motel"]`},
	model.CatHostel:      {`["tourism"="hostel"]`},

	model.CatPark:      {`["leisure"="park"]`},
	model.CatBeach:     {`["natural"="beach"]`},
	model.CatViewpoint: {`["tourism"="viewpoint"]`},
	model.CatWaterfall: {`["waterway"="waterfall"]`},
	model.CatSwimming:  {`["leisure"="swimming_area"]`, `["sport"="swimming"]`},
	model.CatSpring:    {`["natural"="spring"]`},

	model.CatPlayground: {`["leisure"="playground"]`},
	model.CatPicnic:     {`["tourism"="picnic_site"]`, `["leisure"="picnic_table"]`},
	model.CatWildlife:   {`["tourism"="zoo"]`, `["tourism"="wildlife_park"]`},

	model.CatMuseum:     {`["tourism"="museum"]`},
	model.CatGallery:    {`["tourism"="gallery"]`},
	model.CatAttraction: {`["tourism"="attraction"]`},
	model.CatHeritage:   {`["heritage"]`},

	model.CatTown: {`["place"~"^(town|village|city|hamlet)$"]`},
}

// filtersForCategories expands a category set into a deduplicated filter
// list, preserving request order.
func filtersForCategories(cats []model.Category) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range cats {
		for _, f := range overpassFilters[c] {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// inferCategory classifies a feature from its tags. Order matters: safety
// and essentials win over the broad sightseeing buckets, so a hospital
// tagged tourism=attraction stays a hospital.
func inferCategory(tags map[string]string) model.Category {
	a := tags["amenity"]
	t := tags["tourism"]
	s := tags["shop"]

	switch a {
	case "fuel":
		return model.CatFuel
	case "charging_station":
		return model.CatEVCharging
	case "toilets":
		return model.CatToilet
	case "drinking_water":
		return model.CatWater
	case "shower":
		return model.CatShower
	case "sanitary_dump_station":
		return model.CatDumpPoint
	case "atm":
		return model.CatATM
	case "hospital":
		return model.CatHospital
	case "pharmacy":
		return model.CatPharmacy
	case "police":
		return model.CatPolice
	case "car_repair":
		return model.CatMechanic
	}
	if tags["man_made"] == "water_well" {
		return model.CatWater
	}
	if tags["highway"] == "rest_area" {
		return model.CatRestArea
	}

	switch s {
	case "supermarket":
		return model.CatSupermarket
	case "convenience":
		return model.CatGrocery
	case "alcohol":
		return model.CatBottleShop
	case "outdoor":
		return model.CatCampingStore
	case "hardware", "doityourself":
		return model.CatHardware
	case "car_repair":
		return model.CatMechanic
	case "bakery":
		return model.CatBakery
	}

	switch p := tags["place"]; p {
	case "city", "town", "village", "hamlet":
		return model.CatTown
	}

	// Nature before the generic attraction bucket.
	if tags["waterway"] == "waterfall" {
		return model.CatWaterfall
	}
	if tags["natural"] == "spring" {
		return model.CatSpring
	}
	if tags["natural"] == "beach" {
		return model.CatBeach
	}
	switch le := tags["leisure"]; le {
	case "swimming_area":
		return model.CatSwimming
	case "playground":
		return model.CatPlayground
	case "picnic_table":
		return model.CatPicnic
	case "park":
		return model.CatPark
	}
	if tags["sport"] == "swimming" {
		return model.CatSwimming
	}

	switch a {
	case "bbq":
		return model.CatBBQ
	case "cafe":
		return model.CatCafe
	case "restaurant":
		return model.CatRestaurant
	case "fast_food":
		return model.CatFastFood
	case "pub":
		return model.CatPub
	case "bar":
		return model.CatBar
	}

	switch t {
	case "camp_site":
		return model.CatCamp
	case "caravan_site":
		return model.CatCaravanPark
	case "hotel":
		return model.CatHotel
	case "motel":
		return model.CatMotel
	case "hostel":
		return model.CatHostel
	case "picnic_site":
		return model.CatPicnic
	case "viewpoint":
		return model.CatViewpoint
	case "zoo", "wildlife_park":
		return model.CatWildlife
	case "museum":
		return model.CatMuseum
	case "gallery":
		return model.CatGallery
	}
	if tags["heritage"] != "" {
		return model.CatHeritage
	}
	if t == "attraction" {
		return model.CatAttraction
	}
	return model.CatTown
}

// displayLabels covers categories whose label is not just a capitalized
// version of the slug.
var displayLabels = map[model.Category]string{
	model.CatBBQ:          "BBQ",
	model.CatEVCharging:   "EV charging",
	model.CatATM:          "ATM",
	model.CatToilet:       "Toilets",
	model.CatDumpPoint:    "Dump point",
	model.CatRestArea:     "Rest area",
	model.CatFastFood:     "Fast food",
	model.CatBottleShop:   "Bottle shop",
	model.CatCaravanPark:  "Caravan park",
	model.CatCampingStore: "Camping store",
}

func categoryLabel(c model.Category) string {
	if l, ok := displayLabels[c]; ok {
		return l
	}
	s := strings.ReplaceAll(string(c), "_", " ")
	if s == "" {
		return "Place"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// syntheticName builds a display name for an unnamed feature from its
// category and the nearest locality tag, e.g. "BBQ — Goondiwindi".
func syntheticName(c model.Category, tags map[string]string) string {
	label := categoryLabel(c)
	for _, k := range []string{"addr:city", "addr:town", "addr:suburb", "addr:locality", "addr:place"} {
		if v := tags[k]; v != "" {
			return label + " — " + v
		}
	}
	return label
}
