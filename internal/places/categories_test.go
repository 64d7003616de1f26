package places

import (
	"strings"
	"testing"

	"github.com/roamtrip/roampack/internal/model"
)

func TestInferCategoryEssentialsBeatTourism(t *testing.T) {
	// A hospital tagged as an attraction is still a hospital.
	got := inferCategory(map[string]string{"amenity": "hospital", "tourism": "attraction"})
	if got != model.CatHospital {
		t.Fatalf("inferCategory = %q, want %q", got, model.CatHospital)
	}
}

func TestInferCategoryTagPriority(t *testing.T) {
	cases := []struct {
		tags map[string]string
		want model.Category
	}{
		{map[string]string{"amenity": "fuel"}, model.CatFuel},
		{map[string]string{"amenity": "drinking_water"}, model.CatWater},
		{map[string]string{"man_made": "water_well"}, model.CatWater},
		{map[string]string{"highway": "rest_area"}, model.CatRestArea},
		{map[string]string{"shop": "supermarket"}, model.CatSupermarket},
		{map[string]string{"shop": "convenience"}, model.CatGrocery},
		{map[string]string{"shop": "doityourself"}, model.CatHardware},
		{map[string]string{"place": "village"}, model.CatTown},
		{map[string]string{"waterway": "waterfall", "tourism": "attraction"}, model.CatWaterfall},
		{map[string]string{"natural": "beach"}, model.CatBeach},
		{map[string]string{"amenity": "bbq"}, model.CatBBQ},
		{map[string]string{"tourism": "camp_site"}, model.CatCamp},
		{map[string]string{"tourism": "caravan_site"}, model.CatCaravanPark},
		{map[string]string{"tourism": "viewpoint"}, model.CatViewpoint},
		{map[string]string{"heritage": "2"}, model.CatHeritage},
		{map[string]string{"tourism": "attraction"}, model.CatAttraction},
		{map[string]string{"building": "yes"}, model.CatTown},
		{map[string]string{}, model.CatTown},
	}
	for _, tc := range cases {
		if got := inferCategory(tc.tags); got != tc.want {
			t.Errorf("inferCategory(%v) = %q, want %q", tc.tags, got, tc.want)
		}
	}
}

func TestFiltersForCategoriesDedup(t *testing.T) {
	fs := filtersForCategories([]model.Category{model.CatGrocery, model.CatSupermarket})
	want := []string{`["shop"="supermarket"]`, `["shop"="convenience"]`}
	if len(fs) != len(want) {
		t.Fatalf("filters = %v, want %v", fs, want)
	}
	for i := range want {
		if fs[i] != want[i] {
			t.Fatalf("filters = %v, want %v", fs, want)
		}
	}
}

func TestFiltersForCategoriesGeocoderOnly(t *testing.T) {
	// Address-style categories resolve through geocoding, not tag filters.
	for _, c := range []model.Category{model.CatAddress, model.CatPlace, model.CatRegion} {
		if fs := filtersForCategories([]model.Category{c}); len(fs) != 0 {
			t.Errorf("category %q produced filters %v", c, fs)
		}
	}
}

func TestFiltersForCategoriesKeepsRequestOrder(t *testing.T) {
	a := filtersForCategories([]model.Category{model.CatFuel, model.CatCamp})
	b := filtersForCategories([]model.Category{model.CatCamp, model.CatFuel})
	if len(a) == 0 || len(b) == 0 {
		t.Fatal("expected filters for fuel and camp")
	}
	if a[0] == b[0] {
		t.Fatalf("filter order should follow the request order: %v vs %v", a, b)
	}
}

func TestSyntheticName(t *testing.T) {
	got := syntheticName(model.CatBBQ, map[string]string{"addr:city": "Goondiwindi"})
	if got != "BBQ — Goondiwindi" {
		t.Fatalf("syntheticName = %q", got)
	}
	if got := syntheticName(model.CatRestArea, nil); got != "Rest area" {
		t.Fatalf("bare label = %q", got)
	}
	if got := syntheticName(model.CatFuel, map[string]string{"addr:suburb": "Dalby"}); got != "Fuel — Dalby" {
		t.Fatalf("suburb fallback = %q", got)
	}
	// addr:city wins over the later fallbacks.
	got = syntheticName(model.CatToilet, map[string]string{"addr:locality": "Miles", "addr:city": "Roma"})
	if got != "Toilets — Roma" {
		t.Fatalf("locality precedence broken: %q", got)
	}
}

func TestCategoryLabelCasing(t *testing.T) {
	if got := categoryLabel(model.CatFuel); got != "Fuel" {
		t.Fatalf("label = %q", got)
	}
	if got := categoryLabel(model.CatEVCharging); got != "EV charging" {
		t.Fatalf("label = %q", got)
	}
	if got := categoryLabel(model.CatRestArea); got != "Rest area" {
		t.Fatalf("label = %q, underscores should read as spaces", got)
	}
	for _, c := range model.Categories() {
		if l := categoryLabel(c); l == "" || strings.Contains(l, "_") {
			t.Errorf("category %q has unusable label %q", c, l)
		}
	}
}
