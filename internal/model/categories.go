package model

// Category is the closed vocabulary for PlaceItem classification. The three
// geocoder tags (address, place, region) are produced by forward geocoding
// only and have no OSM filter expansion.
type Category string

const (
	// essentials
	CatFuel       Category = "fuel"
	CatEVCharging Category = "ev_charging"
	CatToilet     Category = "toilet"
	CatWater      Category = "water"
	CatShower     Category = "shower"
	CatDumpPoint  Category = "dump_point"
	CatATM        Category = "atm"
	CatHospital   Category = "hospital"
	CatPharmacy   Category = "pharmacy"
	CatPolice     Category = "police"
	CatMechanic   Category = "mechanic"
	CatRestArea   Category = "rest_area"

	// supplies
	CatGrocery      Category = "grocery"
	CatSupermarket  Category = "supermarket"
	CatBottleShop   Category = "bottle_shop"
	CatCampingStore Category = "camping_store"
	CatHardware     Category = "hardware"

	// food
	CatCafe       Category = "cafe"
	CatRestaurant Category = "restaurant"
	CatFastFood   Category = "fast_food"
	CatPub        Category = "pub"
	CatBar        Category = "bar"
	CatBakery     Category = "bakery"
	CatBBQ        Category = "bbq"

	// accommodation
	CatCamp        Category = "camp"
	CatCaravanPark Category = "caravan_park"
	CatHotel       Category = "hotel"
	CatMotel       Category = "motel"
	CatHostel      Category = "hostel"

	// nature
	CatPark      Category = "park"
	CatBeach     Category = "beach"
	CatViewpoint Category = "viewpoint"
	CatWaterfall Category = "waterfall"
	CatSwimming  Category = "swimming"
	CatSpring    Category = "spring"

	// family
	CatPlayground Category = "playground"
	CatPicnic     Category = "picnic"
	CatWildlife   Category = "wildlife"

	// culture
	CatMuseum     Category = "museum"
	CatGallery    Category = "gallery"
	CatAttraction Category = "attraction"
	CatHeritage   Category = "heritage"

	// settlement
	CatTown Category = "town"

	// geocoder-only
	CatAddress Category = "address"
	CatPlace   Category = "place"
	CatRegion  Category = "region"
)

var allCategories = []Category{
	CatFuel, CatEVCharging, CatToilet, CatWater, CatShower, CatDumpPoint,
	CatATM, CatHospital, CatPharmacy, CatPolice, CatMechanic, CatRestArea,
	CatGrocery, CatSupermarket, CatBottleShop, CatCampingStore, CatHardware,
	CatCafe, CatRestaurant, CatFastFood, CatPub, CatBar, CatBakery, CatBBQ,
	CatCamp, CatCaravanPark, CatHotel, CatMotel, CatHostel,
	CatPark, CatBeach, CatViewpoint, CatWaterfall, CatSwimming, CatSpring,
	CatPlayground, CatPicnic, CatWildlife,
	CatMuseum, CatGallery, CatAttraction, CatHeritage,
	CatTown,
	CatAddress, CatPlace, CatRegion,
}

var categorySet = func() map[Category]struct{} {
	m := make(map[Category]struct{}, len(allCategories))
	for _, c := range allCategories {
		m[c] = struct{}{}
	}
	return m
}()

func (c Category) Valid() bool {
	_, ok := categorySet[c]
	return ok
}

func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// CleanCategories drops unknown tags and duplicates, preserving input order.
func CleanCategories(in []string) []Category {
	seen := make(map[Category]struct{}, len(in))
	var out []Category
	for _, s := range in {
		c := Category(s)
		if !c.Valid() {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
