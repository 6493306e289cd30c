package service

import "strings"

// Storefront categories
const (
	CategoryMotorcycle = "motorcycle"
	CategoryATV        = "all-terrain-vehicle"
	CategoryBoat       = "boat"
	CategoryGift       = "gift"
	CategoryAutomotive = "automotive"
	CategoryOther      = "other"
)

// CategoryRule maps a storefront category to the keywords that select it.
type CategoryRule struct {
	Category string
	Keywords []string
}

// categoryRules is evaluated in order against normalized lowercase text; the
// first rule with a matching keyword wins. Order is part of the contract:
// e.g. "motorcycle boat trailer hitch" classifies as motorcycle.
var categoryRules = []CategoryRule{
	{CategoryMotorcycle, []string{"motorcycle", "motorbike", "sportbike", "sport bike", "cruiser", "dirt bike", "scooter", "moped"}},
	{CategoryATV, []string{"atv", "all-terrain", "all terrain", "quad", "utv", "side-by-side", "side by side", "4-wheeler", "four wheeler"}},
	{CategoryBoat, []string{"boat", "marine", "outboard", "jet ski", "jetski", "watercraft", "pontoon", "propeller"}},
	{CategoryGift, []string{"gift", "apparel", "t-shirt", "tshirt", "hoodie", "mug", "decal", "sticker", "keychain"}},
	{CategoryAutomotive, []string{"automotive", "car ", " car", "truck", "sedan", "suv", "pickup"}},
}

// matchCategory runs the keyword table over the given text fragments and
// returns the first matching category.
func matchCategory(texts ...string) (string, bool) {
	var normalized []string
	for _, t := range texts {
		if t != "" {
			normalized = append(normalized, strings.ToLower(t))
		}
	}
	if len(normalized) == 0 {
		return "", false
	}

	for _, rule := range categoryRules {
		for _, keyword := range rule.Keywords {
			for _, text := range normalized {
				if strings.Contains(text, keyword) {
					return rule.Category, true
				}
			}
		}
	}
	return "", false
}
