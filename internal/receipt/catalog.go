package receipt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Catalog maps store product ids to the credits granted per purchased unit.
type Catalog map[string]int64

// DefaultCatalog lists the consumable credit packs sold in the app.
func DefaultCatalog() Catalog {
	return Catalog{
		"credit_10": 10,
		"credit_20": 20,
		"credit_50": 50,
	}
}

// Credits returns the per-unit credits of a product.
func (c Catalog) Credits(productID string) (int64, bool) {
	credits, ok := c[strings.TrimSpace(productID)]
	if !ok || credits <= 0 {
		return 0, false
	}
	return credits, true
}

// ParseCatalog reads "product=credits" pairs separated by commas.
func ParseCatalog(raw string) (Catalog, error) {
	out := Catalog{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		productID, value, ok := strings.Cut(part, "=")
		productID = strings.TrimSpace(productID)
		if !ok || productID == "" {
			return nil, fmt.Errorf("invalid catalog entry %q", part)
		}
		credits, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || credits <= 0 {
			return nil, fmt.Errorf("invalid credits for product %q", productID)
		}
		out[productID] = credits
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}
	return out, nil
}

func (c Catalog) String() string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id+"="+strconv.FormatInt(c[id], 10))
	}
	return strings.Join(parts, ",")
}
