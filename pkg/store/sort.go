package store

import "sort"

// Product is a catalog product and the variants it is sold as.
type Product struct {
	ID         string   `json:"id"`
	Title      string   `json:"title,omitempty"`
	VariantIDs []string `json:"variant_ids"`
}

// TotalAvailable sums the availability of the product's variants in view.
func (p Product) TotalAvailable(view InventoryView) int {
	total := 0
	for _, variantID := range p.VariantIDs {
		total += view.Available(variantID)
	}
	return total
}

// SortByAvailability orders products in place: in-stock products first,
// then by total availability descending, then by id.
func SortByAvailability(products []Product, view InventoryView) {
	sort.SliceStable(products, func(a, b int) bool {
		ta, tb := products[a].TotalAvailable(view), products[b].TotalAvailable(view)
		if (ta > 0) != (tb > 0) {
			return ta > 0
		}
		if ta != tb {
			return ta > tb
		}
		return products[a].ID < products[b].ID
	})
}
