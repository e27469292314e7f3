// Package cart holds the cart mutation and merge rules. Every function works on
// a copy of its input and performs no I/O.
package cart

import (
	"errors"
	"strings"
	"time"

	"cart-service/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrLimitExceeded   = errors.New("cart limit exceeded")
	ErrItemNotFound    = errors.New("item not found in cart")
	ErrInvalidItem     = errors.New("invalid cart item")
)

// AddItem adds item to the cart. An existing line with the same SKU has its
// quantity increased instead.
func AddItem(c *models.Cart, item models.CartItem, maxItems, maxQuantity int, now time.Time) (*models.Cart, error) {
	if err := validateItem(item); err != nil {
		return nil, err
	}

	out := c.Clone()
	if idx := out.FindItem(item.SKU); idx >= 0 {
		existing := &out.Items[idx]
		newQty := existing.Quantity + item.Quantity
		if exceeds(newQty, maxQuantity) {
			return nil, ErrLimitExceeded
		}
		existing.Quantity = newQty
		existing.Subtotal = subtotal(existing.Price, newQty)
		return RecalcTotals(out, now), nil
	}

	if maxItems > 0 && len(out.Items) >= maxItems {
		return nil, ErrLimitExceeded
	}
	if exceeds(item.Quantity, maxQuantity) {
		return nil, ErrLimitExceeded
	}

	item.Subtotal = subtotal(item.Price, item.Quantity)
	if item.AddedAt.IsZero() {
		item.AddedAt = now
	}
	out.Items = append(out.Items, item)
	return RecalcTotals(out, now), nil
}

// UpdateQuantity overwrites the quantity of sku. Zero removes the line.
func UpdateQuantity(c *models.Cart, sku string, quantity, maxQuantity int, now time.Time) (*models.Cart, error) {
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	if exceeds(quantity, maxQuantity) {
		return nil, ErrLimitExceeded
	}

	idx := c.FindItem(sku)
	if idx < 0 {
		return nil, ErrItemNotFound
	}
	if quantity == 0 {
		return RemoveItem(c, sku, now)
	}

	out := c.Clone()
	out.Items[idx].Quantity = quantity
	out.Items[idx].Subtotal = subtotal(out.Items[idx].Price, quantity)
	return RecalcTotals(out, now), nil
}

// RemoveItem drops the line for sku.
func RemoveItem(c *models.Cart, sku string, now time.Time) (*models.Cart, error) {
	idx := c.FindItem(sku)
	if idx < 0 {
		return nil, ErrItemNotFound
	}

	out := c.Clone()
	out.Items = append(out.Items[:idx], out.Items[idx+1:]...)
	return RecalcTotals(out, now), nil
}

// Clear empties the cart but keeps its identity and creation time.
func Clear(c *models.Cart, now time.Time) *models.Cart {
	out := c.Clone()
	out.Items = []models.CartItem{}
	return RecalcTotals(out, now)
}

// RecalcTotals recomputes subtotals and the aggregate fields from the items.
func RecalcTotals(c *models.Cart, now time.Time) *models.Cart {
	out := c.Clone()
	total := decimal.Zero
	count := 0
	for i := range out.Items {
		out.Items[i].Subtotal = subtotal(out.Items[i].Price, out.Items[i].Quantity)
		total = total.Add(out.Items[i].Subtotal)
		count += out.Items[i].Quantity
	}
	out.TotalPrice = total
	out.TotalItems = count
	out.UpdatedAt = now
	return out
}

// MergeGuestIntoUser folds the guest lines into the user cart. Quantities of
// shared SKUs are summed and clamped to maxQuantity; new SKUs are appended only
// while the cart holds fewer than maxItems lines, the rest are dropped. The
// returned count is the number of guest lines that made it into the cart.
func MergeGuestIntoUser(guest, user *models.Cart, maxItems, maxQuantity int, now time.Time) (*models.Cart, int) {
	merged := user.Clone()
	if guest == nil || guest.IsEmpty() {
		return merged, 0
	}

	count := 0
	for _, gi := range guest.Items {
		if gi.SKU == "" || gi.Quantity <= 0 {
			continue
		}

		if idx := merged.FindItem(gi.SKU); idx >= 0 {
			existing := &merged.Items[idx]
			existing.Quantity = clamp(existing.Quantity+gi.Quantity, maxQuantity)
			existing.Subtotal = subtotal(existing.Price, existing.Quantity)
			count++
			continue
		}

		if maxItems > 0 && len(merged.Items) >= maxItems {
			continue
		}
		gi.Quantity = clamp(gi.Quantity, maxQuantity)
		gi.Subtotal = subtotal(gi.Price, gi.Quantity)
		merged.Items = append(merged.Items, gi)
		count++
	}

	if count == 0 {
		return merged, 0
	}
	return RecalcTotals(merged, now), count
}

// VariantSKU derives the line SKU from a catalog base SKU and the selected
// variant attributes: BASE[-COLOR][-SIZE].
func VariantSKU(base, color, size string) string {
	if base == "" {
		base = "UNKNOWN"
	}
	var b strings.Builder
	b.WriteString(base)
	if color = strings.TrimSpace(color); color != "" {
		b.WriteString("-")
		b.WriteString(strings.ToUpper(color))
	}
	if size = strings.TrimSpace(size); size != "" {
		b.WriteString("-")
		b.WriteString(strings.ToUpper(size))
	}
	return b.String()
}

func validateItem(item models.CartItem) error {
	if strings.TrimSpace(item.SKU) == "" {
		return ErrInvalidItem
	}
	if item.Price.IsNegative() {
		return ErrInvalidItem
	}
	if item.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

func subtotal(price decimal.Decimal, qty int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty)))
}

func exceeds(qty, max int) bool {
	return max > 0 && qty > max
}

func clamp(qty, max int) int {
	if max > 0 && qty > max {
		return max
	}
	return qty
}
