package orders

import (
	"fmt"

	"restaurant-sync/internal/apperr"
	"restaurant-sync/pkg/models"

	"github.com/shopspring/decimal"
)

const maxItems = 50

func invalid(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, apperr.ErrInvalidInput)...)
}

func validateCreate(in CreateInput) error {
	switch in.Type {
	case models.OrderDineIn:
		if in.TableID == "" {
			return invalid("table_id is required for dine-in orders")
		}
	case models.OrderTakeaway, models.OrderDelivery, models.OrderOnline:
		if in.TableID != "" {
			return invalid("table_id must not be present for %s orders", in.Type)
		}
		if in.Seated {
			return invalid("only dine-in orders can be seated")
		}
	default:
		return invalid("unknown order type %q", in.Type)
	}
	if in.Type == models.OrderDelivery && in.Delivery == nil {
		return invalid("delivery details are required for delivery orders")
	}
	if in.BranchID == "" {
		return invalid("branch_id is required")
	}
	if in.Tax.IsNegative() || in.Discount.IsNegative() {
		return invalid("tax and discount must not be negative")
	}
	return validateItems(in.Items)
}

func validateItems(items []models.OrderItem) error {
	if len(items) == 0 || len(items) > maxItems {
		return invalid("order must contain between 1 and %d items", maxItems)
	}
	for i, it := range items {
		if it.MenuItemID == "" {
			return invalid("item %d: menu_item_id is required", i)
		}
		if it.Quantity < 1 {
			return invalid("item %d: quantity must be a positive integer", i)
		}
		if it.Price.IsNegative() {
			return invalid("item %d: price must not be negative", i)
		}
	}
	return nil
}

// ApplyTotals derives totalAmount and grandTotal from the items, tax,
// discount and delivery fee.
func ApplyTotals(o *models.Order) {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	o.TotalAmount = total
	grand := total.Add(o.Tax).Sub(o.Discount)
	if o.Delivery != nil {
		grand = grand.Add(o.Delivery.DeliveryFee)
	}
	if grand.IsNegative() {
		grand = decimal.Zero
	}
	o.GrandTotal = grand
}
