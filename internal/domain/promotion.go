package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PromotionVariantKind names the pricing behaviour of a promotion rule.
type PromotionVariantKind string

const (
	// PromotionKindNxM gives away the cheapest units of every group of Buy units.
	PromotionKindNxM PromotionVariantKind = "nxm"
	// PromotionKindPercentage discounts eligible lines by a percentage.
	PromotionKindPercentage PromotionVariantKind = "percentage"
	// PromotionKindFixedPrice pins eligible units to a fixed price. Evaluation currently yields no discount.
	PromotionKindFixedPrice PromotionVariantKind = "fixed_price"
)

// PromotionVariant is the closed set of rule payloads. Implementations live in this package only.
type PromotionVariant interface {
	Kind() PromotionVariantKind
	promotionVariant()
}

// NxMVariant is "buy Buy, pay Pay" (e.g. 3x2).
type NxMVariant struct {
	Buy int
	Pay int
}

// Kind implements PromotionVariant.
func (NxMVariant) Kind() PromotionVariantKind { return PromotionKindNxM }
func (NxMVariant) promotionVariant()          {}

// PercentageVariant discounts Percent (0-100] of every eligible line.
type PercentageVariant struct {
	Percent decimal.Decimal
}

// Kind implements PromotionVariant.
func (PercentageVariant) Kind() PromotionVariantKind { return PromotionKindPercentage }
func (PercentageVariant) promotionVariant()          {}

// FixedPriceVariant carries a target unit price in minor units.
type FixedPriceVariant struct {
	Price int64
}

// Kind implements PromotionVariant.
func (FixedPriceVariant) Kind() PromotionVariantKind { return PromotionKindFixedPrice }
func (FixedPriceVariant) promotionVariant()          {}

// Weekdays is a bitmask of time.Weekday values (bit 0 = Sunday).
type Weekdays uint8

// EveryDay enables a rule on all weekdays.
const EveryDay Weekdays = 0x7f

// WeekdaysOf builds a mask from the supplied days.
func WeekdaysOf(days ...time.Weekday) Weekdays {
	var mask Weekdays
	for _, day := range days {
		if day < time.Sunday || day > time.Saturday {
			continue
		}
		mask |= 1 << uint(day)
	}
	return mask
}

// Has reports whether day is enabled.
func (w Weekdays) Has(day time.Weekday) bool {
	return w&(1<<uint(day)) != 0
}

// Days lists the enabled weekdays in calendar order.
func (w Weekdays) Days() []time.Weekday {
	days := make([]time.Weekday, 0, 7)
	for day := time.Sunday; day <= time.Saturday; day++ {
		if w.Has(day) {
			days = append(days, day)
		}
	}
	return days
}

// Date is a calendar day without a time-of-day or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in its own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(value string) (Date, error) {
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool { return other.Before(d) }

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Format(time.DateOnly)
}

// PromotionRule is a time-boxed pricing rule applied to a set of products.
type PromotionRule struct {
	ID            string
	Name          string
	Variant       PromotionVariant
	ProductIDs    []string
	StartDate     Date
	EndDate       Date
	Weekdays      Weekdays
	PaymentMethod string
	Active        bool
	Sequence      int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// AppliesToProduct reports whether productID is in the rule's product set.
func (r PromotionRule) AppliesToProduct(productID string) bool {
	for _, id := range r.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// Live reports whether the rule is active and not soft-deleted.
func (r PromotionRule) Live() bool {
	return r.Active && r.DeletedAt == nil
}

// ValidOn reports whether day falls within [StartDate, EndDate] and on an enabled weekday.
func (r PromotionRule) ValidOn(day Date, weekday time.Weekday) bool {
	if day.Before(r.StartDate) || day.After(r.EndDate) {
		return false
	}
	return r.Weekdays.Has(weekday)
}
