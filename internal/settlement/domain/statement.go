package settlement

import (
	"fmt"
	"sort"
	"strings"
	"time"

	booking "gearshare/internal/booking/domain"
)

// PayoutLine is one paid-out booking on a payout statement.
type PayoutLine struct {
	BookingID       string    `json:"booking_id"`
	OwnerID         string    `json:"owner_id"`
	ItemID          string    `json:"item_id"`
	PaidOutAt       time.Time `json:"paid_out_at"`
	PayoutReference string    `json:"payout_reference"`
	Gross           int64     `json:"gross"`
	OwnerPayout     int64     `json:"owner_payout"`
	PlatformFee     int64     `json:"platform_fee"`
	Currency        string    `json:"currency"`
}

// PayoutTotals aggregates lines of a single currency.
type PayoutTotals struct {
	Currency    string `json:"currency"`
	Bookings    int    `json:"bookings"`
	Gross       int64  `json:"gross"`
	OwnerPayout int64  `json:"owner_payout"`
	PlatformFee int64  `json:"platform_fee"`
}

// PayoutStatement lists the payouts of one calendar month.
type PayoutStatement struct {
	Month       time.Time      `json:"month"`
	GeneratedAt time.Time      `json:"generated_at"`
	Lines       []PayoutLine   `json:"lines"`
	Totals      []PayoutTotals `json:"totals"`
}

// ParseMonth parses YYYY-MM into the first instant of that month in UTC.
func ParseMonth(value string) (time.Time, error) {
	month, err := time.Parse("2006-01", strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, ErrInvalidMonth
	}
	return month.UTC(), nil
}

// BuildPayoutStatement builds a statement from paid-out bookings. Bookings
// that are not paid out are skipped.
func (l *Ledger) BuildPayoutStatement(month, generatedAt time.Time, bookings []booking.Booking) *PayoutStatement {
	stmt := &PayoutStatement{
		Month:       month.UTC(),
		GeneratedAt: generatedAt.UTC(),
		Lines:       make([]PayoutLine, 0, len(bookings)),
	}
	totals := make(map[string]*PayoutTotals)
	for _, b := range bookings {
		if !b.PaidOut {
			continue
		}
		owner, fee := l.Split(b.TotalPrice)
		stmt.Lines = append(stmt.Lines, PayoutLine{
			BookingID:       b.ID,
			OwnerID:         b.OwnerID,
			ItemID:          b.ItemID,
			PaidOutAt:       b.PaidOutAt.UTC(),
			PayoutReference: b.PayoutReference,
			Gross:           b.TotalPrice,
			OwnerPayout:     owner,
			PlatformFee:     fee,
			Currency:        b.Currency,
		})
		total := totals[b.Currency]
		if total == nil {
			total = &PayoutTotals{Currency: b.Currency}
			totals[b.Currency] = total
		}
		total.Bookings++
		total.Gross += b.TotalPrice
		total.OwnerPayout += owner
		total.PlatformFee += fee
	}
	sort.SliceStable(stmt.Lines, func(i, j int) bool {
		return stmt.Lines[i].PaidOutAt.Before(stmt.Lines[j].PaidOutAt)
	})
	for _, total := range totals {
		stmt.Totals = append(stmt.Totals, *total)
	}
	sort.Slice(stmt.Totals, func(i, j int) bool {
		return stmt.Totals[i].Currency < stmt.Totals[j].Currency
	})
	return stmt
}

// FormatMinor renders minor units as a decimal amount with two places.
func FormatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
