package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	booking "gearshare/internal/booking/domain"
	settlement "gearshare/internal/settlement/domain"
)

const timeLayout = time.RFC3339

type config struct {
	dbURL      string
	month      string
	outDir     string
	shareBasis int64
}

type anomaly struct {
	BookingID string
	Status    booking.Status
	Problem   string
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "create out dir:", err)
		os.Exit(2)
	}

	ledger, err := settlement.NewLedger(settlement.WithOwnerShareBasisPoints(cfg.shareBasis))
	if err != nil {
		fmt.Fprintln(os.Stderr, "ledger:", err)
		os.Exit(2)
	}

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	monthStart, err := settlement.ParseMonth(cfg.month)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	monthEnd := monthStart.AddDate(0, 1, 0)

	ctx := context.Background()
	rows, err := loadMoneyMovements(ctx, db, monthStart, monthEnd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load bookings:", err)
		os.Exit(2)
	}

	if err := writeMovements(cfg.outDir, ledger, rows); err != nil {
		fmt.Fprintln(os.Stderr, "write movements:", err)
		os.Exit(2)
	}
	anomalies := findAnomalies(rows)
	if err := writeAnomalies(cfg.outDir, anomalies); err != nil {
		fmt.Fprintln(os.Stderr, "write anomalies:", err)
		os.Exit(2)
	}

	fmt.Printf("Reconciliation outputs written to %s (%d bookings, %d anomalies)\n", cfg.outDir, len(rows), len(anomalies))
	if len(anomalies) > 0 {
		os.Exit(1)
	}
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.month, "month", "", "month in YYYY-MM")
	flag.StringVar(&cfg.outDir, "out", "./out", "output directory")
	flag.Int64Var(&cfg.shareBasis, "owner-share-bp", getenvInt64Default("OWNER_SHARE_BASIS_POINTS", 8500), "owner share in basis points")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("missing --db or DATABASE_URL/PG_DSN")
	}
	if cfg.month == "" {
		return cfg, errors.New("missing --month (YYYY-MM)")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt64Default(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// loadMoneyMovements returns bookings with a payment, payout or refund
// touched in [from, to).
func loadMoneyMovements(ctx context.Context, db *sql.DB, from, to time.Time) ([]booking.Booking, error) {
	rows, err := db.QueryContext(ctx, `
SELECT id, item_id, owner_id, renter_id, status, total_price, currency,
	COALESCE(payment_reference, ''), paid_out, COALESCE(payout_reference, ''), paid_out_at,
	refunded, COALESCE(refund_amount, 0), COALESCE(refund_reference, ''), refunded_at,
	created_at, updated_at
FROM bookings
WHERE (payment_reference IS NOT NULL OR paid_out OR refunded)
	AND updated_at >= $1 AND updated_at < $2
ORDER BY updated_at ASC`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		var (
			b          booking.Booking
			status     string
			paidOutAt  sql.NullTime
			refundedAt sql.NullTime
		)
		if err := rows.Scan(&b.ID, &b.ItemID, &b.OwnerID, &b.RenterID, &status, &b.TotalPrice, &b.Currency,
			&b.PaymentReference, &b.PaidOut, &b.PayoutReference, &paidOutAt,
			&b.Refunded, &b.RefundAmount, &b.RefundReference, &refundedAt,
			&b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.Status = booking.Status(status)
		if paidOutAt.Valid {
			b.PaidOutAt = paidOutAt.Time
		}
		if refundedAt.Valid {
			b.RefundedAt = refundedAt.Time
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// findAnomalies reports bookings whose money state disagrees with their status.
func findAnomalies(rows []booking.Booking) []anomaly {
	var out []anomaly
	report := func(b booking.Booking, problem string) {
		out = append(out, anomaly{BookingID: b.ID, Status: b.Status, Problem: problem})
	}
	for _, b := range rows {
		if !b.Status.IsValid() {
			report(b, "unknown status")
			continue
		}
		if (b.Status == booking.StatusPaid || b.Status == booking.StatusCompleted) && !b.HasPayment() {
			report(b, "paid status without payment reference")
		}
		if b.PaidOut {
			if b.PayoutReference == "" {
				report(b, "paid out without transfer reference")
			}
			if !b.HasPayment() {
				report(b, "paid out without payment")
			}
		}
		if b.Refunded {
			if b.Status != booking.StatusCancelled {
				report(b, "refunded but not cancelled")
			}
			if b.RefundAmount <= 0 || b.RefundAmount > b.TotalPrice {
				report(b, "refund amount out of range")
			}
			if b.PaidOut {
				report(b, "refunded after owner payout")
			}
		}
		if b.Status == booking.StatusCancelled && b.HasPayment() && !b.Refunded {
			report(b, "cancelled with unrefunded payment")
		}
	}
	return out
}

func writeMovements(outDir string, ledger *settlement.Ledger, rows []booking.Booking) error {
	file, err := os.Create(filepath.Join(outDir, "money_movements.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{
		"booking_id",
		"status",
		"currency",
		"total_price",
		"payment_reference",
		"owner_payout",
		"platform_fee",
		"payout_reference",
		"paid_out_at",
		"refund_amount",
		"refund_reference",
		"refunded_at",
	}); err != nil {
		return err
	}

	for _, b := range rows {
		owner, fee := ledger.Split(b.TotalPrice)
		payout := ""
		if b.PaidOut {
			payout = settlement.FormatMinor(owner)
		}
		refund := ""
		if b.Refunded {
			refund = settlement.FormatMinor(b.RefundAmount)
		}
		if err := writer.Write([]string{
			b.ID,
			string(b.Status),
			b.Currency,
			settlement.FormatMinor(b.TotalPrice),
			b.PaymentReference,
			payout,
			settlement.FormatMinor(fee),
			b.PayoutReference,
			formatOptionalTime(b.PaidOutAt),
			refund,
			b.RefundReference,
			formatOptionalTime(b.RefundedAt),
		}); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writeAnomalies(outDir string, rows []anomaly) error {
	file, err := os.Create(filepath.Join(outDir, "anomalies.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"booking_id", "status", "problem"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{row.BookingID, string(row.Status), row.Problem}); err != nil {
			return err
		}
	}
	return writer.Error()
}

func formatOptionalTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}
