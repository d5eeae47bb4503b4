package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/office-parking-reservations/internal/booking"
	"github.com/hackgods/office-parking-reservations/internal/db"
	"github.com/hackgods/office-parking-reservations/internal/observability"
)

var comments = []string{"", "", "EV charging needed", "visitor", "leaving early", "motorbike"}

func main() {
	logger := observability.NewLogger("info").WithField("service", "seed")
	logger.Info("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatalf("POSTGRES_DSN is required")
	}
	zone := getEnv("ZONE", booking.DefaultZone)
	days := getInt("SEED_DAYS", 5)
	perDay := getInt("SEED_BOOKINGS_PER_DAY", 6)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	if err := seedSlots(ctx, pool, zone, logger); err != nil {
		logger.Fatalf("seed slots: %v", err)
	}

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "UTC"))
	if err != nil {
		logger.Fatalf("invalid TIMEZONE: %v", err)
	}
	if err := seedBookings(ctx, pool, zone, days, perDay, loc, logger); err != nil {
		logger.Fatalf("seed bookings: %v", err)
	}

	logger.Info("seed complete")
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool, zone string, logger observability.Logger) error {
	slots := booking.DefaultSlots(zone)
	logger.Infof("seeding %d slots in %s", len(slots), zone)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, s := range slots {
		_, err := tx.Exec(ctx, `
			INSERT INTO parking_slots (id, zone, occupied, created_at, updated_at)
			VALUES ($1, $2, false, now(), now())
			ON CONFLICT (id) DO NOTHING
		`, s.ID, s.Zone)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// seedBookings books random slots for fake users through the ledger, so the
// seeded data obeys the same overlap rules as real traffic.
func seedBookings(ctx context.Context, pool *pgxpool.Pool, zone string, days, perDay int, loc *time.Location, logger observability.Logger) error {
	store := booking.NewPgStore(pool)
	ledger := booking.NewLedger(store, nil, nil, nil, logger, 5*time.Second)

	slots, err := store.ListSlots(ctx, zone)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		return nil
	}

	today := booking.DateOf(time.Now().In(loc))
	start, err := today.Midnight(loc)
	if err != nil {
		return err
	}

	created, conflicts := 0, 0
	for d := 1; d <= days; d++ {
		date := booking.DateOf(start.AddDate(0, 0, d))
		for i := 0; i < perDay; i++ {
			preset := booking.PresetRanges[gofakeit.Number(0, len(booking.PresetRanges)-1)]
			rng, err := booking.ParsePreset(date, preset, loc)
			if err != nil {
				return err
			}

			_, err = ledger.TryReserve(ctx, booking.ReserveRequest{
				SlotID:    slots[gofakeit.Number(0, len(slots)-1)].ID,
				Date:      date,
				Range:     rng,
				UserEmail: gofakeit.Email(),
				Username:  gofakeit.Name(),
				Comment:   comments[gofakeit.Number(0, len(comments)-1)],
			})
			switch {
			case err == nil:
				created++
			case errors.Is(err, booking.ErrSlotConflict):
				conflicts++
			default:
				return err
			}
		}
		logger.Infof("bookings seeded: day %d/%d", d, days)
	}

	logger.WithField("created", created).WithField("conflicts", conflicts).Info("bookings seeded")
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
