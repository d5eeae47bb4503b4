package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/office-parking-reservations/internal/booking"
	"github.com/hackgods/office-parking-reservations/internal/db"
	"github.com/hackgods/office-parking-reservations/internal/observability"
	"github.com/hackgods/office-parking-reservations/internal/remote"
)

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	Users       int
	Days        int
	Zone        string
	BookRatio   float64
	RandomRatio float64
	CancelRatio float64
	ReadRatio   float64
	PostgresDSN string
	Location    *time.Location
}

type user struct {
	Name  string
	Email string
}

// DataPool holds the simulated users and the bookings they currently hold.
type DataPool struct {
	Users []user
	Slots []string
	Dates []booking.Date

	mu       sync.Mutex
	bookings []booking.Booking
}

func (dp *DataPool) AddBooking(b booking.Booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

// TakeRandomBooking removes and returns a random held booking.
func (dp *DataPool) TakeRandomBooking(rng *rand.Rand) (booking.Booking, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.bookings) == 0 {
		return booking.Booking{}, false
	}
	idx := rng.Intn(len(dp.bookings))
	b := dp.bookings[idx]
	dp.bookings[idx] = dp.bookings[len(dp.bookings)-1]
	dp.bookings = dp.bookings[:len(dp.bookings)-1]
	return b, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Reserve      OperationMetrics
	ReserveAny   OperationMetrics
	Cancel       OperationMetrics
	Availability OperationMetrics
	MyBookings   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *remote.Client
	logger  observability.Logger
	metrics Metrics
}

func main() {
	logger := observability.NewLogger(getEnv("LOG_LEVEL", "info")).WithField("service", "simulate")
	logger.Info("simulator starting")

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	logger.Infof("config: duration=%s workers=%d users=%d book=%.2f random=%.2f cancel=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.Users, cfg.BookRatio, cfg.RandomRatio, cfg.CancelRatio, cfg.ReadRatio)

	client := remote.NewClient(cfg.APIBaseURL,
		remote.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
		remote.WithLocation(cfg.Location),
		remote.WithLogger(logger.WithField("component", "client")),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dataPool, err := loadDataPool(ctx, client, cfg)
	if err != nil {
		logger.Fatalf("load data pool: %v", err)
	}
	logger.Infof("loaded: %d users, %d slots, %d dates", len(dataPool.Users), len(dataPool.Slots), len(dataPool.Dates))

	sim := &Simulator{config: cfg, pool: dataPool, client: client, logger: logger}
	if err := sim.Run(); err != nil {
		logger.Fatalf("simulation failed: %v", err)
	}
	sim.PrintReport()

	if cfg.PostgresDSN != "" {
		if err := audit(cfg.PostgresDSN, logger); err != nil {
			logger.Fatalf("audit failed: %v", err)
		}
	}
}

func loadConfig() (SimConfig, error) {
	loc, err := time.LoadLocation(getEnv("TIMEZONE", "UTC"))
	if err != nil {
		return SimConfig{}, errors.Wrap(err, "invalid TIMEZONE")
	}

	cfg := SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 10),
		Users:       getInt("SIM_USERS", 50),
		Days:        getInt("SIM_DAYS", 3),
		Zone:        getEnv("ZONE", booking.DefaultZone),
		BookRatio:   getFloat("SIM_BOOK_RATIO", 0.4),
		RandomRatio: getFloat("SIM_RANDOM_RATIO", 0.2),
		CancelRatio: getFloat("SIM_CANCEL_RATIO", 0.15),
		ReadRatio:   getFloat("SIM_READ_RATIO", 0.25),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		Location:    loc,
	}

	// Normalize ratios
	total := cfg.BookRatio + cfg.RandomRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookRatio /= total
		cfg.RandomRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	if cfg.Workers <= 0 {
		return cfg, errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return cfg, errors.New("SIM_DURATION must be > 0")
	}
	if cfg.Users <= 0 || cfg.Days <= 0 {
		return cfg, errors.New("SIM_USERS and SIM_DAYS must be > 0")
	}
	return cfg, nil
}

func loadDataPool(ctx context.Context, client *remote.Client, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	today := time.Now().In(cfg.Location)
	for d := 1; d <= cfg.Days; d++ {
		dataPool.Dates = append(dataPool.Dates, booking.DateOf(today.AddDate(0, 0, d)))
	}

	slots, err := client.FetchSlots(ctx, cfg.Zone, dataPool.Dates[0])
	if err != nil {
		return nil, errors.Wrap(err, "load slots")
	}
	for _, s := range slots {
		dataPool.Slots = append(dataPool.Slots, s.ID)
	}
	if len(dataPool.Slots) == 0 {
		return nil, errors.Newf("no slots in zone %s", cfg.Zone)
	}

	for i := 0; i < cfg.Users; i++ {
		dataPool.Users = append(dataPool.Users, user{Name: gofakeit.Name(), Email: gofakeit.Email()})
	}
	return dataPool, nil
}

func (s *Simulator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Infof("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(ctx, workerID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("simulation complete")
	return nil
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < c.BookRatio:
			s.doReserve(ctx, rng)
		case r < c.BookRatio+c.RandomRatio:
			s.doReserveAny(ctx, rng)
		case r < c.BookRatio+c.RandomRatio+c.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doAvailability(ctx, rng)
			} else {
				s.doMyBookings(ctx, rng)
			}
		}
	}
}

func (s *Simulator) pick(rng *rand.Rand) (user, booking.Date, booking.TimeRange, error) {
	u := s.pool.Users[rng.Intn(len(s.pool.Users))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]
	preset := booking.PresetRanges[rng.Intn(len(booking.PresetRanges))]
	tr, err := booking.ParsePreset(date, preset, s.config.Location)
	return u, date, tr, err
}

func (s *Simulator) doReserve(ctx context.Context, rng *rand.Rand) {
	u, date, tr, err := s.pick(rng)
	if err != nil {
		return
	}
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	b, err := s.client.CreateBooking(ctx, booking.ReserveRequest{
		SlotID:    slotID,
		Date:      date,
		Range:     tr,
		UserEmail: u.Email,
		Username:  u.Name,
	})
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	if err == nil {
		s.pool.AddBooking(*b)
	}
	s.metrics.Reserve.Record(latency, err == nil, isBusy(err))
}

func (s *Simulator) doReserveAny(ctx context.Context, rng *rand.Rand) {
	u, date, tr, err := s.pick(rng)
	if err != nil {
		return
	}

	start := time.Now()
	b, err := s.client.ReserveRandom(ctx, booking.AnyRequest{
		Zone:      s.config.Zone,
		Date:      date,
		Range:     tr,
		UserEmail: u.Email,
		Username:  u.Name,
	})
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	if err == nil {
		s.pool.AddBooking(*b)
	}
	s.metrics.ReserveAny.Record(latency, err == nil, isBusy(err) || errors.Is(err, booking.ErrNoSlotAvailable))
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeRandomBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	err := s.client.SubmitCancellation(ctx, b)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Cancel.Record(latency, err == nil, false)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	_, date, tr, err := s.pick(rng)
	if err != nil {
		return
	}

	start := time.Now()
	_, err = s.client.Availability(ctx, s.config.Zone, date, &tr)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Availability.Record(latency, err == nil, false)
}

func (s *Simulator) doMyBookings(ctx context.Context, rng *rand.Rand) {
	u := s.pool.Users[rng.Intn(len(s.pool.Users))]

	start := time.Now()
	_, err := s.client.ConfirmedForUser(ctx, u.Email)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}
	s.metrics.MyBookings.Record(latency, err == nil, false)
}

// isBusy reports the expected losing outcomes of a race for a slot.
func isBusy(err error) bool {
	if errors.Is(err, booking.ErrSlotConflict) {
		return true
	}
	var se *remote.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusConflict
}

// audit checks the ledger for overlapping confirmed bookings on the same slot.
func audit(dsn string, logger observability.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	defer pool.Close()

	overlaps, err := booking.NewPgStore(pool).OverlappingConfirmed(ctx)
	if err != nil {
		return err
	}
	if overlaps > 0 {
		return errors.Newf("%d overlapping confirmed booking pairs found", overlaps)
	}
	logger.Info("audit passed: no overlapping confirmed bookings")
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 96))
	fmt.Printf("SIMULATION REPORT  duration=%s workers=%d users=%d\n", s.config.Duration, s.config.Workers, s.config.Users)
	fmt.Println(strings.Repeat("=", 96))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "operation\ttotal\tok\tbusy\tfailed\tavg\tp50\tp95\tmax\t")
	for _, row := range []struct {
		name string
		om   *OperationMetrics
	}{
		{"reserve slot", &s.metrics.Reserve},
		{"reserve any", &s.metrics.ReserveAny},
		{"cancel", &s.metrics.Cancel},
		{"availability", &s.metrics.Availability},
		{"my bookings", &s.metrics.MyBookings},
	} {
		total := atomic.LoadInt64(&row.om.Total)
		if total == 0 {
			continue
		}
		avg, _, max, p50, p95 := row.om.Stats()
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			row.name, total,
			share(atomic.LoadInt64(&row.om.Success), total),
			share(atomic.LoadInt64(&row.om.Conflict), total),
			share(atomic.LoadInt64(&row.om.Error), total),
			avg.Round(time.Millisecond), p50.Round(time.Millisecond),
			p95.Round(time.Millisecond), max.Round(time.Millisecond))
	}
	_ = w.Flush()
	fmt.Println()
}

func share(n, total int64) string {
	return fmt.Sprintf("%d (%.1f%%)", n, float64(n)/float64(total)*100)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
