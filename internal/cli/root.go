package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/hackgods/office-parking-reservations/internal/booking"
	"github.com/hackgods/office-parking-reservations/internal/kvstore"
	"github.com/hackgods/office-parking-reservations/internal/observability"
	"github.com/hackgods/office-parking-reservations/internal/remote"
)

type options struct {
	apiURL    string
	cachePath string
	email     string
	name      string
	zone      string
	timezone  string
	verbose   bool
}

// session is what every command works with once flags are parsed.
type session struct {
	opts   *options
	out    io.Writer
	client *remote.Client
	cache  *booking.CacheSync
	kv     *kvstore.SQLite
	loc    *time.Location
	logger observability.Logger
}

// NewRootCmd builds the parkctl command tree writing to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	s := &session{opts: opts, out: out}

	rootCmd := &cobra.Command{
		Use:   "parkctl",
		Short: "Book office parking slots",
		Long: `parkctl books and cancels office parking slots against the booking API.

Your own bookings are cached locally so "parkctl mine" works offline;
"parkctl sync" rebuilds that cache from the API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			s.close()
		},
	}

	rootCmd.SetOut(out)
	rootCmd.SetErr(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api", envOr("PARKCTL_API_URL", "http://localhost:8080"), "booking API base URL")
	flags.StringVar(&opts.cachePath, "cache", envOr("PARKCTL_CACHE", defaultCachePath()), "local booking cache file")
	flags.StringVar(&opts.email, "email", os.Getenv("PARKCTL_EMAIL"), "your email address")
	flags.StringVar(&opts.name, "name", os.Getenv("PARKCTL_NAME"), "your display name")
	flags.StringVar(&opts.zone, "zone", envOr("ZONE", booking.DefaultZone), "car park zone")
	flags.StringVar(&opts.timezone, "tz", envOr("TIMEZONE", "Local"), "timezone for dates and times")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		newSlotsCmd(s),
		newBookCmd(s),
		newCancelCmd(s),
		newMineCmd(s),
		newSyncCmd(s),
		newPresetsCmd(s),
	)
	return rootCmd
}

// Execute runs parkctl with the process arguments.
func Execute() {
	if err := NewRootCmd(os.Stdout).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func (s *session) open(ctx context.Context) error {
	level := "warn"
	if s.opts.verbose {
		level = "debug"
	}
	s.logger = observability.NewLogger(level).WithField("service", "parkctl")

	loc, err := time.LoadLocation(s.opts.timezone)
	if err != nil {
		return errors.Wrapf(err, "invalid --tz %q", s.opts.timezone)
	}
	s.loc = loc

	s.client = remote.NewClient(s.opts.apiURL,
		remote.WithLocation(loc),
		remote.WithLogger(s.logger.WithField("component", "client")),
	)

	kv, err := kvstore.OpenSQLite(ctx, s.opts.cachePath)
	if err != nil {
		return errors.Wrap(err, "open booking cache")
	}
	s.kv = kv
	s.cache = booking.NewCacheSync(kv, s.client, s.logger.WithField("component", "cache"))
	return nil
}

func (s *session) close() {
	if s.kv != nil {
		if err := s.kv.Close(); err != nil {
			s.logger.WithError(err).Error("error closing booking cache")
		}
		s.kv = nil
	}
}

func (s *session) requireEmail() error {
	if s.opts.email == "" {
		return errors.New("--email (or PARKCTL_EMAIL) is required")
	}
	return nil
}

// date parses a YYYY-MM-DD flag value; empty means today.
func (s *session) date(raw string) (booking.Date, error) {
	if raw == "" {
		return booking.DateOf(time.Now().In(s.loc)), nil
	}
	return booking.ParseDate(raw)
}

func (s *session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", "parkctl.db")
	}
	return filepath.Join(dir, "parkctl", "bookings.db")
}
