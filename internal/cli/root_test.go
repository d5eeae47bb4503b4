package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/office-parking-reservations/internal/api"
	"github.com/hackgods/office-parking-reservations/internal/booking"
	"github.com/hackgods/office-parking-reservations/internal/remote"
)

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	store := booking.NewMemoryStore(booking.DefaultSlots(booking.DefaultZone)...)
	ledger := booking.NewLedger(store, nil, nil, nil, nil, time.Second)
	svc := booking.NewService(
		ledger,
		booking.NewCatalog(ledger, nil),
		booking.NewCacheSync(booking.NewMemoryKV(), ledger, nil),
		booking.ServiceConfig{Location: time.UTC},
		nil,
	)
	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{Service: svc, Env: "test"}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, apiURL, cache string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(&out)
	cmd.SetArgs(append([]string{
		"--api", apiURL,
		"--cache", cache,
		"--tz", "UTC",
		"--email", "dev@example.com",
		"--name", "dev",
	}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

var bookingIDPattern = regexp.MustCompile(`\(booking ([^)]+)\)`)

func TestBookListAndCancel(t *testing.T) {
	srv := newAPI(t)
	cache := filepath.Join(t.TempDir(), "bookings.db")

	out, err := run(t, srv.URL, cache, "book", "--slot", "P02", "--date", "2025-11-20", "--range", "09:00 - 17:00")
	require.NoError(t, err)
	assert.Contains(t, out, "Booked P02 on 2025-11-20 09:00-17:00")
	m := bookingIDPattern.FindStringSubmatch(out)
	require.Len(t, m, 2)
	id := m[1]

	_, err = run(t, srv.URL, cache, "book", "--slot", "P02", "--date", "2025-11-20", "--range", "10:00 - 16:00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already booked 09:00-17:00")

	out, err = run(t, srv.URL, cache, "mine")
	require.NoError(t, err)
	assert.Contains(t, out, "P02")
	assert.Contains(t, out, id)

	out, err = run(t, srv.URL, cache, "cancel", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled booking "+id)

	out, err = run(t, srv.URL, cache, "mine")
	require.NoError(t, err)
	assert.Contains(t, out, "No bookings.")
}

func TestMineServesCacheWhileAPIIsDown(t *testing.T) {
	srv := newAPI(t)
	cache := filepath.Join(t.TempDir(), "bookings.db")

	_, err := run(t, srv.URL, cache, "book", "--random", "--date", "2025-11-20")
	require.NoError(t, err)
	srv.Close()

	out, err := run(t, srv.URL, cache, "mine")
	require.NoError(t, err)
	assert.Contains(t, out, "2025-11-20")
	assert.Contains(t, out, "08:00-18:00")
}

func TestSyncRebuildsEmptyCache(t *testing.T) {
	srv := newAPI(t)
	dir := t.TempDir()

	_, err := run(t, srv.URL, filepath.Join(dir, "first.db"), "book", "--slot", "P07", "--date", "2025-11-21")
	require.NoError(t, err)

	out, err := run(t, srv.URL, filepath.Join(dir, "second.db"), "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "1 confirmed bookings")
}

func TestBookNeedsOneTarget(t *testing.T) {
	srv := newAPI(t)
	cache := filepath.Join(t.TempDir(), "bookings.db")

	_, err := run(t, srv.URL, cache, "book", "--date", "2025-11-20")
	assert.ErrorContains(t, err, "exactly one of --slot or --random")

	_, err = run(t, srv.URL, cache, "book", "--slot", "P01", "--random")
	assert.ErrorContains(t, err, "exactly one of --slot or --random")
}

func TestSlotsShowsTakenRanges(t *testing.T) {
	srv := newAPI(t)
	cache := filepath.Join(t.TempDir(), "bookings.db")

	_, err := run(t, srv.URL, cache, "book", "--slot", "P03", "--date", "2025-11-20", "--range", "10:00 - 16:00")
	require.NoError(t, err)

	out, err := run(t, srv.URL, cache, "slots", "--date", "2025-11-20", "--range", "09:00 - 17:00")
	require.NoError(t, err)
	assert.Regexp(t, `P03\s+taken\s+10:00-16:00`, out)
	assert.Regexp(t, `P04\s+free`, out)
}

// readOnlyKV holds nothing and refuses writes.
type readOnlyKV struct{}

func (readOnlyKV) Get(context.Context, string) ([]byte, error) {
	return nil, booking.ErrKeyNotFound
}

func (readOnlyKV) Put(context.Context, string, []byte) error {
	return errors.New("read-only file system")
}

func TestMineWarnsWhenCacheCannotBeWritten(t *testing.T) {
	srv := newAPI(t)
	_, err := run(t, srv.URL, filepath.Join(t.TempDir(), "bookings.db"), "book", "--slot", "P04", "--date", "2025-11-20")
	require.NoError(t, err)

	var out bytes.Buffer
	client := remote.NewClient(srv.URL, remote.WithLocation(time.UTC))
	s := &session{
		opts:   &options{email: "dev@example.com"},
		out:    &out,
		client: client,
		cache:  booking.NewCacheSync(readOnlyKV{}, client, nil),
		loc:    time.UTC,
	}
	cmd := newMineCmd(s)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "warning: local cache not updated")
	assert.Contains(t, out.String(), "read-only file system")
	assert.Contains(t, out.String(), "P04")
}
