package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/config"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/events"
)

const catalog = `project_name,type,parent,name,description,order,status,priority,prerequisites,expected_result
Shop,project,,Shop,Web shop,,,,,
Shop,suite,Shop,Login,,,,,,
Shop,case,Login,Valid login,User logs in,,ACTIVE,HIGH,,
Shop,step,Valid login,,Open login page,1,,,,Form is shown
`

type testApp struct {
	*App
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	color.NoColor = true
	dbPath := filepath.Join(t.TempDir(), "cli.db")
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	a := &App{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Fs:     afero.NewMemMapFs(),
		Stdout: stdout,
		Stderr: stderr,
		loadConfig: func() (*config.Config, error) {
			return &config.Config{
				StorageDriver:  config.DriverSQLite,
				SQLite_Path:    dbPath,
				LogLevel:       "error",
				RequestTimeout: time.Second,
			}, nil
		},
	}
	return &testApp{App: a, stdout: stdout, stderr: stderr}
}

func (ta *testApp) run(t *testing.T, args ...string) error {
	t.Helper()
	ta.stdout.Reset()
	ta.stderr.Reset()
	cmd := NewRootCommand(ta.App)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestMigrate(t *testing.T) {
	ta := newTestApp(t)
	require.NoError(t, ta.run(t, "migrate"))
	assert.Equal(t, "schema is up to date (sqlite)\n", ta.stdout.String())
}

func TestCSVImportExport(t *testing.T) {
	ta := newTestApp(t)
	require.NoError(t, afero.WriteFile(ta.Fs, "/data/catalog.csv", []byte(catalog), 0o644))

	require.NoError(t, ta.run(t, "csv", "import", "/data/catalog.csv"))
	assert.Contains(t, ta.stdout.String(), "imported 4 rows (projects: 1, suites: 1, cases: 1, steps: 1)")

	require.NoError(t, ta.run(t, "csv", "export", "-o", "/out/catalog.csv"))
	written, err := afero.ReadFile(ta.Fs, "/out/catalog.csv")
	require.NoError(t, err)
	assert.Equal(t, catalog, string(written))
	assert.Contains(t, ta.stderr.String(), "wrote /out/catalog.csv")

	require.NoError(t, ta.run(t, "csv", "export", "--project", "1"))
	assert.Equal(t, catalog, ta.stdout.String())

	require.NoError(t, ta.run(t, "csv", "export", "--project", "1", "--upload"))
	assert.Equal(t, "mem://exports/test_data_1.csv\n", ta.stdout.String())

	err = ta.run(t, "csv", "export", "--project", "42")
	assert.EqualError(t, err, "project 42 not found")
}

func TestCSVImportErrors(t *testing.T) {
	ta := newTestApp(t)

	err := ta.run(t, "csv", "import", "/missing.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open /missing.csv")

	require.NoError(t, afero.WriteFile(ta.Fs, "/bad.csv", []byte("project_name,type\nShop,project\n"), 0o644))
	err = ta.run(t, "csv", "import", "-q", "/bad.csv")
	require.Error(t, err)
	assert.Contains(t, ta.stderr.String(), "import failed")

	err = ta.run(t, "csv", "import")
	assert.Error(t, err)
}

func TestEventsTailRequiresBroker(t *testing.T) {
	ta := newTestApp(t)
	err := ta.run(t, "events", "tail")
	assert.EqualError(t, err, "RABBITMQ_URL is required to tail events")
}

type fakeAck struct {
	acked, nacked bool
}

func (f *fakeAck) Ack() error             { f.acked = true; return nil }
func (f *fakeAck) Nack(requeue bool) error { f.nacked = true; return nil }

// fakeSubscriber hands out queued events, then reports an empty queue.
type fakeSubscriber struct {
	queue []events.Event
	acks  []*fakeAck
	polls int
}

func (f *fakeSubscriber) Next(ctx context.Context, queue string) (*events.Event, events.AckNacker, error) {
	f.polls++
	if len(f.queue) == 0 {
		return nil, nil, nil
	}
	ev := f.queue[0]
	f.queue = f.queue[1:]
	ack := &fakeAck{}
	f.acks = append(f.acks, ack)
	return &ev, ack, nil
}

func TestTailEvents(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	sub := &fakeSubscriber{queue: []events.Event{
		events.New(events.TypeSessionCreated, 1, 7, at),
		events.New(events.TypeSessionCompleted, 1, 7, at),
	}}
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, tailEvents(context.Background(), sub, "q", &out, time.Millisecond, 2, logger))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"type":"session.created"`)
	assert.Contains(t, lines[1], `"type":"session.completed"`)
	for _, ack := range sub.acks {
		assert.True(t, ack.acked)
	}
}

func TestTailEventsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sub := &fakeSubscriber{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := tailEvents(ctx, sub, "q", io.Discard, time.Millisecond, 0, logger)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Greater(t, sub.polls, 1)
}
