package telegraph

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/davidhoung2/helpbot/internal/config"
	"github.com/davidhoung2/helpbot/internal/db"
	"github.com/davidhoung2/helpbot/internal/models"
	"github.com/davidhoung2/helpbot/internal/outcome"
	"github.com/davidhoung2/helpbot/internal/pipeline"
	"github.com/davidhoung2/helpbot/internal/store"
)

var taipei = time.FixedZone("CST", 8*3600)

const exampleMessage = "12/17\n軍K-20539 9A觀測所佈覽用車\n車長：上士曾智偉\n駕駛：上士周宗暘"

func newTestService(t *testing.T) (*pipeline.Service, *store.Store) {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	st, err := store.New(store.Opts{DB: gdb})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	svc, err := pipeline.New(pipeline.Opts{
		Store:    st,
		Location: taipei,
		Now:      func() time.Time { return time.Date(2025, 11, 10, 9, 0, 0, 0, taipei) },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, st
}

func seedDispatch(t *testing.T, st *store.Store, rec *models.Dispatch) uint {
	t.Helper()
	res, err := st.Upsert(context.Background(), rec)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return res.ID
}

// brokenService fails every call.
type brokenService struct{}

var errBroken = errors.New("database is locked")

func (brokenService) HandleMessage(context.Context, pipeline.Message) (outcome.Signal, error) {
	return outcome.Signal{}, errBroken
}
func (brokenService) ListActive(context.Context, string) ([]models.Dispatch, error) {
	return nil, errBroken
}
func (brokenService) DeleteByID(context.Context, uint) error { return errBroken }
func (brokenService) EditField(context.Context, uint, string, string) (*models.Dispatch, error) {
	return nil, errBroken
}
func (brokenService) PurgeNow(context.Context) (int, error) { return 0, errBroken }
func (brokenService) Location() *time.Location            { return taipei }

// plainAdapter is an Adapter without reaction support.
type plainAdapter struct {
	m *MockAdapter
}

func (p plainAdapter) Connect(ctx context.Context) error { return p.m.Connect(ctx) }
func (p plainAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	return p.m.Listen(ctx)
}
func (p plainAdapter) Send(ctx context.Context, msg OutboundMessage) error { return p.m.Send(ctx, msg) }
func (p plainAdapter) Close() error                                       { return p.m.Close() }

func itoa(id uint) string { return strconv.FormatUint(uint64(id), 10) }
