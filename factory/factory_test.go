package factory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cashgame-ledger/config"
	"github.com/warp/cashgame-ledger/ledger/store"
	"github.com/warp/cashgame-ledger/store/sqlite"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Driver = config.DriverMemory
	return cfg
}

func TestNew_Memory(t *testing.T) {
	app, err := New(context.Background(), memoryConfig(), nil)
	require.NoError(t, err)
	defer app.Close()

	assert.IsType(t, &store.Memory{}, app.Store)
	assert.Nil(t, app.Handler.Resetter)

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scenarios", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_ScenariosEnabled(t *testing.T) {
	cfg := memoryConfig()
	cfg.Server.EnableScenarios = true

	app, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scenarios/heads-up", nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestNew_SQLiteFile(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = config.DriverSQLite
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "ledger.db")

	app, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.IsType(t, &sqlite.Store{}, app.Store)
	require.NoError(t, app.Close())
	assert.NoError(t, app.Close(), "second close is a no-op")
}

func TestNew_RedisCache(t *testing.T) {
	// GIVEN: A reachable Redis
	mini := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mini.Addr()

	app, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	// WHEN: A session is finalized
	ctx := context.Background()
	view, err := app.Service.CreateSession(ctx, "")
	require.NoError(t, err)
	sid := view.Snapshot.Session.ID
	p, err := app.Service.AddPlayer(ctx, sid, "A", nil)
	require.NoError(t, err)
	_, err = app.Service.AddBuyin(ctx, sid, p.ID, decimal.NewFromInt(20))
	require.NoError(t, err)
	_, err = app.Service.StartChipEntry(ctx, sid)
	require.NoError(t, err)
	_, err = app.Service.AddCashout(ctx, sid, p.ID, decimal.NewFromInt(20))
	require.NoError(t, err)
	_, err = app.Service.Finalize(ctx, sid)
	require.NoError(t, err)

	// THEN: The summary lands in Redis
	assert.True(t, mini.Exists("session:"+string(sid)+":summary"))
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := memoryConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	app, err := New(context.Background(), cfg, nil)

	assert.Nil(t, app)
	assert.ErrorContains(t, err, "connecting to redis")
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, _, err := OpenStore(context.Background(), &config.StoreConfig{Driver: "mongo"}, nil)

	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "mongo"))
}
