package console

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandia/internal/apiclient"
	"sandia/internal/schema"
	"sandia/internal/session"
)

// stubDriver answers prompts from scripted queues.
type stubDriver struct {
	mu       sync.Mutex
	inputs   []string
	selects  []int
	confirms []bool
	asked    []string
	help     map[string]string
	info     []string
}

func (d *stubDriver) next(msg string) {
	d.asked = append(d.asked, msg)
}

func (d *stubDriver) Input(_ context.Context, cfg InputConfig) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next(cfg.Message)
	if cfg.Help != "" {
		if d.help == nil {
			d.help = map[string]string{}
		}
		d.help[cfg.Message] = cfg.Help
	}
	if len(d.inputs) == 0 {
		return cfg.Default, nil
	}
	v := d.inputs[0]
	d.inputs = d.inputs[1:]
	if v == "" {
		v = cfg.Default
	}
	if cfg.Validator != nil {
		if err := cfg.Validator(v); err != nil {
			return "", err
		}
	}
	return v, nil
}

func (d *stubDriver) Password(ctx context.Context, cfg InputConfig) (string, error) {
	cfg.Default = ""
	return d.Input(ctx, cfg)
}

func (d *stubDriver) Confirm(_ context.Context, cfg ConfirmConfig) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next(cfg.Message)
	if len(d.confirms) == 0 {
		return cfg.Default, nil
	}
	v := d.confirms[0]
	d.confirms = d.confirms[1:]
	return v, nil
}

func (d *stubDriver) Select(_ context.Context, cfg SelectConfig) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next(cfg.Message)
	if len(d.selects) == 0 {
		return cfg.DefaultIndex, nil
	}
	v := d.selects[0]
	d.selects = d.selects[1:]
	return v, nil
}

func (d *stubDriver) Info(_ context.Context, msg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = append(d.info, msg)
	return nil
}

type apiStub struct {
	mu       sync.Mutex
	created  []map[string]any
	services []map[string]any
}

func newApp(t *testing.T, driver Driver, loggedIn bool) (*App, *apiStub, *bytes.Buffer) {
	t.Helper()
	stub := &apiStub{services: []map[string]any{{"id": 1, "nombre": "Payaso", "precio_base": "100.00"}}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/categorias/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			stub.mu.Lock()
			body["id"] = 10 + len(stub.created)
			stub.created = append(stub.created, body)
			stub.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(body)
			return
		}
		stub.mu.Lock()
		defer stub.mu.Unlock()
		_ = json.NewEncoder(w).Encode(append([]map[string]any{}, stub.created...))
	})
	mux.HandleFunc("/api/servicios/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(stub.services)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := apiclient.NewClient(srv.URL+"/api", nil)
	store := session.NewMemoryStore()
	if loggedIn {
		require.NoError(t, store.Save(context.Background(), map[string]string{session.KeyToken: "t", session.KeyIsAdmin: "true"}))
	}
	sessions := session.NewManager(store, client, zerolog.Nop())
	_, err := sessions.Restore(context.Background())
	require.NoError(t, err)
	client.UseCredentials(sessions)

	out := &bytes.Buffer{}
	return &App{
		Catalog:  schema.Default(),
		Client:   client,
		Sessions: sessions,
		Driver:   driver,
		Out:      out,
		Logger:   zerolog.Nop(),
	}, stub, out
}

func TestNewCategory(t *testing.T) {
	driver := &stubDriver{inputs: []string{"Juegos", "Inflables y más"}}
	app, stub, out := newApp(t, driver, true)

	require.NoError(t, app.Run(context.Background(), []string{"new", "categorias"}))
	require.Len(t, stub.created, 1)
	assert.Equal(t, "Juegos", stub.created[0]["nombre"])
	assert.Equal(t, true, stub.created[0]["activo"])
	assert.Contains(t, out.String(), `Category "Juegos" created successfully!`)
	assert.Equal(t, []string{"Name *", "Description"}, driver.asked)
}

func TestProtectedCommandsNeedLogin(t *testing.T) {
	app, _, _ := newApp(t, &stubDriver{}, false)
	err := app.Run(context.Background(), []string{"list", "category"})
	assert.ErrorIs(t, err, session.ErrNotLoggedIn)
}

func TestUsageErrors(t *testing.T) {
	app, _, _ := newApp(t, &stubDriver{}, true)
	ctx := context.Background()

	assert.ErrorIs(t, app.Run(ctx, nil), ErrUsage)
	assert.ErrorIs(t, app.Run(ctx, []string{"frobnicate"}), ErrUsage)
	assert.ErrorIs(t, app.Run(ctx, []string{"edit", "category"}), ErrUsage)
	assert.ErrorIs(t, app.Run(ctx, []string{"delete", "category", "x"}), ErrUsage)
}

func TestAdminDeleteShowsCuratedMessage(t *testing.T) {
	app, _, out := newApp(t, &stubDriver{}, true)
	ctx := context.Background()

	require.NoError(t, app.Run(ctx, []string{"admin"}))
	assert.Contains(t, out.String(), "Payaso")

	require.Error(t, app.Run(ctx, []string{"admin", "delete-service", "1"}))
	assert.Contains(t, out.String(), "cannot delete service: combos or reservation details reference it")
}

func TestListPrintsSummaries(t *testing.T) {
	driver := &stubDriver{inputs: []string{"Juegos", ""}}
	app, _, out := newApp(t, driver, true)
	ctx := context.Background()

	require.NoError(t, app.Run(ctx, []string{"new", "category"}))
	out.Reset()
	require.NoError(t, app.Run(ctx, []string{"list", "category"}))
	assert.Contains(t, out.String(), "#10")
	assert.Contains(t, out.String(), "No description")
}

func TestAlertNotifierBlocksUntilAcknowledged(t *testing.T) {
	driver := &stubDriver{}
	n := NewAlertNotifier(context.Background(), driver)
	n.Alert("could not connect to the server")

	assert.Equal(t, []string{"! could not connect to the server"}, driver.info)
	assert.Equal(t, []string{"press enter to continue"}, driver.asked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewAlertNotifier(ctx, driver).Alert("late")
	assert.Len(t, driver.info, 1)
}
