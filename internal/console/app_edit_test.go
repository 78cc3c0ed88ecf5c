package console

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandia/internal/apiclient"
	"sandia/internal/schema"
	"sandia/internal/session"
)

// restBackend serves /api/{resource}/ and /api/{resource}/{id}/ from memory.
type restBackend struct {
	mu    sync.Mutex
	data  map[string][]map[string]any
	calls []string
	puts  map[string]map[string]any
}

func (b *restBackend) called(prefix string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (b *restBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api"), "/"), "/")
	resource := parts[0]
	var id int64
	if len(parts) > 1 {
		id, _ = strconv.ParseInt(parts[1], 10, 64)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, r.Method+" "+r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	find := func() int {
		for i, rec := range b.data[resource] {
			if rec["id"] == id {
				return i
			}
		}
		return -1
	}
	switch {
	case r.Method == http.MethodGet && id == 0:
		_ = json.NewEncoder(w).Encode(b.data[resource])
	case r.Method == http.MethodGet:
		if i := find(); i >= 0 {
			_ = json.NewEncoder(w).Encode(b.data[resource][i])
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPut:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.puts[r.URL.Path] = body
		body["id"] = id
		if i := find(); i >= 0 {
			b.data[resource][i] = body
		}
		_ = json.NewEncoder(w).Encode(body)
	case r.Method == http.MethodDelete:
		i := find()
		if i < 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		b.data[resource] = append(b.data[resource][:i], b.data[resource][i+1:]...)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newRESTApp(t *testing.T, driver Driver) (*App, *restBackend, *bytes.Buffer) {
	t.Helper()
	backend := &restBackend{
		puts: map[string]map[string]any{},
		data: map[string][]map[string]any{
			"usuarios": {
				{"id": int64(2), "nombre": "Ana", "apellido": "Ruiz", "telefono": "555", "email": "ana@example.com", "activo": true},
			},
			"reservas": {
				{"id": int64(1), "codigo_reserva": "R-1", "total": "100.00"},
				{"id": int64(3), "codigo_reserva": "R-3", "total": "300.00"},
			},
			"pagos": {
				{"id": int64(7), "reserva": int64(3), "monto": "300.00", "metodo_pago": "Efectivo", "estado_pago": "COMPLETADO"},
			},
			"categorias": {
				{"id": int64(4), "nombre": "Juegos", "descripcion": "", "activo": true},
			},
		},
	}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	client := apiclient.NewClient(srv.URL+"/api", nil)
	store := session.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), map[string]string{session.KeyToken: "t", session.KeyIsAdmin: "true"}))
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
	}, backend, out
}

func TestEditPaymentKeepsLockedReservation(t *testing.T) {
	driver := &stubDriver{}
	app, backend, out := newRESTApp(t, driver)

	require.NoError(t, app.Run(context.Background(), []string{"edit", "pagos", "7"}))

	assert.Contains(t, out.String(), "Reservation: 3 (locked)")
	assert.NotContains(t, driver.asked, "Reservation *")
	assert.Contains(t, out.String(), "Payment ID 7 updated!")

	body := backend.puts["/api/pagos/7/"]
	require.NotNil(t, body)
	assert.Equal(t, float64(3), body["reserva"])
	assert.Equal(t, "Efectivo", body["metodo_pago"])
	assert.Equal(t, "COMPLETADO", body["estado_pago"])
}

func TestEditUserWithBlankPassword(t *testing.T) {
	driver := &stubDriver{inputs: []string{"Ana María"}}
	app, backend, out := newRESTApp(t, driver)

	require.NoError(t, app.Run(context.Background(), []string{"edit", "usuarios", "2"}))

	assert.Equal(t, []string{"First name *", "Last name", "Phone", "Email *", "Password"}, driver.asked)
	assert.Equal(t, "leave blank to keep the current password", driver.help["Password"])
	assert.Contains(t, out.String(), "User Ana María Ruiz updated!")

	body := backend.puts["/api/usuarios/2/"]
	require.NotNil(t, body)
	assert.Equal(t, "Ana María", body["nombre"])
	assert.Equal(t, "ana@example.com", body["email"])
	assert.NotContains(t, body, "contrasena")
}

func TestEditMissingRecord(t *testing.T) {
	app, backend, out := newRESTApp(t, &stubDriver{})

	require.Error(t, app.Run(context.Background(), []string{"edit", "categorias", "99"}))
	assert.Contains(t, out.String(), "could not load category for editing")
	assert.False(t, backend.called(http.MethodPut))
}

func TestDeleteDeclinedPrintsCancelled(t *testing.T) {
	driver := &stubDriver{confirms: []bool{false}}
	app, backend, out := newRESTApp(t, driver)

	require.NoError(t, app.Run(context.Background(), []string{"delete", "categorias", "4"}))

	assert.Equal(t, []string{"Delete category ID 4?"}, driver.asked)
	assert.Equal(t, "cancelled\n", out.String())
	assert.False(t, backend.called(http.MethodDelete))
	assert.Len(t, backend.data["categorias"], 1)
}

func TestDeleteConfirmed(t *testing.T) {
	driver := &stubDriver{confirms: []bool{true}}
	app, backend, out := newRESTApp(t, driver)

	require.NoError(t, app.Run(context.Background(), []string{"delete", "categorias", "4"}))

	assert.Contains(t, out.String(), "Category ID 4 deleted successfully.")
	assert.True(t, backend.called("DELETE /api/categorias/4/"))
	assert.Empty(t, backend.data["categorias"])
}
