package form

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sandia/internal/apiclient"
	"sandia/internal/schema"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, id int64) (apiclient.Record, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(apiclient.Record), args.Error(1)
}

func (m *mockStore) Create(ctx context.Context, payload apiclient.Record) (apiclient.Record, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(apiclient.Record), args.Error(1)
}

func (m *mockStore) Update(ctx context.Context, id int64, payload apiclient.Record) (apiclient.Record, error) {
	args := m.Called(ctx, id, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(apiclient.Record), args.Error(1)
}

func sample(f schema.Field) any {
	switch f.Kind {
	case schema.KindNumber:
		return json.Number("1")
	case schema.KindReference:
		return int64(1)
	case schema.KindDate:
		return "2025-01-10"
	case schema.KindTime:
		return "10:00"
	case schema.KindDateTime:
		return "2025-01-10T10:00"
	case schema.KindChoice:
		return f.Options[0]
	case schema.KindPassword:
		return "secret"
	default:
		return "x"
	}
}

func fill(t *testing.T, c *Controller) {
	t.Helper()
	for _, f := range c.Entity().Fields {
		if f.Required || f.RequiredOnCreate {
			if f.LockedOnEdit && c.Editing() {
				continue
			}
			require.NoError(t, c.Set(f.Name, sample(f)))
		}
	}
}

func TestSubmitCreatesOrUpdatesByIdentifier(t *testing.T) {
	ctx := context.Background()

	for _, e := range schema.Default().Entities() {
		t.Run(e.Name+" create", func(t *testing.T) {
			store := &mockStore{}
			store.On("Create", ctx, mock.Anything).Return(apiclient.Record{"id": json.Number("11")}, nil).Once()

			c := New(e, store, zerolog.Nop())
			fill(t, c)
			res, err := c.Submit(ctx)
			require.NoError(t, err)
			assert.Equal(t, ActionCreate, res.Action)
			assert.Equal(t, int64(11), res.ID)
			assert.NotEmpty(t, res.Message)

			store.AssertExpectations(t)
			store.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
		})

		t.Run(e.Name+" update", func(t *testing.T) {
			stored := apiclient.Record{"id": json.Number("5")}
			for _, f := range e.Fields {
				if !f.WriteOnly {
					stored[f.Name] = sample(f)
				}
			}
			store := &mockStore{}
			store.On("Get", ctx, int64(5)).Return(stored, nil).Once()
			store.On("Update", ctx, int64(5), mock.Anything).Return(stored, nil).Once()

			c := New(e, store, zerolog.Nop())
			require.NoError(t, c.BeginEdit(ctx, 5))
			res, err := c.Submit(ctx)
			require.NoError(t, err)
			assert.Equal(t, ActionUpdate, res.Action)
			assert.Equal(t, int64(5), res.ID)

			store.AssertExpectations(t)
			store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := schema.Default().MustLookup(schema.Service)
	store := &mockStore{}
	store.On("Get", ctx, int64(2)).Return(apiclient.Record{"id": 2, "nombre": "Payaso", "precio_base": "300.00"}, nil)

	c := New(e, store, zerolog.Nop())
	require.NoError(t, c.BeginEdit(ctx, 2))
	require.True(t, c.Editing())

	c.Clear()
	once := c.Draft()
	_, editingOnce := c.ID()

	c.Clear()
	assert.Equal(t, once, c.Draft())
	_, editingTwice := c.ID()
	assert.False(t, editingOnce)
	assert.False(t, editingTwice)
	assert.Equal(t, e.Defaults(), c.Draft())
}

func TestEditRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := schema.Default()

	records := map[string]apiclient.Record{
		schema.Reservation: {
			"id": json.Number("9"), "cliente": json.Number("2"), "horario": json.Number("4"),
			"codigo_reserva": "R-009", "fecha_evento": "2025-03-01", "fecha_inicio": "15:00:00",
			"direccion_evento": "Av. Siempre Viva 742", "total": "450.00", "estado": "CONFIRMADA",
			"subtotal": "450.00", "descuento": "0.00", "impuestos": "0.00",
		},
		schema.Service: {
			"id": json.Number("3"), "nombre": "Inflable", "descripcion": "", "precio_base": "120.50",
			"duracion_horas": json.Number("0"), "capacidad_persona": json.Number("20"), "categoria": nil,
			"disponible": true,
		},
		schema.User: {
			"id": json.Number("2"), "nombre": "Ana", "apellido": "Ruiz", "telefono": "0991",
			"email": "ana@example.com", "activo": true,
		},
		schema.Promotion: {
			"id": json.Number("1"), "nombre": "Verano", "descripcion": "x",
			"descuento_porcentaje": "10.00", "descuento_monto": nil,
			"fecha_inicio": "2025-01-01T00:00:00Z", "fecha_fin": "2025-02-01T00:00:00Z",
		},
	}

	for name, rec := range records {
		t.Run(name, func(t *testing.T) {
			e := c.MustLookup(name)
			id, _ := rec.ID()

			var sent apiclient.Record
			store := &mockStore{}
			store.On("Get", ctx, id).Return(rec, nil)
			store.On("Update", ctx, id, mock.Anything).
				Run(func(args mock.Arguments) { sent = args.Get(2).(apiclient.Record) }).
				Return(rec, nil)

			ctrl := New(e, store, zerolog.Nop())
			require.NoError(t, ctrl.BeginEdit(ctx, id))
			_, err := ctrl.Submit(ctx)
			require.NoError(t, err)

			for _, f := range e.Fields {
				if f.WriteOnly {
					assert.NotContains(t, sent, f.Name)
					continue
				}
				assert.Equal(t, rec[f.Name], sent[f.Name], f.Name)
			}
		})
	}
}

func TestUserPassword(t *testing.T) {
	ctx := context.Background()
	e := schema.Default().MustLookup(schema.User)

	t.Run("create without password sends nothing", func(t *testing.T) {
		store := &mockStore{}
		c := New(e, store, zerolog.Nop())
		require.NoError(t, c.Set("nombre", "Ana"))
		require.NoError(t, c.Set("email", "ana@example.com"))

		_, err := c.Submit(ctx)
		require.ErrorIs(t, err, ErrRequired)
		assert.Equal(t, "password is required to create a user", c.Error())
		assert.Equal(t, "Ana", c.Draft()["nombre"])
		store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("update without password omits the key", func(t *testing.T) {
		store := &mockStore{}
		store.On("Get", ctx, int64(2)).Return(apiclient.Record{
			"id": 2, "nombre": "Ana", "apellido": "Ruiz", "email": "ana@example.com", "contrasena": "hash",
		}, nil)
		store.On("Update", ctx, int64(2), mock.MatchedBy(func(p apiclient.Record) bool {
			_, has := p["contrasena"]
			return !has && p["activo"] == true
		})).Return(apiclient.Record{}, nil).Once()

		c := New(e, store, zerolog.Nop())
		require.NoError(t, c.BeginEdit(ctx, 2))
		assert.Equal(t, "", c.Draft()["contrasena"])

		res, err := c.Submit(ctx)
		require.NoError(t, err)
		assert.Equal(t, "User Ana Ruiz updated!", res.Message)
		store.AssertExpectations(t)
	})

	t.Run("update with password sends it", func(t *testing.T) {
		store := &mockStore{}
		store.On("Get", ctx, int64(2)).Return(apiclient.Record{"id": 2, "nombre": "Ana", "email": "a@b.c"}, nil)
		store.On("Update", ctx, int64(2), mock.MatchedBy(func(p apiclient.Record) bool {
			return p["contrasena"] == "n3w"
		})).Return(apiclient.Record{}, nil).Once()

		c := New(e, store, zerolog.Nop())
		require.NoError(t, c.BeginEdit(ctx, 2))
		require.NoError(t, c.SetText("contrasena", "n3w"))
		_, err := c.Submit(ctx)
		require.NoError(t, err)
		store.AssertExpectations(t)
	})
}

func TestPayloadRules(t *testing.T) {
	cat := schema.Default()

	svc := New(cat.MustLookup(schema.Service), &mockStore{}, zerolog.Nop())
	p := svc.Payload(apiclient.Record{"nombre": "Mago", "precio_base": json.Number("50"), "duracion_horas": "", "categoria": ""})
	assert.Equal(t, 1, p["duracion_horas"])
	assert.Nil(t, p["categoria"])
	assert.Contains(t, p, "categoria")
	assert.Equal(t, true, p["disponible"])

	res := New(cat.MustLookup(schema.Reservation), &mockStore{}, zerolog.Nop())
	p = res.Payload(apiclient.Record{"total": json.Number("300")})
	assert.Equal(t, json.Number("300"), p["subtotal"])
	assert.Equal(t, 0, p["descuento"])
	assert.Equal(t, 0, p["impuestos"])
}

func TestSubmitFailureKeepsDraft(t *testing.T) {
	ctx := context.Background()
	e := schema.Default().MustLookup(schema.Category)
	store := &mockStore{}
	store.On("Create", ctx, mock.Anything).Return(nil, &apiclient.Error{
		Kind: apiclient.KindValidation, Status: 400,
		Body: map[string]any{"nombre": []any{"category with this nombre already exists."}},
	})

	c := New(e, store, zerolog.Nop())
	require.NoError(t, c.SetText("nombre", "Juegos"))
	_, err := c.Submit(ctx)
	require.Error(t, err)
	assert.Equal(t, "could not save category: category with this nombre already exists.", c.Error())
	assert.Equal(t, "Juegos", c.Draft()["nombre"])
	assert.Empty(t, c.Message())
}

func TestSubmitSuccessClearsDraft(t *testing.T) {
	ctx := context.Background()
	e := schema.Default().MustLookup(schema.Category)
	store := &mockStore{}
	store.On("Create", ctx, mock.Anything).Return(apiclient.Record{"id": 4, "nombre": "Juegos"}, nil)

	c := New(e, store, zerolog.Nop())
	require.NoError(t, c.SetText("nombre", "Juegos"))
	res, err := c.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, `Category "Juegos" created successfully!`, res.Message)
	assert.Equal(t, res.Message, c.Message())
	assert.Equal(t, e.Defaults(), c.Draft())
}

func TestLockedReferenceWhileEditing(t *testing.T) {
	ctx := context.Background()
	e := schema.Default().MustLookup(schema.Payment)
	store := &mockStore{}
	store.On("Get", ctx, int64(7)).Return(apiclient.Record{
		"id": 7, "reserva": json.Number("3"), "monto": "100.00", "metodo_pago": "Efectivo",
	}, nil)

	c := New(e, store, zerolog.Nop())
	require.NoError(t, c.Set("reserva", int64(4)))
	require.NoError(t, c.BeginEdit(ctx, 7))

	assert.ErrorIs(t, c.Set("reserva", int64(4)), ErrLocked)
	assert.Equal(t, json.Number("3"), c.Original("reserva"))
	assert.NoError(t, c.SetText("monto", "120"))
}

func TestBeginEditFailure(t *testing.T) {
	ctx := context.Background()
	e := schema.Default().MustLookup(schema.Combo)
	store := &mockStore{}
	store.On("Get", ctx, int64(1)).Return(nil, &apiclient.Error{Kind: apiclient.KindUnknown, Status: 404})

	c := New(e, store, zerolog.Nop())
	err := c.BeginEdit(ctx, 1)
	require.Error(t, err)
	assert.False(t, c.Editing())
	assert.Equal(t, "could not load combo for editing: request failed with status code 404", c.Error())
}

func TestParse(t *testing.T) {
	num := &schema.Field{Name: "monto", Label: "Amount", Kind: schema.KindNumber}
	v, err := Parse(num, " 12.5 ")
	require.NoError(t, err)
	assert.Equal(t, json.Number("12.5"), v)

	_, err = Parse(num, "twelve")
	assert.True(t, errors.Is(err, ErrInvalidValue))

	for _, text := range []string{"NaN", "Inf", "-Inf", "+Infinity", "0x1p4", "1_0", "+5", "01", ".5", "1e", `"7"`, "true", "[1]"} {
		_, err = Parse(num, text)
		assert.ErrorIs(t, err, ErrInvalidValue, text)
	}
	for _, text := range []string{"0", "-3", "100.00", "1e3", "2.5E-1"} {
		v, err := Parse(num, text)
		require.NoError(t, err, text)
		assert.Equal(t, json.Number(text), v)
	}

	choice := &schema.Field{Name: "estado", Kind: schema.KindChoice, Options: []string{"PENDIENTE", "CONFIRMADA"}}
	_, err = Parse(choice, "PERDIDA")
	assert.ErrorIs(t, err, ErrInvalidValue)

	tm := &schema.Field{Name: "hora_inicio", Kind: schema.KindTime}
	_, err = Parse(tm, "10:30:00")
	assert.NoError(t, err)
	_, err = Parse(tm, "25:99")
	assert.ErrorIs(t, err, ErrInvalidValue)

	blank, err := Parse(num, "  ")
	require.NoError(t, err)
	assert.Equal(t, "", blank)
}
