package schema

import (
	"fmt"
	"strings"

	"sandia/internal/apiclient"
)

// Entity names used across the catalog.
const (
	User         = "user"
	Service      = "service"
	Category     = "category"
	Promotion    = "promotion"
	Combo        = "combo"
	Schedule     = "schedule"
	Reservation  = "reservation"
	Payment      = "payment"
	Cancellation = "cancellation"
)

// Catalog is the ordered set of known entities.
type Catalog struct {
	entities []*Entity
	index    map[string]*Entity
}

// NewCatalog indexes entities by name, resource and plural.
func NewCatalog(entities ...*Entity) *Catalog {
	c := &Catalog{index: make(map[string]*Entity)}
	for _, e := range entities {
		c.entities = append(c.entities, e)
		for _, key := range []string{e.Name, e.Resource, e.Plural} {
			if key != "" {
				c.index[strings.ToLower(key)] = e
			}
		}
	}
	return c
}

// Lookup finds an entity by name, resource path or plural label.
func (c *Catalog) Lookup(name string) (*Entity, error) {
	e, ok := c.index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", name)
	}
	return e, nil
}

// MustLookup is Lookup for names known at compile time.
func (c *Catalog) MustLookup(name string) *Entity {
	e, err := c.Lookup(name)
	if err != nil {
		panic(err)
	}
	return e
}

// Related returns the entities whose collections a page for e loads next to its own.
func (c *Catalog) Related(e *Entity) ([]*Entity, error) {
	var out []*Entity
	for _, ref := range e.References() {
		rel, err := c.Lookup(ref)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		out = append(out, rel)
	}
	return out, nil
}

// Entities returns the catalog in declaration order.
func (c *Catalog) Entities() []*Entity {
	return append([]*Entity(nil), c.entities...)
}

// Default returns the catalog of the party-services backend.
func Default() *Catalog {
	return NewCatalog(
		userEntity(),
		serviceEntity(),
		categoryEntity(),
		promotionEntity(),
		comboEntity(),
		scheduleEntity(),
		reservationEntity(),
		paymentEntity(),
		cancellationEntity(),
	)
}

func userEntity() *Entity {
	return &Entity{
		Name:     User,
		Resource: "usuarios",
		Label:    "user",
		Plural:   "users",
		Fields: []Field{
			{Name: "nombre", Label: "First name", Kind: KindText, Required: true},
			{Name: "apellido", Label: "Last name", Kind: KindText},
			{Name: "telefono", Label: "Phone", Kind: KindText},
			{Name: "email", Label: "Email", Kind: KindText, Required: true},
			{
				Name:             "contrasena",
				Label:            "Password",
				Kind:             KindPassword,
				WriteOnly:        true,
				RequiredOnCreate: true,
				RequiredMessage:  "password is required to create a user",
			},
		},
		Fixed:         map[string]any{"activo": true},
		ErrorFields:   []string{"email", "telefono"},
		DeleteBlocked: "cannot delete user: reservations reference it",
		Created: func(d, _ apiclient.Record) string {
			return fmt.Sprintf("User %s registered successfully!", d.Text("nombre"))
		},
		Updated: func(_ int64, d apiclient.Record) string {
			return fmt.Sprintf("User %s %s updated!", d.Text("nombre"), d.Text("apellido"))
		},
		Option: fullName,
		Summary: func(r apiclient.Record, _ Lookup) (string, string) {
			return fullName(r), fmt.Sprintf("Email: %s | Tel: %s", r.Text("email"), r.Text("telefono"))
		},
	}
}

func serviceEntity() *Entity {
	return &Entity{
		Name:     Service,
		Resource: "servicios",
		Label:    "service",
		Plural:   "services",
		Fields: []Field{
			{Name: "nombre", Label: "Name", Kind: KindText, Required: true},
			{Name: "descripcion", Label: "Description", Kind: KindText},
			{Name: "precio_base", Label: "Price ($)", Kind: KindNumber, Required: true},
			{Name: "duracion_horas", Label: "Duration (hours)", Kind: KindNumber, Default: 1},
			{Name: "capacidad_persona", Label: "Capacity (people)", Kind: KindNumber, Default: 1},
			{Name: "categoria", Label: "Category (optional)", Kind: KindReference, Ref: Category, NullIfEmpty: true},
		},
		Fixed:         map[string]any{"disponible": true},
		DeleteBlocked: "cannot delete service: combos or reservation details reference it",
		Created: func(d, echoed apiclient.Record) string {
			name := echoed.Text("nombre")
			if name == "" {
				name = d.Text("nombre")
			}
			return fmt.Sprintf("Service %q created!", name)
		},
		Updated: func(_ int64, d apiclient.Record) string {
			return fmt.Sprintf("Service %q updated!", d.Text("nombre"))
		},
		Option: name,
		Summary: func(r apiclient.Record, _ Lookup) (string, string) {
			return r.Text("nombre"), fmt.Sprintf("Description: %s | Price: $%s", r.Text("descripcion"), r.Text("precio_base"))
		},
	}
}

func categoryEntity() *Entity {
	return &Entity{
		Name:     Category,
		Resource: "categorias",
		Label:    "category",
		Plural:   "categories",
		Fields: []Field{
			{Name: "nombre", Label: "Name", Kind: KindText, Required: true},
			{Name: "descripcion", Label: "Description", Kind: KindText},
		},
		Fixed:         map[string]any{"activo": true},
		ErrorFields:   []string{"nombre"},
		DeleteBlocked: "cannot delete category: services reference it",
		Created: func(d, _ apiclient.Record) string {
			return fmt.Sprintf("Category %q created successfully!", d.Text("nombre"))
		},
		Updated: func(_ int64, d apiclient.Record) string {
			return fmt.Sprintf("Category %q updated!", d.Text("nombre"))
		},
		Option: name,
		Summary: func(r apiclient.Record, _ Lookup) (string, string) {
			desc := r.Text("descripcion")
			if desc == "" {
				desc = "No description"
			}
			return r.Text("nombre"), desc
		},
	}
}

func promotionEntity() *Entity {
	return &Entity{
		Name:     Promotion,
		Resource: "promociones",
		Label:    "promotion",
		Plural:   "promotions",
		Fields: []Field{
			{Name: "nombre", Label: "Name", Kind: KindText, Required: true},
			{Name: "descripcion", Label: "Description", Kind: KindText},
			{Name: "descuento_porcentaje", Label: "Discount (%)", Kind: KindNumber, NullIfEmpty: true},
			{Name: "descuento_monto", Label: "Discount ($)", Kind: KindNumber, NullIfEmpty: true},
			{Name: "fecha_inicio", Label: "Starts", Kind: KindDateTime, Required: true},
			{Name: "fecha_fin", Label: "Ends", Kind: KindDateTime, Required: true},
		},
		Fixed:         map[string]any{"activo": true},
		ErrorFields:   []string{"nombre"},
		DeleteBlocked: "cannot delete promotion: combos reference it",
		Created: func(d, _ apiclient.Record) string {
			return fmt.Sprintf("Promotion %q created successfully!", d.Text("nombre"))
		},
		Updated: func(_ int64, d apiclient.Record) string {
			return fmt.Sprintf("Promotion %q updated!", d.Text("nombre"))
		},
		Option: name,
		Summary: func(r apiclient.Record, _ Lookup) (string, string) {
			return r.Text("nombre"), fmt.Sprintf("Discount: %s | Valid until: %s", FormatDiscount(r), datePart(r.Text("fecha_fin")))
		},
	}
}

// FormatDiscount renders the discount a promotion grants.
func FormatDiscount(r apiclient.Record) string {
	if pct := r.Text("descuento_porcentaje"); !isZeroText(pct) {
		return pct + "% OFF"
	}
	if amount := r.Text("descuento_monto"); !isZeroText(amount) {
		return "$" + amount + " OFF"
	}
	return "No discount"
}

func comboEntity() *Entity {
	return &Entity{
		Name:     Combo,
		Resource: "combos",
		Label:    "combo",
		Plural:   "combos",
		Fields: []Field{
			{Name: "nombre", Label: "Name", Kind: KindText, Required: true},
			{Name: "descripcion", Label: "Description", Kind: KindText},
			{Name: "precio_combo", Label: "Combo price ($)", Kind: KindNumber, Required: true},
			{Name: "promocion", Label: "Promotion (optional)", Kind: KindReference, Ref: Promotion, NullIfEmpty: true},
		},
		Fixed:         map[string]any{"activo": true},
		ErrorFields:   []string{"nombre"},
		DeleteBlocked: "cannot delete combo: combo services or reservation details reference it",
		Created: func(d, _ apiclient.Record) string {
			return fmt.Sprintf("Combo %q created successfully!", d.Text("nombre"))
		},
		Updated: func(_ int64, d apiclient.Record) string {
			return fmt.Sprintf("Combo %q updated!", d.Text("nombre"))
		},
		Option: name,
		Summary: func(r apiclient.Record, lookup Lookup) (string, string) {
			primary := r.Text("nombre")
			if lookup != nil {
				if promo, ok := lookup(Promotion, r["promocion"]); ok {
					primary += fmt.Sprintf(" (%s)", promo.Text("nombre"))
				}
			}
			return primary, "Price: $" + r.Text("precio_combo")
		},
	}
}

func scheduleEntity() *Entity {
	return &Entity{
		Name:     Schedule,
		Resource: "horarios",
		Label:    "schedule",
		Plural:   "schedules",
		Fields: []Field{
			{Name: "fecha", Label: "Date", Kind: KindDate, Required: true},
			{Name: "hora_inicio", Label: "Start time", Kind: KindTime, Required: true},
			{Name: "hora_fin", Label: "End time", Kind: KindTime, Required: true},
			{Name: "capacidad_reserva", Label: "Booking capacity", Kind: KindNumber, Default: 1},
		},
		Fixed:         map[string]any{"disponible": true},
		ErrorFields:   []string{"non_field_errors"},
		DeleteBlocked: "cannot delete schedule: reservations reference it",
		Created: func(d, _ apiclient.Record) string {
			return fmt.Sprintf("Schedule created for %s!", d.Text("fecha"))
		},
		Updated: func(_ int64, d apiclient.Record) string {
			return fmt.Sprintf("Schedule updated for %s!", d.Text("fecha"))
		},
		Option: func(r apiclient.Record) string {
			return fmt.Sprintf("%s (%s - %s)", r.Text("fecha"), r.Text("hora_inicio"), r.Text("hora_fin"))
		},
		Summary: func(r apiclient.Record, _ Lookup) (string, string) {
			return "Date: " + r.Text("fecha"), fmt.Sprintf("Time: %s - %s | Capacity: %s people",
				r.Text("hora_inicio"), r.Text("hora_fin"), r.Text("capacidad_reserva"))
		},
	}
}

func reservationEntity() *Entity {
	return &Entity{
		Name:     Reservation,
		Resource: "reservas",
		Label:    "reservation",
		Plural:   "reservations",
		Fields: []Field{
			{Name: "cliente", Label: "Customer", Kind: KindReference, Ref: User, Required: true},
			{Name: "horario", Label: "Schedule", Kind: KindReference, Ref: Schedule, Required: true},
			{Name: "codigo_reserva", Label: "Reservation code", Kind: KindText, Required: true},
			{Name: "fecha_evento", Label: "Event date", Kind: KindDate, Required: true},
			{Name: "fecha_inicio", Label: "Start time", Kind: KindTime, Required: true},
			{Name: "direccion_evento", Label: "Event address", Kind: KindText},
			{Name: "total", Label: "Total ($)", Kind: KindNumber, Required: true},
			{Name: "estado", Label: "Status", Kind: KindChoice, Default: "PENDIENTE",
				Options: []string{"PENDIENTE", "CONFIRMADA", "CANCELADA"}},
		},
		Fixed:         map[string]any{"descuento": 0, "impuestos": 0},
		Derived:       map[string]string{"subtotal": "total"},
		ErrorFields:   []string{"codigo_reserva"},
		DeleteBlocked: "cannot delete reservation: payments or cancellations reference it",
		Created: func(d, _ apiclient.Record) string {
			return fmt.Sprintf("Reservation %s created!", d.Text("codigo_reserva"))
		},
		Updated: func(_ int64, d apiclient.Record) string {
			return fmt.Sprintf("Reservation %s updated!", d.Text("codigo_reserva"))
		},
		Option: func(r apiclient.Record) string {
			return fmt.Sprintf("%s (Total: $%s)", r.Text("codigo_reserva"), r.Text("total"))
		},
		Summary: func(r apiclient.Record, lookup Lookup) (string, string) {
			customer := "ID " + r.Text("cliente")
			if lookup != nil {
				if u, ok := lookup(User, r["cliente"]); ok {
					customer = fullName(u)
				}
			}
			return fmt.Sprintf("%s - [%s]", r.Text("codigo_reserva"), r.Text("estado")),
				fmt.Sprintf("Date: %s | Customer: %s | Total: $%s | Address: %s",
					r.Text("fecha_evento"), customer, r.Text("total"), r.Text("direccion_evento"))
		},
	}
}

func paymentEntity() *Entity {
	return &Entity{
		Name:     Payment,
		Resource: "pagos",
		Label:    "payment",
		Plural:   "payments",
		Fields: []Field{
			{Name: "reserva", Label: "Reservation", Kind: KindReference, Ref: Reservation, Required: true,
				Exclusive: true, LockedOnEdit: true},
			{Name: "monto", Label: "Amount ($)", Kind: KindNumber, Required: true},
			{Name: "metodo_pago", Label: "Payment method", Kind: KindChoice, Default: "Tarjeta",
				Options: []string{"Tarjeta", "Efectivo", "Transferencia"}},
		},
		Fixed:       map[string]any{"estado_pago": "COMPLETADO"},
		ErrorFields: []string{"reserva"},
		Created: func(d, _ apiclient.Record) string {
			return fmt.Sprintf("Payment for reservation #%s registered!", d.Text("reserva"))
		},
		Updated: func(id int64, _ apiclient.Record) string {
			return fmt.Sprintf("Payment ID %d updated!", id)
		},
		Summary: func(r apiclient.Record, _ Lookup) (string, string) {
			return fmt.Sprintf("Payment ID: %s (Reservation ID: %s)", r.Text("id"), r.Text("reserva")),
				fmt.Sprintf("$%s - %s [%s]", r.Text("monto"), r.Text("metodo_pago"), r.Text("estado_pago"))
		},
	}
}

func cancellationEntity() *Entity {
	return &Entity{
		Name:     Cancellation,
		Resource: "cancelaciones",
		Label:    "cancellation",
		Plural:   "cancellations",
		Fields: []Field{
			{Name: "reserva", Label: "Reservation", Kind: KindReference, Ref: Reservation, Required: true, Exclusive: true},
			{Name: "motivo", Label: "Reason", Kind: KindText, Required: true},
			{Name: "reembolso_aplicado", Label: "Refund applied ($)", Kind: KindNumber, Default: 0},
		},
		Fixed:         map[string]any{"monto_personalizado": 0},
		DeleteBlocked: "cannot delete cancellation: a data dependency references it",
		Created: func(d, _ apiclient.Record) string {
			return fmt.Sprintf("Reservation #%s cancelled!", d.Text("reserva"))
		},
		Updated: func(id int64, _ apiclient.Record) string {
			return fmt.Sprintf("Cancellation ID %d updated!", id)
		},
		Summary: func(r apiclient.Record, _ Lookup) (string, string) {
			return "Reservation ID: " + r.Text("reserva"),
				fmt.Sprintf("Reason: %s | Refund: $%s", r.Text("motivo"), r.Text("reembolso_aplicado"))
		},
	}
}

func name(r apiclient.Record) string {
	return r.Text("nombre")
}

func fullName(r apiclient.Record) string {
	return strings.TrimSpace(r.Text("nombre") + " " + r.Text("apellido"))
}

func datePart(s string) string {
	if len(s) >= 10 {
		return s[:10]
	}
	return s
}

func isZeroText(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	return strings.Trim(s, "0.") == ""
}
