package page

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"sandia/internal/apiclient"
	"sandia/internal/classify"
	"sandia/internal/form"
	"sandia/internal/schema"
)

// AdminGate decides whether the current session may open admin views.
type AdminGate interface {
	RequireAdmin() error
}

// Section is one independently loaded list of the admin view.
type Section struct {
	Records []apiclient.Record
	Err     string
}

// AdminPage lists users and services side by side. Each section loads and fails on
// its own, and deletes are applied locally without a refetch.
type AdminPage struct {
	gate     AdminGate
	client   *apiclient.Client
	users    *schema.Entity
	services *schema.Entity
	recorder Recorder
	logger   zerolog.Logger

	mu       sync.Mutex
	closed   bool
	sections map[string]*Section
}

func NewAdminPage(catalog *schema.Catalog, client *apiclient.Client, gate AdminGate, recorder Recorder, logger zerolog.Logger) *AdminPage {
	return &AdminPage{
		gate:     gate,
		client:   client,
		users:    catalog.MustLookup(schema.User),
		services: catalog.MustLookup(schema.Service),
		recorder: recorder,
		logger:   logger.With().Str("component", "admin").Logger(),
		sections: map[string]*Section{
			schema.User:    {},
			schema.Service: {},
		},
	}
}

// Load fetches both sections concurrently. It fails only when the session is not an
// administrator; per-section failures are kept in the section.
func (a *AdminPage) Load(ctx context.Context) error {
	if err := a.gate.RequireAdmin(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, e := range []*schema.Entity{a.users, a.services} {
		wg.Add(1)
		go func(e *schema.Entity) {
			defer wg.Done()
			records, err := a.client.Resource(e.Resource).List(ctx)

			a.mu.Lock()
			defer a.mu.Unlock()
			if a.closed {
				return
			}
			sec := a.sections[e.Name]
			if err != nil {
				sec.Err = classify.Load(e.Plural, err)
				return
			}
			sec.Records = nonNil(records)
			sec.Err = ""
		}(e)
	}
	wg.Wait()

	if a.isClosed() {
		return ErrClosed
	}
	return nil
}

// Users returns the users section.
func (a *AdminPage) Users() Section {
	return a.section(schema.User)
}

// Services returns the services section.
func (a *AdminPage) Services() Section {
	return a.section(schema.Service)
}

func (a *AdminPage) section(name string) Section {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.sections[name]
	return Section{Records: append([]apiclient.Record(nil), s.Records...), Err: s.Err}
}

func (a *AdminPage) DeleteUser(ctx context.Context, id int64) error {
	return a.delete(ctx, a.users, id)
}

func (a *AdminPage) DeleteService(ctx context.Context, id int64) error {
	return a.delete(ctx, a.services, id)
}

func (a *AdminPage) delete(ctx context.Context, e *schema.Entity, id int64) error {
	if err := a.gate.RequireAdmin(); err != nil {
		return err
	}
	err := a.client.Resource(e.Resource).Delete(ctx, id)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	sec := a.sections[e.Name]
	if err != nil {
		sec.Err = classify.Delete(e, err)
	} else {
		sec.Records = removeID(sec.Records, id)
		sec.Err = ""
	}
	errText := sec.Err
	a.mu.Unlock()

	msg := ""
	if err == nil {
		msg = e.Deleted(id)
	}
	journalMutation(ctx, a.recorder, a.logger, e.Name, string(form.ActionDelete), id, err, msg, errText)
	return err
}

func (a *AdminPage) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

func (a *AdminPage) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
