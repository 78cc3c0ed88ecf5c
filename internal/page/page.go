// Package page keeps the collections behind one entity screen in step with the server:
// it loads the primary and related collections together, derives selector options and
// refetches after every mutation.
package page

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"sandia/internal/apiclient"
	"sandia/internal/classify"
	"sandia/internal/eligibility"
	"sandia/internal/form"
	"sandia/internal/journal"
	"sandia/internal/metrics"
	"sandia/internal/schema"
)

// ErrClosed is returned for work finishing after the page was closed. Its results
// are discarded.
var ErrClosed = errors.New("page closed")

// Recorder receives every mutation attempt.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Confirmer asks the user before a destructive action.
type Confirmer func(prompt string) bool

// Option configures a Page.
type Option func(*Page)

// WithRecorder journals mutations.
func WithRecorder(r Recorder) Option {
	return func(p *Page) { p.recorder = r }
}

// WithConfirm asks before each delete.
func WithConfirm(c Confirmer) Option {
	return func(p *Page) { p.confirm = c }
}

// WithLocalDelete drops a deleted record from the snapshot before the refetch.
func WithLocalDelete() Option {
	return func(p *Page) { p.localDelete = true }
}

// WithLogger sets the page logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Page) { p.logger = l }
}

// Page is the state of one entity screen.
type Page struct {
	catalog  *schema.Catalog
	entity   *schema.Entity
	client   *apiclient.Client
	resource *apiclient.Resource
	form     *form.Controller

	recorder    Recorder
	confirm     Confirmer
	localDelete bool
	logger      zerolog.Logger

	mu       sync.Mutex
	closed   bool
	seq      uint64
	applied  uint64
	records  []apiclient.Record
	related  map[string][]apiclient.Record
	options  map[string][]apiclient.Record
	loadErr  string
	deleting map[int64]bool
}

// New builds the page for entity. Call Load to fetch its collections.
func New(catalog *schema.Catalog, entity *schema.Entity, client *apiclient.Client, opts ...Option) *Page {
	p := &Page{
		catalog:  catalog,
		entity:   entity,
		client:   client,
		resource: client.Resource(entity.Resource),
		logger:   zerolog.Nop(),
		related:  map[string][]apiclient.Record{},
		options:  map[string][]apiclient.Record{},
		deleting: map[int64]bool{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "page").Str("entity", entity.Name).Logger()
	p.form = form.New(entity, p.resource, p.logger)
	return p
}

func (p *Page) Entity() *schema.Entity {
	return p.entity
}

func (p *Page) Form() *form.Controller {
	return p.form
}

type fetch struct {
	entity  string
	records []apiclient.Record
	err     error
}

// Load fetches the primary collection and every related one concurrently. Either all
// snapshots are replaced or none is: a single failure leaves the previous state and
// sets the load error.
func (p *Page) Load(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	related, err := p.catalog.Related(p.entity)
	if err != nil {
		return err
	}

	results := make([]fetch, len(related)+1)
	var wg sync.WaitGroup
	load := func(i int, e *schema.Entity) {
		defer wg.Done()
		records, err := p.client.Resource(e.Resource).List(ctx)
		results[i] = fetch{entity: e.Name, records: records, err: err}
	}
	wg.Add(len(results))
	go load(0, p.entity)
	for i, e := range related {
		go load(i+1, e)
	}
	wg.Wait()

	var failed error
	for _, r := range results {
		if r.err != nil {
			failed = fmt.Errorf("%s: %w", r.entity, r.err)
			break
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if seq < p.applied {
		// a newer load already landed
		return nil
	}
	p.applied = seq

	if failed != nil {
		metrics.IncPageLoad(p.entity.Name, "error")
		p.loadErr = classify.Load(p.entity.Plural, failed)
		p.logger.Warn().Err(failed).Msg("joint load failed")
		return failed
	}

	metrics.IncPageLoad(p.entity.Name, "ok")
	p.records = nonNil(results[0].records)
	p.related = make(map[string][]apiclient.Record, len(related))
	for _, r := range results[1:] {
		p.related[r.entity] = nonNil(r.records)
	}
	p.loadErr = ""
	p.recomputeLocked()
	return nil
}

func nonNil(records []apiclient.Record) []apiclient.Record {
	if records == nil {
		return []apiclient.Record{}
	}
	return records
}

// recomputeLocked rebuilds the selector options of every reference field.
func (p *Page) recomputeLocked() {
	_, editing := p.form.ID()
	options := make(map[string][]apiclient.Record)
	for _, f := range p.entity.Fields {
		if f.Kind != schema.KindReference {
			continue
		}
		related := p.related[f.Ref]
		if !f.Exclusive {
			options[f.Name] = related
			continue
		}
		var keep any
		if editing {
			keep = p.form.Original(f.Name)
		}
		options[f.Name] = eligibility.Eligible(related, p.records, f.Name, keep)
	}
	p.options = options
}

// Records returns the primary snapshot in server order.
func (p *Page) Records() []apiclient.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]apiclient.Record(nil), p.records...)
}

// Related returns the snapshot of a related entity.
func (p *Page) Related(entity string) []apiclient.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]apiclient.Record(nil), p.related[entity]...)
}

// Options returns the records a reference field may point at.
func (p *Page) Options(field string) []apiclient.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]apiclient.Record(nil), p.options[field]...)
}

// LoadError is the text of the last failed load, empty after a successful one.
func (p *Page) LoadError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadErr
}

func (p *Page) Message() string {
	return p.form.Message()
}

func (p *Page) Error() string {
	return p.form.Error()
}

// Lookup resolves records from the loaded snapshots.
func (p *Page) Lookup(entity string, id any) (apiclient.Record, bool) {
	want, ok := apiclient.ToID(id)
	if !ok {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	records := p.related[entity]
	if entity == p.entity.Name {
		records = p.records
	}
	for _, r := range records {
		if got, ok := r.ID(); ok && got == want {
			return r, true
		}
	}
	return nil, false
}

// Edit loads record id into the form and refetches. The options are recomputed
// around the record's original references even if the refetch fails.
func (p *Page) Edit(ctx context.Context, id int64) error {
	if p.isClosed() {
		return ErrClosed
	}
	if err := p.form.BeginEdit(ctx, id); err != nil {
		return err
	}
	p.recompute()
	return p.Load(ctx)
}

// Cancel leaves edit mode.
func (p *Page) Cancel(ctx context.Context) error {
	p.form.Cancel()
	p.recompute()
	return p.Load(ctx)
}

func (p *Page) recompute() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recomputeLocked()
}

// Submit creates or updates the draft. The confirmation is in place before the
// refetch starts; a failed refetch shows up in LoadError, not in the returned error.
func (p *Page) Submit(ctx context.Context) (form.Result, error) {
	if p.isClosed() {
		return form.Result{}, ErrClosed
	}
	res, err := p.form.Submit(ctx)

	action := string(res.Action)
	if errors.Is(err, form.ErrRequired) {
		return res, err
	}
	p.record(ctx, action, res.ID, err, p.form.Message(), p.form.Error())
	if err != nil {
		return res, err
	}

	if err := p.Load(ctx); err != nil && !errors.Is(err, ErrClosed) {
		p.logger.Debug().Err(err).Msg("refetch after submit failed")
	}
	return res, nil
}

// Delete removes record id after an optional confirmation. It reports false when the
// user declined.
func (p *Page) Delete(ctx context.Context, id int64) (bool, error) {
	if p.isClosed() {
		return false, ErrClosed
	}
	if p.confirm != nil && !p.confirm(fmt.Sprintf("Delete %s ID %d?", p.entity.Label, id)) {
		return false, nil
	}

	p.mu.Lock()
	p.deleting[id] = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.deleting, id)
		p.mu.Unlock()
	}()

	err := p.resource.Delete(ctx, id)
	if err != nil {
		msg := classify.Delete(p.entity, err)
		p.form.SetMessage("", msg)
		p.record(ctx, string(form.ActionDelete), id, err, "", msg)
		return false, err
	}

	msg := p.entity.Deleted(id)
	p.form.SetMessage(msg, "")
	p.record(ctx, string(form.ActionDelete), id, nil, msg, "")

	if p.localDelete {
		p.mu.Lock()
		p.records = removeID(p.records, id)
		p.recomputeLocked()
		p.mu.Unlock()
	}
	if err := p.Load(ctx); err != nil && !errors.Is(err, ErrClosed) {
		p.logger.Debug().Err(err).Msg("refetch after delete failed")
	}
	return true, nil
}

// Deleting reports whether a delete of id is in flight.
func (p *Page) Deleting(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deleting[id]
}

// Close discards every response that arrives afterwards.
func (p *Page) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *Page) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) record(ctx context.Context, action string, id int64, err error, message, errText string) {
	journalMutation(ctx, p.recorder, p.logger, p.entity.Name, action, id, err, message, errText)
}

func journalMutation(ctx context.Context, recorder Recorder, logger zerolog.Logger, entity, action string, id int64, err error, message, errText string) {
	outcome := "ok"
	entry := journal.Entry{Entity: entity, Action: action, RecordID: id, Message: message}
	if err != nil {
		outcome = string(apiclient.KindOf(err))
		entry.Message = errText
		if apiErr, ok := apiclient.AsError(err); ok {
			entry.RequestID = apiErr.RequestID
		}
	}
	entry.Outcome = outcome
	metrics.IncMutation(entity, action, outcome)

	if recorder == nil {
		return
	}
	if rerr := recorder.Record(ctx, entry); rerr != nil {
		logger.Error().Err(rerr).Msg("failed to journal mutation")
	}
}

func removeID(records []apiclient.Record, id int64) []apiclient.Record {
	out := make([]apiclient.Record, 0, len(records))
	for _, r := range records {
		if got, ok := r.ID(); ok && got == id {
			continue
		}
		out = append(out, r)
	}
	return out
}
