// Package form holds the editable draft of one entity record and decides whether a
// submit creates or updates it.
package form

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sandia/internal/apiclient"
	"sandia/internal/classify"
	"sandia/internal/schema"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrLocked       = errors.New("field cannot change while editing")
	ErrInvalidValue = errors.New("invalid value")
	ErrRequired     = errors.New("required field is empty")
)

// RequiredError reports a required field left blank. It matches ErrRequired.
type RequiredError struct {
	Field   string
	Message string
}

func (e *RequiredError) Error() string {
	return e.Message
}

func (e *RequiredError) Is(target error) bool {
	return target == ErrRequired
}

// Store is the part of the resource client a form needs.
type Store interface {
	Get(ctx context.Context, id int64) (apiclient.Record, error)
	Create(ctx context.Context, payload apiclient.Record) (apiclient.Record, error)
	Update(ctx context.Context, id int64, payload apiclient.Record) (apiclient.Record, error)
}

// Action is the mutation a submit performed.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Result describes a successful submit.
type Result struct {
	Action  Action
	ID      int64 // zero when the server did not echo an id for a create
	Message string
	Payload apiclient.Record
}

// Controller keeps the draft of one entity type.
type Controller struct {
	entity *schema.Entity
	store  Store
	logger zerolog.Logger

	mu       sync.Mutex
	draft    apiclient.Record
	id       int64
	editing  bool
	original map[string]any
	message  string
	errText  string
}

// New returns a controller with an empty draft.
func New(entity *schema.Entity, store Store, logger zerolog.Logger) *Controller {
	c := &Controller{
		entity: entity,
		store:  store,
		logger: logger.With().Str("component", "form").Str("entity", entity.Name).Logger(),
	}
	c.reset()
	return c
}

// Entity returns the schema the controller edits.
func (c *Controller) Entity() *schema.Entity {
	return c.entity
}

// BeginEdit loads record id fresh from the server into the draft. Write-only fields
// stay blank. On failure the previous draft is kept and the error text is set.
func (c *Controller) BeginEdit(ctx context.Context, id int64) error {
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		c.mu.Lock()
		c.errText = classify.EditLoad(c.entity.Label, err)
		c.mu.Unlock()
		return err
	}

	draft := make(apiclient.Record, len(c.entity.Fields))
	original := make(map[string]any)
	for _, f := range c.entity.Fields {
		if f.WriteOnly {
			draft[f.Name] = ""
			continue
		}
		v, ok := rec[f.Name]
		switch {
		case ok && v != nil:
			draft[f.Name] = v
		case f.Default != nil && !f.NullIfEmpty:
			draft[f.Name] = f.Default
		default:
			draft[f.Name] = ""
		}
		if f.Kind == schema.KindReference {
			original[f.Name] = rec[f.Name]
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = draft
	c.id = id
	c.editing = true
	c.original = original
	c.message = ""
	c.errText = ""
	return nil
}

// Clear resets the draft to defaults and drops the identifier. Messages are kept so a
// confirmation survives the reset that follows a successful submit.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// Cancel is Clear plus dropping any message.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	c.message = ""
	c.errText = ""
}

func (c *Controller) reset() {
	c.draft = c.entity.Defaults()
	c.id = 0
	c.editing = false
	c.original = nil
}

// Set assigns a draft value as-is.
func (c *Controller) Set(field string, value any) error {
	f, ok := c.entity.Field(field)
	if !ok {
		return fmt.Errorf("%s.%s: %w", c.entity.Name, field, ErrUnknownField)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.LockedOnEdit && c.editing {
		return fmt.Errorf("%s.%s: %w", c.entity.Name, field, ErrLocked)
	}
	c.draft[field] = value
	return nil
}

// SetText parses text according to the field kind and assigns it. Blank text always
// clears the value.
func (c *Controller) SetText(field, text string) error {
	f, ok := c.entity.Field(field)
	if !ok {
		return fmt.Errorf("%s.%s: %w", c.entity.Name, field, ErrUnknownField)
	}
	v, err := Parse(f, text)
	if err != nil {
		return err
	}
	return c.Set(field, v)
}

// isJSONNumber accepts only the number grammar encoding/json can send back out,
// so NaN, Inf, hex floats and digit separators are refused here.
func isJSONNumber(text string) bool {
	if text == "" || !json.Valid([]byte(text)) {
		return false
	}
	c := text[0]
	return c == '-' || (c >= '0' && c <= '9')
}

// Parse converts user input for field f into a draft value.
func Parse(f *schema.Field, text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	switch f.Kind {
	case schema.KindNumber:
		if !isJSONNumber(text) {
			return nil, fmt.Errorf("%s: %q is not a number: %w", f.Label, text, ErrInvalidValue)
		}
		return json.Number(text), nil
	case schema.KindReference:
		id, ok := apiclient.ToID(text)
		if !ok {
			return nil, fmt.Errorf("%s: %q is not an id: %w", f.Label, text, ErrInvalidValue)
		}
		return id, nil
	case schema.KindDate:
		return text, checkLayout(f, text, "2006-01-02")
	case schema.KindTime:
		if checkLayout(f, text, "15:04") == nil {
			return text, nil
		}
		return text, checkLayout(f, text, "15:04:05")
	case schema.KindDateTime:
		for _, layout := range []string{"2006-01-02T15:04", "2006-01-02T15:04:05", time.RFC3339} {
			if _, err := time.Parse(layout, text); err == nil {
				return text, nil
			}
		}
		return nil, fmt.Errorf("%s: %q is not a date and time: %w", f.Label, text, ErrInvalidValue)
	case schema.KindChoice:
		if len(f.Options) > 0 && !slices.Contains(f.Options, text) {
			return nil, fmt.Errorf("%s: %q is not one of %s: %w", f.Label, text, strings.Join(f.Options, ", "), ErrInvalidValue)
		}
		return text, nil
	default:
		return text, nil
	}
}

func checkLayout(f *schema.Field, text, layout string) error {
	if _, err := time.Parse(layout, text); err != nil {
		return fmt.Errorf("%s: %q does not match %s: %w", f.Label, text, layout, ErrInvalidValue)
	}
	return nil
}

// Draft returns a copy of the current draft.
func (c *Controller) Draft() apiclient.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft.Clone()
}

// ID returns the identifier of the record under edit.
func (c *Controller) ID() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id, c.editing
}

// Editing reports whether the draft references a persisted record.
func (c *Controller) Editing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editing
}

// Original returns the value a reference field had when editing began.
func (c *Controller) Original(field string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.original[field]
}

// Message returns the last confirmation.
func (c *Controller) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

// Error returns the last error text.
func (c *Controller) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errText
}

// SetMessage overrides the confirmation, used by the page for deletes.
func (c *Controller) SetMessage(message, errText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.message = message
	c.errText = errText
}

// Submit validates the draft, then creates it when it has no identifier or updates
// the record it was loaded from. On success the draft is cleared and the confirmation
// set; on failure the draft is kept and the classified error text set.
func (c *Controller) Submit(ctx context.Context) (Result, error) {
	c.mu.Lock()
	draft := c.draft.Clone()
	id, editing := c.id, c.editing
	c.mu.Unlock()

	if err := c.check(draft, editing); err != nil {
		c.SetMessage("", err.Error())
		return Result{}, err
	}
	payload := c.Payload(draft)

	var (
		echoed apiclient.Record
		err    error
		res    = Result{Payload: payload}
	)
	if editing {
		res.Action = ActionUpdate
		res.ID = id
		echoed, err = c.store.Update(ctx, id, payload)
	} else {
		res.Action = ActionCreate
		echoed, err = c.store.Create(ctx, payload)
		res.ID, _ = echoed.ID()
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("action", string(res.Action)).Int64("id", id).Msg("submit failed")
		c.SetMessage("", classify.Save(c.entity, err))
		return res, err
	}

	if editing {
		res.Message = c.entity.Updated(id, draft)
	} else {
		res.Message = c.entity.Created(draft, echoed)
	}

	c.mu.Lock()
	c.reset()
	c.message = res.Message
	c.errText = ""
	c.mu.Unlock()
	return res, nil
}

func (c *Controller) check(draft apiclient.Record, editing bool) error {
	for _, f := range c.entity.Fields {
		required := f.Required || (f.RequiredOnCreate && !editing)
		if !required || !schema.IsEmpty(draft[f.Name]) {
			continue
		}
		msg := f.RequiredMessage
		if msg == "" {
			msg = fmt.Sprintf("%s is required", f.Label)
		}
		return &RequiredError{Field: f.Name, Message: msg}
	}
	return nil
}

// Payload builds the request body for draft. Blank write-only fields are omitted,
// blank nullable fields are sent as null and other blank fields fall back to their
// default.
func (c *Controller) Payload(draft apiclient.Record) apiclient.Record {
	payload := make(apiclient.Record, len(c.entity.Fields)+len(c.entity.Fixed)+len(c.entity.Derived))
	for _, f := range c.entity.Fields {
		v := draft[f.Name]
		if !schema.IsEmpty(v) {
			payload[f.Name] = v
			continue
		}
		switch {
		case f.WriteOnly:
		case f.NullIfEmpty:
			payload[f.Name] = nil
		case f.Default != nil:
			payload[f.Name] = f.Default
		default:
			payload[f.Name] = ""
		}
	}
	for k, v := range c.entity.Fixed {
		payload[k] = v
	}
	for k, src := range c.entity.Derived {
		payload[k] = payload[src]
	}
	return payload
}
