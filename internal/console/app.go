// Package console drives the admin client from a terminal: one command per entity
// screen action, prompting through a Driver.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"sandia/internal/apiclient"
	"sandia/internal/export"
	"sandia/internal/form"
	"sandia/internal/journal"
	"sandia/internal/page"
	"sandia/internal/schema"
	"sandia/internal/session"
)

var ErrUsage = errors.New("usage")

// Journal is the local mutation log as the console uses it.
type Journal interface {
	page.Recorder
	export.JournalSource
}

// App wires the command set.
type App struct {
	Catalog   *schema.Catalog
	Client    *apiclient.Client
	Sessions  *session.Manager
	Journal   Journal // optional
	Exporter  *export.Service
	ExportDir string
	Driver    Driver
	Out       io.Writer
	Logger    zerolog.Logger
}

// Usage lists the commands.
const Usage = `commands:
  login | logout | register | whoami
  list <entity>
  new <entity>
  edit <entity> <id>
  delete <entity> <id>
  admin [delete-user <id> | delete-service <id>]
  export
  history [entity]`

// Run executes one command.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w\n%s", ErrUsage, Usage)
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx)
	case "logout":
		if err := a.Sessions.Logout(ctx); err != nil {
			return err
		}
		a.printf("logged out\n")
		return nil
	case "register":
		return a.register(ctx)
	case "whoami":
		return a.whoami()
	case "list":
		return a.withEntity(rest, 1, func(e *schema.Entity, _ int64) error { return a.list(ctx, e) })
	case "new":
		return a.withEntity(rest, 1, func(e *schema.Entity, _ int64) error { return a.create(ctx, e) })
	case "edit":
		return a.withEntity(rest, 2, func(e *schema.Entity, id int64) error { return a.edit(ctx, e, id) })
	case "delete":
		return a.withEntity(rest, 2, func(e *schema.Entity, id int64) error { return a.delete(ctx, e, id) })
	case "admin":
		return a.admin(ctx, rest)
	case "export":
		return a.export(ctx)
	case "history":
		return a.history(ctx, rest)
	default:
		return fmt.Errorf("%w: unknown command %q\n%s", ErrUsage, cmd, Usage)
	}
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.Out, format, args...)
}

func (a *App) withEntity(args []string, want int, fn func(*schema.Entity, int64) error) error {
	if len(args) != want {
		return fmt.Errorf("%w\n%s", ErrUsage, Usage)
	}
	if !a.Sessions.Current().Active() {
		return session.ErrNotLoggedIn
	}
	e, err := a.Catalog.Lookup(args[0])
	if err != nil {
		return err
	}
	var id int64
	if want == 2 {
		var ok bool
		if id, ok = apiclient.ToID(args[1]); !ok {
			return fmt.Errorf("%w: %q is not an id", ErrUsage, args[1])
		}
	}
	return fn(e, id)
}

func (a *App) login(ctx context.Context) error {
	user, err := a.Driver.Input(ctx, InputConfig{Message: "User"})
	if err != nil {
		return err
	}
	password, err := a.Driver.Password(ctx, InputConfig{Message: "Password"})
	if err != nil {
		return err
	}
	s, err := a.Sessions.Login(ctx, user, password)
	if err != nil {
		return err
	}
	role := "staff"
	if s.IsAdmin {
		role = "admin"
	}
	a.printf("logged in as %s (%s)\n", user, role)
	return nil
}

func (a *App) register(ctx context.Context) error {
	var r session.Registration
	var err error
	if r.Name, err = a.Driver.Input(ctx, InputConfig{Message: "Name"}); err != nil {
		return err
	}
	if r.Email, err = a.Driver.Input(ctx, InputConfig{Message: "Email"}); err != nil {
		return err
	}
	if r.Password, err = a.Driver.Password(ctx, InputConfig{Message: "Password"}); err != nil {
		return err
	}
	if r.Repeat, err = a.Driver.Password(ctx, InputConfig{Message: "Repeat password"}); err != nil {
		return err
	}
	if err := a.Sessions.Register(ctx, r); err != nil {
		return err
	}
	a.printf("account created, you can log in now\n")
	return nil
}

func (a *App) whoami() error {
	s := a.Sessions.Current()
	if !s.Active() {
		a.printf("not logged in\n")
		return nil
	}
	a.printf("logged in, admin=%t, api=%s\n", s.IsAdmin, a.Client.BaseURL())
	return nil
}

func (a *App) newPage(e *schema.Entity, opts ...page.Option) *page.Page {
	opts = append(opts, page.WithLogger(a.Logger))
	if a.Journal != nil {
		opts = append(opts, page.WithRecorder(a.Journal))
	}
	return page.New(a.Catalog, e, a.Client, opts...)
}

func (a *App) list(ctx context.Context, e *schema.Entity) error {
	p := a.newPage(e)
	defer p.Close()
	if err := p.Load(ctx); err != nil {
		a.printf("%s\n", p.LoadError())
		return err
	}
	a.printRecords(p)
	return nil
}

func (a *App) printRecords(p *page.Page) {
	e := p.Entity()
	records := p.Records()
	if len(records) == 0 {
		a.printf("no %s yet\n", e.Plural)
		return
	}
	for _, r := range records {
		primary, secondary := e.Describe(r, p.Lookup)
		a.printf("#%-5s %s\n", r.Text("id"), primary)
		if secondary != "" {
			a.printf("       %s\n", secondary)
		}
	}
}

func (a *App) create(ctx context.Context, e *schema.Entity) error {
	p := a.newPage(e)
	defer p.Close()
	if err := p.Load(ctx); err != nil {
		a.printf("%s\n", p.LoadError())
		return err
	}
	return a.fillAndSubmit(ctx, p)
}

func (a *App) edit(ctx context.Context, e *schema.Entity, id int64) error {
	p := a.newPage(e)
	defer p.Close()
	if err := p.Edit(ctx, id); err != nil {
		if msg := p.Error(); msg != "" {
			a.printf("%s\n", msg)
		} else if msg := p.LoadError(); msg != "" {
			a.printf("%s\n", msg)
		}
		return err
	}
	return a.fillAndSubmit(ctx, p)
}

func (a *App) fillAndSubmit(ctx context.Context, p *page.Page) error {
	if err := a.fill(ctx, p); err != nil {
		return err
	}
	_, err := p.Submit(ctx)
	if err != nil {
		a.printf("%s\n", p.Error())
		return err
	}
	a.printf("%s\n", p.Message())
	if msg := p.LoadError(); msg != "" {
		a.printf("%s\n", msg)
	}
	return nil
}

// fill prompts for every field of the draft, offering the current value as default.
func (a *App) fill(ctx context.Context, p *page.Page) error {
	f := p.Form()
	e := p.Entity()
	draft := f.Draft()
	editing := f.Editing()

	for i := range e.Fields {
		field := &e.Fields[i]
		current := draft.Text(field.Name)
		label := field.Label
		if field.Required || (field.RequiredOnCreate && !editing) {
			label += " *"
		}

		if field.LockedOnEdit && editing {
			a.printf("%s: %s (locked)\n", field.Label, current)
			continue
		}

		switch field.Kind {
		case schema.KindReference:
			id, err := a.pickReference(ctx, p, field, label, draft[field.Name])
			if err != nil {
				return err
			}
			text := ""
			if id != 0 {
				text = strconv.FormatInt(id, 10)
			}
			if err := f.SetText(field.Name, text); err != nil {
				return err
			}
		case schema.KindChoice:
			idx, err := a.Driver.Select(ctx, SelectConfig{
				Message:      label,
				Options:      field.Options,
				DefaultIndex: indexOf(field.Options, current),
			})
			if err != nil {
				return err
			}
			if err := f.SetText(field.Name, field.Options[idx]); err != nil {
				return err
			}
		case schema.KindPassword:
			help := ""
			if editing {
				help = "leave blank to keep the current password"
			}
			pw, err := a.Driver.Password(ctx, InputConfig{Message: label, Help: help})
			if err != nil {
				return err
			}
			if err := f.SetText(field.Name, pw); err != nil {
				return err
			}
		default:
			text, err := a.Driver.Input(ctx, InputConfig{
				Message: label,
				Default: current,
				Help:    formatHint(field.Kind),
				Validator: func(s string) error {
					_, err := form.Parse(field, s)
					return err
				},
			})
			if err != nil {
				return err
			}
			if err := f.SetText(field.Name, text); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *App) pickReference(ctx context.Context, p *page.Page, field *schema.Field, label string, current any) (int64, error) {
	target, err := a.Catalog.Lookup(field.Ref)
	if err != nil {
		return 0, err
	}
	options := p.Options(field.Name)

	var labels []string
	var ids []int64
	if !field.Required {
		labels = append(labels, "(none)")
		ids = append(ids, 0)
	}
	currentID, _ := apiclient.ToID(current)
	defaultIdx := 0
	for _, r := range options {
		id, _ := r.ID()
		if id == currentID {
			defaultIdx = len(ids)
		}
		labels = append(labels, target.OptionLabel(r))
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("no %s available for %s", target.Plural, field.Label)
	}

	idx, err := a.Driver.Select(ctx, SelectConfig{Message: label, Options: labels, DefaultIndex: defaultIdx})
	if err != nil {
		return 0, err
	}
	if idx < 0 || idx >= len(ids) {
		return 0, fmt.Errorf("%s: invalid choice", field.Label)
	}
	return ids[idx], nil
}

func (a *App) delete(ctx context.Context, e *schema.Entity, id int64) error {
	confirm := func(prompt string) bool {
		ok, err := a.Driver.Confirm(ctx, ConfirmConfig{Message: prompt})
		return err == nil && ok
	}
	p := a.newPage(e, page.WithConfirm(confirm))
	defer p.Close()

	deleted, err := p.Delete(ctx, id)
	if err != nil {
		a.printf("%s\n", p.Error())
		return err
	}
	if !deleted {
		a.printf("cancelled\n")
		return nil
	}
	a.printf("%s\n", p.Message())
	return nil
}

func (a *App) admin(ctx context.Context, args []string) error {
	ap := page.NewAdminPage(a.Catalog, a.Client, a.Sessions, a.Journal, a.Logger)
	defer ap.Close()

	if len(args) == 2 {
		id, ok := apiclient.ToID(args[1])
		if !ok {
			return fmt.Errorf("%w: %q is not an id", ErrUsage, args[1])
		}
		var err error
		switch args[0] {
		case "delete-user":
			err = ap.DeleteUser(ctx, id)
		case "delete-service":
			err = ap.DeleteService(ctx, id)
		default:
			return fmt.Errorf("%w\n%s", ErrUsage, Usage)
		}
		if err != nil {
			if errors.Is(err, session.ErrNotAdmin) || errors.Is(err, session.ErrNotLoggedIn) {
				return err
			}
			a.printf("%s\n", firstNonEmpty(ap.Users().Err, ap.Services().Err))
			return err
		}
		a.printf("deleted\n")
		return nil
	}
	if len(args) != 0 {
		return fmt.Errorf("%w\n%s", ErrUsage, Usage)
	}

	if err := ap.Load(ctx); err != nil {
		return err
	}
	users := a.Catalog.MustLookup(schema.User)
	services := a.Catalog.MustLookup(schema.Service)
	a.printSection("Users", users, ap.Users())
	a.printSection("Services", services, ap.Services())
	return nil
}

func (a *App) printSection(title string, e *schema.Entity, s page.Section) {
	a.printf("== %s ==\n", title)
	if s.Err != "" {
		a.printf("%s\n", s.Err)
		return
	}
	for _, r := range s.Records {
		primary, secondary := e.Describe(r, nil)
		a.printf("#%-5s %s  %s\n", r.Text("id"), primary, secondary)
	}
}

func (a *App) export(ctx context.Context) error {
	if a.Exporter == nil {
		return errors.New("export is not configured")
	}
	sum, err := a.Exporter.Export(ctx, a.ExportDir)
	if err != nil {
		return err
	}
	a.printf("workbook written to %s\n", sum.Path)
	if len(sum.Skipped) > 0 {
		a.printf("skipped: %s\n", strings.Join(sum.Skipped, ", "))
	}
	return nil
}

func (a *App) history(ctx context.Context, args []string) error {
	if a.Journal == nil {
		return errors.New("journal is disabled")
	}
	entity := ""
	if len(args) == 1 {
		e, err := a.Catalog.Lookup(args[0])
		if err != nil {
			return err
		}
		entity = e.Name
	}
	entries, err := a.Journal.Recent(ctx, entity, 50)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		a.printf("no mutations recorded\n")
		return nil
	}
	for _, en := range entries {
		a.printHistory(en)
	}
	return nil
}

func (a *App) printHistory(e journal.Entry) {
	a.printf("%s  %-12s %-6s #%-5d %-10s %s\n",
		e.At.Local().Format("2006-01-02 15:04"), e.Entity, e.Action, e.RecordID, e.Outcome, e.Message)
}

func formatHint(k schema.Kind) string {
	switch k {
	case schema.KindDate:
		return "YYYY-MM-DD"
	case schema.KindTime:
		return "HH:MM"
	case schema.KindDateTime:
		return "YYYY-MM-DDTHH:MM"
	default:
		return ""
	}
}

func indexOf(options []string, value string) int {
	for i, o := range options {
		if o == value {
			return i
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
