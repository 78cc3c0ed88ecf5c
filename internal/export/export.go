// Package export writes a workbook with a snapshot of every collection plus the local
// mutation journal.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"sandia/internal/apiclient"
	"sandia/internal/journal"
	"sandia/internal/schema"
)

// JournalSheet names the sheet holding journal entries.
const JournalSheet = "journal"

// Lister fetches one collection by resource path.
type Lister interface {
	List(ctx context.Context, resource string) ([]apiclient.Record, error)
}

// ClientLister adapts the API client.
type ClientLister struct {
	Client *apiclient.Client
}

func (l ClientLister) List(ctx context.Context, resource string) ([]apiclient.Record, error) {
	return l.Client.Resource(resource).List(ctx)
}

// JournalSource yields journal entries, newest first.
type JournalSource interface {
	Recent(ctx context.Context, entity string, limit int) ([]journal.Entry, error)
}

// AdminGate decides whether the session may export.
type AdminGate interface {
	RequireAdmin() error
}

// Summary reports what an export wrote.
type Summary struct {
	Path    string
	Rows    map[string]int
	Skipped []string
}

// Service builds workbooks.
type Service struct {
	catalog *schema.Catalog
	lister  Lister
	journal JournalSource
	gate    AdminGate
	writer  func() Writer
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService wires an exporter. journal may be nil.
func NewService(catalog *schema.Catalog, lister Lister, journal JournalSource, gate AdminGate, logger zerolog.Logger) *Service {
	return &Service{
		catalog: catalog,
		lister:  lister,
		journal: journal,
		gate:    gate,
		writer:  NewExcelizeWriter,
		logger:  logger.With().Str("component", "export").Logger(),
		now:     time.Now,
	}
}

// Filename is the workbook name for an export taken at t.
func Filename(t time.Time) string {
	return fmt.Sprintf("sandia_%s.xlsx", t.Format("2006-01-02_150405"))
}

// Export writes the workbook into dir. A collection that fails to load is skipped and
// named in the summary.
func (s *Service) Export(ctx context.Context, dir string) (Summary, error) {
	if err := s.gate.RequireAdmin(); err != nil {
		return Summary{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create export dir: %w", err)
	}

	w := s.writer()
	defer w.Close()

	sum := Summary{Rows: map[string]int{}}
	for _, e := range s.catalog.Entities() {
		records, err := s.lister.List(ctx, e.Resource)
		if err != nil {
			s.logger.Error().Err(err).Str("entity", e.Name).Msg("failed to fetch collection")
			sum.Skipped = append(sum.Skipped, e.Name)
			continue
		}
		if err := writeRecords(w, e.Plural, records); err != nil {
			return Summary{}, fmt.Errorf("write %s: %w", e.Plural, err)
		}
		sum.Rows[e.Plural] = len(records)
	}

	if s.journal != nil {
		entries, err := s.journal.Recent(ctx, "", 1<<20)
		if err != nil {
			return Summary{}, fmt.Errorf("read journal: %w", err)
		}
		if err := writeJournal(w, entries); err != nil {
			return Summary{}, fmt.Errorf("write journal: %w", err)
		}
		sum.Rows[JournalSheet] = len(entries)
	}

	sum.Path = filepath.Join(dir, Filename(s.now()))
	if err := w.SaveToFile(sum.Path); err != nil {
		return Summary{}, fmt.Errorf("save workbook: %w", err)
	}
	s.logger.Info().Str("path", sum.Path).Strs("skipped", sum.Skipped).Msg("export written")
	return sum, nil
}

func writeRecords(w Writer, sheet string, records []apiclient.Record) error {
	if err := w.AddSheet(sheet); err != nil {
		return err
	}
	columns := Columns(records)
	if err := w.WriteHeader(columns); err != nil {
		return err
	}
	for _, r := range records {
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = cellValue(r[c])
		}
		if err := w.WriteRow(row); err != nil {
			return err
		}
	}
	return nil
}

func writeJournal(w Writer, entries []journal.Entry) error {
	if err := w.AddSheet(JournalSheet); err != nil {
		return err
	}
	if err := w.WriteHeader(journal.Columns); err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.WriteRow(e.Row()); err != nil {
			return err
		}
	}
	return nil
}

// Columns is the union of record keys with "id" first and the rest sorted.
func Columns(records []apiclient.Record) []string {
	seen := map[string]bool{}
	var rest []string
	hasID := false
	for _, r := range records {
		for k := range r {
			if k == "id" {
				hasID = true
				continue
			}
			if !seen[k] {
				seen[k] = true
				rest = append(rest, k)
			}
		}
	}
	sort.Strings(rest)
	if hasID {
		return append([]string{"id"}, rest...)
	}
	return rest
}

func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any, []any:
		data, _ := json.Marshal(t)
		return string(data)
	default:
		return t
	}
}
