// Package sheets backs the tabular store with Google Sheets. A collection
// is one spreadsheet, a table is one sheet tab. Every API call runs under
// the store retry policy, with quota errors classified as throttling.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/justestif/go-spotify-listen-logger/internal/retry"
	"github.com/justestif/go-spotify-listen-logger/internal/tabular"
)

// valueInputRaw writes cell values verbatim, no locale parsing.
const valueInputRaw = "RAW"

// Store is a tabular.Store over the Sheets API.
type Store struct {
	svc    *sheets.Service
	policy retry.Policy
}

// Option configures a Store.
type Option func(*config)

type config struct {
	clientOpts []option.ClientOption
	policy     retry.Policy
}

// WithCredentialsJSON authenticates with inline service account JSON.
func WithCredentialsJSON(data []byte) Option {
	return func(c *config) {
		c.clientOpts = append(c.clientOpts, option.WithCredentialsJSON(data))
	}
}

// WithCredentialsFile authenticates with a service account key file.
func WithCredentialsFile(path string) Option {
	return func(c *config) {
		c.clientOpts = append(c.clientOpts, option.WithCredentialsFile(path))
	}
}

// WithRetryPolicy overrides the per-call retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *config) { c.policy = p }
}

// New creates a Store authenticated for spreadsheet read/write.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	cfg := config{policy: retry.StorePolicy()}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.clientOpts = append(cfg.clientOpts, option.WithScopes(sheets.SpreadsheetsScope))
	svc, err := sheets.NewService(ctx, cfg.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}
	return &Store{svc: svc, policy: cfg.policy}, nil
}

// Open binds to a spreadsheet by id and enumerates its sheet tabs.
func (s *Store) Open(ctx context.Context, collectionID string) (tabular.Collection, error) {
	var ss *sheets.Spreadsheet
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		ss, err = s.svc.Spreadsheets.Get(collectionID).Fields("sheets.properties.title").Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", tabular.ErrCollectionNotFound, collectionID)
		}
		return nil, fmt.Errorf("opening spreadsheet: %w", err)
	}

	titles := make(map[string]struct{}, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			titles[sh.Properties.Title] = struct{}{}
		}
	}
	return &collection{store: s, id: collectionID, titles: titles}, nil
}

type collection struct {
	store  *Store
	id     string
	titles map[string]struct{}
}

func (c *collection) ID() string { return c.id }

// Table returns the named sheet tab, creating it with the given grid size
// when absent. The size only matters at creation; Sheets grows rows on
// append by itself.
func (c *collection) Table(ctx context.Context, name string, minRows, minCols int) (tabular.Table, error) {
	if _, ok := c.titles[name]; !ok {
		if err := c.addSheet(ctx, name, minRows, minCols); err != nil {
			return nil, err
		}
		c.titles[name] = struct{}{}
	}
	return &table{store: c.store, spreadsheetID: c.id, name: name}, nil
}

func (c *collection) addSheet(ctx context.Context, name string, rows, cols int) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title: name,
					GridProperties: &sheets.GridProperties{
						RowCount:    int64(rows),
						ColumnCount: int64(cols),
					},
				},
			},
		}},
	}
	err := c.store.policy.Do(ctx, func(ctx context.Context) error {
		_, err := c.store.svc.Spreadsheets.BatchUpdate(c.id, req).Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("adding sheet %s: %w", name, err)
	}
	return nil
}

type table struct {
	store         *Store
	spreadsheetID string
	name          string
}

func (t *table) Name() string { return t.name }

func (t *table) ReadAll(ctx context.Context) ([][]string, error) {
	var vr *sheets.ValueRange
	err := t.store.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		vr, err = t.store.svc.Spreadsheets.Values.Get(t.spreadsheetID, quoteTab(t.name)).Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", t.name, err)
	}
	return fromCells(vr.Values), nil
}

func (t *table) WriteRange(ctx context.Context, rng tabular.Range, rows [][]string) error {
	vr := &sheets.ValueRange{Values: toCells(rows)}
	err := t.store.policy.Do(ctx, func(ctx context.Context) error {
		_, err := t.store.svc.Spreadsheets.Values.
			Update(t.spreadsheetID, t.a1(rng, rows), vr).
			ValueInputOption(valueInputRaw).
			Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", t.name, err)
	}
	return nil
}

func (t *table) Append(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	vr := &sheets.ValueRange{Values: toCells(rows)}
	err := t.store.policy.Do(ctx, func(ctx context.Context) error {
		_, err := t.store.svc.Spreadsheets.Values.
			Append(t.spreadsheetID, quoteTab(t.name), vr).
			ValueInputOption(valueInputRaw).
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("appending to %s: %w", t.name, err)
	}
	return nil
}

// BatchWrite flushes all range writes in one request, the quota-friendly
// path for in-place upserts.
func (t *table) BatchWrite(ctx context.Context, writes []tabular.RangeWrite) error {
	if len(writes) == 0 {
		return nil
	}
	data := make([]*sheets.ValueRange, 0, len(writes))
	for _, w := range writes {
		data = append(data, &sheets.ValueRange{
			Range:  t.a1(w.Range, w.Rows),
			Values: toCells(w.Rows),
		})
	}
	req := &sheets.BatchUpdateValuesRequest{ValueInputOption: valueInputRaw, Data: data}
	err := t.store.policy.Do(ctx, func(ctx context.Context) error {
		_, err := t.store.svc.Spreadsheets.Values.BatchUpdate(t.spreadsheetID, req).Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("batch writing %s: %w", t.name, err)
	}
	return nil
}

// a1 converts a 1-based range plus payload dimensions to A1 notation.
func (t *table) a1(rng tabular.Range, rows [][]string) string {
	height := len(rows)
	if height == 0 {
		height = 1
	}
	width := 1
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	start := colLetters(rng.Col) + strconv.Itoa(rng.Row)
	end := colLetters(rng.Col+width-1) + strconv.Itoa(rng.Row+height-1)
	return quoteTab(t.name) + "!" + start + ":" + end
}

func quoteTab(name string) string { return "'" + name + "'" }

// colLetters converts a 1-based column index to its letter form (1=A,
// 27=AA).
func colLetters(col int) string {
	var out []byte
	for col > 0 {
		col--
		out = append([]byte{byte('A' + col%26)}, out...)
		col /= 26
	}
	return string(out)
}

func toCells(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, r := range rows {
		cells := make([]interface{}, len(r))
		for j, v := range r {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}

func fromCells(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, r := range values {
		row := make([]string, len(r))
		for j, v := range r {
			row[j] = fmt.Sprint(v)
		}
		out[i] = row
	}
	return out
}

// apiError adapts a Sheets API failure to the retry classification
// interfaces.
type apiError struct {
	status     int
	retryAfter time.Duration
	err        error
}

func (e *apiError) Error() string { return e.err.Error() }
func (e *apiError) Unwrap() error { return e.err }

func (e *apiError) Temporary() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500 || e.status == 0
}

func (e *apiError) Throttled() bool { return e.status == http.StatusTooManyRequests }

func (e *apiError) RetryAfterHint() (time.Duration, bool) {
	return e.retryAfter, e.retryAfter > 0
}

// classify wraps googleapi errors for the retry policy. Non-API errors
// (transport, DNS) pass through as temporary via status 0.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		ae := &apiError{status: gerr.Code, err: err}
		if ra := gerr.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil && secs > 0 {
				ae.retryAfter = time.Duration(secs) * time.Second
			}
		}
		return ae
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &apiError{status: 0, err: err}
}

func isNotFound(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.status == http.StatusNotFound
}
