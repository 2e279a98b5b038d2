package quickbase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"slices"
	"sort"

	"github.com/DrewBradfordXYZ/quickbase-local/client"
	"github.com/DrewBradfordXYZ/quickbase-local/core"
)

const (
	// DefaultLimit is the page size Find uses when none is given.
	DefaultLimit = 20
	// DefaultPageSize is the page size FindAll uses when none is given.
	DefaultPageSize = 100
)

// ErrUnknownApp is returned when a call names an app missing from the config.
var ErrUnknownApp = errors.New("unknown app")

// FindOptions selects a page of records.
type FindOptions struct {
	App   string
	Table string
	Where core.Where
	// WhereMap is a dynamic where object (see core.ParseWhere). It is ANDed
	// with Where when both are set.
	WhereMap map[string]any
	// Sort lists field names; a "-" prefix sorts descending.
	Sort   []string
	Select []string
	// Limit is the page size (default 20); FindAll uses it as the size of
	// each request (default 100).
	Limit int
	// Page is 1-based (default 1). FindAll ignores it.
	Page int

	DisableErrors bool
	Debug         bool
}

// PaginatedDocs is one page of documents plus its pagination info.
type PaginatedDocs struct {
	Docs []core.Document `json:"docs"`
	core.PageInfo
}

// FindByIDOptions selects one record by its record id.
type FindByIDOptions struct {
	App    string
	Table  string
	ID     any
	Select []string

	DisableErrors bool
	Debug         bool
}

// CreateOptions describes a record to add.
type CreateOptions struct {
	App   string
	Table string
	Data  core.Document
	// Select lists the fields to return; default is every mapped field.
	Select []string

	DisableErrors bool
	Debug         bool
}

// UpdateOptions describes changes to one record. Only keys present in Data
// are written.
type UpdateOptions struct {
	App    string
	Table  string
	ID     any
	Data   core.Document
	Select []string

	DisableErrors bool
	Debug         bool
}

// DeleteOptions selects one record to delete.
type DeleteOptions struct {
	App   string
	Table string
	ID    any

	DisableErrors bool
	Debug         bool
}

// CountOptions selects the records to count.
type CountOptions struct {
	App      string
	Table    string
	Where    core.Where
	WhereMap map[string]any

	DisableErrors bool
	Debug         bool
}

// RecordResult is the outcome of a single-record operation.
type RecordResult struct {
	ID   any           `json:"id"`
	Data core.Document `json:"data"`
}

// DeleteResult is the outcome of Delete.
type DeleteResult struct {
	ID      any `json:"id"`
	Deleted int `json:"numberDeleted"`
}

type queryOptions struct {
	Skip int `json:"skip"`
	Top  int `json:"top"`
}

type queryRequest struct {
	From    string           `json:"from"`
	Where   string           `json:"where,omitempty"`
	SortBy  []core.SortField `json:"sortBy,omitempty"`
	Select  []int            `json:"select,omitempty"`
	Options queryOptions     `json:"options"`
}

type queryResponse struct {
	Data     []core.WireRecord `json:"data"`
	Metadata struct {
		TotalRecords int `json:"totalRecords"`
		NumRecords   int `json:"numRecords"`
		Skip         int `json:"skip"`
	} `json:"metadata"`
}

type upsertRequest struct {
	To             string            `json:"to"`
	Data           []core.WireRecord `json:"data"`
	FieldsToReturn []int             `json:"fieldsToReturn,omitempty"`
	MergeFieldID   int               `json:"mergeFieldId,omitempty"`
}

type upsertResponse struct {
	Data     []core.WireRecord `json:"data"`
	Metadata struct {
		CreatedRecordIDs   []int               `json:"createdRecordIds"`
		UpdatedRecordIDs   []int               `json:"updatedRecordIds"`
		UnchangedRecordIDs []int               `json:"unchangedRecordIds"`
		LineErrors         map[string][]string `json:"lineErrors"`
	} `json:"metadata"`
}

type deleteRequest struct {
	From  string `json:"from"`
	Where string `json:"where"`
}

type deleteResponse struct {
	NumberDeleted int `json:"numberDeleted"`
}

// scope is one call resolved against the config and catalog.
type scope struct {
	app      string
	table    string
	tableID  string
	appToken string
	lenient  bool
	debug    bool
	compiler *core.Compiler
	codec    *core.Codec
	logger   *core.Logger
}

func (c *Client) resolve(app, table string, disableErrors, debug bool) (*scope, error) {
	cfgApp, ok := c.cfg.App(app)
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownApp, app)
	}

	compiler := c.compiler.Strict()
	if disableErrors {
		compiler = c.compiler.Lenient()
	}
	tableID, err := compiler.TableID(app, table)
	if err != nil {
		return nil, err
	}

	return &scope{
		app:      app,
		table:    table,
		tableID:  tableID,
		appToken: cfgApp.AppToken,
		lenient:  disableErrors,
		debug:    debug,
		compiler: compiler,
		codec:    c.codec.WithCompiler(compiler),
		logger:   c.logger.WithDebug(debug),
	}, nil
}

func (s *scope) request(method, path string, body any) client.Request {
	return client.Request{
		Method:   method,
		Path:     path,
		Body:     body,
		AppToken: s.appToken,
		Debug:    s.debug,
	}
}

// swallow reports whether a read failure should become an empty result.
// Cancellation of the caller's context is always returned.
func (s *scope) swallow(ctx context.Context, op string, err error) bool {
	if !s.lenient || ctx.Err() != nil {
		return false
	}
	s.logger.Warn("%s on %s.%s failed, returning empty result: %v", op, s.app, s.table, err)
	return true
}

func (s *scope) where(w core.Where, dynamic map[string]any) (string, error) {
	if dynamic != nil {
		parsed, err := core.ParseWhere(dynamic)
		if err != nil {
			return "", err
		}
		if w.IsZero() {
			w = parsed
		} else if !parsed.IsZero() {
			w = w.WithAnd(parsed)
		}
	}
	return s.compiler.Where(s.app, s.table, w)
}

// primaryKeyQuery is the where clause matching one record id.
func primaryKeyQuery(id any) string {
	return fmt.Sprintf("{%d.EX.%s}", core.PrimaryKeyFieldID, core.FormatValue(id))
}

// Find returns one page of matching documents.
func (c *Client) Find(ctx context.Context, opts FindOptions) (*PaginatedDocs, error) {
	s, err := c.resolve(opts.App, opts.Table, opts.DisableErrors, opts.Debug)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}

	body, err := s.queryBody(opts)
	if err != nil {
		return nil, err
	}
	body.Options = queryOptions{Skip: (page - 1) * limit, Top: limit}

	var resp queryResponse
	if err := c.transport.Do(ctx, s.request(http.MethodPost, "/records/query", body), &resp); err != nil {
		if s.swallow(ctx, "find", err) {
			return &PaginatedDocs{Docs: []core.Document{}, PageInfo: core.Paginate(page, limit, 0)}, nil
		}
		return nil, fmt.Errorf("find %s.%s: %w", s.app, s.table, err)
	}

	total := resp.Metadata.TotalRecords
	if total == 0 {
		total = len(resp.Data)
	}
	return &PaginatedDocs{
		Docs:     s.codec.DecodeAll(s.app, s.table, resp.Data),
		PageInfo: core.Paginate(page, limit, total),
	}, nil
}

// FindAll iterates over every matching document, fetching pages of
// opts.Limit records as it goes. The first error is yielded once and ends
// the iteration; with DisableErrors a transport failure just ends it.
func (c *Client) FindAll(ctx context.Context, opts FindOptions) iter.Seq2[core.Document, error] {
	return func(yield func(core.Document, error) bool) {
		s, err := c.resolve(opts.App, opts.Table, opts.DisableErrors, opts.Debug)
		if err != nil {
			yield(nil, err)
			return
		}
		body, err := s.queryBody(opts)
		if err != nil {
			yield(nil, err)
			return
		}

		pageSize := opts.Limit
		if pageSize <= 0 {
			pageSize = DefaultPageSize
		}

		fetch := func(ctx context.Context, skip int) (client.Page[core.Document], error) {
			req := *body
			req.Options = queryOptions{Skip: skip, Top: pageSize}
			var resp queryResponse
			if err := c.transport.Do(ctx, s.request(http.MethodPost, "/records/query", req), &resp); err != nil {
				return client.Page[core.Document]{}, err
			}
			return client.Page[core.Document]{
				Items: s.codec.DecodeAll(s.app, s.table, resp.Data),
				Skip:  skip,
				Total: resp.Metadata.TotalRecords,
			}, nil
		}

		for doc, err := range client.Paginate(ctx, fetch) {
			if err != nil {
				if !s.swallow(ctx, "findAll", err) {
					yield(nil, fmt.Errorf("find %s.%s: %w", s.app, s.table, err))
				}
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func (s *scope) queryBody(opts FindOptions) (*queryRequest, error) {
	where, err := s.where(opts.Where, opts.WhereMap)
	if err != nil {
		return nil, err
	}
	sortBy, err := s.compiler.Sort(s.app, s.table, opts.Sort...)
	if err != nil {
		return nil, err
	}
	sel, err := s.compiler.Select(s.app, s.table, opts.Select...)
	if err != nil {
		return nil, err
	}
	return &queryRequest{From: s.tableID, Where: where, SortBy: sortBy, Select: sel}, nil
}

// FindByID returns the record with the given record id. When nothing
// matches it returns a *core.NotFoundError, or a nil result with
// DisableErrors.
func (c *Client) FindByID(ctx context.Context, opts FindByIDOptions) (*RecordResult, error) {
	s, err := c.resolve(opts.App, opts.Table, opts.DisableErrors, opts.Debug)
	if err != nil {
		return nil, err
	}
	if opts.ID == nil {
		return nil, &Error{Message: "findByID: id is required"}
	}
	sel, err := s.compiler.Select(s.app, s.table, opts.Select...)
	if err != nil {
		return nil, err
	}

	body := queryRequest{
		From:    s.tableID,
		Where:   primaryKeyQuery(opts.ID),
		Select:  sel,
		Options: queryOptions{Top: 1},
	}
	var resp queryResponse
	if err := c.transport.Do(ctx, s.request(http.MethodPost, "/records/query", body), &resp); err != nil {
		if s.swallow(ctx, "findByID", err) {
			return nil, nil
		}
		return nil, fmt.Errorf("findByID %s.%s: %w", s.app, s.table, err)
	}

	if len(resp.Data) == 0 {
		if s.lenient {
			return nil, nil
		}
		return nil, core.NewRecordNotFoundError(s.table, opts.ID)
	}
	return &RecordResult{
		ID:   opts.ID,
		Data: s.codec.Decode(s.app, s.table, resp.Data[0]),
	}, nil
}

// Create adds one record and returns it as QuickBase stored it.
func (c *Client) Create(ctx context.Context, opts CreateOptions) (*RecordResult, error) {
	s, err := c.resolve(opts.App, opts.Table, opts.DisableErrors, opts.Debug)
	if err != nil {
		return nil, err
	}
	rec, err := s.codec.Encode(s.app, s.table, opts.Data)
	if err != nil {
		return nil, err
	}
	fields, err := s.fieldsToReturn(opts.Select)
	if err != nil {
		return nil, err
	}

	body := upsertRequest{To: s.tableID, Data: []core.WireRecord{rec}, FieldsToReturn: fields}
	resp, err := c.upsert(ctx, s, "create", body)
	if err != nil {
		return nil, err
	}

	var id any
	if ids := resp.Metadata.CreatedRecordIDs; len(ids) > 0 {
		id = ids[0]
	}
	result := s.recordResult(id, resp)
	if result.ID == nil {
		return nil, fmt.Errorf("create %s.%s: no record was created", s.app, s.table)
	}
	return result, nil
}

// Update writes the keys present in opts.Data to the record with opts.ID.
// The record is matched on its record id (mergeFieldId 3).
func (c *Client) Update(ctx context.Context, opts UpdateOptions) (*RecordResult, error) {
	s, err := c.resolve(opts.App, opts.Table, opts.DisableErrors, opts.Debug)
	if err != nil {
		return nil, err
	}
	if opts.ID == nil {
		return nil, &Error{Message: "update: id is required"}
	}
	rec, err := s.codec.EncodeUpdate(s.app, s.table, opts.ID, opts.Data)
	if err != nil {
		return nil, err
	}
	fields, err := s.fieldsToReturn(opts.Select)
	if err != nil {
		return nil, err
	}

	body := upsertRequest{
		To:             s.tableID,
		Data:           []core.WireRecord{rec},
		FieldsToReturn: fields,
		MergeFieldID:   core.PrimaryKeyFieldID,
	}
	resp, err := c.upsert(ctx, s, "update", body)
	if err != nil {
		return nil, err
	}
	return s.recordResult(opts.ID, resp), nil
}

func (c *Client) upsert(ctx context.Context, s *scope, op string, body upsertRequest) (*upsertResponse, error) {
	var resp upsertResponse
	if err := c.transport.Do(ctx, s.request(http.MethodPost, "/records", body), &resp); err != nil {
		return nil, fmt.Errorf("%s %s.%s: %w", op, s.app, s.table, err)
	}
	if len(resp.Metadata.LineErrors) > 0 {
		return nil, lineErrors(op, s, resp.Metadata.LineErrors)
	}
	return &resp, nil
}

// lineErrors turns QuickBase's per-record errors into a ValidationError.
func lineErrors(op string, s *scope, lines map[string][]string) error {
	keys := make([]string, 0, len(lines))
	for k := range lines {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fieldErrors []core.FieldError
	for _, k := range keys {
		for _, msg := range lines[k] {
			fieldErrors = append(fieldErrors, core.FieldError{Field: "line " + k, Message: msg})
		}
	}
	return core.NewValidationError(fmt.Sprintf("%s %s.%s: record rejected", op, s.app, s.table), "", fieldErrors)
}

func (s *scope) recordResult(id any, resp *upsertResponse) *RecordResult {
	result := &RecordResult{ID: id}
	if len(resp.Data) > 0 {
		result.Data = s.codec.Decode(s.app, s.table, resp.Data[0])
		if result.ID == nil {
			result.ID = result.Data["id"]
		}
	}
	return result
}

// fieldsToReturn compiles names into ids, defaulting to every mapped field
// plus the record id.
func (s *scope) fieldsToReturn(names []string) ([]int, error) {
	if len(names) > 0 {
		return s.compiler.Select(s.app, s.table, names...)
	}
	ids := []int{core.PrimaryKeyFieldID}
	for _, id := range s.compiler.Catalog().Fields(s.app, s.table) {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Delete removes the record with opts.ID. When nothing was deleted it
// returns a *core.NotFoundError, or an empty result with DisableErrors.
func (c *Client) Delete(ctx context.Context, opts DeleteOptions) (*DeleteResult, error) {
	s, err := c.resolve(opts.App, opts.Table, opts.DisableErrors, opts.Debug)
	if err != nil {
		return nil, err
	}
	if opts.ID == nil {
		return nil, &Error{Message: "delete: id is required"}
	}

	body := deleteRequest{From: s.tableID, Where: primaryKeyQuery(opts.ID)}
	var resp deleteResponse
	if err := c.transport.Do(ctx, s.request(http.MethodDelete, "/records", body), &resp); err != nil {
		return nil, fmt.Errorf("delete %s.%s: %w", s.app, s.table, err)
	}

	if resp.NumberDeleted == 0 && !s.lenient {
		return nil, core.NewRecordNotFoundError(s.table, opts.ID)
	}
	return &DeleteResult{ID: opts.ID, Deleted: resp.NumberDeleted}, nil
}

// Count returns the number of matching records.
func (c *Client) Count(ctx context.Context, opts CountOptions) (int, error) {
	s, err := c.resolve(opts.App, opts.Table, opts.DisableErrors, opts.Debug)
	if err != nil {
		return 0, err
	}
	where, err := s.where(opts.Where, opts.WhereMap)
	if err != nil {
		return 0, err
	}

	body := queryRequest{
		From:    s.tableID,
		Where:   where,
		Select:  []int{core.PrimaryKeyFieldID},
		Options: queryOptions{Top: 0},
	}
	var resp queryResponse
	if err := c.transport.Do(ctx, s.request(http.MethodPost, "/records/query", body), &resp); err != nil {
		if s.swallow(ctx, "count", err) {
			return 0, nil
		}
		return 0, fmt.Errorf("count %s.%s: %w", s.app, s.table, err)
	}
	return resp.Metadata.TotalRecords, nil
}
