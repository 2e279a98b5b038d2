package quickbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrewBradfordXYZ/quickbase-local/client"
	"github.com/DrewBradfordXYZ/quickbase-local/config"
	"github.com/DrewBradfordXYZ/quickbase-local/core"
)

// recorded is one request seen by the fake API.
type recorded struct {
	Method   string
	Path     string
	Header   http.Header
	Body     map[string]any
	AppToken string
}

// fakeAPI is a chi-routed stand-in for the QuickBase REST API. Each route
// answers with the handler set by the test, or an empty 200.
type fakeAPI struct {
	mu       sync.Mutex
	requests []recorded

	query  func(body map[string]any) (int, any)
	upsert func(body map[string]any) (int, any)
	remove func(body map[string]any) (int, any)
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{}

	r := chi.NewRouter()
	r.Post("/records/query", f.handle(func(b map[string]any) (int, any) { return call(f.query, b) }))
	r.Post("/records", f.handle(func(b map[string]any) (int, any) { return call(f.upsert, b) }))
	r.Delete("/records", f.handle(func(b map[string]any) (int, any) { return call(f.remove, b) }))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func call(h func(map[string]any) (int, any), body map[string]any) (int, any) {
	if h == nil {
		return http.StatusOK, map[string]any{}
	}
	return h(body)
}

func (f *fakeAPI) handle(h func(map[string]any) (int, any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &body)
		}

		f.mu.Lock()
		f.requests = append(f.requests, recorded{
			Method:   r.Method,
			Path:     r.URL.Path,
			Header:   r.Header.Clone(),
			Body:     body,
			AppToken: r.Header.Get("QB-App-Token"),
		})
		f.mu.Unlock()

		status, resp := h(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (f *fakeAPI) all() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.requests...)
}

func (f *fakeAPI) last(t *testing.T) recorded {
	t.Helper()
	reqs := f.all()
	require.NotEmpty(t, reqs, "no request reached the fake API")
	return reqs[len(reqs)-1]
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Realm:     "myrealm",
		UserToken: "usertok",
		BaseURL:   baseURL,
		TimeoutMs: 2000,
		Apps: []config.App{
			{Name: "crm", AppID: "bqx7xre9m", AppToken: "apptok"},
		},
		Mappings: core.Mappings{
			FieldMappings: map[string]map[string]map[string]int{
				"crm": {
					"contacts": {"id": 3, "name": 6, "email": 7, "age": 8, "status": 9},
				},
			},
			TableMappings: map[string]map[string]string{
				"crm": {"contacts": "bqw3ryzab"},
			},
		},
	}
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	defaults := []Option{
		WithMaxRetries(0),
		WithRetryDelay(time.Millisecond),
		WithRateLimit(0, 0),
		WithLogger(core.NewLoggerTo(io.Discard, false)),
	}
	qb, err := New(testConfig(baseURL), append(defaults, opts...)...)
	require.NoError(t, err)
	return qb
}

func wire(fields map[int]any) map[string]any {
	rec := make(map[string]any, len(fields))
	for id, v := range fields {
		rec[strconv.Itoa(id)] = map[string]any{"value": v}
	}
	return rec
}

func TestNew(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := New(&config.Config{Realm: "myrealm"})
		assert.ErrorContains(t, err, "userToken is required")
	})

	t.Run("accessors", func(t *testing.T) {
		qb := newTestClient(t, "http://localhost")
		assert.Equal(t, "myrealm", qb.Config().Realm)
		assert.Equal(t, 6, qb.Catalog().FieldID("crm", "contacts", "name"))
		assert.False(t, qb.Compiler().IsStrict())
	})
}

func TestFind(t *testing.T) {
	ctx := context.Background()

	t.Run("builds the query and decodes the page", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.query = func(map[string]any) (int, any) {
			return http.StatusOK, map[string]any{
				"data": []any{
					wire(map[int]any{3: 41, 6: "Ada", 9: "Active"}),
					wire(map[int]any{3: 42, 6: "Grace", 9: "Active"}),
				},
				"metadata": map[string]any{"totalRecords": 45, "numRecords": 2, "skip": 40},
			}
		}
		qb := newTestClient(t, srv.URL)

		res, err := qb.Find(ctx, FindOptions{
			App:   "crm",
			Table: "contacts",
			Where: core.Filter(
				core.Field("status", core.Eq("Active")),
				core.Field("age", core.GreaterThan(18)),
			),
			Sort:   []string{"-name", "age"},
			Select: []string{"name", "status"},
			Limit:  20,
			Page:   3,
		})
		require.NoError(t, err)

		req := api.last(t)
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "/records/query", req.Path)
		assert.Equal(t, "apptok", req.AppToken)
		assert.Equal(t, "QB-USER-TOKEN usertok", req.Header.Get("Authorization"))
		assert.Equal(t, "myrealm.quickbase.com", req.Header.Get("QB-Realm-Hostname"))
		assert.Equal(t, "bqw3ryzab", req.Body["from"])
		assert.Equal(t, "{9.EX.'Active'} AND {8.GT.'18'}", req.Body["where"])
		assert.Equal(t, []any{
			map[string]any{"fieldId": float64(6), "order": "DESC"},
			map[string]any{"fieldId": float64(8), "order": "ASC"},
		}, req.Body["sortBy"])
		assert.Equal(t, []any{float64(6), float64(9)}, req.Body["select"])
		assert.Equal(t, map[string]any{"skip": float64(40), "top": float64(20)}, req.Body["options"])

		require.Len(t, res.Docs, 2)
		assert.Equal(t, "Ada", res.Docs[0]["name"])
		assert.Equal(t, float64(41), res.Docs[0]["id"])
		assert.Equal(t, 45, res.TotalDocs)
		assert.Equal(t, 3, res.TotalPages)
		assert.Equal(t, 3, res.Page)
		assert.False(t, res.HasNextPage)
		assert.True(t, res.HasPrevPage)
		require.NotNil(t, res.PrevPage)
		assert.Equal(t, 2, *res.PrevPage)
	})

	t.Run("defaults and dynamic where", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		qb := newTestClient(t, srv.URL)

		res, err := qb.Find(ctx, FindOptions{
			App:      "crm",
			Table:    "contacts",
			Where:    core.Filter(core.Field("status", core.Eq("Active"))),
			WhereMap: map[string]any{"age": map[string]any{"lessThan": 65}},
		})
		require.NoError(t, err)

		body := api.last(t).Body
		assert.Equal(t, "{9.EX.'Active'} AND ({8.LT.'65'})", body["where"])
		assert.Equal(t, map[string]any{"skip": float64(0), "top": float64(20)}, body["options"])
		assert.NotContains(t, body, "sortBy")
		assert.NotContains(t, body, "select")

		assert.Empty(t, res.Docs)
		assert.Equal(t, 1, res.Page)
		assert.Equal(t, 20, res.Limit)
		assert.Equal(t, 0, res.TotalPages)
	})

	t.Run("unknown operator is rejected", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		qb := newTestClient(t, srv.URL)

		_, err := qb.Find(ctx, FindOptions{
			App:      "crm",
			Table:    "contacts",
			WhereMap: map[string]any{"age": map[string]any{"between": []any{1, 2}}},
		})
		var condErr *core.ConditionError
		require.ErrorAs(t, err, &condErr)
		assert.Equal(t, "age", condErr.Field)
		assert.Empty(t, api.all())
	})

	t.Run("strict mapping miss", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		qb := newTestClient(t, srv.URL)

		_, err := qb.Find(ctx, FindOptions{
			App:   "crm",
			Table: "contacts",
			Where: core.Filter(core.Field("nmae", core.Eq("Ada"))),
		})
		var miss *core.MappingMissError
		require.ErrorAs(t, err, &miss)
		assert.Equal(t, "nmae", miss.Field)
		assert.Equal(t, "name", miss.Suggestion)
		assert.Empty(t, api.all())

		_, err = qb.Find(ctx, FindOptions{App: "crm", Table: "contactz"})
		require.ErrorAs(t, err, &miss)
		assert.Empty(t, miss.Field)
	})

	t.Run("lenient mapping miss falls back", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		qb := newTestClient(t, srv.URL)

		_, err := qb.Find(ctx, FindOptions{
			App:           "crm",
			Table:         "projects",
			Where:         core.Filter(core.Field("nmae", core.Eq("Ada"))),
			DisableErrors: true,
		})
		require.NoError(t, err)
		body := api.last(t).Body
		assert.Equal(t, "projects", body["from"])
		assert.Equal(t, "{3.EX.'Ada'}", body["where"])
	})

	t.Run("unknown app is always an error", func(t *testing.T) {
		_, srv := newFakeAPI(t)
		qb := newTestClient(t, srv.URL)

		_, err := qb.Find(ctx, FindOptions{App: "hr", Table: "contacts", DisableErrors: true})
		assert.ErrorIs(t, err, ErrUnknownApp)
	})

	t.Run("transport failure", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.query = func(map[string]any) (int, any) {
			return http.StatusInternalServerError, map[string]any{"message": "Internal error", "description": "try later"}
		}
		qb := newTestClient(t, srv.URL)

		_, err := qb.Find(ctx, FindOptions{App: "crm", Table: "contacts"})
		var serverErr *core.ServerError
		require.ErrorAs(t, err, &serverErr)
		assert.Equal(t, http.StatusInternalServerError, serverErr.StatusCode)

		res, err := qb.Find(ctx, FindOptions{App: "crm", Table: "contacts", DisableErrors: true, Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, res.Docs)
		assert.Equal(t, 0, res.TotalDocs)
		assert.Equal(t, 10, res.Limit)
	})

	t.Run("converts dates", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.query = func(map[string]any) (int, any) {
			return http.StatusOK, map[string]any{
				"data":     []any{wire(map[int]any{1: "2024-01-15T10:30:00Z", 3: 1})},
				"metadata": map[string]any{"totalRecords": 1},
			}
		}
		qb := newTestClient(t, srv.URL, WithConvertDates(true))

		res, err := qb.Find(ctx, FindOptions{App: "crm", Table: "contacts"})
		require.NoError(t, err)
		require.Len(t, res.Docs, 1)
		created, ok := res.Docs[0]["dateCreated"].(time.Time)
		require.True(t, ok)
		assert.Equal(t, 2024, created.Year())
	})

	t.Run("per-call debug", func(t *testing.T) {
		_, srv := newFakeAPI(t)
		var buf bytes.Buffer
		qb := newTestClient(t, srv.URL, WithLogger(core.NewLoggerTo(&buf, false)))

		_, err := qb.Find(ctx, FindOptions{App: "crm", Table: "contacts"})
		require.NoError(t, err)
		assert.Empty(t, buf.String())

		_, err = qb.Find(ctx, FindOptions{App: "crm", Table: "contacts", Debug: true})
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "POST")
		assert.Contains(t, buf.String(), "/records/query")
	})
}

func TestFindAll(t *testing.T) {
	ctx := context.Background()

	newPagedAPI := func(t *testing.T, total int) (*fakeAPI, *httptest.Server) {
		api, srv := newFakeAPI(t)
		api.query = func(body map[string]any) (int, any) {
			opts := body["options"].(map[string]any)
			skip, top := int(opts["skip"].(float64)), int(opts["top"].(float64))
			var data []any
			for i := skip; i < min(skip+top, total); i++ {
				data = append(data, wire(map[int]any{3: i + 1}))
			}
			return http.StatusOK, map[string]any{
				"data":     data,
				"metadata": map[string]any{"totalRecords": total, "skip": skip},
			}
		}
		return api, srv
	}

	t.Run("walks every page", func(t *testing.T) {
		api, srv := newPagedAPI(t, 5)
		qb := newTestClient(t, srv.URL)

		var ids []any
		for doc, err := range qb.FindAll(ctx, FindOptions{App: "crm", Table: "contacts", Limit: 2}) {
			require.NoError(t, err)
			ids = append(ids, doc["id"])
		}
		assert.Equal(t, []any{1.0, 2.0, 3.0, 4.0, 5.0}, ids)

		reqs := api.all()
		require.Len(t, reqs, 3)
		assert.Equal(t, map[string]any{"skip": float64(4), "top": float64(2)}, reqs[2].Body["options"])
	})

	t.Run("stops when the caller breaks", func(t *testing.T) {
		api, srv := newPagedAPI(t, 10)
		qb := newTestClient(t, srv.URL)

		n := 0
		for _, err := range qb.FindAll(ctx, FindOptions{App: "crm", Table: "contacts", Limit: 3}) {
			require.NoError(t, err)
			n++
			if n == 4 {
				break
			}
		}
		assert.Equal(t, 4, n)
		assert.Len(t, api.all(), 2)
	})

	t.Run("errors", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.query = func(map[string]any) (int, any) {
			return http.StatusBadRequest, map[string]any{"message": "Bad request"}
		}
		qb := newTestClient(t, srv.URL)

		var errs []error
		for _, err := range qb.FindAll(ctx, FindOptions{App: "crm", Table: "contacts"}) {
			errs = append(errs, err)
		}
		require.Len(t, errs, 1)
		var validation *core.ValidationError
		assert.ErrorAs(t, errs[0], &validation)

		n := 0
		for range qb.FindAll(ctx, FindOptions{App: "crm", Table: "contacts", DisableErrors: true}) {
			n++
		}
		assert.Zero(t, n)

		errs = nil
		for _, err := range qb.FindAll(ctx, FindOptions{App: "hr", Table: "contacts"}) {
			errs = append(errs, err)
		}
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], ErrUnknownApp)
	})
}

func TestFindByID(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.query = func(map[string]any) (int, any) {
			return http.StatusOK, map[string]any{
				"data":     []any{wire(map[int]any{3: 12, 6: "Ada", 42: "x"})},
				"metadata": map[string]any{"totalRecords": 1},
			}
		}
		qb := newTestClient(t, srv.URL)

		res, err := qb.FindByID(ctx, FindByIDOptions{App: "crm", Table: "contacts", ID: 12, Select: []string{"name"}})
		require.NoError(t, err)

		body := api.last(t).Body
		assert.Equal(t, "{3.EX.12}", body["where"])
		assert.Equal(t, []any{float64(6)}, body["select"])
		assert.Equal(t, map[string]any{"skip": float64(0), "top": float64(1)}, body["options"])

		require.NotNil(t, res)
		assert.Equal(t, 12, res.ID)
		assert.Equal(t, "Ada", res.Data["name"])
		assert.Equal(t, "x", res.Data["field_42"])
	})

	t.Run("not found", func(t *testing.T) {
		_, srv := newFakeAPI(t)
		qb := newTestClient(t, srv.URL)

		_, err := qb.FindByID(ctx, FindByIDOptions{App: "crm", Table: "contacts", ID: 99})
		var notFound *core.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "contacts", notFound.Table)
		assert.Equal(t, "99", notFound.RecordID)

		res, err := qb.FindByID(ctx, FindByIDOptions{App: "crm", Table: "contacts", ID: 99, DisableErrors: true})
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("transport failure is swallowed only when lenient", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.query = func(map[string]any) (int, any) {
			return http.StatusForbidden, map[string]any{"message": "Access denied"}
		}
		qb := newTestClient(t, srv.URL)

		_, err := qb.FindByID(ctx, FindByIDOptions{App: "crm", Table: "contacts", ID: 1})
		var authz *core.AuthorizationError
		assert.ErrorAs(t, err, &authz)

		res, err := qb.FindByID(ctx, FindByIDOptions{App: "crm", Table: "contacts", ID: 1, DisableErrors: true})
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("id is required", func(t *testing.T) {
		qb := newTestClient(t, "http://localhost")
		_, err := qb.FindByID(ctx, FindByIDOptions{App: "crm", Table: "contacts"})
		assert.Error(t, err)
	})
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("encodes the document", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.upsert = func(map[string]any) (int, any) {
			return http.StatusOK, map[string]any{
				"data":     []any{wire(map[int]any{3: 99, 6: "Ada"})},
				"metadata": map[string]any{"createdRecordIds": []int{99}},
			}
		}
		qb := newTestClient(t, srv.URL)

		res, err := qb.Create(ctx, CreateOptions{
			App:   "crm",
			Table: "contacts",
			Data: core.Document{
				"name":        "Ada",
				"email":       nil,
				"age":         core.Omit,
				"recordOwner": "owner@example.com",
			},
		})
		require.NoError(t, err)

		req := api.last(t)
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "/records", req.Path)
		assert.Equal(t, "bqw3ryzab", req.Body["to"])
		assert.Equal(t, []any{map[string]any{
			"4": map[string]any{"value": "owner@example.com"},
			"6": map[string]any{"value": "Ada"},
			"7": map[string]any{"value": nil},
		}}, req.Body["data"])
		assert.Equal(t, []any{float64(3), float64(6), float64(7), float64(8), float64(9)}, req.Body["fieldsToReturn"])
		assert.NotContains(t, req.Body, "mergeFieldId")

		assert.Equal(t, 99, res.ID)
		assert.Equal(t, "Ada", res.Data["name"])
	})

	t.Run("nothing created", func(t *testing.T) {
		_, srv := newFakeAPI(t)
		qb := newTestClient(t, srv.URL)

		_, err := qb.Create(ctx, CreateOptions{App: "crm", Table: "contacts", Data: core.Document{"name": "Ada"}})
		assert.ErrorContains(t, err, "no record was created")
	})

	t.Run("line errors", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.upsert = func(map[string]any) (int, any) {
			return http.StatusMultiStatus, map[string]any{
				"metadata": map[string]any{
					"lineErrors": map[string]any{"1": []string{"Incompatible value for field with ID \"8\"."}},
				},
			}
		}
		qb := newTestClient(t, srv.URL)

		_, err := qb.Create(ctx, CreateOptions{App: "crm", Table: "contacts", Data: core.Document{"age": "old"}})
		var validation *core.ValidationError
		require.ErrorAs(t, err, &validation)
		require.Len(t, validation.Errors, 1)
		assert.Equal(t, "line 1", validation.Errors[0].Field)
	})

	t.Run("strict mapping miss", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		qb := newTestClient(t, srv.URL)

		_, err := qb.Create(ctx, CreateOptions{App: "crm", Table: "contacts", Data: core.Document{"nmae": "Ada"}})
		var miss *core.MappingMissError
		assert.ErrorAs(t, err, &miss)
		assert.Empty(t, api.all())
	})

	t.Run("read-only client", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		qb := newTestClient(t, srv.URL, WithReadOnly(true))

		_, err := qb.Create(ctx, CreateOptions{App: "crm", Table: "contacts", Data: core.Document{"name": "Ada"}})
		var ro *client.ReadOnlyError
		assert.ErrorAs(t, err, &ro)

		_, err = qb.Find(ctx, FindOptions{App: "crm", Table: "contacts"})
		assert.NoError(t, err)
		assert.Len(t, api.all(), 1)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("merges on the record id", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.upsert = func(map[string]any) (int, any) {
			return http.StatusOK, map[string]any{
				"data":     []any{wire(map[int]any{3: 12, 9: "Inactive"})},
				"metadata": map[string]any{"updatedRecordIds": []int{12}},
			}
		}
		qb := newTestClient(t, srv.URL)

		res, err := qb.Update(ctx, UpdateOptions{
			App:    "crm",
			Table:  "contacts",
			ID:     12,
			Data:   core.Document{"status": "Inactive", "id": 500},
			Select: []string{"status"},
		})
		require.NoError(t, err)

		body := api.last(t).Body
		assert.Equal(t, float64(3), body["mergeFieldId"])
		assert.Equal(t, []any{map[string]any{
			"3": map[string]any{"value": float64(12)},
			"9": map[string]any{"value": "Inactive"},
		}}, body["data"])
		assert.Equal(t, []any{float64(9)}, body["fieldsToReturn"])

		assert.Equal(t, 12, res.ID)
		assert.Equal(t, "Inactive", res.Data["status"])
	})

	t.Run("id is required", func(t *testing.T) {
		qb := newTestClient(t, "http://localhost")
		_, err := qb.Update(ctx, UpdateOptions{App: "crm", Table: "contacts", Data: core.Document{"name": "x"}})
		var apiErr *Error
		assert.ErrorAs(t, err, &apiErr)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("deleted", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.remove = func(map[string]any) (int, any) {
			return http.StatusOK, map[string]any{"numberDeleted": 1}
		}
		qb := newTestClient(t, srv.URL)

		res, err := qb.Delete(ctx, DeleteOptions{App: "crm", Table: "contacts", ID: 12})
		require.NoError(t, err)
		assert.Equal(t, &DeleteResult{ID: 12, Deleted: 1}, res)

		req := api.last(t)
		assert.Equal(t, http.MethodDelete, req.Method)
		assert.Equal(t, map[string]any{"from": "bqw3ryzab", "where": "{3.EX.12}"}, req.Body)
	})

	t.Run("nothing deleted", func(t *testing.T) {
		api, srv := newFakeAPI(t)
		api.remove = func(map[string]any) (int, any) {
			return http.StatusOK, map[string]any{"numberDeleted": 0}
		}
		qb := newTestClient(t, srv.URL)

		_, err := qb.Delete(ctx, DeleteOptions{App: "crm", Table: "contacts", ID: 12})
		var notFound *core.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "12", notFound.RecordID)

		res, err := qb.Delete(ctx, DeleteOptions{App: "crm", Table: "contacts", ID: 12, DisableErrors: true})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Deleted)
	})
}

func TestCount(t *testing.T) {
	ctx := context.Background()

	api, srv := newFakeAPI(t)
	api.query = func(map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"data": []any{}, "metadata": map[string]any{"totalRecords": 7}}
	}
	qb := newTestClient(t, srv.URL)

	n, err := qb.Count(ctx, CountOptions{
		App:      "crm",
		Table:    "contacts",
		WhereMap: map[string]any{"status": "Active"},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	body := api.last(t).Body
	assert.Equal(t, "{9.EX.'Active'}", body["where"])
	assert.Equal(t, map[string]any{"skip": float64(0), "top": float64(0)}, body["options"])

	api.query = func(map[string]any) (int, any) {
		return http.StatusServiceUnavailable, map[string]any{"message": "down"}
	}
	_, err = qb.Count(ctx, CountOptions{App: "crm", Table: "contacts"})
	assert.Error(t, err)

	n, err = qb.Count(ctx, CountOptions{App: "crm", Table: "contacts", DisableErrors: true})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelledContextIsNotSwallowed(t *testing.T) {
	_, srv := newFakeAPI(t)
	qb := newTestClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := qb.Find(ctx, FindOptions{App: "crm", Table: "contacts", DisableErrors: true})
	assert.ErrorIs(t, err, context.Canceled)
}

// stubTransport records requests without any HTTP.
type stubTransport struct {
	reqs []client.Request
	resp string
}

func (s *stubTransport) Do(ctx context.Context, req client.Request, out any) error {
	s.reqs = append(s.reqs, req)
	if out == nil || s.resp == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.resp), out)
}

func TestWithTransport(t *testing.T) {
	stub := &stubTransport{resp: `{"metadata":{"totalRecords":3}}`}
	qb, err := New(testConfig(""), WithTransport(stub))
	require.NoError(t, err)

	n, err := qb.Count(context.Background(), CountOptions{App: "crm", Table: "contacts", Debug: true})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, stub.reqs, 1)
	assert.Equal(t, "apptok", stub.reqs[0].AppToken)
	assert.True(t, stub.reqs[0].Debug)
	assert.Equal(t, "/records/query", stub.reqs[0].Path)
}

func TestWithMetrics(t *testing.T) {
	_, srv := newFakeAPI(t)
	reg := prometheus.NewRegistry()
	qb := newTestClient(t, srv.URL, WithMetrics(reg))

	_, err := qb.Count(context.Background(), CountOptions{App: "crm", Table: "contacts"})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "quickbase_requests_total")
}

func TestUnknownAppError(t *testing.T) {
	qb := newTestClient(t, "http://localhost")
	_, err := qb.Count(context.Background(), CountOptions{App: "hr", Table: "x"})
	assert.True(t, errors.Is(err, ErrUnknownApp))
	assert.EqualError(t, err, "unknown app 'hr'")
}
