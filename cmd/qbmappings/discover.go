package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/DrewBradfordXYZ/quickbase-local/client"
	"github.com/DrewBradfordXYZ/quickbase-local/config"
	"github.com/DrewBradfordXYZ/quickbase-local/core"
)

type tableInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type fieldInfo struct {
	ID        int    `json:"id"`
	Label     string `json:"label"`
	FieldType string `json:"fieldType"`
}

// requester is the part of *client.Client discovery needs.
type requester interface {
	Do(ctx context.Context, req client.Request, out any) error
}

// discoverer reads the tables and fields of one app.
type discoverer struct {
	api         requester
	concurrency int
	logger      *core.Logger
}

// appMappings is the snapshot of one app.
type appMappings struct {
	Fields map[string]map[string]int
	Tables map[string]string
}

func (a appMappings) fieldCount() int {
	n := 0
	for _, fields := range a.Fields {
		n += len(fields)
	}
	return n
}

// discover lists the app's tables, then fetches each table's fields on a
// bounded pool. The first failure is returned after in-flight fetches finish.
func (d *discoverer) discover(ctx context.Context, app config.App) (appMappings, error) {
	var tables []tableInfo
	err := d.api.Do(ctx, client.Request{
		Method:   http.MethodGet,
		Path:     "/tables",
		Query:    url.Values{"appId": {app.AppID}},
		AppToken: app.AppToken,
	}, &tables)
	if err != nil {
		return appMappings{}, fmt.Errorf("fetching tables of app %s: %w", app.AppID, err)
	}

	// Names are assigned up front, in API order, so they do not depend on
	// which fetch finishes first.
	used := make(map[string]bool, len(tables))
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = makeUnique(labelToName(t.Name), used)
	}

	size := d.concurrency
	if size <= 0 {
		size = 1
	}
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(v any) {
		d.logger.Error("field discovery panic: %v", v)
	}))
	if err != nil {
		return appMappings{}, fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	results := make([]map[string]int, len(tables))
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for i, t := range tables {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			fields, err := d.fields(ctx, app, t.ID)
			if err != nil {
				fail(fmt.Errorf("fetching fields of table %s: %w", t.ID, err))
				return
			}
			results[i] = fieldNames(fields)
			d.logger.Debug("table %s (%s): %d fields", names[i], t.ID, len(fields))
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("scheduling table %s: %w", t.ID, err))
			break
		}
	}
	wg.Wait()
	if firstErr != nil {
		return appMappings{}, firstErr
	}

	out := appMappings{
		Fields: make(map[string]map[string]int, len(tables)),
		Tables: make(map[string]string, len(tables)),
	}
	for i, t := range tables {
		out.Tables[names[i]] = t.ID
		out.Fields[names[i]] = results[i]
	}
	return out, nil
}

func (d *discoverer) fields(ctx context.Context, app config.App, tableID string) ([]fieldInfo, error) {
	var fields []fieldInfo
	err := d.api.Do(ctx, client.Request{
		Method:   http.MethodGet,
		Path:     "/fields",
		Query:    url.Values{"tableId": {tableID}},
		AppToken: app.AppToken,
	}, &fields)
	return fields, err
}

// merge writes one app's snapshot into m, replacing any previous entry.
func merge(m *core.Mappings, name string, app appMappings) {
	if m.FieldMappings == nil {
		m.FieldMappings = make(map[string]map[string]map[string]int)
	}
	if m.TableMappings == nil {
		m.TableMappings = make(map[string]map[string]string)
	}
	m.FieldMappings[name] = app.Fields
	m.TableMappings[name] = app.Tables
}
