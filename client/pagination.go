package client

import (
	"context"
	"iter"
)

// Page is one slice of a skip-based listing.
type Page[T any] struct {
	Items []T
	// Skip is the offset the page starts at.
	Skip int
	// Total is the number of matching records reported by the server.
	Total int
}

// PageFetcher fetches the page starting at skip.
type PageFetcher[T any] func(ctx context.Context, skip int) (Page[T], error)

// Paginate returns an iterator over every item of every page. It stops after
// the page that reaches Total, on an empty page, or on the first error,
// which is yielded once.
//
//	for rec, err := range client.Paginate(ctx, fetch) {
//	    if err != nil { ... }
//	}
func Paginate[T any](ctx context.Context, fetch PageFetcher[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		skip := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}
			page, err := fetch(ctx, skip)
			if err != nil {
				yield(zero, err)
				return
			}
			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}

			end := page.Skip + len(page.Items)
			if len(page.Items) == 0 || end >= page.Total {
				return
			}
			skip = end
		}
	}
}

// CollectAll fetches every page and returns all items.
func CollectAll[T any](ctx context.Context, fetch PageFetcher[T]) ([]T, error) {
	return CollectN(ctx, fetch, 0)
}

// CollectN fetches items across pages until n are collected. n <= 0 means no limit.
func CollectN[T any](ctx context.Context, fetch PageFetcher[T], n int) ([]T, error) {
	var out []T
	for item, err := range Paginate(ctx, fetch) {
		if err != nil {
			return nil, err
		}
		out = append(out, item)
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out, nil
}
