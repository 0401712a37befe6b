/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	pageRetries      = 3
	pageRetryBackoff = 100 * time.Millisecond
)

// page is one Scan or Query response.
type page struct {
	items   []item
	count   int32
	lastKey item
}

// streamPages runs p page by page, handing each page to fn until the result
// set is exhausted. Throttled pages are retried.
func (d *Driver) streamPages(ctx context.Context, p plan, fn func(page) error) error {
	var startKey item
	pageNumber := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pg, err := d.fetchWithRetry(ctx, p, startKey)
		if err != nil {
			return fmt.Errorf("page %d: %w", pageNumber+1, err)
		}
		pageNumber++
		if err := fn(pg); err != nil {
			return err
		}

		if len(pg.lastKey) == 0 {
			return nil
		}
		startKey = pg.lastKey
	}
}

// fetchWithRetry executes one page request, backing off on retryable errors
func (d *Driver) fetchWithRetry(ctx context.Context, p plan, startKey item) (page, error) {
	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = pageRetryBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(delays, pageRetries), ctx)

	return backoff.RetryWithData(func() (page, error) {
		pg, err := d.fetch(ctx, p, startKey)
		if err != nil && !isRetryableError(err) {
			return page{}, backoff.Permanent(err)
		}
		return pg, err
	}, policy)
}

func (d *Driver) fetch(ctx context.Context, p plan, startKey item) (page, error) {
	if p.query != nil {
		in := *p.query
		in.ExclusiveStartKey = startKey
		out, err := d.client.Query(ctx, &in)
		if err != nil {
			return page{}, err
		}
		return page{items: out.Items, count: out.Count, lastKey: out.LastEvaluatedKey}, nil
	}
	in := *p.scan
	in.ExclusiveStartKey = startKey
	out, err := d.client.Scan(ctx, &in)
	if err != nil {
		return page{}, err
	}
	return page{items: out.Items, count: out.Count, lastKey: out.LastEvaluatedKey}, nil
}
