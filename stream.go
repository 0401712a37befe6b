/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/storagemodels"
)

// Stream delivers the entities matching filter in id order, fetching them a
// page at a time. The channel is closed when the entities are exhausted, ctx
// is done or a failure was delivered as a result with Error set.
//
// A document that cannot be decoded is passed to the ErrorHandler option:
// returning true skips it, returning false (or having no handler) ends the
// stream with the error.
func (r *Repository[T]) Stream(ctx context.Context, filter storagemodels.Filter, opts ...storagemodels.StreamOption) <-chan storagemodels.StreamResult[T] {
	options := storagemodels.DefaultStreamOptions()
	for _, opt := range opts {
		opt(&options)
	}

	resultCh := make(chan storagemodels.StreamResult[T], options.BufferSize)
	go r.streamWorker(ctx, filter, options, resultCh)
	return resultCh
}

func (r *Repository[T]) streamWorker(
	ctx context.Context,
	filter storagemodels.Filter,
	options storagemodels.StreamOptions,
	resultCh chan<- storagemodels.StreamResult[T],
) {
	defer close(resultCh)

	var (
		itemIndex  int64
		pageNumber int
		skipped    []error
		startTime  = time.Now()
	)

	reportProgress := func() {
		if options.ProgressHandler == nil {
			return
		}
		progress := storagemodels.StreamProgress{
			ItemsProcessed: itemIndex,
			PagesProcessed: pageNumber,
			Errors:         skipped,
			StartTime:      startTime,
		}
		if elapsed := time.Since(startTime).Seconds(); elapsed > 0 {
			progress.CurrentRate = float64(itemIndex) / elapsed
		}
		options.ProgressHandler(progress)
	}

	send := func(res storagemodels.StreamResult[T]) bool {
		select {
		case resultCh <- res:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		send(storagemodels.StreamResult[T]{
			Error: err,
			Meta:  storagemodels.StreamMeta{Index: itemIndex, PageNumber: pageNumber, Timestamp: time.Now()},
		})
	}

	coll, err := r.collection(r.loc)
	if err != nil {
		fail(err)
		return
	}
	find := storagemodels.FindOptions{
		Sort:  []storagemodels.SortField{{Field: datastore.IDElement}},
		Limit: options.PageSize,
	}
	scoped := r.scope(filter)

	for {
		if ctx.Err() != nil {
			return
		}

		docs, err := coll.Find(r.bind(ctx), scoped, find)
		if err != nil {
			fail(fmt.Errorf("fetch page %d: %w", pageNumber+1, err))
			return
		}
		pageNumber++

		for _, doc := range docs {
			item, err := r.decode(doc)
			if err != nil {
				if options.ErrorHandler != nil && options.ErrorHandler(err) {
					skipped = append(skipped, err)
					continue
				}
				fail(err)
				return
			}
			ok := send(storagemodels.StreamResult[T]{
				Item: item,
				Meta: storagemodels.StreamMeta{Index: itemIndex, PageNumber: pageNumber, Timestamp: time.Now()},
			})
			if !ok {
				return
			}
			itemIndex++
		}
		reportProgress()

		if options.PageSize <= 0 || int64(len(docs)) < options.PageSize {
			return
		}
		find.Skip += int64(len(docs))
	}
}
