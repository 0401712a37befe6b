/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/lock"
	"github.com/suparena/entityrepo/metrics"
)

// maxParallelIndexes bounds concurrent index creation calls.
const maxParallelIndexes = 8

// Registry is the frozen set of entity mappings. Lookups take no lock and are
// safe for concurrent use.
type Registry struct {
	byType   map[reflect.Type]*EntityMapping
	ordered  []*EntityMapping
	families map[reflect.Type]map[string]reflect.Type

	cs          *lock.CriticalSection
	lockTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	provisioned sync.Map
}

// Resolve returns where documents of T are stored for tenant.
func Resolve[T any](reg *Registry, tenant string) (Location, error) {
	return reg.ResolveType(reflect.TypeFor[T](), tenant)
}

// ResolveType returns where documents of t are stored for tenant. Pass an
// empty tenant for types mapped to a fixed database.
func (r *Registry) ResolveType(t reflect.Type, tenant string) (Location, error) {
	m, err := r.Mapping(t)
	if err != nil {
		return Location{}, err
	}
	database, err := m.Database.ResolveDatabase(tenant)
	if err != nil {
		var mismatch *errors.TenantMismatchError
		if stderrors.As(err, &mismatch) {
			mismatch.Type = m.TypeName()
		}
		return Location{}, err
	}
	return Location{
		Database:   database,
		Collection: m.Collection,
		Mapping:    m,
		Tenant:     TenantContext{ID: tenant, Database: database},
	}, nil
}

// ResolveValue resolves the runtime type of v, so a variant held in an
// interface resolves to its own mapping and discriminator.
func (r *Registry) ResolveValue(v any, tenant string) (Location, error) {
	if v == nil {
		return Location{}, errors.NewValidationError("value", "nil value")
	}
	return r.ResolveType(reflect.TypeOf(v), tenant)
}

// Mapping returns the mapping of t.
func (r *Registry) Mapping(t reflect.Type) (*EntityMapping, error) {
	if r == nil {
		return nil, errors.ErrRegistryNotReady
	}
	t = normalize(t)
	m, ok := r.byType[t]
	if !ok {
		return nil, errors.NewUnmappedTypeError(typeName(t))
	}
	return m, nil
}

// Mappings lists every mapping in declaration order.
func (r *Registry) Mappings() []*EntityMapping {
	if r == nil {
		return nil
	}
	return append([]*EntityMapping(nil), r.ordered...)
}

// Subtypes returns the declared variants of base.
func (r *Registry) Subtypes(base reflect.Type) []reflect.Type {
	m, err := r.Mapping(base)
	if err != nil {
		return nil
	}
	return m.Subtypes()
}

// TypeForDiscriminator returns the member of base's family stored under tag.
func (r *Registry) TypeForDiscriminator(base reflect.Type, tag string) (reflect.Type, error) {
	m, err := r.Mapping(base)
	if err != nil {
		return nil, err
	}
	if t, ok := r.families[m.Base][tag]; ok {
		return t, nil
	}
	return nil, errors.NewValidationError("discriminator", fmt.Sprintf("no subtype of %s with discriminator %q", typeName(m.Base), tag))
}

// ProvisionTenant creates the indexes of every per-tenant database for
// tenant. Provisioning a tenant again does nothing.
func (r *Registry) ProvisionTenant(ctx context.Context, indexer Indexer, tenant string) error {
	if r == nil {
		return errors.ErrRegistryNotReady
	}
	if err := ValidateTenant(tenant); err != nil {
		return err
	}
	if _, done := r.provisioned.Load(tenant); done {
		return nil
	}

	return r.cs.WithLock(ctx, r.lockTimeout, func() error {
		if _, done := r.provisioned.Load(tenant); done {
			return nil
		}
		jobs, err := r.tenantJobs(tenant)
		if err != nil {
			return err
		}
		if indexer != nil {
			if err := ensureIndexes(ctx, indexer, jobs, r.logger, r.metrics); err != nil {
				return err
			}
		}
		r.provisioned.Store(tenant, struct{}{})
		r.logger.InfoContext(ctx, "tenant provisioned", "tenant", tenant, "indexes", len(jobs))
		return nil
	})
}

type indexJob struct {
	database   string
	collection string
	spec       IndexSpec
}

// indexJobs lists the distinct indexes of fixed databases when tenant is
// empty, or of per-tenant databases expanded for tenant otherwise.
func (r *Registry) indexJobs(tenant string) []indexJob {
	seen := map[indexJob]bool{}
	var jobs []indexJob
	for _, m := range r.ordered {
		if m.Database.PerTenant != (tenant != "") {
			continue
		}
		database := m.Database.Name
		if m.Database.PerTenant {
			database = expandTemplate(m.Database.Name, tenant)
		}
		for _, spec := range m.indexes {
			job := indexJob{database: database, collection: m.Collection, spec: spec}
			if !seen[job] {
				seen[job] = true
				jobs = append(jobs, job)
			}
		}
	}
	return jobs
}

func (r *Registry) tenantJobs(tenant string) ([]indexJob, error) {
	if err := ValidateTenant(tenant); err != nil {
		return nil, err
	}
	return r.indexJobs(tenant), nil
}

func ensureIndexes(ctx context.Context, indexer Indexer, jobs []indexJob, logger *slog.Logger, m *metrics.Metrics) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelIndexes)
	for _, job := range jobs {
		g.Go(func() error {
			if err := indexer.EnsureIndex(ctx, job.database, job.collection, job.spec); err != nil {
				return fmt.Errorf("ensure index %s on %s.%s: %w", job.spec.Name(), job.database, job.collection, err)
			}
			m.IncrementIndexesEnsured(job.database)
			logger.DebugContext(ctx, "index ensured",
				"database", job.database, "collection", job.collection, "index", job.spec.Name())
			return nil
		})
	}
	return g.Wait()
}
