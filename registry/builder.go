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
	"sync/atomic"
	"time"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/lock"
	"github.com/suparena/entityrepo/metrics"
)

// DefaultLockTimeout bounds how long configuration waits for the registry lock.
const DefaultLockTimeout = 30 * time.Second

// Indexer creates a secondary index in a physical collection. Creating an
// index that already exists must succeed.
type Indexer interface {
	EnsureIndex(ctx context.Context, database, collection string, spec IndexSpec) error
}

// IndexerFunc adapts a function to Indexer.
type IndexerFunc func(ctx context.Context, database, collection string, spec IndexSpec) error

func (f IndexerFunc) EnsureIndex(ctx context.Context, database, collection string, spec IndexSpec) error {
	return f(ctx, database, collection, spec)
}

// Builder collects database declarations until Build freezes them into a
// Registry. Its methods are serialized through a lock.CriticalSection, so a
// Builder may be shared by concurrent configuration code.
type Builder struct {
	cs          *lock.CriticalSection
	lockTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tenants     []string
	publish     bool

	databases []*databaseDecl
	built     bool
}

type databaseDecl struct {
	rule     DatabaseRule
	mappings []*EntityMapping
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger used during build and provisioning.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records index creation and build duration in m.
func WithMetrics(m *metrics.Metrics) BuilderOption {
	return func(b *Builder) {
		b.metrics = m
	}
}

// WithLockTimeout bounds the wait for the configuration lock.
func WithLockTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) {
		if d > 0 {
			b.lockTimeout = d
		}
	}
}

// WithTenants provisions the indexes of every per-tenant database for the
// given tenants during Build.
func WithTenants(tenants ...string) BuilderOption {
	return func(b *Builder) {
		b.tenants = append(b.tenants, tenants...)
	}
}

// WithCriticalSection shares cs with other configuration code instead of a
// private one.
func WithCriticalSection(cs *lock.CriticalSection) BuilderOption {
	return func(b *Builder) {
		if cs != nil {
			b.cs = cs
		}
	}
}

// NewBuilder returns an empty, unbuilt Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		cs:          lock.New(),
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var global atomic.Pointer[Registry]

// Configure returns a Builder whose Build also publishes the registry for
// Global.
func Configure(opts ...BuilderOption) *Builder {
	b := NewBuilder(opts...)
	b.publish = true
	return b
}

// Global returns the registry published by a Builder from Configure.
func Global() (*Registry, error) {
	reg := global.Load()
	if reg == nil {
		return nil, errors.ErrRegistryNotReady
	}
	return reg, nil
}

// Database declares the mappings stored in a fixed database.
func (b *Builder) Database(name string, configure func(*Scope)) error {
	return b.declare(DatabaseRule{Name: name}, configure)
}

// DatabasePerTenant declares the mappings stored in a database named by
// template, which must contain {tenant}, e.g. "{tenant}_TestDb".
func (b *Builder) DatabasePerTenant(template string, configure func(*Scope)) error {
	return b.declare(DatabaseRule{Name: template, PerTenant: true}, configure)
}

func (b *Builder) declare(rule DatabaseRule, configure func(*Scope)) error {
	if err := validateDatabaseRule(rule); err != nil {
		return err
	}
	return b.cs.WithLock(context.Background(), b.lockTimeout, func() error {
		if b.built {
			return errors.ErrRegistryFrozen
		}
		scope := &Scope{decl: &databaseDecl{rule: rule}}
		if configure != nil {
			configure(scope)
		}
		scope.closed = true
		if err := scope.Err(); err != nil {
			return fmt.Errorf("database %s: %w", rule, err)
		}
		b.databases = append(b.databases, scope.decl)
		return nil
	})
}

// Scope collects the mappings of one database declaration. It is only
// usable inside the configure callback it was passed to.
type Scope struct {
	decl   *databaseDecl
	errs   []error
	closed bool
}

// Err reports the declaration errors recorded on the scope, including
// ErrRegistryFrozen for mappings added after its callback returned.
func (s *Scope) Err() error {
	return stderrors.Join(s.errs...)
}

func (s *Scope) fail(err error) {
	s.errs = append(s.errs, err)
}

// usable records ErrRegistryFrozen on a scope whose callback has returned.
func (s *Scope) usable() bool {
	if s.closed {
		s.fail(errors.ErrRegistryFrozen)
		return false
	}
	return true
}

func (s *Scope) add(m *EntityMapping) {
	s.decl.mappings = append(s.decl.mappings, m)
}

type mapConfig struct {
	indexes  []IndexSpec
	classMap *ClassMap
}

// MapOption configures a mapping or a variant.
type MapOption func(*mapConfig)

// WithIndex declares an index on a document field path.
func WithIndex(fieldPath string, unique bool) MapOption {
	return func(c *mapConfig) {
		c.indexes = append(c.indexes, IndexSpec{Field: fieldPath, Unique: unique})
	}
}

// WithClassMap replaces the default structural mapping of the type.
func WithClassMap(cm ClassMap) MapOption {
	return func(c *mapConfig) {
		c.classMap = cm.clone()
	}
}

func newMapConfig(opts []MapOption) mapConfig {
	var c mapConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c mapConfig) validate(t reflect.Type) error {
	for _, idx := range c.indexes {
		if idx.Field == "" {
			return errors.NewValidationError("index", fmt.Sprintf("%s: empty index field", typeName(t)))
		}
	}
	if c.classMap != nil && c.classMap.IDField != "" && t.Kind() == reflect.Struct {
		if _, ok := t.FieldByName(c.classMap.IDField); !ok {
			return errors.NewValidationError("IDField", fmt.Sprintf("%s has no field %s", typeName(t), c.classMap.IDField))
		}
	}
	return nil
}

// Map stores documents of T in collection. An empty collection defaults to
// the type name.
func Map[T any](s *Scope, collection string, opts ...MapOption) {
	if !s.usable() {
		return
	}
	t := normalize(reflect.TypeFor[T]())
	if t.Kind() != reflect.Struct {
		s.fail(errors.NewValidationError("type", fmt.Sprintf("%s: only struct types can be mapped without subtypes", typeName(t))))
		return
	}
	cfg := newMapConfig(opts)
	if err := cfg.validate(t); err != nil {
		s.fail(err)
		return
	}
	s.add(&EntityMapping{
		Type:       t,
		Base:       t,
		Database:   s.decl.rule,
		Collection: collectionName(collection, t),
		indexes:    cfg.indexes,
		classMap:   cfg.classMap,
	})
}

// Variant is a concrete member of a polymorphic family.
type Variant struct {
	typ           reflect.Type
	discriminator string
	cfg           mapConfig
}

// Subtype declares S as a variant stored under discriminator tag. An empty
// tag defaults to the type name.
func Subtype[S any](tag string, opts ...MapOption) Variant {
	t := normalize(reflect.TypeFor[S]())
	if tag == "" {
		tag = t.Name()
	}
	return Variant{typ: t, discriminator: tag, cfg: newMapConfig(opts)}
}

// MapWithSubtypes stores T and its variants in one collection. T is either
// an interface every variant implements (by value or pointer), or a struct
// every variant embeds. A struct base is itself stored under its type name.
func MapWithSubtypes[T any](s *Scope, collection string, variants []Variant, opts ...MapOption) {
	if !s.usable() {
		return
	}
	base := normalize(reflect.TypeFor[T]())
	cfg := newMapConfig(opts)

	switch base.Kind() {
	case reflect.Interface:
		if len(variants) == 0 {
			s.fail(errors.NewValidationError("variants", fmt.Sprintf("interface %s needs at least one subtype", typeName(base))))
			return
		}
	case reflect.Struct:
		if err := cfg.validate(base); err != nil {
			s.fail(err)
			return
		}
	default:
		s.fail(errors.NewValidationError("type", fmt.Sprintf("%s cannot be a polymorphic base", typeName(base))))
		return
	}

	coll := collectionName(collection, base)
	root := &EntityMapping{
		Type:       base,
		Base:       base,
		Database:   s.decl.rule,
		Collection: coll,
		indexes:    cfg.indexes,
		classMap:   cfg.classMap,
	}
	if base.Kind() == reflect.Struct {
		root.Discriminator = base.Name()
	}

	tags := map[string]reflect.Type{}
	if root.Discriminator != "" {
		tags[root.Discriminator] = base
	}
	members := make([]*EntityMapping, 0, len(variants))
	for _, v := range variants {
		if err := checkVariant(base, v.typ); err != nil {
			s.fail(err)
			return
		}
		if prev, dup := tags[v.discriminator]; dup {
			s.fail(errors.NewValidationError("discriminator", fmt.Sprintf("%q used by both %s and %s", v.discriminator, typeName(prev), typeName(v.typ))))
			return
		}
		tags[v.discriminator] = v.typ

		classMap := cfg.classMap
		if v.cfg.classMap != nil {
			classMap = v.cfg.classMap
		}
		if err := (mapConfig{indexes: v.cfg.indexes, classMap: classMap}).validate(v.typ); err != nil {
			s.fail(err)
			return
		}
		members = append(members, &EntityMapping{
			Type:          v.typ,
			Base:          base,
			Database:      s.decl.rule,
			Collection:    coll,
			Discriminator: v.discriminator,
			indexes:       append(append([]IndexSpec(nil), cfg.indexes...), v.cfg.indexes...),
			classMap:      classMap,
		})
		root.subtypes = append(root.subtypes, v.typ)
	}

	s.add(root)
	for _, m := range members {
		s.add(m)
	}
}

func checkVariant(base, variant reflect.Type) error {
	if variant.Kind() != reflect.Struct {
		return errors.NewValidationError("variant", fmt.Sprintf("%s: subtypes must be structs", typeName(variant)))
	}
	if variant == base {
		return errors.NewValidationError("variant", fmt.Sprintf("%s cannot be its own subtype", typeName(base)))
	}
	if base.Kind() == reflect.Interface {
		if variant.Implements(base) || reflect.PointerTo(variant).Implements(base) {
			return nil
		}
		return errors.NewValidationError("variant", fmt.Sprintf("%s does not implement %s", typeName(variant), typeName(base)))
	}
	for i := 0; i < variant.NumField(); i++ {
		f := variant.Field(i)
		if f.Anonymous && normalize(f.Type) == base {
			return nil
		}
	}
	return errors.NewValidationError("variant", fmt.Sprintf("%s does not embed %s", typeName(variant), typeName(base)))
}

func collectionName(collection string, t reflect.Type) string {
	if collection != "" {
		return collection
	}
	return t.Name()
}

// Build freezes the declarations into a Registry and creates every declared
// index of the fixed databases, and of the per-tenant databases of the
// tenants passed with WithTenants. A nil indexer skips index creation.
// Build succeeds at most once per Builder. Conflicting declarations leave the
// Builder unbuilt; once they pass, it stays frozen even when index creation
// fails.
func (b *Builder) Build(ctx context.Context, indexer Indexer) (*Registry, error) {
	start := time.Now()

	h, err := b.cs.Lock(ctx, b.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	if b.built {
		return nil, errors.ErrAlreadyBuilt
	}
	reg, err := b.freeze()
	if err != nil {
		return nil, err
	}
	b.built = true

	if indexer == nil {
		b.logger.DebugContext(ctx, "no indexer, skipping index creation")
	} else {
		jobs := reg.indexJobs("")
		for _, tenant := range b.tenants {
			tenantJobs, err := reg.tenantJobs(tenant)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, tenantJobs...)
		}
		if err := ensureIndexes(ctx, indexer, jobs, b.logger, b.metrics); err != nil {
			return nil, err
		}
		for _, tenant := range b.tenants {
			reg.provisioned.Store(tenant, struct{}{})
		}
	}

	b.metrics.ObserveRegistryBuild(start)
	b.logger.InfoContext(ctx, "registry built",
		"databases", len(b.databases), "mappings", len(reg.ordered), "duration", time.Since(start))

	if b.publish {
		global.Store(reg)
	}
	return reg, nil
}

func (b *Builder) freeze() (*Registry, error) {
	reg := &Registry{
		byType:      map[reflect.Type]*EntityMapping{},
		families:    map[reflect.Type]map[string]reflect.Type{},
		cs:          b.cs,
		lockTimeout: b.lockTimeout,
		logger:      b.logger,
		metrics:     b.metrics,
	}

	type collectionKey struct{ database, collection string }
	collectionTags := map[collectionKey]map[string]reflect.Type{}

	for _, db := range b.databases {
		for _, m := range db.mappings {
			if prev, dup := reg.byType[m.Type]; dup {
				return nil, &errors.DuplicateMappingError{
					Type:   m.TypeName(),
					First:  prev.Database.Name + "." + prev.Collection,
					Second: m.Database.Name + "." + m.Collection,
				}
			}
			reg.byType[m.Type] = m
			reg.ordered = append(reg.ordered, m)

			if m.Discriminator == "" {
				continue
			}
			key := collectionKey{m.Database.Name, m.Collection}
			tags := collectionTags[key]
			if tags == nil {
				tags = map[string]reflect.Type{}
				collectionTags[key] = tags
			}
			if prev, dup := tags[m.Discriminator]; dup {
				return nil, errors.NewValidationError("discriminator",
					fmt.Sprintf("%q used by both %s and %s in %s", m.Discriminator, typeName(prev), m.TypeName(), key.collection))
			}
			tags[m.Discriminator] = m.Type

			family := reg.families[m.Base]
			if family == nil {
				family = map[string]reflect.Type{}
				reg.families[m.Base] = family
			}
			family[m.Discriminator] = m.Type
		}
	}
	return reg, nil
}
