/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/suparena/entityrepo/errors"
	"github.com/suparena/entityrepo/lock"
)

type File interface {
	FileName() string
}

type MyFile struct {
	ID   primitive.ObjectID `bson:"_id"`
	Name string             `bson:"name"`
	Path string             `bson:"path"`
}

func (f MyFile) FileName() string { return f.Name }

type CustomMapped struct {
	Key   string
	Name  string
	Title string
}

func (c *CustomMapped) FileName() string { return c.Name }

type FileGroup struct {
	ID   string `bson:"_id"`
	Name string `bson:"name"`
}

type Animal struct {
	ID   string `bson:"_id"`
	Legs int
}

type Dog struct {
	Animal `bson:",inline"`
	Breed  string
}

type recordingIndexer struct {
	mu    sync.Mutex
	calls []string
	fail  error
}

func (r *recordingIndexer) EnsureIndex(_ context.Context, database, collection string, spec IndexSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.calls = append(r.calls, fmt.Sprintf("%s.%s/%s", database, collection, spec.Name()))
	return nil
}

func (r *recordingIndexer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func declareSample(t *testing.T, b *Builder) {
	t.Helper()
	require.NoError(t, b.Database("Shared", func(s *Scope) {
		Map[FileGroup](s, "", WithIndex("name", true))
	}))
	require.NoError(t, b.DatabasePerTenant("{tenant}_TestDb", func(s *Scope) {
		MapWithSubtypes[File](s, "Files", []Variant{
			Subtype[MyFile]("MyFile", WithIndex("path", true)),
			Subtype[CustomMapped]("Custom", WithClassMap(ClassMap{
				IDField:      "Key",
				IDGenerator:  UUIDGenerator,
				ElementNames: map[string]string{"Title": "title_text"},
			})),
		}, WithIndex("name", false))
	}))
}

func buildSample(t *testing.T, opts ...BuilderOption) (*Registry, *recordingIndexer) {
	t.Helper()
	b := NewBuilder(opts...)
	declareSample(t, b)
	idx := &recordingIndexer{}
	reg, err := b.Build(context.Background(), idx)
	require.NoError(t, err)
	return reg, idx
}

func TestResolve_PerTenant(t *testing.T) {
	reg, _ := buildSample(t)

	loc, err := Resolve[MyFile](reg, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme_TestDb", loc.Database)
	assert.Equal(t, "Files", loc.Collection)
	assert.Equal(t, "MyFile", loc.Mapping.Discriminator)
	assert.Equal(t, reflect.TypeFor[File](), loc.Mapping.Base)
	assert.True(t, loc.Mapping.IsSubtype())
	assert.Equal(t, TenantContext{ID: "acme", Database: "acme_TestDb"}, loc.Tenant)

	ptr, err := Resolve[*MyFile](reg, "acme")
	require.NoError(t, err)
	assert.Same(t, loc.Mapping, ptr.Mapping)

	other, err := Resolve[MyFile](reg, "globex")
	require.NoError(t, err)
	assert.Equal(t, "globex_TestDb", other.Database)
}

func TestResolve_FixedDatabase(t *testing.T) {
	reg, _ := buildSample(t)

	loc, err := Resolve[FileGroup](reg, "")
	require.NoError(t, err)
	assert.Equal(t, "Shared", loc.Database)
	assert.Equal(t, "FileGroup", loc.Collection)
	assert.False(t, loc.Mapping.IsPolymorphic())

	_, err = Resolve[FileGroup](reg, "acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTenantMismatch)
	var mismatch *errors.TenantMismatchError
	require.True(t, stderrors.As(err, &mismatch))
	assert.Equal(t, "Shared", mismatch.Database)
	assert.Equal(t, "acme", mismatch.Tenant)
	assert.Contains(t, mismatch.Type, "FileGroup")
}

func TestResolve_Errors(t *testing.T) {
	reg, _ := buildSample(t)

	_, err := Resolve[MyFile](reg, "")
	assert.ErrorIs(t, err, errors.ErrTenantRequired)

	_, err = Resolve[MyFile](reg, "bad/tenant")
	assert.True(t, errors.IsValidationError(err))

	_, err = Resolve[Animal](reg, "")
	assert.True(t, errors.IsUnmappedType(err))

	var nilReg *Registry
	_, err = Resolve[MyFile](nilReg, "acme")
	assert.ErrorIs(t, err, errors.ErrRegistryNotReady)

	_, err = reg.ResolveValue(nil, "")
	assert.True(t, errors.IsValidationError(err))
}

func TestResolveValue_UsesRuntimeType(t *testing.T) {
	reg, _ := buildSample(t)

	var f File = &CustomMapped{Name: "a"}
	loc, err := reg.ResolveValue(f, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Custom", loc.Mapping.Discriminator)
	assert.Equal(t, "Files", loc.Collection)

	base, err := Resolve[File](reg, "acme")
	require.NoError(t, err)
	assert.False(t, base.Mapping.IsConcrete())
	assert.ElementsMatch(t, []reflect.Type{reflect.TypeFor[MyFile](), reflect.TypeFor[CustomMapped]()}, base.Mapping.Subtypes())
}

func TestBuild_Lifecycle(t *testing.T) {
	b := NewBuilder()
	declareSample(t, b)

	reg, err := b.Build(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, reg)

	_, err = b.Build(context.Background(), nil)
	assert.ErrorIs(t, err, errors.ErrAlreadyBuilt)

	err = b.Database("Late", func(s *Scope) { Map[Animal](s, "") })
	assert.ErrorIs(t, err, errors.ErrRegistryFrozen)

	_, err = Resolve[Animal](reg, "")
	assert.True(t, errors.IsUnmappedType(err))
}

func TestBuild_DuplicateMapping(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Database("One", func(s *Scope) { Map[FileGroup](s, "") }))
	require.NoError(t, b.Database("Two", func(s *Scope) { Map[FileGroup](s, "Groups") }))

	_, err := b.Build(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateMapping)
	var dup *errors.DuplicateMappingError
	require.True(t, stderrors.As(err, &dup))
	assert.Equal(t, "One.FileGroup", dup.First)
	assert.Equal(t, "Two.Groups", dup.Second)

	_, err = b.Build(context.Background(), nil)
	assert.ErrorIs(t, err, errors.ErrDuplicateMapping, "a failed build leaves the builder unbuilt")
	assert.NotErrorIs(t, err, errors.ErrAlreadyBuilt)
}

func TestScope_UnusableAfterCallback(t *testing.T) {
	b := NewBuilder()
	var kept *Scope
	require.NoError(t, b.Database("Db", func(s *Scope) {
		Map[FileGroup](s, "")
		kept = s
	}))
	require.NoError(t, kept.Err())

	Map[Animal](kept, "")
	MapWithSubtypes[File](kept, "Files", []Variant{Subtype[MyFile]("")})
	assert.ErrorIs(t, kept.Err(), errors.ErrRegistryFrozen)
	assert.Len(t, kept.decl.mappings, 1)

	reg, err := b.Build(context.Background(), nil)
	require.NoError(t, err)
	_, err = Resolve[Animal](reg, "")
	assert.True(t, errors.IsUnmappedType(err))

	Map[Animal](kept, "")
	assert.Len(t, kept.decl.mappings, 1)
}

func TestBuild_DuplicateDiscriminator(t *testing.T) {
	b := NewBuilder()
	err := b.Database("Db", func(s *Scope) {
		MapWithSubtypes[File](s, "Files", []Variant{
			Subtype[MyFile]("x"),
			Subtype[CustomMapped]("x"),
		})
	})
	assert.True(t, errors.IsValidationError(err))
}

func TestDeclare_Validation(t *testing.T) {
	b := NewBuilder()

	assert.True(t, errors.IsValidationError(b.DatabasePerTenant("TestDb", nil)))
	assert.True(t, errors.IsValidationError(b.DatabasePerTenant("{tenant}_{region}", nil)))
	assert.True(t, errors.IsValidationError(b.Database("bad name", nil)))

	err := b.Database("Db", func(s *Scope) { Map[File](s, "") })
	assert.True(t, errors.IsValidationError(err))

	err = b.Database("Db", func(s *Scope) {
		MapWithSubtypes[File](s, "Files", []Variant{Subtype[FileGroup]("")})
	})
	assert.True(t, errors.IsValidationError(err))

	err = b.Database("Db", func(s *Scope) {
		Map[FileGroup](s, "", WithClassMap(ClassMap{IDField: "Missing"}))
	})
	assert.True(t, errors.IsValidationError(err))

	// Failed declarations leave nothing behind.
	reg, err := b.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, reg.Mappings())
}

func TestBuild_CreatesIndexes(t *testing.T) {
	reg, idx := buildSample(t, WithTenants("acme"))

	assert.ElementsMatch(t, []string{
		"Shared.FileGroup/name_1_unique",
		"acme_TestDb.Files/name_1",
		"acme_TestDb.Files/path_1_unique",
	}, idx.Calls())

	// Already provisioned during Build.
	require.NoError(t, reg.ProvisionTenant(context.Background(), idx, "acme"))
	assert.Len(t, idx.Calls(), 3)

	require.NoError(t, reg.ProvisionTenant(context.Background(), idx, "globex"))
	require.NoError(t, reg.ProvisionTenant(context.Background(), idx, "globex"))
	assert.Len(t, idx.Calls(), 5)
	assert.Contains(t, idx.Calls(), "globex_TestDb.Files/path_1_unique")

	assert.True(t, errors.IsValidationError(reg.ProvisionTenant(context.Background(), idx, "")))
}

func TestBuild_IndexFailure(t *testing.T) {
	b := NewBuilder()
	declareSample(t, b)

	boom := stderrors.New("boom")
	reg, err := b.Build(context.Background(), &recordingIndexer{fail: boom})
	assert.Nil(t, reg)
	assert.ErrorIs(t, err, boom)

	_, err = b.Build(context.Background(), nil)
	assert.ErrorIs(t, err, errors.ErrAlreadyBuilt)
}

func TestBuilder_ConcurrentDeclarations(t *testing.T) {
	b := NewBuilder()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	declare := []func(){
		func() { errs <- b.Database("A", func(s *Scope) { Map[FileGroup](s, "") }) },
		func() { errs <- b.Database("B", func(s *Scope) { Map[Animal](s, "") }) },
		func() { errs <- b.DatabasePerTenant("{tenant}_C", func(s *Scope) { Map[MyFile](s, "") }) },
	}
	for _, fn := range declare {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	reg, err := b.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, reg.Mappings(), 3)
}

func TestBuilder_LockTimeout(t *testing.T) {
	cs := lock.New()
	b := NewBuilder(WithCriticalSection(cs), WithLockTimeout(20*time.Millisecond))

	h := cs.TryLock()
	require.True(t, h.Acquired())

	err := b.Database("Db", func(s *Scope) { Map[FileGroup](s, "") })
	assert.True(t, errors.IsTimeout(err))

	h.Release()
	assert.NoError(t, b.Database("Db", func(s *Scope) { Map[FileGroup](s, "") }))
}

func TestPolymorphicDecoding(t *testing.T) {
	reg, _ := buildSample(t)
	fileType := reflect.TypeFor[File]()

	got, err := reg.TypeForDiscriminator(fileType, "Custom")
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeFor[CustomMapped](), got)

	_, err = reg.TypeForDiscriminator(fileType, "Unknown")
	assert.True(t, errors.IsValidationError(err))

	_, err = reg.NewInstance(fileType, "")
	assert.True(t, errors.IsValidationError(err))

	inst, err := reg.NewInstance(fileType, "MyFile")
	require.NoError(t, err)
	inst.Elem().FieldByName("Name").SetString("report.pdf")

	var f File
	require.NoError(t, Assign(reflect.ValueOf(&f).Elem(), inst))
	assert.Equal(t, "report.pdf", f.FileName())

	inst, err = reg.NewInstance(fileType, "Custom")
	require.NoError(t, err)
	require.NoError(t, Assign(reflect.ValueOf(&f).Elem(), inst))
	_, isPtr := f.(*CustomMapped)
	assert.True(t, isPtr)
}

func TestStructBaseFamily(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Database("Zoo", func(s *Scope) {
		MapWithSubtypes[Animal](s, "Animals", []Variant{Subtype[Dog]("dog")})
	}))
	reg, err := b.Build(context.Background(), nil)
	require.NoError(t, err)

	base, err := Resolve[Animal](reg, "")
	require.NoError(t, err)
	assert.Equal(t, "Animal", base.Mapping.Discriminator)

	dog, err := Resolve[Dog](reg, "")
	require.NoError(t, err)
	assert.Equal(t, "Animals", dog.Collection)
	assert.Equal(t, reflect.TypeFor[Animal](), dog.Mapping.Base)

	inst, err := reg.NewInstance(reflect.TypeFor[Animal](), "dog")
	require.NoError(t, err)
	inst.Interface().(*Dog).Legs = 4

	var a Animal
	require.NoError(t, Assign(reflect.ValueOf(&a).Elem(), inst))
	assert.Equal(t, 4, a.Legs)

	err = NewBuilder().Database("Zoo", func(s *Scope) {
		MapWithSubtypes[Animal](s, "", []Variant{Subtype[MyFile]("")})
	})
	assert.True(t, errors.IsValidationError(err))
}

func TestConfigureAndGlobal(t *testing.T) {
	_, err := Global()
	assert.ErrorIs(t, err, errors.ErrRegistryNotReady)

	b := Configure()
	declareSample(t, b)
	reg, err := b.Build(context.Background(), nil)
	require.NoError(t, err)

	got, err := Global()
	require.NoError(t, err)
	assert.Same(t, reg, got)
}

func TestEnsureID(t *testing.T) {
	reg, _ := buildSample(t)

	mf, err := Resolve[MyFile](reg, "acme")
	require.NoError(t, err)
	f := &MyFile{Name: "a"}
	id, err := mf.Mapping.EnsureID(f)
	require.NoError(t, err)
	assert.False(t, f.ID.IsZero())
	assert.Equal(t, f.ID, id)
	assert.Equal(t, f.ID.Hex(), IDString(id))

	// An existing id is kept.
	again, err := mf.Mapping.EnsureID(f)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	cm, err := Resolve[CustomMapped](reg, "acme")
	require.NoError(t, err)
	c := &CustomMapped{Name: "b"}
	_, err = cm.Mapping.EnsureID(c)
	require.NoError(t, err)
	_, err = uuid.Parse(c.Key)
	assert.NoError(t, err)

	fg, err := Resolve[FileGroup](reg, "")
	require.NoError(t, err)
	_, err = fg.Mapping.EnsureID(FileGroup{})
	assert.True(t, errors.IsValidationError(err))
	_, err = fg.Mapping.EnsureID(&MyFile{})
	assert.True(t, errors.IsValidationError(err))
}

func TestDefaultIDGenerator(t *testing.T) {
	assert.Equal(t, ObjectIDGenerator, DefaultIDGenerator(reflect.TypeFor[primitive.ObjectID]()))
	assert.Equal(t, UUIDGenerator, DefaultIDGenerator(reflect.TypeFor[uuid.UUID]()))
	assert.Equal(t, StringObjectIDGenerator, DefaultIDGenerator(reflect.TypeFor[string]()))
	assert.Equal(t, NoIDGenerator, DefaultIDGenerator(reflect.TypeFor[int]()))

	id, err := ULIDGenerator.GenerateID(reflect.TypeFor[string]())
	require.NoError(t, err)
	assert.Len(t, id, 26)
}

func TestFieldNames(t *testing.T) {
	reg, _ := buildSample(t)

	cm, err := Resolve[CustomMapped](reg, "acme")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "title_text"}, cm.Mapping.StoredNames(BSONFieldName))
	assert.Equal(t, map[string]string{"Title": "title_text"}, cm.Mapping.StoredNames(DynamoFieldName))

	el, ok := cm.Mapping.IDElement(BSONFieldName)
	require.True(t, ok)
	assert.Equal(t, "key", el)

	mf, err := Resolve[MyFile](reg, "acme")
	require.NoError(t, err)
	el, ok = mf.Mapping.IDElement(BSONFieldName)
	require.True(t, ok)
	assert.Equal(t, "_id", el)
	assert.Empty(t, mf.Mapping.StoredNames(BSONFieldName))
}

func TestIndexSpecName(t *testing.T) {
	assert.Equal(t, "owner_name_1", IndexSpec{Field: "owner.name"}.Name())
	assert.Equal(t, "email_1_unique", IndexSpec{Field: "email", Unique: true}.Name())
}
