/*
Package registry maps entity types to the database and collection they are
stored in.

Configuration happens once, through a Builder:

	b := registry.NewBuilder(registry.WithTenants("acme"))

	b.Database("Shared", func(s *registry.Scope) {
	    registry.Map[FileGroup](s, "", registry.WithIndex("name", true))
	})

	b.DatabasePerTenant("{tenant}_TestDb", func(s *registry.Scope) {
	    registry.MapWithSubtypes[File](s, "Files", []registry.Variant{
	        registry.Subtype[MyFile]("MyFile"),
	        registry.Subtype[CustomMapped]("Custom", registry.WithClassMap(registry.ClassMap{
	            IDField:     "Key",
	            IDGenerator: registry.UUIDGenerator,
	        })),
	    })
	})

	reg, err := b.Build(ctx, indexer)

Build freezes the declarations, rejecting duplicate type registrations and
duplicate discriminators within a collection, and creates every declared
index through the Indexer. After Build the Builder refuses further
declarations with errors.ErrRegistryFrozen, and a second Build fails with
errors.ErrAlreadyBuilt.

The built Registry is immutable and lock-free:

	loc, err := registry.Resolve[MyFile](reg, "acme")
	// loc.Database == "acme_TestDb", loc.Collection == "Files",
	// loc.Mapping.Discriminator == "MyFile"

A type mapped to a fixed database resolves only with an empty tenant; a
non-empty tenant fails with errors.TenantMismatchError. A per-tenant type
without a tenant fails with errors.ErrTenantRequired.

Variants of a polymorphic base share the base collection and store their
discriminator in the "_t" element. NewInstance and Assign turn a stored
discriminator back into a typed value.

Configure and Global provide a process-wide registry for applications that
prefer one.
*/
package registry
