/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package testmodels

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/suparena/entityrepo/registry"
)

// SharedDatabase holds entities every tenant sees.
const SharedDatabase = "Shared"

// TenantDatabase is the per-tenant database template.
const TenantDatabase = "{tenant}_TestDb"

// File is the polymorphic base of the Files collection.
type File interface {
	FileName() string
}

// MyFile is a File with an ObjectID id.
type MyFile struct {
	ID   primitive.ObjectID `bson:"_id"`
	Name string             `bson:"name"`
	Path string             `bson:"path"`
	Size int64              `bson:"size"`
}

func (f MyFile) FileName() string { return f.Name }

// CustomMapped is a File whose id and element names come from a class map.
type CustomMapped struct {
	Key   string
	Name  string
	Notes string
}

func (c *CustomMapped) FileName() string { return c.Name }

// FileGroup groups files by name.
type FileGroup struct {
	ID    primitive.ObjectID `bson:"_id"`
	Name  string             `bson:"name"`
	Files []string           `bson:"files"`
}

// Declare maps the test entities: RatingSystem in SharedDatabase, FileGroup
// and the File family per tenant.
func Declare(b *registry.Builder) error {
	if err := b.Database(SharedDatabase, func(s *registry.Scope) {
		registry.Map[RatingSystem](s, "RatingSystems", registry.WithIndex("name", true))
	}); err != nil {
		return err
	}
	return b.DatabasePerTenant(TenantDatabase, func(s *registry.Scope) {
		registry.Map[FileGroup](s, "FileGroups", registry.WithIndex("files", false))
		registry.MapWithSubtypes[File](s, "Files", []registry.Variant{
			registry.Subtype[MyFile]("MyFile", registry.WithIndex("path", false)),
			registry.Subtype[CustomMapped]("CustomMapped", registry.WithClassMap(registry.ClassMap{
				IDField:      "Key",
				IDGenerator:  registry.StringObjectIDGenerator,
				ElementNames: map[string]string{"Name": "_name"},
			})),
		}, registry.WithIndex("name", false))
	})
}
