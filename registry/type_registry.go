/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"fmt"
	"reflect"

	"github.com/suparena/entityrepo/errors"
)

// NewInstance returns a pointer to a new zero value of the family member of
// base stored under tag. An empty tag selects base itself when it is a struct.
func (r *Registry) NewInstance(base reflect.Type, tag string) (reflect.Value, error) {
	m, err := r.Mapping(base)
	if err != nil {
		return reflect.Value{}, err
	}
	if tag == "" {
		if !m.IsConcrete() {
			return reflect.Value{}, errors.NewValidationError("discriminator",
				fmt.Sprintf("document of %s has no %s element", m.TypeName(), DiscriminatorKey))
		}
		return reflect.New(m.Type), nil
	}
	t, err := r.TypeForDiscriminator(base, tag)
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.New(t), nil
}

// Assign stores the decoded instance (a pointer to a family member) into
// target, a settable value of the requested type. An interface target takes
// the value or the pointer, whichever implements it; a struct target takes
// the embedded base of a variant.
func Assign(target reflect.Value, instance reflect.Value) error {
	if !target.CanSet() {
		return errors.NewValidationError("target", "target is not settable")
	}
	want := target.Type()
	switch {
	case instance.Type().AssignableTo(want):
		target.Set(instance)
		return nil
	case instance.Elem().Type().AssignableTo(want):
		target.Set(instance.Elem())
		return nil
	}

	elem := instance.Elem()
	if elem.Kind() == reflect.Struct {
		for i := 0; i < elem.NumField(); i++ {
			f := elem.Type().Field(i)
			if !f.Anonymous {
				continue
			}
			fv := elem.Field(i)
			if f.Type == want {
				target.Set(fv)
				return nil
			}
			if f.Type.Kind() == reflect.Pointer && f.Type.Elem() == want && !fv.IsNil() {
				target.Set(fv.Elem())
				return nil
			}
		}
	}
	return errors.NewValidationError("target",
		fmt.Sprintf("%s cannot be stored in %s", typeName(instance.Type()), typeName(want)))
}
