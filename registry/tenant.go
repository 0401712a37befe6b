/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/suparena/entityrepo/errors"
)

// TenantMacro is the placeholder substituted with the tenant id in a
// per-tenant database template, e.g. "{tenant}_TestDb".
const TenantMacro = "{tenant}"

var (
	macroPattern  = regexp.MustCompile(`{([^}]+)}`)
	tenantPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,48}$`)
	dbNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,63}$`)
)

// ValidateTenant checks that id can be embedded in a database name.
func ValidateTenant(id string) error {
	if !tenantPattern.MatchString(id) {
		return errors.NewValidationError("tenant", fmt.Sprintf("%q must be 1-48 letters, digits, '_' or '-'", id))
	}
	return nil
}

func validateDatabaseRule(rule DatabaseRule) error {
	if !rule.PerTenant {
		if !dbNamePattern.MatchString(rule.Name) {
			return errors.NewValidationError("database", fmt.Sprintf("invalid database name %q", rule.Name))
		}
		return nil
	}

	macros := macroPattern.FindAllString(rule.Name, -1)
	if len(macros) == 0 {
		return errors.NewValidationError("database", fmt.Sprintf("template %q has no %s placeholder", rule.Name, TenantMacro))
	}
	for _, m := range macros {
		if m != TenantMacro {
			return errors.NewValidationError("database", fmt.Sprintf("template %q: unknown placeholder %s", rule.Name, m))
		}
	}
	// The template with a sample tenant must still be a valid name.
	if !dbNamePattern.MatchString(strings.ReplaceAll(rule.Name, TenantMacro, "t")) {
		return errors.NewValidationError("database", fmt.Sprintf("invalid database template %q", rule.Name))
	}
	return nil
}

// expandTemplate substitutes every {tenant} placeholder of template.
func expandTemplate(template, tenant string) string {
	return macroPattern.ReplaceAllStringFunc(template, func(macro string) string {
		if macro == TenantMacro {
			return tenant
		}
		return macro
	})
}

// ResolveDatabase applies the rule to tenant. A per-tenant rule requires a
// tenant; a fixed rule rejects one.
func (d DatabaseRule) ResolveDatabase(tenant string) (string, error) {
	if !d.PerTenant {
		if tenant != "" {
			return "", &errors.TenantMismatchError{Database: d.Name, Tenant: tenant}
		}
		return d.Name, nil
	}
	if tenant == "" {
		return "", fmt.Errorf("database %q: %w", d.Name, errors.ErrTenantRequired)
	}
	if err := ValidateTenant(tenant); err != nil {
		return "", err
	}
	return expandTemplate(d.Name, tenant), nil
}
