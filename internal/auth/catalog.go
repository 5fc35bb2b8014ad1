package auth

import (
	"context"
	"errors"
	"fmt"
)

// Catalog is the declarative set of permissions and roles a deployment starts with.
type Catalog struct {
	Permissions []CatalogPermission `yaml:"permissions" json:"permissions"`
	Roles       []CatalogRole       `yaml:"roles" json:"roles"`
}

// CatalogPermission declares one (route, method) capability.
type CatalogPermission struct {
	Name        string `yaml:"name" json:"name"`
	Route       string `yaml:"route" json:"route"`
	Method      string `yaml:"method" json:"method"`
	Description string `yaml:"description" json:"description"`
}

// CatalogRole declares a role and the permission names it owns.
type CatalogRole struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// CatalogReport counts what ApplyCatalog created.
type CatalogReport struct {
	PermissionsCreated int
	RolesCreated       int
	Grants             int
}

// ApplyCatalog creates missing permissions and roles and grants the declared
// permissions. Existing entries are left as they are, so it can run on every start.
func (d *Directory) ApplyCatalog(ctx context.Context, c Catalog) (CatalogReport, error) {
	var report CatalogReport
	for _, p := range c.Permissions {
		_, err := d.CreatePermission(ctx, p.Name, p.Route, p.Method, p.Description)
		switch {
		case err == nil:
			report.PermissionsCreated++
		case errors.Is(err, ErrConflict):
			if _, err := d.store.FindPermissionByName(ctx, p.Name); err != nil {
				return report, fmt.Errorf("permission %s conflicts with an existing route: %w", p.Name, storeError(err))
			}
		default:
			return report, fmt.Errorf("permission %s: %w", p.Name, err)
		}
	}
	for _, r := range c.Roles {
		_, err := d.CreateRole(ctx, r.Name, r.Description)
		switch {
		case err == nil:
			report.RolesCreated++
		case errors.Is(err, ErrConflict):
		default:
			return report, fmt.Errorf("role %s: %w", r.Name, err)
		}
		for _, name := range r.Permissions {
			if err := d.GrantPermission(ctx, r.Name, name); err != nil {
				return report, fmt.Errorf("grant %s to %s: %w", name, r.Name, err)
			}
			report.Grants++
		}
	}
	return report, nil
}
