package rbac

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML shape for built-in role definitions.
type seedFile struct {
	Roles []seedRole `yaml:"roles"`
}

type seedRole struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Level       int      `yaml:"level"`
	Permissions []string `yaml:"permissions"`
}

// SeedRoles ensures the roles defined in the YAML document exist. Existing
// roles are updated in place (permissions, level, description); new ones
// are created as active system roles. Seeding never deletes a role.
func (e *Evaluator) SeedRoles(ctx context.Context, r io.Reader) error {
	var file seedFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return fmt.Errorf("decode role seed: %w", err)
	}

	now := e.clock.Now()
	for _, def := range file.Roles {
		if def.Name == "" {
			return errors.New("role seed entry missing name")
		}

		existing, err := e.roles.GetByName(ctx, def.Name)
		switch {
		case err == nil:
			existing.Description = def.Description
			existing.Level = def.Level
			existing.Permissions = models.NewPermissionSet(def.Permissions...)
			existing.UpdatedAt = now
			if err := e.roles.Update(ctx, existing); err != nil {
				return fmt.Errorf("update seeded role %s: %w", def.Name, err)
			}
		case errors.Is(err, store.ErrRoleNotFound):
			role := &models.Role{
				RoleID:      uuid.Must(uuid.NewV7()),
				Name:        def.Name,
				Description: def.Description,
				Permissions: models.NewPermissionSet(def.Permissions...),
				Level:       def.Level,
				System:      true,
				Active:      true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := e.roles.Create(ctx, role); err != nil {
				return fmt.Errorf("create seeded role %s: %w", def.Name, err)
			}
		default:
			return fmt.Errorf("lookup seeded role %s: %w", def.Name, err)
		}

		e.logger.Debug().Str("role", def.Name).Msg("seeded role")
	}
	return nil
}
