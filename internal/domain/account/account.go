// Package account defines the static per-account configuration record.
package account

import (
	"fmt"

	"github.com/circadianhq/circadian/internal/domain"
	"github.com/circadianhq/circadian/internal/domain/persona"
)

// Account binds one platform identity to a persona and an RNG seed.
// Accounts are read once at startup; the supervisor runs one loop per
// enabled account with no shared mutable state between them.
type Account struct {
	ID      string          `json:"id" yaml:"id"`
	Handle  string          `json:"handle" yaml:"handle"`
	Seed    int64           `json:"seed" yaml:"seed"`
	Enabled bool            `json:"enabled" yaml:"enabled"`
	Persona persona.Persona `json:"persona" yaml:"persona"`
}

// Validate checks required fields.
func (a Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("account id is required: %w", domain.ErrValidation)
	}
	if a.Handle == "" {
		return fmt.Errorf("account %s: handle is required: %w", a.ID, domain.ErrValidation)
	}
	return nil
}
