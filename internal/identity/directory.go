// Package identity provides a file-backed role directory. Production
// deployments swap in a client for the company identity service; the
// workflow core only sees the port.IdentityDirectory interface.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/garyjia/portal-workflow/internal/application/port"
)

// StaticDirectory holds role membership in memory. Membership can be
// replaced at runtime, which is how role changes between steps take
// effect for steps not yet entered.
type StaticDirectory struct {
	mu    sync.RWMutex
	roles map[string][]string
}

// NewStaticDirectory creates a directory from a role -> member map.
func NewStaticDirectory(roles map[string][]string) *StaticDirectory {
	if roles == nil {
		roles = make(map[string][]string)
	}
	return &StaticDirectory{roles: roles}
}

// LoadDirectory reads a JSON file of the form
// {"finance": ["u-101", "u-102"], "audit": ["u-201"]}.
func LoadDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}
	var roles map[string][]string
	if err := json.Unmarshal(data, &roles); err != nil {
		return nil, fmt.Errorf("failed to parse roles file: %w", err)
	}
	return NewStaticDirectory(roles), nil
}

// HasRole reports whether userID currently holds role.
func (d *StaticDirectory) HasRole(ctx context.Context, userID, role string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.roles[role] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// UsersWithRole returns every member of role. The result is a copy.
func (d *StaticDirectory) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members := d.roles[role]
	out := make([]string, len(members))
	copy(out, members)
	return out, nil
}

// SetRole replaces the membership of one role.
func (d *StaticDirectory) SetRole(role string, members []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[role] = append([]string(nil), members...)
}

var _ port.IdentityDirectory = (*StaticDirectory)(nil)
