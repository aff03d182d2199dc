package service

import (
	"context"
	"fmt"

	"github.com/iliyamo/renewal-portal/internal/model"
)

// Authorizer answers "may this principal perform an action requiring these
// permission keys".  Role -> permission data is admin-mutable, so every call
// reads a fresh snapshot; nothing is cached across requests.
type Authorizer struct {
	perms RolePermissionStore
}

func NewAuthorizer(perms RolePermissionStore) *Authorizer {
	return &Authorizer{perms: perms}
}

// RequireAuthenticated fails with Unauthenticated when there is no
// principal and with Forbidden when the principal is disabled.
func (a *Authorizer) RequireAuthenticated(p *model.Principal) error {
	if p == nil || p.ID == 0 {
		return unauthenticated("authentication required")
	}
	if p.Disabled {
		return forbidden("account disabled")
	}
	return nil
}

// Authorize returns nil when p holds every key in required.  admin_root
// principals pass unconditionally, including for keys no role grants.
// Otherwise the union of keys granted to the principal's membership roles
// must cover required; the returned Forbidden error lists what is missing.
//
// The union spans every project the principal belongs to, not only the
// resolved one. Narrowing it to the resolved project changes who may act
// and needs a product decision first.
func (a *Authorizer) Authorize(ctx context.Context, p *model.Principal, required []string) error {
	if err := a.RequireAuthenticated(p); err != nil {
		return err
	}
	if p.IsAdminRoot() {
		return nil
	}
	if len(required) == 0 {
		return nil
	}

	granted, err := a.grantedKeys(ctx, p)
	if err != nil {
		return err
	}
	var missing []string
	seen := make(map[string]bool, len(required))
	for _, key := range required {
		if seen[key] {
			continue
		}
		seen[key] = true
		if !granted[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &Error{Kind: ErrForbidden, Message: "insufficient permissions", Missing: missing}
	}
	return nil
}

// Can is the boolean form of Authorize.  Store failures count as "no".
func (a *Authorizer) Can(ctx context.Context, p *model.Principal, key string) bool {
	return a.Authorize(ctx, p, []string{key}) == nil
}

func (a *Authorizer) grantedKeys(ctx context.Context, p *model.Principal) (map[string]bool, error) {
	roleIDs := make([]uint64, 0, len(p.Memberships))
	seen := make(map[uint64]bool, len(p.Memberships))
	for _, m := range p.Memberships {
		if !seen[m.RoleID] {
			seen[m.RoleID] = true
			roleIDs = append(roleIDs, m.RoleID)
		}
	}
	granted := make(map[string]bool)
	if len(roleIDs) == 0 {
		return granted, nil
	}
	keys, err := a.perms.PermissionKeysForRoles(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("load role permissions: %w", err)
	}
	for _, k := range keys {
		granted[k] = true
	}
	return granted, nil
}
