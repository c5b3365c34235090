package rbac

import (
	"sort"
	"strings"
)

// IsAdmin reports whether the user holds the admin role.
func IsAdmin(u *User) bool {
	return HasRole(u, AdminSlug)
}

// HasRole reports whether the user holds the role with the given slug.
// A nil user holds nothing.
func HasRole(u *User, slug string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r.Slug == slug {
			return true
		}
	}
	return false
}

// HasPermission reports whether the user's direct permission set contains
// the given slug. Role-granted permissions are resolved server-side into
// User.Permissions, so no role expansion happens here.
func HasPermission(u *User, slug string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if p.Slug == slug {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the user holds at least one of the slugs.
func HasAnyRole(u *User, slugs ...string) bool {
	for _, s := range slugs {
		if HasRole(u, s) {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether the user holds at least one of the slugs.
func HasAnyPermission(u *User, slugs ...string) bool {
	for _, s := range slugs {
		if HasPermission(u, s) {
			return true
		}
	}
	return false
}

// Category returns the namespace portion of a slug: everything before the
// first colon. Slugs without a colon fall into the "general" category.
func Category(slug string) string {
	if i := strings.IndexByte(slug, ':'); i > 0 {
		return slug[:i]
	}
	return "general"
}

// ByCategory groups permissions by the derived category of their slug.
// Groups keep the input order; the key set is whatever categories occur.
func ByCategory(perms []Permission) map[string][]Permission {
	out := make(map[string][]Permission)
	for _, p := range perms {
		c := Category(p.Slug)
		out[c] = append(out[c], p)
	}
	return out
}

// EffectivePermissions returns the union of direct permission slugs and
// the grants of each held role, deduplicated and sorted.
func EffectivePermissions(direct []string, roles []string, roleGrants map[string][]string) []string {
	set := make(map[string]struct{}, len(direct))
	for _, p := range direct {
		set[p] = struct{}{}
	}
	for _, r := range roles {
		for _, p := range roleGrants[r] {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
