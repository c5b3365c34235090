// Package rbac defines the role and permission model shared by the rephi
// client and server: users carry a set of roles, roles grant permissions,
// and both roles and permissions are identified by a stable slug.
//
// Slugs are namespaced as "category:action" (for example "users:edit").
// The category is always derived by splitting the slug on its first colon;
// it is never stored.
package rbac
