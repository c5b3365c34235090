package server

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rephi/rephi-go/rbac"
)

// Store errors.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

var (
	bucketUsers      = []byte("users")
	bucketUsersEmail = []byte("users_by_email")
	bucketRoles      = []byte("roles")
	bucketRolesSlug  = []byte("roles_by_slug")
	bucketPerms      = []byte("permissions")
	bucketPermsSlug  = []byte("permissions_by_slug")
	bucketUserRoles  = []byte("user_roles")
	bucketRolePerms  = []byte("role_permissions")
)

// Account is a stored user together with its credential hash. The hash
// never leaves this package.
type Account struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	InsertedAt   time.Time `json:"inserted_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store keeps users, roles, permissions, and their assignments in a
// bolt database.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the entity database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open entity store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers, bucketUsersEmail,
			bucketRoles, bucketRolesSlug,
			bucketPerms, bucketPermsSlug,
			bucketUserRoles, bucketRolePerms,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init entity store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func pairKey(a, b int64) []byte {
	return append(itob(a), itob(b)...)
}

// CreateUser registers an account. The email is unique,
// case-insensitively.
func (s *Store) CreateUser(email, passwordHash string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var acct Account
	err := s.db.Update(func(tx *bolt.Tx) error {
		byEmail := tx.Bucket(bucketUsersEmail)
		if byEmail.Get([]byte(email)) != nil {
			return fmt.Errorf("user %s: %w", email, ErrDuplicate)
		}

		users := tx.Bucket(bucketUsers)
		id, err := users.NextSequence()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		acct = Account{
			ID:           int64(id),
			Email:        email,
			PasswordHash: passwordHash,
			InsertedAt:   now,
			UpdatedAt:    now,
		}
		raw, err := json.Marshal(acct)
		if err != nil {
			return err
		}
		if err := users.Put(itob(acct.ID), raw); err != nil {
			return err
		}
		return byEmail.Put([]byte(email), itob(acct.ID))
	})
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// AccountByEmail looks up an account for credential checks.
func (s *Store) AccountByEmail(email string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var acct Account
	err := s.db.View(func(tx *bolt.Tx) error {
		idKey := tx.Bucket(bucketUsersEmail).Get([]byte(email))
		if idKey == nil {
			return fmt.Errorf("user %s: %w", email, ErrNotFound)
		}
		raw := tx.Bucket(bucketUsers).Get(idKey)
		if raw == nil {
			return fmt.Errorf("user %s: %w", email, ErrNotFound)
		}
		return json.Unmarshal(raw, &acct)
	})
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// UpdatePasswordHash replaces the stored credential hash.
func (s *Store) UpdatePasswordHash(userID int64, hash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		raw := users.Get(itob(userID))
		if raw == nil {
			return fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		var acct Account
		if err := json.Unmarshal(raw, &acct); err != nil {
			return err
		}
		acct.PasswordHash = hash
		acct.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(acct)
		if err != nil {
			return err
		}
		return users.Put(itob(userID), out)
	})
}

// User returns one user with resolved roles and permissions.
func (s *Store) User(id int64) (*rbac.User, error) {
	var user *rbac.User
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		user, err = resolveUser(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Users lists all users with resolved roles and permissions, in id
// order.
func (s *Store) Users() ([]rbac.User, error) {
	var users []rbac.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, _ []byte) error {
			u, err := resolveUser(tx, int64(binary.BigEndian.Uint64(k)))
			if err != nil {
				return err
			}
			users = append(users, *u)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func resolveUser(tx *bolt.Tx, id int64) (*rbac.User, error) {
	raw := tx.Bucket(bucketUsers).Get(itob(id))
	if raw == nil {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	var acct Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return nil, err
	}

	user := &rbac.User{
		ID:         acct.ID,
		Email:      acct.Email,
		InsertedAt: acct.InsertedAt,
		UpdatedAt:  acct.UpdatedAt,
	}

	roles, err := rolesOf(tx, id)
	if err != nil {
		return nil, err
	}
	user.Roles = roles

	seen := map[int64]bool{}
	for _, role := range roles {
		perms, err := permissionsOf(tx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			if !seen[p.ID] {
				seen[p.ID] = true
				user.Permissions = append(user.Permissions, p)
			}
		}
	}
	return user, nil
}

// CreateRole inserts a role with a unique slug.
func (s *Store) CreateRole(name, slug, description string) (*rbac.Role, error) {
	var role rbac.Role
	err := s.db.Update(func(tx *bolt.Tx) error {
		bySlug := tx.Bucket(bucketRolesSlug)
		if bySlug.Get([]byte(slug)) != nil {
			return fmt.Errorf("role %s: %w", slug, ErrDuplicate)
		}

		roles := tx.Bucket(bucketRoles)
		id, err := roles.NextSequence()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		role = rbac.Role{
			ID:          int64(id),
			Name:        name,
			Slug:        slug,
			Description: description,
			InsertedAt:  now,
			UpdatedAt:   now,
		}
		raw, err := json.Marshal(role)
		if err != nil {
			return err
		}
		if err := roles.Put(itob(role.ID), raw); err != nil {
			return err
		}
		return bySlug.Put([]byte(slug), itob(role.ID))
	})
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// UpdateRole patches a role. Empty fields are left unchanged; a slug
// change keeps uniqueness.
func (s *Store) UpdateRole(id int64, name, slug, description string) (*rbac.Role, error) {
	var role rbac.Role
	err := s.db.Update(func(tx *bolt.Tx) error {
		roles := tx.Bucket(bucketRoles)
		raw := roles.Get(itob(id))
		if raw == nil {
			return fmt.Errorf("role %d: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(raw, &role); err != nil {
			return err
		}

		bySlug := tx.Bucket(bucketRolesSlug)
		if slug != "" && slug != role.Slug {
			if bySlug.Get([]byte(slug)) != nil {
				return fmt.Errorf("role %s: %w", slug, ErrDuplicate)
			}
			if err := bySlug.Delete([]byte(role.Slug)); err != nil {
				return err
			}
			if err := bySlug.Put([]byte(slug), itob(id)); err != nil {
				return err
			}
			role.Slug = slug
		}
		if name != "" {
			role.Name = name
		}
		if description != "" {
			role.Description = description
		}
		role.UpdatedAt = time.Now().UTC()

		out, err := json.Marshal(role)
		if err != nil {
			return err
		}
		return roles.Put(itob(id), out)
	})
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// DeleteRole removes the role and its assignments.
func (s *Store) DeleteRole(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		roles := tx.Bucket(bucketRoles)
		raw := roles.Get(itob(id))
		if raw == nil {
			return fmt.Errorf("role %d: %w", id, ErrNotFound)
		}
		var role rbac.Role
		if err := json.Unmarshal(raw, &role); err != nil {
			return err
		}
		if err := tx.Bucket(bucketRolesSlug).Delete([]byte(role.Slug)); err != nil {
			return err
		}
		if err := roles.Delete(itob(id)); err != nil {
			return err
		}
		if err := deleteByPrefix(tx.Bucket(bucketRolePerms), itob(id)); err != nil {
			return err
		}
		// user_roles keys are user-major; scan for the role half.
		return scanDelete(tx.Bucket(bucketUserRoles), func(k []byte) bool {
			return int64(binary.BigEndian.Uint64(k[8:])) == id
		})
	})
}

// Role fetches one role.
func (s *Store) Role(id int64) (*rbac.Role, error) {
	var role rbac.Role
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketRoles).Get(itob(id))
		if raw == nil {
			return fmt.Errorf("role %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(raw, &role)
	})
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// Roles lists all roles in id order.
func (s *Store) Roles() ([]rbac.Role, error) {
	var roles []rbac.Role
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoles).ForEach(func(_, v []byte) error {
			var role rbac.Role
			if err := json.Unmarshal(v, &role); err != nil {
				return err
			}
			roles = append(roles, role)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// CreatePermission inserts a permission with a unique slug.
func (s *Store) CreatePermission(name, slug, description string) (*rbac.Permission, error) {
	var perm rbac.Permission
	err := s.db.Update(func(tx *bolt.Tx) error {
		bySlug := tx.Bucket(bucketPermsSlug)
		if bySlug.Get([]byte(slug)) != nil {
			return fmt.Errorf("permission %s: %w", slug, ErrDuplicate)
		}

		perms := tx.Bucket(bucketPerms)
		id, err := perms.NextSequence()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		perm = rbac.Permission{
			ID:          int64(id),
			Name:        name,
			Slug:        slug,
			Description: description,
			InsertedAt:  now,
			UpdatedAt:   now,
		}
		raw, err := json.Marshal(perm)
		if err != nil {
			return err
		}
		if err := perms.Put(itob(perm.ID), raw); err != nil {
			return err
		}
		return bySlug.Put([]byte(slug), itob(perm.ID))
	})
	if err != nil {
		return nil, err
	}
	return &perm, nil
}

// UpdatePermission patches a permission the same way UpdateRole does.
func (s *Store) UpdatePermission(id int64, name, slug, description string) (*rbac.Permission, error) {
	var perm rbac.Permission
	err := s.db.Update(func(tx *bolt.Tx) error {
		perms := tx.Bucket(bucketPerms)
		raw := perms.Get(itob(id))
		if raw == nil {
			return fmt.Errorf("permission %d: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(raw, &perm); err != nil {
			return err
		}

		bySlug := tx.Bucket(bucketPermsSlug)
		if slug != "" && slug != perm.Slug {
			if bySlug.Get([]byte(slug)) != nil {
				return fmt.Errorf("permission %s: %w", slug, ErrDuplicate)
			}
			if err := bySlug.Delete([]byte(perm.Slug)); err != nil {
				return err
			}
			if err := bySlug.Put([]byte(slug), itob(id)); err != nil {
				return err
			}
			perm.Slug = slug
		}
		if name != "" {
			perm.Name = name
		}
		if description != "" {
			perm.Description = description
		}
		perm.UpdatedAt = time.Now().UTC()

		out, err := json.Marshal(perm)
		if err != nil {
			return err
		}
		return perms.Put(itob(id), out)
	})
	if err != nil {
		return nil, err
	}
	return &perm, nil
}

// DeletePermission removes the permission and its role grants.
func (s *Store) DeletePermission(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		perms := tx.Bucket(bucketPerms)
		raw := perms.Get(itob(id))
		if raw == nil {
			return fmt.Errorf("permission %d: %w", id, ErrNotFound)
		}
		var perm rbac.Permission
		if err := json.Unmarshal(raw, &perm); err != nil {
			return err
		}
		if err := tx.Bucket(bucketPermsSlug).Delete([]byte(perm.Slug)); err != nil {
			return err
		}
		if err := perms.Delete(itob(id)); err != nil {
			return err
		}
		return scanDelete(tx.Bucket(bucketRolePerms), func(k []byte) bool {
			return int64(binary.BigEndian.Uint64(k[8:])) == id
		})
	})
}

// Permission fetches one permission.
func (s *Store) Permission(id int64) (*rbac.Permission, error) {
	var perm rbac.Permission
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPerms).Get(itob(id))
		if raw == nil {
			return fmt.Errorf("permission %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(raw, &perm)
	})
	if err != nil {
		return nil, err
	}
	return &perm, nil
}

// Permissions lists all permissions in id order.
func (s *Store) Permissions() ([]rbac.Permission, error) {
	var perms []rbac.Permission
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPerms).ForEach(func(_, v []byte) error {
			var perm rbac.Permission
			if err := json.Unmarshal(v, &perm); err != nil {
				return err
			}
			perms = append(perms, perm)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return perms, nil
}

// AssignRole links a role to a user. Assigning twice is a no-op.
func (s *Store) AssignRole(userID, roleID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketUsers).Get(itob(userID)) == nil {
			return fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		if tx.Bucket(bucketRoles).Get(itob(roleID)) == nil {
			return fmt.Errorf("role %d: %w", roleID, ErrNotFound)
		}
		return tx.Bucket(bucketUserRoles).Put(pairKey(userID, roleID), []byte{1})
	})
}

// RemoveRole unlinks a role from a user.
func (s *Store) RemoveRole(userID, roleID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUserRoles).Delete(pairKey(userID, roleID))
	})
}

// UserRoles lists the roles assigned to one user.
func (s *Store) UserRoles(userID int64) ([]rbac.Role, error) {
	var roles []rbac.Role
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		roles, err = rolesOf(tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// AssignPermission grants a permission to a role. Granting twice is a
// no-op.
func (s *Store) AssignPermission(roleID, permissionID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketRoles).Get(itob(roleID)) == nil {
			return fmt.Errorf("role %d: %w", roleID, ErrNotFound)
		}
		if tx.Bucket(bucketPerms).Get(itob(permissionID)) == nil {
			return fmt.Errorf("permission %d: %w", permissionID, ErrNotFound)
		}
		return tx.Bucket(bucketRolePerms).Put(pairKey(roleID, permissionID), []byte{1})
	})
}

// RemovePermission revokes a permission from a role.
func (s *Store) RemovePermission(roleID, permissionID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRolePerms).Delete(pairKey(roleID, permissionID))
	})
}

// RolePermissions lists the permissions granted to one role.
func (s *Store) RolePermissions(roleID int64) ([]rbac.Permission, error) {
	var perms []rbac.Permission
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		perms, err = permissionsOf(tx, roleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return perms, nil
}

func rolesOf(tx *bolt.Tx, userID int64) ([]rbac.Role, error) {
	roles := []rbac.Role{}
	c := tx.Bucket(bucketUserRoles).Cursor()
	prefix := itob(userID)
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		raw := tx.Bucket(bucketRoles).Get(k[8:])
		if raw == nil {
			continue
		}
		var role rbac.Role
		if err := json.Unmarshal(raw, &role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func permissionsOf(tx *bolt.Tx, roleID int64) ([]rbac.Permission, error) {
	perms := []rbac.Permission{}
	c := tx.Bucket(bucketRolePerms).Cursor()
	prefix := itob(roleID)
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		raw := tx.Bucket(bucketPerms).Get(k[8:])
		if raw == nil {
			continue
		}
		var perm rbac.Permission
		if err := json.Unmarshal(raw, &perm); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, nil
}

func deleteByPrefix(b *bolt.Bucket, prefix []byte) error {
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

func scanDelete(b *bolt.Bucket, match func(k []byte) bool) error {
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if match(k) {
			if err := c.Delete(); err != nil {
				return err
			}
		}
	}
	return nil
}
