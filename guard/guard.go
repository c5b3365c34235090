package guard

import (
	"github.com/rephi/rephi-go/rbac"
	"github.com/rephi/rephi-go/session"
)

// Default navigation targets.
const (
	LoginPath = "/login"
	HomePath  = "/dashboard"
)

// Action says what the caller should do with the request.
type Action int

const (
	// ActionAllow lets the request through.
	ActionAllow Action = iota
	// ActionRedirect sends the user to Decision.RedirectTo.
	ActionRedirect
	// ActionDeny blocks the request in place, without navigating away.
	ActionDeny
)

// Decision is the outcome of a guard check.
type Decision struct {
	Action     Action
	RedirectTo string
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool { return d.Action == ActionAllow }

func allow() Decision { return Decision{Action: ActionAllow} }
func deny() Decision { return Decision{Action: ActionDeny} }

func redirect(to string) Decision {
	return Decision{Action: ActionRedirect, RedirectTo: to}
}

// Protected guards a route that requires authentication. When the
// session is unauthenticated it records currentPath so login can return
// the user there, then redirects to the login page.
func Protected(s session.Session, paths *PathStore, currentPath string) Decision {
	if s.Authenticated() {
		return allow()
	}
	if paths != nil && currentPath != "" {
		paths.SetRedirectPath(currentPath)
	}
	return redirect(LoginPath)
}

// Public guards a route that only makes sense logged out, such as the
// login page. An authenticated user is sent to the pending redirect
// path when one is stored, consuming it, and to HomePath otherwise.
func Public(s session.Session, paths *PathStore) Decision {
	if !s.Authenticated() {
		return allow()
	}
	target := ""
	if paths != nil {
		target = paths.TakeRedirectPath()
	}
	if target == "" {
		target = HomePath
	}
	return redirect(target)
}

// Admin guards a route that requires the admin role. The authentication
// check runs first: an unauthenticated user is redirected to login (and
// the path recorded) exactly as with Protected. An authenticated
// non-admin is denied in place, never redirected.
func Admin(s session.Session, paths *PathStore, currentPath string) Decision {
	if d := Protected(s, paths, currentPath); !d.Allowed() {
		return d
	}
	if !rbac.IsAdmin(s.User) {
		return deny()
	}
	return allow()
}
