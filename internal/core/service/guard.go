package service

import "github.com/clinicroom/waiting-room/internal/core/domain"

// AccessDecision is the route guard's verdict for a protected screen.
type AccessDecision int

const (
	// AccessLoading means the session has not been resolved yet.
	AccessLoading AccessDecision = iota
	// AccessRedirectLogin means no identity is present; send to the login screen.
	AccessRedirectLogin
	// AccessDenied means the identity exists but its role does not match the
	// requested screen. The session stays intact.
	AccessDenied
	// AccessAuthorized means the protected content may render.
	AccessAuthorized
)

func (d AccessDecision) String() string {
	switch d {
	case AccessLoading:
		return "loading"
	case AccessRedirectLogin:
		return "redirect-login"
	case AccessDenied:
		return "access-denied"
	case AccessAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// ResolveAccess gates a screen by authentication presence and role match.
// It is a pure function of its inputs; no timers, no side effects.
func ResolveAccess(resolved bool, identity *domain.Identity, required domain.Role) AccessDecision {
	switch {
	case !resolved:
		return AccessLoading
	case identity == nil:
		return AccessRedirectLogin
	case identity.Role != required:
		return AccessDenied
	default:
		return AccessAuthorized
	}
}
