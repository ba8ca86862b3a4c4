package auth

// Policy holds the per-command restrictions.
type Policy struct {
	ManagerOnly bool
	PrivateOnly bool
}

// Decision is the outcome of evaluating a policy.
type Decision int

// Decisions. NeedsRole asks the caller to resolve the sender's role and
// evaluate again.
const (
	NeedsRole Decision = iota
	Allow
	Ignore
	DenyManagerOnly
	DenyAdminOnly
	DenyPrivateOnly
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Ignore:
		return "ignore"
	case DenyManagerOnly:
		return "manager-only"
	case DenyAdminOnly:
		return "admin-only"
	case DenyPrivateOnly:
		return "private-only"
	default:
		return "needs-role"
	}
}

// Denied reports whether d refuses the command.
func (d Decision) Denied() bool {
	return d == DenyManagerOnly || d == DenyAdminOnly || d == DenyPrivateOnly
}

// Evaluate applies pol to the sender p in chat c. Rules, first match wins:
//
//  1. manager-only commands refuse everyone but the manager;
//  2. private chats allow;
//  3. groups refuse private-only commands, then allow the manager and
//     group administrators (named or anonymous) and refuse everyone else;
//  4. any other chat kind is ignored without a reply.
func Evaluate(p Principal, c ChatContext, pol Policy) Decision {
	if pol.ManagerOnly && !p.Manager {
		return DenyManagerOnly
	}

	switch c.Kind {
	case ChatPrivate:
		return Allow
	case ChatGroup:
		if pol.PrivateOnly {
			return DenyPrivateOnly
		}
		if p.Manager {
			return Allow
		}
		switch p.Role {
		case RoleGroupAdmin, RoleAnonymousAdmin:
			return Allow
		case RoleUnresolved:
			return NeedsRole
		default:
			return DenyAdminOnly
		}
	default:
		return Ignore
	}
}
