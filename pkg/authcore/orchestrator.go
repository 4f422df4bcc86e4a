package authcore

import (
	"context"
	"strings"

	"github.com/opencups/authd/pkg/authcore/identity"
)

// Decision is the orchestrator's verdict, deliberately limited to the four
// outcomes the HTTP/IPP layer in front of this package can act on. The
// orchestrator never returns a Go error for an authorization failure; a Go
// error from IsAuthorized's collaborators is itself folded into Unauthorized
// or Forbidden (fail closed) rather than propagated, per this package's
// error-handling design.
type Decision uint8

const (
	// Forbidden corresponds to HTTP 403: the client's host/network
	// identity is not permitted here at all, independent of credentials.
	Forbidden Decision = iota
	// Unauthorized corresponds to HTTP 401: credentials are required
	// (and missing, or present but invalid).
	Unauthorized
	// UpgradeRequired corresponds to HTTP 426: this Location requires a
	// secure transport and the request arrived over a plain one.
	UpgradeRequired
	// OK corresponds to HTTP 200: the request is authorized.
	OK
)

// String returns a lower-case label suitable for logs and metrics.
func (d Decision) String() string {
	switch d {
	case Forbidden:
		return "forbidden"
	case Unauthorized:
		return "unauthorized"
	case UpgradeRequired:
		return "upgrade-required"
	case OK:
		return "ok"
	default:
		return "unknown"
	}
}

// StatusCode returns the HTTP status code this Decision maps to.
func (d Decision) StatusCode() int {
	switch d {
	case OK:
		return 200
	case Unauthorized:
		return 401
	case UpgradeRequired:
		return 426
	default:
		return 403
	}
}

// hostVerdict is the intermediate allow/deny result of evaluating a
// Location's host-access lists, before credentials are considered.
type hostVerdict uint8

const (
	hostAllow hostVerdict = iota
	hostDeny
)

// DecisionObserver receives every Decision IsAuthorized produces, for
// metrics or log enrichment. It must not block meaningfully; it runs inline
// on the request path.
type DecisionObserver interface {
	ObserveDecision(d Decision)
}

// CredentialObserver receives the outcome of each credential verification
// attempt, broken out by auth type, for metrics. It is optional: a nil
// CredentialObserver simply means those events aren't recorded.
type CredentialObserver interface {
	ObserveBasic(success bool)
	ObserveDigest(success bool)
	ObserveBasicDigest(success bool)
	ObserveLocalCertificate()
}

// EngineConfig holds the orchestrator's own configuration, as distinct from
// the location table (the policy data itself).
type EngineConfig struct {
	// ServerName is compared against a client's resolved hostname in the
	// no-best-location fallback (step 1 below).
	ServerName string
	// SystemGroups is the list of groups "@SYSTEM" expands to.
	SystemGroups []string
	// DefaultAuthType is used in place of AuthNone when a Location
	// nonetheless has names configured (Level != LevelAnonymous) and so
	// needs some concrete way to verify credentials.
	DefaultAuthType AuthType
}

// Engine is the authorization orchestrator: IsAuthorized is the single
// operation the HTTP/IPP layer calls to decide what to do with a request.
type Engine struct {
	Config    EngineConfig
	Locations *LocationTable

	Identity   identity.Resolver
	MD5        identity.MD5Store
	Basic      BasicHost
	Interfaces InterfaceLister

	Observer           DecisionObserver
	CredentialObserver CredentialObserver
}

// IsAuthorized decides whether cl may perform httpMethod on uri. owner is
// the resource's owning username, used only to resolve an "@OWNER"
// principal; pass "" if the resource has no owner or none is known.
//
// This implements the ten-step algorithm documented in the package's design
// notes, in order; the steps are numbered in comments below to make that
// correspondence easy to check against the notes.
func (e *Engine) IsAuthorized(ctx context.Context, cl Client, uri, httpMethod, owner string) Decision {
	method := MapMethod(httpMethod)

	// Step 1: no matching Location at all. Only localhost or a request
	// addressed to this server's own name is let through; everything
	// else is forbidden outright, since there is no policy to consult.
	_, loc, found := e.Locations.FindBest(uri, method)
	if !found {
		if cl.IsLocalhost() || (e.Config.ServerName != "" && strings.EqualFold(cl.Hostname, e.Config.ServerName)) {
			return e.decide(OK)
		}
		return e.decide(Forbidden)
	}

	// Step 2 (address canonicalization) is the HTTP/IPP layer's
	// responsibility: cl.Addr/cl.Hostname arrive already canonicalized.

	// Step 3: host/IP verdict. See evalHostAccess's doc comment for the
	// documented (intentionally order-sensitive) overwrite behavior this
	// preserves.
	verdict := e.evalHostAccess(cl, loc)

	// Step 4: Satisfy-All with a host-access deny is forbidden outright,
	// before credentials are even considered.
	if loc.Satisfy == SatisfyAll && verdict == hostDeny {
		return e.decide(Forbidden)
	}

	// Step 5: encryption requirement.
	if loc.Encryption == EncryptionRequired && !cl.Secure {
		return e.decide(UpgradeRequired)
	}

	// Step 6: anonymous shortcut. A Location with no required level and
	// no names configured needs nothing further.
	if loc.Level == LevelAnonymous && len(loc.Names) == 0 {
		return e.decide(OK)
	}

	// Step 7: unauthenticated IPP bypass. A Location scoped to IPP with
	// no auth type configured accepts the IPP-layer's own
	// requesting-user-name attribute in lieu of verified credentials.
	if loc.Type == AuthNone && loc.Limit&MIPP != 0 && cl.IPPRequestingUserName != "" {
		return e.decide(OK)
	}

	// Step 8: missing username. Without one, only a Satisfy-Any Location
	// whose host-access verdict already allows can proceed anonymously;
	// anything else needs real credentials that are not present.
	if cl.Username == "" {
		if loc.Satisfy == SatisfyAll || verdict == hostDeny {
			return e.decide(Unauthorized)
		}
		return e.decide(OK)
	}

	// Step 9: credential verification, dispatched by auth type.
	ok, err := e.verifyCredentials(ctx, cl, loc, httpMethod, uri)
	if err != nil || !ok {
		return e.decide(Unauthorized)
	}

	// Step 10: principal authorization.
	return e.decide(e.authorizePrincipal(cl, loc, owner))
}

// evalHostAccess evaluates a Location's allow/deny lists against the
// client. Both phases run, and a match in the second phase overwrites the
// verdict of the first; a phase with no match leaves the verdict unchanged.
// Concretely, under Order=Deny,Allow the verdict starts as deny, the allow
// list runs first and the deny list last, so a client matching both lists
// ends up denied and a client matching neither stays denied; under
// Order=Allow,Deny the verdict starts as allow, the deny list runs first and
// the allow list last, so a client matching both lists ends up allowed and a
// client matching neither stays allowed.
func (e *Engine) evalHostAccess(cl Client, loc Location) hostVerdict {
	if cl.IsLocalhost() {
		return hostAllow
	}
	switch loc.Order {
	case OrderDenyAllow:
		v := hostDeny
		if CheckMasks(cl.Addr, cl.Hostname, loc.Allow, e.Interfaces) {
			v = hostAllow
		}
		if CheckMasks(cl.Addr, cl.Hostname, loc.Deny, e.Interfaces) {
			v = hostDeny
		}
		return v
	default: // OrderAllowDeny
		v := hostAllow
		if CheckMasks(cl.Addr, cl.Hostname, loc.Deny, e.Interfaces) {
			v = hostDeny
		}
		if CheckMasks(cl.Addr, cl.Hostname, loc.Allow, e.Interfaces) {
			v = hostAllow
		}
		return v
	}
}

// verifyCredentials dispatches credential verification by auth type. A
// local-certificate request (see Client.IsLocalCertificate) skips password
// comparison entirely: this preserves another documented quirk in which a
// "Local" Authorization token from localhost is trusted without a password
// check, on the assumption (made explicit here, since this package does not
// itself parse or validate that token) that the HTTP layer has already
// authenticated the underlying connection before the request reached this
// package.
func (e *Engine) verifyCredentials(ctx context.Context, cl Client, loc Location, method, uri string) (bool, error) {
	if cl.IsLocalCertificate() {
		if e.Identity != nil {
			_, _, _ = e.Identity.Lookup(cl.Username)
		}
		if e.CredentialObserver != nil {
			e.CredentialObserver.ObserveLocalCertificate()
		}
		return true, nil
	}

	typ := loc.Type
	if typ == AuthNone {
		typ = e.Config.DefaultAuthType
	}

	switch typ {
	case AuthBasic:
		if e.Basic == nil {
			return false, nil
		}
		ok, err := e.Basic.Authenticate(ctx, cl.Username, cl.Secret)
		if e.CredentialObserver != nil {
			e.CredentialObserver.ObserveBasic(err == nil && ok)
		}
		return ok, err

	case AuthDigest:
		nonce, _ := AuthField(cl.Authorization, "nonce")
		if nonce == "" || nonce != cl.Hostname {
			// Server-side nonce binding: the nonce must echo back the
			// client's own hostname, or the request is rejected before
			// any digest is even computed.
			if e.CredentialObserver != nil {
				e.CredentialObserver.ObserveDigest(false)
			}
			return false, nil
		}
		ha1, ok := e.lookupMD5(cl.Username, loc.Names)
		if !ok {
			if e.CredentialObserver != nil {
				e.CredentialObserver.ObserveDigest(false)
			}
			return false, nil
		}
		want := digestFinal(nonce, method, uri, ha1)
		match := constantTimeEqual(want, cl.Secret)
		if e.CredentialObserver != nil {
			e.CredentialObserver.ObserveDigest(match)
		}
		return match, nil

	case AuthBasicDigest:
		ha1Stored, ok := e.lookupMD5(cl.Username, loc.Names)
		if !ok {
			if e.CredentialObserver != nil {
				e.CredentialObserver.ObserveBasicDigest(false)
			}
			return false, nil
		}
		computed := digestHA1(cl.Username, DigestRealm, cl.Secret)
		match := constantTimeEqual(computed, ha1Stored)
		if e.CredentialObserver != nil {
			e.CredentialObserver.ObserveBasicDigest(match)
		}
		return match, nil

	default:
		return false, nil
	}
}

// lookupMD5 locates an MD5 store entry for user, scoped to one of loc's
// named groups if any are configured ("@SYSTEM" expands to every configured
// system group), falling back to an any-group entry if no scoped entry is
// found.
func (e *Engine) lookupMD5(user string, names []string) (string, bool) {
	if e.MD5 == nil {
		return "", false
	}
	for _, n := range names {
		switch {
		case n == "@SYSTEM":
			for _, g := range e.Config.SystemGroups {
				if ha1, ok := e.MD5.GetMD5(user, g); ok {
					return ha1, true
				}
			}
		case strings.HasPrefix(n, "@"):
			if ha1, ok := e.MD5.GetMD5(user, strings.TrimPrefix(n, "@")); ok {
				return ha1, true
			}
		}
	}
	return e.MD5.GetMD5(user, "")
}

// authorizePrincipal is step 10: with credentials verified, decide whether
// the authenticated user satisfies the Location's required level.
func (e *Engine) authorizePrincipal(cl Client, loc Location, owner string) Decision {
	if strings.EqualFold(cl.Username, "root") {
		return OK
	}

	switch loc.Level {
	case LevelUser:
		if len(loc.Names) == 0 {
			return OK
		}
		for _, n := range loc.Names {
			if e.matchesUserPrincipal(cl.Username, n, owner) {
				return OK
			}
		}
		return Unauthorized

	case LevelGroup:
		if loc.Type != AuthBasic {
			// Group-level checks beyond Basic auth have no group
			// membership source to consult here (Digest identity is
			// only a username, with group scoping handled entirely
			// by lookupMD5 during credential verification itself).
			return OK
		}
		for _, n := range loc.Names {
			if e.matchesGroupPrincipal(cl.Username, n) {
				return OK
			}
		}
		return Unauthorized

	default:
		return OK
	}
}

func (e *Engine) matchesUserPrincipal(username, name, owner string) bool {
	switch {
	case name == "@OWNER":
		return owner != "" && strings.EqualFold(username, owner)
	case name == "@SYSTEM":
		return e.matchesGroupPrincipal(username, "@SYSTEM")
	case strings.HasPrefix(name, "@"):
		return e.matchesGroupPrincipal(username, name)
	default:
		return strings.EqualFold(username, name)
	}
}

func (e *Engine) matchesGroupPrincipal(username, name string) bool {
	if name == "@SYSTEM" {
		for _, g := range e.Config.SystemGroups {
			if ok, _ := e.checkGroup(username, g); ok {
				return true
			}
		}
		return false
	}
	group := strings.TrimPrefix(name, "@")
	ok, _ := e.checkGroup(username, group)
	return ok
}

// checkGroup reports whether username belongs to groupname, consulting the
// identity resolver first and falling back to an MD5 file entry scoped to
// that group (a user:group:hash line is itself evidence of membership, used
// when no real platform group database is configured).
func (e *Engine) checkGroup(username, groupname string) (bool, error) {
	if e.Identity != nil {
		ok, err := e.Identity.InGroup(username, groupname)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	if e.MD5 != nil {
		if _, ok := e.MD5.GetMD5(username, groupname); ok {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) decide(d Decision) Decision {
	if e.Observer != nil {
		e.Observer.ObserveDecision(d)
	}
	return d
}
