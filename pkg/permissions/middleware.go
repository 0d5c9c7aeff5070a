package permissions

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/peopleops/portal/pkg/audit"
	"github.com/peopleops/portal/pkg/httputil"
	"github.com/peopleops/portal/pkg/middleware"
	"github.com/peopleops/portal/pkg/observability"
)

// Guard gates HTTP routes on the caller's resolved permissions
type Guard struct {
	cache   *ResolvedSetCache
	demo    *DemoTable
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewGuard creates a route guard over the shared resolved-set cache
func NewGuard(cache *ResolvedSetCache, demo *DemoTable, logger *observability.Logger, metrics *observability.Metrics) *Guard {
	return &Guard{
		cache:   cache,
		demo:    demo,
		logger:  logger,
		metrics: metrics,
	}
}

// Require gates a route on a permission code, honoring scope containment:
// a caller holding the permission at a broader scope passes a narrower
// check. Resolution failures deny (fail closed), never allow.
func (g *Guard) Require(code string) func(http.Handler) http.Handler {
	resource, action, scope, err := ParseCode(code)
	if err != nil {
		// A malformed code in route wiring is a programming error. Deny
		// everything rather than panic in the request path.
		return g.denyAll()
	}
	return g.RequireResource(resource, action, scope)
}

// RequireResource gates a route on a (resource, action, scope) triple
func (g *Guard) RequireResource(resource Resource, action Action, scope Scope) func(http.Handler) http.Handler {
	return g.gate(func(set *ResolvedSet) bool {
		return set.HasResource(resource, action, scope)
	}, Code(resource, action, scope))
}

// RequireAny gates a route on holding at least one of the given codes
func (g *Guard) RequireAny(codes ...string) func(http.Handler) http.Handler {
	triples, err := parseCodes(codes)
	if err != nil {
		return g.denyAll()
	}
	return g.gate(func(set *ResolvedSet) bool {
		for _, c := range triples {
			if set.HasResource(c.resource, c.action, c.scope) {
				return true
			}
		}
		return false
	}, joinCodes(codes))
}

// RequireAll gates a route on holding every one of the given codes
func (g *Guard) RequireAll(codes ...string) func(http.Handler) http.Handler {
	triples, err := parseCodes(codes)
	if err != nil {
		return g.denyAll()
	}
	return g.gate(func(set *ResolvedSet) bool {
		if len(triples) == 0 {
			return false
		}
		for _, c := range triples {
			if !set.HasResource(c.resource, c.action, c.scope) {
				return false
			}
		}
		return true
	}, joinCodes(codes))
}

func (g *Guard) gate(allow func(*ResolvedSet) bool, code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := middleware.GetSession(r)
			if session == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			// Permissions are resolved within the session's tenant, so a
			// route addressing another tenant must never pass: held
			// permissions grant nothing outside the caller's own tenant.
			if pathTenant, ok := mux.Vars(r)["tenantID"]; ok && pathTenant != session.TenantID {
				if g.metrics != nil {
					g.metrics.ChecksTotal.WithLabelValues("false").Inc()
				}
				_ = audit.LogAccessDenied(r.Context(), session.TenantID, session.UserID, code, "tenant mismatch")
				httputil.WriteForbidden(w, "permission denied")
				return
			}

			set := g.resolveForSession(r, session)
			allowed := allow(set)

			if g.metrics != nil {
				g.metrics.ChecksTotal.WithLabelValues(boolLabel(allowed)).Inc()
			}

			if !allowed {
				_ = audit.LogAccessDenied(r.Context(), session.TenantID, session.UserID, code, "permission not in resolved set")
				httputil.WriteForbidden(w, "permission denied")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) denyAll() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteForbidden(w, "permission denied")
		})
	}
}

// resolveForSession returns the caller's resolved set, or nil when
// resolution fails. A nil set denies every check.
func (g *Guard) resolveForSession(r *http.Request, session *middleware.Session) *ResolvedSet {
	if session.IsDemo() {
		set, err := g.demo.Resolve(session.DemoRole)
		if err != nil {
			return nil
		}
		return set
	}

	set, err := g.cache.GetOrResolve(r.Context(), session.UserID, session.TenantID)
	if err != nil {
		// Store failures fail closed: the caller sees a denial, not an
		// accidental grant.
		g.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id":   session.UserID,
			"tenant_id": session.TenantID,
		}).Warn("permission resolution failed, denying access")
		return nil
	}
	return set
}

type codeTriple struct {
	resource Resource
	action   Action
	scope    Scope
}

func parseCodes(codes []string) ([]codeTriple, error) {
	triples := make([]codeTriple, 0, len(codes))
	for _, code := range codes {
		resource, action, scope, err := ParseCode(code)
		if err != nil {
			return nil, err
		}
		triples = append(triples, codeTriple{resource: resource, action: action, scope: scope})
	}
	return triples, nil
}

func joinCodes(codes []string) string {
	return strings.Join(codes, ",")
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
