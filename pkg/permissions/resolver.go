package permissions

import (
	"context"
	"errors"
	"time"

	"github.com/peopleops/portal/pkg/observability"
)

// Resolver computes the effective permission set for a (user, tenant) pair.
//
// Resolution unions the permissions of every role the user holds in the
// tenant, then applies the user's active overrides. Overrides go last so
// they always have final say: a grant adds a permission no role gave, a
// deny removes one no matter how many roles granted it.
type Resolver struct {
	store   *Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResolver creates a resolver backed by the given store
func NewResolver(store *Store, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Resolve computes the effective set for userID within tenantID.
//
// A user with no roles and no grant overrides resolves to an empty set,
// not an error; that is the normal state for a newly provisioned user.
// Resolution is deterministic for a fixed snapshot of roles, overrides
// and catalog, and has no side effects beyond reads.
func (r *Resolver) Resolve(ctx context.Context, userID, tenantID string) (*ResolvedSet, error) {
	if userID == "" {
		return nil, invalidArgument("userID is required")
	}
	if tenantID == "" {
		return nil, invalidArgument("tenantID is required")
	}

	start := time.Now()
	set, err := r.resolve(ctx, userID, tenantID)

	if r.metrics != nil {
		r.metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			r.metrics.ResolutionsTotal.WithLabelValues("error").Inc()
			r.metrics.ResolutionErrors.WithLabelValues(errorKind(err)).Inc()
		} else {
			r.metrics.ResolutionsTotal.WithLabelValues("ok").Inc()
		}
	}

	if err != nil {
		if r.logger != nil {
			r.logger.WithError(err).WithFields(map[string]interface{}{
				"user_id":   userID,
				"tenant_id": tenantID,
			}).Error("permission resolution failed")
		}
		return nil, err
	}

	if r.logger != nil {
		r.logger.WithFields(map[string]interface{}{
			"user_id":     userID,
			"tenant_id":   tenantID,
			"permissions": set.Len(),
		}).Debug("resolved permission set")
	}
	return set, nil
}

func (r *Resolver) resolve(ctx context.Context, userID, tenantID string) (*ResolvedSet, error) {
	roles, err := r.store.GetUserRoles(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	roleIDs := make([]int64, len(roles))
	for i, role := range roles {
		roleIDs[i] = role.ID
	}

	// Union of role permissions. Duplicates across roles collapse here.
	perms, err := r.store.GetPermissionsForRoles(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	set := NewResolvedSet(userID, tenantID, perms)

	overrides, err := r.store.GetActiveOverrides(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	for _, override := range overrides {
		if override.Permission == nil {
			continue
		}
		switch override.Effect {
		case EffectGrant:
			set.add(*override.Permission)
		case EffectDeny:
			set.remove(override.Permission.Code)
		}
		if r.metrics != nil {
			r.metrics.OverridesApplied.WithLabelValues(string(override.Effect)).Inc()
		}
	}

	return set, nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
