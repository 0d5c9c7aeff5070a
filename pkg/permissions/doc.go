// Package permissions implements the portal's permission resolution engine.
//
// Access control combines two sources: role assignments, whose permissions
// are unioned, and per-user overrides, which are applied afterwards and
// always win. A "grant" override adds a permission the roles never gave; a
// "deny" override removes one regardless of how many roles granted it.
//
// Every permission carries a scope (own, team or company). Holding a
// permission at a broader scope satisfies checks at a narrower scope for the
// same resource and action, never the reverse.
//
// Resolution is always scoped to a single tenant. The resolved set is
// cached per process with explicit invalidation; a SessionCache wraps the
// shared cache for one caller session and exposes the synchronous check
// predicates (Can, CanMenu, CanAny, CanAll, CanResource) used to gate
// features and navigation. When the store is unreachable the predicates
// fail closed: everything reads as denied.
package permissions
