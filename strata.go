// Package strata is a schema-driven data access layer: it compiles
// map-based filter specifications into SQL or backend-neutral query
// specs, and orchestrates entity lifecycles (populate, hooks,
// transactional writes, soft deletion) over one session.
//
// Models are described by schema descriptors (see the schema packages),
// queried through Query, and mutated through Lifecycle. A Session binds
// the work to a dialect.Driver and tracks scoped transaction blocks; a
// TxRunner decides per call whether an operation manages its own
// transaction or enlists in an open one.
package strata
