package strata

import "context"

// HookFunc runs around a lifecycle mutation. Returning false declines
// the operation without an error; under a managed transaction the
// decline rolls back everything the operation did.
type HookFunc func(ctx context.Context, rec *Record) (bool, error)

// SnapshotHookFunc is an after-hook for update paths. prior holds the
// entity's column values captured before the mutation; it is nil on
// create.
type SnapshotHookFunc func(ctx context.Context, rec, prior *Record) (bool, error)

// Hooks holds the optional lifecycle callbacks of one model. Nil entries
// always proceed.
type Hooks struct {
	BeforeCreate HookFunc
	AfterCreate  HookFunc

	BeforeUpdate HookFunc
	AfterUpdate  SnapshotHookFunc

	// Save hooks run on both the create and update paths, after the
	// path-specific hook of the same phase.
	BeforeSave HookFunc
	AfterSave  SnapshotHookFunc

	BeforeDelete HookFunc
	AfterDelete  HookFunc

	BeforeSoftDelete HookFunc
	AfterSoftDelete  HookFunc

	BeforeRestore HookFunc
	AfterRestore  HookFunc
}

// run invokes a plain hook, translating a false result into a
// HookDeclinedError tagged with the hook name.
func (h Hooks) run(ctx context.Context, fn HookFunc, name string, rec *Record) error {
	if fn == nil {
		return nil
	}
	ok, err := fn(ctx, rec)
	if err != nil {
		return err
	}
	if !ok {
		return NewHookDeclinedError(rec.Label(), name)
	}
	return nil
}

// runSnapshot invokes a snapshot-aware hook.
func (h Hooks) runSnapshot(ctx context.Context, fn SnapshotHookFunc, name string, rec, prior *Record) error {
	if fn == nil {
		return nil
	}
	ok, err := fn(ctx, rec, prior)
	if err != nil {
		return err
	}
	if !ok {
		return NewHookDeclinedError(rec.Label(), name)
	}
	return nil
}
