package strata

import (
	"context"
	"log"

	"github.com/lumenmed/strata/dialect"
)

// TxRunner wraps entity operations with transaction management. Whether
// a run manages its own transaction is decided once per call: it does
// when autocommit is enabled (directly or via a scoped session block)
// and no transaction is already open. Unmanaged runs flush and leave
// commit and rollback to the enclosing owner.
type TxRunner struct {
	sess       *Session
	autocommit bool
	refresh    bool
	log        dialect.Logger
}

// TxOption configures a TxRunner.
type TxOption func(*TxRunner)

// WithAutocommit makes every run self-manage its transaction even
// outside scoped session blocks.
func WithAutocommit(v bool) TxOption {
	return func(r *TxRunner) { r.autocommit = v }
}

// WithRefreshOnCommit re-reads the returned record after a managed
// commit so database-assigned values are visible to the caller.
func WithRefreshOnCommit(v bool) TxOption {
	return func(r *TxRunner) { r.refresh = v }
}

// WithTxLogger overrides the runner's logger.
func WithTxLogger(l dialect.Logger) TxOption {
	return func(r *TxRunner) { r.log = l }
}

// NewTxRunner returns a runner bound to the given session.
func NewTxRunner(sess *Session, opts ...TxOption) *TxRunner {
	r := &TxRunner{sess: sess, refresh: true, log: log.Println}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes fn under the runner's transaction policy. fn reports a
// hook decline by returning a HookDeclinedError, or (nil, nil) when the
// declining hook is anonymous.
//
// Managed runs commit on success and roll back otherwise. Declines,
// constraint violations and store failures are absorbed: the transaction
// is rolled back, the cause is logged, and the caller sees no result and
// no error. Any other failure rolls back and propagates. Rollback
// happens at most once and its own failure never masks the original
// error.
//
// Unmanaged runs flush on success so the enclosing transaction sees the
// writes, surface declines as HookDeclinedError without touching the
// transaction, and attempt a single rollback before propagating store
// failures.
func (r *TxRunner) Run(ctx context.Context, fn func(ctx context.Context) (*Record, error)) (*Record, error) {
	if r.sess == nil {
		return nil, NewConfigurationError("transaction runner requires a session")
	}
	manage := (r.autocommit || r.sess.ScopedTx()) && !r.sess.InTransaction()
	if manage {
		if err := r.sess.Begin(ctx); err != nil {
			return nil, err
		}
		return r.runManaged(ctx, fn)
	}
	return r.runEnlisted(ctx, fn)
}

func (r *TxRunner) runManaged(ctx context.Context, fn func(ctx context.Context) (*Record, error)) (*Record, error) {
	rec, err := fn(ctx)
	switch {
	case err == nil && rec != nil:
		if cerr := r.sess.Commit(ctx); cerr != nil {
			r.rollback(cerr)
			if IsStoreError(cerr) {
				r.log("strata: tx absorbed:", cerr)
				return nil, nil
			}
			return nil, cerr
		}
		if r.refresh {
			if rerr := r.sess.Refresh(ctx, rec); rerr != nil {
				r.log("strata: refresh after commit:", rerr)
			}
		}
		return rec, nil
	case err == nil || IsHookDeclined(err):
		// Hook decline: undo and report nothing.
		r.rollback(err)
		return nil, nil
	case IsStoreError(err):
		r.rollback(err)
		r.log("strata: tx absorbed:", err)
		return nil, nil
	default:
		r.rollback(err)
		return nil, err
	}
}

func (r *TxRunner) runEnlisted(ctx context.Context, fn func(ctx context.Context) (*Record, error)) (*Record, error) {
	rec, err := fn(ctx)
	switch {
	case err == nil && rec != nil:
		if ferr := r.sess.Flush(ctx); ferr != nil {
			r.rollback(ferr)
			return nil, ferr
		}
		return rec, nil
	case err == nil || IsHookDeclined(err):
		// The enclosing owner keeps its transaction; only signal.
		if err == nil {
			err = ErrHookDeclined
		}
		return nil, err
	case IsStoreError(err):
		r.rollback(err)
		return nil, err
	default:
		return nil, err
	}
}

// rollback undoes the open transaction at most once. Its failure is
// logged, never returned, so the original error stays visible.
func (r *TxRunner) rollback(cause error) {
	if !r.sess.InTransaction() {
		return
	}
	if err := r.sess.Rollback(); err != nil {
		r.log("strata: rollback:", err, "cause:", cause)
	}
}
