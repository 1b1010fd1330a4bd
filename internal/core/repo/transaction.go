package repo

import (
	"errors"
	"slices"

	"github.com/zeusync/treesync/internal/core/filter"
	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/core/view"
)

// maxTransactionRetries bounds reruns after stale answers so a hash
// mismatch cannot loop forever.
const maxTransactionRetries = 25

// TransactionUpdate computes the new value at the transaction path from the
// current one. Returning false aborts the transaction.
type TransactionUpdate func(current any) (any, bool)

// TransactionDone reports how a transaction ended. committed is false for
// aborts; an abort without an error means the update function gave up, and
// snapshot then holds the last value it saw.
type TransactionDone func(err error, committed bool, snapshot tree.Node)

// Committer sends transaction results to the server. hash identifies the
// data the results were computed against. answer must be called exactly
// once, serialized with every other Repo call: nil commits, ErrDataStale
// reruns, any other error aborts.
type Committer interface {
	Commit(path tree.Path, data tree.Node, hash uint64, answer func(err error))
}

type transactionStatus int

const (
	txRun transactionStatus = iota + 1
	txSent
	txCompleted
	txSentNeedsAbort
	txNeedsAbort
)

type transaction struct {
	path         tree.Path
	update       TransactionUpdate
	done         TransactionDone
	applyLocally bool
	status       transactionStatus
	retries      int
	abortReason  error
	writeID      int64
	input        tree.Node
	raw          tree.Node
	output       tree.Node
	unwatch      func()
}

// Transaction runs update against the latest local value at path and keeps
// rerunning it until the committer accepts a result or the transaction
// aborts. With applyLocally unset the intermediate results are hidden from
// listeners. done may be nil.
func (r *Repo) Transaction(path tree.Path, update TransactionUpdate, applyLocally bool, done TransactionDone) error {
	r.logger.Debug("Starting transaction", log.Stringer("path", path))

	// Listening keeps server data for path flowing while the transaction
	// is pending.
	query := filter.DefaultQuery(path)
	reg := view.NewRegistration()
	if err := r.Listen(query, reg, func(view.Event) error { return nil }); err != nil {
		return err
	}
	t := &transaction{
		path:         path,
		update:       update,
		done:         done,
		applyLocally: applyLocally,
		unwatch: func() {
			if err := r.Unlisten(query, reg); err != nil {
				r.logger.Warn("Handler failed", log.Stringer("path", path), log.Error(err))
			}
		},
	}

	current := r.latestState(path, nil)
	t.input = current
	value, ok := update(current.Value())
	if !ok {
		t.unwatch()
		if done != nil {
			done(nil, false, current)
		}
		return nil
	}
	if err := t.setOutput(r, value, current); err != nil {
		t.unwatch()
		return err
	}

	t.status = txRun
	r.transactions = append(r.transactions, t)
	t.writeID = r.tree.NextWriteID()
	evs := r.tree.ApplyUserOverwrite(path, t.output, t.writeID, applyLocally)
	err := r.queue.RaiseEventsForChangedPath(path, evs)
	r.sendReadyTransactions()
	return err
}

func (t *transaction) setOutput(r *Repo, value any, current tree.Node) error {
	raw, err := toNode(value)
	if err != nil {
		return err
	}
	resolved, err := r.resolvedNode(value)
	if err != nil {
		return err
	}
	if !hasExplicitPriority(value) {
		raw = raw.UpdatePriority(current.Priority())
		resolved = resolved.UpdatePriority(current.Priority())
	}
	t.raw, t.output = raw, resolved
	return nil
}

func (r *Repo) latestState(path tree.Path, excludeIDs []int64) tree.Node {
	if n := r.tree.CalcCompleteEventCache(path, excludeIDs); n != nil {
		return n
	}
	return tree.Empty
}

// transactionRoot returns the rootmost path at or above path holding a
// transaction, or path itself.
func (r *Repo) transactionRoot(path tree.Path) tree.Path {
	root := path
	for _, t := range r.transactions {
		if t.path.Contains(path) && t.path.Len() < root.Len() {
			root = t.path
		}
	}
	return root
}

// transactionQueue returns the transactions at or below root in creation
// order.
func (r *Repo) transactionQueue(root tree.Path) []*transaction {
	var queue []*transaction
	for _, t := range r.transactions {
		if root.Contains(t.path) {
			queue = append(queue, t)
		}
	}
	return queue
}

func (r *Repo) pruneTransactions() {
	r.transactions = slices.DeleteFunc(r.transactions, func(t *transaction) bool {
		return t.status == txCompleted
	})
}

// sendReadyTransactions commits every queue whose transactions have all
// run. Queues are rooted at the topmost transaction paths.
func (r *Repo) sendReadyTransactions() {
	r.pruneTransactions()
	var roots []tree.Path
	for _, t := range r.transactions {
		root := r.transactionRoot(t.path)
		if !slices.ContainsFunc(roots, root.Equal) {
			roots = append(roots, root)
		}
	}
	for _, root := range roots {
		queue := r.transactionQueue(root)
		if len(queue) == 0 || !allRun(queue) {
			continue
		}
		r.sendTransactionQueue(root, queue)
	}
}

func (r *Repo) sendTransactionQueue(path tree.Path, queue []*transaction) {
	ignore := make([]int64, 0, len(queue))
	for _, t := range queue {
		ignore = append(ignore, t.writeID)
	}
	latest := r.latestState(path, ignore)
	data, resolved := latest, latest
	for _, t := range queue {
		t.status = txSent
		t.retries++
		rel := tree.Relative(path, t.path)
		data = data.UpdateChild(rel, t.raw)
		resolved = resolved.UpdateChild(rel, t.output)
	}
	if r.committer == nil {
		// Without a server the results become the server data and are
		// accepted at once, in the order a server would send them.
		r.warnOnRaise(path, r.queue.RaiseEventsForChangedPath(path, r.tree.ApplyServerOverwrite(path, resolved)))
		r.onCommitAnswer(path, queue, nil)
		return
	}
	r.committer.Commit(path, data, latest.Hash(), func(err error) {
		r.onCommitAnswer(path, queue, err)
	})
}

func (r *Repo) onCommitAnswer(path tree.Path, queue []*transaction, err error) {
	if err == nil {
		var evs []view.Event
		var callbacks []func()
		for _, t := range queue {
			t.status = txCompleted
			evs = append(evs, r.tree.AckUserWrite(t.writeID, false)...)
			if t.done != nil {
				done, output := t.done, t.output
				callbacks = append(callbacks, func() { done(nil, true, output) })
			}
			t.unwatch()
		}
		r.pruneTransactions()
		r.sendReadyTransactions()
		r.warnOnRaise(path, r.queue.RaiseEventsForChangedPath(path, evs))
		for _, cb := range callbacks {
			cb()
		}
		return
	}

	if errors.Is(err, ErrDataStale) {
		for _, t := range queue {
			if t.status == txSentNeedsAbort {
				t.status = txNeedsAbort
			} else {
				t.status = txRun
			}
		}
	} else {
		r.logger.Warn("Transaction failed", log.Stringer("path", path), log.Error(err))
		for _, t := range queue {
			t.status = txNeedsAbort
			t.abortReason = err
		}
	}
	_, rerr := r.rerunTransactions(path)
	r.warnOnRaise(path, rerr)
}

// rerunTransactions reruns every transaction that depends on data at
// changed and returns the rootmost path they touch.
func (r *Repo) rerunTransactions(changed tree.Path) (tree.Path, error) {
	root := r.transactionRoot(changed)
	return root, r.rerunTransactionQueue(r.transactionQueue(root), root)
}

func (r *Repo) rerunTransactionQueue(queue []*transaction, path tree.Path) error {
	if len(queue) == 0 {
		return nil
	}
	var all error
	var callbacks, unwatchers []func()

	var ignore []int64
	for _, t := range queue {
		if t.status == txRun {
			ignore = append(ignore, t.writeID)
		}
	}
	for _, t := range queue {
		var evs []view.Event
		abort, nodata := false, false
		var reason error

		switch t.status {
		case txNeedsAbort:
			abort, reason = true, t.abortReason
			evs = r.tree.AckUserWrite(t.writeID, true)
		case txRun:
			if t.retries >= maxTransactionRetries {
				abort, reason = true, ErrMaxRetries
				evs = r.tree.AckUserWrite(t.writeID, true)
				break
			}
			current := r.latestState(t.path, ignore)
			t.input = current
			value, ok := t.update(current.Value())
			if !ok {
				abort, nodata = true, true
				evs = r.tree.AckUserWrite(t.writeID, true)
				break
			}
			if err := t.setOutput(r, value, current); err != nil {
				abort, reason = true, err
				evs = r.tree.AckUserWrite(t.writeID, true)
				break
			}
			old := t.writeID
			t.writeID = r.tree.NextWriteID()
			ignore = slices.DeleteFunc(ignore, func(id int64) bool { return id == old })
			evs = append(evs, r.tree.ApplyUserOverwrite(t.path, t.output, t.writeID, t.applyLocally)...)
			evs = append(evs, r.tree.AckUserWrite(old, true)...)
		}
		all = errors.Join(all, r.queue.RaiseEventsForChangedPath(path, evs))

		if !abort {
			continue
		}
		t.status = txCompleted
		unwatchers = append(unwatchers, t.unwatch)
		if t.done == nil {
			continue
		}
		done, input := t.done, t.input
		if nodata {
			callbacks = append(callbacks, func() { done(nil, false, input) })
		} else {
			callbacks = append(callbacks, func() { done(reason, false, nil) })
		}
	}

	r.pruneTransactions()
	for _, cb := range callbacks {
		cb()
	}
	// Removing the listens can prune cached data, so it waits until every
	// rerun has read its state.
	for _, unwatch := range unwatchers {
		unwatch()
	}
	r.sendReadyTransactions()
	return all
}

// abortTransactions aborts every transaction above, at or below path, as a
// plain write there supersedes them. Sent transactions are aborted once
// their answer arrives. It returns the rootmost affected path.
func (r *Repo) abortTransactions(path tree.Path) (tree.Path, error) {
	affected := r.transactionRoot(path)
	var all error
	var callbacks []func()
	for _, t := range r.transactions {
		if !t.path.Contains(path) && !path.Contains(t.path) {
			continue
		}
		switch t.status {
		case txSent:
			t.status = txSentNeedsAbort
			t.abortReason = ErrTransactionSet
		case txRun:
			t.status = txCompleted
			t.unwatch()
			all = errors.Join(all, r.queue.RaiseEventsForChangedPath(t.path, r.tree.AckUserWrite(t.writeID, true)))
			if t.done != nil {
				done := t.done
				callbacks = append(callbacks, func() { done(ErrTransactionSet, false, nil) })
			}
		}
	}
	r.pruneTransactions()
	for _, cb := range callbacks {
		cb()
	}
	return affected, all
}

func (r *Repo) warnOnRaise(path tree.Path, err error) {
	if err != nil {
		r.logger.Warn("Handler failed", log.Stringer("path", path), log.Error(err))
	}
}

func allRun(queue []*transaction) bool {
	for _, t := range queue {
		if t.status != txRun {
			return false
		}
	}
	return true
}
