package repo

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/zeusync/treesync/internal/core/events"
	"github.com/zeusync/treesync/internal/core/filter"
	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/synctree"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/core/view"
)

// Repo is the local side of one synchronized tree. It applies local writes
// and server data to the SyncTree and raises the resulting events through
// the dispatcher, in order, to the handlers registered with Listen.
//
// Repo is not safe for concurrent use. Listen completions from the
// provider must be serialized with every other call.
type Repo struct {
	tree       *synctree.SyncTree
	queue      *events.Queue
	dispatcher *events.Dispatcher
	listeners  map[string][]*events.Subscription
	logger     log.Log

	transactions []*transaction
	committer    Committer
	now          func() time.Time
}

type settings struct {
	logger    log.Log
	treeOpts  []synctree.Option
	committer Committer
	now       func() time.Time
}

type Option func(*settings)

func WithLogger(logger log.Log) Option {
	return func(s *settings) { s.logger = logger }
}

// WithCommitter sets where transaction results are sent. Without one the
// results are applied as server data and accepted as soon as they are
// computed.
func WithCommitter(c Committer) Option {
	return func(s *settings) { s.committer = c }
}

// WithClock sets the clock used to fill in server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithSyncTreeOptions passes options through to the SyncTree.
func WithSyncTreeOptions(opts ...synctree.Option) Option {
	return func(s *settings) { s.treeOpts = append(s.treeOpts, opts...) }
}

func New(provider synctree.ListenProvider, opts ...Option) *Repo {
	s := settings{logger: log.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	dispatcher := events.NewDispatcher(events.WithLogger(s.logger))
	r := &Repo{
		queue:      events.NewQueue(dispatcher),
		dispatcher: dispatcher,
		listeners:  make(map[string][]*events.Subscription),
		logger:     s.logger,
		committer:  s.committer,
		now:        s.now,
	}
	treeOpts := append([]synctree.Option{synctree.WithLogger(s.logger)}, s.treeOpts...)
	r.tree = synctree.New(&listenAdapter{repo: r, provider: provider}, treeOpts...)
	return r
}

func (r *Repo) Tree() *synctree.SyncTree       { return r.tree }
func (r *Repo) Dispatcher() *events.Dispatcher { return r.dispatcher }

// Listen subscribes handler to query through reg. Data already cached is
// delivered before Listen returns.
func (r *Repo) Listen(query filter.Query, reg *view.Registration, handler events.Handler) error {
	if reg == nil {
		return ErrNilRegistration
	}
	sub := r.dispatcher.Subscribe(reg, handler)
	key := query.Key()
	r.listeners[key] = append(r.listeners[key], sub)
	return r.queue.RaiseEventsAtPath(query.Path, r.tree.AddEventRegistration(query, reg))
}

// Unlisten removes reg from query, or every registration at query when reg
// is nil.
func (r *Repo) Unlisten(query filter.Query, reg *view.Registration) error {
	evs := r.tree.RemoveEventRegistration(query, reg, nil)
	key := query.Key()
	kept := r.listeners[key][:0]
	for _, sub := range r.listeners[key] {
		if reg == nil || sub.Registration() == reg.ID() {
			sub.Cancel()
			continue
		}
		kept = append(kept, sub)
	}
	if len(kept) == 0 {
		delete(r.listeners, key)
	} else {
		r.listeners[key] = kept
	}
	return r.queue.RaiseEventsAtPath(query.Path, evs)
}

// Set writes value at path locally and returns the write id to acknowledge
// once the server has answered. Server value placeholders are filled in
// with local estimates. Transactions above or below path are aborted.
func (r *Repo) Set(path tree.Path, value any) (int64, error) {
	node, err := r.resolvedNode(value)
	if err != nil {
		return 0, err
	}
	id := r.tree.NextWriteID()
	r.queue.QueueEvents(r.tree.ApplyUserOverwrite(path, node, id, true))

	affected, abortErr := r.abortTransactions(path)
	_, rerunErr := r.rerunTransactions(affected)
	return id, errors.Join(abortErr, rerunErr, r.queue.RaiseEventsForChangedPath(affected, nil))
}

// SetPriority writes the priority of the node at path.
func (r *Repo) SetPriority(path tree.Path, priority any) (int64, error) {
	return r.Set(path.Child(tree.PriorityKey), priority)
}

// Update merges values into the children of path.
func (r *Repo) Update(path tree.Path, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyUpdate, path)
	}
	children := make(map[string]tree.Node, len(values))
	for name, v := range values {
		node, err := r.resolvedNode(v)
		if err != nil {
			return 0, fmt.Errorf("update %s: %w", name, err)
		}
		children[name] = node
	}
	id := r.tree.NextWriteID()
	r.queue.QueueEvents(r.tree.ApplyUserMerge(path, children, id))

	var all error
	for _, name := range sortedKeys(children) {
		affected, err := r.abortTransactions(path.ChildPath(tree.ParsePath(name)))
		_, rerunErr := r.rerunTransactions(affected)
		all = errors.Join(all, err, rerunErr)
	}
	return id, errors.Join(all, r.queue.RaiseEventsForChangedPath(path, nil))
}

// Push writes value under a new time-ordered key below path.
func (r *Repo) Push(path tree.Path, value any) (string, int64, error) {
	key, err := r.tree.PushKey()
	if err != nil {
		return "", 0, err
	}
	id, err := r.Set(path.Child(key), value)
	return key, id, err
}

// Ack settles a write. A rejected write is reverted.
func (r *Repo) Ack(writeID int64, rejected bool) error {
	record, ok := r.tree.Writes().Write(writeID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownWrite, writeID)
	}
	if rejected {
		r.logger.Warn("Reverting rejected write",
			log.Int64("write_id", writeID),
			log.Stringer("path", record.Path),
		)
	}
	evs := r.tree.AckUserWrite(writeID, rejected)
	affected := record.Path
	var rerunErr error
	if len(evs) > 0 {
		affected, rerunErr = r.rerunTransactions(record.Path)
	}
	return errors.Join(rerunErr, r.queue.RaiseEventsForChangedPath(affected, evs))
}

// OnServerData applies data the server sent for path. A non-zero tag
// addresses a single filtered query.
func (r *Repo) OnServerData(path tree.Path, data any, merge bool, tag synctree.Tag) error {
	var evs []view.Event
	if merge {
		values, ok := data.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: merge data is %T", tree.ErrInvalidValue, data)
		}
		children := make(map[string]tree.Node, len(values))
		for name, v := range values {
			node, err := toNode(v)
			if err != nil {
				return err
			}
			children[name] = node
		}
		if tag != synctree.NoTag {
			evs = r.tree.ApplyTaggedQueryMerge(path, children, tag)
		} else {
			evs = r.tree.ApplyServerMerge(path, children)
		}
	} else {
		node, err := toNode(data)
		if err != nil {
			return err
		}
		if tag != synctree.NoTag {
			evs = r.tree.ApplyTaggedQueryOverwrite(path, node, tag)
		} else {
			evs = r.tree.ApplyServerOverwrite(path, node)
		}
	}
	// Every pending transaction listens at its path, so events here mean
	// its input may have changed.
	affected := path
	var rerunErr error
	if len(evs) > 0 {
		affected, rerunErr = r.rerunTransactions(path)
	}
	return errors.Join(rerunErr, r.queue.RaiseEventsForChangedPath(affected, evs))
}

// Get returns the local answer for query without listening.
func (r *Repo) Get(query filter.Query) tree.Node {
	return r.tree.ServerValue(query)
}

func sortedKeys(children map[string]tree.Node) []string {
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	slices.SortFunc(names, tree.NameCompare)
	return names
}

func toNode(value any) (node tree.Node, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e, ok := rec.(error)
			if !ok {
				panic(rec)
			}
			err = e
		}
	}()
	return tree.NodeFromValue(value), nil
}

// listenAdapter raises the events produced when a listen completes, since
// they arrive outside any Repo call.
type listenAdapter struct {
	repo     *Repo
	provider synctree.ListenProvider
}

func (a *listenAdapter) StartListening(query filter.Query, tag synctree.Tag, hash synctree.HashFunc, onComplete synctree.CompleteFunc) []view.Event {
	return a.provider.StartListening(query, tag, hash, func(err error) []view.Event {
		if rerr := a.repo.queue.RaiseEventsForChangedPath(query.Path, onComplete(err)); rerr != nil {
			a.repo.logger.Warn("Handler failed", log.Stringer("query", query), log.Error(rerr))
		}
		return nil
	})
}

func (a *listenAdapter) StopListening(query filter.Query, tag synctree.Tag) {
	a.provider.StopListening(query, tag)
}
