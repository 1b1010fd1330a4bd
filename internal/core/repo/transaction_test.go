package repo

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/treesync/internal/core/filter"
	"github.com/zeusync/treesync/internal/core/synctree"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/core/view"
)

type pendingCommit struct {
	path   tree.Path
	data   tree.Node
	hash   uint64
	answer func(error)
}

type deferredCommitter struct {
	commits []pendingCommit
}

func (c *deferredCommitter) Commit(path tree.Path, data tree.Node, hash uint64, answer func(error)) {
	c.commits = append(c.commits, pendingCommit{path: path, data: data, hash: hash, answer: answer})
}

type staleCommitter struct {
	calls int
}

func (c *staleCommitter) Commit(_ tree.Path, _ tree.Node, _ uint64, answer func(error)) {
	c.calls++
	answer(ErrDataStale)
}

type outcome struct {
	calls     int
	err       error
	committed bool
	snapshot  tree.Node
}

func (o *outcome) done(err error, committed bool, snapshot tree.Node) {
	o.calls++
	o.err, o.committed, o.snapshot = err, committed, snapshot
}

func increment(current any) (any, bool) {
	n, _ := current.(float64)
	return n + 1, true
}

func newCommittingRepo(opts ...Option) (*Repo, *deferredCommitter, *recorder) {
	committer := &deferredCommitter{}
	provider := &fakeProvider{completes: make(map[string]synctree.CompleteFunc)}
	r := New(provider, append([]Option{WithCommitter(committer)}, opts...)...)
	return r, committer, &recorder{}
}

func listenCounter(t *testing.T, r *Repo, rec *recorder, start any) {
	t.Helper()
	require.NoError(t, r.Listen(filter.DefaultQuery(p("/counter")), view.NewRegistration(), rec.handle))
	require.NoError(t, r.OnServerData(p("/counter"), start, false, synctree.NoTag))
}

func TestTransactionCommitsLocally(t *testing.T) {
	r, _ := newRepo()
	rec := &recorder{}
	listenCounter(t, r, rec, 1)

	o := &outcome{}
	require.NoError(t, r.Transaction(p("/counter"), increment, true, o.done))

	assert.Equal(t, 1, o.calls)
	assert.NoError(t, o.err)
	assert.True(t, o.committed)
	assert.Equal(t, float64(2), o.snapshot.Value())
	assert.Equal(t, []string{"value /counter 1", "value /counter 2"}, rec.lines())
	assert.Equal(t, float64(2), r.Get(filter.DefaultQuery(p("/counter"))).Value())
	assert.Empty(t, r.transactions)
}

func TestTransactionRerunsOnStaleData(t *testing.T) {
	r, committer, rec := newCommittingRepo()
	listenCounter(t, r, rec, 1)

	o := &outcome{}
	require.NoError(t, r.Transaction(p("/counter"), increment, true, o.done))
	require.Len(t, committer.commits, 1)
	first := committer.commits[0]
	assert.Equal(t, float64(2), first.data.Value())
	assert.Equal(t, tree.NodeFromValue(1).Hash(), first.hash)

	require.NoError(t, r.OnServerData(p("/counter"), 5, false, synctree.NoTag))
	first.answer(ErrDataStale)

	require.Len(t, committer.commits, 2)
	second := committer.commits[1]
	assert.Equal(t, float64(6), second.data.Value())
	assert.Equal(t, tree.NodeFromValue(5).Hash(), second.hash)
	assert.Zero(t, o.calls)

	require.NoError(t, r.OnServerData(p("/counter"), 6, false, synctree.NoTag))
	second.answer(nil)

	assert.Equal(t, 1, o.calls)
	assert.True(t, o.committed)
	assert.Equal(t, float64(6), o.snapshot.Value())
	assert.Equal(t, []string{"value /counter 1", "value /counter 2", "value /counter 6"}, rec.lines())
}

func TestHiddenTransactionRaisesOnlyServerData(t *testing.T) {
	r, committer, rec := newCommittingRepo()
	listenCounter(t, r, rec, 1)

	o := &outcome{}
	require.NoError(t, r.Transaction(p("/counter"), increment, false, o.done))
	assert.Equal(t, []string{"value /counter 1"}, rec.lines())
	require.Len(t, committer.commits, 1)
	assert.Equal(t, float64(2), committer.commits[0].data.Value())

	require.NoError(t, r.OnServerData(p("/counter"), 2, false, synctree.NoTag))
	committer.commits[0].answer(nil)

	assert.True(t, o.committed)
	assert.Equal(t, []string{"value /counter 1", "value /counter 2"}, rec.lines())
}

func TestCommitFailureRevertsTransaction(t *testing.T) {
	r, committer, rec := newCommittingRepo()
	listenCounter(t, r, rec, 1)

	o := &outcome{}
	require.NoError(t, r.Transaction(p("/counter"), increment, true, o.done))
	denied := errors.New("permission denied")
	committer.commits[0].answer(denied)

	assert.ErrorIs(t, o.err, denied)
	assert.False(t, o.committed)
	assert.Nil(t, o.snapshot)
	assert.Equal(t, []string{"value /counter 1", "value /counter 2", "value /counter 1"}, rec.lines())
	assert.Empty(t, r.transactions)
}

func TestWriteAbortsTransactions(t *testing.T) {
	r, committer, rec := newCommittingRepo()
	listenCounter(t, r, rec, 1)

	sent, waiting := &outcome{}, &outcome{}
	require.NoError(t, r.Transaction(p("/counter"), increment, true, sent.done))
	require.NoError(t, r.Transaction(p("/counter"), increment, true, waiting.done))
	require.Len(t, committer.commits, 1)

	_, err := r.Set(p("/counter"), 100)
	require.NoError(t, err)

	assert.ErrorIs(t, waiting.err, ErrTransactionSet)
	assert.Zero(t, sent.calls)

	committer.commits[0].answer(ErrDataStale)
	assert.ErrorIs(t, sent.err, ErrTransactionSet)
	assert.False(t, sent.committed)
	assert.Len(t, committer.commits, 1)
	assert.Empty(t, r.transactions)

	assert.Equal(t, []string{
		"value /counter 1",
		"value /counter 2",
		"value /counter 3",
		"value /counter 100",
	}, rec.lines())
	assert.Equal(t, float64(100), r.Get(filter.DefaultQuery(p("/counter"))).Value())
}

func TestTransactionUpdateCanGiveUp(t *testing.T) {
	t.Run("first run", func(t *testing.T) {
		r, provider := newRepo()
		o := &outcome{}
		giveUp := func(any) (any, bool) { return nil, false }

		require.NoError(t, r.Transaction(p("/a"), giveUp, true, o.done))
		assert.Equal(t, 1, o.calls)
		assert.NoError(t, o.err)
		assert.False(t, o.committed)
		assert.True(t, o.snapshot.IsEmpty())
		assert.Equal(t, []string{filter.DefaultQuery(p("/a")).Key()}, provider.stopped)
	})

	t.Run("rerun", func(t *testing.T) {
		r, committer, rec := newCommittingRepo()
		listenCounter(t, r, rec, 1)
		runs := 0
		once := func(current any) (any, bool) {
			runs++
			if runs > 1 {
				return nil, false
			}
			return increment(current)
		}
		o := &outcome{}
		require.NoError(t, r.Transaction(p("/counter"), once, true, o.done))
		require.NoError(t, r.OnServerData(p("/counter"), 7, false, synctree.NoTag))
		committer.commits[0].answer(ErrDataStale)

		assert.Equal(t, 2, runs)
		assert.NoError(t, o.err)
		assert.False(t, o.committed)
		assert.Equal(t, float64(7), o.snapshot.Value())
		assert.Equal(t, []string{"value /counter 1", "value /counter 2", "value /counter 7"}, rec.lines())
	})
}

func TestTransactionGivesUpAfterMaxRetries(t *testing.T) {
	committer := &staleCommitter{}
	r := New(&fakeProvider{completes: make(map[string]synctree.CompleteFunc)}, WithCommitter(committer))

	o := &outcome{}
	require.NoError(t, r.Transaction(p("/counter"), increment, true, o.done))

	assert.Equal(t, maxTransactionRetries, committer.calls)
	assert.ErrorIs(t, o.err, ErrMaxRetries)
	assert.Nil(t, r.Get(filter.DefaultQuery(p("/counter"))).Value())
}

func TestNestedTransactionsWaitForAncestors(t *testing.T) {
	r, committer, _ := newCommittingRepo()

	require.NoError(t, r.Transaction(p("/a/b"), func(any) (any, bool) { return "x", true }, true, nil))
	require.NoError(t, r.Transaction(p("/a"), func(current any) (any, bool) {
		return map[string]any{"b": "y"}, true
	}, true, nil))
	require.Len(t, committer.commits, 1)
	assert.Equal(t, p("/a/b"), committer.commits[0].path)

	committer.commits[0].answer(nil)
	require.Len(t, committer.commits, 2)
	assert.Equal(t, p("/a"), committer.commits[1].path)
	assert.Equal(t, map[string]any{"b": "y"}, committer.commits[1].data.Value())
}

func TestServerValuesResolveLocally(t *testing.T) {
	now := time.UnixMilli(1_700_000)
	provider := &fakeProvider{completes: make(map[string]synctree.CompleteFunc)}
	r := New(provider, WithClock(func() time.Time { return now }))

	_, err := r.Set(p("/t"), map[string]any{".sv": "timestamp"})
	require.NoError(t, err)
	assert.Equal(t, float64(1_700_000), r.Get(filter.DefaultQuery(p("/t"))).Value())

	_, err = r.Update(p("/u"), map[string]any{"at": map[string]any{".sv": "timestamp"}, "list": []any{map[string]any{".sv": "timestamp"}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"at":   float64(1_700_000),
		"list": map[string]any{"0": float64(1_700_000)},
	}, r.Get(filter.DefaultQuery(p("/u"))).Value())

	_, err = r.Set(p("/t"), map[string]any{".sv": "increment"})
	assert.ErrorIs(t, err, ErrUnknownServerValue)
}

func TestSetPriority(t *testing.T) {
	r, _ := newRepo()
	_, err := r.Set(p("/a"), "x")
	require.NoError(t, err)
	_, err = r.SetPriority(p("/a"), 5)
	require.NoError(t, err)

	got := r.Get(filter.DefaultQuery(p("/a")))
	assert.Equal(t, "x", got.Value())
	assert.Equal(t, float64(5), got.Priority().Value())
}
