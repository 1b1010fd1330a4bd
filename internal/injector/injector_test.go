package injector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/treesync/internal/core/config"
	"github.com/zeusync/treesync/internal/core/filter"
	"github.com/zeusync/treesync/internal/core/synctree"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/core/view"
)

type tagRecorder struct {
	tags []synctree.Tag
}

func (r *tagRecorder) StartListening(_ filter.Query, tag synctree.Tag, _ synctree.HashFunc, _ synctree.CompleteFunc) []view.Event {
	r.tags = append(r.tags, tag)
	return nil
}

func (r *tagRecorder) StopListening(filter.Query, synctree.Tag) {}

func TestInitializeRepo(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "none"
	cfg.Sync.InitialTag = 7
	cfg.Sync.PushKeySeed = 1

	provider := &tagRecorder{}
	r := InitializeRepo(cfg, provider)
	require.NotNil(t, r)
	st := r.Tree()

	q := filter.NewQuery(tree.ParsePath("/scores"), filter.DefaultParams().OrderByValue().LimitToLast(10))
	st.AddEventRegistration(q, view.NewChildRegistration())
	assert.Equal(t, []synctree.Tag{7}, provider.tags)

	key, err := st.PushKey()
	require.NoError(t, err)
	assert.Len(t, key, 26)
}
