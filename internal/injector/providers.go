package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/treesync/internal/core/config"
	"github.com/zeusync/treesync/internal/core/observability/log"
	"github.com/zeusync/treesync/internal/core/repo"
	"github.com/zeusync/treesync/internal/core/synctree"
)

// ProviderSet builds a Repo from a config and a listen provider.
var ProviderSet = wire.NewSet(ProvideLogger, ProvideSyncTreeOptions, ProvideRepo)

func ProvideLogger(cfg *config.Config) log.Log {
	return cfg.Logger()
}

func ProvideSyncTreeOptions(cfg *config.Config) []synctree.Option {
	return []synctree.Option{
		synctree.WithTagGenerator(synctree.NewTagGenerator(synctree.Tag(cfg.Sync.InitialTag))),
		synctree.WithEntropy(cfg.Entropy()),
	}
}

func ProvideRepo(provider synctree.ListenProvider, logger log.Log, opts []synctree.Option) *repo.Repo {
	return repo.New(provider, repo.WithLogger(logger), repo.WithSyncTreeOptions(opts...))
}
