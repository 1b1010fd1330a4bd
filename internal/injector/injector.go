//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/treesync/internal/core/config"
	"github.com/zeusync/treesync/internal/core/repo"
	"github.com/zeusync/treesync/internal/core/synctree"
)

func InitializeRepo(cfg *config.Config, provider synctree.ListenProvider) *repo.Repo {
	wire.Build(ProviderSet)
	return nil
}
