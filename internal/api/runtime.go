package api

import (
	"github.com/JaimeStill/compass/internal/config"
	"github.com/JaimeStill/compass/internal/infrastructure"
	"github.com/JaimeStill/compass/pkg/pagination"
)

// Runtime is the infrastructure as seen by the API module: a module-scoped
// logger plus the configuration the domain systems read.
type Runtime struct {
	*infrastructure.Infrastructure
	Config     *config.Config
	Pagination pagination.Config
}

func NewRuntime(cfg *config.Config, infra *infrastructure.Infrastructure) *Runtime {
	return &Runtime{
		Infrastructure: infra.Scoped("module", "api"),
		Config:         cfg,
		Pagination:     cfg.API.Pagination,
	}
}
