package token

import (
	"github.com/sabihub/tokenledger/internal/token/repository"
	"github.com/sabihub/tokenledger/internal/token/service"
	"go.uber.org/fx"
)

var Module = fx.Module("token.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
