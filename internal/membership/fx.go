package membership

import (
	"github.com/smallbiznis/clavis/internal/membership/repository"
	"github.com/smallbiznis/clavis/internal/membership/service"
	"go.uber.org/fx"
)

var Module = fx.Module("membership.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
