package ticketing

import (
	"github.com/smallbiznis/boxoffice/internal/ticketing/repository"
	"github.com/smallbiznis/boxoffice/internal/ticketing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ticketing",
	fx.Provide(repository.Provide),
	fx.Provide(repository.NewStore),
	fx.Provide(service.NewService),
)
