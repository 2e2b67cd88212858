package refund

import (
	"github.com/smallbiznis/boxoffice/internal/refund/service"
	"go.uber.org/fx"
)

var Module = fx.Module("refund",
	fx.Provide(service.NewService),
)
