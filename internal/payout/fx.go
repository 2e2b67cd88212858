package payout

import (
	"github.com/smallbiznis/boxoffice/internal/payout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payout",
	fx.Provide(service.NewEngine),
)
