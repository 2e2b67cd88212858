package event

import (
	"github.com/smallbiznis/boxoffice/internal/event/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("event",
	fx.Provide(repository.Provide),
)
