package organizer

import (
	"github.com/smallbiznis/boxoffice/internal/organizer/domain"
	"github.com/smallbiznis/boxoffice/internal/organizer/repository"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("organizer",
	fx.Provide(provideDirectory),
)

func provideDirectory(db *gorm.DB) domain.Directory {
	return repository.NewCachedDirectory(repository.NewRepository(db))
}
