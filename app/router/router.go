package router

import (
	"github.com/beego/beego/v2/server/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/dig"
	"gorm.io/gorm"

	"github.com/aihub/kbsync/app/controllers"
	"github.com/aihub/kbsync/internal/knowledge"
	"github.com/aihub/kbsync/internal/services"
)

// Init registers all routes. Must be called after the container is built.
func Init(container *dig.Container) error {
	web.Router("/", &controllers.RootController{}, "get:Index")
	web.Handler("/metrics", promhttp.Handler())

	err := container.Invoke(func(db *gorm.DB, store knowledge.VectorStore) {
		web.Router("/health", controllers.NewHealthController(db, store), "get:Health")
	})
	if err != nil {
		return err
	}

	return container.Invoke(func(service *services.SourceService) {
		sourceController := controllers.NewSourceController(service)
		web.Router("/api/sources", sourceController, "get:List;post:Create")
		web.Router("/api/sources/:id", sourceController, "get:Get")
		web.Router("/api/sources/:id/resync", sourceController, "post:Resync")
		web.Router("/api/sources/:id/errors", sourceController, "get:Errors")
		web.Router("/api/sources/:id/settings", sourceController, "put:UpdateSettings")
		web.Router("/api/sources/:id/deactivate", sourceController, "post:Deactivate")
		web.Router("/api/sources/:id/activate", sourceController, "post:Activate")
		web.Router("/api/sources/:id/vectors", sourceController, "delete:Purge")
	})
}
