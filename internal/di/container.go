package di

import (
	"go.uber.org/dig"

	"github.com/aihub/kbsync/internal/config"
)

// BuildContainer 构建依赖注入容器
// 容器由调用方持有并传递，不设包级全局实例
func BuildContainer(cfg *config.Config) (*dig.Container, error) {
	container := dig.New()

	if err := container.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := registerProviders(container); err != nil {
		return nil, err
	}
	return container, nil
}
