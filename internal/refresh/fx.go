package refresh

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/quotameter/internal/refresh/service"
)

var Module = fx.Module("refresh.service",
	fx.Provide(service.New),
)
