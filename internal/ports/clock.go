package ports

import "github.com/paklog/wes-orchestration-engine/internal/domain"

// Clock is re-exported from domain so adapters depend on ports alone.
type Clock = domain.Clock
