package recall

import (
	"context"
	"time"
)

// Adapter resolves a chassis number against one manufacturer's live recall
// search. Implementations never fail outright: any fetch or parse problem is
// absorbed into a degraded Result carrying a ManualCheck sentinel, because a
// silent "no recall" on failure would be a false negative.
type Adapter interface {
	Maker() string
	Check(ctx context.Context, chassisNumber string) Result
}

// ModelChecker resolves by vehicle model name and type code against the
// government registry, which indexes by model rather than by chassis. This
// path is long-running (multi-page stateful navigation).
type ModelChecker interface {
	CheckByModel(ctx context.Context, modelName, typeCode string) Result
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
