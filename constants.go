package lavdgo

import "github.com/lavdgo/lavdgo/internal/constants"

// Re-exported tuning defaults and resource ceilings, for callers that
// want the scheduler's defaults without reaching into internal/.
const (
	MaxCPUs              = constants.MaxCPUs
	MaxTasks             = constants.MaxTasks
	RingCount            = constants.RingCount
	MaxNUMANodes         = constants.MaxNUMANodes
	MinBoostShift        = constants.MinBoostShift
	MaxBoostShift        = constants.MaxBoostShift
	DefaultSliceNs       = constants.DefaultSliceNs
	DefaultMigMax        = constants.DefaultMigMax
	DefaultMigRefillNs   = constants.DefaultMigRefillNs
	DefaultWakeupTimerNs = constants.DefaultWakeupTimerNs
	DefaultFrameSafetyNs = constants.DefaultFrameSafetyNs
	NoPreferredCore      = constants.NoPreferredCore
	NoForegroundGroup    = constants.NoForegroundGroup
)
