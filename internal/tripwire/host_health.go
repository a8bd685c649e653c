package tripwire

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// HostHealthConfig bounds the operational-health host-resource predicate.
type HostHealthConfig struct {
	MaxCPUPercent float64
	MaxMemPercent float64
}

// DefaultHostHealthConfig returns conservative defaults: the process
// should never be starved of CPU/memory badly enough to delay a tick.
func DefaultHostHealthConfig() HostHealthConfig {
	return HostHealthConfig{MaxCPUPercent: 90, MaxMemPercent: 90}
}

// CheckHostHealth samples process-host CPU and memory utilization and
// emits a FREEZE_NEW_RISK event if either exceeds its threshold - a
// starved host is exactly the situation where new risk shouldn't be
// taken on, since the scheduler may be falling behind its cadence.
func (s *Service) CheckHostHealth(ctx context.Context, cfg HostHealthConfig, now time.Time) []types.TripwireEvent {
	var events []types.TripwireEvent

	cpuPct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		s.logger.Warn("host cpu sample failed", zap.Error(err))
	} else if len(cpuPct) > 0 && cpuPct[0] > cfg.MaxCPUPercent {
		events = append(events, types.TripwireEvent{
			Severity:  types.SeverityWarning,
			Category:  types.CategoryOperational,
			Trigger:   "host_cpu_saturated",
			Action:    types.ActionFreezeNewRisk,
			Timestamp: now,
			Details:   map[string]any{"cpu_percent": cpuPct[0]},
		})
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		s.logger.Warn("host memory sample failed", zap.Error(err))
	} else if vm.UsedPercent > cfg.MaxMemPercent {
		events = append(events, types.TripwireEvent{
			Severity:  types.SeverityWarning,
			Category:  types.CategoryOperational,
			Trigger:   "host_memory_saturated",
			Action:    types.ActionFreezeNewRisk,
			Timestamp: now,
			Details:   map[string]any{"mem_percent": vm.UsedPercent},
		})
	}

	return events
}
