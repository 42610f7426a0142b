package perf

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

const (
	highMemoryPercent = 80.0
	lowAvailable      = 256 << 20
)

// virtualMemory is replaced in tests.
var virtualMemory = mem.VirtualMemory

// MemoryStatus is a snapshot of host memory.
type MemoryStatus struct {
	Total       uint64
	Available   uint64
	UsedPercent float64
	High        bool
	Low         bool
}

// CheckMemory reads host memory and warns when usage is above 80% or
// available memory is low.
func CheckMemory(log *zap.SugaredLogger) (MemoryStatus, error) {
	vm, err := virtualMemory()
	if err != nil {
		return MemoryStatus{}, fmt.Errorf("read memory stats: %w", err)
	}

	st := MemoryStatus{
		Total:       vm.Total,
		Available:   vm.Available,
		UsedPercent: vm.UsedPercent,
		High:        vm.UsedPercent > highMemoryPercent,
		Low:         vm.Available < lowAvailable,
	}

	if log != nil {
		log.Debugw("memory usage", "usedPercent", st.UsedPercent, "availableMB", st.Available>>20, "totalMB", st.Total>>20)
		if st.High {
			log.Warnw("high memory usage detected", "usedPercent", st.UsedPercent)
		}
		if st.Low {
			log.Warnw("system memory is low", "availableMB", st.Available>>20)
		}
	}
	return st, nil
}

// Capability is a coarse device performance tier.
type Capability int

const (
	CapabilityLow Capability = iota
	CapabilityMedium
	CapabilityHigh
)

func (c Capability) String() string {
	switch c {
	case CapabilityLow:
		return "low"
	case CapabilityMedium:
		return "medium"
	case CapabilityHigh:
		return "high"
	default:
		return fmt.Sprintf("Capability(%d)", int(c))
	}
}

// DetectCapability classifies the host by total memory: under 4 GiB or
// already low on memory is Low, under 8 GiB is Medium.
func DetectCapability() (Capability, error) {
	vm, err := virtualMemory()
	if err != nil {
		return CapabilityMedium, fmt.Errorf("read memory stats: %w", err)
	}
	return capabilityFor(vm.Total, vm.Available), nil
}

func capabilityFor(total, available uint64) Capability {
	switch {
	case total < 4<<30 || available < lowAvailable:
		return CapabilityLow
	case total < 8<<30:
		return CapabilityMedium
	default:
		return CapabilityHigh
	}
}

// LadderIndex maps the tier to a starting index in a resolution ladder
// of n steps, highest resolution first.
func (c Capability) LadderIndex(n int) int {
	if n <= 1 {
		return 0
	}
	switch c {
	case CapabilityLow:
		return n - 1
	case CapabilityMedium:
		return n / 2
	default:
		return 0
	}
}
