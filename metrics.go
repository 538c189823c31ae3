package kvm

import (
	"sync/atomic"
	"time"
)

// Performance metrics for monitoring KVM operations
var (
	// Operation counters
	vmCreateCount    uint64
	vmDestroyCount   uint64
	vcpuCreateCount  uint64
	vcpuDestroyCount uint64
	mapOperations    uint64
	registerOps      uint64
	runOperations    uint64
	runRetries       uint64
	runCancels       uint64
	exitCounts       [numExitKinds]uint64

	// Timing metrics (nanoseconds)
	totalVMCreateTime uint64
	totalRunTime      uint64

	// Error counters
	capabilityErrors uint64
	resourceErrors   uint64
)

// Metrics provides access to performance metrics
type Metrics struct {
	VMCreated         uint64            `json:"vm_created"`
	VMDestroyed       uint64            `json:"vm_destroyed"`
	VCPUCreated       uint64            `json:"vcpu_created"`
	VCPUDestroyed     uint64            `json:"vcpu_destroyed"`
	MapOperations     uint64            `json:"map_operations"`
	RegisterOps       uint64            `json:"register_operations"`
	RunOperations     uint64            `json:"run_operations"`
	RunRetries        uint64            `json:"run_retries"`
	RunCancels        uint64            `json:"run_cancels"`
	Exits             map[string]uint64 `json:"exits"`
	AvgVMCreateTimeNs uint64            `json:"avg_vm_create_time_ns"`
	AvgRunTimeNs      uint64            `json:"avg_run_time_ns"`
	CapabilityErrors  uint64            `json:"capability_errors"`
	ResourceErrors    uint64            `json:"resource_errors"`
}

// GetMetrics returns current performance metrics
func GetMetrics() Metrics {
	vmCreated := atomic.LoadUint64(&vmCreateCount)
	runOps := atomic.LoadUint64(&runOperations)

	var avgVMCreate, avgRun uint64
	if vmCreated > 0 {
		avgVMCreate = atomic.LoadUint64(&totalVMCreateTime) / vmCreated
	}
	if runOps > 0 {
		avgRun = atomic.LoadUint64(&totalRunTime) / runOps
	}

	exits := make(map[string]uint64)
	for k := ExitKind(0); k < numExitKinds; k++ {
		if n := atomic.LoadUint64(&exitCounts[k]); n > 0 {
			exits[k.String()] = n
		}
	}

	return Metrics{
		VMCreated:         vmCreated,
		VMDestroyed:       atomic.LoadUint64(&vmDestroyCount),
		VCPUCreated:       atomic.LoadUint64(&vcpuCreateCount),
		VCPUDestroyed:     atomic.LoadUint64(&vcpuDestroyCount),
		MapOperations:     atomic.LoadUint64(&mapOperations),
		RegisterOps:       atomic.LoadUint64(&registerOps),
		RunOperations:     runOps,
		RunRetries:        atomic.LoadUint64(&runRetries),
		RunCancels:        atomic.LoadUint64(&runCancels),
		Exits:             exits,
		AvgVMCreateTimeNs: avgVMCreate,
		AvgRunTimeNs:      avgRun,
		CapabilityErrors:  atomic.LoadUint64(&capabilityErrors),
		ResourceErrors:    atomic.LoadUint64(&resourceErrors),
	}
}

// ResetMetrics clears all performance metrics
func ResetMetrics() {
	atomic.StoreUint64(&vmCreateCount, 0)
	atomic.StoreUint64(&vmDestroyCount, 0)
	atomic.StoreUint64(&vcpuCreateCount, 0)
	atomic.StoreUint64(&vcpuDestroyCount, 0)
	atomic.StoreUint64(&mapOperations, 0)
	atomic.StoreUint64(&registerOps, 0)
	atomic.StoreUint64(&runOperations, 0)
	atomic.StoreUint64(&runRetries, 0)
	atomic.StoreUint64(&runCancels, 0)
	for k := range exitCounts {
		atomic.StoreUint64(&exitCounts[k], 0)
	}
	atomic.StoreUint64(&totalVMCreateTime, 0)
	atomic.StoreUint64(&totalRunTime, 0)
	atomic.StoreUint64(&capabilityErrors, 0)
	atomic.StoreUint64(&resourceErrors, 0)
}

// Internal metric recording functions
func recordVMCreate(duration time.Duration) {
	atomic.AddUint64(&vmCreateCount, 1)
	atomic.AddUint64(&totalVMCreateTime, uint64(duration.Nanoseconds()))
}

func recordVMDestroy() {
	atomic.AddUint64(&vmDestroyCount, 1)
}

func recordVCPUCreate() {
	atomic.AddUint64(&vcpuCreateCount, 1)
}

func recordVCPUDestroy() {
	atomic.AddUint64(&vcpuDestroyCount, 1)
}

func recordMapOperation() {
	atomic.AddUint64(&mapOperations, 1)
}

func recordRegisterOp() {
	atomic.AddUint64(&registerOps, 1)
}

func recordRun(duration time.Duration) {
	atomic.AddUint64(&runOperations, 1)
	atomic.AddUint64(&totalRunTime, uint64(duration.Nanoseconds()))
}

func recordRunRetry() {
	atomic.AddUint64(&runRetries, 1)
}

func recordRunCancel() {
	atomic.AddUint64(&runCancels, 1)
}

func recordExit(kind ExitKind) {
	if kind < 0 || kind >= numExitKinds {
		kind = ExitKindUnknown
	}
	atomic.AddUint64(&exitCounts[kind], 1)
}

func recordCapabilityError() {
	atomic.AddUint64(&capabilityErrors, 1)
}

func recordResourceError() {
	atomic.AddUint64(&resourceErrors, 1)
}
