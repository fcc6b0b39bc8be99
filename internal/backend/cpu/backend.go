// Package cpu implements the CPU backend for the 1D dilated
// neighborhood attention AV kernels.
package cpu

import (
	"github.com/born-ml/natten/internal/parallel"
	"github.com/born-ml/natten/internal/tensor"
)

// CPUBackend implements the attention-value aggregation kernels on CPU.
// It is stateless between calls; every forward or backward invocation is
// an independent, synchronous computation.
type CPUBackend struct {
	device tensor.Device
	par    parallel.Config
}

// New creates a new CPU backend with default parallelism.
func New() *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		par:    parallel.DefaultConfig(),
	}
}

// NewWithConfig creates a CPU backend with explicit parallelism settings.
// A Sequential config makes every kernel run on the calling goroutine,
// which is useful for verifying partitioning-independence of results.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		par:    cfg,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}
