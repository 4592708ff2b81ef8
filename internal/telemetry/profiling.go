package telemetry

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/grafana/pyroscope-go"

	"github.com/docket-io/docket/internal/logger"
)

// profileTypes maps configuration names onto pyroscope profile types.
var profileTypes = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

// ProfilingConfig selects which profiles the continuous profiler
// collects and where it ships them.
type ProfilingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	ProfileTypes   []string
}

var profilingActive atomic.Bool

// InitProfiling starts the Pyroscope profiler. The returned stop
// function flushes and shuts it down; with cfg.Enabled false both are
// no-ops.
func InitProfiling(cfg ProfilingConfig) (func() error, error) {
	if !cfg.Enabled {
		profilingActive.Store(false)
		return func() error { return nil }, nil
	}

	types := make([]pyroscope.ProfileType, 0, len(cfg.ProfileTypes))
	for _, name := range cfg.ProfileTypes {
		pt, ok := profileTypes[name]
		if !ok {
			return nil, fmt.Errorf("unknown profile type %q", name)
		}
		types = append(types, pt)

		// Mutex and block profiling are off by default in the runtime;
		// sample one event in five when they were asked for.
		switch name {
		case "mutex_count", "mutex_duration":
			runtime.SetMutexProfileFraction(5)
		case "block_count", "block_duration":
			runtime.SetBlockProfileRate(5)
		}
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            map[string]string{"version": cfg.ServiceVersion},
		ProfileTypes:    types,
		Logger:          profileLogger{},
	})
	if err != nil {
		return nil, fmt.Errorf("starting profiler: %w", err)
	}

	profilingActive.Store(true)
	return profiler.Stop, nil
}

// IsProfilingEnabled reports whether the profiler is running.
func IsProfilingEnabled() bool {
	return profilingActive.Load()
}

// profileLogger routes the pyroscope client's own messages through the
// process logger.
type profileLogger struct{}

func (profileLogger) Debugf(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) }
func (profileLogger) Infof(format string, args ...any)  { logger.Info(fmt.Sprintf(format, args...)) }
func (profileLogger) Errorf(format string, args ...any) { logger.Error(fmt.Sprintf(format, args...)) }
