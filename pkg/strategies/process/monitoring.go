package process

import (
	"context"
	"time"

	"github.com/prometheus/procfs"
	"go.opentelemetry.io/otel/attribute"

	"github.com/perfpipe/perfpipe/pkg/component"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
)

const monitoringRuntimeKey = "process_component_monitoring"

func init() {
	registry.Register(registry.Monitoring, "process_component", registry.Registration{
		NewConfig: func() any { return &MonitoringConfig{} },
		Build: func(cfg any) (any, error) {
			return NewMonitoring(cfg.(*MonitoringConfig)), nil
		},
	})
}

// MonitoringConfig configures the process stats collector.
type MonitoringConfig struct {
	// Interval is the seconds between samples.
	Interval float64 `yaml:"interval"`
}

type monitorRuntime struct {
	stop chan struct{}
	done chan struct{}
}

// Monitoring samples the deployed process and its descendants through
// procfs, writing process.cpu.usage (cores) and process.memory.usage (RSS
// bytes) gauges into the telemetry substrate.
type Monitoring struct {
	config *MonitoringConfig
}

// NewMonitoring creates the strategy with a default 1s interval.
func NewMonitoring(cfg *MonitoringConfig) *Monitoring {
	if cfg.Interval <= 0 {
		cfg.Interval = 1.0
	}
	return &Monitoring{config: cfg}
}

// Start spawns the stats worker for the component's process tree.
func (m *Monitoring) Start(_ context.Context, c *component.Component, sctx *framework.StepContext) error {
	procRuntime := componentRuntime(c)
	if procRuntime.PID == 0 {
		return framework.NewStrategyError("cannot monitor component without a pid", nil)
	}

	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return framework.NewStrategyError("failed to open procfs", err)
	}

	rt := sctx.Telemetry()
	worker := &monitorRuntime{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.SetRuntimeData(monitoringRuntimeKey, worker)

	logger := sctx.Logger().WithComponent(c.ComponentName())
	interval := time.Duration(m.config.Interval * float64(time.Second))
	pid := procRuntime.PID
	name := c.ComponentName()

	go func() {
		defer close(worker.done)

		endSpan := func() {}
		if rt != nil && rt.Tracer != nil {
			_, span := rt.Tracer.StartProducerSpan(context.Background(), "monitor.process_component",
				attribute.String("component_name", name))
			endSpan = span.End
		}
		defer endSpan()

		labels := map[string]any{"component_name": name}
		var (
			prevCPU  float64
			prevTime time.Time
		)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-worker.stop:
				return
			case <-ticker.C:
			}

			cpu, mem, err := sampleTree(fs, pid)
			if err != nil {
				logger.Debugf("process sample failed (process may have exited): %v", err)
				continue
			}
			now := time.Now()
			if !prevTime.IsZero() && rt != nil && rt.Metrics != nil {
				elapsed := now.Sub(prevTime).Seconds()
				if elapsed > 0 {
					rt.Metrics.RecordGauge("process.cpu.usage", (cpu-prevCPU)/elapsed, labels)
					rt.Metrics.RecordGauge("process.memory.usage", mem, labels)
				}
			}
			prevCPU = cpu
			prevTime = now
		}
	}()
	return nil
}

// Stop signals the stats worker to halt and joins it.
func (m *Monitoring) Stop(_ context.Context, c *component.Component, _ *framework.StepContext) error {
	v, ok := c.Runtime.Get(monitoringRuntimeKey)
	if !ok {
		return nil
	}
	worker, ok := v.(*monitorRuntime)
	if !ok || worker.stop == nil {
		return nil
	}
	select {
	case <-worker.stop:
	default:
		close(worker.stop)
	}
	select {
	case <-worker.done:
	case <-time.After(10 * time.Second):
		return framework.NewTimeoutError("process stats worker did not stop in time", nil)
	}
	return nil
}

// Collect implements component.MonitoringStrategy; the collector writes
// samples directly to the telemetry substrate.
func (m *Monitoring) Collect(_ context.Context, _ *component.Component, _ *framework.StepContext) (map[string]any, error) {
	return map[string]any{}, nil
}

// sampleTree walks the pid and its descendants and returns the summed CPU
// seconds and resident memory bytes.
func sampleTree(fs procfs.FS, rootPID int) (cpuSeconds, rssBytes float64, err error) {
	procs, err := fs.AllProcs()
	if err != nil {
		return 0, 0, err
	}

	children := make(map[int][]int, len(procs))
	stats := make(map[int]procfs.ProcStat, len(procs))
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		stats[p.PID] = stat
		children[stat.PPID] = append(children[stat.PPID], p.PID)
	}

	queue := []int{rootPID}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if stat, ok := stats[pid]; ok {
			cpuSeconds += stat.CPUTime()
			rssBytes += float64(stat.ResidentMemory())
		}
		queue = append(queue, children[pid]...)
	}
	return cpuSeconds, rssBytes, nil
}

var _ component.MonitoringStrategy = (*Monitoring)(nil)
