package docker

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/perfpipe/perfpipe/pkg/component"
	"github.com/perfpipe/perfpipe/pkg/framework"
	"github.com/perfpipe/perfpipe/pkg/registry"
)

const monitoringRuntimeKey = "docker_component_monitoring"

func init() {
	registry.Register(registry.Monitoring, "docker_component", registry.Registration{
		NewConfig: func() any { return &MonitoringConfig{} },
		Build: func(cfg any) (any, error) {
			return NewMonitoring(cfg.(*MonitoringConfig)), nil
		},
	})
}

// MonitoringConfig configures the container stats collector.
type MonitoringConfig struct {
	// Interval is the minimum seconds between recorded samples.
	Interval float64 `yaml:"interval"`
}

// monitorRuntime holds the collector worker handle on the component runtime.
type monitorRuntime struct {
	stop chan struct{}
	done chan struct{}
}

// Monitoring samples the container stats API and writes
// container.cpu.usage, container.memory.usage, container.network.rx and
// container.network.tx gauges into the telemetry substrate.
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

// cpuStats mirrors the fields of the Docker stats payload the collector
// needs; decoding into a local struct keeps the strategy independent of
// stats type moves across engine API versions.
type cpuStats struct {
	CPUUsage struct {
		TotalUsage  uint64   `json:"total_usage"`
		PercpuUsage []uint64 `json:"percpu_usage"`
	} `json:"cpu_usage"`
	SystemUsage uint64 `json:"system_cpu_usage"`
	OnlineCPUs  uint32 `json:"online_cpus"`
}

type statsSample struct {
	CPUStats    cpuStats `json:"cpu_stats"`
	PreCPUStats cpuStats `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
	} `json:"memory_stats"`
	Networks map[string]struct {
		RxBytes uint64 `json:"rx_bytes"`
		TxBytes uint64 `json:"tx_bytes"`
	} `json:"networks"`
}

// Start spawns the stats worker for the component's container.
func (m *Monitoring) Start(ctx context.Context, c *component.Component, sctx *framework.StepContext) error {
	runtime := componentRuntime(c)
	if runtime.ContainerID == "" {
		return framework.NewStrategyError("cannot monitor component without a container id", nil)
	}
	cli, err := Client(sctx)
	if err != nil {
		return err
	}

	rt := sctx.Telemetry()
	worker := &monitorRuntime{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.SetRuntimeData(monitoringRuntimeKey, worker)

	logger := sctx.Logger().WithComponent(c.ComponentName())
	interval := time.Duration(m.config.Interval * float64(time.Second))
	containerID := runtime.ContainerID
	name := c.ComponentName()

	go func() {
		defer close(worker.done)

		var span = func() func() {
			if rt == nil || rt.Tracer == nil {
				return func() {}
			}
			_, s := rt.Tracer.StartProducerSpan(context.Background(), "monitor.docker_component",
				attribute.String("component_name", name))
			return s.End
		}()
		defer span()

		resp, err := cli.ContainerStats(context.Background(), containerID, true)
		if err != nil {
			logger.Errorf("failed to open container stats stream: %v", err)
			return
		}
		// Closing the body unblocks the decoder when the stop flag is set.
		go func() {
			<-worker.stop
			resp.Body.Close()
		}()

		labels := map[string]any{"component_name": name}
		decoder := json.NewDecoder(resp.Body)
		var lastSample time.Time
		for {
			select {
			case <-worker.stop:
				return
			default:
			}

			var sample statsSample
			if err := decoder.Decode(&sample); err != nil {
				select {
				case <-worker.stop:
				default:
					logger.Warnf("container stats stream ended: %v", err)
				}
				return
			}
			if time.Since(lastSample) < interval {
				continue
			}
			lastSample = time.Now()

			if rt == nil || rt.Metrics == nil {
				continue
			}

			cpuDelta := float64(sample.CPUStats.CPUUsage.TotalUsage) - float64(sample.PreCPUStats.CPUUsage.TotalUsage)
			systemDelta := float64(sample.CPUStats.SystemUsage) - float64(sample.PreCPUStats.SystemUsage)
			cpuUsage := 0.0
			if systemDelta > 0 && cpuDelta > 0 {
				numCPUs := float64(len(sample.CPUStats.CPUUsage.PercpuUsage))
				if numCPUs == 0 {
					numCPUs = float64(sample.CPUStats.OnlineCPUs)
				}
				cpuUsage = (cpuDelta / systemDelta) * numCPUs
			}

			var rx, tx uint64
			for _, net := range sample.Networks {
				rx += net.RxBytes
				tx += net.TxBytes
			}

			rt.Metrics.RecordGauge("container.cpu.usage", cpuUsage, labels)
			rt.Metrics.RecordGauge("container.memory.usage", float64(sample.MemoryStats.Usage), labels)
			rt.Metrics.RecordGauge("container.network.rx", float64(rx), labels)
			rt.Metrics.RecordGauge("container.network.tx", float64(tx), labels)
		}
	}()
	return nil
}

// Stop signals the stats worker to halt and joins it.
func (m *Monitoring) Stop(ctx context.Context, c *component.Component, sctx *framework.StepContext) error {
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
		return framework.NewTimeoutError("docker stats worker did not stop in time", nil)
	}
	return nil
}

// Collect implements component.MonitoringStrategy; the collector writes
// samples directly to the telemetry substrate.
func (m *Monitoring) Collect(_ context.Context, _ *component.Component, _ *framework.StepContext) (map[string]any, error) {
	return map[string]any{}, nil
}

var _ component.MonitoringStrategy = (*Monitoring)(nil)
