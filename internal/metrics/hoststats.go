package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// HostStats periodically samples host CPU, memory, and the local store's
// disk usage so operators can correlate a slow convergence pass with
// resource pressure on the node, not just with peer-side errors.
type HostStats struct {
	dataDir string

	cpuPercent  prometheus.Gauge
	memPercent  prometheus.Gauge
	diskPercent prometheus.Gauge
}

// NewHostStats registers the host gauges against sink's registry. dataDir is
// the local store's root, sampled for disk usage.
func (s *Sink) NewHostStats(dataDir string) *HostStats {
	hs := &HostStats{
		dataDir: dataDir,
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "cpu_usage_percent",
			Help:      "Host CPU utilization percent, sampled once per interval.",
		}),
		memPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "memory_usage_percent",
			Help:      "Host memory utilization percent, sampled once per interval.",
		}),
		diskPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "data_dir_disk_usage_percent",
			Help:      "Disk utilization percent of the filesystem backing the local store's data directory.",
		}),
	}
	s.registry.MustRegister(hs.cpuPercent, hs.memPercent, hs.diskPercent)
	return hs
}

// Run samples the host gauges every interval until ctx is done.
func (hs *HostStats) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		hs.sample()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (hs *HostStats) sample() {
	if pcts, err := cpu.Percent(0, false); err != nil {
		logrus.WithError(err).Debug("host stats: cpu sample failed")
	} else if len(pcts) > 0 {
		hs.cpuPercent.Set(pcts[0])
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		logrus.WithError(err).Debug("host stats: memory sample failed")
	} else {
		hs.memPercent.Set(vm.UsedPercent)
	}

	if du, err := disk.Usage(hs.dataDir); err != nil {
		logrus.WithError(err).Debug("host stats: disk sample failed")
	} else {
		hs.diskPercent.Set(du.UsedPercent)
	}
}
