package sandbox

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"

	"github.com/forgerun/execgw/internal/execmodel"
)

// usageSampler is the host-side fallback described in SPEC_FULL's domain
// stack expansion: while the run is in flight, sample the CPU time and RSS
// of the given host pid via gopsutil so a run killed before it could flush
// usage.json still yields observed numbers instead of immediately falling
// back to the effective limits as an upper bound. Container passes the
// docker client's own pid, so the numbers describe that process, not the
// sandboxed process tree. Grounded on the teacher's
// internal/runner/metrics.go, which samples host resources on an interval
// rather than reading them once.
type usageSampler struct {
	mu        sync.Mutex
	start     time.Time
	peakRSS   int64
	lastCPUMS int64
	stop      chan struct{}
	done      chan struct{}
}

func startUsageSampler(pid int) *usageSampler {
	s := &usageSampler{
		start: time.Now(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.run(pid)
	return s
}

func (s *usageSampler) run(pid int) {
	defer close(s.done)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	proc, errGo := process.NewProcess(int32(pid))
	if errGo != nil {
		return
	}

	sample := func() {
		if times, errGo := proc.Times(); errGo == nil {
			cpuMS := int64((times.User + times.System) * 1000)
			s.mu.Lock()
			s.lastCPUMS = cpuMS
			s.mu.Unlock()
		}
		if mem, errGo := proc.MemoryInfo(); errGo == nil {
			rssMiB := int64(mem.RSS / (1024 * 1024))
			s.mu.Lock()
			if rssMiB > s.peakRSS {
				s.peakRSS = rssMiB
			}
			s.mu.Unlock()
		}
	}

	for {
		select {
		case <-s.stop:
			sample()
			return
		case <-ticker.C:
			sample()
		}
	}
}

// Stop halts sampling and returns the observed usage so far.
func (s *usageSampler) Stop() execmodel.Usage {
	close(s.stop)
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return execmodel.Usage{
		WallMS:     time.Since(s.start).Milliseconds(),
		CPUMS:      s.lastCPUMS,
		PeakRSSMiB: s.peakRSS,
	}
}

// mergeUsage prefers the bootstrap-written usage.json (primary source,
// sampled from inside the sandbox at the standard 100 Hz clock) and falls
// back to the host-side sampler's observation only when that file never
// materialized, per spec §4.5 and the domain-stack fallback it adds.
func mergeUsage(fromFile, fromSampler execmodel.Usage) execmodel.Usage {
	if fromFile != (execmodel.Usage{}) {
		return fromFile
	}
	return fromSampler
}
