package replication

import "time"

// Pacer smooths tight convergence loops against an intra-colo peer that has
// nearly caught up: it introduces a small delay so client writes that just
// landed on the peer have time to replicate before the next round.
type Pacer struct {
	cfg        Config
	needToWait bool
	sleep      func(time.Duration)
}

// NewPacer builds a Pacer from the worker's configuration.
func NewPacer(cfg Config) *Pacer {
	return &Pacer{cfg: cfg, sleep: time.Sleep}
}

// resetForExchange is called once at the start of every exchange() call.
// Under fan-out to many replicas sharing one peer, only the first intra-colo
// metadata response in that call still sees needToWait true, so only it can
// trigger the sleep; the rest of the fan-out proceeds without pacing.
func (p *Pacer) resetForExchange() {
	p.needToWait = true
}

// maybeSleep sleeps at most once per metadata-exchange call, only for
// intra-colo peers whose reported lag is still below threshold.
func (p *Pacer) maybeSleep(remoteColo bool, lagBytes int64) {
	if remoteColo || !p.needToWait {
		return
	}
	if lagBytes >= p.cfg.MaxLagForWaitTimeBytes {
		return
	}
	p.sleep(p.cfg.WaitTimeBetweenReplicas)
	p.needToWait = false
}
