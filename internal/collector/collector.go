package collector

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"solax-monitor/internal/inverter"
	"solax-monitor/internal/manager"
	"solax-monitor/internal/metrics"
)

// Fetcher retrieves raw realtime telemetry for one inverter.
type Fetcher interface {
	Fetch(ctx context.Context, serial string) (inverter.RawTelemetry, error)
}

// Target is one configured inverter.
type Target struct {
	SerialNumber string
	Name         string
}

type Collector struct {
	fetcher  Fetcher
	manager  *manager.Manager
	metrics  *metrics.Metrics
	targets  []Target
	interval time.Duration
	timeout  time.Duration
	enabled  bool

	mu           sync.RWMutex
	inFlight     map[string]bool
	isCollecting bool
	stopped      bool
	lastCycle    time.Time
	// done is closed when the Start loop returns.
	done chan struct{}

	wg sync.WaitGroup
}

type CollectorConfig struct {
	Fetcher Fetcher
	Manager *manager.Manager
	// Metrics is optional.
	Metrics  *metrics.Metrics
	Targets  []Target
	Interval time.Duration
	// Timeout bounds each fetch; zero disables the per-fetch limit.
	Timeout time.Duration
	Enabled bool
}

func NewCollector(cfg CollectorConfig) *Collector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	targets := make([]Target, len(cfg.Targets))
	copy(targets, cfg.Targets)

	return &Collector{
		fetcher:  cfg.Fetcher,
		manager:  cfg.Manager,
		metrics:  cfg.Metrics,
		targets:  targets,
		interval: interval,
		timeout:  cfg.Timeout,
		enabled:  cfg.Enabled,
		inFlight: make(map[string]bool),
	}
}

// Start polls every configured inverter once, then on each tick until ctx
// is cancelled.
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled {
		log.Println("Collector is disabled")
		return nil
	}
	if c.fetcher == nil || c.manager == nil {
		return fmt.Errorf("collector not initialized (fetcher or manager is nil)")
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.isCollecting = true
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()
	defer close(done)

	log.Printf("Starting collector for %d inverter(s) with interval %s", len(c.targets), c.interval)

	c.collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Collector stopped")
			c.mu.Lock()
			c.isCollecting = false
			c.mu.Unlock()
			return nil
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// CollectOnce runs a single cycle and waits for every inverter to finish.
func (c *Collector) CollectOnce(ctx context.Context) {
	c.collect(ctx).Wait()
}

// collect starts one fetch per inverter, in configured order, and returns
// without waiting. Each inverter succeeds or fails on its own; an inverter
// whose previous fetch is still running is skipped.
func (c *Collector) collect(ctx context.Context) *sync.WaitGroup {
	cycle := &sync.WaitGroup{}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return cycle
	}
	c.lastCycle = time.Now()
	c.mu.Unlock()

	for _, target := range c.targets {
		claimed, stopped := c.claim(target.SerialNumber)
		if stopped {
			break
		}
		if !claimed {
			log.Printf("Skipping %s: previous fetch still in progress", target.Name)
			continue
		}

		cycle.Add(1)
		go func(t Target) {
			defer c.wg.Done()
			defer cycle.Done()
			defer c.release(t.SerialNumber)
			c.fetchOne(ctx, t)
		}(target)
	}

	return cycle
}

func (c *Collector) fetchOne(ctx context.Context, t Target) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic during fetch: %v", r)
			log.Printf("Error collecting %s (%s): %s", t.Name, t.SerialNumber, msg)
			c.manager.RecordFailure(t.SerialNumber, t.Name, msg)
		}
	}()

	fetchCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	started := time.Now()
	raw, err := c.fetcher.Fetch(fetchCtx, t.SerialNumber)
	if err != nil && ctx.Err() != nil {
		// Shutdown, not an inverter fault.
		log.Printf("Abandoned fetch for %s (%s): %v", t.Name, t.SerialNumber, err)
		return
	}
	if c.metrics != nil {
		c.metrics.ObserveFetch(t.SerialNumber, time.Since(started), err)
	}

	if err != nil {
		log.Printf("Error collecting %s (%s): %v", t.Name, t.SerialNumber, err)
		c.manager.RecordFailure(t.SerialNumber, t.Name, err.Error())
		return
	}

	reading := c.manager.RecordSuccess(t.SerialNumber, raw, t.Name)
	log.Printf("Collected %s: PV=%.0fW, Load=%.0fW, Grid=%.0fW, SOC=%.0f%%, Status=%s",
		t.Name, reading.TotalPVPower(), reading.EstimatedLoad(), reading.ExternalGridPower(),
		reading.StateOfCharge, inverter.StatusName(reading.OperatingStatus))
}

// claim marks serial in flight and registers it with the stop WaitGroup.
// Both happen under mu so Stop never races a late wg.Add.
func (c *Collector) claim(serial string) (claimed, stopped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false, true
	}
	if c.inFlight[serial] {
		return false, false
	}
	c.inFlight[serial] = true
	c.wg.Add(1)
	return true, false
}

func (c *Collector) release(serial string) {
	c.mu.Lock()
	delete(c.inFlight, serial)
	c.mu.Unlock()
}

func (c *Collector) Targets() []Target {
	out := make([]Target, len(c.targets))
	copy(out, c.targets)
	return out
}

// Target looks up a configured inverter by serial number.
func (c *Collector) Target(serial string) (Target, bool) {
	for _, t := range c.targets {
		if t.SerialNumber == serial {
			return t, true
		}
	}
	return Target{}, false
}

func (c *Collector) IsCollecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isCollecting
}

func (c *Collector) LastCycle() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastCycle
}

// Stop prevents further cycles, then waits for the Start loop and every
// in-flight fetch to return. Cancel the context passed to Start first.
func (c *Collector) Stop() {
	c.mu.Lock()
	c.stopped = true
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	c.wg.Wait()
}
