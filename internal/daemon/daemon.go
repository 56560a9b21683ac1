// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cloudnative-pg/machinery/pkg/log"
	"go.uber.org/atomic"

	v1 "github.com/sbh-io/sbh/api/v1"
	"github.com/sbh-io/sbh/internal/activitylog"
	"github.com/sbh-io/sbh/internal/ballast"
	"github.com/sbh-io/sbh/internal/forecast"
	"github.com/sbh-io/sbh/internal/guardrails"
	"github.com/sbh-io/sbh/internal/pattern"
	"github.com/sbh-io/sbh/internal/pidctl"
	"github.com/sbh-io/sbh/internal/platform"
	"github.com/sbh-io/sbh/internal/policy"
	"github.com/sbh-io/sbh/internal/safety"
	"github.com/sbh-io/sbh/internal/scanner"
	"github.com/sbh-io/sbh/internal/scoring"
	"github.com/sbh-io/sbh/internal/voi"
)

// mountState holds every piece of per-root derived state that a
// config reload must refresh in place, rather than silently leaving
// stale after ReloadConfig replaces the Daemon's config struct.
type mountState struct {
	forecaster *forecast.Forecaster
	controller *pidctl.Controller
	guard      *guardrails.Tracker
	gate       *safety.Gate
	index      *scanner.Index

	// urgency is the PID controller's last saturated output, read by
	// the scanner worker and written by the monitor worker from
	// different goroutines.
	urgency atomic.Float64

	// lastEstimate/lastFree/hasLast hold the previous tick's forecast
	// so the next tick can compare it against what actually happened;
	// only the monitor worker's single goroutine touches these.
	lastEstimate v1.RateEstimate
	lastFree     uint64
	hasLast      bool
}

// Daemon owns the four-worker loop, the self-monitor, and every
// per-mount derived-state subsystem.
type Daemon struct {
	mu     sync.RWMutex
	config v1.Config

	mounts map[string]*mountState

	probe      *platform.Probe
	scheduler  *voi.Scheduler
	policy     *policy.Engine
	ballast    *ballast.Coordinator
	logger     *activitylog.Logger
	self       *SelfMonitor
	signals    *SignalContract

	scannerQ  *ScannerQueue
	executorQ *ExecutorQueue

	workers []*Worker

	statePath string
}

// New builds a Daemon from an initial configuration. fsTypeOf is
// injected so filesystem-type detection for the ballast coordinator
// stays testable; callers pass a real /proc/mounts-backed lookup in
// production.
func New(cfg v1.Config, statePath string, logger *activitylog.Logger, fsTypeOf func(string) string) (*Daemon, error) {
	d := &Daemon{
		config:    cfg,
		mounts:    make(map[string]*mountState),
		probe:     platform.NewProbe(),
		policy:    policy.NewEngine(parsePolicyMode(cfg.Policy.Mode), cfg.Policy.CanaryDeleteCapPerHour, cfg.Guardrails.ConsecutiveCleanWindowsForRecovery),
		logger:    logger,
		self:      NewSelfMonitor(0),
		signals:   NewSignalContract(),
		scannerQ:  NewScannerQueue(),
		executorQ: NewExecutorQueue(),
		statePath: statePath,
	}

	coordinator, skipped, err := ballast.NewCoordinator(cfg.Scanner.WatchedPaths, cfg.Ballast, fsTypeOf)
	if err != nil {
		return nil, fmt.Errorf("daemon: build ballast coordinator: %w", err)
	}
	for _, root := range skipped {
		log.Info("ballast: skipping unsupported filesystem", "root", root)
	}
	d.ballast = coordinator

	d.scheduler = voi.NewScheduler(cfg.Scanner.WatchedPaths, voi.Weights{KIO: 0.3, KFP: 0.5})

	for _, root := range cfg.Scanner.WatchedPaths {
		d.mounts[root] = d.newMountState(root)
	}

	d.restorePersistedState()

	return d, nil
}

// restorePersistedState warm-starts the VOI scheduler and every
// mount's guardrails tracker from the indexed store, if one is open.
// Without this, a restart resets scan statistics and e_log back to
// zero, which would let a crash-loop evade drift detection.
func (d *Daemon) restorePersistedState() {
	if d.logger == nil {
		return
	}
	store := d.logger.Store()
	if store == nil {
		return
	}

	voiRows, err := store.LoadVOIRootStats()
	if err != nil {
		log.Error(err, "failed to restore VOI scheduler state")
	} else {
		snapshots := make([]voi.Snapshot, 0, len(voiRows))
		for _, row := range voiRows {
			snapshots = append(snapshots, voi.Snapshot{
				Root:              row.Root,
				ExpectedReclaim:   row.ExpectedReclaim,
				IOCostEstimate:    row.IOCostEstimate,
				FalsePositiveRate: row.FalsePositiveRate,
				LastScanned:       row.LastScanned,
				ScanCount:         row.ScanCount,
			})
		}
		d.scheduler.Restore(snapshots)
	}

	guardRows, err := store.LoadGuardState()
	if err != nil {
		log.Error(err, "failed to restore guardrails state")
		return
	}
	for _, row := range guardRows {
		mount, ok := d.mounts[row.Mount]
		if !ok {
			continue
		}
		mount.guard.Restore(v1.GuardState{Status: row.Status, ELog: row.ELog})
	}
}

func (d *Daemon) newMountState(root string) *mountState {
	return &mountState{
		forecaster: forecast.New(),
		controller: pidctl.New(),
		guard:      guardrails.NewTracker(),
		gate:       safety.NewGate(d.config.Scanner.ProtectedGlobs, d.config.Scanner.RepeatDeletionBaseCooldownSecs, d.config.Scanner.RepeatDeletionMaxCooldownSecs),
		index:      scanner.NewIndex(),
	}
}

func parsePolicyMode(mode string) v1.PolicyMode {
	switch v1.PolicyMode(mode) {
	case v1.PolicyCanary, v1.PolicyEnforce, v1.PolicyFallbackSafe:
		return v1.PolicyMode(mode)
	default:
		return v1.PolicyObserve
	}
}

// Start launches the four supervised workers. It blocks until stop is
// closed or a worker exceeds its respawn budget; in the latter case the
// remaining workers are stopped and that worker's error is returned.
// Start does not write the state file; WriteState is not called from
// here or from any worker.
func (d *Daemon) Start(stop <-chan struct{}) error {
	d.signals.Listen()
	defer d.signals.Stop()

	d.workers = []*Worker{
		{Name: "monitor", Run: d.runMonitor},
		{Name: "scanner", Run: d.runScanner},
		{Name: "executor", Run: d.runExecutor},
		{Name: "logger", Run: d.runLoggerHeartbeat},
	}

	errCh := make(chan error, len(d.workers))
	workerStop := make(chan struct{})
	var stopOnce sync.Once
	stopWorkers := func() { stopOnce.Do(func() { close(workerStop) }) }
	go func() {
		select {
		case <-stop:
			stopWorkers()
		case <-workerStop:
		}
	}()
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			err := w.Supervise(workerStop, func(name string, at time.Time) {
				d.self.Heartbeat(name, at)
			})
			if err != nil {
				errCh <- err
				stopWorkers()
			}
		}(w)
	}

	wg.Wait()
	stopWorkers()
	close(errCh)
	for err := range errCh {
		return err
	}
	return nil
}

// runMonitor samples pressure across every configured root each
// cycle, steps the PID controller and forecaster per mount, and
// enqueues scan requests when warranted. Pressure monitoring must
// cover every watched root, never only the first.
func (d *Daemon) runMonitor(stop <-chan struct{}) error {
	cfg := d.snapshotConfig()
	interval := time.Duration(cfg.Monitor.SampleIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastTick := time.Now()
	for {
		select {
		case <-stop:
			return nil
		case <-d.signals.ReloadRequests():
			d.reloadConfig()
		case <-d.signals.ImmediateScanRequests():
			d.enqueueScans(true)
		case now := <-ticker.C:
			dt := now.Sub(lastTick)
			lastTick = now
			d.sampleAllRoots(now, dt)
			d.enqueueScans(false)
		}
	}
}

// sampleAllRoots iterates every watched root, never just the first,
// and updates each mount's forecaster, PID controller, and
// guardrails-driven policy demotion in turn.
func (d *Daemon) sampleAllRoots(now time.Time, dt time.Duration) {
	cfg := d.snapshotConfig()
	stats, err := d.probe.SampleAll(cfg.Scanner.WatchedPaths)
	if err != nil {
		log.Error(err, "monitor: sampling mounts failed")
		return
	}

	thresholds := pidctl.Thresholds{
		GreenPct:  cfg.Monitor.PressureGreenPct,
		YellowPct: cfg.Monitor.PressureYellowPct,
		OrangePct: cfg.Monitor.PressureOrangePct,
		RedPct:    cfg.Monitor.PressureRedPct,
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for root, mount := range d.mounts {
		mountStats, ok := stats[root]
		if !ok {
			continue
		}
		free := mountStats.Metric(cfg.ResolvedFreeMetric())
		estimate := mount.forecaster.Observe(now, free)

		freePct := 0.0
		if mountStats.TotalBytes > 0 {
			freePct = float64(free) / float64(mountStats.TotalBytes) * 100
		}
		targetPct := thresholds.GreenPct
		mount.urgency.Store(mount.controller.Step(targetPct, freePct, dt))

		observeGuardDrift(mount, mountStats, free, dt, thresholds)
		mount.lastEstimate = estimate
		mount.lastFree = free
		mount.hasLast = true

		level := pidctl.Classify(freePct, thresholds)
		guardState := mount.guard.Status()
		if guardState == v1.GuardFail {
			d.policy.ObserveGuardStatus(v1.GuardFail)
		} else if guardState == v1.GuardPass {
			d.policy.ObserveGuardStatus(v1.GuardPass)
		}
		if mount.guard.Alarmed() {
			d.policy.ObserveGuardAlarm()
			mount.guard.ResetOnRecovery()
		}

		d.persistGuardState(root, mount)

		d.logger.Log(v1.EventPressureSample, map[string]any{
			"root":  root,
			"level": level,
			"rate":  estimate,
		})

		if level == v1.PressureRed || level == v1.PressureCritical {
			report, err := d.ballast.ReleaseForUrgency(root, urgencyFor(level))
			if err != nil {
				log.Error(err, "monitor: ballast release failed", "root", root)
			} else if report.FilesReleased > 0 {
				d.logger.Log(v1.EventBallastOp, map[string]any{"root": root, "op": "release", "report": report})
			}
		}
	}
}

// observeGuardDrift compares what the forecaster predicted on the
// previous tick against what actually happened on this one, and folds
// the result into the mount's guardrails tracker. There is nothing to
// compare on a mount's first tick.
func observeGuardDrift(mount *mountState, mountStats v1.MountStats, free uint64, dt time.Duration, thresholds pidctl.Thresholds) {
	if !mount.hasLast || dt <= 0 {
		return
	}

	actualRate := -(float64(free) - float64(mount.lastFree)) / dt.Seconds()
	obs := guardrails.Observation{
		PredictedRateBps: mount.lastEstimate.RateBps,
		ActualRateBps:    actualRate,
	}

	redThresholdBytes := uint64(thresholds.RedPct / 100 * float64(mountStats.TotalBytes))
	if predictedTTE, ok := forecast.TimeToExhaustion(mount.lastEstimate, mount.lastFree, redThresholdBytes); ok {
		obs.PredictedTTE = predictedTTE.Seconds()
		obs.ActualTTE = dt.Seconds()
		obs.HadPrediction = true
	}

	mount.guard.Observe(obs)
}

// persistGuardState upserts one mount's current calibration status and
// e-process log to the indexed store, if one is open, so a restart
// resumes drift detection instead of starting over at e_log=0.
func (d *Daemon) persistGuardState(root string, mount *mountState) {
	if d.logger == nil {
		return
	}
	store := d.logger.Store()
	if store == nil {
		return
	}
	state := mount.guard.State()
	if err := store.UpsertGuardState(root, state.Status, state.ELog); err != nil {
		log.Error(err, "monitor: failed to persist guard state", "root", root)
	}
}

// calibrationFor converts the guardrails tracker's discrete status
// into the confidence scalar scoring.Score expects: full trust once
// the tracker has passed its calibration window, the configured floor
// once it has failed, and the midpoint while it has not yet seen
// enough observations to decide.
func calibrationFor(status v1.GuardStatus, floor float64) float64 {
	switch status {
	case v1.GuardPass:
		return 1.0
	case v1.GuardFail:
		return floor
	default:
		return (1 + floor) / 2
	}
}

func urgencyFor(level v1.PressureLevel) float64 {
	switch level {
	case v1.PressureCritical:
		return 1.0
	case v1.PressureRed:
		return 0.8
	case v1.PressureOrange:
		return 0.5
	default:
		return 0.1
	}
}

// enqueueScans asks the VOI scheduler which roots to scan this cycle
// and pushes a request for each into the scanner queue.
func (d *Daemon) enqueueScans(immediate bool) {
	budget := 5
	if immediate {
		budget = len(d.config.Scanner.WatchedPaths)
	}
	roots := d.scheduler.Plan(budget, time.Now())
	for _, root := range roots {
		d.scannerQ.Push(ScanRequest{Root: root, Immediate: immediate})
	}
}

// runScanner drains the scanner queue, walks each requested root,
// scores the resulting candidates, and hands anything the policy
// engine would allow deleting to the executor queue.
func (d *Daemon) runScanner(stop <-chan struct{}) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			for {
				req, ok := d.scannerQ.Pop()
				if !ok {
					break
				}
				d.scanOneRoot(req, stop)
			}
		}
	}
}

func (d *Daemon) scanOneRoot(req ScanRequest, stop <-chan struct{}) {
	cfg := d.snapshotConfig()
	start := time.Now()

	d.mu.RLock()
	mount := d.mounts[req.Root]
	d.mu.RUnlock()

	var protection *pattern.ProtectionRegistry
	if mount != nil {
		protection = mount.gate.Protection
	}

	walker := scanner.New(scanner.Config{
		RootPaths:     []string{req.Root},
		CrossDevice:   cfg.Scanner.CrossDevice,
		Parallelism:   cfg.Scanner.Parallelism,
		MaxDepth:      cfg.Scanner.MaxDepth,
		ExcludedPaths: excludedPathSet(cfg.Scanner.ExcludedPaths),
		Protection:    protection,
	})
	entries := walker.Walk()

	weights := scoring.WeightsFrom(cfg.Scoring.Weights)
	loss := scoring.LossModel{FalsePositive: cfg.Scoring.FalsePositiveLoss, FalseNegative: cfg.Scoring.FalseNegativeLoss}

	guardStatus := v1.GuardUnknown
	urgency := 0.0
	if mount != nil {
		guardStatus = mount.guard.Status()
		urgency = mount.urgency.Load()
	}

	guardPenalty := policy.GuardPenalty(guardStatus, cfg.Guardrails.MinScore)
	calibration := calibrationFor(guardStatus, cfg.Guardrails.CalibrationFloor)

	var candidates []v1.Candidate
	for _, e := range entries {
		age := effectiveAge(e, start)
		c := v1.Candidate{
			Path:             e.Path,
			SizeBytes:        e.Metadata.SizeBytes,
			DeviceID:         e.Metadata.DeviceID,
			Inode:            e.Metadata.Inode,
			EffectiveAgeSecs: age,
			LocationScore:    pattern.LocationScore(e.Path),
			NameScore:        pattern.NameScore(e.Path),
			AgeScore:         scoring.AgeScore(age),
			SizeScore:        scoring.SizeScore(e.Metadata.SizeBytes),
			StructureScore:   pattern.StructureScore(e.Children),
		}
		scored, outcome := scoring.Score(c, weights, urgency, calibration, loss, guardPenalty, 0.05, 0.2, 0.1, 0.6)
		scored.PosteriorAbandoned = outcome.Posterior
		candidates = append(candidates, scored)

		decisionID := scoring.NewDecisionID(e.Path, start.UnixNano())
		if outcome.Action == v1.ActionDelete && d.policy.AllowDeletion() {
			select {
			case <-stop:
				return
			default:
			}
			if !d.executorQ.Push(DeletionJob{Path: e.Path, Reason: decisionID, SizeBytes: e.Metadata.SizeBytes}, stop) {
				return
			}
		}
		d.logger.Log(v1.EventDecision, v1.Decision{
			DecisionID:         decisionID,
			CandidatePath:      e.Path,
			Action:             outcome.Action,
			ExpectedLossDelete: outcome.ExpectedLossDelete,
			ExpectedLossKeep:   outcome.ExpectedLossKeep,
			Posterior:          outcome.Posterior,
			Uncertainty:        outcome.Uncertainty,
			GuardPenalty:       guardPenalty,
			PolicyMode:         d.policy.Mode(),
			Timestamp:          start,
		})
	}

	ranked := scoring.Rank(candidates)
	d.scheduler.Observe(req.Root, time.Now(), estimatedReclaim(ranked), float64(time.Since(start).Milliseconds()), false)
	d.persistVOIStats(req.Root)
}

// persistVOIStats upserts req.Root's current scan-scheduler statistics
// to the indexed store, if one is open, so a restart warm-starts from
// the last known utility estimate instead of cold-start exploration.
func (d *Daemon) persistVOIStats(root string) {
	if d.logger == nil {
		return
	}
	store := d.logger.Store()
	if store == nil {
		return
	}
	snap, ok := d.scheduler.Snapshot(root)
	if !ok {
		return
	}
	if err := store.UpsertVOIRootStats(snap.Root, snap.ExpectedReclaim, snap.IOCostEstimate, snap.FalsePositiveRate, snap.LastScanned, snap.ScanCount); err != nil {
		log.Error(err, "scanner: failed to persist VOI stats", "root", root)
	}
}

// excludedPathSet adapts the configured slice of excluded paths into
// the set the walker expects for O(1) membership checks.
func excludedPathSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

// effectiveAge derives a candidate's age in seconds from its walk
// metadata, preferring birth time when the platform exposes one.
func effectiveAge(e scanner.Entry, now time.Time) float64 {
	reference := e.Metadata.Modified
	if e.Metadata.HasCreated && e.Metadata.Created.Before(reference) {
		reference = e.Metadata.Created
	}
	if reference.IsZero() {
		return 0
	}
	age := now.Sub(reference).Seconds()
	if age < 0 {
		return 0
	}
	return age
}

func estimatedReclaim(candidates []v1.Candidate) float64 {
	var total float64
	for _, c := range candidates {
		if c.CompositeScore > 0.5 {
			total += float64(c.SizeBytes)
		}
	}
	return total
}

// runExecutor drains deletion jobs, applies the safety gate, and
// performs the deletion if nothing vetoes it.
func (d *Daemon) runExecutor(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		case job := <-d.executorQ.Jobs():
			d.executeDeletion(job)
		}
	}
}

func (d *Daemon) executeDeletion(job DeletionJob) {
	openFDs := platform.DiscoverOpenFDs()

	d.mu.RLock()
	root, mount := d.mountForPath(job.Path)
	d.mu.RUnlock()
	if mount == nil {
		return
	}

	decision := mount.gate.Evaluate(job.Path, v1.PressureRed, openFDs)
	if !decision.Proceed {
		d.logger.Log(v1.EventError, map[string]any{"path": job.Path, "veto": decision.Reason})
		return
	}

	if err := d.policy.RecordDeletion(); err != nil {
		d.logger.Log(v1.EventError, map[string]any{"path": job.Path, "error": err.Error()})
		return
	}

	if err := os.RemoveAll(job.Path); err != nil {
		mount.gate.Breaker.RecordError()
		d.logger.Log(v1.EventError, map[string]any{"path": job.Path, "error": err.Error()})
		return
	}
	mount.gate.Breaker.RecordSuccess()
	mount.gate.Dampener.RecordDeletion(job.Path)

	d.logger.Log(v1.EventDeletion, v1.DeletionRecord{
		Path:       job.Path,
		Root:       root,
		SizeBytes:  job.SizeBytes,
		DecisionID: job.Reason,
		Timestamp:  time.Now(),
	})
}

func (d *Daemon) mountForPath(path string) (string, *mountState) {
	var bestRoot string
	var best *mountState
	bestLen := -1
	for root, m := range d.mounts {
		if len(root) > bestLen && hasPrefixPath(path, root) {
			best = m
			bestRoot = root
			bestLen = len(root)
		}
	}
	return bestRoot, best
}

func hasPrefixPath(path, root string) bool {
	if len(path) < len(root) {
		return false
	}
	return path[:len(root)] == root
}

// runLoggerHeartbeat periodically reports the activity logger's
// health; the logger's own intake channel and drop counter are owned
// by the activitylog package, not by this worker.
func (d *Daemon) runLoggerHeartbeat(stop <-chan struct{}) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			if dropped := d.logger.DroppedCount(); dropped > 0 {
				log.Info("activity logger has dropped events", "dropped", dropped)
			}
		}
	}
}

// WriteState publishes the current daemon snapshot to the state file,
// sampling process RSS as a side effect.
func (d *Daemon) WriteState() error {
	rss, overCeiling, err := d.self.SampleRSS()
	if err != nil {
		log.Error(err, "self-monitor: RSS sample failed")
	}
	if overCeiling {
		log.Info("self-monitor: RSS exceeds configured ceiling", "rssBytes", rss)
	}

	d.mu.RLock()
	cfg := d.config
	d.mu.RUnlock()

	state := v1.DaemonState{
		SchemaVersion:    v1.ConfigSchemaVersion,
		LastWriteInstant: time.Now(),
		FreeMetric:       cfg.ResolvedFreeMetric(),
		PressureByMount:  map[string]v1.PressureLevel{},
		RatesByMount:     map[string]v1.RateEstimate{},
		PolicyMode:       d.policy.Mode(),
		BallastInventory: map[string]int{},
		ThreadHealth:     d.self.ThreadHealth(),
		RSSBytes:         rss,
	}
	for _, root := range d.ballast.Roots() {
		pool := d.ballast.Pool(root)
		if pool != nil {
			state.BallastInventory[root] = len(pool.Inventory())
		}
	}

	return WriteStateFile(d.statePath, state)
}

// snapshotConfig returns a copy of the current config, safe to read
// without holding the lock across a long operation.
func (d *Daemon) snapshotConfig() v1.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// ReloadConfig replaces the config struct and rebuilds every mount's
// protection registry and dampener from it; values the workers read
// from the config each tick (PID thresholds, scoring weights, walker
// settings) follow from the next tick on. A newly watched path gets a
// mount state and is sampled for pressure, but it is not added to the
// VOI scan scheduler, so it is not scanned. The ballast coordinator is
// not rebuilt: ballast pools keep the settings they were created with
// in New.
func (d *Daemon) ReloadConfig(cfg v1.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.config = cfg

	for _, root := range cfg.Scanner.WatchedPaths {
		if _, ok := d.mounts[root]; !ok {
			d.mounts[root] = d.newMountState(root)
		}
	}
	for root, mount := range d.mounts {
		mount.gate.Protection = pattern.NewProtectionRegistry(cfg.Scanner.ProtectedGlobs)
		mount.gate.Dampener = safety.NewDampener(cfg.Scanner.RepeatDeletionBaseCooldownSecs, cfg.Scanner.RepeatDeletionMaxCooldownSecs)
		_ = root
	}
}

func (d *Daemon) reloadConfig() {
	log.Info("daemon: reload signal received, re-reading configuration")
	// The config file path and decode/validate pipeline live in
	// cmd/sbhd; ReloadConfig is the propagation half of that contract.
}
