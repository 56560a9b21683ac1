// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Command sbhd is the sbh disk-pressure daemon. It samples free
// space, scores reclaim candidates, and deletes them under policy
// control, publishing its state and metrics for sbhctl and
// Prometheus to read.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudnative-pg/machinery/pkg/log"

	"github.com/sbh-io/sbh/internal/activitylog"
	"github.com/sbh-io/sbh/internal/cli"
	"github.com/sbh-io/sbh/internal/daemon"
	"github.com/sbh-io/sbh/internal/platform"
	"github.com/sbh-io/sbh/internal/policy"
)

func main() {
	var (
		configPath  = flag.String("config", "/etc/sbh/config.yaml", "path to the sbh config file")
		statePath   = flag.String("state", "/var/lib/sbh/state.json", "path to write the daemon's published state")
		storePath   = flag.String("store", "/var/lib/sbh/activity.db", "path to the indexed activity store")
		journalPath = flag.String("journal", "/var/lib/sbh/activity.journal", "path to the append-only activity journal")
		metricsAddr = flag.String("metrics-addr", ":9090", "address to serve Prometheus metrics on")
	)
	flag.Parse()

	if err := run(*configPath, *statePath, *storePath, *journalPath, *metricsAddr); err != nil {
		log.Error(err, "sbhd: fatal")
		os.Exit(1)
	}
}

func run(configPath, statePath, storePath, journalPath, metricsAddr string) error {
	cfg, err := cli.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, storeErr := activitylog.OpenStore(storePath)
	if storeErr != nil {
		log.Error(storeErr, "sbhd: indexed store unavailable at startup, degrading")
	}
	journal, journalErr := activitylog.OpenJournal(journalPath)
	if journalErr != nil {
		log.Error(journalErr, "sbhd: journal unavailable at startup, degrading")
	}
	chain := activitylog.NewChain(store, storePath, journal, journalPath)
	logger := activitylog.NewLogger(chain)
	defer logger.Stop()

	d, err := daemon.New(cfg, statePath, logger, platform.FSTypeOf)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(policy.Collector())
	for _, c := range daemon.Collectors() {
		registry.MustRegister(c)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "sbhd: metrics server exited")
		}
	}()
	defer metricsSrv.Close()

	stop := make(chan struct{})
	go watchConfigFile(configPath, d, stop)
	go watchReloadSignal(configPath, d, stop)

	return d.Start(stop)
}

// watchConfigFile reloads configuration whenever configPath changes
// on disk, so operators can edit the file directly without sending a
// signal.
func watchConfigFile(configPath string, d *daemon.Daemon, stop chan struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error(err, "sbhd: config watcher unavailable, falling back to SIGHUP-only reload")
		return
	}
	defer watcher.Close()

	if err := watcher.Add(configPath); err != nil {
		log.Error(err, "sbhd: failed to watch config file")
		return
	}

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create) {
				reloadFromDisk(configPath, d)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error(err, "sbhd: config watcher error")
		case <-stop:
			return
		}
	}
}

// watchReloadSignal reloads configuration on SIGHUP, for operators
// who prefer a signal over a file edit (and for container runtimes
// that send SIGHUP on config map updates without necessarily
// triggering an inotify event the watcher above would catch).
func watchReloadSignal(configPath string, d *daemon.Daemon, stop chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-sigCh:
			reloadFromDisk(configPath, d)
		case <-stop:
			return
		}
	}
}

func reloadFromDisk(configPath string, d *daemon.Daemon) {
	cfg, err := cli.LoadConfig(configPath)
	if err != nil {
		log.Error(err, "sbhd: reload: failed to read config")
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Error(err, "sbhd: reload: config failed validation, keeping previous config")
		return
	}
	d.ReloadConfig(cfg)
	log.Info("sbhd: configuration reloaded")
}
