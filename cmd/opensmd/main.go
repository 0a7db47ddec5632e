package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/degremont/pcocc"
	"github.com/degremont/pcocc/pkg/deferer"
	"github.com/degremont/pcocc/pkg/kv"
	_ "github.com/degremont/pcocc/pkg/kv/consul"
	_ "github.com/degremont/pcocc/pkg/kv/etcd"
	"github.com/degremont/pcocc/pkg/sd"
	"github.com/degremont/pcocc/pkg/watcher"
	logx "github.com/mistifyio/mistify-logrus-ext"
	flag "github.com/ogier/pflag"
	log "github.com/sirupsen/logrus"
)

func updateConfig(ctx *pcocc.Context, sm *pcocc.SubnetManager) error {
	entries, err := pcocc.FetchPKeyEntries(ctx)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"func":  "pcocc.FetchPKeyEntries",
		}).Error("could not fetch pkey entries")
		return err
	}

	if err := sm.WriteConfig(entries); err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"path":  sm.PartitionCfg,
		}).Error("could not write partition config")
		return err
	}

	if err := sm.SignalDaemon(); err != nil {
		log.WithFields(log.Fields{
			"error":  err,
			"daemon": sm.Daemon,
		}).Error("could not signal subnet manager")
		return err
	}

	log.WithFields(log.Fields{
		"path":       sm.PartitionCfg,
		"partitions": len(entries),
	}).Info("refreshed partition config")
	return nil
}

func main() {
	d := deferer.NewDeferer(nil)
	defer d.Run()

	var kvAddr, confDir, network, logLevel string
	var force bool

	flag.StringVarP(&kvAddr, "kv", "k", "http://127.0.0.1:4001", "address of kv machine")
	flag.StringVarP(&confDir, "config", "c", pcocc.SystemConfigDir, "system configuration directory")
	flag.StringVarP(&network, "network", "n", "", "infiniband network to manage")
	flag.BoolVarP(&force, "force", "f", false, "refresh the config once and exit")
	flag.StringVarP(&logLevel, "log-level", "l", "warning", "log level: debug/info/warning/error/critical/fatal")
	flag.Parse()

	if err := logx.DefaultSetup(logLevel); err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"func":  "logx.DefaultSetup",
		}).Fatal("could not set up logrus")
	}

	store, err := pcocc.LoadConfigDirs(confDir, "")
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
			"dir":   confDir,
		}).Fatal("could not load configuration")
	}

	netDef, err := store.Network(network)
	if err != nil {
		log.WithFields(log.Fields{
			"error":   err,
			"network": network,
		}).Fatal("could not find network")
	}
	if netDef.Type != pcocc.NetworkInfiniband {
		log.WithField("network", network).Fatal("network is not an infiniband network")
	}
	sm := pcocc.NewSubnetManager(netDef.Infiniband)

	store2, err := kv.New(kvAddr)
	if err != nil {
		log.WithFields(log.Fields{
			"addr":  kvAddr,
			"error": err,
			"func":  "kv.New",
		}).Fatal("unable to connect to kv")
	}
	ctx := pcocc.NewContext(store2)

	if force {
		if err := updateConfig(ctx, sm); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	w, err := watcher.New(store2)
	if err != nil {
		d.FatalWithFields(log.Fields{
			"error": err,
			"func":  "watcher.New",
		}, "could not create watcher")
	}
	d.Defer(func() { _ = w.Close() })
	if err := w.Add(pcocc.OpenSMPKeyPath); err != nil {
		d.FatalWithFields(log.Fields{
			"error":  err,
			"prefix": pcocc.OpenSMPKeyPath,
		}, "could not add watch prefix")
	}

	// Write a config for whatever is already published before waiting for
	// changes
	_ = updateConfig(ctx, sm)

	// systemd watchdog heartbeat, if enabled
	if ttl, err := sd.WatchdogEnabled(); err == nil && ttl > 0 {
		go func() {
			for range time.Tick(ttl / 2) {
				_ = sd.Notify("WATCHDOG=1")
			}
		}()
	}
	_ = sd.Notify("READY=1")

	// Channel for indicating work in progress
	// (to coordinate clean exiting between the consumer and the signal handler)
	ready := make(chan struct{}, 1)
	ready <- struct{}{}

	go func() {
		for w.Next() {
			done := <-ready
			_ = updateConfig(ctx, sm)
			ready <- done
		}
		if err := w.Err(); err != nil {
			log.WithField("error", err).Fatal("watcher encountered an error")
		}
	}()

	// Handle signals for clean shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	s := <-sigs
	log.WithField("signal", s).Info("signal received; waiting for current refresh")
	<-ready
	_ = w.Close()
	log.Info("exiting")
}
