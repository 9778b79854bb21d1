// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aidefender/agent-core/internal/agentloop"
	"github.com/aidefender/agent-core/internal/classify"
	"github.com/aidefender/agent-core/internal/config"
	"github.com/aidefender/agent-core/internal/event"
	"github.com/aidefender/agent-core/internal/eventsource"
	"github.com/aidefender/agent-core/internal/incidentstore"
	"github.com/aidefender/agent-core/internal/killswitch"
	"github.com/aidefender/agent-core/internal/license"
	"github.com/aidefender/agent-core/internal/response"
	"github.com/aidefender/agent-core/internal/threatfeed"
	"github.com/aidefender/agent-core/internal/verify"
)

const defaultConfigPath = "/etc/ai-defender/config.toml"

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	console := flag.Bool("console", false, "log to stderr in addition to the rolling log file")
	dryRun := flag.Bool("dry-run", false, "never touch the host firewall; log the commands that would run")
	showVersion := flag.Bool("version", false, "print the agent version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	logger := log.Default()
	if !*console {
		logger = log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}
	baseDir := config.BaseDir()

	var eff killswitch.Effector = killswitch.RealEffector{}
	if *dryRun {
		eff = killswitch.DryRunEffector{Logger: logger}
	}

	switch args[0] {
	case "killswitch":
		runKillswitch(args[1:], baseDir, cfg, eff)
	case "license":
		runLicense(args[1:], baseDir)
	case "feed":
		runFeed(args[1:], baseDir, cfg)
	case "incidents":
		runIncidents(args[1:], baseDir)
	case "simulate":
		runSimulate(args[1:], baseDir, cfg, eff, logger)
	case "run":
		runAgent(baseDir, cfg, eff, logger)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `ai-defender-agent [--config path] [--console] [--dry-run] <verb> ...

Verbs:
  run
  killswitch on|off|status|keep-locked <true|false>
  license status|install <license.json> <license.sig>|activate|deactivate
  feed status|import <bundle.json> <bundle.sig>|verify <bundle.json> <bundle.sig>|refresh-now|auto-refresh-status
  incidents list [--limit N]
  simulate red|file-access-chrome|net-connect|chain-red`)
}

func runKillswitch(args []string, baseDir string, cfg *config.Config, eff killswitch.Effector) {
	sm := killswitch.New(baseDir, cfg.KillSwitch.Enabled)
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "on":
		if err := sm.EnableManual(eff, time.Now()); err != nil {
			log.Fatalf("killswitch on: %v", err)
		}
		fmt.Println("kill switch enabled (manual)")
	case "off":
		if err := sm.DisableWithReason(eff, "operator_requested", ""); err != nil {
			log.Fatalf("killswitch off: %v", err)
		}
		fmt.Println("kill switch disabled")
	case "status":
		s, err := sm.Status()
		if err != nil {
			log.Fatalf("killswitch status: %v", err)
		}
		fmt.Printf("enabled=%v mode=%q keep_locked=%v failsafe_deadline_ms=%d last_incident_id=%q\n",
			s.Enabled, s.EnabledMode, s.KeepLocked, s.FailsafeDeadlineMs, s.LastIncidentID)
	case "keep-locked":
		if len(args) < 2 {
			log.Fatal("killswitch keep-locked requires a true|false argument")
		}
		v, err := strconv.ParseBool(args[1])
		if err != nil {
			log.Fatalf("killswitch keep-locked: %v", err)
		}
		if err := sm.SetKeepLocked(v); err != nil {
			log.Fatalf("killswitch keep-locked: %v", err)
		}
		fmt.Printf("keep_locked=%v\n", v)
	default:
		usage()
		os.Exit(2)
	}
}

func runLicense(args []string, baseDir string) {
	key, err := verify.DecodeKey(os.Getenv("AI_DEFENDER_LICENSE_KEY"))
	if err != nil {
		key = verify.LicenseVerifyingKeyPlaceholder
	}
	mgr := license.New(baseDir, key)
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "status":
		printLicenseStatus(mgr)
	case "install":
		if len(args) < 3 {
			log.Fatal("license install requires <license.json> <license.sig>")
		}
		if err := mgr.Install(args[1], args[2]); err != nil {
			log.Fatalf("license install: %v", err)
		}
		fmt.Println("license installed; run 'license activate' to bind it to this device")
	case "activate":
		st, err := mgr.Activate()
		if err != nil {
			log.Fatalf("license activate: %v", err)
		}
		printStatus(st)
	case "deactivate":
		st, err := mgr.Deactivate()
		if err != nil {
			log.Fatalf("license deactivate: %v", err)
		}
		printStatus(st)
	default:
		usage()
		os.Exit(2)
	}
}

func printLicenseStatus(mgr *license.Manager) {
	st, err := mgr.Status()
	if err != nil {
		log.Fatalf("license status: %v", err)
	}
	printStatus(st)
}

func printStatus(st *license.Status) {
	fmt.Printf("state=%s license_id=%q plan=%q seats=%d expires_s=%d reason=%q\n",
		st.State, st.LicenseID, st.Plan, st.Seats, st.ExpiresS, st.Reason)
}

func runFeed(args []string, baseDir string, cfg *config.Config) {
	key, err := verify.DecodeKey(os.Getenv("AI_DEFENDER_FEED_KEY"))
	if err != nil {
		key = verify.ThreatFeedVerifyingKeyPlaceholder
	}
	mgr := threatfeed.New(baseDir, key, Version)
	licenseMgr := license.New(baseDir, verify.LicenseVerifyingKeyPlaceholder)
	licenseActive := func() bool {
		st, err := licenseMgr.Status()
		return err == nil && st.State == license.ProActive
	}

	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "status":
		b, err := mgr.LoadCurrent()
		if err != nil {
			log.Fatalf("feed status: %v", err)
		}
		fmt.Printf("bundle_id=%s created_at_s=%d rules_version=%d rules=%d\n",
			b.BundleID, b.CreatedAtS, b.RulesVersion, len(b.Rules))
	case "import":
		if len(args) < 3 {
			log.Fatal("feed import requires <bundle.json> <bundle.sig>")
		}
		if err := mgr.Import(args[1], args[2]); err != nil {
			log.Fatalf("feed import: %v", err)
		}
		fmt.Println("threat feed imported")
	case "verify":
		if len(args) < 3 {
			log.Fatal("feed verify requires <bundle.json> <bundle.sig>")
		}
		b, err := mgr.VerifyFiles(args[1], args[2])
		if err != nil {
			log.Fatalf("feed verify: %v", err)
		}
		fmt.Printf("valid bundle_id=%s rules_version=%d\n", b.BundleID, b.RulesVersion)
	case "refresh-now":
		if err := mgr.RefreshNow(cfg.ThreatFeed, licenseActive()); err != nil {
			log.Fatalf("feed refresh-now: %v", err)
		}
		fmt.Println("threat feed refreshed")
	case "auto-refresh-status":
		eligible := threatfeed.AutoRefreshEligibility(cfg.ThreatFeed, licenseActive())
		fmt.Printf("eligible=%v auto_refresh=%v interval_minutes=%d\n", eligible, cfg.ThreatFeed.AutoRefresh, cfg.ThreatFeed.RefreshIntervalMinutes)
	default:
		usage()
		os.Exit(2)
	}
}

func runIncidents(args []string, baseDir string) {
	fs := flag.NewFlagSet("incidents", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum number of incidents to list")
	if len(args) == 0 || args[0] != "list" {
		usage()
		os.Exit(2)
	}
	fs.Parse(args[1:])

	store := incidentstore.New(baseDir)
	summaries, err := store.ListRecent(*limit)
	if err != nil {
		log.Fatalf("incidents list: %v", err)
	}
	for _, s := range summaries {
		fmt.Printf("%s\tseverity=%s\tactions=%v\tcreated_at_ms=%d\n", s.IncidentID, s.Severity, s.ActionsTaken, s.CreatedAtMs)
	}
}

// runSimulate injects a synthetic event chain through a one-shot
// detection/response pass, for operator smoke-testing without a real
// browser process on the host.
func runSimulate(args []string, baseDir string, cfg *config.Config, eff killswitch.Effector, logger *log.Logger) {
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	classifier := classify.New(classify.ResolveRoots(), cfg.Protected)
	sm := killswitch.New(baseDir, cfg.KillSwitch.Enabled)
	store := incidentstore.New(baseDir)
	responder := response.New(cfg, sm, store, eff, logger)
	source := eventsource.NewMemorySource()
	feedMgr := threatfeed.New(baseDir, verify.ThreatFeedVerifyingKeyPlaceholder, Version)
	licenseMgr := license.New(baseDir, verify.LicenseVerifyingKeyPlaceholder)
	loop := agentloop.New(cfg, classifier, sm, eff, source, responder, licenseMgr, threatfeed.NewScheduler(feedMgr), nil, logger)

	now := time.Now()
	nowMs := now.UnixMilli()
	const pid = 4242
	const imagePath = `C:\Users\Default\AppData\Local\Temp\evil.exe`
	chromeLoginData := `C:\Users\Default\AppData\Local\Google\Chrome\User Data\Default\Login Data`

	switch args[0] {
	case "file-access-chrome":
		source.Inject(event.FileAccessEvent(pid, imagePath, chromeLoginData, event.AccessRead, nowMs))
	case "net-connect":
		source.Inject(event.NetConnectEvent(pid, imagePath, "203.0.113.7", 443, "evil.example.com", "tcp", nowMs))
	case "chain-red", "red":
		source.Inject(event.FileAccessEvent(pid, imagePath, chromeLoginData, event.AccessRead, nowMs))
		source.Inject(event.NetConnectEvent(pid, imagePath, "203.0.113.7", 443, "evil.example.com", "tcp", nowMs+500))
	default:
		usage()
		os.Exit(2)
	}

	loop.Tick(now)
	fmt.Println("simulation injected; inspect `incidents list` for the resulting incident")
}

// activeRuleIDs reports the enabled rule IDs of the currently installed
// threat-feed bundle, used by the agent loop to decide whether a
// requested strict mode has any rule to enforce (spec §4.K).
func activeRuleIDs(feedMgr *threatfeed.Manager, logger *log.Logger) []string {
	bundle, err := feedMgr.LoadCurrent()
	if err != nil {
		logger.Printf("no threat-feed bundle available at startup: %v", err)
		return nil
	}
	var ids []string
	for _, r := range bundle.Rules {
		if r.Enabled {
			ids = append(ids, r.RuleID)
		}
	}
	return ids
}

func runAgent(baseDir string, cfg *config.Config, eff killswitch.Effector, logger *log.Logger) {
	logger.Println("AI-Defender agent starting")

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		logger.Fatalf("create base directory %s: %v", baseDir, err)
	}

	classifier := classify.New(classify.ResolveRoots(), cfg.Protected)
	sm := killswitch.New(baseDir, cfg.KillSwitch.Enabled)
	store := incidentstore.New(baseDir)
	responder := response.New(cfg, sm, store, eff, logger)
	licenseMgr := license.New(baseDir, verify.LicenseVerifyingKeyPlaceholder)
	feedMgr := threatfeed.New(baseDir, verify.ThreatFeedVerifyingKeyPlaceholder, Version)
	feedSched := threatfeed.NewScheduler(feedMgr)
	source := eventsource.NewPlatformSource(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sm.ReconcileOnStartup(eff, time.Now()); err != nil {
		logger.Printf("reconcile_on_startup: %v", err)
	}

	loop := agentloop.New(cfg, classifier, sm, eff, source, responder, licenseMgr, feedSched, activeRuleIDs(feedMgr, logger), logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	stop := make(chan struct{})
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %s, shutting down", sig)
		close(stop)
		cancel()
	}()

	loop.Run(ctx, stop)
	logger.Println("AI-Defender agent stopped")
}
