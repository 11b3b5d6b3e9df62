package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"herald/audio"
	"herald/command"
	"herald/config"
	"herald/doctor"
	"herald/log"
	"herald/permission"
	"herald/queue"
	"herald/shutdown"
	"herald/speech"
	"herald/syncer"
	"herald/transport"
	"herald/voice"
	"herald/wake"
)

var version = "dev"

func main() {
	run()
}

func run() {
	configFlag := flag.String("config", "", "Config file path (default: OS config dir)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	testFlag := flag.String("test", "", "Test mode: replay WAV file, drive sessions from stdin")
	crashFlag := flag.Bool("crash", false, "Trigger synthetic panic for testing crash logging")
	flag.Parse()

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *crashFlag {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if *versionFlag {
		fmt.Printf("herald %s\n", version)
		os.Exit(0)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	if *doctorFlag {
		os.Exit(doctor.Run(configPath))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	log.Info("herald " + version + " starting")

	recognizer, err := speech.New(recognizerEndpoint(cfg.Server.Endpoint), cfg.Server.AuthToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Durable mutation queue; rehydrates before anything touches the network.
	storePath := cfg.Sync.StorePath
	if storePath == "" {
		storePath = defaultStorePath()
	}
	if err := os.MkdirAll(filepath.Dir(storePath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: create store directory: %v\n", err)
		os.Exit(1)
	}
	store, err := queue.Open(storePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open mutation store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := transport.NewWSChannel(transport.Options{
		Endpoint:   syncEndpoint(cfg.Server.Endpoint),
		AuthToken:  cfg.Server.AuthToken,
		BackoffMin: cfg.Sync.BackoffMin,
		BackoffMax: cfg.Sync.BackoffMax,
	})
	if cfg.Server.Endpoint != "" {
		if err := channel.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: start transport: %v\n", err)
			os.Exit(1)
		}
		defer channel.Stop()
	} else {
		log.Warn("no server endpoint configured: queueing offline until paired")
	}

	engine := syncer.New(syncer.Config{
		MaxAttempts: cfg.Sync.MaxAttempts,
		SendTimeout: cfg.Sync.SendTimeout,
	}, store, channel)
	go engine.Run(ctx)

	// Microphone: real device, or WAV replay in test mode.
	var audioCtx audio.Context
	if *testFlag != "" {
		audioCtx, err = audio.NewFakeContext(*testFlag, true)
	} else {
		audioCtx, err = audio.NewContext()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: audio init: %v\n", err)
		os.Exit(1)
	}
	defer audioCtx.Close()

	dev, err := selectDevice(audioCtx, *deviceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	capture, err := audioCtx.NewCapture(dev, audio.CaptureConfig{
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open capture: %v\n", err)
		os.Exit(1)
	}
	defer capture.Close()
	log.Info("capture device: " + capture.DeviceName())

	detector, err := wake.NewPhraseDetector(cfg.Voice.WakePhrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: wake detector: %v\n", err)
		os.Exit(1)
	}
	activity, err := wake.NewVoiceActivity()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: voice activity: %v\n", err)
		os.Exit(1)
	}

	gate := permission.NewGate(platformAuthorizer())

	controller := voice.NewController(
		voice.Config{
			Language:        cfg.Voice.Language,
			CaptureTimeout:  cfg.Voice.CaptureTimeout,
			Cooldown:        cfg.Voice.Cooldown,
			TrailingSilence: cfg.Voice.TrailingSilence,
		},
		gate,
		wake.NewListener(capture, detector),
		capture,
		recognizer,
		command.NewInterpreter(command.Thresholds{
			General:     cfg.Voice.ConfidenceGeneral,
			Destructive: cfg.Voice.ConfidenceDestructive,
		}),
		engine,
		voice.NewOptimizer(cfg.Voice.LatencyTargetHigh, cfg.Voice.LatencyTargetLow, cfg.Voice.LatencyWindow),
		activity,
	)
	go func() {
		if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("voice controller: %v", err)
		}
	}()

	go printEvents(controller, engine)

	if *testFlag != "" {
		runTestMode(controller, capture)
		return
	}

	sig := make(chan os.Signal, 1)
	shutdown.Notify(sig)
	<-sig
	log.Info("shutting down")
	cancel()
}

// printEvents mirrors the observable streams onto stdout for headless runs.
func printEvents(controller *voice.Controller, engine *syncer.Engine) {
	sessions, cancelSessions := controller.Sessions()
	defer cancelSessions()
	navs, cancelNavs := controller.Navigations()
	defer cancelNavs()
	failures, cancelFailures := engine.Failures()
	defer cancelFailures()

	for {
		select {
		case s, ok := <-sessions:
			if !ok {
				return
			}
			if s.State == voice.StateCooldown && s.Transcript != "" {
				fmt.Printf("» %s\n", s.Transcript)
			}
		case dest := <-navs:
			fmt.Printf("navigate: %s\n", dest)
		case f := <-failures:
			fmt.Printf("sync failure: %s %s on %s: %s\n",
				f.Mutation.Operation, f.Mutation.ID, f.Mutation.EntityID, f.Reason)
		}
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "herald.toml"
	}
	return filepath.Join(dir, "herald", "config.toml")
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "herald-queue.db"
	}
	return filepath.Join(dir, "herald", "queue.db")
}

// recognizerEndpoint derives the speech streaming URL from the paired server
// endpoint.
func recognizerEndpoint(server string) string {
	if server == "" {
		return ""
	}
	return wsURL(server) + "/v1/recognize"
}

func syncEndpoint(server string) string {
	if server == "" {
		return ""
	}
	return wsURL(server) + "/v1/sync"
}

func wsURL(server string) string {
	switch {
	case len(server) > 8 && server[:8] == "https://":
		return "wss://" + server[8:]
	case len(server) > 7 && server[:7] == "http://":
		return "ws://" + server[7:]
	default:
		return server
	}
}
