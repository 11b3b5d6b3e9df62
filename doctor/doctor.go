// Package doctor runs preflight diagnostics: can the process capture audio,
// reach its configuration, open the mutation store and write its logs.
package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"herald/audio"
	"herald/config"
	"herald/log"
	"herald/queue"
	"herald/wake"
)

// Run executes the checks and returns an exit code (0=all pass, 1=any fail).
func Run(configPath string) int {
	fmt.Println("herald doctor - system diagnostics")
	fmt.Println("==================================")

	allPass := true
	for _, check := range []struct {
		name string
		fn   func() bool
	}{
		{"Configuration", func() bool { return checkConfig(configPath) }},
		{"Log directory", checkLogDir},
		{"Mutation store", checkStore},
		{"Microphone", checkMicrophone},
	} {
		fmt.Printf("\n[%s]\n", check.name)
		if !check.fn() {
			allPass = false
		}
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func checkConfig(path string) bool {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	if cfg.Server.Endpoint == "" {
		fmt.Println("  WARN: no server endpoint (unpaired); sync will stay offline")
	} else {
		fmt.Printf("  PASS: server %s\n", cfg.Server.Endpoint)
	}
	fmt.Printf("  PASS: wake phrase %q, thresholds %.2f/%.2f\n",
		cfg.Voice.WakePhrase, cfg.Voice.ConfidenceGeneral, cfg.Voice.ConfidenceDestructive)
	return true
}

func checkLogDir() bool {
	dir, err := log.ResolveDir("")
	if err != nil {
		fmt.Printf("  FAIL: resolve: %v\n", err)
		return false
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Printf("  FAIL: create %s: %v\n", dir, err)
		return false
	}
	probe := filepath.Join(dir, ".doctor_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		fmt.Printf("  FAIL: %s not writable: %v\n", dir, err)
		return false
	}
	os.Remove(probe)
	fmt.Printf("  PASS: %s writable\n", dir)
	return true
}

func checkStore() bool {
	dir, err := os.MkdirTemp("", "herald-doctor")
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	defer os.RemoveAll(dir)

	s, err := queue.Open(filepath.Join(dir, "probe.db"))
	if err != nil {
		fmt.Printf("  FAIL: open sqlite store: %v\n", err)
		return false
	}
	defer s.Close()

	if _, err := s.Enqueue("doctor", queue.OpCreate, map[string]string{"probe": "1"}, nil); err != nil {
		fmt.Printf("  FAIL: write: %v\n", err)
		return false
	}
	fmt.Println("  PASS: sqlite store reads and writes")
	return true
}

func checkMicrophone() bool {
	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: enumerate devices: %v\n", err)
		return false
	}
	for _, d := range devices {
		fmt.Printf("  device: %s\n", d.Name)
	}

	capture, err := ctx.NewCapture(nil, audio.CaptureConfig{
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
	})
	if err != nil {
		fmt.Printf("  FAIL: open capture: %v\n", err)
		return false
	}
	defer capture.Close()

	activity, err := wake.NewVoiceActivity()
	if err != nil {
		fmt.Printf("  FAIL: voice activity: %v\n", err)
		return false
	}

	fmt.Println("  Say something within 5 seconds...")
	var speechFrames atomic.Int64
	capture.SetCallback(func(data []byte, _ uint32) {
		s, _ := activity.Process(data)
		speechFrames.Add(int64(s))
	})
	if err := capture.Start(); err != nil {
		fmt.Printf("  FAIL: start capture: %v\n", err)
		return false
	}
	time.Sleep(5 * time.Second)
	capture.Stop()
	capture.ClearCallback()

	if !activity.VoiceDetected() {
		fmt.Println("  WARN: no sustained speech detected (silent mic?)")
		return true
	}
	fmt.Printf("  PASS: speech detected (%d frames)\n", speechFrames.Load())
	return true
}
