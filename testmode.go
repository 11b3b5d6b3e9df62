package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"herald/audio"
	"herald/log"
	"herald/voice"
)

// runTestMode drives the controller from stdin while the fake capture device
// replays a WAV file. Commands, one per line:
//
//	ACTIVATE        trigger a session (manual activation path)
//	WAIT            block until the current session finishes
//	WAIT_AUDIO_DONE block until the WAV has been fully replayed
//	SLEEP <ms>      pause the driver
//	QUIT            exit
func runTestMode(controller *voice.Controller, capture audio.CaptureDevice) {
	fakeCapture, ok := capture.(*audio.FakeCapture)
	if !ok {
		fmt.Fprintln(os.Stderr, "test mode requires the WAV replay capture device")
		os.Exit(1)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch cmd {
		case "ACTIVATE":
			if err := controller.Activate(); err != nil {
				log.Errorf("test activate: %v", err)
			}
		case "WAIT":
			for !controller.Active() {
				time.Sleep(5 * time.Millisecond)
			}
			for controller.Active() {
				time.Sleep(5 * time.Millisecond)
			}
		case "WAIT_AUDIO_DONE":
			<-fakeCapture.AudioDone()
		case "QUIT":
			os.Exit(0)
		default:
			if strings.HasPrefix(cmd, "SLEEP ") {
				if ms, err := strconv.Atoi(cmd[6:]); err == nil {
					time.Sleep(time.Duration(ms) * time.Millisecond)
				}
			}
		}
	}
}
