package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog   zerolog.Logger
	diagFile  *os.File
	transFile *os.File
	logMu     sync.Mutex
	logReady  bool
	pid       int
	dir       string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: HERALD_LOG_PATH environment variable
	envPath := os.Getenv("HERALD_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transPath := filepath.Join(dir, "transcript_log.txt")
	transFile, err = os.OpenFile(transPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transFile != nil {
		transFile.Close()
		transFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// SessionState records a voice session state transition.
func SessionState(sessionID, from, to string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("from", from).
		Str("to", to).
		Msg("voice_state")
}

// SessionMetrics records the capture-to-dispatch latency span of one session.
func SessionMetrics(sessionID string, captureMs, recognizeMs, totalMs, confidence float64) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Float64("capture_ms", captureMs).
		Float64("recognize_ms", recognizeMs).
		Float64("total_ms", totalMs).
		Float64("confidence", confidence).
		Msg("voice_session")
}

// TranscriptText appends the final transcript to the transcript log file.
func TranscriptText(text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	transFile.WriteString(line)
}

// Mutation records a mutation queue lifecycle event.
func Mutation(event, mutationID, entityID, status string, attempt int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("mutation", mutationID).
		Str("entity", entityID).
		Str("status", status).
		Int("attempt", attempt).
		Msg(event)
}

// Transport records a connection state change.
func Transport(state string, attempt int, nextDelayMs int64) {
	if !logReady {
		return
	}
	ev := diagLog.Info().Str("state", state)
	if attempt > 0 {
		ev = ev.Int("attempt", attempt).Int64("next_delay_ms", nextDelayMs)
	}
	ev.Msg("transport")
}

// Optimizer records a pipeline profile switch.
func Optimizer(profile string, p95Ms float64) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("profile", profile).
		Float64("p95_ms", p95Ms).
		Msg("optimizer_switch")
}
