package voice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"herald/audio"
	"herald/command"
	"herald/log"
	"herald/permission"
	"herald/speech"
	"herald/stream"
	"herald/wake"
)

var ErrSessionActive = errors.New("voice: a session is already active")

// wakeRetryDelay spaces retries when the wake listener cannot open the
// microphone, typically because another process briefly holds the device.
const wakeRetryDelay = 500 * time.Millisecond

// Config is the controller's slice of the voice configuration.
type Config struct {
	Language        string
	CaptureTimeout  time.Duration
	Cooldown        time.Duration
	TrailingSilence time.Duration
}

// WakeSource is the trigger phrase monitor. It owns the microphone while
// listening and must release it on Stop.
type WakeSource interface {
	Start() error
	Stop()
	Rearm()
	Events() <-chan wake.Event
}

// Activity classifies capture audio as speech or silence.
type Activity interface {
	Process(pcm []byte) (speech, silence int)
	Reset()
}

// Dispatcher consumes interpreted commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) error
}

// Controller is the voice command state machine. Run drives it; everything
// session-related happens on Run's goroutine, which is what guarantees that
// only one session exists at a time.
type Controller struct {
	cfg        Config
	gate       *permission.Gate
	wake       WakeSource
	capture    audio.CaptureDevice
	recognizer speech.Recognizer
	interp     *command.Interpreter
	dispatcher Dispatcher
	opt        *Optimizer
	activity   Activity

	sessions    *stream.Hub[Session]
	navigations *stream.Hub[string]
	manual      chan struct{}
	active      atomic.Bool

	mu            sync.Mutex
	cancelSession context.CancelFunc
}

func NewController(
	cfg Config,
	gate *permission.Gate,
	wakeSrc WakeSource,
	capture audio.CaptureDevice,
	recognizer speech.Recognizer,
	interp *command.Interpreter,
	dispatcher Dispatcher,
	opt *Optimizer,
	activity Activity,
) *Controller {
	return &Controller{
		cfg:         cfg,
		gate:        gate,
		wake:        wakeSrc,
		capture:     capture,
		recognizer:  recognizer,
		interp:      interp,
		dispatcher:  dispatcher,
		opt:         opt,
		activity:    activity,
		sessions:    stream.NewHub[Session](),
		navigations: stream.NewHub[string](),
		manual:      make(chan struct{}, 1),
	}
}

// Sessions streams session snapshots on every state change.
func (c *Controller) Sessions() (<-chan Session, func()) { return c.sessions.Subscribe() }

// Navigations streams destinations from interpreted navigate commands; the
// presentation layer routes them.
func (c *Controller) Navigations() (<-chan string, func()) { return c.navigations.Subscribe() }

// Active reports whether a session is currently away from idle.
func (c *Controller) Active() bool { return c.active.Load() }

// Activate triggers a session without the wake phrase, the manual tap path.
// Refused while another session is active.
func (c *Controller) Activate() error {
	if c.active.Load() {
		return ErrSessionActive
	}
	select {
	case c.manual <- struct{}{}:
		return nil
	default:
		return ErrSessionActive
	}
}

// Cancel aborts the in-flight session, if any. A session cancelled before
// dispatch never dispatches.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancelSession
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run drives the state machine until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	defer c.publishBare(StateIdle)

	for ctx.Err() == nil {
		if !c.gate.IsFullyAuthorized() {
			if err := c.awaitAuthorization(ctx); err != nil {
				return err
			}
			continue
		}

		if err := c.wake.Start(); err != nil {
			log.Errorf("voice: start wake listener: %v", err)
			c.publishBare(StateError)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wakeRetryDelay):
			}
			continue
		}
		c.publishBare(StateWakeListening)

		select {
		case <-ctx.Done():
			c.wake.Stop()
			return ctx.Err()
		case ev := <-c.wake.Events():
			c.runSession(ctx, ev.Tail)
		case <-c.manual:
			c.runSession(ctx, nil)
		}
		c.wake.Rearm()
	}
	return ctx.Err()
}

// awaitAuthorization holds in PermissionRequired, asks the platform once,
// then waits for grants to change. Wake detection never runs ungated.
func (c *Controller) awaitAuthorization(ctx context.Context) error {
	c.publishBare(StatePermissionRequired)

	snap, err := c.gate.RequestAuthorization(ctx)
	if err != nil {
		return err
	}
	if snap.FullyAuthorized() {
		return nil
	}

	updates, cancel := c.gate.Updates()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-updates:
			if snap.FullyAuthorized() {
				return nil
			}
		case <-time.After(time.Second):
			// the platform does not push revocation or settings-app grants;
			// poll for them
			if c.gate.IsFullyAuthorized() {
				return nil
			}
		}
	}
}

// runSession executes one activation through dispatch and cooldown. tail is
// audio captured around the wake phrase, fed to the recognizer first so the
// leading words survive the microphone handoff.
func (c *Controller) runSession(ctx context.Context, tail []byte) {
	c.active.Store(true)
	defer c.active.Store(false)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancelSession = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancelSession = nil
		c.mu.Unlock()
	}()

	sess := Session{
		ID:          newSessionID(),
		State:       StateIdle,
		StartedAt:   time.Now(),
		Permissions: c.gate.Snapshot(),
	}
	c.transition(&sess, StateActivated)

	c.wake.Stop()

	profile := c.opt.Profile()
	rec, err := c.recognizer.NewSession(sctx, speech.Config{
		Language:   c.cfg.Language,
		LowLatency: profile == ProfileLowLatency,
	})
	if err != nil {
		c.fail(&sess, err)
		return
	}
	if len(tail) > 0 {
		rec.Feed(tail)
	}

	captureStart := time.Now()
	if !c.capturePhase(sctx, &sess, rec) {
		// cancelled mid-capture: close the recognizer and walk away
		_, _ = rec.Close()
		c.cooldown(ctx, &sess)
		return
	}
	captureDur := time.Since(captureStart)

	c.transition(&sess, StateRecognizing)
	recognizeStart := time.Now()
	res, err := rec.Close()
	recognizeDur := time.Since(recognizeStart)
	if err != nil {
		c.fail(&sess, err)
		return
	}
	if res.NoSpeech {
		log.Info("session ended without speech")
		c.cooldown(ctx, &sess)
		return
	}
	sess.Transcript = res.Text
	log.TranscriptText(res.Text)

	c.transition(&sess, StateInterpreting)
	cmd := c.interp.Interpret(res.Text, res.Confidence)
	sess.Command = &cmd

	if sctx.Err() != nil {
		c.cooldown(ctx, &sess)
		return
	}

	if cmd.Kind == command.Unknown {
		// below the confidence gate or no match: never reaches dispatch
		log.Warn("transcript did not resolve to a command")
		sess.NotUnderstood = true
		c.cooldown(ctx, &sess)
		return
	}

	c.transition(&sess, StateDispatching)
	if err := c.dispatch(sctx, cmd); err != nil {
		c.fail(&sess, err)
		return
	}

	total := time.Since(sess.StartedAt)
	log.SessionMetrics(sess.ID,
		float64(captureDur.Milliseconds()),
		float64(recognizeDur.Milliseconds()),
		float64(total.Milliseconds()),
		cmd.Confidence)
	c.opt.Record(total)

	c.cooldown(ctx, &sess)
}

// capturePhase streams microphone audio into the recognizer until trailing
// silence, the capture ceiling, or cancellation. Returns false when the
// session was cancelled.
func (c *Controller) capturePhase(sctx context.Context, sess *Session, rec speech.Session) bool {
	c.activity.Reset()

	var speechFrames atomic.Int64
	c.capture.SetCallback(func(data []byte, _ uint32) {
		if len(data) == 0 {
			return
		}
		pcm := make([]byte, len(data))
		copy(pcm, data)
		rec.Feed(pcm)
		s, _ := c.activity.Process(pcm)
		if s > 0 {
			speechFrames.Add(int64(s))
		}
	})
	if err := c.capture.Start(); err != nil {
		c.capture.ClearCallback()
		c.fail(sess, err)
		return false
	}
	defer func() {
		c.capture.Stop()
		c.capture.ClearCallback()
	}()

	c.transition(sess, StateCapturing)

	monitor := speech.NewFinalizeMonitor(c.cfg.TrailingSilence, c.cfg.CaptureTimeout)
	ticker := time.NewTicker(speech.TickInterval)
	defer ticker.Stop()

	updates := rec.Updates()
	for {
		select {
		case <-sctx.Done():
			return false
		case text, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			sess.Transcript = text
			c.publish(sess)
		case <-ticker.C:
			heard := speechFrames.Swap(0) > 0
			if ev := monitor.Tick(heard); ev != speech.FinalizeNone {
				return true
			}
		}
	}
}

// dispatch routes the interpreted command; navigation stays on-device.
func (c *Controller) dispatch(ctx context.Context, cmd command.Command) error {
	if cmd.Kind == command.Navigate {
		c.navigations.Publish(cmd.Parameters["destination"])
		return nil
	}
	return c.dispatcher.Dispatch(ctx, cmd)
}

// cooldown suppresses re-activation briefly after a session so the trailing
// edge of the user's own speech cannot retrigger the wake phrase.
func (c *Controller) cooldown(ctx context.Context, sess *Session) {
	c.transition(sess, StateCooldown)
	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.Cooldown):
	}
}

func (c *Controller) fail(sess *Session, err error) {
	log.Errorf("voice session %s: %v", sess.ID, err)
	sess.Err = err.Error()
	c.transition(sess, StateError)
}

func (c *Controller) transition(sess *Session, to State) {
	log.SessionState(sess.ID, string(sess.State), string(to))
	sess.State = to
	c.publish(sess)
}

func (c *Controller) publish(sess *Session) {
	c.sessions.Publish(*sess)
}

func (c *Controller) publishBare(s State) {
	c.sessions.Publish(Session{State: s})
}
