package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/selfie-quiz/internal/question"
)

// DefaultFallbackImage is shown on the FINAL question when generation
// failed and no selfie exists either.
const DefaultFallbackImage = "https://placehold.co/800x800?text=AI"

// Options tune a session.
type Options struct {
	// AutoAdvanceDelay moves past a NORMAL question this long after it was
	// answered. Zero disables auto-advance.
	AutoAdvanceDelay time.Duration
	// GenerationWait bounds how long WAITING blocks on a pending generation.
	// Zero waits indefinitely.
	GenerationWait time.Duration
	// FallbackImageURL is used when generation failed without a selfie.
	FallbackImageURL string
}

// Session is the state machine of one playthrough. All methods are safe for
// concurrent use; mutations are serialised by the session mutex, and async
// completions are discarded once a reset bumps the epoch.
type Session struct {
	id        uuid.UUID
	bank      *question.Bank
	camera    PhotoCapturer
	generator ImageGenerator
	opts      Options
	metrics   *Metrics
	logger    zerolog.Logger

	mu           sync.Mutex
	st           state
	epoch        uint64
	version      uint64
	closed       bool
	cancelRun    context.CancelFunc
	advanceTimer *time.Timer
	advanceSeq   uint64
	waitTimer    *time.Timer
	waitingSince time.Time
	updatedAt    time.Time

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObs   int
}

type state struct {
	status           Status
	questionIndex    int
	questions        []question.Question
	answers          []*question.Answer
	capturedPhoto    string
	cameraErr        string
	captureSettled   bool
	generationStatus GenerationStatus
	generatedImage   string
	generationErr    string
	fallbackUsed     bool
}

// NewSession builds a session in LANDING. camera and generator may be nil,
// in which case the corresponding step fails gracefully.
func NewSession(id uuid.UUID, bank *question.Bank, camera PhotoCapturer, generator ImageGenerator, opts Options, metrics *Metrics, logger zerolog.Logger) *Session {
	if opts.FallbackImageURL == "" {
		opts.FallbackImageURL = DefaultFallbackImage
	}
	s := &Session{
		id:        id,
		bank:      bank,
		camera:    camera,
		generator: generator,
		opts:      opts,
		metrics:   metrics,
		logger:    logger.With().Str("session_id", id.String()).Logger(),
		observers: make(map[int]func(Event)),
		updatedAt: time.Now(),
	}
	s.st = s.freshState()
	return s
}

func (s *Session) freshState() state {
	qs := s.bank.Questions()
	return state{
		status:           StatusLanding,
		questions:        qs,
		answers:          make([]*question.Answer, len(qs)),
		generationStatus: GenerationIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// UpdatedAt returns the time of the last state change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Snapshot returns a detached copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it. fn runs outside the session lock and must not block.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// StartGame moves LANDING to PLAYING and kicks off capture then generation
// in the background. Only ctx's values are used; the background work
// outlives the caller and ends on reset or close.
func (s *Session) StartGame(ctx context.Context) error {
	var (
		runCtx context.Context
		epoch  uint64
	)
	err := s.update(EventState, func() error {
		if s.st.status != StatusLanding {
			return invalid(ActionStart, "game already started")
		}
		s.st.status = StatusPlaying
		s.st.questionIndex = 0

		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
		s.cancelRun = cancel
		epoch = s.epoch
		return nil
	})
	if err != nil {
		s.metrics.rejected(ActionStart)
		return err
	}

	s.metrics.started()
	s.logger.Info().Msg("game started")
	go s.acquire(runCtx, epoch)
	return nil
}

// AnswerQuestion records a for the current question. A second answer for
// the same question is rejected.
func (s *Session) AnswerQuestion(a question.Answer) error {
	err := s.update(EventState, func() error {
		if !a.Valid() {
			return invalid(ActionAnswer, "unknown answer "+string(a))
		}
		if s.st.status != StatusPlaying && s.st.status != StatusFinal {
			return invalid(ActionAnswer, "not accepting answers in "+string(s.st.status))
		}
		idx := s.st.questionIndex
		if s.st.answers[idx] != nil {
			return invalid(ActionAnswer, "question already answered")
		}
		answer := a
		s.st.answers[idx] = &answer

		if s.opts.AutoAdvanceDelay > 0 && s.st.questions[idx].Kind == question.KindNormal {
			s.armAdvanceLocked(idx)
		}
		return nil
	})
	if err != nil {
		s.metrics.rejected(ActionAnswer)
	}
	return err
}

// NextQuestion advances the index, or completes the game on the last
// question. Reaching the FINAL question waits for generation when needed.
func (s *Session) NextQuestion() error {
	err := s.update(EventState, s.nextLocked)
	if err != nil {
		s.metrics.rejected(ActionNext)
	}
	return err
}

// ResetGame returns to LANDING with fresh defaults. Background work still
// running is cancelled and its results are ignored.
func (s *Session) ResetGame() error {
	err := s.update(EventState, func() error {
		s.abandonLocked()
		s.st = s.freshState()
		return nil
	})
	if err == nil {
		s.logger.Info().Msg("game reset")
	}
	return err
}

// Close stops timers and background work and drops all observers. Further
// calls fail with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.abandonLocked()
	s.mu.Unlock()

	s.obsMu.Lock()
	s.observers = make(map[int]func(Event))
	s.obsMu.Unlock()
}

// update runs fn under the lock and publishes an event when it succeeds.
func (s *Session) update(typ EventType, fn func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.version++
	s.updatedAt = time.Now()
	evt := Event{Type: typ, Snapshot: s.snapshotLocked()}
	s.mu.Unlock()

	s.publish(evt)
	return nil
}

func (s *Session) publish(evt Event) {
	s.obsMu.Lock()
	fns := make([]func(Event), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}

func (s *Session) abandonLocked() {
	s.epoch++
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.stopAdvanceLocked()
	s.stopWaitLocked()
}

func (s *Session) nextLocked() error {
	if s.st.status != StatusPlaying && s.st.status != StatusFinal {
		return invalid(ActionNext, "cannot advance in "+string(s.st.status))
	}
	s.stopAdvanceLocked()

	last := len(s.st.questions) - 1
	if s.st.questionIndex >= last {
		s.st.status = StatusComplete
		s.metrics.completed()
		s.logger.Info().Int("score", s.scoreLocked()).Msg("game complete")
		return nil
	}

	s.st.questionIndex++
	if s.st.questions[s.st.questionIndex].Kind != question.KindFinal {
		return nil
	}

	if s.st.generationStatus == GenerationReady {
		s.enterFinalLocked(s.st.generatedImage)
		return nil
	}

	s.st.status = StatusWaiting
	s.waitingSince = time.Now()
	s.resolveWaitingLocked()
	if s.st.status == StatusWaiting && s.opts.GenerationWait > 0 {
		epoch := s.epoch
		s.waitTimer = time.AfterFunc(s.opts.GenerationWait, func() { s.onWaitTimeout(epoch) })
	}
	return nil
}

// resolveWaitingLocked is the level-triggered WAITING -> FINAL rule. It is
// evaluated on entering WAITING and on every capture or generation change.
func (s *Session) resolveWaitingLocked() {
	if s.st.status != StatusWaiting {
		return
	}
	switch {
	case s.st.generationStatus == GenerationReady:
		s.enterFinalLocked(s.st.generatedImage)
	case s.st.generationStatus == GenerationError,
		s.st.generationStatus == GenerationIdle && s.st.captureSettled:
		s.enterFinalLocked(s.fallbackLocked())
	}
}

func (s *Session) enterFinalLocked(image string) {
	s.st.questions[len(s.st.questions)-1].ImageURL = image
	s.st.status = StatusFinal
	s.stopWaitLocked()
	if !s.waitingSince.IsZero() {
		s.metrics.waited(time.Since(s.waitingSince))
		s.waitingSince = time.Time{}
	}
}

// fallbackLocked prefers the untransformed selfie over the placeholder.
func (s *Session) fallbackLocked() string {
	s.st.fallbackUsed = true
	if s.st.capturedPhoto != "" {
		return s.st.capturedPhoto
	}
	return s.opts.FallbackImageURL
}

func (s *Session) armAdvanceLocked(index int) {
	s.stopAdvanceLocked()
	s.advanceSeq++
	seq, epoch := s.advanceSeq, s.epoch
	s.advanceTimer = time.AfterFunc(s.opts.AutoAdvanceDelay, func() {
		s.onAutoAdvance(epoch, seq, index)
	})
}

func (s *Session) stopAdvanceLocked() {
	if s.advanceTimer != nil {
		s.advanceTimer.Stop()
		s.advanceTimer = nil
	}
}

func (s *Session) stopWaitLocked() {
	if s.waitTimer != nil {
		s.waitTimer.Stop()
		s.waitTimer = nil
	}
}

func (s *Session) onAutoAdvance(epoch, seq uint64, index int) {
	_ = s.update(EventState, func() error {
		if s.epoch != epoch || s.advanceSeq != seq || s.advanceTimer == nil || s.st.questionIndex != index {
			return errStale
		}
		s.advanceTimer = nil
		return s.nextLocked()
	})
}

func (s *Session) onWaitTimeout(epoch uint64) {
	_ = s.update(EventGeneration, func() error {
		if s.epoch != epoch || s.st.status != StatusWaiting {
			return errStale
		}
		s.waitTimer = nil
		if s.st.generationStatus == GenerationPending || s.st.generationStatus == GenerationIdle {
			s.st.generationStatus = GenerationError
			s.st.generationErr = "generation wait timed out"
			s.metrics.generation("timeout", 0)
			s.logger.Warn().Dur("wait", s.opts.GenerationWait).Msg("generation wait timed out, using fallback")
		}
		s.resolveWaitingLocked()
		return nil
	})
}

// acquire runs capture and then generation. Every result re-enters through
// update and is dropped when the epoch moved on.
func (s *Session) acquire(ctx context.Context, epoch uint64) {
	photo, err := s.capture(ctx)
	if err != nil {
		s.metrics.capture("failed")
		s.logger.Warn().Err(err).Msg("selfie capture failed, continuing without photo")
		_ = s.update(EventCamera, func() error {
			if s.epoch != epoch {
				return errStale
			}
			s.st.cameraErr = err.Error()
			s.st.captureSettled = true
			s.resolveWaitingLocked()
			return nil
		})
		return
	}
	s.metrics.capture("ok")

	prompt := s.bank.RandomPreset()
	generate := false
	err = s.update(EventGeneration, func() error {
		if s.epoch != epoch {
			return errStale
		}
		s.st.capturedPhoto = photo
		s.st.captureSettled = true
		if s.st.generationStatus == GenerationIdle {
			s.st.generationStatus = GenerationPending
			generate = true
		}
		return nil
	})
	if err != nil || !generate {
		return
	}

	s.logger.Info().Str("prompt", prompt).Msg("generating final image")
	start := time.Now()
	ref, genErr := s.generate(ctx, photo, prompt)
	if genErr != nil {
		s.metrics.generation("failed", time.Since(start))
		s.logger.Warn().Err(genErr).Msg("image generation failed")
	} else {
		s.metrics.generation("ok", time.Since(start))
	}

	_ = s.update(EventGeneration, func() error {
		if s.epoch != epoch || s.st.generationStatus != GenerationPending {
			return errStale
		}
		if genErr != nil {
			s.st.generationStatus = GenerationError
			s.st.generationErr = genErr.Error()
		} else {
			s.st.generationStatus = GenerationReady
			s.st.generatedImage = ref
		}
		s.resolveWaitingLocked()
		return nil
	})
}

func (s *Session) capture(ctx context.Context) (string, error) {
	if s.camera == nil {
		return "", errors.New("no camera configured")
	}
	return s.camera.Capture(ctx)
}

func (s *Session) generate(ctx context.Context, photo, prompt string) (string, error) {
	if s.generator == nil {
		return "", errors.New("no image generator configured")
	}
	return s.generator.Generate(ctx, photo, prompt)
}

func (s *Session) scoreLocked() int {
	score := 0
	for i, a := range s.st.answers {
		if a != nil && *a == s.st.questions[i].CorrectAnswer {
			score++
		}
	}
	return score
}

func (s *Session) snapshotLocked() Snapshot {
	qs := append([]question.Question(nil), s.st.questions...)
	answers := make([]*question.Answer, len(s.st.answers))
	for i, a := range s.st.answers {
		if a != nil {
			v := *a
			answers[i] = &v
		}
	}
	current := qs[s.st.questionIndex]
	return Snapshot{
		ID:               s.id,
		Version:          s.version,
		Status:           s.st.status,
		QuestionIndex:    s.st.questionIndex,
		Questions:        qs,
		Answers:          answers,
		Score:            s.scoreLocked(),
		CurrentQuestion:  &current,
		IsLastQuestion:   s.st.questionIndex == len(qs)-1,
		CapturedPhoto:    s.st.capturedPhoto,
		CameraError:      s.st.cameraErr,
		GenerationStatus: s.st.generationStatus,
		GeneratedImage:   s.st.generatedImage,
		GenerationError:  s.st.generationErr,
		FallbackUsed:     s.st.fallbackUsed,
		UpdatedAt:        s.updatedAt,
	}
}
