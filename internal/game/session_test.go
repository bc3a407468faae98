package game

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokatarajesh/selfie-quiz/internal/question"
)

const (
	testSelfie    = "data:image/jpeg;base64,c2VsZmll"
	testGenerated = "https://cdn.example/meme.png"
	waitFor       = 2 * time.Second
	tick          = 5 * time.Millisecond
)

type captureFunc func(ctx context.Context) (string, error)

func (f captureFunc) Capture(ctx context.Context) (string, error) { return f(ctx) }

type generateFunc func(ctx context.Context, src, prompt string) (string, error)

func (f generateFunc) Generate(ctx context.Context, src, prompt string) (string, error) {
	return f(ctx, src, prompt)
}

func instantCamera() captureFunc {
	return func(context.Context) (string, error) { return testSelfie, nil }
}

func instantGenerator() generateFunc {
	return func(context.Context, string, string) (string, error) { return testGenerated, nil }
}

// gate blocks until released or the context ends.
type gate struct {
	once    sync.Once
	release chan struct{}
}

func newGate(t *testing.T) *gate {
	g := &gate{release: make(chan struct{})}
	t.Cleanup(g.open)
	return g
}

func (g *gate) open() { g.once.Do(func() { close(g.release) }) }

func (g *gate) wait(ctx context.Context) error {
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestSession(t *testing.T, cam PhotoCapturer, gen ImageGenerator, opts Options) *Session {
	t.Helper()
	s := NewSession(uuid.New(), question.Default(), cam, gen, opts, NewMetrics(nil), zerolog.Nop())
	t.Cleanup(s.Close)
	return s
}

func advanceTo(t *testing.T, s *Session, index int) {
	t.Helper()
	for s.Snapshot().QuestionIndex < index {
		require.NoError(t, s.NextQuestion())
	}
}

func eventuallyStatus(t *testing.T, s *Session, want Status) {
	t.Helper()
	assert.Eventually(t, func() bool { return s.Snapshot().Status == want }, waitFor, tick)
}

func TestNewSessionStartsInLanding(t *testing.T) {
	s := newTestSession(t, instantCamera(), instantGenerator(), Options{})
	snap := s.Snapshot()

	assert.Equal(t, StatusLanding, snap.Status)
	assert.Equal(t, 0, snap.QuestionIndex)
	assert.Equal(t, 0, snap.Score)
	assert.Equal(t, GenerationIdle, snap.GenerationStatus)
	assert.Len(t, snap.Answers, 6)
	for _, a := range snap.Answers {
		assert.Nil(t, a)
	}
	assert.Empty(t, snap.FinalQuestion().ImageURL)
	assert.False(t, snap.IsLastQuestion)
}

func TestStartGameOnlyFromLanding(t *testing.T) {
	s := newTestSession(t, instantCamera(), instantGenerator(), Options{})

	require.NoError(t, s.StartGame(context.Background()))
	assert.Equal(t, StatusPlaying, s.Snapshot().Status)

	err := s.StartGame(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPlaying, s.Snapshot().Status)
}

func TestAnswersAreWriteOnce(t *testing.T) {
	s := newTestSession(t, instantCamera(), instantGenerator(), Options{})

	assert.ErrorIs(t, s.AnswerQuestion(question.AnswerReal), ErrInvalidTransition, "no answers before start")

	require.NoError(t, s.StartGame(context.Background()))
	require.NoError(t, s.AnswerQuestion(question.AnswerAI))

	before := s.Snapshot()
	assert.ErrorIs(t, s.AnswerQuestion(question.AnswerReal), ErrInvalidTransition)
	after := s.Snapshot()
	require.NotNil(t, after.Answers[0])
	assert.Equal(t, question.AnswerAI, *after.Answers[0])
	assert.Equal(t, before.Version, after.Version, "rejected triggers leave state untouched")

	assert.ErrorIs(t, s.AnswerQuestion(question.Answer("MAYBE")), ErrInvalidTransition)
}

func TestScoreIsDerivedFromAnswers(t *testing.T) {
	s := newTestSession(t, instantCamera(), instantGenerator(), Options{})
	require.NoError(t, s.StartGame(context.Background()))

	require.NoError(t, s.AnswerQuestion(question.AnswerReal)) // correct
	require.NoError(t, s.NextQuestion())
	require.NoError(t, s.AnswerQuestion(question.AnswerAI)) // wrong
	require.NoError(t, s.NextQuestion())
	require.NoError(t, s.AnswerQuestion(question.AnswerReal)) // correct

	assert.Equal(t, 2, s.Snapshot().Score)
}

func TestFullPlaythroughCompletesOnLastQuestion(t *testing.T) {
	s := newTestSession(t, instantCamera(), instantGenerator(), Options{})
	require.NoError(t, s.StartGame(context.Background()))
	assert.Eventually(t, func() bool {
		return s.Snapshot().GenerationStatus == GenerationReady
	}, waitFor, tick)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AnswerQuestion(question.AnswerReal))
		require.NoError(t, s.NextQuestion())
	}

	snap := s.Snapshot()
	assert.Equal(t, StatusFinal, snap.Status, "ready generation skips WAITING")
	assert.Equal(t, 5, snap.QuestionIndex)
	assert.True(t, snap.IsLastQuestion)
	assert.Equal(t, testGenerated, snap.CurrentQuestion.ImageURL)
	assert.False(t, snap.FallbackUsed)

	require.NoError(t, s.AnswerQuestion(question.AnswerAI))
	require.NoError(t, s.NextQuestion())

	snap = s.Snapshot()
	assert.Equal(t, StatusComplete, snap.Status)
	assert.Equal(t, 5, snap.QuestionIndex, "index stays on the last question")
	assert.Equal(t, 6, snap.Score)

	assert.ErrorIs(t, s.NextQuestion(), ErrInvalidTransition)
	assert.ErrorIs(t, s.AnswerQuestion(question.AnswerAI), ErrInvalidTransition)
}

func TestNextQuestionRejectedOutsidePlay(t *testing.T) {
	s := newTestSession(t, instantCamera(), generateFunc(func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), Options{})

	assert.ErrorIs(t, s.NextQuestion(), ErrInvalidTransition, "landing")

	require.NoError(t, s.StartGame(context.Background()))
	advanceTo(t, s, 5)
	require.Equal(t, StatusWaiting, s.Snapshot().Status)
	assert.ErrorIs(t, s.NextQuestion(), ErrInvalidTransition, "waiting")
	assert.ErrorIs(t, s.AnswerQuestion(question.AnswerAI), ErrInvalidTransition, "waiting")
}

func TestWaitingResolvesWhenGenerationCompletes(t *testing.T) {
	g := newGate(t)
	var gotPrompt, gotSource string
	gen := generateFunc(func(ctx context.Context, src, prompt string) (string, error) {
		gotSource, gotPrompt = src, prompt
		if err := g.wait(ctx); err != nil {
			return "", err
		}
		return testGenerated, nil
	})
	s := newTestSession(t, instantCamera(), gen, Options{})
	require.NoError(t, s.StartGame(context.Background()))
	assert.Eventually(t, func() bool {
		return s.Snapshot().GenerationStatus == GenerationPending
	}, waitFor, tick)

	advanceTo(t, s, 5)
	snap := s.Snapshot()
	require.Equal(t, StatusWaiting, snap.Status)
	assert.Empty(t, snap.FinalQuestion().ImageURL)

	g.open()
	eventuallyStatus(t, s, StatusFinal)

	snap = s.Snapshot()
	assert.Equal(t, GenerationReady, snap.GenerationStatus)
	assert.Equal(t, testGenerated, snap.FinalQuestion().ImageURL)
	assert.Equal(t, testSelfie, gotSource)
	assert.Contains(t, question.Default().Presets(), gotPrompt)
}

func TestReachingFinalDoesNotCancelBackgroundWork(t *testing.T) {
	g := newGate(t)
	cam := captureFunc(func(ctx context.Context) (string, error) {
		if err := g.wait(ctx); err != nil {
			return "", err
		}
		return testSelfie, nil
	})
	s := newTestSession(t, cam, instantGenerator(), Options{})
	require.NoError(t, s.StartGame(context.Background()))

	advanceTo(t, s, 5)
	require.Equal(t, StatusWaiting, s.Snapshot().Status)

	g.open()
	eventuallyStatus(t, s, StatusFinal)
	snap := s.Snapshot()
	assert.Equal(t, testSelfie, snap.CapturedPhoto)
	assert.Equal(t, testGenerated, snap.FinalQuestion().ImageURL)
}

func TestGenerationErrorFallsBackToSelfie(t *testing.T) {
	gen := generateFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("service returned status 502")
	})
	s := newTestSession(t, instantCamera(), gen, Options{})
	require.NoError(t, s.StartGame(context.Background()))
	assert.Eventually(t, func() bool {
		return s.Snapshot().GenerationStatus == GenerationError
	}, waitFor, tick)

	advanceTo(t, s, 5)
	snap := s.Snapshot()
	assert.Equal(t, StatusFinal, snap.Status)
	assert.Equal(t, testSelfie, snap.FinalQuestion().ImageURL)
	assert.True(t, snap.FallbackUsed)
	assert.Contains(t, snap.GenerationError, "502")
}

func TestCaptureFailureFallsBackToPlaceholder(t *testing.T) {
	cam := captureFunc(func(context.Context) (string, error) {
		return "", errors.New("camera unavailable: permission denied")
	})
	var generated atomic.Bool
	gen := generateFunc(func(context.Context, string, string) (string, error) {
		generated.Store(true)
		return testGenerated, nil
	})
	s := newTestSession(t, cam, gen, Options{FallbackImageURL: "https://placeholder.example/ai.png"})
	require.NoError(t, s.StartGame(context.Background()))
	assert.Eventually(t, func() bool { return s.Snapshot().CameraError != "" }, waitFor, tick)

	snap := s.Snapshot()
	assert.Equal(t, StatusPlaying, snap.Status, "capture failure does not end the game")
	assert.Equal(t, GenerationIdle, snap.GenerationStatus)

	advanceTo(t, s, 5)
	snap = s.Snapshot()
	assert.Equal(t, StatusFinal, snap.Status)
	assert.Equal(t, "https://placeholder.example/ai.png", snap.FinalQuestion().ImageURL)
	assert.True(t, snap.FallbackUsed)
	assert.False(t, generated.Load())
}

func TestWaitTimeoutUsesFallbackAndIgnoresLateResult(t *testing.T) {
	g := newGate(t)
	gen := generateFunc(func(ctx context.Context, _, _ string) (string, error) {
		_ = g.wait(ctx)
		return testGenerated, nil
	})
	s := newTestSession(t, instantCamera(), gen, Options{GenerationWait: 30 * time.Millisecond})
	require.NoError(t, s.StartGame(context.Background()))
	assert.Eventually(t, func() bool {
		return s.Snapshot().GenerationStatus == GenerationPending
	}, waitFor, tick)

	advanceTo(t, s, 5)
	eventuallyStatus(t, s, StatusFinal)

	snap := s.Snapshot()
	assert.Equal(t, GenerationError, snap.GenerationStatus)
	assert.Equal(t, testSelfie, snap.FinalQuestion().ImageURL)
	assert.True(t, snap.FallbackUsed)

	g.open()
	time.Sleep(50 * time.Millisecond)
	snap = s.Snapshot()
	assert.Equal(t, GenerationError, snap.GenerationStatus)
	assert.Equal(t, testSelfie, snap.FinalQuestion().ImageURL)
	assert.Empty(t, snap.GeneratedImage)
}

func TestResetCancelsAndDiscardsInFlightWork(t *testing.T) {
	g := newGate(t)
	cancelled := make(chan struct{})
	var calls int
	var mu sync.Mutex
	cam := captureFunc(func(ctx context.Context) (string, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			<-ctx.Done()
			close(cancelled)
			_ = g.wait(context.Background())
			return "stale-photo", nil
		}
		return testSelfie, nil
	})
	s := newTestSession(t, cam, instantGenerator(), Options{})
	require.NoError(t, s.StartGame(context.Background()))
	require.NoError(t, s.AnswerQuestion(question.AnswerReal))

	require.NoError(t, s.ResetGame())
	select {
	case <-cancelled:
	case <-time.After(waitFor):
		t.Fatal("reset did not cancel the capture")
	}

	snap := s.Snapshot()
	assert.Equal(t, StatusLanding, snap.Status)
	assert.Nil(t, snap.Answers[0])
	assert.Equal(t, GenerationIdle, snap.GenerationStatus)
	assert.Empty(t, snap.CapturedPhoto)

	require.NoError(t, s.StartGame(context.Background()))
	assert.Eventually(t, func() bool {
		return s.Snapshot().GenerationStatus == GenerationReady
	}, waitFor, tick)

	g.open()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, testSelfie, s.Snapshot().CapturedPhoto, "stale capture must not land")
}

func TestResetFromWaitingAndComplete(t *testing.T) {
	gen := generateFunc(func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	s := newTestSession(t, instantCamera(), gen, Options{})
	require.NoError(t, s.StartGame(context.Background()))
	advanceTo(t, s, 5)
	require.Equal(t, StatusWaiting, s.Snapshot().Status)

	require.NoError(t, s.ResetGame())
	snap := s.Snapshot()
	assert.Equal(t, StatusLanding, snap.Status)
	assert.Equal(t, 0, snap.QuestionIndex)
	assert.Empty(t, snap.FinalQuestion().ImageURL)
	assert.False(t, snap.FallbackUsed)
}

func TestAutoAdvanceAfterNormalAnswer(t *testing.T) {
	s := newTestSession(t, instantCamera(), instantGenerator(), Options{AutoAdvanceDelay: 20 * time.Millisecond})
	require.NoError(t, s.StartGame(context.Background()))

	require.NoError(t, s.AnswerQuestion(question.AnswerReal))
	assert.Eventually(t, func() bool { return s.Snapshot().QuestionIndex == 1 }, waitFor, tick)
}

func TestManualNextCancelsAutoAdvance(t *testing.T) {
	s := newTestSession(t, instantCamera(), instantGenerator(), Options{AutoAdvanceDelay: 40 * time.Millisecond})
	require.NoError(t, s.StartGame(context.Background()))

	require.NoError(t, s.AnswerQuestion(question.AnswerReal))
	require.NoError(t, s.NextQuestion())
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, s.Snapshot().QuestionIndex, "auto-advance must not double-step")
}

func TestResetCancelsAutoAdvance(t *testing.T) {
	s := newTestSession(t, instantCamera(), instantGenerator(), Options{AutoAdvanceDelay: 40 * time.Millisecond})
	require.NoError(t, s.StartGame(context.Background()))
	require.NoError(t, s.AnswerQuestion(question.AnswerReal))
	require.NoError(t, s.ResetGame())
	require.NoError(t, s.StartGame(context.Background()))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, s.Snapshot().QuestionIndex)
}

func TestSubscribersSeeEveryChange(t *testing.T) {
	s := newTestSession(t, instantCamera(), instantGenerator(), Options{})

	var mu sync.Mutex
	var events []Event
	unsubscribe := s.Subscribe(func(evt Event) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})

	require.NoError(t, s.StartGame(context.Background()))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0 && events[len(events)-1].Snapshot.GenerationStatus == GenerationReady
	}, waitFor, tick)

	mu.Lock()
	assert.Equal(t, EventState, events[0].Type)
	assert.Equal(t, StatusPlaying, events[0].Snapshot.Status)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Snapshot.Version, events[i-1].Snapshot.Version)
	}
	seen := len(events)
	mu.Unlock()

	unsubscribe()
	require.NoError(t, s.AnswerQuestion(question.AnswerReal))
	mu.Lock()
	assert.Len(t, events, seen)
	mu.Unlock()
}

func TestClosedSessionRejectsEverything(t *testing.T) {
	s := newTestSession(t, instantCamera(), instantGenerator(), Options{})
	s.Close()

	assert.ErrorIs(t, s.StartGame(context.Background()), ErrSessionClosed)
	assert.ErrorIs(t, s.ResetGame(), ErrSessionClosed)
	assert.ErrorIs(t, s.NextQuestion(), ErrSessionClosed)
}

func TestMissingCollaboratorsDegradeToPlaceholder(t *testing.T) {
	s := newTestSession(t, nil, nil, Options{})
	require.NoError(t, s.StartGame(context.Background()))
	assert.Eventually(t, func() bool { return s.Snapshot().CameraError != "" }, waitFor, tick)

	advanceTo(t, s, 5)
	snap := s.Snapshot()
	assert.Equal(t, StatusFinal, snap.Status)
	assert.Equal(t, DefaultFallbackImage, snap.FinalQuestion().ImageURL)
}
