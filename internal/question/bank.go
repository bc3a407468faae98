package question

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"
)

// ErrInvalidBank is returned when a question list breaks the FINAL rules.
var ErrInvalidBank = errors.New("invalid question bank")

// Bank is the ordered question list plus the prompt presets used for
// generation. It is read-only after construction.
type Bank struct {
	questions []Question
	presets   []string

	mu  sync.Mutex
	rng *rand.Rand
}

// bankFile is the on-disk JSON layout accepted by LoadFile.
type bankFile struct {
	Questions []Question `json:"questions"`
	Presets   []string   `json:"presets"`
}

// NewBank validates questions and presets and returns a Bank. A nil rng
// falls back to a time-seeded source.
func NewBank(questions []Question, presets []string, rng *rand.Rand) (*Bank, error) {
	if err := Validate(questions); err != nil {
		return nil, err
	}
	if len(presets) == 0 {
		return nil, fmt.Errorf("%w: at least one prompt preset is required", ErrInvalidBank)
	}
	for i, p := range presets {
		if p == "" {
			return nil, fmt.Errorf("%w: preset %d is empty", ErrInvalidBank, i)
		}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Bank{
		questions: append([]Question(nil), questions...),
		presets:   append([]string(nil), presets...),
		rng:       rng,
	}, nil
}

// Default returns the built-in bank.
func Default() *Bank {
	b, err := NewBank(defaultQuestions, defaultPresets, nil)
	if err != nil {
		panic(err)
	}
	return b
}

// LoadFile reads a bank from a JSON file. Missing presets fall back to the
// built-in list.
func LoadFile(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	var f bankFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode question bank: %w", err)
	}
	if len(f.Presets) == 0 {
		f.Presets = defaultPresets
	}
	return NewBank(f.Questions, f.Presets, nil)
}

// Validate enforces unique non-empty IDs, known answers and exactly one
// FINAL question in the last position.
func Validate(questions []Question) error {
	if len(questions) == 0 {
		return fmt.Errorf("%w: no questions", ErrInvalidBank)
	}
	seen := make(map[string]struct{}, len(questions))
	finals := 0
	for i, q := range questions {
		if q.ID == "" {
			return fmt.Errorf("%w: question %d has no id", ErrInvalidBank, i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidBank, q.ID)
		}
		seen[q.ID] = struct{}{}
		if !q.CorrectAnswer.Valid() {
			return fmt.Errorf("%w: question %q has unknown answer %q", ErrInvalidBank, q.ID, q.CorrectAnswer)
		}
		switch q.Kind {
		case KindNormal:
		case KindFinal:
			finals++
			if i != len(questions)-1 {
				return fmt.Errorf("%w: FINAL question %q must be last", ErrInvalidBank, q.ID)
			}
		default:
			return fmt.Errorf("%w: question %q has unknown kind %q", ErrInvalidBank, q.ID, q.Kind)
		}
	}
	if finals != 1 {
		return fmt.Errorf("%w: expected exactly one FINAL question, got %d", ErrInvalidBank, finals)
	}
	return nil
}

// Questions returns a fresh copy of the question list with the FINAL image
// reset to empty, ready to seed a new game.
func (b *Bank) Questions() []Question {
	out := append([]Question(nil), b.questions...)
	out[len(out)-1].ImageURL = ""
	return out
}

// Len is the number of questions in a game.
func (b *Bank) Len() int { return len(b.questions) }

// FinalIndex is the index of the FINAL question.
func (b *Bank) FinalIndex() int { return len(b.questions) - 1 }

// Presets returns a copy of the prompt presets.
func (b *Bank) Presets() []string { return append([]string(nil), b.presets...) }

// RandomPreset picks a generation prompt uniformly at random.
func (b *Bank) RandomPreset() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.presets[b.rng.Intn(len(b.presets))]
}

var defaultQuestions = []Question{
	{
		ID:            "q1",
		Prompt:        "Is this photo REAL or AI-generated?",
		ImageURL:      "https://images.unsplash.com/photo-1682687220742-aba13b6e50ba?w=800",
		CorrectAnswer: AnswerReal,
		Kind:          KindNormal,
		Explanation:   "Real photo! Those textures and lighting details are hard for AI to replicate perfectly.",
	},
	{
		ID:            "q2",
		Prompt:        "Can you spot the AI trickery here?",
		ImageURL:      "https://images.unsplash.com/photo-1682687221038-404cb8830901?w=800",
		CorrectAnswer: AnswerReal,
		Kind:          KindNormal,
		Explanation:   "Tricky one! Real photograph with natural imperfections.",
	},
	{
		ID:            "q3",
		Prompt:        "Reality check: REAL or AI?",
		ImageURL:      "https://images.unsplash.com/photo-1682687220063-4742bd7f7a38?w=800",
		CorrectAnswer: AnswerReal,
		Kind:          KindNormal,
		Explanation:   "Real! The organic details give it away.",
	},
	{
		ID:            "q4",
		Prompt:        "Is this image telling the truth?",
		ImageURL:      "https://images.unsplash.com/photo-1682687220923-c58b9a4592ae?w=800",
		CorrectAnswer: AnswerReal,
		Kind:          KindNormal,
		Explanation:   "Absolutely real! Mother nature never lies.",
	},
	{
		ID:            "q5",
		Prompt:        "Last warmup question - REAL or AI?",
		ImageURL:      "https://images.unsplash.com/photo-1682687221080-5cb261c645cb?w=800",
		CorrectAnswer: AnswerReal,
		Kind:          KindNormal,
		Explanation:   "Real deal! Now get ready for the ultimate test...",
	},
	{
		ID:            "q6",
		Prompt:        "The ULTIMATE question: Is this YOU or AI?",
		CorrectAnswer: AnswerAI,
		Kind:          KindFinal,
		Explanation:   "SURPRISE! That's AI-generated! Hope you enjoyed the ride!",
	},
}

var defaultPresets = []string{
	"riding a majestic alpaca through the clouds",
	"astronaut floating in a bowl of ramen",
	"surfing on a pizza slice in space",
	"dancing with penguins on an iceberg",
	"as a superhero saving cats from trees",
	"riding a unicorn into the sunset",
	"conducting an orchestra of robots",
	"skydiving with butterflies",
}
