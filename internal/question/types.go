package question

// Answer is the player's verdict on a question image.
type Answer string

// Answer values.
const (
	AnswerReal Answer = "REAL"
	AnswerAI   Answer = "AI"
)

// Valid reports whether a is one of the known answers.
func (a Answer) Valid() bool {
	return a == AnswerReal || a == AnswerAI
}

// Kind distinguishes the ordinary questions from the personalised last one.
type Kind string

// Kind values.
const (
	KindNormal Kind = "NORMAL"
	KindFinal  Kind = "FINAL"
)

// Question is a single "real or AI" prompt. ImageURL of the FINAL question
// starts empty and is filled in at runtime.
type Question struct {
	ID            string `json:"id"`
	Prompt        string `json:"prompt"`
	ImageURL      string `json:"image_url"`
	CorrectAnswer Answer `json:"correct_answer"`
	Kind          Kind   `json:"kind"`
	Explanation   string `json:"explanation,omitempty"`
}
