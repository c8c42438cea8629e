// Package quiz implements QuizGPT: multiple-choice quizzes generated from an
// uploaded file or a Wikipedia article, and grading of the user's picks.
package quiz

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fabfab/fullstack-gpt/llm"
)

// ErrSchemaMismatch is returned when the model output is not a usable quiz.
var ErrSchemaMismatch = errors.New("quiz output does not match schema")

const functionName = "create_quiz"

const quizSchema = `{
  "type": "object",
  "properties": {
    "questions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "question": {"type": "string"},
          "answers": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "answer": {"type": "string"},
                "correct": {"type": "boolean"}
              },
              "required": ["answer", "correct"]
            }
          }
        },
        "required": ["question", "answers"]
      }
    }
  },
  "required": ["questions"]
}`

// CreateQuiz is the function the model is forced to call.
var CreateQuiz = llm.Function{
	Name:        functionName,
	Description: "function that takes a list of questions and answers and returns a quiz",
	Parameters:  json.RawMessage(quizSchema),
}

type Answer struct {
	Answer  string `json:"answer"`
	Correct bool   `json:"correct"`
}

type Question struct {
	Question string   `json:"question"`
	Answers  []Answer `json:"answers"`
}

type Quiz struct {
	Questions []Question `json:"questions"`
}

// Parse decodes and validates model output. Every question needs text, at least
// one answer and at least one correct answer.
func Parse(raw []byte) (Quiz, error) {
	var q Quiz
	if err := json.Unmarshal(raw, &q); err != nil {
		return Quiz{}, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if len(q.Questions) == 0 {
		return Quiz{}, fmt.Errorf("%w: no questions", ErrSchemaMismatch)
	}

	for i, question := range q.Questions {
		if strings.TrimSpace(question.Question) == "" {
			return Quiz{}, fmt.Errorf("%w: question %d has no text", ErrSchemaMismatch, i+1)
		}
		if len(question.Answers) == 0 {
			return Quiz{}, fmt.Errorf("%w: question %d has no answers", ErrSchemaMismatch, i+1)
		}
		correct := 0
		for _, a := range question.Answers {
			if a.Correct {
				correct++
			}
		}
		if correct == 0 {
			return Quiz{}, fmt.Errorf("%w: question %d has no correct answer", ErrSchemaMismatch, i+1)
		}
	}
	return q, nil
}
