package quiz

type Verdict string

const (
	Correct    Verdict = "correct"
	Wrong      Verdict = "wrong"
	Unanswered Verdict = "unanswered"
)

// Grade checks a selection against q. A nil selection is Unanswered; a selection
// is Correct only when it equals the text of an answer marked correct.
func Grade(q Question, selected *string) Verdict {
	if selected == nil {
		return Unanswered
	}
	for _, a := range q.Answers {
		if a.Answer == *selected && a.Correct {
			return Correct
		}
	}
	return Wrong
}

type Result struct {
	Verdicts []Verdict `json:"verdicts"`
	Score    int       `json:"score"`
	Total    int       `json:"total"`
}

// GradeAll grades selections by question position. Missing positions count as unanswered.
func GradeAll(q Quiz, selections []*string) Result {
	res := Result{Verdicts: make([]Verdict, len(q.Questions)), Total: len(q.Questions)}
	for i, question := range q.Questions {
		var selected *string
		if i < len(selections) {
			selected = selections[i]
		}
		res.Verdicts[i] = Grade(question, selected)
		if res.Verdicts[i] == Correct {
			res.Score++
		}
	}
	return res
}
