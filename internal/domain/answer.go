package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Answer is a typed answer payload. The concrete type is fixed by the
// question type: ChoiceAnswer, MultiChoiceAnswer, BoolAnswer, TextAnswer,
// NumericAnswer or RawAnswer.
type Answer interface {
	Kind() QuestionType
}

// ChoiceAnswer answers MCQ_SINGLE.
type ChoiceAnswer struct {
	ChoiceID string `json:"choiceId"`
}

// MultiChoiceAnswer answers MCQ_MULTI.
type MultiChoiceAnswer struct {
	ChoiceIDs []string `json:"choiceIds"`
}

// BoolAnswer answers TRUE_FALSE.
type BoolAnswer struct {
	Value bool `json:"value"`
}

// TextAnswer answers SHORT_ANSWER.
type TextAnswer struct {
	Text string `json:"text"`
}

// NumericAnswer answers NUMERIC.
type NumericAnswer struct {
	Value float64 `json:"value"`
}

// RawAnswer answers OTHER and carries compacted JSON.
type RawAnswer json.RawMessage

func (ChoiceAnswer) Kind() QuestionType      { return QuestionMCQSingle }
func (MultiChoiceAnswer) Kind() QuestionType { return QuestionMCQMulti }
func (BoolAnswer) Kind() QuestionType        { return QuestionTrueFalse }
func (TextAnswer) Kind() QuestionType        { return QuestionShortAnswer }
func (NumericAnswer) Kind() QuestionType     { return QuestionNumeric }
func (RawAnswer) Kind() QuestionType         { return QuestionOther }

func (a RawAnswer) MarshalJSON() ([]byte, error) {
	if len(a) == 0 {
		return []byte("null"), nil
	}
	return a, nil
}

type answerWire struct {
	ChoiceID  *string         `json:"choiceId"`
	ChoiceIDs []string        `json:"choiceIds"`
	Value     json.RawMessage `json:"value"`
	Text      *string         `json:"text"`
}

// ParseAnswer decodes raw into the variant required by qt. A payload missing
// the variant's field, or carrying it with the wrong JSON type, fails with
// ErrInvalidAnswerShape.
func ParseAnswer(qt QuestionType, raw json.RawMessage) (Answer, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: empty %s answer", ErrInvalidAnswerShape, qt)
	}
	if qt == QuestionOther {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAnswerShape, err)
		}
		return RawAnswer(buf.Bytes()), nil
	}
	if !qt.Valid() {
		return nil, fmt.Errorf("%w: unknown question type %q", ErrInvalidAnswerShape, qt)
	}

	var wire answerWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %s answer must be an object: %v", ErrInvalidAnswerShape, qt, err)
	}

	switch qt {
	case QuestionMCQSingle:
		if wire.ChoiceID == nil || *wire.ChoiceID == "" {
			return nil, fmt.Errorf("%w: MCQ_SINGLE answer requires choiceId", ErrInvalidAnswerShape)
		}
		return ChoiceAnswer{ChoiceID: *wire.ChoiceID}, nil
	case QuestionMCQMulti:
		if len(wire.ChoiceIDs) == 0 {
			return nil, fmt.Errorf("%w: MCQ_MULTI answer requires choiceIds", ErrInvalidAnswerShape)
		}
		seen := make(map[string]struct{}, len(wire.ChoiceIDs))
		for _, id := range wire.ChoiceIDs {
			if id == "" {
				return nil, fmt.Errorf("%w: empty choice id", ErrInvalidAnswerShape)
			}
			if _, dup := seen[id]; dup {
				return nil, fmt.Errorf("%w: duplicate choice id %q", ErrInvalidAnswerShape, id)
			}
			seen[id] = struct{}{}
		}
		return MultiChoiceAnswer{ChoiceIDs: append([]string(nil), wire.ChoiceIDs...)}, nil
	case QuestionTrueFalse:
		var v bool
		if len(wire.Value) == 0 || json.Unmarshal(wire.Value, &v) != nil {
			return nil, fmt.Errorf("%w: TRUE_FALSE answer requires boolean value", ErrInvalidAnswerShape)
		}
		return BoolAnswer{Value: v}, nil
	case QuestionShortAnswer:
		if wire.Text == nil {
			return nil, fmt.Errorf("%w: SHORT_ANSWER answer requires text", ErrInvalidAnswerShape)
		}
		return TextAnswer{Text: *wire.Text}, nil
	case QuestionNumeric:
		var v float64
		if len(wire.Value) == 0 || json.Unmarshal(wire.Value, &v) != nil {
			return nil, fmt.Errorf("%w: NUMERIC answer requires numeric value", ErrInvalidAnswerShape)
		}
		return NumericAnswer{Value: v}, nil
	}
	return nil, fmt.Errorf("%w: unsupported question type %q", ErrInvalidAnswerShape, qt)
}

// MatchAnswer is the exact, type-sensitive comparison used for auto grading.
// MCQ_MULTI selections compare as sets.
func MatchAnswer(want, got Answer) bool {
	if want == nil || got == nil || want.Kind() != got.Kind() {
		return false
	}
	switch w := want.(type) {
	case ChoiceAnswer:
		return w.ChoiceID == got.(ChoiceAnswer).ChoiceID
	case MultiChoiceAnswer:
		g := got.(MultiChoiceAnswer)
		if len(w.ChoiceIDs) != len(g.ChoiceIDs) {
			return false
		}
		a := append([]string(nil), w.ChoiceIDs...)
		b := append([]string(nil), g.ChoiceIDs...)
		sort.Strings(a)
		sort.Strings(b)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	case BoolAnswer:
		return w.Value == got.(BoolAnswer).Value
	case TextAnswer:
		return w.Text == got.(TextAnswer).Text
	case NumericAnswer:
		return w.Value == got.(NumericAnswer).Value
	case RawAnswer:
		return bytes.Equal(w, got.(RawAnswer))
	}
	return false
}

// choiceIDs lists the option ids an answer refers to.
func choiceIDs(a Answer) []string {
	switch v := a.(type) {
	case ChoiceAnswer:
		return []string{v.ChoiceID}
	case MultiChoiceAnswer:
		return v.ChoiceIDs
	}
	return nil
}
