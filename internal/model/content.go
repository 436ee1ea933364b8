package model

import (
	"encoding/json"
	"fmt"
)

// Content is the variant-specific payload of a component.
// The set of implementations is closed: Article, Quiz and Task.
type Content interface {
	Variant() ComponentVariant
	isContent()
}

// Article is a reading component
type Article struct {
	Body               string `json:"body"`
	ReadingTimeMinutes int    `json:"readingTimeMinutes"`
}

// Quiz is a scored component
type Quiz struct {
	Questions []QuizQuestion `json:"questions"`
}

// QuizQuestion is a single quiz question with its options
type QuizQuestion struct {
	Text    string       `json:"text"`
	Options []QuizOption `json:"options"`
}

// QuizOption is an answer option
type QuizOption struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// Task is a practical assignment verified by a code word
type Task struct {
	Instructions string `json:"instructions"`
	CodeWord     string `json:"codeWord,omitempty"`
	Hint         string `json:"hint,omitempty"`
}

func (Article) Variant() ComponentVariant { return VariantArticle }
func (Quiz) Variant() ComponentVariant    { return VariantQuiz }
func (Task) Variant() ComponentVariant    { return VariantTask }

func (Article) isContent() {}
func (Quiz) isContent()    {}
func (Task) isContent()    {}

// EncodeContent serializes content for storage inside a snapshot.
func EncodeContent(c Content) (json.RawMessage, error) {
	if c == nil {
		return nil, fmt.Errorf("content is nil")
	}
	return json.Marshal(c)
}

// DecodeContent restores content previously produced by EncodeContent.
func DecodeContent(variant ComponentVariant, raw json.RawMessage) (Content, error) {
	switch variant {
	case VariantArticle:
		var a Article
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("failed to decode article: %w", err)
		}
		return a, nil
	case VariantQuiz:
		var q Quiz
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("failed to decode quiz: %w", err)
		}
		return q, nil
	case VariantTask:
		var t Task
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("failed to decode task: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown component variant %q", variant)
	}
}

type componentJSON struct {
	ID           string           `json:"id"`
	StepID       string           `json:"stepId"`
	Title        string           `json:"title"`
	Variant      ComponentVariant `json:"variant"`
	Content      json.RawMessage  `json:"content"`
	OrderKey     string           `json:"orderKey"`
	IsRequired   bool             `json:"isRequired"`
	MaxAttempts  int              `json:"maxAttempts"`
	MinimumScore int              `json:"minimumScore"`
}

// MarshalJSON writes the variant content inline.
func (c Component) MarshalJSON() ([]byte, error) {
	out := componentJSON{
		ID:           c.ID,
		StepID:       c.StepID,
		Title:        c.Title,
		Variant:      c.Variant,
		OrderKey:     c.OrderKey,
		IsRequired:   c.IsRequired,
		MaxAttempts:  c.MaxAttempts,
		MinimumScore: c.MinimumScore,
	}
	if c.Content != nil {
		raw, err := EncodeContent(c.Content)
		if err != nil {
			return nil, err
		}
		out.Content = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the content according to the variant.
func (c *Component) UnmarshalJSON(data []byte) error {
	var in componentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = Component{
		ID:           in.ID,
		StepID:       in.StepID,
		Title:        in.Title,
		Variant:      in.Variant,
		OrderKey:     in.OrderKey,
		IsRequired:   in.IsRequired,
		MaxAttempts:  in.MaxAttempts,
		MinimumScore: in.MinimumScore,
	}
	if len(in.Content) > 0 && string(in.Content) != "null" {
		content, err := DecodeContent(in.Variant, in.Content)
		if err != nil {
			return err
		}
		c.Content = content
	}
	return nil
}
