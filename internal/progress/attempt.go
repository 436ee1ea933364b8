package progress

import (
	"encoding/json"
	"strings"

	"flowtrack/internal/apperr"
	"flowtrack/internal/model"
)

// Attempt is one completion attempt submitted by a learner
type Attempt struct {
	Score   *int
	Payload json.RawMessage
}

// Outcome is the result of evaluating an attempt
type Outcome struct {
	Status model.ProgressStatus
	Passed bool
	Reason string
}

// Evaluate decides the status after an attempt. attemptCount already includes
// this attempt. A failed gate leaves the row InProgress until attempts run out.
func Evaluate(comp *model.ComponentSnapshot, attemptCount int, a Attempt) (Outcome, error) {
	if a.Score != nil && *a.Score < 0 {
		return Outcome{}, apperr.InvalidArgument("score must not be negative, got %d", *a.Score)
	}

	passed := true
	reason := ""

	if comp.MinimumScore > 0 {
		if a.Score == nil {
			return Outcome{}, apperr.InvalidArgument("component %s requires a score", comp.ID)
		}
		if *a.Score < comp.MinimumScore {
			passed = false
			reason = "score below minimum"
		}
	}

	if passed && comp.Variant == model.VariantTask {
		ok, err := codeWordMatches(comp, a.Payload)
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			passed = false
			reason = "code word mismatch"
		}
	}

	if passed {
		return Outcome{Status: model.ProgressStatusCompleted, Passed: true}, nil
	}
	if comp.MaxAttempts > 0 && attemptCount >= comp.MaxAttempts {
		return Outcome{Status: model.ProgressStatusFailed, Reason: reason}, nil
	}
	return Outcome{Status: model.ProgressStatusInProgress, Reason: reason}, nil
}

func codeWordMatches(comp *model.ComponentSnapshot, payload json.RawMessage) (bool, error) {
	content, err := comp.DecodedContent()
	if err != nil {
		return false, err
	}
	task, ok := content.(model.Task)
	if !ok || strings.TrimSpace(task.CodeWord) == "" {
		return true, nil
	}
	if len(payload) == 0 {
		return false, nil
	}
	var body struct {
		CodeWord string `json:"codeWord"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return false, apperr.Wrap(apperr.KindInvalidArgument, err, "malformed task payload")
	}
	return strings.EqualFold(strings.TrimSpace(body.CodeWord), strings.TrimSpace(task.CodeWord)), nil
}
