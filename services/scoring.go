package services

import (
	"fmt"
	"strings"

	"fishquiz/models"

	"github.com/shopspring/decimal"
)

const (
	MaxScore     = 5
	PassingScore = 3.5
)

var passingScore = decimal.NewFromFloat(PassingScore)

// ComputeScore grades correct out of total on the 0 to MaxScore scale,
// rounded half up to one decimal place. No answers scores zero.
func ComputeScore(correct, total int) decimal.Decimal {
	if total <= 0 || correct <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(correct)).
		Mul(decimal.NewFromInt(MaxScore)).
		Div(decimal.NewFromInt(int64(total))).
		Round(1)
}

func StatusForScore(score decimal.Decimal) models.EvaluationStatus {
	if score.GreaterThanOrEqual(passingScore) {
		return models.EvaluationCompleted
	}
	return models.EvaluationFailed
}

// DuplicatePolicy decides which submission counts when a question is
// answered more than once in one evaluation.
type DuplicatePolicy int

const (
	KeepLast DuplicatePolicy = iota
	KeepFirst
)

func (p DuplicatePolicy) String() string {
	if p == KeepFirst {
		return "first"
	}
	return "last"
}

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last":
		return KeepLast, nil
	case "first":
		return KeepFirst, nil
	}
	return KeepLast, fmt.Errorf("unknown duplicate answer policy %q", s)
}

// dedupe collapses submissions to one per question. Questions keep the
// position of their first appearance whichever answer wins.
func dedupe(submissions []Submission, policy DuplicatePolicy) []Submission {
	index := make(map[uint]int, len(submissions))
	out := make([]Submission, 0, len(submissions))
	for _, s := range submissions {
		i, seen := index[s.QuestionID]
		if !seen {
			index[s.QuestionID] = len(out)
			out = append(out, s)
			continue
		}
		if policy == KeepLast {
			out[i] = s
		}
	}
	return out
}
