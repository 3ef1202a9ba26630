package tasks

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/linecraftx/linecraft-bot/internal/analyzer"
)

func formatSolution(sol *analyzer.Solution) string {
	text := "Answer: " + formatAnswer(sol.Answer)
	if sol.Justification != "" {
		text += "\n\nWhy: " + sol.Justification
	}
	return text
}

func formatAnswer(a analyzer.Answer) string {
	switch a.Type {
	case "boolean":
		if a.BooleanAnswer != nil {
			return strconv.FormatBool(*a.BooleanAnswer)
		}
	case "numeric":
		if a.NumericAnswer != nil {
			return strconv.FormatFloat(*a.NumericAnswer, 'f', -1, 64)
		}
	case "single", "multi":
		if len(a.Selected) > 0 {
			return strings.Join(a.Selected, ", ")
		}
	case "short_answer":
		if a.ShortAnswer != nil {
			return *a.ShortAnswer
		}
	case "abstain":
		return "I can't answer this one confidently."
	}
	return "(no answer)"
}

func formatDateIdea(idea analyzer.DateIdea) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, %s)\n%s", idea.Title, idea.Category, idea.Vibe, idea.Description)
	if idea.Details.LocationName != "" {
		fmt.Fprintf(&b, "\n📍 %s", idea.Details.LocationName)
		if idea.Details.LocationInfo != "" {
			fmt.Fprintf(&b, ", %s", idea.Details.LocationInfo)
		}
	}
	if idea.Details.Notes != "" {
		fmt.Fprintf(&b, "\n%s", idea.Details.Notes)
	}
	return b.String()
}
