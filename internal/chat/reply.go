package chat

import (
	"fmt"

	"github.com/Rrens/healthchat/internal/prompt"
)

// composeReply builds the placeholder assistant answer. An active system
// prompt changes the opening line to match its category.
func composeReply(content string, active *prompt.SystemPrompt) string {
	base := fmt.Sprintf("This is a response to: \"%s\"", content)
	if active == nil {
		return base
	}

	switch active.Category {
	case prompt.CategoryMentalHealth:
		return "Thank you for sharing how you feel. " + base
	case prompt.CategoryPhysicalHealth:
		return "From a physical health perspective: " + base
	case prompt.CategoryNutrition:
		return "Speaking as your nutrition coach: " + base
	case prompt.CategoryFitness:
		return "Speaking as your fitness trainer: " + base
	default:
		return base
	}
}
