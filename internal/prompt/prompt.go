// Package prompt keeps the per-session catalog of system prompts that steer
// the assistant. Built-in prompts cannot be edited; custom prompts can.
package prompt

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrPromptNotFound  = errors.New("system prompt not found")
	ErrBuiltinPrompt   = errors.New("built-in system prompts cannot be modified")
	ErrInvalidPrompt   = errors.New("system prompt requires a name and prompt text")
	ErrInvalidCategory = errors.New("unknown system prompt category")
)

// Category groups prompts by health topic
type Category string

const (
	CategoryGeneral        Category = "general"
	CategoryMentalHealth   Category = "mental_health"
	CategoryPhysicalHealth Category = "physical_health"
	CategoryNutrition      Category = "nutrition"
	CategoryFitness        Category = "fitness"
)

// ParseCategory validates a category name; empty means general
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.TrimSpace(s)); c {
	case "":
		return CategoryGeneral, nil
	case CategoryGeneral, CategoryMentalHealth, CategoryPhysicalHealth, CategoryNutrition, CategoryFitness:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
}

// SystemPrompt is an instruction set the assistant can be steered with
type SystemPrompt struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Prompt      string   `json:"prompt"`
	Category    Category `json:"category"`
	Custom      bool     `json:"custom"`
	Active      bool     `json:"active"`
}

// Input carries the editable fields of a custom prompt
type Input struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=500"`
	Prompt      string `json:"prompt" validate:"required"`
	Category    string `json:"category" validate:"omitempty,oneof=general mental_health physical_health nutrition fitness"`
}

func builtins() []SystemPrompt {
	return []SystemPrompt{
		{
			ID:          "general_health",
			Name:        "General Health Assistant",
			Description: "Provides general health guidance and wellness advice",
			Prompt:      "You are a knowledgeable health assistant. Provide helpful, accurate health information while always recommending users consult healthcare professionals for medical concerns. Focus on wellness, prevention, and general health education.",
			Category:    CategoryGeneral,
		},
		{
			ID:          "mental_health",
			Name:        "Mental Health Support",
			Description: "Offers mental health support and mindfulness guidance",
			Prompt:      "You are a compassionate mental health support assistant. Provide emotional support, stress management techniques, and mindfulness practices. Always encourage professional help for serious mental health concerns and be empathetic in your responses.",
			Category:    CategoryMentalHealth,
		},
		{
			ID:          "nutrition_coach",
			Name:        "Nutrition Coach",
			Description: "Provides nutritional advice and meal planning guidance",
			Prompt:      "You are a certified nutrition coach. Help users with meal planning, nutritional advice, dietary recommendations, and healthy eating habits. Consider individual dietary restrictions and health goals while providing evidence-based nutrition information.",
			Category:    CategoryNutrition,
		},
		{
			ID:          "fitness_trainer",
			Name:        "Fitness Trainer",
			Description: "Offers workout plans and fitness guidance",
			Prompt:      "You are a personal fitness trainer. Provide workout routines, exercise guidance, fitness tips, and motivation. Adapt recommendations based on fitness levels and goals while emphasizing proper form and safety.",
			Category:    CategoryFitness,
		},
	}
}

// Catalog holds the prompts of one session; at most one is active
type Catalog struct {
	mu       sync.RWMutex
	prompts  []SystemPrompt
	activeID string
}

// NewCatalog creates a catalog seeded with the built-in prompts
func NewCatalog() *Catalog {
	return &Catalog{prompts: builtins()}
}

// List returns all prompts in display order
func (c *Catalog) List() []SystemPrompt {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]SystemPrompt, len(c.prompts))
	for i, p := range c.prompts {
		p.Active = p.ID == c.activeID
		out[i] = p
	}
	return out
}

func (c *Catalog) Get(id string) (SystemPrompt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := c.indexOf(id)
	if i < 0 {
		return SystemPrompt{}, ErrPromptNotFound
	}
	p := c.prompts[i]
	p.Active = p.ID == c.activeID
	return p, nil
}

// Create adds a custom prompt
func (c *Catalog) Create(in Input) (SystemPrompt, error) {
	p, err := fromInput(in)
	if err != nil {
		return SystemPrompt{}, err
	}
	p.ID = "custom_" + uuid.NewString()
	p.Custom = true

	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, p)
	return p, nil
}

// Update replaces the editable fields of a custom prompt
func (c *Catalog) Update(id string, in Input) (SystemPrompt, error) {
	updated, err := fromInput(in)
	if err != nil {
		return SystemPrompt{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return SystemPrompt{}, ErrPromptNotFound
	}
	if !c.prompts[i].Custom {
		return SystemPrompt{}, ErrBuiltinPrompt
	}

	updated.ID = id
	updated.Custom = true
	c.prompts[i] = updated
	updated.Active = id == c.activeID
	return updated, nil
}

// Delete removes a custom prompt, clearing the selection if it was active
func (c *Catalog) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return ErrPromptNotFound
	}
	if !c.prompts[i].Custom {
		return ErrBuiltinPrompt
	}

	c.prompts = append(c.prompts[:i], c.prompts[i+1:]...)
	if c.activeID == id {
		c.activeID = ""
	}
	return nil
}

// Activate makes id the single active prompt
func (c *Catalog) Activate(id string) (SystemPrompt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return SystemPrompt{}, ErrPromptNotFound
	}
	c.activeID = id
	p := c.prompts[i]
	p.Active = true
	return p, nil
}

// Deactivate clears the active prompt
func (c *Catalog) Deactivate() {
	c.mu.Lock()
	c.activeID = ""
	c.mu.Unlock()
}

// Active returns the active prompt, if any
func (c *Catalog) Active() (SystemPrompt, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.activeID == "" {
		return SystemPrompt{}, false
	}
	i := c.indexOf(c.activeID)
	if i < 0 {
		return SystemPrompt{}, false
	}
	p := c.prompts[i]
	p.Active = true
	return p, true
}

func (c *Catalog) indexOf(id string) int {
	for i, p := range c.prompts {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func fromInput(in Input) (SystemPrompt, error) {
	name := strings.TrimSpace(in.Name)
	text := strings.TrimSpace(in.Prompt)
	if name == "" || text == "" {
		return SystemPrompt{}, ErrInvalidPrompt
	}
	category, err := ParseCategory(in.Category)
	if err != nil {
		return SystemPrompt{}, err
	}
	return SystemPrompt{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Prompt:      text,
		Category:    category,
	}, nil
}
