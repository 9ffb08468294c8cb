package model

import (
	"context"
)

// Generator defines the standard interface for a text-generation backend.
type Generator interface {
	// Generate sends the prompt to the backend and returns its text output.
	Generate(ctx context.Context, prompt string) (string, error)
}
