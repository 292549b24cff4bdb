package localinfer

import "context"

// Runtime hosts at most one resident model and serves text completions
// against it. Load of a different model releases the previous one first.
// Close releases everything; the owner calls it when the host app goes
// to the background.
type Runtime interface {
	// Load makes the model at modelPath resident. modelPath points at the
	// first (or only) weight file of the model.
	Load(ctx context.Context, modelPath string) error
	// Complete runs one completion against the loaded model.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
	// Loaded returns the path of the resident model, or "".
	Loaded() string
	// Close releases the resident model and all runtime resources.
	Close(ctx context.Context) error
}
