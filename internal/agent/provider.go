package agent

import (
	"context"
	"errors"
)

// ErrVisionUnsupported is returned by providers without an image pathway.
var ErrVisionUnsupported = errors.New("provider does not support vision")

// Provider is an LLM backend. Adapters translate the engine's neutral message
// shape into the vendor API and back; the engine never sees vendor types.
type Provider interface {
	// Name identifies the backend in logs and traces.
	Name() string

	// Complete asks for the next assistant action given the conversation and
	// the tools currently offered.
	Complete(ctx context.Context, messages []Message, tools []ToolSchema) (AssistantAction, error)

	// Vision describes an image. detail is a provider hint ("low", "high",
	// "auto"); adapters may ignore it.
	Vision(ctx context.Context, imagePNG []byte, prompt, detail string) (string, error)
}
