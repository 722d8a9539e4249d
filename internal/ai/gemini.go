package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// systemInstruction constrains the model to the structured JSON contract
// the workspace runtime and clients consume.
const systemInstruction = `You are an expert web developer. You write modular, maintainable code, create files as needed, and keep previously working code working.

IMPORTANT CONTEXT:
The user is working in a sandboxed Node.js workspace. This environment supports:
- Node.js / NPM
- JavaScript / TypeScript
- React / Vite / Next.js
- HTML / CSS
- Tailwind CSS

CRITICAL RESTRICTION:
- ONLY write code in the languages listed above.
- NEVER suggest compilers or interpreters for C++, Python, Java, C#, or PHP; they are NOT available.
- If the user asks for a non-web language, politely explain the limitation and offer a JavaScript-based alternative.
- Handle errors and edge cases in your code.
- Don't use file names like routes/index.js.

JSON RESPONSE FORMAT:
You must always respond in the following JSON format:
{
    "text": "Your feedback or explanation for the user.",
    "fileTree": {
        "fileName": {
            "file": {
                "contents": "File content goes here"
            }
        }
    },
    "buildCommand": {
        "mainItem": "npm",
        "commands": ["install"]
    },
    "startCommand": {
        "mainItem": "npm",
        "commands": ["start"]
    }
}`

const generateContentAction = "generateContent"

// GeminiAPI implements ModelAPI against the Gemini API.
type GeminiAPI struct {
	client *genai.Client
}

// NewGeminiAPI creates a Gemini-backed model API.
func NewGeminiAPI(ctx context.Context, apiKey string) (*GeminiAPI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiAPI{client: client}, nil
}

// ListModels fetches the live model list and marks which candidates
// support text generation. Deliberately uncached: one fresh listing per
// prompt.
func (g *GeminiAPI) ListModels(ctx context.Context) ([]Candidate, error) {
	var candidates []Candidate
	for model, err := range g.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list models: %w", err)
		}
		if model == nil || model.Name == "" {
			continue
		}
		supported := false
		for _, action := range model.SupportedActions {
			if action == generateContentAction {
				supported = true
				break
			}
		}
		candidates = append(candidates, Candidate{
			ID:                 NormalizeModelID(model.Name),
			SupportsGeneration: supported,
		})
	}
	return candidates, nil
}

// Generate invokes one model with the prompt under the structured-JSON
// system instruction.
func (g *GeminiAPI) Generate(ctx context.Context, modelID, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, modelID, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.4),
	})
	if err != nil {
		return "", fmt.Errorf("generate content with %s: %w", modelID, err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("model %s returned an empty response", modelID)
	}
	return text, nil
}
