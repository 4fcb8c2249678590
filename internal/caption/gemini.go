package caption

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const titlePrompt = "Suggest a short display title (at most six words) for this exhibit photo. Respond with the title only, no quotes or punctuation."

// Gemini suggests display titles for newly added photos using Google
// Gemini. Suggestions are best-effort: the pipeline drops them on error.
type Gemini struct {
	apiKey string
	model  string
}

// NewGemini returns a new Gemini captioner
func NewGemini(apiKey, model string) *Gemini {
	return &Gemini{apiKey: apiKey, model: model}
}

// SuggestTitle asks Gemini for a short title for the given JPEG image.
func (g *Gemini) SuggestTitle(ctx context.Context, imageData []byte) (string, error) {
	if g.apiKey == "" {
		return "", fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return "", fmt.Errorf("failed to create new gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(g.model)
	model.SetTemperature(0.2)

	resp, err := model.GenerateContent(ctx, genai.ImageData("jpeg", imageData), genai.Text(titlePrompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate caption: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned from Gemini")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("empty content returned from Gemini")
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	title := strings.TrimSpace(sb.String())
	if title == "" {
		return "", fmt.Errorf("no text content returned from Gemini")
	}
	return title, nil
}
