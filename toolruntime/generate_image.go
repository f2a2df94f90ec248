package toolruntime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/parlorchat/parlor/models"
)

// GenerateImageTool returns the FunctionDeclaration for Gemini image
// generation.
func GenerateImageTool() models.FunctionDeclaration {
	return models.FunctionDeclaration{
		Name:        "generate_image",
		Description: "Generate an image from a text prompt using Gemini's image generation model. Returns a markdown image link.",
		Parameters: models.Parameters{
			Type: "object",
			Properties: map[string]interface{}{
				"prompt": map[string]interface{}{
					"type":        "string",
					"description": "Description of the image to generate",
				},
			},
			Required: []string{"prompt"},
		},
		Callable: generateImage,
	}
}

func generateImage(args map[string]interface{}) (string, error) {
	prompt := stringArg(args, "prompt")
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("generate_image requires a non-empty prompt")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create Gemini client: %w", err)
	}

	result, err := client.Models.GenerateContent(
		ctx,
		"gemini-2.5-flash-image",
		genai.Text(prompt),
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate image: %w", err)
	}

	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("no image generated in response")
	}

	for _, part := range result.Candidates[0].Content.Parts {
		if part.InlineData == nil {
			continue
		}

		imageBytes := part.InlineData.Data
		mimeType := part.InlineData.MIMEType

		extension := "png"
		if strings.Contains(mimeType, "jpeg") || strings.Contains(mimeType, "jpg") {
			extension = "jpg"
		} else if strings.Contains(mimeType, "webp") {
			extension = "webp"
		}

		timestamp := time.Now().Format("20060102_150405")
		filename := fmt.Sprintf("generated_image_%s.%s", timestamp, extension)

		imagesDir := "images"
		if err := os.MkdirAll(imagesDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create images directory: %w", err)
		}

		filePath := filepath.Join(imagesDir, filename)
		if err := os.WriteFile(filePath, imageBytes, 0644); err != nil {
			return "", fmt.Errorf("failed to save image: %w", err)
		}

		serverHost := os.Getenv("SERVER_HOST")
		if serverHost == "" {
			serverHost = "http://localhost:8080"
		}

		imageURL := fmt.Sprintf("%s/images/%s", serverHost, filename)
		return fmt.Sprintf("![Generated: %s](%s)\n\nImage generated successfully for prompt: %q", prompt, imageURL, prompt), nil
	}

	return "", fmt.Errorf("no image data found in response")
}
