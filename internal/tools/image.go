package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	ai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"pkdindustries/chatbridge/internal/media"
)

const (
	DefaultOpenAIImageModel = "gpt-image-1"
	DefaultImagenModel      = "imagen-3.0-generate-002"

	maxImagenPrompt = 500
)

// OpenAIImageTool generates images with the OpenAI images API.
type OpenAIImageTool struct {
	client *ai.Client
	model  string
}

// NewOpenAIImageTool builds the tool. baseURL may be empty for the public API.
func NewOpenAIImageTool(apiKey, baseURL string) *OpenAIImageTool {
	cfg := ai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIImageTool{client: ai.NewClientWithConfig(cfg), model: DefaultOpenAIImageModel}
}

func (t *OpenAIImageTool) Definition() Definition {
	return Definition{
		Name:        "gpt_image",
		Description: "Generate images using OpenAI's GPT image model. Provide a prompt describing the desired image. The image is attached to the reply automatically.",
		Parameters: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"prompt": {Type: "string", Description: "A text description of the desired image."},
				"background": {
					Type:        "string",
					Description: "Set transparency for the background: transparent, opaque, or auto.",
					Enum:        []any{"transparent", "opaque", "auto"},
				},
				"output_format": {
					Type:        "string",
					Description: "The format for generated images: png, jpeg, or webp.",
					Enum:        []any{"png", "jpeg", "webp"},
				},
				"quality": {
					Type:        "string",
					Description: "Image quality: auto, high, medium, or low.",
					Enum:        []any{"auto", "high", "medium", "low"},
				},
			},
			Required: []string{"prompt"},
		},
	}
}

func (t *OpenAIImageTool) HandleToolCall(ctx context.Context, args map[string]any) (*Response, error) {
	prompt := stringArg(args, "prompt")
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required and must be a non-empty string")
	}

	format := stringArg(args, "output_format")
	resp, err := t.client.CreateImage(ctx, ai.ImageRequest{
		Prompt:       prompt,
		Model:        t.model,
		Size:         "auto",
		Moderation:   "low",
		User:         UserID(ctx),
		Background:   stringArg(args, "background"),
		OutputFormat: format,
		Quality:      stringArg(args, "quality"),
	})
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}

	mimeType := "image/png"
	if format != "" {
		mimeType = "image/" + format
	}
	var attachments []string
	for _, img := range resp.Data {
		if img.B64JSON != "" {
			attachments = append(attachments, "data:"+mimeType+";base64,"+img.B64JSON)
		}
	}
	if len(attachments) == 0 {
		return nil, errors.New("no image data returned")
	}
	return &Response{Result: "Image(s) generated successfully.", Attachments: attachments}, nil
}

// ImagenTool generates images with Google's Imagen models through the Gemini API.
type ImagenTool struct {
	apiKey string
	model  string

	once   sync.Once
	client *genai.Client
	err    error
}

func NewImagenTool(apiKey string) *ImagenTool {
	return &ImagenTool{apiKey: apiKey, model: DefaultImagenModel}
}

func (t *ImagenTool) Definition() Definition {
	return Definition{
		Name: "generate_image",
		Description: "Generate an image with Google's Imagen. Include the subject, context and style in the prompt. " +
			"Use only when directly asked to generate or create an image. The generated image is attached to the reply automatically.",
		Parameters: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"prompt": {Type: "string", Description: "The prompt for image generation, up to 500 characters."},
			},
			Required: []string{"prompt"},
		},
	}
}

func (t *ImagenTool) genai(ctx context.Context) (*genai.Client, error) {
	t.once.Do(func() {
		if t.apiKey == "" {
			t.err = errors.New("imagen api key is not configured")
			return
		}
		t.client, t.err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  t.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return t.client, t.err
}

func (t *ImagenTool) HandleToolCall(ctx context.Context, args map[string]any) (*Response, error) {
	prompt := strings.TrimSpace(stringArg(args, "prompt"))
	if prompt == "" || len(prompt) > maxImagenPrompt {
		return nil, fmt.Errorf("invalid prompt: must be between 1 and %d characters", maxImagenPrompt)
	}
	client, err := t.genai(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := client.Models.GenerateImages(ctx, t.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages:   1,
		AspectRatio:      "1:1",
		PersonGeneration: genai.PersonGenerationAllowAdult,
	})
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}

	var attachments []string
	for _, img := range resp.GeneratedImages {
		if img == nil || img.Image == nil || len(img.Image.ImageBytes) == 0 {
			continue
		}
		mimeType := img.Image.MIMEType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		attachments = append(attachments, media.Encode(mimeType, img.Image.ImageBytes))
	}
	if len(attachments) == 0 {
		return nil, errors.New("no image data returned")
	}
	return &Response{Result: "The image has been generated", Attachments: attachments}, nil
}
