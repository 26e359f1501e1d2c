package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/m3rciful/multibot/core/logger"
	"log/slog"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIDefaultModel   = "gpt-3.5-turbo"
	openAIWhisperModel   = "whisper-1"
)

// OpenAIProvider talks to the OpenAI chat-completions and Whisper APIs.
type OpenAIProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type openAIChatReq struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type openAIChatResp struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAITranscriptionResp struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAI builds the OpenAI-backed provider.
func NewOpenAI(apiKey string) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	return &OpenAIProvider{
		BaseURL: openAIDefaultBaseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}, nil
}

func (p *OpenAIProvider) GenerateText(ctx context.Context, messages []ChatMessage, opts *GenerationOptions) (string, error) {
	model := openAIDefaultModel
	temperature := 0.7
	if opts != nil {
		if strings.TrimSpace(opts.Model) != "" {
			model = opts.Model
		}
		if opts.Temperature != 0 {
			temperature = opts.Temperature
		}
	}

	start := time.Now()
	logger.AI.Debug("chat completion request",
		slog.String("event", "generate"),
		slog.String("provider", "openai"),
		slog.String("model", model),
		slog.Int("messages", len(messages)),
	)

	body, err := json.Marshal(openAIChatReq{Model: model, Messages: messages, Temperature: temperature})
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(p.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai: %s", readErrBody(resp))
	}

	var decoded openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", fmt.Errorf("openai: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", errors.New("openai: empty response")
	}

	logger.AI.Info("chat completion done",
		slog.String("event", "generate"),
		slog.String("provider", "openai"),
		slog.String("model", model),
		slog.Duration("duration", logger.Took(start)),
	)
	return decoded.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	start := time.Now()
	logger.AI.Debug("transcription request",
		slog.String("event", "transcribe"),
		slog.String("provider", "openai"),
		slog.Int("payload", len(audio)),
		slog.String("lang", language),
	)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "audio.ogg")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := w.WriteField("model", openAIWhisperModel); err != nil {
		return "", err
	}
	if language != "" {
		if err := w.WriteField("language", language); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	url := strings.TrimRight(p.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai: %s", readErrBody(resp))
	}

	var decoded openAITranscriptionResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("openai: decode transcription: %w", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", fmt.Errorf("openai: %s", decoded.Error.Message)
	}
	if strings.TrimSpace(decoded.Text) == "" {
		return "", errors.New("openai: empty transcription")
	}

	logger.AI.Info("transcription done",
		slog.String("event", "transcribe"),
		slog.String("provider", "openai"),
		slog.Duration("duration", logger.Took(start)),
	)
	return decoded.Text, nil
}

func readErrBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return msg
}
