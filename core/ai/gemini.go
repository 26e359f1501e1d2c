package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/m3rciful/multibot/core/logger"
	"log/slog"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiSpeechBaseURL  = "https://speech.googleapis.com/v1"
	geminiDefaultModel   = "gemini-1.5-flash-latest"
)

// GeminiProvider talks to the Gemini generateContent API for chat and the
// Cloud Speech-to-Text REST API for voice transcription.
type GeminiProvider struct {
	BaseURL       string
	SpeechBaseURL string
	APIKey        string
	Client        *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiGenerateReq struct {
	Contents          []geminiContent       `json:"contents"`
	SystemInstruction *geminiContent        `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig      `json:"generationConfig,omitempty"`
	SafetySettings    []geminiSafetySetting `json:"safetySettings,omitempty"`
}

type geminiGenConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiGenerateResp struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type speechRecognizeReq struct {
	Config speechConfig `json:"config"`
	Audio  speechAudio  `json:"audio"`
}

type speechConfig struct {
	Encoding          string `json:"encoding"`
	SampleRateHertz   int    `json:"sampleRateHertz"`
	LanguageCode      string `json:"languageCode"`
	AudioChannelCount int    `json:"audioChannelCount"`
}

type speechAudio struct {
	Content string `json:"content"`
}

type speechRecognizeResp struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewGemini builds the Gemini-backed provider.
func NewGemini(apiKey string) (*GeminiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	return &GeminiProvider{
		BaseURL:       geminiDefaultBaseURL,
		SpeechBaseURL: geminiSpeechBaseURL,
		APIKey:        apiKey,
		Client:        &http.Client{Timeout: 90 * time.Second},
	}, nil
}

// mapMessages splits the conversation into Gemini contents and an optional
// system instruction. The most recent system message wins; assistant turns
// map to the "model" role.
func mapMessages(messages []ChatMessage) ([]geminiContent, *geminiContent) {
	var system *geminiContent
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
		case RoleAssistant:
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	return contents, system
}

func (p *GeminiProvider) GenerateText(ctx context.Context, messages []ChatMessage, opts *GenerationOptions) (string, error) {
	model := geminiDefaultModel
	temperature := 0.7
	if opts != nil {
		if strings.TrimSpace(opts.Model) != "" {
			model = opts.Model
		}
		if opts.Temperature != 0 {
			temperature = opts.Temperature
		}
	}

	contents, system := mapMessages(messages)
	if len(contents) == 0 {
		return "", errors.New("gemini: no user message to process")
	}

	start := time.Now()
	logger.AI.Debug("chat completion request",
		slog.String("event", "generate"),
		slog.String("provider", "gemini"),
		slog.String("model", model),
		slog.Int("messages", len(messages)),
	)

	body, err := json.Marshal(geminiGenerateReq{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig:  &geminiGenConfig{Temperature: temperature},
		SafetySettings: []geminiSafetySetting{
			{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
		},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", strings.TrimRight(p.BaseURL, "/"), model, p.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gemini: %s", readErrBody(resp))
	}

	var decoded geminiGenerateResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", fmt.Errorf("gemini: %s", decoded.Error.Message)
	}
	text := firstCandidateText(decoded)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini: empty response")
	}

	logger.AI.Info("chat completion done",
		slog.String("event", "generate"),
		slog.String("provider", "gemini"),
		slog.String("model", model),
		slog.Duration("duration", logger.Took(start)),
	)
	return text, nil
}

func (p *GeminiProvider) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	if language == "" {
		language = "en-US"
	}

	start := time.Now()
	logger.AI.Debug("transcription request",
		slog.String("event", "transcribe"),
		slog.String("provider", "gemini"),
		slog.Int("payload", len(audio)),
		slog.String("lang", language),
	)

	body, err := json.Marshal(speechRecognizeReq{
		Config: speechConfig{
			Encoding:          "OGG_OPUS",
			SampleRateHertz:   16000,
			LanguageCode:      language,
			AudioChannelCount: 1,
		},
		Audio: speechAudio{Content: base64.StdEncoding.EncodeToString(audio)},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/speech:recognize?key=%s", strings.TrimRight(p.SpeechBaseURL, "/"), p.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gemini: %s", readErrBody(resp))
	}

	var decoded speechRecognizeResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("gemini: decode transcription: %w", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", fmt.Errorf("gemini: %s", decoded.Error.Message)
	}

	var parts []string
	for _, r := range decoded.Results {
		if len(r.Alternatives) > 0 && r.Alternatives[0].Transcript != "" {
			parts = append(parts, r.Alternatives[0].Transcript)
		}
	}
	text := strings.Join(parts, " ")
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini: empty transcription")
	}

	logger.AI.Info("transcription done",
		slog.String("event", "transcribe"),
		slog.String("provider", "gemini"),
		slog.Duration("duration", logger.Took(start)),
	)
	return text, nil
}

func firstCandidateText(resp geminiGenerateResp) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}
