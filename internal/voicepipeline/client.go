package voicepipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ClientConfig points the client at the external voice microservice.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client is a pooled, context-scoped HTTP client for the external STT/TTS
// service. One long-lived *http.Client serves every call for the process
// lifetime, in the same spirit as providers.LocalProvider.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient builds a Client; baseURL must be non-empty.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("voicepipeline: base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// sttResponse is the JSON shape POST /voice/stt returns.
type sttResponse struct {
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	ProcessingTime float64 `json:"processing_time"`
}

// SpeechToText uploads an audio file as multipart/form-data to
// POST /voice/stt.
func (c *Client) SpeechToText(ctx context.Context, audioPath string) (text string, confidence float64, err error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return "", 0, fmt.Errorf("voicepipeline: open audio file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return "", 0, fmt.Errorf("voicepipeline: build multipart body: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", 0, fmt.Errorf("voicepipeline: copy audio into request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", 0, fmt.Errorf("voicepipeline: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/voice/stt", &body)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", 0, fmt.Errorf("voicepipeline: stt status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", 0, fmt.Errorf("voicepipeline: decode stt response: %w", err)
	}
	return decoded.Text, decoded.Confidence, nil
}

type ttsRequest struct {
	Text     string `json:"text"`
	VoiceID  string `json:"voice_id,omitempty"`
	Language string `json:"language,omitempty"`
}

type ttsResponse struct {
	AudioFileID string `json:"audio_file_id"`
}

// TextToSpeech posts {text, voice_id, language} to POST /voice/tts, then
// downloads the returned audio id from GET /voice/audio/{id} and writes it
// to outPath.
func (c *Client) TextToSpeech(ctx context.Context, text, voiceID, language, outPath string) error {
	payload, err := json.Marshal(ttsRequest{Text: text, VoiceID: voiceID, Language: language})
	if err != nil {
		return fmt.Errorf("voicepipeline: marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/voice/tts", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("voicepipeline: tts status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded ttsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("voicepipeline: decode tts response: %w", err)
	}
	if decoded.AudioFileID == "" {
		return fmt.Errorf("voicepipeline: tts response missing audio_file_id")
	}

	return c.downloadAudio(ctx, decoded.AudioFileID, outPath)
}

func (c *Client) downloadAudio(ctx context.Context, audioID, outPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voice/audio/"+audioID, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("voicepipeline: audio download status %d", resp.StatusCode)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("voicepipeline: create output file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("voicepipeline: write audio output: %w", err)
	}
	return nil
}

// Voice describes one available TTS voice.
type Voice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

type listVoicesResponse struct {
	Voices []Voice `json:"voices"`
}

// ListVoices fetches the available TTS voices from GET /voices. No
// pipeline stage calls it; the gateway exposes it as a passthrough.
func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("voicepipeline: list voices status %d", resp.StatusCode)
	}

	var decoded listVoicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("voicepipeline: decode voices response: %w", err)
	}
	return decoded.Voices, nil
}

// HealthCheck probes the voice service with a cheap GET /health.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("voicepipeline: health status %d", resp.StatusCode)
	}
	return nil
}
