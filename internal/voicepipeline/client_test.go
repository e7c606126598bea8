package voicepipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestClient_SpeechToText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voice/stt" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("expected multipart form: %v", err)
		}
		json.NewEncoder(w).Encode(sttResponse{Text: "hello world", Confidence: 0.9})
	}))
	defer server.Close()

	audioPath := t.TempDir() + "/in.wav"
	if err := os.WriteFile(audioPath, []byte("fake-wav"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, confidence, err := client.SpeechToText(context.Background(), audioPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" || confidence != 0.9 {
		t.Fatalf("unexpected result: %q %v", text, confidence)
	}
}

func TestClient_TextToSpeech(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/voice/tts":
			json.NewEncoder(w).Encode(ttsResponse{AudioFileID: "abc123"})
		case "/voice/audio/abc123":
			w.Write([]byte("fake-audio-bytes"))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outPath := t.TempDir() + "/out.wav"
	if err := client.TextToSpeech(context.Background(), "hello", "voice-1", "en", outPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "fake-audio-bytes" {
		t.Fatalf("unexpected audio content: %q", data)
	}
}

func TestClient_NewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatalf("expected error for missing base URL")
	}
}
