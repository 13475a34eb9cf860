package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLlamaClientStreamsUntilStop(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/completion" {
			t.Fatalf("request = %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w,
			"data: {\"content\":\"```sql\\n\",\"stop\":false}\n\n"+
				"data: {\"content\":\"SELECT 1\",\"stop\":false}\n\n"+
				"data: {not json\n\n"+
				"data: {\"content\":\"\\n```\",\"stop\":false}\n\n"+
				"data: {\"content\":\"\",\"stop\":true}\n\n"+
				"data: {\"content\":\"after stop\",\"stop\":false}\n\n",
		)
	}))
	defer server.Close()

	client, err := NewLlamaClient(LlamaConfig{BaseURL: server.URL + "/", Temperature: 0.1})
	if err != nil {
		t.Fatalf("NewLlamaClient() error = %v", err)
	}

	var chunks []Chunk
	got, err := client.Stream(context.Background(), "list users", func(chunk Chunk) {
		chunks = append(chunks, chunk)
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got != "```sql\nSELECT 1\n```" {
		t.Fatalf("Stream() = %q", got)
	}
	if len(chunks) != 5 {
		t.Fatalf("observed %d chunks, want 5", len(chunks))
	}
	if chunks[2].Status != ChunkSkipped || chunks[2].Err == nil {
		t.Fatalf("malformed chunk = %+v, want skipped with error", chunks[2])
	}
	if !chunks[4].Stop || chunks[4].Status != ChunkParsed {
		t.Fatalf("last chunk = %+v, want parsed stop", chunks[4])
	}

	if payload["prompt"] != "list users" || payload["stream"] != true {
		t.Fatalf("payload = %v", payload)
	}
	if payload["temperature"] != 0.1 || payload["repetition_penalty"] != 1.18 || payload["n_predict"] != float64(500) {
		t.Fatalf("sampling payload = %v", payload)
	}
}

func TestLlamaClientEmptyStreamIsValid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "data: garbage\n\nshort\n")
	}))
	defer server.Close()

	client, err := NewLlamaClient(LlamaConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewLlamaClient() error = %v", err)
	}
	got, err := client.Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "" {
		t.Fatalf("Complete() = %q, want empty", got)
	}
}

func TestLlamaClientSkipsOversizedEvent(t *testing.T) {
	oversized := "data: " + strings.Repeat("garbage", (2<<20)/len("garbage"))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w,
			"data: {\"content\":\"SELECT \",\"stop\":false}\n\n"+
				oversized+"\n\n"+
				"data: {\"content\":\"1\",\"stop\":false}\n\n"+
				"data: {\"content\":\"\",\"stop\":true}\n\n",
		)
	}))
	defer server.Close()

	client, err := NewLlamaClient(LlamaConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewLlamaClient() error = %v", err)
	}
	var chunks []Chunk
	got, err := client.Stream(context.Background(), "one", func(chunk Chunk) {
		chunks = append(chunks, chunk)
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got != "SELECT 1" {
		t.Fatalf("Stream() = %q, want %q", got, "SELECT 1")
	}
	if len(chunks) != 4 {
		t.Fatalf("observed %d chunks, want 4", len(chunks))
	}
	if chunks[1].Status != ChunkSkipped || !errors.Is(chunks[1].Err, errStreamLineTooLong) {
		t.Fatalf("oversized chunk = %+v, want skipped line-too-long", chunks[1].Status)
	}
	if len(chunks[1].Raw) > 128 {
		t.Fatalf("oversized chunk kept %d raw bytes", len(chunks[1].Raw))
	}
}

func TestLlamaClientUsesFinalLineWithoutNewline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "data: {\"content\":\"SELECT 2\",\"stop\":false}")
	}))
	defer server.Close()

	client, err := NewLlamaClient(LlamaConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewLlamaClient() error = %v", err)
	}
	got, err := client.Complete(context.Background(), "two")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "SELECT 2" {
		t.Fatalf("Complete() = %q", got)
	}
}

func TestLlamaClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewLlamaClient(LlamaConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewLlamaClient() error = %v", err)
	}
	_, err = client.Complete(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "status=503") {
		t.Fatalf("Complete() error = %v, want status 503", err)
	}
}

func TestLlamaClientTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, err := NewLlamaClient(LlamaConfig{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewLlamaClient() error = %v", err)
	}
	if _, err := client.Complete(context.Background(), "hello"); err == nil {
		t.Fatal("Complete() error = nil, want timeout")
	}
}

func TestNewLlamaClientRequiresBaseURL(t *testing.T) {
	if _, err := NewLlamaClient(LlamaConfig{BaseURL: "  "}); err == nil {
		t.Fatal("NewLlamaClient() error = nil")
	}
}

func TestParseChunk(t *testing.T) {
	chunk := parseChunk(`data: {"content":"hi","stop":false}`)
	if chunk.Status != ChunkParsed || chunk.Content != "hi" || chunk.Stop {
		t.Fatalf("parseChunk() = %+v", chunk)
	}
	if chunk := parseChunk(`data: {"content":"hi"}`); chunk.Status != ChunkSkipped {
		t.Fatalf("chunk without stop = %+v, want skipped", chunk)
	}
	if chunk := parseChunk("data: "); chunk.Status != ChunkSkipped {
		t.Fatalf("bare prefix = %+v, want skipped", chunk)
	}
}
