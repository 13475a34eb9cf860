package nl2sql

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pgquery/pgquery/internal/observability"
)

const (
	ProviderLlama = "llama"

	streamPrefixLen   = len("data: ")
	maxStreamLineSize = 1 << 20
)

type ChunkStatus string

const (
	ChunkParsed  ChunkStatus = "parsed"
	ChunkSkipped ChunkStatus = "skipped"
)

// Chunk is one event of a completion stream. Skipped chunks carry the decode error.
type Chunk struct {
	Status  ChunkStatus
	Content string
	Stop    bool
	Raw     string
	Err     error
}

type LlamaConfig struct {
	BaseURL           string
	Temperature       float64
	RepetitionPenalty float64
	NPredict          int
	Timeout           time.Duration
}

// LlamaClient talks to a llama.cpp style /completion endpoint with streaming enabled.
type LlamaClient struct {
	baseURL           string
	temperature       float64
	repetitionPenalty float64
	nPredict          int
	client            *http.Client
}

func NewLlamaClient(cfg LlamaConfig) (*LlamaClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	temperature := cfg.Temperature
	if temperature < 0 {
		temperature = 0.1
	}
	penalty := cfg.RepetitionPenalty
	if penalty <= 0 {
		penalty = 1.18
	}
	nPredict := cfg.NPredict
	if nPredict <= 0 {
		nPredict = 500
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &LlamaClient{
		baseURL:           baseURL,
		temperature:       temperature,
		repetitionPenalty: penalty,
		nPredict:          nPredict,
		client:            &http.Client{Timeout: timeout},
	}, nil
}

func (c *LlamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.Stream(ctx, prompt, nil)
}

// Stream sends prompt and accumulates streamed content until the server signals stop
// or closes the stream. observe, when set, receives every chunk in arrival order.
func (c *LlamaClient) Stream(ctx context.Context, prompt string, observe func(Chunk)) (string, error) {
	start := time.Now()
	body, err := json.Marshal(map[string]any{
		"prompt":             prompt,
		"temperature":        c.temperature,
		"repetition_penalty": c.repetitionPenalty,
		"n_predict":          c.nPredict,
		"stream":             true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		rawRespBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var response strings.Builder
	reader := bufio.NewReaderSize(resp.Body, 64*1024)
	for {
		line, oversized, readErr := readStreamLine(reader, maxStreamLineSize)
		if oversized || strings.TrimSpace(line) != "" {
			chunk := Chunk{Status: ChunkSkipped, Raw: truncateRaw(line), Err: errStreamLineTooLong}
			if !oversized {
				chunk = parseChunk(line)
			}
			observability.ObserveCompletionChunk(string(chunk.Status))
			if observe != nil {
				observe(chunk)
			}
			if chunk.Status == ChunkParsed && chunk.Stop {
				break
			}
			if chunk.Status == ChunkParsed {
				response.WriteString(chunk.Content)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return "", fmt.Errorf("read completion stream: %w", readErr)
		}
	}

	observability.ObserveCompletion(ProviderLlama, time.Since(start))
	return response.String(), nil
}

var errStreamLineTooLong = fmt.Errorf("stream event exceeds %d bytes", maxStreamLineSize)

// readStreamLine returns the next line without its terminator. A line longer than
// limit is consumed up to its newline and reported as oversized with only its prefix.
func readStreamLine(r *bufio.Reader, limit int) (string, bool, error) {
	var line []byte
	oversized := false
	for {
		fragment, err := r.ReadSlice('\n')
		if !oversized {
			if len(line)+len(fragment) > limit {
				oversized = true
				line = append(line, fragment[:limit-len(line)]...)
			} else {
				line = append(line, fragment...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return strings.TrimRight(string(line), "\r\n"), oversized, err
	}
}

func truncateRaw(line string) string {
	const keep = 128
	if len(line) <= keep {
		return line
	}
	return line[:keep]
}

func parseChunk(line string) Chunk {
	if len(line) <= streamPrefixLen {
		return Chunk{Status: ChunkSkipped, Raw: line, Err: errors.New("chunk shorter than event prefix")}
	}
	var event struct {
		Content string `json:"content"`
		Stop    *bool  `json:"stop"`
	}
	if err := json.Unmarshal([]byte(line[streamPrefixLen:]), &event); err != nil {
		return Chunk{Status: ChunkSkipped, Raw: line, Err: err}
	}
	if event.Stop == nil {
		return Chunk{Status: ChunkSkipped, Raw: line, Err: errors.New("chunk has no stop field")}
	}
	return Chunk{Status: ChunkParsed, Content: event.Content, Stop: *event.Stop, Raw: line}
}
