package similarity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxInputRunes bounds the text sent to the embedding endpoint.
const maxInputRunes = 2000

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
}

// HTTPEmbedder calls an OpenAI-style embeddings endpoint:
// POST {"input": text} → {"data": [{"embedding": [...]}]}.
type HTTPEmbedder struct {
	url    string
	model  string
	client *http.Client
}

// NewHTTPEmbedder creates an embedder for the given endpoint. model is sent
// along with the input when non-empty.
func NewHTTPEmbedder(url, model string, timeout time.Duration) *HTTPEmbedder {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPEmbedder{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPEmbedder) Model() string { return "http:" + h.model }

// Embed sends text to the endpoint and returns the first embedding vector.
func (h *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	reqBody := map[string]any{
		"input": truncateRunes(text, maxInputRunes),
	}
	if h.model != "" {
		reqBody["model"] = h.model
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("embed status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embed api returned no embeddings")
	}
	return result.Data[0].Embedding, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
