package llm

// #region imports
import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// #endregion

// #region client-struct

// Client talks to an OpenAI-compatible completion/embedding service and
// implements Generator, Critic, and Embedder. Generation and scoring are
// the only latency-heavy calls in the pipeline, so every request carries
// the caller's context deadline and passes through a shared rate limiter.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	httpc      *http.Client
	limiter    *rate.Limiter
}

// Options configures a Client. Zero fields fall back to defaults.
type Options struct {
	BaseURL           string
	APIKey            string
	Model             string
	EmbedModel        string
	Timeout           time.Duration
	RequestsPerMinute int
}

// NewClient creates a collaborator client.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RequestsPerMinute == 0 {
		opts.RequestsPerMinute = 60
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		embedModel: opts.EmbedModel,
		httpc:      &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1),
	}
}

// #endregion

// #region wire-types

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// #endregion

// #region generate

// Generate sends the assembled prompt to the completion endpoint. Prior
// critic feedback is attached as a separate revision instruction block.
func (c *Client) Generate(ctx context.Context, prompt, feedback string) (string, error) {
	content := prompt
	if feedback != "" {
		content = fmt.Sprintf(
			"%s\n\n[REVISION NOTES]\nThe previous draft was rejected. Address this feedback:\n%s",
			prompt, feedback)
	}
	resp, err := c.chat(ctx, content)
	if err != nil {
		return "", errors.Wrap(err, "generate")
	}
	return resp, nil
}

// #endregion

// #region score

// Score asks the critic model for a JSON verdict on the draft. A response
// that cannot be parsed degrades to a mid-band score so the loop keeps
// refining instead of aborting.
func (c *Client) Score(ctx context.Context, draft, criteria string) (Evaluation, error) {
	prompt := fmt.Sprintf(`You are a strict critic. Evaluate the rewritten text below.

[EVALUATION CRITERIA]
%s

Respond ONLY in this JSON format:
{"score": <integer 0-100>, "feedback": "<1-2 sentences explaining deductions>"}

[TEXT TO EVALUATE]
%s`, criteria, clip(draft, 7000))

	resp, err := c.chat(ctx, prompt)
	if err != nil {
		return Evaluation{}, errors.Wrap(err, "score")
	}

	var verdict struct {
		Score    int    `json:"score"`
		Feedback string `json:"feedback"`
	}
	raw, ok := extractJSON(resp)
	if !ok || json.Unmarshal([]byte(raw), &verdict) != nil {
		log.Printf("[LLM] critic response was not valid JSON, degrading to score 50")
		return Evaluation{Score: 50, Feedback: "critic response could not be parsed"}, nil
	}
	if verdict.Score < 0 {
		verdict.Score = 0
	}
	if verdict.Score > 100 {
		verdict.Score = 100
	}
	return Evaluation{Score: verdict.Score, Feedback: verdict.Feedback}, nil
}

// #endregion

// #region embed

// Embed requests a vector for text from the embedding endpoint.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResponse
	err := c.post(ctx, "/v1/embeddings", embedRequest{Model: c.embedModel, Input: []string{text}}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "embed")
	}
	if len(out.Data) == 0 {
		return nil, MarkRetryable(errors.New("embed: empty response"))
	}
	return out.Data[0].Embedding, nil
}

// #endregion

// #region transport

func (c *Client) chat(ctx context.Context, content string) (string, error) {
	req := chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: content}},
	}
	var out chatResponse
	if err := c.post(ctx, "/v1/chat/completions", req, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", MarkRetryable(errors.New("empty completion response"))
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return MarkRetryable(errors.Wrap(err, "rate limit wait"))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return MarkRetryable(errors.Wrapf(err, "POST %s", path))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return MarkRetryable(errors.Wrapf(err, "read %s response", path))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Auth faults never fix themselves on retry.
		return errors.Newf("%s: status %d: %s", path, resp.StatusCode, clip(string(raw), 200))
	default:
		return MarkRetryable(errors.Newf("%s: status %d: %s", path, resp.StatusCode, clip(string(raw), 200)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return MarkRetryable(errors.Wrapf(err, "decode %s response", path))
	}
	return nil
}

// #endregion

// #region helpers

// extractJSON pulls the outermost JSON object out of a model response that
// may wrap it in prose or code fences.
func extractJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// #endregion
