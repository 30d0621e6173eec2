package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

func chatOK(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}
}

func testClient(url string) *Client {
	return NewClient(Options{
		BaseURL:           url,
		Model:             "test-model",
		EmbedModel:        "test-embed",
		RequestsPerMinute: 100000,
	})
}

func TestGenerateReturnsContent(t *testing.T) {
	srv := httptest.NewServer(chatOK("the rewritten text"))
	defer srv.Close()

	got, err := testClient(srv.URL).Generate(context.Background(), "rewrite this", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "the rewritten text" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestGenerateAttachesRevisionNotes(t *testing.T) {
	var gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotContent = req.Messages[0].Content
		chatOK("ok")(w, r)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).Generate(context.Background(), "prompt body", "fix the tone"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if want := "[REVISION NOTES]"; !strings.Contains(gotContent, want) {
		t.Fatalf("expected %q in request content:\n%s", want, gotContent)
	}
	if !strings.Contains(gotContent, "fix the tone") {
		t.Fatalf("expected feedback in request content:\n%s", gotContent)
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), "prompt", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Fatalf("503 must be retryable, got %v", err)
	}
}

func TestAuthErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), "prompt", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryable(err) {
		t.Fatalf("401 must not be retryable, got %v", err)
	}
}

func TestNetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(chatOK("unused"))
	srv.Close() // connection refused from here on

	_, err := testClient(srv.URL).Generate(context.Background(), "prompt", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Fatalf("network failure must be retryable, got %v", err)
	}
}

func TestScoreParsesVerdict(t *testing.T) {
	srv := httptest.NewServer(chatOK(`Here is my verdict: {"score": 87, "feedback": "solid but stiff"}`))
	defer srv.Close()

	eval, err := testClient(srv.URL).Score(context.Background(), "draft", "criteria")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if eval.Score != 87 || eval.Feedback != "solid but stiff" {
		t.Fatalf("unexpected evaluation: %+v", eval)
	}
}

func TestScoreClampsRange(t *testing.T) {
	srv := httptest.NewServer(chatOK(`{"score": 140, "feedback": "overflow"}`))
	defer srv.Close()

	eval, err := testClient(srv.URL).Score(context.Background(), "draft", "criteria")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if eval.Score != 100 {
		t.Fatalf("expected clamp to 100, got %d", eval.Score)
	}
}

func TestScoreDegradesOnGarbage(t *testing.T) {
	srv := httptest.NewServer(chatOK("I refuse to answer in JSON today."))
	defer srv.Close()

	eval, err := testClient(srv.URL).Score(context.Background(), "draft", "criteria")
	if err != nil {
		t.Fatalf("unparseable critic output must degrade, not fail: %v", err)
	}
	if eval.Score != 50 {
		t.Fatalf("expected mid-band degrade score 50, got %d", eval.Score)
	}
}

func TestEmbedReturnsVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	vec, err := testClient(srv.URL).Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Fatalf("unexpected vector: %v", vec)
	}
}

func TestMarkRetryableRoundtrip(t *testing.T) {
	base := errors.New("some failure")
	if IsRetryable(base) {
		t.Fatal("plain error must not be retryable")
	}
	marked := MarkRetryable(base)
	if !IsRetryable(marked) {
		t.Fatal("marked error must be retryable")
	}
	wrapped := errors.Wrap(marked, "outer context")
	if !IsRetryable(wrapped) {
		t.Fatal("retryable mark must survive wrapping")
	}
}

