package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/hh-matcher/internal/backend"
	"github.com/spigell/hh-matcher/internal/profile"
	"github.com/spigell/hh-matcher/internal/resilience"
)

type stubGenerator struct {
	response   string
	err        error
	lastPrompt string
}

func (s *stubGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	s.lastPrompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func testRequest(validation bool) backend.Request {
	return backend.Request{
		Candidate: profile.Attributes{"skills": []any{"Go", "SQL"}},
		Job:       profile.Attributes{"required_skills": []any{"Go"}},
		Options:   backend.Options{ValidationMode: validation},
	}
}

func TestScorerScore(t *testing.T) {
	stub := &stubGenerator{response: "```json\n{\"scores\": {\"skills\": 92, \"culture\": \"70\", \"location\": null}, \"overall\": \"81\", \"strengths\": [\"Go\"], \"gaps\": \"no Kubernetes\"}\n```"}
	scorer := NewScorer("semantic-nlp", stub, zap.NewNop(), 0)

	res, err := scorer.Score(context.Background(), testRequest(true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Scores[backend.Skills] != 92 {
		t.Fatalf("expected skills 92, got %v", res.Scores[backend.Skills])
	}
	if res.Scores[backend.Preferences] != 70 {
		t.Fatalf("expected culture to map onto preferences, got %v", res.Scores)
	}
	if _, ok := res.Scores[backend.Location]; ok {
		t.Fatalf("expected null location to be omitted")
	}
	if res.Overall != 81 {
		t.Fatalf("expected overall 81, got %v", res.Overall)
	}
	if len(res.Explanation.Gaps) != 1 || res.Explanation.Gaps[0] != "no Kubernetes" {
		t.Fatalf("unexpected gaps: %+v", res.Explanation.Gaps)
	}

	if !strings.Contains(stub.lastPrompt, "Validation mode: true") {
		t.Fatalf("expected validation mode in prompt")
	}
	if !strings.Contains(stub.lastPrompt, `"required_skills"`) {
		t.Fatalf("expected job payload in prompt")
	}
	if strings.Contains(stub.lastPrompt, "{{") {
		t.Fatalf("expected every placeholder to be replaced")
	}
}

func TestScorerMalformedReply(t *testing.T) {
	cases := []string{
		"I think they are a great fit!",
		`{"overall": 80}`,
	}

	for _, reply := range cases {
		scorer := NewScorer("semantic-nlp", &stubGenerator{response: reply}, nil, 0)
		_, err := scorer.Score(context.Background(), testRequest(false))
		if !resilience.IsResponse(err) {
			t.Fatalf("expected response error for %q, got %v", reply, err)
		}
	}
}

func TestScorerErrorClassification(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{name: "rate limited", err: genai.APIError{Code: 429, Message: "quota"}, check: resilience.IsTransient},
		{name: "unavailable", err: genai.APIError{Code: 503, Message: "overloaded"}, check: resilience.IsTransient},
		{name: "bad request", err: genai.APIError{Code: 400, Message: "bad prompt"}, check: resilience.IsResponse},
		{name: "network", err: errors.New("connection refused"), check: resilience.IsTransient},
		{name: "generator not initialized", err: errNotInitialized, check: resilience.IsResponse},
		{name: "empty prompt", err: errEmptyPrompt, check: resilience.IsResponse},
		{name: "empty reply", err: errEmptyResponse, check: resilience.IsResponse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubGenerator{err: tc.err}
			_, err := NewScorer("semantic-nlp", stub, nil, 0).Score(context.Background(), testRequest(false))
			if !tc.check(err) {
				t.Fatalf("unexpected classification: %v", err)
			}
		})
	}
}

func TestScorerWithoutGeneratorClient(t *testing.T) {
	_, err := NewScorer("semantic-nlp", &Generator{}, nil, 0).Score(context.Background(), testRequest(false))
	if !resilience.IsResponse(err) {
		t.Fatalf("expected response error, got %v", err)
	}
	if resilience.IsTransient(err) {
		t.Fatalf("expected local generator failure not to be retried, got %v", err)
	}
}

func TestScorerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stub := &stubGenerator{err: context.Canceled}
	_, err := NewScorer("semantic-nlp", stub, nil, 0).Score(ctx, testRequest(false))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
	}
	for input, want := range cases {
		if got := extractJSON(input); got != want {
			t.Fatalf("extractJSON(%q) = %q, want %q", input, got, want)
		}
	}
}
