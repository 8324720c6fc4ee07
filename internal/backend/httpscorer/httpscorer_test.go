package httpscorer

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/spigell/hh-matcher/internal/backend"
	"github.com/spigell/hh-matcher/internal/profile"
	"github.com/spigell/hh-matcher/internal/resilience"
)

func testRequest() backend.Request {
	return backend.Request{
		Candidate: profile.Attributes{"skills": []any{"Go"}, "experience_years": 5},
		Job:       profile.Attributes{"required_skills": []any{"Go"}},
		Options:   backend.Options{ValidationMode: true},
	}
}

func TestScoreSuccess(t *testing.T) {
	var got scoreRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/score" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"scores":{"skills":95,"culture":60},"overall":80,"explanation":{"strengths":["Go"]}}`))
	}))
	defer server.Close()

	client := New("primary", server.URL+"/", "secret-token", nil)
	res, err := client.Score(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if auth != "Bearer secret-token" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
	if !got.Options.ValidationMode {
		t.Fatalf("expected validation mode to be forwarded")
	}
	if res.Scores[backend.Skills] != 95 || res.Scores[backend.Preferences] != 60 {
		t.Fatalf("unexpected scores: %+v", res.Scores)
	}
	if res.Overall != 80 {
		t.Fatalf("expected overall 80, got %v", res.Overall)
	}
	if len(res.Explanation.Strengths) != 1 {
		t.Fatalf("expected explanation to be decoded, got %+v", res.Explanation)
	}
}

func TestScoreGzipResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(`{"scores":{"skills":50,"location":70}}`))
		_ = gz.Close()
	}))
	defer server.Close()

	res, err := New("geo-specialized", server.URL, "", nil).Score(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Overall != 60 {
		t.Fatalf("expected overall to default to the mean, got %v", res.Overall)
	}
}

func TestScoreStatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
		field  string
	}{
		{name: "server error", status: http.StatusBadGateway, check: resilience.IsTransient},
		{name: "rate limited", status: http.StatusTooManyRequests, check: resilience.IsTransient},
		{name: "timeout", status: http.StatusRequestTimeout, check: resilience.IsTransient},
		{name: "bad request", status: http.StatusBadRequest, check: resilience.IsPermanentInput, field: "request"},
		{
			name:   "unprocessable with field",
			status: http.StatusUnprocessableEntity,
			body:   `{"field":"candidate.skills"}`,
			check:  resilience.IsPermanentInput,
			field:  "candidate.skills",
		},
		{name: "not found", status: http.StatusNotFound, check: resilience.IsResponse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := New("primary", server.URL, "", nil).Score(context.Background(), testRequest())
			if err == nil || !tc.check(err) {
				t.Fatalf("unexpected error class: %v", err)
			}

			if tc.field != "" {
				inputErr, ok := err.(*resilience.PermanentInputError)
				if !ok {
					t.Fatalf("expected *PermanentInputError, got %T", err)
				}
				if inputErr.Field != tc.field {
					t.Fatalf("expected field %q, got %q", tc.field, inputErr.Field)
				}
			}
		})
	}
}

func TestScoreMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	_, err := New("primary", server.URL, "", nil).Score(context.Background(), testRequest())
	if !resilience.IsResponse(err) {
		t.Fatalf("expected response error, got %v", err)
	}
}

func TestScoreNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := New("primary", url, "", nil).Score(context.Background(), testRequest())
	if !resilience.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestScoreErrorBodyIsTruncated(t *testing.T) {
	body := `{"detail":"` + strings.Repeat("упс", 200) + `"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	_, err := New("primary", server.URL, "", nil).Score(context.Background(), testRequest())
	if err == nil {
		t.Fatalf("expected an error")
	}

	msg := err.Error()
	if strings.Contains(msg, body) {
		t.Fatalf("expected error body to be truncated, got %q", msg)
	}
	if !strings.Contains(msg, `{"detail":"упс`) || !strings.Contains(msg, "...") {
		t.Fatalf("expected a truncated body preview, got %q", msg)
	}
	if !utf8.ValidString(msg) {
		t.Fatalf("expected preview to keep whole runes, got %q", msg)
	}
}
