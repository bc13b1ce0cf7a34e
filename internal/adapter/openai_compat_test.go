package adapter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flemzord/gatewayd/internal/catalog"
)

func TestOpenAICompatForwardsVerbatim(t *testing.T) {
	t.Setenv("COMPAT_TEST_KEY", "sk-test-abcdefghijklmnopqrstu")

	const reqJSON = `{"model":"gpt-x","messages":[{"role":"user","content":"hi"}],"max_tokens":5}`
	const respJSON = `{"id":"cmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test-abcdefghijklmnopqrstu" {
			t.Errorf("authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != reqJSON {
			t.Errorf("body not forwarded verbatim: %s", body)
		}
		_, _ = w.Write([]byte(respJSON))
	}))
	defer srv.Close()

	p := &catalog.Provider{ID: "cloud", Kind: catalog.KindOpenAICompat, BaseURL: srv.URL, APIKeyEnv: "COMPAT_TEST_KEY"}
	respBody, normErr, err := openAICompatAdapter{}.Forward(context.Background(), p, []byte(reqJSON))
	if err != nil || normErr != "" {
		t.Fatalf("Forward: err=%v normErr=%q", err, normErr)
	}
	if string(respBody) != respJSON {
		t.Errorf("response not verbatim: %s", respBody)
	}
}

func TestOpenAICompatClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   catalog.NormalizedError
	}{
		{"oom", 500, `{"error":"CUDA out of memory"}`, catalog.ErrOOM},
		{"context length", 400, `{"error":{"code":"context_length_exceeded"}}`, catalog.ErrContextLength},
		{"plain 500", 500, "internal", catalog.ErrOther},
		{"plain 404", 404, "no such model", catalog.ErrOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := &catalog.Provider{ID: "x", Kind: catalog.KindOpenAICompat, BaseURL: srv.URL}
			_, normErr, err := openAICompatAdapter{}.Forward(context.Background(), p, []byte(`{}`))
			if err != nil {
				t.Fatalf("unexpected hard error: %v", err)
			}
			if normErr != tt.want {
				t.Errorf("normErr = %q, want %q", normErr, tt.want)
			}
		})
	}
}

func TestDispatcherSelectsByKind(t *testing.T) {
	t.Parallel()

	if _, ok := ForKind(catalog.KindOllama).(ollamaAdapter); !ok {
		t.Error("ollama kind should map to ollamaAdapter")
	}
	if _, ok := ForKind(catalog.KindOpenAICompat).(openAICompatAdapter); !ok {
		t.Error("openai_compat kind should map to openAICompatAdapter")
	}
}
