package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragbot/internal/errs"
)

// fakeOllama serves the OpenAI-compatible routes. Models in tooBig answer
// with an out-of-memory error.
func fakeOllama(t *testing.T, tooBig map[string]bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"llama3.1:8b","object":"model"},{"id":"llama3.2:1b","object":"model"}]}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if tooBig[body.Model] {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"model requires more system memory (5.5 GiB) than is available (2.1 GiB)","type":"api_error"}}`))
			return
		}

		if body.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, word := range []string{"Answer", ":", " returns", " accepted"} {
				_, _ = fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"model\":%q,\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", body.Model, word)
			}
			_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"id":"1","object":"chat.completion","model":%q,"choices":[{"index":0,"message":{"role":"assistant","content":"Returns are accepted."},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`, body.Model)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCompatProvider_Complete(t *testing.T) {
	srv := fakeOllama(t, nil)
	p, err := NewCompatProvider(srv.URL+"/v1", "")
	require.NoError(t, err)

	res, err := p.Complete(context.Background(), Request{
		Model:    "llama3.2:1b",
		Messages: []Message{{Role: RoleUser, Content: "refunds?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Returns are accepted.", res.Content)
	assert.Equal(t, 14, res.TokensUsed)
	assert.Equal(t, "llama3.2:1b", res.Model)
}

func TestCompatProvider_Stream(t *testing.T) {
	srv := fakeOllama(t, nil)
	p, err := NewCompatProvider(srv.URL+"/v1", "")
	require.NoError(t, err)

	s, err := p.Stream(context.Background(), Request{Model: "llama3.2:1b", Messages: []Message{{Role: RoleUser, Content: "q"}}})
	require.NoError(t, err)
	defer s.Close()
	for s.Next() {
	}
	require.NoError(t, s.Err())
	assert.Equal(t, "Answer: returns accepted", s.Result().Content)
}

func TestCompatProvider_ExhaustionAndFallback(t *testing.T) {
	srv := fakeOllama(t, map[string]bool{"llama3.1:8b": true})
	p, err := NewCompatProvider(srv.URL+"/v1", "")
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), Request{Model: "llama3.1:8b", Messages: []Message{{Role: RoleUser, Content: "q"}}})
	assert.ErrorIs(t, err, errs.ErrResourceExhausted)

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.1:8b", "llama3.2:1b"}, models)

	f := NewFallback(p, p, nil, 2, nil)
	res, err := f.Complete(context.Background(), Request{Model: "llama3.1:8b", Messages: []Message{{Role: RoleUser, Content: "q"}}})
	require.NoError(t, err)
	assert.Equal(t, "llama3.2:1b", res.Model)
}

func TestIsExhaustion(t *testing.T) {
	assert.True(t, isExhaustion("model requires more system memory (5.5 GiB) than is available"))
	assert.True(t, isExhaustion("CUDA error: out of memory"))
	assert.True(t, isExhaustion("Insufficient memory to load model"))
	assert.False(t, isExhaustion("model not found"))
}
