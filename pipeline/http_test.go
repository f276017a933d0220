package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brushcast/brushcast/wire"
)

func TestHTTPPipelineGenerate(t *testing.T) {
	var codec wire.Codec
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/generate", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var env wire.FrameEnvelope
		payload, derr := codec.Decode(body, &env)
		require.NoError(t, derr)
		assert.Equal(t, wire.StatusNextFrame, env.Status)
		assert.Equal(t, "sunset", env.Params.Prompt)
		assert.Equal(t, []byte("input"), payload)

		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	p := NewHTTPPipeline(srv.URL, time.Second)
	out, err := p.Generate(context.Background(), wire.GenerationParams{Prompt: "sunset"}, []byte("input"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), out)
}

func TestHTTPPipelineGenerateBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of VRAM", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPPipeline(srv.URL, time.Second)
	_, err := p.Generate(context.Background(), wire.GenerationParams{Prompt: "x"}, nil)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "500")
}
