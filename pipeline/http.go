package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brushcast/brushcast/wire"
)

// HTTPPipeline invokes an inference sidecar over HTTP. The request body is
// the same length-prefixed binary frame the WebSocket protocol uses, so the
// sidecar shares the wire codec with the rest of the system.
type HTTPPipeline struct {
	baseURL string
	client  *http.Client
	codec   wire.Codec
}

// NewHTTPPipeline returns a pipeline that POSTs frames to baseURL/generate.
func NewHTTPPipeline(baseURL string, timeout time.Duration) *HTTPPipeline {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPPipeline{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPPipeline) Generate(ctx context.Context, params wire.GenerationParams, image []byte) ([]byte, error) {
	body, err := p.codec.Encode(wire.FrameEnvelope{Status: wire.StatusNextFrame, Params: params}, image)
	if err != nil {
		return nil, &Error{Op: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &Error{Op: "post frame", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &Error{Op: "generate", Err: fmt.Errorf("backend returned %d: %s", resp.StatusCode, msg)}
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: "read image", Err: err}
	}
	if len(out) == 0 {
		return nil, &Error{Op: "read image", Err: fmt.Errorf("backend returned empty image")}
	}
	return out, nil
}
