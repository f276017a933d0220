package wire

// Status values exchanged as control messages between client and server.
// Server to client: connected, wait, send_frame, error, timeout.
// Client to server: next_frame, clear_canvas.
const (
	StatusConnected   = "connected"
	StatusWait        = "wait"
	StatusSendFrame   = "send_frame"
	StatusNextFrame   = "next_frame"
	StatusClearCanvas = "clear_canvas"
	StatusError       = "error"
	StatusTimeout     = "timeout"
)

// Control is the JSON body of a text control message.
type Control struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ControlNet describes one ControlNet conditioning entry attached to a frame.
type ControlNet struct {
	ModelID          string  `json:"model_id"`
	Preprocessor     string  `json:"preprocessor,omitempty"`
	ConditioningScale float64 `json:"conditioning_scale"`
	Enabled          bool    `json:"enabled"`
}

// GenerationParams carries the per-frame generation parameters. It is the
// metadata half of a binary frame and is shared verbatim by client and
// server so both sides stay bit-compatible.
type GenerationParams struct {
	Prompt         string       `json:"prompt"`
	NegativePrompt string       `json:"negative_prompt,omitempty"`
	Steps          int          `json:"steps,omitempty"`
	CFGScale       float64      `json:"cfg_scale,omitempty"`
	Denoise        float64      `json:"denoise,omitempty"`
	Seed           int64        `json:"seed,omitempty"`
	Width          int          `json:"width,omitempty"`
	Height         int          `json:"height,omitempty"`
	ControlNets    []ControlNet `json:"controlnets,omitempty"`
}

// FrameEnvelope is the JSON metadata of a next_frame message, either as the
// length-prefixed head of a binary frame or as a standalone text message
// when no image payload is attached.
type FrameEnvelope struct {
	Status string           `json:"status"`
	Params GenerationParams `json:"params"`
}
