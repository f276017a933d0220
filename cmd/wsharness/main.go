// Command wsharness is a manual exerciser for the streaming protocol: it
// connects as a producer, replays an image in response to send_frame
// pacing, and prints every control message the server emits.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/brushcast/brushcast/client"
	"github.com/brushcast/brushcast/wire"
)

func main() {
	var (
		baseURL  = flag.String("url", "ws://localhost:8000", "server base URL")
		mode     = flag.String("mode", "realtime", "session mode: realtime or canvas")
		session  = flag.String("session", "", "session id (minted when empty)")
		imgPath  = flag.String("image", "", "image file to replay as frames")
		prompt   = flag.String("prompt", "a watercolor landscape", "generation prompt")
		count    = flag.Int("count", 10, "frames to send before exiting (0 = unlimited)")
		interval = flag.Duration("interval", 100*time.Millisecond, "minimum interval between frames")
	)
	flag.Parse()

	image := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	if *imgPath != "" {
		data, err := os.ReadFile(*imgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read image: %v\n", err)
			os.Exit(1)
		}
		image = data
	}

	id := *session
	if id == "" {
		id = uuid.New().String()
	}
	url := fmt.Sprintf("%s/api/%s/sessions/%s/ws", *baseURL, *mode, id)
	fmt.Printf("connecting to %s\n", url)

	codec := wire.Codec{}
	sent := 0
	done := make(chan struct{})
	var finishOnce sync.Once
	finish := func() { finishOnce.Do(func() { close(done) }) }

	var conn *client.Conn
	conn = client.New(client.Config{
		URL:         url,
		BaseDelay:   time.Second,
		DecayRate:   2.0,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
		OnConnect: func() {
			fmt.Println("socket open")
		},
		OnReconnecting: func(attempt, max int) {
			fmt.Printf("reconnecting (%d/%d)\n", attempt, max)
		},
		OnReconnectFailed: func() {
			fmt.Println("reconnect attempts exhausted")
			finish()
		},
		OnMessage: func(_ int, data []byte) {
			ctrl, err := wire.DecodeControl(data)
			if err != nil {
				fmt.Printf("<- unreadable message: %v\n", err)
				return
			}
			if ctrl.Message != "" {
				fmt.Printf("<- %s: %s\n", ctrl.Status, ctrl.Message)
			} else {
				fmt.Printf("<- %s\n", ctrl.Status)
			}

			switch ctrl.Status {
			case wire.StatusSendFrame:
				if *count > 0 && sent >= *count {
					finish()
					return
				}
				time.Sleep(*interval)
				env := wire.FrameEnvelope{
					Status: wire.StatusNextFrame,
					Params: wire.GenerationParams{Prompt: *prompt, Steps: 4, Width: 512, Height: 512},
				}
				frame, err := codec.Encode(env, image)
				if err != nil {
					fmt.Fprintf(os.Stderr, "encode frame: %v\n", err)
					return
				}
				if err := conn.Send(frame); err != nil {
					fmt.Fprintf(os.Stderr, "send frame: %v\n", err)
					return
				}
				sent++
				fmt.Printf("-> next_frame (%d bytes, %d sent)\n", len(frame), sent)
			case wire.StatusError, wire.StatusTimeout:
				finish()
			}
		},
	})

	if err := conn.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Disconnect()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
	case <-sig:
		fmt.Println("interrupted")
	}
	fmt.Printf("done: %d frames sent\n", sent)
}
