// Command atlas-voice runs a realtime voice session: microphone capture in,
// scheduled speaker playback out, with a live transcript on stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hellohealthy/atlas/pkg/audio"
	"github.com/hellohealthy/atlas/pkg/core/live"
	atlas "github.com/hellohealthy/atlas/sdk"
)

type options struct {
	model  string
	voice  string
	system string
	debug  bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	_ = godotenv.Load()

	var opt options
	flag.StringVar(&opt.model, "model", "", "Model name (default: "+atlas.DefaultLiveModel+")")
	flag.StringVar(&opt.voice, "voice", "", "Voice name (default: "+atlas.DefaultVoice+")")
	flag.StringVar(&opt.system, "system", "", "System instruction")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client := atlas.NewClient(atlas.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := client.Live.Connect(ctx, &atlas.SessionConfig{
		Model:  opt.model,
		Voice:  opt.voice,
		System: opt.system,
		Source: audio.NewMicSource(),
		Output: audio.SpeakerOutputFactory(live.OutputSampleRate),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		if atlas.IsPermission(err) {
			fmt.Fprintln(os.Stderr, "microphone or speaker unavailable")
		}
		return 1
	}
	defer session.Close()

	fmt.Println("atlas-voice: session open, speak into the microphone (ctrl-c to quit)")

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nclosing session")
			return 0
		case event, ok := <-session.Events():
			if !ok {
				if err := session.Err(); err != nil {
					fmt.Fprintf(os.Stderr, "session error: %v\n", err)
					return 1
				}
				return 0
			}
			switch e := event.(type) {
			case atlas.TranscriptDeltaEvent:
				fmt.Print(e.Text)
			case atlas.TurnCompleteEvent:
				fmt.Println()
			case atlas.InterruptedEvent:
				fmt.Println("\n[interrupted]")
			}
		}
	}
}
