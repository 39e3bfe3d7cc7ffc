// Command atlas-chat is a terminal streaming chat with grounded citations
// and a persistent conversation history.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	atlas "github.com/hellohealthy/atlas/sdk"
)

type options struct {
	model      string
	system     string
	historyDir string
	reset      bool
	debug      bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	_ = godotenv.Load()

	var opt options
	flag.StringVar(&opt.model, "model", "", "Model name (default: "+atlas.DefaultChatModel+")")
	flag.StringVar(&opt.system, "system", "", "System instruction")
	flag.StringVar(&opt.historyDir, "history-dir", ".", "Directory for the persisted chat history")
	flag.BoolVar(&opt.reset, "reset", false, "Discard the persisted history before starting")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client := atlas.NewClient(atlas.WithLogger(logger))
	store := atlas.NewFileHistoryStore(opt.historyDir)

	var history []atlas.Message
	if !opt.reset {
		loaded, err := store.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "load history: %v\n", err)
			return 1
		}
		history = loaded
	}

	fmt.Println("atlas-chat: type a message, ctrl-d to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return 0
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		history = append(history, atlas.Message{Role: atlas.RoleUser, Text: input})
		reply, err := streamTurn(client, &atlas.ChatRequest{
			Messages: history,
			System:   opt.system,
			Model:    opt.model,
		})
		if err != nil {
			// Keep whatever streamed before the failure so the exchange is
			// not lost, then surface the error.
			fmt.Fprintf(os.Stderr, "\nchat error: %v\n", err)
			if atlas.IsCredential(err) {
				fmt.Fprintln(os.Stderr, "check GEMINI_API_KEY (quota may be exhausted)")
			}
			if reply.Text == "" {
				continue
			}
		}

		history = append(history, reply)
		if err := store.Save(history); err != nil {
			fmt.Fprintf(os.Stderr, "save history: %v\n", err)
		}
	}
}

func streamTurn(client *atlas.Client, req *atlas.ChatRequest) (atlas.Message, error) {
	stream, err := client.Chat.Stream(context.Background(), req)
	if err != nil {
		return atlas.Message{}, err
	}
	defer stream.Close()

	for event := range stream.Events() {
		switch e := event.(type) {
		case atlas.ChatTextDeltaEvent:
			fmt.Print(e.Text)
		case atlas.ChatCitationEvent:
			fmt.Printf("\n  [%s](%s)", e.Citation.Title, e.Citation.URI)
		case atlas.ChatStreamEndEvent:
			fmt.Println()
		}
	}
	return stream.Message(), stream.Err()
}
