// Interactive chat over the relay bridge: reads prompts from stdin, streams
// tokens to stdout, keeps the server-assigned chat id across turns.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"tokenrelay/pkg/relay"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8080/ws", "relay websocket endpoint")
	apiKey := flag.String("api-key", "", "API key")
	chatID := flag.String("chat", "", "existing chat id to continue")
	turnTimeout := flag.Duration("timeout", 2*time.Minute, "per-turn timeout")
	flag.Parse()

	client := &relay.Client{URL: *url, APIKey: *apiKey}
	current := *chatID

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		prompt := scanner.Text()
		if prompt == "" {
			fmt.Print("> ")
			continue
		}

		turnCtx, cancel := context.WithTimeout(ctx, *turnTimeout)
		turn, err := client.Stream(turnCtx, current, prompt, func(text string) error {
			fmt.Print(text)
			return nil
		})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println()
				return
			}
			log.Printf("turn failed: %v", err)
			fmt.Print("> ")
			continue
		}

		if turn.ChatID != current {
			current = turn.ChatID
			log.Printf("chat id: %s", current)
		}
		fmt.Print("\n> ")
	}
}
