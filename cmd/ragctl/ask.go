package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bull/ragbot/internal/app"
	"github.com/bull/ragbot/internal/rag"
)

var askFlags struct {
	stream  bool
	session string
	user    string
	sources bool
}

var askCmd = &cobra.Command{
	Use:   "ask ID QUESTION",
	Short: "Ask a chatbot a question",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := rag.QueryRequest{
			ChatbotID: args[0],
			Text:      args[1],
			SessionID: askFlags.session,
			UserID:    askFlags.user,
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			if askFlags.stream {
				return askStream(ctx, a.Engine, req)
			}
			resp, err := a.Engine.Query(ctx, req)
			if err != nil {
				return err
			}
			fmt.Println(resp.Answer)
			printAnswerInfo(resp)
			return nil
		})
	},
}

func askStream(ctx context.Context, engine *rag.Engine, req rag.QueryRequest) error {
	s, err := engine.QueryStream(ctx, req)
	if err != nil {
		return err
	}
	defer s.Close()

	for s.Next() {
		fmt.Print(s.Text())
	}
	fmt.Println()
	if err := s.Err(); err != nil {
		return err
	}
	printAnswerInfo(s.Response())
	return nil
}

func printAnswerInfo(resp *rag.Response) {
	fmt.Println()
	note := ""
	if resp.Degraded {
		note = " (offline fallback)"
	}
	fmt.Printf("Model: %s%s, prompt: %s, latency: %dms\n", resp.Model, note, resp.Prompt, resp.Latency.Milliseconds())
	if !askFlags.sources {
		return
	}
	for _, s := range resp.Sources {
		fmt.Printf("  [%.3f] %s %s\n", s.Distance, s.Source, truncate(s.Text, 80))
	}
}

func init() {
	f := askCmd.Flags()
	f.BoolVar(&askFlags.stream, "stream", false, "print the answer as it is generated")
	f.StringVar(&askFlags.session, "session", "", "session id; with --user the exchange is recorded")
	f.StringVar(&askFlags.user, "user", "", "user id")
	f.BoolVar(&askFlags.sources, "sources", false, "list the retrieved chunks")
}
