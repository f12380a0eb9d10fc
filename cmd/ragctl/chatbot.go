package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/ragbot/internal/app"
	"github.com/bull/ragbot/internal/chatbot"
)

var chatbotCmd = &cobra.Command{
	Use:   "chatbot",
	Short: "Create, inspect and delete chatbots",
}

var createFlags struct {
	owner           string
	systemPrompt    string
	embeddingModel  string
	completionModel string
	chunkSize       int
	chunkOverlap    int
	topK            int
	temperature     float64
	maxTokens       int
}

var chatbotCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a chatbot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			settings := a.DefaultSettings()
			flags := cmd.Flags()
			if flags.Changed("system-prompt") {
				settings.SystemPrompt = createFlags.systemPrompt
			}
			if flags.Changed("embedding-model") {
				settings.EmbeddingModel = createFlags.embeddingModel
			}
			if flags.Changed("completion-model") {
				settings.CompletionModel = createFlags.completionModel
			}
			if flags.Changed("chunk-size") {
				settings.ChunkSize = createFlags.chunkSize
			}
			if flags.Changed("chunk-overlap") {
				settings.ChunkOverlap = createFlags.chunkOverlap
			}
			if flags.Changed("top-k") {
				settings.TopK = createFlags.topK
			}
			if flags.Changed("temperature") {
				settings.Temperature = createFlags.temperature
			}
			if flags.Changed("max-tokens") {
				settings.MaxTokens = createFlags.maxTokens
			}

			c, err := a.Chatbots.Create(ctx, createFlags.owner, args[0], &settings)
			if err != nil {
				return err
			}
			fmt.Printf("Created chatbot %s\n", c.ID)
			printChatbot(c)
			return nil
		})
	},
}

var chatbotShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a chatbot's settings, index and query statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			c, err := a.Chatbots.Get(ctx, args[0])
			if err != nil {
				return err
			}
			printChatbot(c)
			return nil
		})
	},
}

var listOwner string

var chatbotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chatbots, optionally for one owner",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			bots, err := a.Chatbots.List(ctx, listOwner)
			if err != nil {
				return err
			}
			if len(bots) == 0 {
				fmt.Println("No chatbots")
				return nil
			}
			for _, c := range bots {
				fmt.Printf("%s  %-10s %-10s chunks=%-6d %s\n", c.ID, c.Status, c.TrainingStatus, c.ChunkCount, c.Name)
			}
			return nil
		})
	},
}

var chatbotDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a chatbot and its vector collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.Chatbots.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted chatbot %s\n", args[0])
			return nil
		})
	},
}

func setActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				c, err := a.Chatbots.SetActive(ctx, args[0], active)
				if err != nil {
					return err
				}
				fmt.Printf("Chatbot %s is %s\n", c.ID, c.Status)
				return nil
			})
		},
	}
}

func init() {
	f := chatbotCreateCmd.Flags()
	f.StringVar(&createFlags.owner, "owner", "local", "owner id")
	f.StringVar(&createFlags.systemPrompt, "system-prompt", "", "instructions prepended to every prompt")
	f.StringVar(&createFlags.embeddingModel, "embedding-model", "", "embedding model (default from config)")
	f.StringVar(&createFlags.completionModel, "completion-model", "", "completion model (default from config)")
	f.IntVar(&createFlags.chunkSize, "chunk-size", 0, "characters per chunk, 100-5000")
	f.IntVar(&createFlags.chunkOverlap, "chunk-overlap", 0, "characters shared by adjacent chunks, 0-1000")
	f.IntVar(&createFlags.topK, "top-k", 0, "chunks retrieved per question, 1-20")
	f.Float64Var(&createFlags.temperature, "temperature", 0, "sampling temperature, 0-2")
	f.IntVar(&createFlags.maxTokens, "max-tokens", 0, "answer token limit, 50-4000")

	chatbotListCmd.Flags().StringVar(&listOwner, "owner", "", "only chatbots of this owner")

	chatbotCmd.AddCommand(
		chatbotCreateCmd,
		chatbotShowCmd,
		chatbotListCmd,
		chatbotDeleteCmd,
		setActiveCmd("activate", "Allow a trained chatbot to answer", true),
		setActiveCmd("deactivate", "Stop a chatbot from answering", false),
	)
}

func printChatbot(c *chatbot.Chatbot) {
	fmt.Printf("  Name:       %s\n", c.Name)
	fmt.Printf("  Owner:      %s\n", c.OwnerID)
	fmt.Printf("  Status:     %s (training %s)\n", c.Status, c.TrainingStatus)
	fmt.Printf("  Models:     embedding %s, completion %s\n", c.Settings.EmbeddingModel, c.Settings.CompletionModel)
	fmt.Printf("  Chunking:   size %d, overlap %d, top-k %d\n", c.Settings.ChunkSize, c.Settings.ChunkOverlap, c.Settings.TopK)
	fmt.Printf("  Index:      %d documents, %d chunks, %d characters\n", c.DocumentCount, c.ChunkCount, c.TotalSize)
	if c.LastTrainedAt != nil {
		fmt.Printf("  Trained:    %s\n", c.LastTrainedAt.Format(time.RFC3339))
	}
	s := c.Stats
	fmt.Printf("  Queries:    %d total, %d ok, %d failed, avg %.0fms\n", s.TotalQueries, s.SuccessfulQueries, s.FailedQueries, s.AvgResponseMs)
}
