package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/ragbot/internal/app"
	"github.com/bull/ragbot/internal/training"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Index content into a chatbot",
}

var trainSource string

var trainTextCmd = &cobra.Command{
	Use:   "text ID [TEXT]",
	Short: "Train from text given as an argument or on stdin",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := ""
		if len(args) == 2 {
			text = args[1]
		} else {
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text = string(raw)
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			res, err := a.Trainer.TrainText(ctx, args[0], text, trainSource)
			if err != nil {
				return err
			}
			printTrainResult(res)
			return nil
		})
	},
}

var trainFileCmd = &cobra.Command{
	Use:   "file ID PATH",
	Short: "Train from a text, markdown or html file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			res, err := a.Trainer.TrainFile(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			printTrainResult(res)
			return nil
		})
	},
}

var trainGitHubCmd = &cobra.Command{
	Use:   "github ID OWNER/REPO[/PATH][@REF]",
	Short: "Train from every markdown and html file under a GitHub directory",
	Long: `Fetches every markdown and html file under the given repository path
and trains the chatbot on each. Files that fail are reported and skipped.

GITHUB_TOKEN raises the API rate limit.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			fetcher, err := a.GitHubFetcher(args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Indexing %s...\n", fetcher.Location())

			res, err := a.Trainer.TrainGitHub(ctx, args[0], fetcher)
			if err != nil {
				return err
			}

			fmt.Println()
			fmt.Println("Training complete!")
			fmt.Printf("  Documents: %d/%d\n", res.SuccessfulDocs, res.TotalDocs)
			fmt.Printf("  Chunks: %d\n", res.TotalChunks)
			fmt.Printf("  Duration: %s\n", res.Duration.Round(time.Second))
			if sha, err := fetcher.LatestCommitSHA(ctx); err == nil {
				fmt.Printf("  Commit: %s\n", sha)
			}

			if len(res.FailedDocs) > 0 {
				fmt.Println()
				fmt.Println("Failed documents:")
				for _, failed := range res.FailedDocs {
					fmt.Printf("  - %s: %s\n", failed.Path, failed.Reason)
				}
			}
			return nil
		})
	},
}

func init() {
	trainTextCmd.Flags().StringVar(&trainSource, "source", "cli", "label recorded on every chunk")
	trainCmd.AddCommand(trainTextCmd, trainFileCmd, trainGitHubCmd)
}

func printTrainResult(res *training.Result) {
	fmt.Printf("Trained chatbot %s\n", res.ChatbotID)
	fmt.Printf("  Chunks: %d\n", res.Chunks)
	fmt.Printf("  Characters: %d\n", res.Characters)
	fmt.Printf("  Embedding model: %s\n", res.EmbeddingModel)
	fmt.Printf("  Duration: %s\n", res.Duration.Round(time.Millisecond))
}

// truncate shortens s to n runes for one-line listings.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
