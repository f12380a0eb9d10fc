package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bull/ragbot/internal/app"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List, delete and edit a chatbot's indexed chunks",
}

var docsListFlags struct {
	limit  int
	offset int
	search string
}

var docsListCmd = &cobra.Command{
	Use:   "list ID",
	Short: "List indexed chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			docs, err := a.Trainer.ListDocuments(ctx, args[0], docsListFlags.limit, docsListFlags.offset, docsListFlags.search)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				fmt.Println("No documents")
				return nil
			}
			for _, d := range docs {
				fmt.Printf("%s  %-20s %s\n", d.ID, truncate(d.Metadata.Source, 20), truncate(d.Text, 60))
			}
			return nil
		})
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete ID DOC_ID...",
	Short: "Delete chunks by id",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			n, err := a.Trainer.DeleteDocuments(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d of %d documents\n", n, len(args)-1)
			return nil
		})
	},
}

var docsUpdateCmd = &cobra.Command{
	Use:   "update ID DOC_ID TEXT",
	Short: "Replace a chunk's text and re-embed it",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.Trainer.UpdateDocument(ctx, args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Printf("Updated %s\n", args[1])
			return nil
		})
	},
}

func init() {
	f := docsListCmd.Flags()
	f.IntVar(&docsListFlags.limit, "limit", 50, "maximum chunks to list")
	f.IntVar(&docsListFlags.offset, "offset", 0, "chunks to skip")
	f.StringVar(&docsListFlags.search, "search", "", "case-insensitive substring filter")

	docsCmd.AddCommand(docsListCmd, docsDeleteCmd, docsUpdateCmd)
}
