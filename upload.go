package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metcalfc/tsundoku/internal/state"
	"github.com/metcalfc/tsundoku/internal/upload"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document and print its book id and chapters",
	Long: `Upload checks the file against the accepted types (upload.accepted_types)
and sends it to the document service. On success the book is added to the
local library and its id and chapter titles are printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().Bool("force", false, "upload even if the same file was uploaded before")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	path := args[0]
	ctx := cmd.Context()

	lib, err := state.OpenLibrary("")
	if err != nil {
		cli.log.Warn("library unavailable", "err", err)
	} else {
		defer lib.Close()
	}

	hash, err := state.ComputeHash(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if lib != nil && !force {
		if prev, ok, err := lib.LookupHash(ctx, hash); err == nil && ok {
			return fmt.Errorf("%s was already uploaded as book %d on %s (use --force to upload again)",
				path, prev.ID, prev.UploadedAt.Local().Format("2006-01-02"))
		}
	}

	p, err := cli.pipeline(cli.client(), upload.Options{
		OnSuccess: func(o upload.Outcome) {
			recordUpload(ctx, lib, o, hash)
		},
	})
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.Select(upload.CandidateFromPath(path)); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Uploading %s...\n", path)
	outcome, err := p.Submit(ctx)
	if err != nil {
		if outcome.Reason != "" {
			return fmt.Errorf("%s: %w", outcome.Reason, err)
		}
		return err
	}

	printOutcome(cmd.OutOrStdout(), outcome)
	return nil
}

// recordUpload adds a successful upload to the library. Failures are logged;
// the upload itself already succeeded.
func recordUpload(ctx context.Context, lib *state.Library, o upload.Outcome, hash string) {
	if lib == nil {
		return
	}
	err := lib.Record(ctx, state.Book{
		ID:       o.DocumentID,
		Filename: o.Filename,
		Chapters: o.ChapterTitles,
		Hash:     hash,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		cli.log.Warn("recording upload failed", "book_id", o.DocumentID, "err", err)
	}
}

func printOutcome(w io.Writer, o upload.Outcome) {
	fmt.Fprintln(w, "File uploaded successfully!")
	fmt.Fprintf(w, "Book ID:  %d\n", o.DocumentID)
	if len(o.ChapterTitles) == 0 {
		fmt.Fprintln(w, "Chapters: none")
		return
	}
	fmt.Fprintf(w, "Chapters: %d\n", len(o.ChapterTitles))
	for i, title := range o.ChapterTitles {
		fmt.Fprintf(w, "  %2d. %s\n", i+1, strings.TrimSpace(title))
	}
}
