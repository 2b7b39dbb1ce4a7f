package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"github.com/metcalfc/tsundoku/internal/api"
	"github.com/metcalfc/tsundoku/internal/reader"
)

// --- chapters subcommand ---

var chaptersCmd = &cobra.Command{
	Use:   "chapters <book-id>",
	Short: "List the chapters of a book",
	Args:  cobra.ExactArgs(1),
	RunE:  runChapters,
}

func runChapters(cmd *cobra.Command, args []string) error {
	id, err := parseID("book", args[0])
	if err != nil {
		return err
	}
	r := cli.reader(cli.client(), nil)
	if err := r.Open(cmd.Context(), id); err != nil {
		return err
	}
	printChapters(cmd.OutOrStdout(), r.Snapshot().Chapters)
	return nil
}

func printChapters(w io.Writer, chapters []api.Chapter) {
	if len(chapters) == 0 {
		fmt.Fprintln(w, "No chapters.")
		return
	}
	rows := make([][]string, len(chapters))
	for i, c := range chapters {
		rows[i] = []string{strconv.Itoa(c.Order), strconv.FormatInt(c.ID, 10), c.Title}
	}
	fmt.Fprintln(w, renderTable([]string{"ORDER", "ID", "TITLE"}, rows))
}

// --- read subcommand ---

var readCmd = &cobra.Command{
	Use:   "read <chapter-id>",
	Short: "Print a chapter preview, or the full text with --expand",
	Args:  cobra.ExactArgs(1),
	RunE:  runRead,
}

func runRead(cmd *cobra.Command, args []string) error {
	id, err := parseID("chapter", args[0])
	if err != nil {
		return err
	}
	expand, _ := cmd.Flags().GetBool("expand")
	width, _ := cmd.Flags().GetInt("width")

	r := cli.reader(cli.client(), nil)
	if err := r.Select(cmd.Context(), id); err != nil {
		return err
	}
	if expand {
		r.ToggleExpand()
	}
	printChapter(cmd.OutOrStdout(), r.Snapshot(), r.PreviewLength(), width)
	return nil
}

func printChapter(w io.Writer, v reader.View, limit, width int) {
	if v.Content == nil {
		return
	}
	fmt.Fprintln(w, v.Content.Title)
	fmt.Fprintln(w, strings.Repeat("=", len([]rune(v.Content.Title))))
	fmt.Fprintln(w)

	if v.Content.Summary != nil {
		fmt.Fprintln(w, "Summary")
		fmt.Fprintln(w, wrap(*v.Content.Summary, width))
		fmt.Fprintln(w)
	}

	paras := v.Text(limit)
	if paras == nil {
		fmt.Fprintln(w, "(content not available yet)")
		return
	}
	fmt.Fprintln(w, wrap(strings.Join(paras, "\n\n"), width))
}

func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	return wordwrap.String(s, width)
}

// --- summarize subcommand ---

var summarizeCmd = &cobra.Command{
	Use:   "summarize <chapter-id>",
	Short: "Generate and print the summary of a chapter",
	Long: `Summarize asks the service for a chapter summary. If the chapter already
has one it is printed as is, unless reader.allow_regenerate is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runSummarize,
}

func runSummarize(cmd *cobra.Command, args []string) error {
	id, err := parseID("chapter", args[0])
	if err != nil {
		return err
	}
	width, _ := cmd.Flags().GetInt("width")
	ctx := cmd.Context()

	r := cli.reader(cli.client(), nil)
	if err := r.Select(ctx, id); err != nil {
		return err
	}
	if err := r.Summarize(ctx); err != nil && !errors.Is(err, reader.ErrNotAllowed) {
		return err
	}

	v := r.Snapshot()
	if v.Content.Summary == nil {
		return fmt.Errorf("chapter %d has no summary", id)
	}
	fmt.Fprintln(cmd.OutOrStdout(), wrap(*v.Content.Summary, width))
	return nil
}

func init() {
	readCmd.Flags().Bool("expand", false, "print every paragraph instead of the preview")
	readCmd.Flags().Int("width", 80, "wrap output at this many columns (0 disables)")
	summarizeCmd.Flags().Int("width", 80, "wrap output at this many columns (0 disables)")

	rootCmd.AddCommand(chaptersCmd, readCmd, summarizeCmd)
}
