package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/metcalfc/tsundoku/internal/state"
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "List books uploaded from this machine",
	Args:  cobra.NoArgs,
	RunE:  runLibrary,
}

func init() {
	rootCmd.AddCommand(libraryCmd)
}

func runLibrary(cmd *cobra.Command, args []string) error {
	lib, err := state.OpenLibrary("")
	if err != nil {
		return err
	}
	defer lib.Close()

	books, err := lib.List(cmd.Context())
	if err != nil {
		return err
	}
	printLibrary(cmd.OutOrStdout(), books)
	return nil
}

func printLibrary(w io.Writer, books []state.Book) {
	if len(books) == 0 {
		fmt.Fprintln(w, "No books uploaded yet. Try: tsundoku upload <file>")
		return
	}
	rows := make([][]string, len(books))
	for i, b := range books {
		rows[i] = []string{
			strconv.FormatInt(b.ID, 10),
			b.UploadedAt.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(len(b.Chapters)),
			b.Filename,
		}
	}
	fmt.Fprintln(w, renderTable([]string{"ID", "UPLOADED", "CHAPTERS", "FILE"}, rows))
}
