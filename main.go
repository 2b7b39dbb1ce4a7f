// Command tsundoku uploads books to a document service and reads them back
// chapter by chapter, with on-demand summaries.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/metcalfc/tsundoku/internal/api"
	"github.com/metcalfc/tsundoku/internal/config"
	"github.com/metcalfc/tsundoku/internal/logging"
	"github.com/metcalfc/tsundoku/internal/reader"
	"github.com/metcalfc/tsundoku/internal/upload"
)

// Version info (injected via ldflags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// app carries what every command needs once configuration is loaded.
type app struct {
	cfg config.Config
	log *slog.Logger
}

var cli app

var rootCmd = &cobra.Command{
	Use:   "tsundoku [book-id]",
	Short: "Upload books and read them chapter by chapter",
	Long: `tsundoku sends PDF, EPUB or text files to a document service that splits
them into chapters, then lets you browse the chapters and ask for summaries.

Without a subcommand it starts the interactive reader. Pass a book id to open
that book directly.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	// Set here rather than in the literal: load reads rootCmd's flags.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return cli.load(os.Stderr)
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./tsundoku.yaml or $XDG_CONFIG_HOME/tsundoku/tsundoku.yaml)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("base-url", "", "document service URL")
}

// load reads configuration and builds the logger. Flags override the file
// and the environment.
func (a *app) load(logOut io.Writer) error {
	v := viper.New()
	pf := rootCmd.PersistentFlags()
	if err := v.BindPFlag("log.level", pf.Lookup("log-level")); err != nil {
		return err
	}
	if err := v.BindPFlag("service.base_url", pf.Lookup("base-url")); err != nil {
		return err
	}
	cfgFile, _ := pf.GetString("config")

	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.New(logOut, cfg.Log.Level)
	a.log.Debug("config loaded", "file", v.ConfigFileUsed(), "base_url", cfg.Service.BaseURL)
	return nil
}

func (a *app) client() *api.Client {
	return api.NewClient(a.cfg.Service, a.log.With("component", "api"))
}

func (a *app) pipeline(up upload.Uploader, opts upload.Options) (*upload.Pipeline, error) {
	policy, err := upload.NewPolicy(a.cfg.Upload.AcceptedTypes...)
	if err != nil {
		return nil, fmt.Errorf("upload.accepted_types: %w", err)
	}
	opts.StatusDwell = a.cfg.Upload.StatusDwell
	opts.VerifyEPUB = a.cfg.Upload.VerifyEPUB
	opts.Logger = a.log.With("component", "upload")
	return upload.New(up, policy, opts), nil
}

// reader builds a chapter reader. onChange may be nil.
func (a *app) reader(svc reader.Service, onChange func()) *reader.Reader {
	return reader.New(svc, reader.Options{
		PreviewLength:   a.cfg.Reader.PreviewLength,
		AllowRegenerate: a.cfg.Reader.AllowRegenerate,
		NormalizeHTML:   a.cfg.Reader.NormalizeHTML,
		OnChange:        onChange,
		Logger:          a.log.With("component", "reader"),
	})
}

// parseID reads a positive book or chapter id.
func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", kind, s)
	}
	return id, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
