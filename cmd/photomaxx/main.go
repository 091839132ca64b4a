// Command photomaxx imports photos, renders the preset filters over them and
// keeps track of runs, winners and saved copies.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/browser"
	"github.com/stevecastle/photomaxx/appconfig"
	"github.com/stevecastle/photomaxx/filters"
	"github.com/stevecastle/photomaxx/store"
	"github.com/stevecastle/photomaxx/studio"
)

const usage = `Usage: photomaxx [-v] [-config path] <command> [args]

Commands:
  filters                          list the preset catalog
  import <file>                    copy a JPEG or PNG into the library
  apply -filter <id> <imageID>     render one preset
  batch [-sheet] [-open] <imageID|file>
                                   render every preset
  prompt [-provider local] [-attempts 5] <imageID> <prompt...>
                                   generate attempts from a prompt
  runs <imageID>                   list runs, newest first
  winner <runID> <attemptID>       pick the favourite attempt of a run
  save <attemptID>                 keep a copy of an attempt
  health                           check directories and database
  config [-quality n] [-workers n] [-columns n] [-thumb-width n]
                                   show or change settings
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Error("photomaxx failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("photomaxx", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "Verbose logging")
	configPath := fs.String("config", "", "Path to config.json (default: platform data directory)")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	switch cmd {
	case "filters":
		return listFilters(out)
	case "config":
		return configCmd(*configPath, rest, out)
	}

	svc, closeFn, err := openService(ctx, *configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	switch cmd {
	case "import":
		return importCmd(ctx, svc, rest, out)
	case "apply":
		return applyCmd(ctx, svc, rest, out)
	case "batch":
		return batchCmd(ctx, svc, rest, out)
	case "prompt":
		return promptCmd(ctx, svc, rest, out)
	case "runs":
		return runsCmd(ctx, svc, rest, out)
	case "winner":
		return winnerCmd(ctx, svc, rest, out)
	case "save":
		return saveCmd(ctx, svc, rest, out)
	case "health":
		return healthCmd(ctx, svc, out)
	}
	fs.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}

func loadConfig(configPath string) (appconfig.Config, string, error) {
	if configPath == "" {
		return appconfig.Load()
	}
	cfg, err := appconfig.LoadFrom(configPath)
	return cfg, configPath, err
}

func openService(ctx context.Context, configPath string) (*studio.Service, func(), error) {
	cfg, configPath, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDataDirs(); err != nil {
		return nil, nil, err
	}
	slog.Debug("Loaded config", "path", configPath, "db", cfg.DBPath, "data", cfg.DataDir)

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return studio.New(cfg, configPath, st), func() { st.Close() }, nil
}

func listFilters(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
	for _, d := range filters.Catalog() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Name, d.Description)
	}
	return tw.Flush()
}

func importCmd(ctx context.Context, svc *studio.Service, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: photomaxx import <file>")
	}
	img, err := svc.Import(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(out, img.ID)
	return nil
}

func applyCmd(ctx context.Context, svc *studio.Service, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	filterID := fs.String("filter", "", "Preset id (see 'photomaxx filters')")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *filterID == "" || fs.NArg() != 1 {
		return errors.New("usage: photomaxx apply -filter <id> <imageID>")
	}
	res, err := svc.RunPreset(ctx, fs.Arg(0), filters.FilterID(*filterID))
	if err != nil {
		return err
	}
	return printRun(svc, res, out)
}

func batchCmd(ctx context.Context, svc *studio.Service, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	sheet := fs.Bool("sheet", false, "Also write a contact sheet of the run")
	open := fs.Bool("open", false, "Open the contact sheet (or first attempt) in the default viewer")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: photomaxx batch [-sheet] [-open] <imageID|file>")
	}

	imageID := fs.Arg(0)
	if fi, err := os.Stat(imageID); err == nil && !fi.IsDir() {
		img, err := svc.Import(ctx, imageID)
		if err != nil {
			return err
		}
		imageID = img.ID
	}

	res, err := svc.RunPresets(ctx, imageID)
	if err != nil {
		return err
	}
	if err := printRun(svc, res, out); err != nil {
		return err
	}

	var target string
	if *sheet {
		if target, err = svc.ContactSheet(ctx, res.Run.ID); err != nil {
			return err
		}
		fmt.Fprintf(out, "contact sheet: %s\n", target)
	}
	if *open {
		if target == "" && len(res.Attempts) > 0 {
			if target, err = svc.Abs(res.Attempts[0].OutputPath); err != nil {
				return err
			}
		}
		if err := browser.OpenFile(target); err != nil {
			slog.Warn("Failed to open viewer", "path", target, "error", err)
		}
	}
	return nil
}

func promptCmd(ctx context.Context, svc *studio.Service, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("prompt", flag.ContinueOnError)
	providerName := fs.String("provider", "local", "Provider name")
	attempts := fs.Int("attempts", studio.PromptAttempts, "Number of attempts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("usage: photomaxx prompt [-provider name] [-attempts 5] <imageID> <prompt...>")
	}
	p, err := svc.Provider(*providerName)
	if err != nil {
		return err
	}
	res, err := svc.RunPrompt(ctx, fs.Arg(0), p, strings.Join(fs.Args()[1:], " "), *attempts)
	if err != nil {
		return err
	}
	if err := printRun(svc, res, out); err != nil {
		return err
	}
	for _, a := range res.Attempts {
		if a.RevisedPrompt != "" {
			fmt.Fprintf(out, "%d: %s\n", a.Index, a.RevisedPrompt)
		}
	}
	return nil
}

// configCmd prints the loaded settings, or writes the ones given as flags
// back to the config file.
func configCmd(configPath string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	quality := fs.Int("quality", 0, "JPEG quality of rendered attempts (1-100)")
	workers := fs.Int("workers", -1, "Concurrent renders per batch (0 = one per preset)")
	columns := fs.Int("columns", 0, "Contact sheet columns")
	thumbWidth := fs.Int("thumb-width", 0, "Contact sheet thumbnail width")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, configPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if len(set) > 0 {
		_, err := appconfig.Update(configPath, func(c *appconfig.Config) {
			if set["quality"] {
				c.JPEGQuality = *quality
			}
			if set["workers"] {
				c.BatchWorkers = *workers
			}
			if set["columns"] {
				c.Sheet.Columns = *columns
			}
			if set["thumb-width"] {
				c.Sheet.ThumbWidth = *thumbWidth
			}
		})
		if err != nil {
			return err
		}
		slog.Info("Updated config", "path", configPath)
	}

	data, err := json.MarshalIndent(appconfig.Get(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# %s\n%s\n", configPath, data)
	return nil
}

func printRun(svc *studio.Service, res *studio.RunResult, out io.Writer) error {
	fmt.Fprintf(out, "run %s (image %s)\n", res.Run.ID, res.Run.ImageID)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tATTEMPT\tSIZE\tPATH")
	for _, a := range res.Attempts {
		size := "?"
		if abs, err := svc.Abs(a.OutputPath); err == nil {
			if fi, err := os.Stat(abs); err == nil {
				size = humanize.Bytes(uint64(fi.Size()))
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", a.Index, a.ID, size, a.OutputPath)
	}
	return tw.Flush()
}

func runsCmd(ctx context.Context, svc *studio.Service, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: photomaxx runs <imageID>")
	}
	runs, err := svc.ListRuns(ctx, args[0])
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tMODE\tPRESET\tCREATED")
	for _, r := range runs {
		preset := r.PresetID
		if preset == "" {
			preset = "all"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Mode, preset, humanize.Time(r.CreatedAt))
	}
	return tw.Flush()
}

func winnerCmd(ctx context.Context, svc *studio.Service, args []string, out io.Writer) error {
	if len(args) != 2 {
		return errors.New("usage: photomaxx winner <runID> <attemptID>")
	}
	w, err := svc.PickWinner(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "winner of run %s: %s\n", w.RunID, w.AttemptID)
	return nil
}

func saveCmd(ctx context.Context, svc *studio.Service, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: photomaxx save <attemptID>")
	}
	p, err := svc.Save(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(out, p)
	return nil
}

func healthCmd(ctx context.Context, svc *studio.Service, out io.Writer) error {
	h := svc.Health(ctx)
	fmt.Fprintf(out, "config:   %s\n", h.ConfigPath)
	fmt.Fprintf(out, "data dir: %s\n", h.DataDir)
	fmt.Fprintf(out, "uploads:  %s\n", okString(h.UploadsDir))
	fmt.Fprintf(out, "outputs:  %s\n", okString(h.OutputsDir))
	fmt.Fprintf(out, "database: %s\n", okString(h.Database))
	if !h.OK {
		return errors.New("unhealthy")
	}
	return nil
}

func okString(ok bool) string {
	if ok {
		return "ok"
	}
	return "missing"
}
