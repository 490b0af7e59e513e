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
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loqalabs/voiceloop/internal/completion"
	"github.com/loqalabs/voiceloop/internal/config"
	"github.com/loqalabs/voiceloop/internal/eventstore"
	"github.com/loqalabs/voiceloop/internal/intent"
)

var version = "0.1.0-dev"

const usage = "usage: voiceloop-ctl classify|render|turns|runs|version [flags]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	var err error
	switch os.Args[1] {
	case "classify":
		err = runClassify(os.Args[2:], os.Stdout)
	case "render":
		err = runRender(os.Args[2:], os.Stdout)
	case "turns":
		err = runTurns(os.Args[2:], os.Stdout, logger)
	case "runs":
		err = runRuns(os.Args[2:], os.Stdout, logger)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func textArg(fs *flag.FlagSet, text string) (string, error) {
	if text == "" {
		text = strings.Join(fs.Args(), " ")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("no utterance given")
	}
	return text, nil
}

// runClassify shows how the loop would treat an utterance.
func runClassify(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("classify", flag.ContinueOnError)
	text := fs.String("text", "", "Utterance to classify (or pass as arguments)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	raw, err := textArg(fs, *text)
	if err != nil {
		return err
	}

	normalized := intent.Normalize(raw)
	result := intent.Classify(normalized)
	if intent.IsTerminate(raw) {
		result = intent.Terminate
	}
	fmt.Fprintf(out, "text:      %s\n", normalized)
	fmt.Fprintf(out, "intent:    %s\n", result)
	fmt.Fprintf(out, "triggers:  %t\n", intent.IsTrigger(normalized))
	return nil
}

// runRender prints the completion payload a triggering utterance produces.
func runRender(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (optional)")
	envPath := fs.String("env", ".env", "Path to dotenv file (optional)")
	text := fs.String("text", "", "Utterance to render (or pass as arguments)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	raw, err := textArg(fs, *text)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath, *envPath)
	if err != nil {
		return err
	}

	normalized := intent.Normalize(raw)
	i := intent.Classify(normalized)
	req, ok := completion.BuildRequest(cfg.Completion.Model, intent.PersonasFromConfig(cfg.Personas), i, normalized)
	if !ok {
		return fmt.Errorf("utterance classifies as %s; no request would be sent", i)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(req)
}

// runTurns lists journaled turns.
func runTurns(args []string, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("turns", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (optional)")
	envPath := fs.String("env", ".env", "Path to dotenv file (optional)")
	runID := fs.String("run", "", "Only list turns from this run")
	limit := fs.Int("limit", 20, "Maximum number of turns")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := openJournal(ctx, *configPath, *envPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	turns, err := store.ListTurns(ctx, *runID, *limit)
	if err != nil {
		return fmt.Errorf("list turns: %w", err)
	}
	return printTurns(out, turns)
}

// runRuns lists journaled runs, newest first.
func runRuns(args []string, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (optional)")
	envPath := fs.String("env", ".env", "Path to dotenv file (optional)")
	limit := fs.Int("limit", 20, "Maximum number of runs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := openJournal(ctx, *configPath, *envPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	return printRuns(out, runs)
}

func openJournal(ctx context.Context, configPath, envPath string, logger *slog.Logger) (*eventstore.Store, error) {
	cfg, err := loadConfig(configPath, envPath)
	if err != nil {
		return nil, err
	}
	if cfg.EventStore.RetentionMode == "ephemeral" {
		return nil, errors.New("event store is ephemeral; nothing is journaled")
	}
	// Listing must not prune what it is about to show.
	cfg.EventStore.RetentionDays = 0
	cfg.EventStore.MaxRuns = 0
	return eventstore.Open(ctx, cfg.EventStore, logger)
}

func printRuns(out io.Writer, runs []eventstore.Run) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tRUN\tMODEL")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.StartedAt.Local().Format(time.DateTime), r.RunID, r.Model)
	}
	return w.Flush()
}

func printTurns(out io.Writer, turns []eventstore.TurnRecord) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tINTENT\tOUTCOME\tLATENCY\tUTTERANCE\tREPLY")
	for _, t := range turns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.CreatedAt.Local().Format(time.DateTime),
			t.Intent,
			t.Outcome,
			t.Latency.Round(time.Millisecond),
			t.Utterance,
			truncate(t.Reply, 60))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-3]) + "..."
}

func loadConfig(path, envPath string) (config.Config, error) {
	if err := config.LoadEnvFile(envPath); err != nil {
		return config.Config{}, err
	}
	return config.Parse(path)
}
