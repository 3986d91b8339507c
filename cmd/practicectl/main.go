package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/loqalabs/loqa-practice/internal/config"
	"github.com/loqalabs/loqa-practice/internal/content"
	"github.com/loqalabs/loqa-practice/internal/practicestore"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate', 'list' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		var path, kind string
		cmd := flag.NewFlagSet("validate", flag.ExitOnError)
		cmd.StringVar(&path, "file", "-", "Path to model output, - for stdin")
		cmd.StringVar(&kind, "type", "listening", "Practice type: listening or reading")
		_ = cmd.Parse(os.Args[2:])
		if err := runValidate(path, kind, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "list":
		var configPath string
		cmd := flag.NewFlagSet("list", flag.ExitOnError)
		cmd.StringVar(&configPath, "config", "practice.yaml", "Path to configuration file")
		_ = cmd.Parse(os.Args[2:])
		if err := runList(configPath, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

// runValidate checks model output against the practice schema and prints the
// normalized document.
func runValidate(path, kind string, out io.Writer) error {
	k, err := content.ParseKind(kind)
	if err != nil {
		return err
	}
	var data []byte
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	g, err := content.Validate(string(data), k)
	if err != nil {
		var verr *content.ValidationError
		if errors.As(err, &verr) && verr.Field != "" {
			return fmt.Errorf("invalid %s content (%s): %w", k, verr.Field, err)
		}
		return err
	}
	doc, err := content.Encode(g)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s content valid: %q\n", k, content.Title(g))
	_, err = out.Write(doc)
	return err
}

func runList(configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := practicestore.Open(context.Background(), cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List(context.Background())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tTIMESTAMP\tTITLE")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Type, s.Timestamp, s.Title)
	}
	return tw.Flush()
}
