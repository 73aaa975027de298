package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/ashureev/debias-review/internal/domain"
	"github.com/ashureev/debias-review/internal/gateway"
	"github.com/ashureev/debias-review/internal/segment"
	"github.com/ashureev/debias-review/internal/store"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "debiasctl",
		Usage: "Inspect documents and review history for the bias review service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "output format: text, json or yaml",
				Value: formatText,
			},
		},
		Commands: []*cli.Command{
			segmentCommand(),
			classifyCommand(),
			labelsCommand(),
			eventsCommand(),
			pruneCommand(),
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// readDocument reads the file named by the first argument, or stdin for "-"
// or no argument, and extracts its text.
func readDocument(ctx context.Context, c *cli.Command, pdftotext string) (string, error) {
	var (
		data []byte
		err  error
	)
	name := c.Args().First()
	if name == "" || name == "-" {
		data, err = io.ReadAll(c.Root().Reader)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}

	ext, err := gateway.NewDocumentExtractor(pdftotext, quietLogger()).Extract(ctx, data)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return ext.Text, nil
}

func encode(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

type segmentOutput struct {
	Layer     string   `json:"layer" yaml:"layer"`
	Sentences []string `json:"sentences" yaml:"sentences"`
}

func segmentCommand() *cli.Command {
	return &cli.Command{
		Name:      "segment",
		Usage:     "Split a document into sentences",
		ArgsUsage: "[file|-]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "min-chars", Usage: "drop sentences shorter than this many characters", Value: 3},
			&cli.StringFlag{Name: "pdftotext", Usage: "path to the pdftotext binary", Value: "pdftotext"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			text, err := readDocument(ctx, c, c.String("pdftotext"))
			if err != nil {
				return err
			}
			res := segment.New(int(c.Int("min-chars"))).Analyze(text)
			out := c.Root().Writer

			format := c.Root().String("format")
			if format != formatText {
				return encode(out, format, segmentOutput{Layer: res.Layer.String(), Sentences: res.Sentences})
			}
			for i, s := range res.Sentences {
				if _, err := fmt.Fprintf(out, "%d\t%s\n", i+1, s); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

type classifyRow struct {
	Sentence   string  `json:"sentence" yaml:"sentence"`
	Label      string  `json:"label" yaml:"label"`
	Category   string  `json:"category" yaml:"category"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Error      string  `json:"error,omitempty" yaml:"error,omitempty"`
}

func classifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Segment a document and classify every sentence with the model service",
		ArgsUsage: "[file|-]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "model service address", Value: gateway.DefaultModelClientConfig().Address, Sources: cli.EnvVars("MODEL_SERVICE_ADDR")},
			&cli.StringFlag{Name: "labels", Usage: "label map YAML (defaults to the built-in table)", Sources: cli.EnvVars("LABEL_MAP_PATH")},
			&cli.StringFlag{Name: "pdftotext", Usage: "path to the pdftotext binary", Value: "pdftotext"},
			&cli.DurationFlag{Name: "timeout", Usage: "per-sentence timeout", Value: 30 * time.Second},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			categories, err := domain.LoadCategoryMap(c.String("labels"))
			if err != nil {
				return err
			}
			text, err := readDocument(ctx, c, c.String("pdftotext"))
			if err != nil {
				return err
			}

			client, err := gateway.NewModelClient(c.String("addr"), quietLogger())
			if err != nil {
				return fmt.Errorf("connect to model service: %w", err)
			}
			defer client.Close()

			var rows []classifyRow
			for _, s := range segment.New(segment.DefaultMinChars).Segment(text) {
				cctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
				cls, err := client.Classify(cctx, s)
				cancel()
				row := classifyRow{Sentence: s}
				if err != nil {
					row.Error = err.Error()
				} else {
					cat, _ := categories.Resolve(cls.Label)
					row.Label, row.Category, row.Confidence = cls.Label, string(cat), cls.Score
				}
				rows = append(rows, row)
			}

			out := c.Root().Writer
			format := c.Root().String("format")
			if format != formatText {
				return encode(out, format, rows)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "CATEGORY\tSCORE\tSENTENCE")
			for _, r := range rows {
				if r.Error != "" {
					_, _ = fmt.Fprintf(w, "error\t-\t%s (%s)\n", r.Sentence, r.Error)
					continue
				}
				_, _ = fmt.Fprintf(w, "%s\t%.2f\t%s\n", r.Category, r.Confidence, r.Sentence)
			}
			return w.Flush()
		},
	}
}

func labelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "labels",
		Usage: "Print the classifier label table",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "map", Usage: "label map YAML (defaults to the built-in table)", Sources: cli.EnvVars("LABEL_MAP_PATH")},
		},
		Action: func(_ context.Context, c *cli.Command) error {
			m, err := domain.LoadCategoryMap(c.String("map"))
			if err != nil {
				return err
			}
			byCategory := m.Labels()
			out := c.Root().Writer

			format := c.Root().String("format")
			if format != formatText {
				table := make(map[string][]string, len(byCategory))
				for cat, labels := range byCategory {
					table[string(cat)] = labels
				}
				return encode(out, format, table)
			}

			cats := make([]string, 0, len(byCategory))
			for cat := range byCategory {
				cats = append(cats, string(cat))
			}
			sort.Strings(cats)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "CATEGORY\tLABELS")
			for _, cat := range cats {
				_, _ = fmt.Fprintf(w, "%s\t%v\n", cat, byCategory[domain.Category(cat)])
			}
			return w.Flush()
		},
	}
}

func dbFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "db",
		Usage:   "path to the audit database",
		Value:   "./data/review.db",
		Sources: cli.EnvVars("DB_PATH"),
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:      "events",
		Usage:     "Show the recorded history of a review session",
		ArgsUsage: "<session-id>",
		Flags:     []cli.Flag{dbFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().First()
			if id == "" {
				return fmt.Errorf("session id is required")
			}
			repo, err := store.NewSQLite(c.String("db"))
			if err != nil {
				return err
			}
			defer repo.Close()

			events, err := repo.SessionEvents(ctx, id)
			if err != nil {
				return err
			}
			out := c.Root().Writer

			format := c.Root().String("format")
			if format != formatText {
				return encode(out, format, events)
			}
			if len(events) == 0 {
				_, err := fmt.Fprintf(out, "No events recorded for %s\n", id)
				return err
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TIME\tEVENT\tSENTENCE\tREVIEWER\tAPPROVED\tPENDING")
			for _, ev := range events {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\n",
					ev.At.Format(time.RFC3339), ev.Type, dash(ev.SentenceID), dash(ev.ReviewerID),
					ev.Stats.Approved, ev.Stats.Total, ev.Stats.Outstanding())
			}
			return w.Flush()
		},
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete audit events older than a given age",
		Flags: []cli.Flag{
			dbFlag(),
			&cli.DurationFlag{Name: "older-than", Usage: "minimum age of deleted events", Value: 30 * 24 * time.Hour},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			repo, err := store.NewSQLite(c.String("db"))
			if err != nil {
				return err
			}
			defer repo.Close()

			n, err := repo.PruneEvents(ctx, c.Duration("older-than"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.Root().Writer, "Deleted %d event(s)\n", n)
			return err
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
