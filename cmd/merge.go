package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/uma-tools/receipt-merger/internal/client"
)

type mergeOptions struct {
	server          string
	output          string
	dataURI         bool
	trimMargin      bool
	trimTitle       bool
	trimCloseButton bool
	concurrency     int64
	timeout         time.Duration
}

func newMergeCmd(root *rootOptions) *cobra.Command {
	opts := &mergeOptions{}

	cmd := &cobra.Command{
		Use:   "merge FILE...",
		Short: "Upload screenshots to a receipts server and save the merged image",
		Long: `Reads the given PNG screenshots concurrently, puts them back in argument
order and submits them to a running receipts server as one merge request.

Files that are not PNG are skipped with a warning.`,
		Example: `  # Merge three screenshots with margins and the title bar trimmed
  receipts merge shot1.png shot2.png shot3.png --trim-margin --trim-title

  # Print the result as a data URI instead of writing a file
  receipts merge *.png --data-uri`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			result, err := runMerge(ctx, args, opts)
			if err != nil {
				return err
			}

			if opts.dataURI {
				fmt.Fprintln(cmd.OutOrStdout(), result.DataURI())
				return nil
			}
			if err := os.WriteFile(opts.output, result.Bytes(), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", opts.output, err)
			}
			slog.Info("Merged image written", "path", opts.output, "size_mb", fmt.Sprintf("%.2f", result.SizeMegabytes()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.server, "server", "s", "http://localhost:8888", "Base URL of the receipts server")
	cmd.Flags().StringVarP(&opts.output, "output", "o", client.ResultName, "Where to write the merged image")
	cmd.Flags().BoolVar(&opts.dataURI, "data-uri", false, "Print the merged image as a data URI")
	cmd.Flags().BoolVar(&opts.trimMargin, "trim-margin", false, "Remove uniform margins")
	cmd.Flags().BoolVar(&opts.trimTitle, "trim-title", false, "Remove the title bar (requires --trim-margin)")
	cmd.Flags().BoolVar(&opts.trimCloseButton, "trim-close-button", false, "Remove the close button from the last screenshot")
	cmd.Flags().Int64Var(&opts.concurrency, "concurrency", client.DefaultReadConcurrency, "Files read at once")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Give up after this long")

	return cmd
}

// alertLog keeps the alerts raised by a form.
type alertLog struct {
	mu     sync.Mutex
	alerts []client.Alert
}

func (l *alertLog) add(a client.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slog.Warn(a.Message, "kind", a.Kind.String(), "err", a.Err)
	l.alerts = append(l.alerts, a)
}

func (l *alertLog) last(kind client.AlertKind) (client.Alert, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.alerts) - 1; i >= 0; i-- {
		if l.alerts[i].Kind == kind {
			return l.alerts[i], true
		}
	}
	return client.Alert{}, false
}

func runMerge(ctx context.Context, paths []string, opts *mergeOptions) (client.Image, error) {
	var (
		files []client.File
		want  []string
	)
	for _, path := range paths {
		f, err := client.OpenFile(path)
		if err != nil {
			return client.Image{}, err
		}
		files = append(files, f)
		if f.MimeType() == client.AcceptedMIMEType {
			want = append(want, f.Name())
		}
	}
	if len(want) == 0 {
		return client.Image{}, errors.New("no PNG files given")
	}

	alerts := &alertLog{}
	form := client.NewForm(
		client.NewHTTPSubmitter(opts.server),
		client.WithIngestor(client.NewIngestor(opts.concurrency)),
		client.WithAlerter(alerts.add),
	)
	defer form.Close()

	if err := form.Select(files); err != nil {
		return client.Image{}, err
	}
	snap, err := form.Await(ctx, func(s client.Snapshot) bool { return s.Pending == 0 })
	if err != nil {
		return client.Image{}, fmt.Errorf("waiting for files: %w", err)
	}
	if len(snap.Images) != len(want) {
		return client.Image{}, fmt.Errorf("loaded %d of %d files", len(snap.Images), len(want))
	}

	if err := restoreOrder(form, snap.Images, want); err != nil {
		return client.Image{}, err
	}

	for name, value := range map[string]bool{
		client.OptionTrimMargin:      opts.trimMargin,
		client.OptionTrimTitle:       opts.trimTitle,
		client.OptionTrimCloseButton: opts.trimCloseButton,
	} {
		if err := form.SetOption(name, value); err != nil {
			return client.Image{}, err
		}
	}

	before := form.Snapshot().Revision
	if err := form.Submit(); err != nil {
		return client.Image{}, err
	}
	snap, err = form.Await(ctx, func(s client.Snapshot) bool { return !s.Loading && s.Revision > before+1 })
	if err != nil {
		return client.Image{}, fmt.Errorf("waiting for merge: %w", err)
	}
	// Alerts fire after the render; a Snapshot round trip waits for them.
	form.Snapshot()

	if snap.Result == nil {
		if alert, ok := alerts.last(client.AlertSubmitFailed); ok {
			return client.Image{}, fmt.Errorf("%s: %w", alert.Message, alert.Err)
		}
		return client.Image{}, errors.New("merge produced no image")
	}
	return *snap.Result, nil
}

// restoreOrder moves images, which arrive in completion order, back into
// the order of want using adjacent swaps.
func restoreOrder(form *client.Form, images []client.Image, want []string) error {
	current := make([]string, len(images))
	for i, img := range images {
		current[i] = img.Name
	}

	for target, name := range want {
		j := target
		for j < len(current) && current[j] != name {
			j++
		}
		if j == len(current) {
			return fmt.Errorf("image %s was not loaded", name)
		}
		for ; j > target; j-- {
			if err := form.MoveLeft(j); err != nil {
				return err
			}
			current[j-1], current[j] = current[j], current[j-1]
		}
	}
	return nil
}
