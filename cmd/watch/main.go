package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/magnetoid/nisam-video-sub001/internal/logging"
	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/streamclient"
	"github.com/magnetoid/nisam-video-sub001/internal/watchui"
)

var (
	serverURL string
	token     string
	runFirst  bool
	logLines  int
	plain     bool
	debug     bool
)

var rootCmd = &cobra.Command{
	Use:   "watch [job-id]",
	Short: "Follow a scrape job live",
	Long: `Follows a scrape job over the status stream. Without a job id the
currently active job is watched. With --run a new job is triggered first.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if token == "" {
			token = os.Getenv("ADMIN_TOKEN")
		}
		level := "warn"
		if debug {
			level = "debug"
		}
		var logOut io.Writer = io.Discard
		if plain || debug {
			logOut = os.Stderr
		}
		log := logging.New(logOut, level, "console")
		client := streamclient.New(serverURL, streamclient.Options{Token: token}, log)

		jobID, err := resolveJob(ctx, client, args)
		if err != nil {
			return err
		}
		if plain {
			return watchPlain(ctx, client, jobID, log)
		}
		return watchTUI(ctx, client, jobID)
	},
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server", envOrDefault("SCRAPER_URL", "http://localhost:8080"), "admin API base URL")
	rootCmd.Flags().StringVar(&token, "token", "", "admin token (defaults to ADMIN_TOKEN)")
	rootCmd.Flags().BoolVar(&runFirst, "run", false, "trigger a job before watching")
	rootCmd.Flags().IntVar(&logLines, "lines", 10, "log lines to show")
	rootCmd.Flags().BoolVar(&plain, "plain", false, "print log lines instead of the interactive view")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "log reconnect attempts")
}

func resolveJob(ctx context.Context, client *streamclient.Client, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if runFirst {
		id, started, err := client.RunNow(ctx)
		if err != nil {
			return "", fmt.Errorf("trigger job: %w", err)
		}
		if !started {
			fmt.Fprintf(os.Stderr, "a job is already active, watching %s\n", id)
		}
		return id, nil
	}
	id, err := client.ActiveJobID(ctx)
	if err != nil {
		return "", fmt.Errorf("find active job: %w", err)
	}
	if id == "" {
		return "", errors.New("no job is running; pass a job id or use --run")
	}
	return id, nil
}

func watchTUI(ctx context.Context, client *streamclient.Client, jobID string) error {
	p := tea.NewProgram(watchui.New(jobID, logLines), tea.WithContext(ctx))

	go func() {
		_, err := client.Watch(ctx, jobID, func(st streamclient.State) {
			p.Send(watchui.StateMsg(st))
		})
		p.Send(watchui.DoneMsg{Err: err})
	}()

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if m, ok := final.(watchui.Model); ok {
		if m.Err() != nil && !errors.Is(m.Err(), context.Canceled) {
			return m.Err()
		}
		if st := m.State(); st.Done && st.Job.Status != model.JobCompleted {
			return fmt.Errorf("job %s %s", jobID, st.Job.Status)
		}
	}
	return nil
}

func watchPlain(ctx context.Context, client *streamclient.Client, jobID string, log *slog.Logger) error {
	printed := 0
	st, err := client.Watch(ctx, jobID, func(st streamclient.State) {
		// A reconnect replays the log; only print what is new.
		if len(st.Logs) < printed {
			printed = 0
		}
		for _, e := range st.Logs[printed:] {
			fmt.Printf("%s [%s] %s\n", e.Time.Local().Format("15:04:05"), e.Level, e.Message)
		}
		printed = len(st.Logs)
	})
	if err != nil {
		return err
	}
	log.Info("job finished", "job_id", jobID, "status", st.Job.Status,
		"processed", st.Job.ProcessedItems, "failed", st.Job.FailedItems, "videos_added", st.Job.VideosAdded)
	fmt.Printf("%s: %d/%d processed, %d failed, %d videos added\n",
		st.Job.Status, st.Job.ProcessedItems, st.Job.TotalItems, st.Job.FailedItems, st.Job.VideosAdded)
	if st.Job.Status != model.JobCompleted {
		return fmt.Errorf("job %s %s", jobID, st.Job.Status)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
