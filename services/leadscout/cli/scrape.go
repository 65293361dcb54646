package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
	"github.com/shubhanshu-sudo/Scrapper/internal/orchestrator"
	"github.com/shubhanshu-sudo/Scrapper/services/leadscout/config"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one scrape in the foreground and print its progress",
	Example: `  leadscout scrape -k bakery -k florist -l Leeds -l York
  leadscout scrape -k "dental clinic" -l Pune --parallel 2`,
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().StringSliceP("keyword", "k", nil, "search keyword (repeatable)")
	scrapeCmd.Flags().StringSliceP("location", "l", nil, "location (repeatable)")
	scrapeCmd.Flags().IntP("parallel", "p", 0, "concurrent keyword contexts; 0 uses default_parallelism")
	scrapeCmd.Flags().Duration("poll", time.Second, "progress refresh interval")
	_ = scrapeCmd.MarkFlagRequired("keyword")
	_ = scrapeCmd.MarkFlagRequired("location")
}

func runScrape(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger := buildLogger(cfg.LogLevel, "leadscout-scrape")

	keywords, _ := cmd.Flags().GetStringSlice("keyword")
	locations, _ := cmd.Flags().GetStringSlice("location")
	parallel, _ := cmd.Flags().GetInt("parallel")
	poll, _ := cmd.Flags().GetDuration("poll")

	a, err := buildApp(context.Background(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	taskID, err := a.orch.Start(ctx, orchestrator.Request{
		Keywords:    keywords,
		Locations:   locations,
		Parallelism: parallel,
		Source:      "cli",
	})
	if err != nil {
		return err
	}
	fmt.Printf("task %s started\n", taskID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	task, err := watch(ctx, a.orch, taskID, poll, quit)
	a.orch.Wait()
	if err != nil {
		return err
	}

	fmt.Printf("\n%s: %s\n", task.Status, task.Message)
	if task.Status == domain.StatusFailed {
		return fmt.Errorf("task %s failed (%s)", task.ID, task.ErrorCode)
	}
	return nil
}

type taskWatcher interface {
	Get(ctx context.Context, taskID string) (*domain.Task, error)
	Cancel(ctx context.Context, taskID string) error
}

// watch prints a progress line whenever the task changes and returns the
// terminal snapshot. A signal on quit requests cancellation once.
func watch(ctx context.Context, w taskWatcher, taskID string, every time.Duration, quit <-chan os.Signal) (*domain.Task, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last string
	for {
		task, err := w.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		line := fmt.Sprintf("[%3d%%] %d leads | %s", task.Progress, task.LeadsFound, task.Message)
		if line != last {
			fmt.Println(line)
			last = line
		}
		if task.Status.IsTerminal() {
			return task, nil
		}

		select {
		case <-quit:
			fmt.Println("cancelling...")
			var terminal *domain.TaskTerminalError
			if err := w.Cancel(ctx, taskID); err != nil && !errors.As(err, &terminal) {
				return nil, err
			}
			quit = nil
		case <-ticker.C:
		}
	}
}
