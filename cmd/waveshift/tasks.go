package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/bnema/waveshift/config"
	"github.com/bnema/waveshift/internal/domain"
)

func newTasksCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List an owner's tasks straight from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			tasks, err := store.ListByOwner(cmd.Context(), owner)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintf(out, "no tasks for %s\n", owner)
				return nil
			}
			fmt.Fprintln(out, renderTasks(tasks, time.Now(), shouldColorize(out)))
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner id to list")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func renderTasks(tasks []*domain.Task, now time.Time, colorize bool) string {
	sorted := append([]*domain.Task(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	rows := make([][]string, 0, len(sorted))
	for _, t := range sorted {
		status := string(t.Status)
		if colorize {
			status = statusColors(t.Status).Sprint(status)
		}
		detail := t.PipelineStatus
		if t.Error != nil {
			detail = t.Error.Message
		}
		rows = append(rows, []string{
			t.ID,
			status,
			strconv.Itoa(t.Progress) + "%",
			t.Input.FileName,
			detail,
			formatAge(now.Sub(t.UpdatedAt)),
		})
	}

	return renderTable(
		[]string{"ID", "Status", "Progress", "File", "Detail", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight},
	)
}

func statusColors(status domain.TaskStatus) text.Colors {
	switch {
	case status == domain.TaskStatusCompleted:
		return text.Colors{text.FgGreen}
	case status == domain.TaskStatusFailed:
		return text.Colors{text.FgRed}
	case status.InProgress():
		return text.Colors{text.FgYellow}
	default:
		return text.Colors{text.FgBlue}
	}
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
