package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alexjbarnes/diary-sync/diary"
	"github.com/alexjbarnes/diary-sync/internal/models"
	"github.com/spf13/cobra"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the upload queue and reconcile with the server once",
		RunE: withApp(func(ctx context.Context, a *app) error {
			res := a.syncer.SyncWithServer(ctx)
			if !res.Success {
				return fmt.Errorf("sync failed: %w", res.Err)
			}

			fmt.Printf("drained %d, fetched %d, inserted %d, updated %d, removed %d, requeued %d, conflicts %d\n",
				res.Drained, res.Fetched, res.Inserted, res.Updated, res.Removed, res.Requeued, res.Conflicts)
			if n := len(res.CommentIDs); n > 0 {
				fmt.Printf("%d new AI comment(s)\n", n)
			}
			return nil
		}),
	}
}

func addCmd() *cobra.Command {
	var (
		id, date                      string
		mood, moodTag, weather, image string
	)

	cmd := &cobra.Command{
		Use:   "add [text...]",
		Short: "Write an entry locally and queue it for upload",
		Long: `Write an entry locally and queue it for upload.

Without --id a new entry is created. With --id the existing entry is
updated; flags that are not given keep their current value. The text is
read from stdin when no arguments are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			if len(args) == 0 {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading entry text: %w", err)
				}
				content = strings.TrimSpace(string(raw))
			}

			return withApp(func(_ context.Context, a *app) error {
				d := diary.Draft{ID: id, Date: date}
				if id != "" {
					existing := a.state.GetEntry(id)
					if existing == nil {
						return fmt.Errorf("no entry %s", id)
					}
					d.Body = existing.Body
				} else if d.Date == "" {
					d.Date = time.Now().Format(models.DateLayout)
				}

				d.Content = content
				setIfChanged(cmd, "mood", &d.Mood, mood)
				setIfChanged(cmd, "mood-tag", &d.MoodTag, moodTag)
				setIfChanged(cmd, "weather", &d.Weather, weather)
				setIfChanged(cmd, "image", &d.ImageURI, image)

				e, err := a.syncer.SaveEntry(d)
				if err != nil {
					return err
				}
				fmt.Printf("saved %s (%s)\n", e.ID, e.Date)
				return nil
			})(cmd, args)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Entry to update")
	cmd.Flags().StringVar(&date, "date", "", "Entry date, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&mood, "mood", "", "Mood")
	cmd.Flags().StringVar(&moodTag, "mood-tag", "", "Mood tag")
	cmd.Flags().StringVar(&weather, "weather", "", "Weather")
	cmd.Flags().StringVar(&image, "image", "", "Image URI")

	return cmd
}

// setIfChanged applies an optional flag. An explicit empty value clears
// the field.
func setIfChanged(cmd *cobra.Command, flag string, field **string, v string) {
	if !cmd.Flags().Changed(flag) {
		return
	}
	if v == "" {
		*field = nil
		return
	}
	*field = models.String(v)
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an entry locally and queue the server delete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(_ context.Context, a *app) error {
				if err := a.syncer.DeleteEntry(args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})(cmd, args)
		},
	}
}

func listCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local entries",
		RunE: withApp(func(_ context.Context, a *app) error {
			entries := a.syncer.Entries()
			if asJSON {
				return printJSON(entries)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tID\tSYNCED\tMOOD\tCOMMENT\tCONTENT")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
					e.Date, e.ID, e.SyncedWithServer, models.Deref(e.Mood),
					truncate(models.Deref(e.AIComment), 30), truncate(e.Content, 40))
			}
			return w.Flush()
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show operations waiting for upload",
		RunE: withApp(func(_ context.Context, a *app) error {
			items := a.state.QueueItems()
			if len(items) == 0 {
				fmt.Println("queue is empty")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tOP\tTARGET\tENQUEUED")
			for _, it := range items {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", it.Seq, it.Operation, it.TargetID, it.EnqueuedAt.Format(time.RFC3339))
			}
			return w.Flush()
		}),
	}
}

func reportCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise moods per month",
		RunE: withApp(func(_ context.Context, a *app) error {
			report := diary.MoodReport(a.syncer.Entries())
			if asJSON {
				return printJSON(report)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MONTH\tENTRIES\tCOMMENTS\tTOP MOOD")
			for _, m := range report {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", m.Month, m.Entries, m.Comments, m.TopMood())
			}
			return w.Flush()
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func conflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "Show local edits that lost a merge against the server",
		RunE: withApp(func(_ context.Context, a *app) error {
			conflicts := a.state.Conflicts()
			if len(conflicts) == 0 {
				fmt.Println("no conflicts recorded")
				return nil
			}

			for _, c := range conflicts {
				fmt.Printf("== %s %s (detected %s)\n", c.Date, c.EntryID, c.DetectedAt.Format(time.RFC3339))
				fmt.Println(c.LocalContent)
				fmt.Println("-- patch to restore the local text:")
				fmt.Println(c.Patch)
			}
			return nil
		}),
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
