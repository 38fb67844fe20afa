package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"

	"github.com/petrijr/conductor"
	"github.com/petrijr/conductor/internal/persistence"
)

var errConductorExists = errors.New("conductor already exists")

// summary is the machine readable result of most commands.
type summary struct {
	ID     string               `json:"id" yaml:"id"`
	Status conductor.Status     `json:"status" yaml:"status"`
	Output map[string]any       `json:"output,omitempty" yaml:"output,omitempty"`
	Errors []conductor.LogEntry `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func summarize(c *conductor.Conductor) summary {
	return summary{
		ID:     c.ID(),
		Status: c.WorkflowStatus(),
		Output: c.Output(),
		Errors: c.Errors(),
	}
}

func (s summary) text(w io.Writer) error {
	fmt.Fprintf(w, "%s %s\n", s.ID, s.Status)
	if len(s.Output) > 0 {
		fmt.Fprintf(w, "output: %s\n", compact(s.Output))
	}
	for _, e := range s.Errors {
		if e.TaskID != "" {
			fmt.Fprintf(w, "error [%s]: %s\n", e.TaskID, e.Message)
			continue
		}
		fmt.Fprintf(w, "error: %s\n", e.Message)
	}
	return nil
}

// parseValue reads a JSON value and falls back to the raw string, so
// --input name=Ada and --input count=3 both do what one expects.
func parseValue(raw string) any {
	if raw == "" {
		return raw
	}
	v, err := oj.ParseString(raw)
	if err != nil {
		return raw
	}
	return v
}

func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", p)
		}
		out[k] = parseValue(v)
	}
	return out, nil
}

func compact(v any) string {
	if v == nil {
		return ""
	}
	return oj.JSON(v, &oj.Options{Sort: true})
}

func (a *app) newInitCmd() *cobra.Command {
	var (
		id     string
		inputs []string
		start  bool
	)
	cmd := &cobra.Command{
		Use:   "init <workflow.yaml>",
		Short: "Create a conductor for a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wf, err := conductor.Load(args[0])
			if err != nil {
				return err
			}
			input, err := parseAssignments(inputs)
			if err != nil {
				return err
			}
			return a.withBackend(ctx, func(b *backend) error {
				if id != "" {
					_, err := b.Snapshots.Load(ctx, id)
					if err == nil {
						return fmt.Errorf("%s: %w", id, errConductorExists)
					}
					if !errors.Is(err, persistence.ErrSnapshotNotFound) {
						return err
					}
				}
				cfg := a.conductorConfig(b)
				cfg.ID = id
				cfg.Spec = wf
				cfg.Input = input
				c, err := conductor.New(ctx, cfg)
				if err != nil {
					return err
				}
				if start {
					if err := c.RequestWorkflowStatus(ctx, conductor.StatusRunning); err != nil {
						return err
					}
				}
				if err := b.Snapshots.Save(ctx, c.Serialize()); err != nil {
					return err
				}
				s := summarize(c)
				return a.render(cmd.OutOrStdout(), s, s.text)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Conductor id (default: random UUID)")
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Workflow input as key=value, value parsed as JSON when possible")
	cmd.Flags().BoolVar(&start, "start", true, "Request the running status right away")
	return cmd
}

func (a *app) newNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next <id>",
		Short: "List the tasks that may run now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withBackend(ctx, func(b *backend) error {
				c, err := conductor.Resume(ctx, b.Snapshots, args[0], a.conductorConfig(b))
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				next := c.GetNextTasks(ctx)
				if next == nil {
					next = []conductor.TaskDispatch{}
				}
				return a.render(cmd.OutOrStdout(), next, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "TASK\tCTX\tACTION\tITEM\tDELAY\tINPUT")
					for _, d := range next {
						for _, act := range d.Actions {
							item := "-"
							if act.ItemID != nil {
								item = fmt.Sprint(*act.ItemID)
							}
							fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", d.ID, d.Ctx, act.Action, item, d.Delay, compact(act.Input))
						}
						if len(d.Actions) == 0 {
							fmt.Fprintf(tw, "%s\t%d\t-\t-\t%s\t\n", d.ID, d.Ctx, d.Delay)
						}
					}
					return tw.Flush()
				})
			})
		},
	}
}

// eventResult is printed by the event command.
type eventResult struct {
	Task       string           `json:"task" yaml:"task"`
	TaskStatus conductor.Status `json:"task_status" yaml:"task_status"`
	Workflow   summary          `json:"workflow" yaml:"workflow"`
}

func (a *app) newEventCmd() *cobra.Command {
	var (
		item   int
		result string
	)
	cmd := &cobra.Command{
		Use:   "event <id> <task> <status>",
		Short: "Report an action status for a task",
		Long: `Report the status of an action run for a task. Use --item for the items
of a with-items task and --result for the action result as JSON.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, task, status := args[0], args[1], conductor.Status(args[2])

			var value any
			if result != "" {
				v, err := oj.ParseString(result)
				if err != nil {
					return fmt.Errorf("invalid --result: %w", err)
				}
				value = v
			}
			var (
				ev  *conductor.ActionExecutionEvent
				err error
			)
			if cmd.Flags().Changed("item") {
				ev, err = conductor.NewItemActionExecutionEvent(status, item, value)
			} else {
				ev, err = conductor.NewActionExecutionEvent(status, value)
			}
			if err != nil {
				return err
			}

			return a.withBackend(ctx, func(b *backend) error {
				var out eventResult
				c, err := a.mutate(ctx, b, id, func(ctx context.Context, c *conductor.Conductor) error {
					entry, err := c.UpdateTaskFlow(ctx, task, ev)
					if err != nil {
						return err
					}
					out.Task = entry.ID
					out.TaskStatus = entry.Status
					return nil
				})
				if err != nil {
					return err
				}
				out.Workflow = summarize(c)
				return a.render(cmd.OutOrStdout(), out, func(w io.Writer) error {
					fmt.Fprintf(w, "task %s %s\n", out.Task, out.TaskStatus)
					return out.Workflow.text(w)
				})
			})
		},
	}
	cmd.Flags().IntVar(&item, "item", 0, "Item index for with-items tasks")
	cmd.Flags().StringVar(&result, "result", "", "Action result as JSON")
	return cmd
}

func (a *app) newRequestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request <id> <status>",
		Short: "Request a workflow status (running, pausing, resuming, canceling)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			status := conductor.Status(args[1])
			return a.withBackend(ctx, func(b *backend) error {
				c, err := a.mutate(ctx, b, args[0], func(ctx context.Context, c *conductor.Conductor) error {
					return c.RequestWorkflowStatus(ctx, status)
				})
				if err != nil {
					return err
				}
				s := summarize(c)
				return a.render(cmd.OutOrStdout(), s, s.text)
			})
		},
	}
}

func (a *app) newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <id>",
		Short: "Show a stored conductor",
		Long: `Show a stored conductor. The text format lists the task attempts; json
and yaml print the whole snapshot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withBackend(ctx, func(b *backend) error {
				snap, err := b.Snapshots.Load(ctx, args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				if a.output != formatText {
					return a.render(cmd.OutOrStdout(), snap, nil)
				}
				c, err := conductor.FromSnapshot(a.conductorConfig(b), snap)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if err := summarize(c).text(w); err != nil {
					return err
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "SEQ\tTASK\tCTX\tSTATUS\tRESULT")
				for i, e := range c.Sequence() {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", i, e.ID, e.Ctx, e.Status, compact(e.Result))
				}
				for _, st := range c.StagedTasks() {
					fmt.Fprintf(tw, "-\t%s\t%v\tstaged\t\n", st.ID, st.Ctxs)
				}
				return tw.Flush()
			})
		},
	}
}

func (a *app) newListCmd() *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored conductors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var filter conductor.StoreFilter
			for _, s := range statuses {
				filter.Statuses = append(filter.Statuses, conductor.Status(s))
			}
			return a.withBackend(ctx, func(b *backend) error {
				items, err := b.Snapshots.List(ctx, filter)
				if err != nil {
					return err
				}
				if items == nil {
					items = []conductor.SnapshotSummary{}
				}
				return a.render(cmd.OutOrStdout(), items, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tSTATUS\tUPDATED")
					for _, s := range items {
						fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Status, s.UpdatedAt.Format(time.RFC3339))
					}
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only list conductors in these workflow statuses")
	return cmd
}

func (a *app) newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the recorded history of a conductor (sqlite store only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withBackend(ctx, func(b *backend) error {
				events, err := b.Events.ListEvents(ctx, args[0])
				if err != nil {
					return err
				}
				if events == nil {
					events = []conductor.HistoryEvent{}
				}
				return a.render(cmd.OutOrStdout(), events, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "AT\tTYPE\tTASK\tSTATUS\tDETAIL")
					for _, ev := range events {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
							ev.At.Format(time.RFC3339Nano), ev.Type, ev.TaskID, ev.Status, ev.Detail)
					}
					return tw.Flush()
				})
			})
		},
	}
}

func (a *app) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored conductor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			return a.withBackend(ctx, func(b *backend) error {
				err := persistence.WithLease(ctx, b.Snapshots, id, a.cfg.Lease.Owner, a.cfg.Lease.TTL, func(ctx context.Context) error {
					return b.Snapshots.Delete(ctx, id)
				})
				if err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				return nil
			})
		},
	}
}
