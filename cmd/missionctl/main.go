package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionctl/internal/app"
	"missionctl/internal/config"
	"missionctl/internal/db"
	"missionctl/internal/domain"
	"missionctl/internal/engine"
	"missionctl/internal/migrate"
	"missionctl/internal/observability"
	"missionctl/internal/repo"
	"missionctl/internal/server"
)

const envGatewayKey = "MISSIONCTL_GATEWAY_URL"

var rootCmd = &cobra.Command{
	Use:   "missionctl",
	Short: "Mission control for a team of agents",
	Long: `missionctl routes tasks to the agent best suited for them and keeps the team honest about deadlines.
Core concepts:
- Agents: team members with a role and a status (standby, working, offline). Offline agents never receive work.
- Tasks: work items flowing inbox -> planning -> assigned -> in_progress -> review -> done.
- Auto-route: score every available agent against the task text using the routing catalog in missionctl.yml, then assign (and optionally dispatch) the winner.
- Dispatch: routed tasks are forwarded to an external gateway when dispatch.gateway_url is set.
- Late alerts: open tasks past their due date, reported once per status and cooldown window.
- Mentions: @handles in comments notify the matching agents.
- Event log: everything that happened, view with 'missionctl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := loadDotEnv(workspace); err != nil {
			return err
		}
		observability.SetLogger(observability.New(os.Stderr, viper.GetString("log-level")))
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MISSIONCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("gateway-url", "", "dispatch gateway base URL (overrides missionctl.yml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("gateway-url", rootCmd.PersistentFlags().Lookup("gateway-url"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(lateCmd())
	rootCmd.AddCommand(mentionCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage missionctl.yml",
		Long:  "missionctl.yml holds the routing catalog (profiles, weights, default assignee), dispatch gateway settings, the late-alert schedule and the mention match mode.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configGatewayCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default missionctl.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Config)
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate missionctl.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway <url>",
		Short: "Persist the dispatch gateway URL in the workspace .env",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(viper.GetString("workspace"), ".env")
			if err := setEnvValue(path, envGatewayKey, strings.TrimSpace(args[0])); err != nil {
				return err
			}
			fmt.Printf("%s set in %s\n", envGatewayKey, path)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				counts, err := a.Engine.Repo.CountTasksByStatus(ctx)
				if err != nil {
					return err
				}
				agents, err := a.Engine.ListAgents(ctx)
				if err != nil {
					return err
				}
				schema, err := migrate.CurrentStatus(ctx, a.DB)
				if err != nil {
					return err
				}
				out := map[string]any{
					"database":    db.Path(viper.GetString("workspace")),
					"schema":      schema,
					"agents":      len(agents),
					"task_counts": counts,
					"dispatch":    a.DispatchEnabled(),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Database: %s (schema v%d)\n", out["database"], schema.Current)
				fmt.Printf("Agents: %d\n", len(agents))
				fmt.Printf("Dispatch: %v\n", a.DispatchEnabled())
				fmt.Println("Tasks:")
				for _, status := range domain.TaskStatuses {
					fmt.Printf("  %s: %d\n", status, counts[status])
				}
				return nil
			})
		},
	}
}

// --- agents ---

func agentCmd() *cobra.Command {
	agent := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
		Long:  "Agents receive routed work. Their name, role and description are matched against the routing catalog's affinity hints.",
	}
	agent.AddCommand(agentListCmd())
	agent.AddCommand(agentCreateCmd())
	agent.AddCommand(agentStatusCmd())
	return agent
}

func agentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				agents, err := a.Engine.ListAgents(ctx)
				if err != nil {
					return err
				}
				unread, err := a.Engine.UnreadMentionCounts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Status", "Master", "Unread"})
				for _, ag := range agents {
					tw.AppendRow(table.Row{ag.ID, ag.Name, ag.Role, ag.Status, ag.IsMaster, unread[ag.ID]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func agentCreateCmd() *cobra.Command {
	var opts engine.AgentCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ag, err := a.Engine.CreateAgent(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(ag)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "agent name")
	cmd.Flags().StringVar(&opts.Role, "role", "", "agent role")
	cmd.Flags().StringVar(&opts.Description, "description", "", "agent description")
	cmd.Flags().StringVar(&opts.Status, "status", domain.AgentStandby, "initial status")
	cmd.Flags().BoolVar(&opts.IsMaster, "master", false, "mark as master agent (wins score ties)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func agentStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <standby|working|offline>",
		Short: "Set agent status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ag, err := a.Engine.SetAgentStatus(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(ag)
			})
		},
	}
}

// --- tasks ---

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow inbox -> planning -> assigned -> in_progress -> review -> done. Auto-route picks an assignee; comments can @mention agents.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskDueCmd())
	task.AddCommand(taskRouteCmd())
	task.AddCommand(taskCommentCmd())
	task.AddCommand(taskActivitiesCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Status, "status", "", "initial status (default inbox)")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority: low, normal, high, urgent")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (RFC3339)")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee-id", "", "assign directly to an agent")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Due"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.AssignedAgentName, deref(t.DueDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskStatusCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a task to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.UpdateTaskStatus(ctx, args[0], args[1], agentID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "", "agent performing the change")
	return cmd
}

func taskDueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "due <id> <rfc3339|none>",
		Short: "Set or clear a task due date",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			due := args[1]
			if strings.EqualFold(due, "none") {
				due = ""
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.SetTaskDueDate(ctx, args[0], due)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskRouteCmd() *cobra.Command {
	var dryRun, noDispatch bool
	cmd := &cobra.Command{
		Use:   "route <id>",
		Short: "Auto-route a task to the best matching agent",
		Long:  "Scores every non-offline agent against the task. Without --dry-run the winner is assigned and, when a gateway is configured, the task is dispatched.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.AutoRoute(ctx, args[0], engine.AutoRouteOptions{Apply: !dryRun, Dispatch: !noDispatch}, time.Now())
				if err != nil {
					if errors.Is(err, engine.ErrNoCandidates) {
						return fmt.Errorf("no agents available to route %s", args[0])
					}
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				ranked := res.Ranked
				if res.Applied != nil {
					ranked = res.Applied.TopCandidates
					fmt.Printf("Assigned to %s (score %d), status %s\n", res.Selected.AgentName, res.Selected.Score, res.Applied.Task.Status)
					if res.Applied.Dispatched {
						fmt.Println("Dispatch queued")
					}
				} else {
					fmt.Printf("Would assign to %s (score %d)\n", res.Selected.AgentName, res.Selected.Score)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Agent", "Score", "Reasons"})
				for _, d := range ranked {
					tw.AppendRow(table.Row{d.AgentName, d.Score, strings.Join(d.Reasons, "; ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview the ranking without assigning")
	cmd.Flags().BoolVar(&noDispatch, "no-dispatch", false, "assign without forwarding to the gateway")
	return cmd
}

func taskCommentCmd() *cobra.Command {
	var agentID, activityType string
	cmd := &cobra.Command{
		Use:   "comment <id> <message>",
		Short: "Log an activity on a task; comments notify @mentioned agents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.RecordActivity(ctx, engine.ActivityInput{
					TaskID:  args[0],
					AgentID: agentID,
					Type:    activityType,
					Message: args[1],
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Logged %s %s\n", res.Activity.Type, res.Activity.ID)
				for _, m := range res.Mentions {
					fmt.Printf("  notified %s (%s)\n", m.Name, m.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "", "author agent id")
	cmd.Flags().StringVar(&activityType, "type", domain.ActivityComment, "activity type")
	return cmd
}

func taskActivitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activities <id>",
		Short: "List a task's activity log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListActivities(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"At", "Type", "Agent", "Message"})
				for _, act := range items {
					tw.AppendRow(table.Row{act.CreatedAt, act.Type, act.AgentName, act.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- late alerts ---

func lateCmd() *cobra.Command {
	late := &cobra.Command{
		Use:   "late",
		Short: "Late task alerts",
	}
	late.AddCommand(lateScanCmd())
	return late
}

func lateScanCmd() *cobra.Command {
	var repeat int
	var mark bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List overdue tasks outside their alert cooldown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("repeat-after") {
					repeat = a.Config.Alerts.RepeatAfterMinutes
				}
				res, err := a.Engine.ScanLateTasks(ctx, time.Now(), repeat, mark)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%d late task(s), cooldown %dm, marked=%v\n", res.Total, res.RepeatAfterMinutes, res.Marked)
				tw := newTable()
				tw.AppendHeader(table.Row{"Status", "ID", "Title", "Assignee", "Due"})
				for _, status := range domain.LateStatuses {
					for _, t := range res.GroupedByStatus[status] {
						tw.AppendRow(table.Row{status, t.ID, t.Title, t.AssignedAgentName, deref(t.DueDate)})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&repeat, "repeat-after", 60, "minutes before a task is reported again")
	cmd.Flags().BoolVar(&mark, "mark", false, "record the alert so the cooldown applies")
	return cmd
}

// --- mentions ---

func mentionCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "mention",
		Short: "Agent mention inbox",
	}
	m.AddCommand(mentionListCmd())
	m.AddCommand(mentionReadCmd())
	m.AddCommand(mentionUnreadCmd())
	return m
}

func mentionListCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "list <agent-id>",
		Short: "List mentions addressed to an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListMentions(ctx, args[0], unread)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Task", "From", "Message", "Read"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.TaskID, m.FromAgentName, m.Message, deref(m.ReadAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread mentions")
	return cmd
}

func mentionReadCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "read <agent-id> [mention-id...]",
		Short: "Mark mentions read",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.MarkMentionsRead(ctx, args[0], engine.MarkReadOptions{All: all, IDs: args[1:]}, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"marked": n})
				}
				fmt.Printf("marked %d mention(s) read\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "mark every unread mention")
	return cmd
}

func mentionUnreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Unread mention counts per agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				counts, err := a.Engine.UnreadMentionCounts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				ids := make([]string, 0, len(counts))
				for id := range counts {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				tw := newTable()
				tw.AppendHeader(table.Row{"Agent", "Unread"})
				for _, id := range ids {
					tw.AppendRow(table.Row{id, counts[id]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- reports ---

func reportCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "report",
		Short: "Operational reports",
	}
	r.AddCommand(reportMetricsCmd())
	r.AddCommand(reportStandupCmd())
	return r
}

func reportMetricsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Review latency, lateness and dispatch health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rep, err := a.Engine.MetricsReport(ctx, time.Now(), days)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().IntVar(&days, "window-days", 7, "trailing window in days")
	return cmd
}

func reportStandupCmd() *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "standup",
		Short: "Daily standup summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rep, err := a.Engine.StandupReport(ctx, time.Now(), hours)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("Standup (%dh window): %d open, %d done\n", rep.WindowHours, rep.Totals.Open, rep.Totals.DoneWindow)
				sections := []struct {
					name  string
					items []repo.ReportItem
				}{
					{"Completed", rep.Sections.Completed},
					{"In progress", rep.Sections.InProgress},
					{"Blocked", rep.Sections.Blocked},
					{"Needs review", rep.Sections.NeedsReview},
				}
				for _, s := range sections {
					fmt.Printf("%s:\n", s.name)
					if len(s.items) == 0 {
						fmt.Println("  none")
						continue
					}
					for _, it := range s.items {
						fmt.Printf("  - %s (%s)\n", it.Title, it.AssignedAgentName)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&hours, "window-hours", 24, "completed-work window in hours")
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The system-wide feed: agents joining, task creation, routing and status changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, taskID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.LatestEvents(ctx, n, 0, evtType, taskID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "At", "Type", "Message"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.CreatedAt, ev.Type, ev.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&taskID, "task-id", "", "task filter")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the REST API, OpenAPI document, Swagger UI and Prometheus metrics. When alerts.schedule is set, late tasks are scanned in the background.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.NewPoller()
			if err != nil {
				return err
			}
			if p != nil {
				if err := p.Start(ctx); err != nil {
					return err
				}
				defer p.Stop()
			}

			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Mission Control API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func openApp(ctx context.Context) (*app.App, error) {
	return app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		GatewayURL: viper.GetString("gateway-url"),
		Logger:     observability.Logger(),
	})
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// loadDotEnv reads <workspace>/.env without overriding variables already set.
func loadDotEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setEnvValue(path, key, value string) error {
	env := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		existing, err := godotenv.Read(path)
		if err != nil {
			return err
		}
		env = existing
	} else if !os.IsNotExist(err) {
		return err
	}
	env[key] = value
	return godotenv.Write(env, path)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
