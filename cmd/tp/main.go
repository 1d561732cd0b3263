package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskpilot/internal/app"
	"taskpilot/internal/config"
	"taskpilot/internal/db"
	"taskpilot/internal/domain"
	"taskpilot/internal/engine"
	"taskpilot/internal/events"
	"taskpilot/internal/notify"
	"taskpilot/internal/repo"
	"taskpilot/internal/scheduler"
	"taskpilot/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tp",
	Short: "Taskpilot CLI",
	Long: `Taskpilot automates task workflows with trigger-driven rules.
- Workspace: your .taskpilot directory holding the database; settings come from taskpilot.yml.
- Tasks: work items with clients, parents, assignees and due dates; statuses go pending -> in_progress -> completed (cancelled is an exit).
- Rules: when a trigger fires (task_completed, status_changed, time_tracked, task_overdue, due_date_approaching) and the conditions match, the actions run in order.
- Conditions: field/operator checks over the task and event context; all must pass.
- Actions: create follow-ups and subtasks, update status or priority, notify, reschedule, log activity, and more.
- Executions: every rule run leaves a record; view with 'tp rule executions'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskpilot.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow pending -> in_progress -> completed. Completing a task or logging time against it runs matching automation rules immediately.",
	}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskTimeCmd())
	task.AddCommand(taskActivityCmd())
	task.AddCommand(taskExecutionsCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var assignees []string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Title = args[0]
			opts.UserID = viper.GetString("user-id")
			opts.AssigneeIDs = assignees
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "client id")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low, medium, high, urgent)")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "tag")
	cmd.Flags().StringSliceVar(&assignees, "assignee", nil, "assignee id (repeatable)")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (RFC3339, YYYY-MM-DD or '+N days')")
	cmd.Flags().IntVar(&opts.EstimatedMinutes, "estimate", 0, "estimated minutes")
	return cmd
}

func taskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tasks, err := r.ListTasks(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Due"})
				for _, t := range tasks {
					due := ""
					if t.DueDate != nil {
						due = *t.DueDate
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Change a task's status and run matching rules",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, records, err := e.SetTaskStatus(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if err := printJSONOrTable(t); err != nil {
					return err
				}
				printRecords(records)
				return nil
			})
		},
	}
	return cmd
}

func taskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, records, err := e.SetTaskStatus(ctx, args[0], "completed")
				if err != nil {
					return err
				}
				if err := printJSONOrTable(t); err != nil {
					return err
				}
				printRecords(records)
				return nil
			})
		},
	}
	return cmd
}

func taskTimeCmd() *cobra.Command {
	var minutes int
	var description string
	cmd := &cobra.Command{
		Use:   "time <id>",
		Short: "Log time against a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if minutes <= 0 {
				return fmt.Errorf("--minutes must be positive")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, records, err := e.LogTime(cmd.Context(), args[0], viper.GetString("user-id"), minutes, description)
				if err != nil {
					return err
				}
				if err := printJSONOrTable(entry); err != nil {
					return err
				}
				printRecords(records)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 0, "duration in minutes")
	cmd.Flags().StringVar(&description, "description", "", "what the time was spent on")
	_ = cmd.MarkFlagRequired("minutes")
	return cmd
}

func taskActivityCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "activity <id>",
		Short: "Show a task's activity log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				writer := events.Writer{DB: a.DB}
				entries, err := writer.ListByTask(cmd.Context(), args[0], n)
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func taskExecutionsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "executions <id>",
		Short: "List rule executions for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				records, err := r.ListExecutionsByTask(ctx, args[0], n)
				if err != nil {
					return err
				}
				return printJSONOrTable(records)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of records")
	return cmd
}

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{
		Use:   "rule",
		Short: "Manage automation rules",
		Long:  "Rules pair a trigger with conditions and a list of actions. Author them as JSON files and load them with 'tp rule add --file'.",
	}
	rule.AddCommand(ruleAddCmd())
	rule.AddCommand(ruleListCmd())
	rule.AddCommand(ruleShowCmd())
	rule.AddCommand(ruleEnableCmd())
	rule.AddCommand(ruleDisableCmd())
	rule.AddCommand(ruleDeleteCmd())
	rule.AddCommand(ruleValidateCmd())
	rule.AddCommand(ruleTestCmd())
	rule.AddCommand(ruleExecutionsCmd())
	return rule
}

func readRuleFile(path string) (domain.AutomationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.AutomationRule{}, err
	}
	var rule domain.AutomationRule
	if err := json.Unmarshal(data, &rule); err != nil {
		return domain.AutomationRule{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return rule, nil
}

func ruleAddCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a rule from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := readRuleFile(filePath)
			if err != nil {
				return err
			}
			rule.UserID = viper.GetString("user-id")
			rule.IsActive = true
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, res, err := e.CreateRule(ctx, rule)
				if err != nil {
					var ve engine.RuleValidationError
					if errors.As(err, &ve) {
						for _, msg := range ve.Result.Errors {
							fmt.Println("error:", msg)
						}
					}
					return err
				}
				for _, w := range res.Warnings {
					fmt.Println("warning:", w)
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to rule JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func ruleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rules, err := r.ListRules(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rules)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Trigger", "Active", "Runs", "Last Run"})
				for _, rl := range rules {
					last := ""
					if rl.LastExecuted != nil {
						last = *rl.LastExecuted
					}
					tw.AppendRow(table.Row{rl.ID, rl.Name, rl.Trigger, rl.IsActive, rl.ExecutionCount, last})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func ruleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rule, err := r.GetRule(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
	return cmd
}

func setRuleActive(ctx context.Context, id string, active bool) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		rule, err := e.Repo.GetRule(ctx, id)
		if err != nil {
			return err
		}
		rule.IsActive = active
		updated, _, err := e.UpdateRule(ctx, rule)
		if err != nil {
			return err
		}
		return printJSONOrTable(updated)
	})
}

func ruleEnableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enable <id>",
		Short: "Activate a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setRuleActive(cmd.Context(), args[0], true)
		},
	}
	return cmd
}

func ruleDisableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disable <id>",
		Short: "Deactivate a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setRuleActive(cmd.Context(), args[0], false)
		},
	}
	return cmd
}

func ruleDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteRule(ctx, args[0])
			})
		},
	}
	return cmd
}

func ruleValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a rule file without saving it",
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := readRuleFile(filePath)
			if err != nil {
				return err
			}
			res := engine.Validate(rule)
			if viper.GetBool("json") {
				return printJSON(res)
			}
			for _, msg := range res.Errors {
				fmt.Println("error:", msg)
			}
			for _, msg := range res.Warnings {
				fmt.Println("warning:", msg)
			}
			if res.IsValid {
				fmt.Println("valid")
				return nil
			}
			return fmt.Errorf("rule is invalid")
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to rule JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func ruleTestCmd() *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "test <id>",
		Short: "Dry-run a saved rule against a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rule, err := e.Repo.GetRule(ctx, args[0])
				if err != nil {
					return err
				}
				report, err := e.TestRule(ctx, rule, taskID)
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id to evaluate against")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func ruleExecutionsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "executions <id>",
		Short: "List a rule's execution records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				records, err := r.ListExecutionsByRule(ctx, args[0], n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Trigger", "Status", "Actions", "At"})
				for _, rec := range records {
					tw.AppendRow(table.Row{rec.ID, rec.TaskID, rec.Trigger, rec.Status, len(rec.ExecutedActions), rec.ExecutedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of records")
	return cmd
}

func notificationCmd() *cobra.Command {
	ntf := &cobra.Command{Use: "notification", Short: "Manage notifications"}
	ntf.AddCommand(notificationListCmd())
	ntf.AddCommand(notificationReadCmd())
	return ntf
}

func notificationListCmd() *cobra.Command {
	var unread bool
	var n int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				svc := notify.Service{DB: a.DB}
				items, err := svc.ListByUser(cmd.Context(), viper.GetString("user-id"), unread, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread")
	cmd.Flags().IntVar(&n, "n", 20, "number of notifications")
	return cmd
}

func notificationReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				svc := notify.Service{DB: a.DB}
				return svc.MarkRead(cmd.Context(), args[0])
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					UserID:    viper.GetString("user-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Printf("id: %s\nkey: %s\n", key.ID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the scheduled trigger scan once",
		Long:  "Evaluates task_overdue and due_date_approaching rules across all users with such rules active, exactly as the cron scheduler does inside 'tp serve'.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				summary, err := e.RunScheduledScan(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(summary)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noScheduler, allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server with the scan scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{
				JWTSecret:             os.Getenv("TASKPILOT_JWT_SECRET"),
				AllowLegacyUserHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("TASKPILOT_JWT_SECRET is required for bearer auth (or pass --allow-user-header for local use)")
			}
			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if !noScheduler {
				sched, err := scheduler.Start(cmd.Context(), a.Engine, a.Config.Scan.Schedule, a.Engine.Log)
				if err != nil {
					return fmt.Errorf("start scheduler: %w", err)
				}
				defer sched.Stop()
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Taskpilot API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "disable the cron scan scheduler")
	cmd.Flags().BoolVar(&allowLegacy, "allow-user-header", false, "accept X-User-Id without credentials (local use)")
	return cmd
}

// --- helpers ---

func withApp(fn func(*app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(func(a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withApp(func(a *app.App) error {
		return fn(ctx, a.Engine.Repo)
	})
}

func printRecords(records []domain.ExecutionRecord) {
	for _, rec := range records {
		fmt.Printf("rule %s: %s (%d actions)\n", rec.RuleID, rec.Status, len(rec.ExecutedActions))
	}
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
