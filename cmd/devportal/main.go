package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"devportal/internal/app"
	"devportal/internal/config"
	"devportal/internal/domain"
	"devportal/internal/engine"
	"devportal/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "devportal",
	Short: "devportal CLI",
	Long: `devportal runs a small task board for a project manager and a team of developers.
- Tasks move draft -> ready -> assigned -> in-progress -> in-review -> merge-queue -> done.
- Starting or claiming a task takes a lease on it and locks every file path it touches; two tasks cannot hold the same path.
- A developer submits a PR while holding the lease; approving the PR completes the task and frees its paths.
- Every change lands in the activity log ('devportal activity list').
State lives in .devportal/devportal.db under the workspace unless devportal.yml selects PostgreSQL.`,
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
	viper.SetEnvPrefix("DEVPORTAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (defaults to <workspace>/devportal.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", engine.DefaultActor, "actor identifier recorded on activities")
	flags.String("store-driver", "", "store driver override (sqlite or postgres)")
	flags.String("store-dsn", "", "store DSN override")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "store-driver", "store-dsn"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(leaseCmd())
	rootCmd.AddCommand(prCmd())
	rootCmd.AddCommand(devCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(githubCmd())
	rootCmd.AddCommand(clearCmd())
}

func initCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write devportal.yml and seed the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !overwrite {
				fmt.Printf("%s already exists; keeping it\n", path)
			} else {
				if err := os.MkdirAll(workspace, 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				devs, err := e.ListDevelopers(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("store ready with %d developer(s)\n", len(devs))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing devportal.yml")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the JSON API, runs the lease reaper and delivers Slack notifications until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := log.New(os.Stderr, "devportal ", log.LstdFlags)
			a, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: cfg.Server.BasePath,
				Logger:   logger,
				Auth: server.AuthConfig{
					JWTSecret: cfg.Auth.JWTSecret,
					PMRoles:   cfg.Auth.PMRoles,
					Logger:    logger,
				},
			})
			if err != nil {
				return err
			}
			go a.Engine.RunLeaseReaper(ctx, cfg.Leases.ReapInterval())

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			auth := "off"
			if cfg.Auth.JWTSecret != "" {
				auth = "bearer"
			}
			fmt.Printf("Serving devportal API on http://%s%s (auth %s, OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", cfg.Server.Addr, cfg.Server.BasePath, auth, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.String("addr", "", "listen address (overrides server.addr)")
	flags.String("base-path", "", "API base path (overrides server.base_path)")
	flags.String("jwt-secret", "", "enable bearer auth with this HS256 secret")
	flags.String("slack-webhook", "", "Slack incoming webhook URL")
	flags.String("github-token", "", "GitHub token for branch creation")
	for _, name := range []string{"addr", "base-path", "jwt-secret", "slack-webhook", "github-token"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if c.Auth.JWTSecret != "" {
				c.Auth.JWTSecret = "********"
			}
			if c.GitHub.Token != "" {
				c.GitHub.Token = "********"
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate devportal.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are assigned by the project manager and started by their assignee. Starting a task leases its paths so no other task can touch them until the PR is approved or the lease is released.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskStartCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Assignee, "assignee", "", "developer id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "initial status (draft, ready or assigned)")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority")
	cmd.Flags().StringArrayVar(&opts.Paths, "path", nil, "file path touched by the task (repeatable)")
	cmd.Flags().StringVar(&opts.Branch, "branch", "", "branch name")
	cmd.Flags().StringVar(&opts.Repository, "repository", "", "owner/name of the GitHub repository")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline")
	cmd.Flags().StringVar(&opts.Complexity, "complexity", "", "complexity")
	cmd.Flags().StringArrayVar(&opts.AcceptanceCriteria, "criteria", nil, "acceptance criterion (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f engine.TaskFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable("ID", "Title", "Status", "Assignee", "Paths")
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Assignee, strings.Join(t.Paths, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "assignee filter")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, assignee, status, priority, branch, repository, prURL, deadline, complexity string
	var paths, criteria []string
	var force bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{
				ID:      args[0],
				ActorID: viper.GetString("actor-id"),
				Force:   force,
			}
			changed := func(name string, v *string) *string {
				if cmd.Flags().Changed(name) {
					return v
				}
				return nil
			}
			opts.Title = changed("title", &title)
			opts.Description = changed("description", &description)
			opts.Assignee = changed("assignee", &assignee)
			opts.Status = changed("status", &status)
			opts.Priority = changed("priority", &priority)
			opts.Branch = changed("branch", &branch)
			opts.Repository = changed("repository", &repository)
			opts.PRURL = changed("pr-url", &prURL)
			opts.Deadline = changed("deadline", &deadline)
			opts.Complexity = changed("complexity", &complexity)
			if cmd.Flags().Changed("path") {
				opts.Paths = paths
			}
			if cmd.Flags().Changed("criteria") {
				opts.AcceptanceCriteria = criteria
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&assignee, "assignee", "", "developer id (empty to unassign)")
	cmd.Flags().StringVar(&status, "status", "", "new status (pr is accepted for in-review)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&branch, "branch", "", "branch")
	cmd.Flags().StringVar(&repository, "repository", "", "repository")
	cmd.Flags().StringVar(&prURL, "pr-url", "", "pull request URL")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline")
	cmd.Flags().StringVar(&complexity, "complexity", "", "complexity")
	cmd.Flags().StringArrayVar(&paths, "path", nil, "replace paths (repeatable)")
	cmd.Flags().StringArrayVar(&criteria, "criteria", nil, "replace acceptance criteria (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "skip the status transition check")
	return cmd
}

func taskStartCmd() *cobra.Command {
	var developer string
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start an assigned task and lease its paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if developer == "" {
				developer = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.StartTask(ctx, args[0], developer)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&developer, "developer", "", "developer id (defaults to --actor-id)")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and release its lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.DeleteTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("deleted %s (%s)\n", t.ID, t.Title)
				return nil
			})
		},
	}
}

func leaseCmd() *cobra.Command {
	lease := &cobra.Command{
		Use:   "lease",
		Short: "Manage leases and path locks",
	}
	lease.AddCommand(leaseListCmd())
	lease.AddCommand(leaseClaimCmd())
	lease.AddCommand(leaseExtendCmd())
	lease.AddCommand(leaseReleaseCmd())
	lease.AddCommand(leaseLocksCmd())
	lease.AddCommand(leaseExpireCmd())
	return lease
}

func leaseListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List leases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				leases, err := e.ListLeases(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(leases)
				}
				tw := newTable("ID", "Task", "Developer", "Status", "Expires", "Paths")
				for _, l := range leases {
					tw.AppendRow(table.Row{l.ID, l.TaskID, l.DeveloperID, l.Status, l.ExpiresAt.Format(time.RFC3339), strings.Join(l.Paths, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func leaseClaimCmd() *cobra.Command {
	var opts engine.LeaseClaimOptions
	cmd := &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Claim a lease on a task's paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TaskID = args[0]
			if opts.DeveloperID == "" {
				opts.DeveloperID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.ClaimLease(ctx, opts)
				if err != nil {
					var conflict domain.ConflictError
					if errors.As(err, &conflict) && len(conflict.Paths) > 0 {
						return fmt.Errorf("%w (locked: %s)", err, strings.Join(conflict.Paths, ", "))
					}
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&opts.DeveloperID, "developer", "", "developer id (defaults to --actor-id)")
	cmd.Flags().IntVar(&opts.Hours, "hours", 0, "lease duration in hours (defaults to leases.claim_ttl_hours)")
	return cmd
}

func leaseExtendCmd() *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "extend <lease-id>",
		Short: "Extend an active lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.ExtendLease(ctx, args[0], hours, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 1, "hours to add")
	return cmd
}

func leaseReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <lease-id>",
		Short: "Release a lease and its path locks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.ReleaseLease(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
}

func leaseLocksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locks",
		Short: "List path locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				locks, err := e.ListPathLocks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(locks)
				}
				tw := newTable("Path", "Locked By", "Task", "Lease", "Since")
				for _, l := range locks {
					tw.AppendRow(table.Row{l.Path, l.LockedBy, l.TaskID, l.LeaseID, l.LockedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func leaseExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire overdue leases now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ExpireLeases(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("expired %d lease(s)\n", n)
				return nil
			})
		},
	}
}

func prCmd() *cobra.Command {
	pr := &cobra.Command{
		Use:   "pr",
		Short: "Submit and review pull requests",
	}
	pr.AddCommand(prSubmitCmd())
	pr.AddCommand(prListCmd())
	pr.AddCommand(prChecksCmd())
	pr.AddCommand(prRequestChangesCmd())
	pr.AddCommand(prApproveCmd())
	return pr
}

func prSubmitCmd() *cobra.Command {
	var opts engine.PRSubmitOptions
	cmd := &cobra.Command{
		Use:   "submit <task-id>",
		Short: "Submit a pull request for a leased task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TaskID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pr, err := e.SubmitPR(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(pr)
			})
		},
	}
	cmd.Flags().StringVar(&opts.PRURL, "url", "", "GitHub pull request URL")
	cmd.Flags().StringVar(&opts.DeveloperID, "developer", "", "submitting developer (defaults to the lease holder)")
	return cmd
}

func prListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pull requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				prs, err := e.ListPRs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(prs)
				}
				tw := newTable("ID", "Task", "Author", "Status", "CI", "Files", "URL")
				for _, pr := range prs {
					tw.AppendRow(table.Row{pr.ID, pr.TaskTitle, pr.Author, pr.Status, pr.CIStatus, pr.FileCount, pr.PRURL})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func prChecksCmd() *cobra.Command {
	var checks domain.PRChecks
	var final bool
	cmd := &cobra.Command{
		Use:   "checks <pr-id>",
		Short: "Record CI check results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pr, err := e.UpdatePRChecks(ctx, args[0], checks, final, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(pr)
			})
		},
	}
	cmd.Flags().BoolVar(&checks.Lint, "lint", false, "lint passed")
	cmd.Flags().BoolVar(&checks.Typecheck, "typecheck", false, "typecheck passed")
	cmd.Flags().BoolVar(&checks.Tests, "tests", false, "tests passed")
	cmd.Flags().BoolVar(&final, "final", false, "the run is complete; missing checks count as failed")
	return cmd
}

func prRequestChangesCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "request-changes <pr-id>",
		Short: "Send a pull request back to its author",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pr, err := e.RequestChanges(ctx, args[0], notes, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(pr)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	return cmd
}

func prApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <pr-id>",
		Short: "Approve a pull request and complete its task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pr, err := e.ApprovePR(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(pr)
			})
		},
	}
}

func devCmd() *cobra.Command {
	dev := &cobra.Command{
		Use:   "dev",
		Short: "Manage developers",
	}
	dev.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List developers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				devs, err := e.ListDevelopers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(devs)
				}
				tw := newTable("ID", "Name", "Avatar", "Status", "Current Task")
				for _, d := range devs {
					tw.AppendRow(table.Row{d.ID, d.Name, d.Avatar, d.Status, d.CurrentTask})
				}
				tw.Render()
				return nil
			})
		},
	})
	dev.AddCommand(devAddCmd())
	dev.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Replace developers with the configured roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				devs, err := e.ResetDevelopers(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(devs)
			})
		},
	})
	return dev
}

func devAddCmd() *cobra.Command {
	var opts engine.DeveloperCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a developer",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.AddDeveloper(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "developer id (generated if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Avatar, "avatar", "", "avatar initials")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{
		Use:   "request",
		Short: "Propose and review task requests",
	}
	req.AddCommand(requestCreateCmd())
	req.AddCommand(requestListCmd())
	req.AddCommand(requestApproveCmd())
	req.AddCommand(requestRejectCmd())
	return req
}

func requestCreateCmd() *cobra.Command {
	var opts engine.TaskRequestCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Propose a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.DeveloperID == "" {
				opts.DeveloperID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.CreateTaskRequest(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&opts.DeveloperID, "developer", "", "requesting developer (defaults to --actor-id)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Reasoning, "reasoning", "", "why the task is needed")
	cmd.Flags().StringArrayVar(&opts.SuggestedPaths, "path", nil, "suggested path (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func requestListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List task requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reqs, err := e.ListTaskRequests(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reqs)
				}
				tw := newTable("ID", "Developer", "Title", "Status", "Task")
				for _, r := range reqs {
					tw.AppendRow(table.Row{r.ID, r.DeveloperID, r.Title, r.Status, r.TaskID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, approved or rejected")
	return cmd
}

func requestApproveCmd() *cobra.Command {
	var opts engine.TaskRequestReviewOptions
	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a request and create its task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, task, err := e.ApproveTaskRequest(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"request": req, "task": task})
			})
		},
	}
	cmd.Flags().StringVar(&opts.ReviewNotes, "notes", "", "review notes")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority of the new task")
	cmd.Flags().StringVar(&opts.Complexity, "complexity", "", "complexity of the new task")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline of the new task")
	return cmd
}

func requestRejectCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.RejectTaskRequest(ctx, args[0], notes, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	return cmd
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{
		Use:   "activity",
		Short: "Read and append the activity log",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List activities, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				acts, err := e.ListActivities(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(acts)
				}
				tw := newTable("Time", "Type", "Task", "Actor")
				for _, a := range acts {
					task := a.TaskTitle
					if task == "" {
						task = a.TaskID
					}
					tw.AppendRow(table.Row{a.Timestamp.Format(time.RFC3339), a.Type, task, a.ActorName})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "number of activities (0 for all)")
	act.AddCommand(list)

	var a domain.Activity
	var metadata string
	add := &cobra.Command{
		Use:   "add",
		Short: "Append an activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if metadata != "" {
				if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
					return fmt.Errorf("invalid --metadata: %w", err)
				}
			}
			a.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.AddActivity(ctx, a)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	add.Flags().StringVar(&a.Type, "type", "", "activity type")
	add.Flags().StringVar(&a.TaskID, "task", "", "task id")
	add.Flags().StringVar(&a.TaskTitle, "task-title", "", "task title")
	add.Flags().StringVar(&metadata, "metadata", "", "metadata as a JSON object")
	_ = add.MarkFlagRequired("type")
	act.AddCommand(add)
	return act
}

func notifyCmd() *cobra.Command {
	var title, color string
	cmd := &cobra.Command{
		Use:   "notify <text>",
		Short: "Send a Slack message through the configured webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				queued, err := e.Notify(args[0], title, color)
				if err != nil {
					return err
				}
				if !queued {
					return fmt.Errorf("notification queue is full")
				}
				fmt.Println("queued")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "attachment title")
	cmd.Flags().StringVar(&color, "color", "", "attachment color")
	return cmd
}

func githubCmd() *cobra.Command {
	gh := &cobra.Command{
		Use:   "github",
		Short: "Browse GitHub repositories",
	}
	gh.AddCommand(&cobra.Command{
		Use:   "repos",
		Short: "List repositories visible to the configured token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				repos, err := e.ListRepos(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(repos)
				}
				tw := newTable("Repository", "Default Branch", "Private")
				for _, r := range repos {
					tw.AppendRow(table.Row{r.FullName, r.DefaultBranch, r.Private})
				}
				tw.Render()
				return nil
			})
		},
	})
	gh.AddCommand(&cobra.Command{
		Use:   "branches <owner/repo>",
		Short: "List branches of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, name, ok := strings.Cut(args[0], "/")
			if !ok || owner == "" || name == "" {
				return fmt.Errorf("expected owner/repo, got %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				branches, err := e.ListBranches(ctx, owner, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(branches)
				}
				tw := newTable("Branch", "Commit", "Protected")
				for _, b := range branches {
					tw.AppendRow(table.Row{b.Name, b.Commit.SHA, b.Protected})
				}
				tw.Render()
				return nil
			})
		},
	})
	return gh
}

func clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all tasks, leases, locks, PRs, requests and activities (developers are kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ClearAll(ctx); err != nil {
					return err
				}
				fmt.Println("cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

// --- helpers ---

// loadConfig reads devportal.yml and overlays DEVPORTAL_* environment
// variables and flags.
func loadConfig() (*config.Config, error) {
	cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	overlay := map[string]*string{
		"store-driver":  &cfg.Store.Driver,
		"store-dsn":     &cfg.Store.DSN,
		"addr":          &cfg.Server.Addr,
		"base-path":     &cfg.Server.BasePath,
		"jwt-secret":    &cfg.Auth.JWTSecret,
		"slack-webhook": &cfg.Notifications.Slack.WebhookURL,
		"github-token":  &cfg.GitHub.Token,
	}
	for key, dst := range overlay {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, log.New(os.Stderr, "devportal ", log.LstdFlags))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.Engine)
}

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(headers))
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
