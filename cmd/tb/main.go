package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"taskboard/internal/app"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/kanban"
	"taskboard/internal/repo"
	"taskboard/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Taskboard CLI",
	Long: `Taskboard tracks paid field work across a boss, managers and technicians.
- Hierarchy: a boss owns a tree of managers and technicians; every user but a boss reports to one manager.
- Tasks: proposed -> created -> in_progress -> submitted -> completed. Technicians propose, supervisors create and approve.
- Ledger: completing a task credits its payment to the technician; payments debit the balance and never take it below zero.
- Invitations: a supervisor invites a new report with a single-use token.
- Local commands act as the user named by --actor (or TASKBOARD_ACTOR).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	// .env is optional; variables already set in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}
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
	viper.SetEnvPrefix("TASKBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "username to act as")
	rootCmd.PersistentFlags().String("db-driver", "", "database driver (sqlite|postgres), overrides taskboard.yml")
	rootCmd.PersistentFlags().String("db-dsn", "", "database DSN, overrides taskboard.yml")
	rootCmd.PersistentFlags().String("log-level", "", "log level, overrides taskboard.yml")
	for _, name := range []string{"workspace", "json", "actor", "db-driver", "db-dsn", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(kanbanCmd())
	rootCmd.AddCommand(payCmd())
	rootCmd.AddCommand(paymentsCmd())
	rootCmd.AddCommand(balanceCmd())
	rootCmd.AddCommand(inviteCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func overrides() app.Overrides {
	return app.Overrides{
		Driver:    viper.GetString("db-driver"),
		DSN:       viper.GetString("db-dsn"),
		JWTSecret: viper.GetString("jwt-secret"),
		LogLevel:  viper.GetString("log-level"),
	}
}

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	env, err := app.Open(viper.GetString("workspace"), overrides())
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

// withActor runs fn as the --actor user.
func withActor(ctx context.Context, fn func(context.Context, engine.Engine, domain.User) error) error {
	return withEnv(ctx, func(ctx context.Context, env *app.Env) error {
		actor, err := env.ResolveActor(ctx, viper.GetString("actor"))
		if err != nil {
			return err
		}
		return fn(ctx, env.Engine, actor)
	})
}

// lookupUser accepts a username or a user id.
func lookupUser(ctx context.Context, e engine.Engine, ref string) (domain.User, error) {
	if u, err := e.Repo.GetUserByUsername(ctx, ref); err == nil {
		return u, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, ref)
}

func lookupUserID(ctx context.Context, e engine.Engine, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	u, err := lookupUser(ctx, e, ref)
	if err != nil {
		return "", fmt.Errorf("user %q: %w", ref, err)
	}
	return u.ID, nil
}

func initCmd() *cobra.Command {
	var opts engine.UserCreateOptions
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create taskboard.yml and, with --boss, the first boss account",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			wrote, err := app.WriteDefaultConfig(workspace)
			if err != nil {
				return err
			}
			if wrote {
				fmt.Println("wrote", workspace+"/taskboard.yml")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if opts.Username == "" {
					return nil
				}
				u, err := env.Engine.CreateBoss(ctx, opts)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Username, "boss", "", "username of the boss to create")
	cmd.Flags().StringVar(&opts.Password, "password", "", "boss password")
	cmd.Flags().StringVar(&opts.DisplayName, "display-name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userCreateCmd())
	u.AddCommand(userListCmd())
	u.AddCommand(userPasswdCmd())
	u.AddCommand(userSetManagerCmd())
	u.AddCommand(userRoleCmd())
	u.AddCommand(userDeleteCmd())
	return u
}

func userCreateCmd() *cobra.Command {
	var opts engine.UserCreateOptions
	var role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a direct report of the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			opts.Role = r
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				u, err := e.CreateUser(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Username, "username", "", "username")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password")
	cmd.Flags().StringVar(&opts.DisplayName, "display-name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	cmd.Flags().StringVar(&role, "role", "technician", "manager|technician")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "tag (repeatable)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports, team or leadership of the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				var (
					users []domain.User
					err   error
				)
				switch scope {
				case "reports":
					users, err = e.Reports(ctx, actor)
				case "team":
					users, err = e.TeamUsers(ctx, actor)
				case "leadership":
					users, err = e.TeamLeadership(ctx, actor)
				default:
					return fmt.Errorf("--scope must be reports, team or leadership")
				}
				if err != nil {
					return err
				}
				return printUsers(users)
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "reports", "reports|team|leadership")
	return cmd
}

func userPasswdCmd() *cobra.Command {
	var target, current, next string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the actor's password or reset a report's",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				id := actor.ID
				if target != "" {
					var err error
					if id, err = lookupUserID(ctx, e, target); err != nil {
						return err
					}
				}
				if err := e.ChangePassword(ctx, actor, id, current, next); err != nil {
					return err
				}
				fmt.Println("password updated")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "user", "", "user to reset (default: actor)")
	cmd.Flags().StringVar(&current, "current", "", "current password, required for your own")
	cmd.Flags().StringVar(&next, "new", "", "new password")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}

func userSetManagerCmd() *cobra.Command {
	var target, manager string
	var detach bool
	cmd := &cobra.Command{
		Use:   "set-manager",
		Short: "Move a user under another manager (boss only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				id, err := lookupUserID(ctx, e, target)
				if err != nil {
					return err
				}
				var managerID *string
				if !detach {
					mid, err := lookupUserID(ctx, e, manager)
					if err != nil {
						return err
					}
					if mid == "" {
						return fmt.Errorf("--manager or --detach required")
					}
					managerID = &mid
				}
				u, err := e.SetManager(ctx, actor, id, managerID)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	cmd.Flags().StringVar(&target, "user", "", "user to move")
	cmd.Flags().StringVar(&manager, "manager", "", "new manager")
	cmd.Flags().BoolVar(&detach, "detach", false, "remove the user's manager")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func userRoleCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Change a user's role (boss only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				id, err := lookupUserID(ctx, e, target)
				if err != nil {
					return err
				}
				u, err := e.ChangeRole(ctx, actor, id, r)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	cmd.Flags().StringVar(&target, "user", "", "user")
	cmd.Flags().StringVar(&role, "role", "", "manager|technician")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userDeleteCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a direct report with no open tasks and no reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				id, err := lookupUserID(ctx, e, target)
				if err != nil {
					return err
				}
				if err := e.DeleteUser(ctx, actor, id); err != nil {
					return err
				}
				fmt.Println("deleted", target)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "user", "", "user")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks move proposed -> created -> in_progress -> submitted -> completed. Completing credits the payment to the assignee.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskTransitionCmd("promote", "Accept a proposed task", engine.Engine.PromoteTask))
	task.AddCommand(taskTransitionCmd("start", "Start work on a task", engine.Engine.StartTask))
	task.AddCommand(taskTransitionCmd("submit", "Submit a task for review", engine.Engine.SubmitTask))
	task.AddCommand(taskTransitionCmd("complete", "Approve a submitted task and credit its payment", engine.Engine.CompleteTask))
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var assignee, controller, amount string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task, or propose one when the actor is a technician",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				if assignee == "" && actor.Role == domain.RoleTechnician {
					assignee = actor.Username
				}
				id, err := lookupUserID(ctx, e, assignee)
				if err != nil {
					return err
				}
				opts.AssignedTo = id
				if controller != "" {
					cid, err := lookupUserID(ctx, e, controller)
					if err != nil {
						return err
					}
					opts.ControlledBy = &cid
				}
				if amount != "" {
					if opts.PaymentAmount, err = domain.ParseMoney(amount); err != nil {
						return err
					}
				}
				t, err := e.CreateTask(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printTasks(e, []domain.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&assignee, "assignee", "", "technician (default: actor when a technician)")
	cmd.Flags().StringVar(&controller, "controller", "", "supervisor who may approve the task")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date YYYY-MM-DD")
	cmd.Flags().StringVar(&amount, "amount", "", "payment amount, e.g. 150.00")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "tag (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

func taskListCmd() *cobra.Command {
	var opts engine.TaskListOptions
	var status, assignee, createdBy string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible tasks ordered by due date",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				s, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				opts.Status = s
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				var err error
				if opts.AssignedTo, err = lookupUserID(ctx, e, assignee); err != nil {
					return err
				}
				if opts.CreatedBy, err = lookupUserID(ctx, e, createdBy); err != nil {
					return err
				}
				tasks, err := e.ListTasks(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printTasks(e, tasks)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "creator filter")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "tag filter")
	cmd.Flags().StringVar(&opts.DueFrom, "due-from", "", "earliest due date")
	cmd.Flags().StringVar(&opts.DueTo, "due-to", "", "latest due date")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				t, err := e.GetTask(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, assignee, controller, due, amount string
	var tags []string
	var clearController bool
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Edit a task that is not completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				flags := cmd.Flags()
				opts := engine.TaskUpdateOptions{ClearController: clearController}
				if flags.Changed("title") {
					opts.Title = &title
				}
				if flags.Changed("description") {
					opts.Description = &description
				}
				if flags.Changed("due") {
					opts.DueDate = &due
				}
				if flags.Changed("tag") {
					opts.Tags = &tags
				}
				if flags.Changed("assignee") {
					id, err := lookupUserID(ctx, e, assignee)
					if err != nil {
						return err
					}
					opts.AssignedTo = &id
				}
				if flags.Changed("controller") {
					id, err := lookupUserID(ctx, e, controller)
					if err != nil {
						return err
					}
					opts.ControlledBy = &id
				}
				if flags.Changed("amount") {
					m, err := domain.ParseMoney(amount)
					if err != nil {
						return err
					}
					opts.PaymentAmount = &m
				}
				t, err := e.UpdateTask(ctx, actor, args[0], opts)
				if err != nil {
					return err
				}
				return printTasks(e, []domain.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&assignee, "assignee", "", "technician")
	cmd.Flags().StringVar(&controller, "controller", "", "approving supervisor")
	cmd.Flags().BoolVar(&clearController, "clear-controller", false, "remove the controller")
	cmd.Flags().StringVar(&due, "due", "", "due date YYYY-MM-DD")
	cmd.Flags().StringVar(&amount, "amount", "", "payment amount")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags (repeatable)")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task that is not completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				if err := e.DeleteTask(ctx, actor, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func taskTransitionCmd(use, short string, apply func(engine.Engine, context.Context, domain.User, string) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				t, err := apply(e, ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printTasks(e, []domain.Task{t})
			})
		},
	}
}

func kanbanCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "kanban",
		Short: "Show tasks grouped by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				id, err := lookupUserID(ctx, e, assignee)
				if err != nil {
					return err
				}
				board, err := e.Kanban(ctx, actor, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(board)
				}
				renderBoard(board)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "show one technician's board")
	cmd.AddCommand(&cobra.Command{
		Use:   "team",
		Short: "Show team tasks grouped by status and assignee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				board, err := e.TeamKanban(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(board)
				}
				renderTeamBoard(board)
				return nil
			})
		},
	})
	return cmd
}

func payCmd() *cobra.Command {
	var employee, amount, description string
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Pay a technician out of its balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := domain.ParseMoney(amount)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				id, err := lookupUserID(ctx, e, employee)
				if err != nil {
					return err
				}
				p, err := e.RecordPayment(ctx, actor, engine.PaymentOptions{EmployeeID: id, Amount: m, Description: description})
				if err != nil {
					return err
				}
				return printPayments([]domain.Payment{p})
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "technician")
	cmd.Flags().StringVar(&amount, "amount", "", "amount, e.g. 120.50")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("employee")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func paymentsCmd() *cobra.Command {
	var employee string
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "List payments visible to the actor, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				id, err := lookupUserID(ctx, e, employee)
				if err != nil {
					return err
				}
				payments, err := e.ListPayments(ctx, actor, id)
				if err != nil {
					return err
				}
				return printPayments(payments)
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "only payments to this technician")
	return cmd
}

func balanceCmd() *cobra.Command {
	var target string
	var history bool
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a balance and, with --history, its ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				id := actor.ID
				if target != "" {
					var err error
					if id, err = lookupUserID(ctx, e, target); err != nil {
						return err
					}
				}
				if !history {
					balance, err := e.GetBalance(ctx, actor, id)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(map[string]string{"user_id": id, "balance": balance.String()})
					}
					fmt.Println(balance)
					return nil
				}
				entries, err := e.ListLedger(ctx, actor, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "When", "Kind", "Amount", "Balance", "Ref"})
				for _, l := range entries {
					ref := ""
					if l.TaskID != nil {
						ref = "task " + *l.TaskID
					} else if l.PaymentID != nil {
						ref = "payment " + *l.PaymentID
					}
					tw.AppendRow(table.Row{l.ID, l.CreatedAt, l.Kind, l.Amount, l.BalanceAfter, ref})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "user", "", "user (default: actor)")
	cmd.Flags().BoolVar(&history, "history", false, "show the ledger")
	return cmd
}

func inviteCmd() *cobra.Command {
	inv := &cobra.Command{Use: "invite", Short: "Manage invitations"}

	var opts engine.InvitationOptions
	var role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Invite a new direct report",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			opts.Role = r
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				invitation, token, err := e.CreateInvitation(ctx, actor, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"invitation": invitation, "token": token})
				}
				fmt.Printf("invitation %s for a %s, expires %s\ntoken: %s\n", invitation.ID, invitation.Role, invitation.ExpiresAt, token)
				return nil
			})
		},
	}
	create.Flags().StringVar(&role, "role", "technician", "manager|technician")
	create.Flags().StringVar(&opts.Email, "email", "", "invitee email")
	create.Flags().StringSliceVar(&opts.Tags, "tag", nil, "tag (repeatable)")
	create.Flags().DurationVar(&opts.TTL, "ttl", 0, "validity, defaults to invitations.ttl")

	list := &cobra.Command{
		Use:   "list",
		Short: "List invitations the actor created",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				invs, err := e.ListInvitations(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(invs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Role", "Email", "Status", "Expires"})
				for _, i := range invs {
					tw.AppendRow(table.Row{i.ID, i.Role, i.Email, i.Status, i.ExpiresAt})
				}
				tw.Render()
				return nil
			})
		},
	}

	var accept engine.AcceptOptions
	acceptCmd := &cobra.Command{
		Use:   "accept",
		Short: "Register with an invitation token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				u, err := env.Engine.AcceptInvitation(ctx, accept)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	acceptCmd.Flags().StringVar(&accept.Token, "token", "", "invitation token")
	acceptCmd.Flags().StringVar(&accept.Username, "username", "", "username")
	acceptCmd.Flags().StringVar(&accept.Password, "password", "", "password")
	acceptCmd.Flags().StringVar(&accept.DisplayName, "display-name", "", "display name")
	acceptCmd.Flags().StringVar(&accept.Email, "email", "", "email, defaults to the invitation's")
	_ = acceptCmd.MarkFlagRequired("token")
	_ = acceptCmd.MarkFlagRequired("username")
	_ = acceptCmd.MarkFlagRequired("password")

	inv.AddCommand(create, list, acceptCmd)
	return inv
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The audit trail of everything that happened: users, tasks, accruals, payments and invitations.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var opts engine.EventListOptions
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.User) error {
				events, err := e.ListEvents(ctx, actor, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "n", 20, "number of events")
	cmd.Flags().Int64Var(&opts.AfterID, "after", 0, "only events after this id")
	cmd.Flags().StringVar(&opts.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&opts.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				cfg := env.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret: cfg.Auth.JWTSecret,
					Issuer:    cfg.Auth.Issuer,
					TokenTTL:  cfg.Auth.TokenTTL,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("auth.jwt_secret or TASKBOARD_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: env.Engine, BasePath: basePath, Auth: authCfg, Logger: env.Log})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				env.Log.Info("serving taskboard api",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.String("driver", cfg.Database.Driver))
				fmt.Printf("Serving Taskboard API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, defaults to server.addr")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path, defaults to server.base_path")
	cmd.Flags().String("jwt-secret", "", "HS256 signing secret, overrides auth.jwt_secret")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsers(users []domain.User) error {
	if viper.GetBool("json") {
		return printJSON(users)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Username", "Name", "Role", "Manager", "Balance"})
	for _, u := range users {
		manager := ""
		if u.ManagerID != nil {
			manager = *u.ManagerID
		}
		tw.AppendRow(table.Row{u.ID, u.Username, u.DisplayName, u.Role, manager, u.Balance})
	}
	tw.Render()
	return nil
}

func printTasks(e engine.Engine, tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	today := e.Now()
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Due", "Days", "Amount", "Assignee"})
	for _, t := range tasks {
		due := t.DueDate
		if t.IsOverdue(today) {
			due += " (overdue)"
		} else if t.IsUrgent(today) {
			due += " (urgent)"
		}
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, due, t.DaysUntilDue(today), t.PaymentAmount, t.AssignedTo})
	}
	tw.Render()
	return nil
}

func printPayments(payments []domain.Payment) error {
	if viper.GetBool("json") {
		return printJSON(payments)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Date", "Employee", "Paid by", "Amount", "Description"})
	for _, p := range payments {
		tw.AppendRow(table.Row{p.ID, p.PaymentDate, p.EmployeeID, p.ManagerID, p.Amount, p.Description})
	}
	tw.Render()
	return nil
}

// renderBoard prints one column per status.
func renderBoard(b kanban.Board) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	header := table.Row{}
	longest := 0
	for _, g := range b.Groups {
		header = append(header, fmt.Sprintf("%s (%d, %s)", g.Name, g.Count, g.Total))
		if len(g.Tasks) > longest {
			longest = len(g.Tasks)
		}
	}
	tw.AppendHeader(header)
	for i := 0; i < longest; i++ {
		row := table.Row{}
		for _, g := range b.Groups {
			cell := ""
			if i < len(g.Tasks) {
				cell = fmt.Sprintf("%s\n%s  %s", g.Tasks[i].Title, g.Tasks[i].DueDate, g.Tasks[i].PaymentAmount)
			}
			row = append(row, cell)
		}
		tw.AppendRow(row)
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("%d tasks", b.Count), b.Total})
	tw.Render()
}

// renderTeamBoard prints one row per team member and one column per status.
func renderTeamBoard(b kanban.TeamBoard) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	header := table.Row{"Member"}
	for _, g := range b.Groups {
		header = append(header, fmt.Sprintf("%s (%d)", g.Name, g.Count))
	}
	tw.AppendHeader(header)
	for _, u := range b.Users {
		row := table.Row{u.Username}
		for _, g := range b.Groups {
			cell := ""
			for _, m := range g.Members {
				if m.User.ID == u.ID {
					cell = fmt.Sprintf("%d / %s", m.Count, m.Total)
				}
			}
			row = append(row, cell)
		}
		tw.AppendRow(row)
	}
	tw.AppendFooter(table.Row{"Total", fmt.Sprintf("%d tasks", b.Count), b.Total})
	tw.Render()
}
