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

	"github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dealflow/internal/audit"
	"dealflow/internal/config"
	"dealflow/internal/db"
	"dealflow/internal/engine"
	"dealflow/internal/migrate"
	"dealflow/internal/repo"
	"dealflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dfl",
	Short: "Dealflow CLI",
	Long: `Dealflow distributes premium projects to agencies and tracks their
commercial lifecycle.

- Agencies wait in a single priority queue; the front eligible agency
  gets the next project, then rotates behind its tier peers.
- Eligibility is computed at distribution time: suspensions, opt-outs,
  capacity, and overdue compliance reports all gate selection.
- Projects move through a fixed commercial lifecycle (elaborado ->
  em_negociacao -> aguardando_pagamento -> ativo -> concluido, with
  perdido/cancelado/inadimplente exits) and every transition is recorded.
- The event log is append-only; view it with 'dfl log tail'.`,
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
	viper.SetEnvPrefix("DEALFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(agencyCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(distributeCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorID() string { return viper.GetString("actor-id") }

// --- agency ---

func agencyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agency", Short: "Manage the agency directory"}
	cmd.AddCommand(agencyRegisterCmd())
	cmd.AddCommand(agencyListCmd())
	cmd.AddCommand(agencyShowCmd())
	cmd.AddCommand(agencyRefreshCmd())
	return cmd
}

func agencyFlags(cmd *cobra.Command, opts *engine.AgencyOptions) {
	cmd.Flags().StringVar(&opts.Name, "name", "", "agency name")
	cmd.Flags().StringVar(&opts.Tier, "tier", "", "commercial tier")
	cmd.Flags().Float64Var(&opts.SatisfactionRating, "satisfaction", 0, "satisfaction rating (0-5)")
	cmd.Flags().Float64Var(&opts.CompletionRate, "completion-rate", 0, "completion rate (0-100)")
}

func agencyRegisterCmd() *cobra.Command {
	var opts engine.AgencyOptions
	cmd := &cobra.Command{
		Use:   "register <agency-id>",
		Short: "Register an agency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				opts.ID = args[0]
				opts.ActorID = actorID()
				a, err := e.RegisterAgency(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	agencyFlags(cmd, &opts)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("tier")
	return cmd
}

func agencyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAgencies(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Tier", "Satisfaction", "Completion"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Tier, a.SatisfactionRating, a.CompletionRate})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func agencyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <agency-id>",
		Short: "Show an agency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetAgency(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func agencyRefreshCmd() *cobra.Command {
	var opts engine.AgencyOptions
	cmd := &cobra.Command{
		Use:   "refresh <agency-id>",
		Short: "Refresh agency facts and queue snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				opts.ID = args[0]
				opts.ActorID = actorID()
				a, err := e.RefreshAgency(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	agencyFlags(cmd, &opts)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("tier")
	return cmd
}

// --- queue ---

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Manage the distribution queue"}
	cmd.AddCommand(queueListCmd())
	cmd.AddCommand(queueAddCmd())
	cmd.AddCommand(queueRemoveCmd())
	cmd.AddCommand(queueMoveCmd())
	cmd.AddCommand(queueToggleCmd())
	cmd.AddCommand(queueSuspendCmd())
	cmd.AddCommand(queueResumeCmd())
	cmd.AddCommand(queueEligibilityCmd())
	cmd.AddCommand(queueComplianceCmd())
	cmd.AddCommand(queueReportCmd())
	return cmd
}

func queueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the queue in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				entries, err := e.QueueSnapshot(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Pos", "Agency", "Tier", "Enabled", "Active", "Capacity", "Suspended"})
				for _, entry := range entries {
					suspended := ""
					if entry.Suspension != nil {
						suspended = entry.Suspension.EffectiveUntil
					}
					tw.AppendRow(table.Row{entry.Position, entry.AgencyID, entry.Tier, entry.MatchEnabled, entry.ActiveProjects, entry.MaxCapacity, suspended})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func queueAddCmd() *cobra.Command {
	var maxCapacity int
	cmd := &cobra.Command{
		Use:   "add <agency-id>",
		Short: "Add agency at the end of the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				entry, err := e.QueueInsert(ctx, args[0], maxCapacity, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().IntVar(&maxCapacity, "max-capacity", 0, "concurrent project cap (0 = default)")
	return cmd
}

func queueRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <agency-id>",
		Short: "Remove agency and close the rank gap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.QueueRemove(ctx, args[0], actorID())
			})
		},
	}
	return cmd
}

func queueMoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move <agency-id> <up|down>",
		Short: "Move agency one position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				entry, err := e.QueueMove(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	return cmd
}

func queueToggleCmd() *cobra.Command {
	var enabled bool
	cmd := &cobra.Command{
		Use:   "toggle <agency-id>",
		Short: "Enable or disable matching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				entry, err := e.SetMatchEnabled(ctx, args[0], enabled, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", true, "match enabled")
	return cmd
}

func queueSuspendCmd() *cobra.Command {
	var reason, until string
	cmd := &cobra.Command{
		Use:   "suspend <agency-id>",
		Short: "Suspend agency until a future instant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				entry, err := e.Suspend(ctx, args[0], reason, until, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "suspension reason")
	cmd.Flags().StringVar(&until, "until", "", "effective until (RFC 3339)")
	_ = cmd.MarkFlagRequired("reason")
	_ = cmd.MarkFlagRequired("until")
	return cmd
}

func queueResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <agency-id>",
		Short: "Lift a suspension early",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				entry, err := e.ClearSuspension(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	return cmd
}

func queueEligibilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eligibility <agency-id>",
		Short: "Evaluate eligibility now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.Eligibility(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func queueComplianceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compliance <agency-id>",
		Short: "Show report cadence status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				status, err := e.ComplianceStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(status)
			})
		},
	}
	return cmd
}

func queueReportCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "report <agency-id>",
		Short: "File an agency compliance report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				entry, err := e.SubmitComplianceReport(ctx, args[0], note, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "report note")
	return cmd
}

// --- project ---

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage premium projects"}
	cmd.AddCommand(projectCreateCmd())
	cmd.AddCommand(projectListCmd())
	cmd.AddCommand(projectShowCmd())
	cmd.AddCommand(projectHistoryCmd())
	cmd.AddCommand(projectTransitionCmd())
	cmd.AddCommand(projectReportCmd())
	cmd.AddCommand(projectReportsCmd())
	cmd.AddCommand(projectReportVoidCmd())
	cmd.AddCommand(projectStatusCmd())
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Draft a premium project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				opts.ActorID = actorID()
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "project title")
	cmd.Flags().Float64Var(&opts.Value, "value", 0, "commercial value")
	cmd.Flags().Float64Var(&opts.ConversionProbability, "conversion", 0, "conversion probability (0-100)")
	cmd.Flags().Float64Var(&opts.SatisfactionScore, "satisfaction", 0, "satisfaction score (0-5)")
	cmd.Flags().StringVar(&opts.ChurnRisk, "churn-risk", "low", "churn risk (low, medium, high)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Value", "Agency"})
				for _, p := range items {
					agency := ""
					if p.AssignedAgencyID != nil {
						agency = *p.AssignedAgencyID
					}
					tw.AppendRow(table.Row{p.ID, p.Title, p.Status, p.Value, agency})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssignedAgencyID, "agency", "", "assigned agency filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <project-id>",
		Short: "Show lifecycle history, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetProject(ctx, args[0]); err != nil {
					return err
				}
				items, err := r.ListHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "From", "To", "Actor", "Note"})
				for _, h := range items {
					from := ""
					if h.FromStatus != nil {
						from = *h.FromStatus
					}
					tw.AppendRow(table.Row{h.At, from, h.ToStatus, h.Actor, h.Note})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectTransitionCmd() *cobra.Command {
	var note, lostReason, cancelReason string
	cmd := &cobra.Command{
		Use:   "transition <project-id> <to-status>",
		Short: "Apply a lifecycle transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				extra := map[string]any{}
				if lostReason != "" {
					extra["lost_reason"] = lostReason
				}
				if cancelReason != "" {
					extra["cancel_reason"] = cancelReason
				}
				p, err := e.Transition(ctx, engine.TransitionOptions{
					ProjectID: args[0],
					ToStatus:  args[1],
					ActorID:   actorID(),
					Note:      note,
					Extra:     extra,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "history note")
	cmd.Flags().StringVar(&lostReason, "lost-reason", "", "reason when moving to perdido")
	cmd.Flags().StringVar(&cancelReason, "cancel-reason", "", "reason when moving to cancelado")
	return cmd
}

func projectReportCmd() *cobra.Command {
	var opts engine.ProjectReportOptions
	cmd := &cobra.Command{
		Use:   "report <project-id>",
		Short: "Submit a periodic project report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				opts.ProjectID = args[0]
				opts.ActorID = actorID()
				p, err := e.SubmitProjectReport(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().Float64Var(&opts.CompletionPercentage, "completion", 0, "completion percentage (0-100)")
	cmd.Flags().StringVar(&opts.BudgetStatus, "budget", "on_budget", "budget status (on_budget, over_budget, under_budget)")
	cmd.Flags().StringVar(&opts.TimelineStatus, "timeline", "on_time", "timeline status (on_time, delayed, ahead)")
	cmd.Flags().Float64Var(&opts.ClientSatisfaction, "client-satisfaction", 0, "client satisfaction (0-5)")
	return cmd
}

func projectReportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports <project-id>",
		Short: "List project reports, voided included",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetProject(ctx, args[0]); err != nil {
					return err
				}
				items, err := r.ListProjectReports(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Date", "Completion", "Budget", "Timeline", "Voided"})
				for _, rep := range items {
					voided := ""
					if rep.VoidedAt != nil {
						voided = *rep.VoidedAt
					}
					tw.AppendRow(table.Row{rep.ID, rep.ReportDate, rep.CompletionPercentage, rep.BudgetStatus, rep.TimelineStatus, voided})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectReportVoidCmd() *cobra.Command {
	var reportID int64
	var reason string
	cmd := &cobra.Command{
		Use:   "report-void <project-id>",
		Short: "Void one report, keeping the row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return fmt.Errorf("--reason required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.VoidProjectReport(ctx, args[0], reportID, reason, actorID())
			})
		},
	}
	cmd.Flags().Int64Var(&reportID, "report-id", 0, "report id")
	cmd.Flags().StringVar(&reason, "reason", "", "void reason")
	_ = cmd.MarkFlagRequired("report-id")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func projectStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <project-id>",
		Short: "Show report cadence status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				status, err := e.ProjectReportStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(status)
			})
		},
	}
	return cmd
}

// --- distribute ---

func distributeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "distribute <project-id>",
		Short: "Assign project to the front eligible agency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				agencyID, err := e.Distribute(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"project_id": args[0],
					"agency_id":  agencyID,
				})
			})
		},
	}
	return cmd
}

// --- settings ---

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "settings", Short: "Distribution settings"}
	cmd.AddCommand(settingsShowCmd())
	cmd.AddCommand(settingsInitCmd())
	cmd.AddCommand(settingsImportCmd())
	cmd.AddCommand(settingsExportCmd())
	return cmd
}

func settingsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func settingsInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default settings file",
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

func settingsImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import settings from a YAML file into the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.UpsertSettings(ctx, cfg)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "settings file (defaults to workspace dealflow.yml)")
	return cmd
}

func settingsExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print effective settings as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				data, err := e.Config.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(data))
				return nil
			})
		},
	}
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The append-only record of queue and lifecycle changes.",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				events, err := e.Audit.List(ctx, audit.Filters{
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
				for _, evt := range events {
					entity := evt.EntityKind
					if evt.EntityID != "" {
						entity += "/" + evt.EntityID
					}
					tw.AppendRow(table.Row{evt.TS, evt.Type, entity, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.NewWithOptions(os.Stderr, log.Options{
				ReportTimestamp: true,
				Prefix:          "dealflow",
			})
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := resolveConfig(cmd.Context(), workspace, repo.Repo{DB: conn})
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				logger.Info("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving", "addr", addr, "base_path", basePath, "db", db.Path(workspace))
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

// resolveConfig prefers a workspace dealflow.yml; otherwise the settings
// stored in the database, seeded with defaults on first use.
func resolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	return engine.ResolveSettings(ctx, r)
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := resolveConfig(ctx, workspace, repo.Repo{DB: conn})
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
