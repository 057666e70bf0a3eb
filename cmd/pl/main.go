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

	"plantline/internal/config"
	"plantline/internal/db"
	"plantline/internal/domain"
	"plantline/internal/engine"
	"plantline/internal/migrate"
	"plantline/internal/repo"
	"plantline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Plantline CLI",
	Long: `Plantline allocates maintenance work orders across plant personnel.
Core concepts:
- Workspace: your .plantline directory holding the database; plantline.yml next to it tunes the allocator.
- Assets: plant units with a health score and a risk level; health below the scheduling threshold raises a repair order.
- Engineers: personnel with certifications, a skill matrix, and a fatigue score derived from shift history.
- Schedule: one allocation pass ranks pending orders by risk-weighted priority and picks the least-fatigued eligible engineer per order.
- Overrides: time-scoped exceptions approved by authorized roles that suspend a legality constraint for one engineer.
- Alerts: staffing gaps raised when no one can take an order; unresolved gaps escalate after a severity window.
- Audit log: append-only diary of every decision, view with 'pl log tail'.`,
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
	viper.SetEnvPrefix("PLANTLINE")
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
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(assetCmd())
	rootCmd.AddCommand(engineerCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(overrideCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(readinessCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var plantID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default plantline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(plantID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&plantID, "plant-id", "plant-1", "plant identifier")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show plant status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				assets, err := e.Repo.ListAssets(ctx)
				if err != nil {
					return err
				}
				open, err := e.Repo.ListOpenOrders(ctx)
				if err != nil {
					return err
				}
				engineers, err := e.Repo.ListEngineers(ctx)
				if err != nil {
					return err
				}
				floor := e.Config.Scheduling.OperationalFloor
				operational := 0
				for _, a := range assets {
					if a.Operational(floor) {
						operational++
					}
				}
				return printJSONOrTable(map[string]any{
					"plant_id":    e.Config.Plant.ID,
					"assets":      len(assets),
					"operational": operational,
					"open_orders": len(open),
					"engineers":   len(engineers),
				})
			})
		},
	}
	return cmd
}

func assetCmd() *cobra.Command {
	asset := &cobra.Command{Use: "asset", Short: "Manage assets"}
	asset.AddCommand(assetCreateCmd())
	asset.AddCommand(assetListCmd())
	asset.AddCommand(assetShowCmd())
	asset.AddCommand(assetDeleteCmd())
	asset.AddCommand(assetChaosCmd())
	asset.AddCommand(assetResetHealthCmd())
	return asset
}

func assetCreateCmd() *cobra.Command {
	var id, assetType string
	var health, risk float64
	var certs, teams []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAsset(ctx, domain.Asset{
					ID:                     id,
					Type:                   assetType,
					HealthScore:            health,
					RiskLevel:              risk,
					RequiredCertifications: certs,
					ResponsibleTeams:       teams,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "asset id")
	cmd.Flags().StringVar(&assetType, "type", "", "asset type")
	cmd.Flags().Float64Var(&health, "health", 100, "health score 0-100")
	cmd.Flags().Float64Var(&risk, "risk", 3, "risk level 1-5")
	cmd.Flags().StringArrayVar(&certs, "cert", []string{}, "required certification (repeatable)")
	cmd.Flags().StringArrayVar(&teams, "team", []string{}, "responsible team (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func assetListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				assets, err := e.Repo.ListAssets(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(assets)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Health", "Risk", "Certs"})
				for _, a := range assets {
					tw.AppendRow(table.Row{a.ID, a.Type, a.HealthScore, a.RiskLevel, strings.Join(a.RequiredCertifications, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func assetShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetAsset(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func assetDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Decommission an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DecommissionAsset(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func assetChaosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chaos",
		Short: "Randomly degrade asset health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				affected, err := e.ChaosDegrade(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Degraded %d units\n", affected)
				return nil
			})
		},
	}
	return cmd
}

func assetResetHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-health",
		Short: "Restore all assets to full health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ResetHealth(ctx)
			})
		},
	}
	return cmd
}

func engineerCmd() *cobra.Command {
	eng := &cobra.Command{Use: "engineer", Short: "Manage engineers"}
	eng.AddCommand(engineerCreateCmd())
	eng.AddCommand(engineerListCmd())
	eng.AddCommand(engineerDeleteCmd())
	return eng
}

func engineerCreateCmd() *cobra.Command {
	var id, name, team, availability, skillsJSON string
	var certs []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an engineer",
		RunE: func(cmd *cobra.Command, args []string) error {
			var skills map[string]float64
			if skillsJSON != "" {
				if err := json.Unmarshal([]byte(skillsJSON), &skills); err != nil {
					return fmt.Errorf("invalid --skills JSON: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.CreateEngineer(ctx, domain.Engineer{
					ID:             id,
					Name:           name,
					Team:           team,
					Certifications: certs,
					SkillMatrix:    skills,
					Availability:   availability,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(eng)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "engineer id")
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&team, "team", "", "team")
	cmd.Flags().StringVar(&availability, "availability", "Day", "availability shift")
	cmd.Flags().StringVar(&skillsJSON, "skills", "", `skill matrix JSON, e.g. {"repairSpeed":7}`)
	cmd.Flags().StringArrayVar(&certs, "cert", []string{}, "certification (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func engineerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List engineers with live fatigue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				engineers, err := e.ListEngineers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(engineers)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Team", "Fatigue", "Certs"})
				for _, eng := range engineers {
					tw.AppendRow(table.Row{eng.ID, eng.Name, eng.Team, fmt.Sprintf("%.1f", eng.Fatigue), strings.Join(eng.Certifications, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func engineerDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove an engineer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveEngineer(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func scheduleCmd() *cobra.Command {
	sched := &cobra.Command{Use: "schedule", Short: "Allocation scheduling"}
	sched.AddCommand(scheduleRunCmd())
	return sched
}

func scheduleRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one allocation pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.RunSchedule(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				fmt.Printf("Status: %s (%d orders created, %d assigned, %d unstaffed)\n",
					result.Status, result.OrdersCreated, len(result.Decisions), len(result.Unstaffed))
				if len(result.Decisions) == 0 {
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Order", "Asset", "Engineer", "Duration", "End"})
				for _, d := range result.Decisions {
					tw.AppendRow(table.Row{d.OrderID, d.AssetID, d.EngineerName, fmt.Sprintf("%dm", d.DurationMinutes), d.EndTime.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func orderCmd() *cobra.Command {
	order := &cobra.Command{Use: "order", Short: "Manage maintenance orders"}
	order.AddCommand(orderListCmd())
	order.AddCommand(orderShowCmd())
	order.AddCommand(orderCompleteCmd())
	return order
}

func orderListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List maintenance orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				orders, err := e.Repo.ListOrders(ctx, strings.ToUpper(strings.TrimSpace(status)))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Asset", "Status", "Engineer", "Priority"})
				for _, o := range orders {
					engineer := ""
					if o.AssignedEngineerID != nil {
						engineer = *o.AssignedEngineerID
					}
					tw.AppendRow(table.Row{o.ID, o.AssetID, o.Status, engineer, fmt.Sprintf("%.2f", o.Priority)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (PENDING, ASSIGNED, COMPLETED)")
	return cmd
}

func orderShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a maintenance order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Repo.GetOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func orderCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete an order and restore the asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CompleteOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func overrideCmd() *cobra.Command {
	override := &cobra.Command{Use: "override", Short: "Manage constraint overrides"}
	override.AddCommand(overrideApproveCmd())
	override.AddCommand(overrideListCmd())
	return override
}

func overrideApproveCmd() *cobra.Command {
	var constraint, target, justification, approvedBy, role string
	var hours int
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve a constraint override",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				expires := e.Now().Add(time.Duration(hours) * time.Hour)
				ov, err := e.ApproveOverride(ctx, constraint, target, justification, approvedBy, role, expires)
				if err != nil {
					return err
				}
				return printJSONOrTable(ov)
			})
		},
	}
	cmd.Flags().StringVar(&constraint, "constraint", "FATIGUE_LIMIT", "constraint name")
	cmd.Flags().StringVar(&target, "target", "", "engineer id the override applies to")
	cmd.Flags().StringVar(&justification, "justification", "", "justification (min 20 chars)")
	cmd.Flags().StringVar(&approvedBy, "approved-by", "", "approver id")
	cmd.Flags().StringVar(&role, "role", "", "approver role")
	cmd.Flags().IntVar(&hours, "hours", 4, "validity window in hours")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("justification")
	_ = cmd.MarkFlagRequired("approved-by")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func overrideListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				overrides, err := e.ListOverrides(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(overrides)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Constraint", "Target", "Approved By", "Expires", "Active"})
				now := e.Now()
				for _, o := range overrides {
					tw.AppendRow(table.Row{o.ID, o.Constraint, o.TargetID, o.ApprovedBy, o.ExpiresAt.Format(time.RFC3339), o.IsActive(now)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func alertsCmd() *cobra.Command {
	alerts := &cobra.Command{Use: "alerts", Short: "Staffing-gap alerts"}
	alerts.AddCommand(alertsListCmd())
	alerts.AddCommand(alertsEscalateCmd())
	return alerts
}

func alertsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				alerts, err := e.Alerts(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(alerts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Severity", "Order", "Asset", "Message"})
				for _, a := range alerts {
					tw.AppendRow(table.Row{a.ID, a.Severity, a.OrderID, a.AssetID, a.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "n", 10, "number of alerts")
	return cmd
}

func alertsEscalateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalate",
		Short: "Escalate overdue staffing gaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.EscalateAlerts(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Escalated %d alerts\n", n)
				return nil
			})
		},
	}
	return cmd
}

func readinessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Certification coverage per skill",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Readiness(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Skill", "Needed", "Available", "Readiness"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.Skill, entry.Needed, entry.Available, fmt.Sprintf("%.1f%%", entry.Readiness)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Audit log"}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var events []domain.Event
				var err error
				if evtType != "" {
					events, err = e.Repo.ListEventsByType(ctx, evtType, n)
				} else {
					events, err = e.Repo.ListEvents(ctx, n)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Severity", "Message"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.Severity, evt.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (prints the raw key once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			raw := uuid.New().String() + uuid.New().String()
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("API key for %s (store it now, it is not shown again):\n%s\n", actor, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor")
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

func serveCmd() *cobra.Command {
	var addr, basePath string
	var requireAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("PLANTLINE_JWT_SECRET"),
				Required:               requireAuth,
				AllowLegacyActorHeader: true,
			}
			if requireAuth && authCfg.JWTSecret == "" {
				return fmt.Errorf("PLANTLINE_JWT_SECRET is required with --require-auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Plantline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&requireAuth, "require-auth", false, "reject unauthenticated requests")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
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
