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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"complyline/internal/config"
	"complyline/internal/db"
	"complyline/internal/domain"
	"complyline/internal/engine"
	"complyline/internal/migrate"
	"complyline/internal/monitor"
	"complyline/internal/repo"
	"complyline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cly",
	Short: "Complyline CLI",
	Long: `Complyline tracks insurance agent onboarding and compliance.
- Workspace: your .complyline directory holding the database; complyline.yml holds monitoring windows and webhooks.
- Agents: producers being onboarded; each gets the standard checklist on creation.
- Licenses and contracts: the records the monitor watches for upcoming expirations.
- Documents: uploads (W-9, E&O, voided check, ...) that complete checklist items automatically.
- Alerts: what the monitor raises - at most one open alert per entity and type.
- Monitor: run one pass with 'cly monitor run' or keep it running with 'cly monitor poll'.
- Event log: diary of changes, view with 'cly log tail'.`,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("COMPLYLINE")
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
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(licenseCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(alertCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agent", Short: "Manage agents"}
	cmd.AddCommand(agentCreateCmd())
	cmd.AddCommand(agentListCmd())
	cmd.AddCommand(agentShowCmd())
	cmd.AddCommand(agentStatusCmd())
	return cmd
}

func agentCreateCmd() *cobra.Command {
	var npn, first, last, email string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Onboard an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAgent(ctx, engine.AgentCreateOptions{
					NPN:       npn,
					FirstName: first,
					LastName:  last,
					Email:     email,
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&first, "first-name", "", "first name")
	cmd.Flags().StringVar(&last, "last-name", "", "last name")
	cmd.Flags().StringVar(&npn, "npn", "", "national producer number")
	cmd.Flags().StringVar(&email, "email", "", "email")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("last-name")
	return cmd
}

func agentListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAgents(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "NPN", "Status", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.FirstName + " " + a.LastName, a.NPN, a.Status, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func agentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func agentStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Update agent status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SetAgentStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (onboarding|active|inactive|terminated)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func licenseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "license", Short: "Manage licenses"}
	cmd.AddCommand(licenseAddCmd())
	cmd.AddCommand(licenseListCmd())
	cmd.AddCommand(licenseStatusCmd())
	return cmd
}

func licenseAddCmd() *cobra.Command {
	var agentID, state, number, loa, status, expires string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a license",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.AddLicense(ctx, engine.LicenseCreateOptions{
					AgentID:         agentID,
					State:           state,
					LicenseNumber:   number,
					LineOfAuthority: loa,
					Status:          status,
					ExpirationDate:  optionalString(expires),
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id")
	cmd.Flags().StringVar(&state, "state", "", "state code")
	cmd.Flags().StringVar(&number, "number", "", "license number")
	cmd.Flags().StringVar(&loa, "line-of-authority", "", "line of authority")
	cmd.Flags().StringVar(&status, "status", "pending", "license status")
	cmd.Flags().StringVar(&expires, "expires", "", "expiration date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("state")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func licenseListCmd() *cobra.Command {
	var agentID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List licenses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListLicenses(ctx, repo.LicenseFilters{AgentID: agentID, Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Agent", "State", "Number", "Status", "Expires"})
				for _, l := range items {
					expires := ""
					if l.ExpirationDate != nil {
						expires = *l.ExpirationDate
					}
					tw.AppendRow(table.Row{l.ID, l.AgentID, l.State, l.LicenseNumber, l.Status, expires})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func licenseStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Update license status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.SetLicenseStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (pending|active|expired|revoked)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func contractCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "contract", Short: "Manage carrier contracts"}
	cmd.AddCommand(contractAddCmd())
	cmd.AddCommand(contractListCmd())
	cmd.AddCommand(contractStatusCmd())
	return cmd
}

func contractAddCmd() *cobra.Command {
	var agentID, carrier, writing, status, expires string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddContract(ctx, engine.ContractCreateOptions{
					AgentID:        agentID,
					CarrierName:    carrier,
					WritingNumber:  optionalString(writing),
					Status:         status,
					ExpirationDate: optionalString(expires),
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id")
	cmd.Flags().StringVar(&carrier, "carrier", "", "carrier name")
	cmd.Flags().StringVar(&writing, "writing-number", "", "writing number")
	cmd.Flags().StringVar(&status, "status", "draft", "contract status")
	cmd.Flags().StringVar(&expires, "expires", "", "expiration date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("carrier")
	return cmd
}

func contractListCmd() *cobra.Command {
	var agentID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListContracts(ctx, repo.ContractFilters{AgentID: agentID, Status: status})
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func contractStatusCmd() *cobra.Command {
	var status, notes string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Update contract status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SetContractStatus(ctx, engine.ContractStatusOptions{
					ID:              args[0],
					Status:          status,
					CorrectionNotes: optionalString(notes),
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&notes, "notes", "", "correction notes (with --status requires_correction)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func documentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "document", Short: "Manage documents"}
	cmd.AddCommand(documentAddCmd())
	cmd.AddCommand(documentListCmd())
	return cmd
}

func documentAddCmd() *cobra.Command {
	var agentID, docType, fileName string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record an uploaded document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.RecordDocument(ctx, engine.DocumentOptions{
					AgentID:  agentID,
					Type:     docType,
					FileName: fileName,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id")
	cmd.Flags().StringVar(&docType, "type", "", "document type (w9|eo_certificate|voided_check|id_card|ahip_certificate|license_copy|other)")
	cmd.Flags().StringVar(&fileName, "file-name", "", "original file name")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func documentListCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListDocuments(ctx, agentID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent")
	return cmd
}

func checklistCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "checklist", Short: "Onboarding checklist"}
	cmd.AddCommand(checklistShowCmd())
	cmd.AddCommand(checklistCompleteCmd())
	return cmd
}

func checklistShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <agent-id>",
		Short: "Show an agent's checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetAgent(ctx, args[0]); err != nil {
					return err
				}
				items, err := r.ListChecklistItems(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Item", "Done", "Completed By", "Completed At"})
				for _, it := range items {
					done := " "
					if it.IsCompleted {
						done = "x"
					}
					by, at := "", ""
					if it.CompletedBy != nil {
						by = *it.CompletedBy
					}
					if it.CompletedAt != nil {
						at = *it.CompletedAt
					}
					tw.AppendRow(table.Row{it.ID, it.Name, done, by, at})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func checklistCompleteCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "complete <item-id>",
		Short: "Complete a checklist item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.CompleteChecklistItem(ctx, args[0], viper.GetString("actor-id"), optionalString(notes))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "completion notes")
	return cmd
}

func eventCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "event", Short: "Business events"}
	var agentID string
	apply := &cobra.Command{
		Use:   "apply <event-type>",
		Short: "Apply a business event to an agent's checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				completed, err := e.ApplyEvent(ctx, args[0], agentID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(completed)
			})
		},
	}
	apply.Flags().StringVar(&agentID, "agent", "", "agent id")
	_ = apply.MarkFlagRequired("agent")
	cmd.AddCommand(apply)
	return cmd
}

func alertCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "alert", Short: "Compliance alerts"}
	cmd.AddCommand(alertListCmd())
	cmd.AddCommand(alertResolveCmd())
	return cmd
}

func alertListCmd() *cobra.Command {
	var agentID, alertType, severity string
	var all bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts (open by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				filters := repo.AlertFilters{AgentID: agentID, Type: alertType, Severity: severity, Limit: limit}
				if !all {
					unresolved := false
					filters.Resolved = &unresolved
				}
				items, err := r.ListAlerts(ctx, filters)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Agent", "Type", "Severity", "Title", "Due", "Resolved"})
				for _, a := range items {
					due := ""
					if a.DueDate != nil {
						due = *a.DueDate
					}
					tw.AppendRow(table.Row{a.ID, a.AgentID, a.Type, a.Severity, a.Title, due, a.IsResolved})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent")
	cmd.Flags().StringVar(&alertType, "type", "", "filter by alert type")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	cmd.Flags().BoolVar(&all, "all", false, "include resolved alerts")
	cmd.Flags().IntVar(&limit, "limit", 100, "max rows")
	return cmd
}

func alertResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.ResolveAlert(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func monitorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "monitor", Short: "Compliance monitor"}
	cmd.AddCommand(monitorRunCmd())
	cmd.AddCommand(monitorPollCmd())
	return cmd
}

func monitorRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one monitoring pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.RunMonitorPass(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				if len(created) == 0 {
					fmt.Println("no new alerts")
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Type", "Severity", "Agent", "Title", "Due"})
				for _, a := range created {
					due := ""
					if a.DueDate != nil {
						due = *a.DueDate
					}
					tw.AppendRow(table.Row{a.Type, a.Severity, a.AgentID, a.Title, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func monitorPollCmd() *cobra.Command {
	var interval int
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run the monitor on an interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				seconds := interval
				if seconds <= 0 && e.Config != nil {
					seconds = e.Config.Monitoring.PollIntervalSeconds
				}
				p := monitor.NewPoller(time.Duration(seconds)*time.Second, func(ctx context.Context) ([]domain.Alert, error) {
					return e.RunMonitorPass(ctx, viper.GetString("actor-id"))
				})
				p.Start(ctx)
				fmt.Printf("monitoring every %s; ctrl-c to stop\n", p.Interval)
				<-ctx.Done()
				p.Stop()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&interval, "interval", 0, "poll interval in seconds (default from config)")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (prints the key once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rawKey := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(rawKey),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"name":     key.Name,
					"key":      rawKey,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				type row struct {
					ID        string `json:"id"`
					ActorID   string `json:"actor_id"`
					Name      string `json:"name,omitempty"`
					CreatedAt string `json:"created_at"`
				}
				rows := make([]row, 0, len(keys))
				for _, k := range keys {
					rows = append(rows, row{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt})
				}
				return printJSONOrTable(rows)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor")
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

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default complyline.yml",
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

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate complyline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEventsFrom(ctx, n, 0, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
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
				JWTSecret:              os.Getenv("COMPLYLINE_JWT_SECRET"),
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("COMPLYLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			defer handler.Close()
			interval := time.Duration(cfg.Monitoring.PollIntervalSeconds) * time.Second
			p := monitor.NewPoller(interval, func(ctx context.Context) ([]domain.Alert, error) {
				return e.RunMonitorPass(ctx, "monitor")
			})
			p.Start(cmd.Context())
			defer p.Stop()
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Complyline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
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

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
