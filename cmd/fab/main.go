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

	"github.com/golang-jwt/jwt/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fabline/internal/app"
	"fabline/internal/config"
	"fabline/internal/db"
	"fabline/internal/domain"
	"fabline/internal/migrate"
	"fabline/internal/repo"
	"fabline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fab",
	Short: "Fabline CLI",
	Long: `Fabline runs a small manufacturing-order fulfillment backend.
A workspace is a directory with a fabline.yml and a .fabline database.
Production plans are created from sales orders or stock replenishment
requests, expanded into plan items from product routings, and their
external (purchase / outsourcing) orders, stock counters and demand
statuses are kept in sync as plans progress.`,
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
	viper.SetEnvPrefix("FABLINE")
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
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(stockCmd())
	rootCmd.AddCommand(ordersCmd())
	rootCmd.AddCommand(pendingCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("addr") && a.Config.Server.Addr != "" {
				addr = a.Config.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
				basePath = a.Config.Server.BasePath
			}
			secret := a.Config.Server.JWTSecret
			if env := os.Getenv("FABLINE_JWT_SECRET"); env != "" {
				secret = env
			}
			if secret == "" && !a.Config.Server.AllowLegacyActorHeader {
				return fmt.Errorf("jwt secret required: set server.jwt_secret or FABLINE_JWT_SECRET")
			}
			authCfg := server.AuthConfig{
				JWTSecret:              secret,
				AllowLegacyActorHeader: a.Config.Server.AllowLegacyActorHeader,
				Logger:                 a.Log,
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth:     authCfg,
				Metrics:  a.Metrics,
			})
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
			fmt.Printf("Serving Fabline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8420", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "db", Short: "Database maintenance"}
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	})
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage fabline.yml"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default fabline.yml",
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
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for the configured actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			secret := cfg.Server.JWTSecret
			if env := os.Getenv("FABLINE_JWT_SECRET"); env != "" {
				secret = env
			}
			if secret == "" {
				return fmt.Errorf("jwt secret required: set server.jwt_secret or FABLINE_JWT_SECRET")
			}
			now := time.Now()
			claims := jwt.RegisteredClaims{
				Subject:   viper.GetString("actor-id"),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			}
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plan", Short: "Inspect production plans"}
	cmd.AddCommand(planListCmd())
	cmd.AddCommand(planShowCmd())
	return cmd
}

func planListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List production plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				filters := repo.PlanFilters{Limit: limit}
				if status != "" {
					s, err := domain.ParsePlanStatus(status)
					if err != nil {
						return err
					}
					filters.Status = s
				}
				plans, err := r.ListPlans(ctx, filters)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plans)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Demand", "Plan Date", "Status", "Note"})
				for _, p := range plans {
					tw.AppendRow(table.Row{p.ID, demandLabel(p), p.PlanDate, p.Status, p.Note})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func planShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show one plan with its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscan(args[0], &id); err != nil {
				return fmt.Errorf("invalid plan id %q", args[0])
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetPlan(ctx, id)
				if err != nil {
					return err
				}
				items, err := r.ListPlanItems(ctx, id)
				if err != nil {
					return err
				}
				p.Items = items
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Plan %d  %s  %s  %s\n", p.ID, demandLabel(p), p.PlanDate, p.Status)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Seq", "Process", "Mode", "Product", "Qty", "Partner", "Status"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Sequence, it.ProcessName, it.Mode, it.ProductID, it.Quantity, it.PartnerName, it.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func stockCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "stock", Short: "Inspect stock counters"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stock counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				stocks, err := r.ListStocks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stocks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Product", "On Hand", "In Production", "Location", "Updated"})
				for _, s := range stocks {
					tw.AppendRow(table.Row{s.ProductID, s.OnHandQuantity, s.InProductionQuantity, s.Location, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func ordersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "orders", Short: "Inspect external orders"}
	var kind string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List purchase or outsourcing orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != domain.OrderKindPurchase && kind != domain.OrderKindOutsourcing {
				return fmt.Errorf("invalid kind %q: want purchase or outsourcing", kind)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				orders, err := r.ListOrders(ctx, kind, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Order No", "Partner", "Status", "Order Date", "Delivered"})
				for _, o := range orders {
					delivered := ""
					if o.DeliveryDate != nil {
						delivered = *o.DeliveryDate
					}
					tw.AppendRow(table.Row{o.ID, o.OrderNo, o.PartnerName, o.Status, o.OrderDate, delivered})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&kind, "kind", domain.OrderKindPurchase, "purchase or outsourcing")
	list.Flags().IntVar(&limit, "limit", 0, "max rows")
	cmd.AddCommand(list)
	return cmd
}

func pendingCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List external plan items not yet on any order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.PendingItems(ctx, mode)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Plan", "Product", "Process", "Qty", "Partner", "Status"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.PlanID, it.ProductID, it.ProcessName, it.Quantity, it.PartnerName, it.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", domain.ModePurchase, "PURCHASE or OUTSOURCING")
	return cmd
}

func demandLabel(p domain.Plan) string {
	switch {
	case p.SalesOrderID != nil:
		return fmt.Sprintf("sales_order:%d", *p.SalesOrderID)
	case p.ReplenishmentID != nil:
		return fmt.Sprintf("replenishment:%d", *p.ReplenishmentID)
	default:
		return ""
	}
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
