package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/circadianhq/circadian/internal/adapter/postgres"
	"github.com/circadianhq/circadian/internal/adapter/sqlite"
	"github.com/circadianhq/circadian/internal/config"
	"github.com/circadianhq/circadian/internal/domain/usage"
	"github.com/circadianhq/circadian/internal/port/store"
	"github.com/circadianhq/circadian/internal/secrets"
)

// runAdmin dispatches admin subcommands (set-credential, usage, actions,
// migrate).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "set-credential":
		return runAdminSetCredential(args[1:])
	case "usage":
		return runAdminUsage(args[1:])
	case "actions":
		return runAdminActions(args[1:])
	case "migrate":
		return runAdminMigrate(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: circadian admin <command> [options]

Commands:
  set-credential   Seal and store a platform credential for an account
  usage            Show per-model token usage for an account and day
  actions          Show the newest audit trail entries for an account
  migrate          Apply pending postgres migrations
  help             Show this help message

Examples:
  circadian admin set-credential --account default --name platform_password
  circadian admin usage --account default --day 2025-06-12
  circadian admin actions --account default --limit 20
  circadian admin migrate
`)
}

// loadAdminStore opens the store selected by config. The daemon may be
// running; sqlite access relies on WAL plus busy_timeout.
func loadAdminStore() (*config.Config, store.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.Store.Driver == "postgres" {
		pool, err := postgres.NewPool(context.Background(), cfg.Postgres)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		return cfg, postgres.NewStore(pool), pool.Close, nil
	}

	db, err := sqlite.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	return cfg, db, func() { _ = db.Close() }, nil
}

func runAdminSetCredential(args []string) error {
	fs := flag.NewFlagSet("set-credential", flag.ContinueOnError)
	account := fs.String("account", "", "account ID (required)")
	name := fs.String("name", "", "credential name, e.g. platform_password (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *account == "" {
		return fmt.Errorf("--account is required")
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	secret, err := promptPassword("Secret value: ")
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	confirm, err := promptPassword("Confirm secret: ")
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	if secret != confirm {
		return fmt.Errorf("values do not match")
	}

	passphrase, err := promptPassword("Sealing passphrase: ")
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}

	sealed, err := secrets.Seal(passphrase, []byte(secret))
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}

	_, st, cleanup, err := loadAdminStore()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := st.PutCredential(context.Background(), *account, *name, sealed); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Credential %q sealed for account %s (%d bytes)\n", *name, *account, len(sealed))
	return nil
}

func runAdminUsage(args []string) error {
	fs := flag.NewFlagSet("usage", flag.ContinueOnError)
	account := fs.String("account", "", "account ID (required)")
	day := fs.String("day", time.Now().Format(usage.DayFormat), "day (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *account == "" {
		return fmt.Errorf("--account is required")
	}
	if _, err := time.Parse(usage.DayFormat, *day); err != nil {
		return fmt.Errorf("--day must be formatted YYYY-MM-DD")
	}

	_, st, cleanup, err := loadAdminStore()
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := st.UsageSummary(context.Background(), *account, *day)
	if err != nil {
		return fmt.Errorf("usage summary: %w", err)
	}

	if len(records) == 0 {
		fmt.Printf("No usage recorded for %s on %s.\n", *account, *day)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MODEL\tCALLS\tTOKENS_IN\tTOKENS_OUT")
	for i := range records {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\n",
			records[i].Model, records[i].Calls, records[i].TokensIn, records[i].TokensOut)
	}
	return w.Flush()
}

func runAdminActions(args []string) error {
	fs := flag.NewFlagSet("actions", flag.ContinueOnError)
	account := fs.String("account", "", "account ID (required)")
	limit := fs.Int("limit", 20, "maximum entries to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *account == "" {
		return fmt.Errorf("--account is required")
	}

	_, st, cleanup, err := loadAdminStore()
	if err != nil {
		return err
	}
	defer cleanup()

	actions, err := st.RecentActions(context.Background(), *account, *limit)
	if err != nil {
		return fmt.Errorf("recent actions: %w", err)
	}

	if len(actions) == 0 {
		fmt.Printf("No audit entries for %s.\n", *account)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AT\tTYPE\tOUTCOME\tTIER\tDETAIL")
	for i := range actions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			actions[i].At.Format(time.RFC3339), actions[i].Type, actions[i].Outcome, actions[i].Tier, actions[i].Detail)
	}
	return w.Flush()
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Driver != "postgres" {
		return fmt.Errorf("store driver is %q; the sqlite schema is applied automatically on open", cfg.Store.Driver)
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Migrations applied (version %d)\n", version)
	return nil
}

// promptPassword reads a value from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after password input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
