package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"outreach/internal/config"
	"outreach/internal/credentials"
	"outreach/internal/domain"
	"outreach/internal/logging"
	"outreach/internal/quota"
	"outreach/internal/store/pg"
	"outreach/internal/util"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage sender accounts",
}

var addAccount struct {
	address      string
	displayName  string
	kind         string
	secret       string
	smtpHost     string
	smtpPort     int
	smtpUsername string
	dailyCap     int
	position     int
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or replace a sender account; --secret is a Gmail refresh token or SMTP password",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init("dispatcher", "text", "info")
		cfg := config.LoadDispatcher()

		kind := domain.AccountKind(addAccount.kind)
		if kind != domain.AccountGmail && kind != domain.AccountSMTP {
			return fmt.Errorf("--kind must be gmail or smtp, got %q", addAccount.kind)
		}
		if kind == domain.AccountSMTP && addAccount.smtpHost == "" {
			return fmt.Errorf("--smtp-host is required for smtp accounts")
		}
		sealer, err := credentials.NewSealer(cfg.CredentialKey)
		if err != nil {
			return fmt.Errorf("CREDENTIAL_KEY: %w", err)
		}
		ref, err := sealer.Seal(addAccount.secret)
		if err != nil {
			return err
		}

		ctx := context.Background()
		db, err := openDB(ctx, cfg.DBConfig)
		if err != nil {
			return err
		}
		defer db.Close()

		acct := domain.SenderAccount{
			ID:            util.NewAccountID(),
			Address:       domain.NormalizeEmail(addAccount.address),
			DisplayName:   addAccount.displayName,
			Kind:          kind,
			CredentialRef: ref,
			SMTPHost:      addAccount.smtpHost,
			SMTPPort:      addAccount.smtpPort,
			SMTPUsername:  addAccount.smtpUsername,
			DailyCap:      addAccount.dailyCap,
			Position:      addAccount.position,
		}
		if err := pg.New(db).UpsertSenderAccount(ctx, acct); err != nil {
			return err
		}
		fmt.Printf("account %s saved (%s, cap %d)\n", acct.Address, acct.Kind, acct.Cap())
		return nil
	},
}

var accountsClearCmd = &cobra.Command{
	Use:   "clear <address>",
	Short: "Clear a recorded credential error so the account is used again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init("dispatcher", "text", "info")
		ctx := context.Background()
		db, err := openDB(ctx, config.LoadDB())
		if err != nil {
			return err
		}
		defer db.Close()
		return pg.New(db).ClearCredentialError(ctx, domain.NormalizeEmail(args[0]))
	},
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sender accounts with today's usage from the postgres counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init("dispatcher", "text", "info")
		ctx := context.Background()
		db, err := openDB(ctx, config.LoadDB())
		if err != nil {
			return err
		}
		defer db.Close()

		accounts, err := pg.New(db).ListSenderAccounts(ctx)
		if err != nil {
			return err
		}
		tracker := quota.NewTracker(pg.NewCounter(db))
		day := tracker.Today()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tKIND\tSENT\tCAP\tCREDENTIAL ERROR")
		for _, a := range accounts {
			n, err := tracker.Count(ctx, a, day)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", a.Address, a.Kind, n, a.Cap(), a.CredentialError)
		}
		return w.Flush()
	},
}

func init() {
	f := accountsAddCmd.Flags()
	f.StringVar(&addAccount.address, "address", "", "sending address")
	f.StringVar(&addAccount.displayName, "display-name", "", "From display name")
	f.StringVar(&addAccount.kind, "kind", "gmail", "gmail or smtp")
	f.StringVar(&addAccount.secret, "secret", "", "refresh token (gmail) or password (smtp)")
	f.StringVar(&addAccount.smtpHost, "smtp-host", "", "SMTP server host")
	f.IntVar(&addAccount.smtpPort, "smtp-port", 587, "SMTP server port")
	f.StringVar(&addAccount.smtpUsername, "smtp-username", "", "SMTP login, defaults to the address")
	f.IntVar(&addAccount.dailyCap, "daily-cap", domain.DefaultDailyCap, "sends per UTC day")
	f.IntVar(&addAccount.position, "position", 0, "order used by the ordered selection policy")
	_ = accountsAddCmd.MarkFlagRequired("address")
	_ = accountsAddCmd.MarkFlagRequired("secret")

	accountsCmd.AddCommand(accountsAddCmd)
	accountsCmd.AddCommand(accountsClearCmd)
	accountsCmd.AddCommand(accountsListCmd)
}
