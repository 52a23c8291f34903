package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/foodtoken/internal/config"
	pkgcrypto "github.com/and161185/foodtoken/internal/crypto"
	"github.com/and161185/foodtoken/internal/migrate"
)

func newMigrateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.DSN == "" {
				return errors.New("store.dsn is required (--dsn or FOODTOKEN_STORE__DSN)")
			}
			if err := migrate.Up(cmd.Context(), cfg.Store.DSN); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			v, err := migrate.Version(cmd.Context(), cfg.Store.DSN)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", color.GreenString("ok"), v)
			return nil
		},
	}
}

// readPassword takes the flag value or the first line of in.
func readPassword(flag string, in io.Reader) (string, error) {
	if flag != "" {
		return flag, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}

func newHashPasswordCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print an operator password hash for auth.operators",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(password, cmd.InOrStdin())
			if err != nil {
				return err
			}
			salt, hash, err := pkgcrypto.NewHash([]byte(pw))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pkgcrypto.EncodeHash(salt, hash))
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (read from stdin when empty)")
	return cmd
}

func newOperatorCmd(f *rootFlags) *cobra.Command {
	op := &cobra.Command{Use: "operator", Short: "Manage operators (postgres backend)"}

	var password string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an operator allowed to redeem tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.Backend != config.BackendPostgres {
				return fmt.Errorf("operator add needs the postgres backend; use hash-password and auth.operators for %s", cfg.Store.Backend)
			}
			pw, err := readPassword(password, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := build(cmd.Context(), cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer a.close()
			id, err := a.auth.AddOperator(cmd.Context(), args[0], pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s operator %s (%s)\n", color.GreenString("added"), args[0], id)
			return nil
		},
	}
	add.Flags().StringVar(&password, "password", "", "password (read from stdin when empty)")
	op.AddCommand(add)
	return op
}
