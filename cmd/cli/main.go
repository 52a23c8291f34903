// Command ft is a CLI client for the food token service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/and161185/foodtoken/internal/convert"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type globals struct {
	server  string
	timeout time.Duration
	asJSON  bool
}

func (g *globals) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.timeout)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "ft",
		Short:         "Issue, redeem and inspect food tokens",
		Version:       fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", envOr("FT_SERVER", "http://localhost:8080"), "API base URL")
	pf.DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")
	pf.BoolVar(&g.asJSON, "json", false, "print raw JSON")

	root.AddCommand(newLoginCmd(g), newIssueCmd(g), newRedeemCmd(g), newShowCmd(g))
	return root
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func newLoginCmd(g *globals) *cobra.Command {
	var user, pass string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in as an operator (saves token)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := g.ctx()
			defer cancel()
			resp, err := newClient(g.server, "", g.timeout).login(ctx, user, pass)
			if err != nil {
				return err
			}
			if err := saveToken(g.server, resp.AccessToken, resp.ExpiresAt); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s logged in until %s\n", color.GreenString("ok"), resp.ExpiresAt.Local().Format(time.RFC1123))
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "username", "u", "", "operator username")
	cmd.Flags().StringVarP(&pass, "password", "p", "", "operator password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newIssueCmd(g *globals) *cobra.Command {
	var (
		req  convert.IssueRequest
		days []string
		out  string
	)
	cmd := &cobra.Command{
		Use:     "issue",
		Short:   "Issue tokens for a flat",
		Example: `  ft issue --event "Diwali Fest" --block A1 --flat 101 --day 1=3 --day 2=2 --out ./qr`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := parseDays(days)
			if err != nil {
				return err
			}
			req.Days = d
			ctx, cancel := g.ctx()
			defer cancel()

			resp, code, err := newClient(g.server, "", g.timeout).issue(ctx, req)
			if resp.BatchID == "" && err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if g.asJSON {
				printJSON(w, resp)
			} else {
				printIssue(w, resp, code)
			}
			if out != "" && len(resp.Previews) > 0 {
				files, werr := writePreviews(out, resp.Previews)
				if werr != nil {
					return werr
				}
				fmt.Fprintf(w, "wrote %d image(s) to %s\n", len(files), out)
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.EventName, "event", "", "event name")
	f.StringVar(&req.Block, "block", "", "block")
	f.StringVar(&req.Flat, "flat", "", "flat")
	f.StringVar(&req.Email, "email", "", "resident email (optional)")
	f.StringArrayVar(&days, "day", nil, "DAY=COUNT, repeatable; order is kept")
	f.StringVar(&out, "out", "", "directory to write QR images to")
	f.Float64Var((*float64)(&req.BaseDonation), "donation", 0, "base donation")
	f.Float64Var((*float64)(&req.ExtraDonation), "extra", 0, "extra donation")
	f.Float64Var((*float64)(&req.TotalAmount), "total", 0, "total incl. tokens (default donation)")
	f.StringVar(&req.PaymentNote, "note", "", "payment note the resident will use")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("block")
	_ = cmd.MarkFlagRequired("flat")
	return cmd
}

func printIssue(w io.Writer, r convert.IssueResponse, code int) {
	fmt.Fprintf(w, "batch %s\n", r.BatchID)
	for _, d := range r.Days {
		fmt.Fprintf(w, "%s %d token(s)\n", color.CyanString("Day %s:", d.Day), len(d.TokenIDs))
		for _, id := range d.TokenIDs {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
	for _, f := range r.Failed {
		fmt.Fprintf(w, "%s day %s seq %d %s\n", color.RedString("failed"), f.Day, f.Seq, f.Error)
	}
	if code == 207 {
		fmt.Fprintln(w, color.YellowString("partial issuance; retry the failed slots"))
	}
	switch {
	case r.Notified:
		fmt.Fprintln(w, color.GreenString("notification sent"))
	case r.NotifyError != "":
		fmt.Fprintf(w, "%s %s\n", color.YellowString("notification failed:"), r.NotifyError)
	}
}

func newRedeemCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "redeem <token>",
		Short: "Redeem a scanned token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := loadToken()
			if err != nil {
				return err
			}
			ctx, cancel := g.ctx()
			defer cancel()
			resp, err := newClient(g.server, tok, g.timeout).redeem(ctx, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if g.asJSON {
				printJSON(w, resp)
				return nil
			}
			printRedeem(w, resp)
			return nil
		},
	}
}

func printRedeem(w io.Writer, r convert.RedeemResponse) {
	at := ""
	if r.RedeemedAt != nil {
		at = r.RedeemedAt.Local().Format(time.RFC1123)
	}
	switch r.Status {
	case "redeemed":
		fmt.Fprintf(w, "%s %s at %s\n", color.GreenString("REDEEMED"), r.TokenID, at)
	case "already_redeemed":
		fmt.Fprintf(w, "%s %s at %s\n", color.YellowString("ALREADY REDEEMED"), r.TokenID, at)
	default:
		fmt.Fprintf(w, "%s %s\n", color.RedString("NOT FOUND"), r.TokenID)
	}
}

func newShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <token>",
		Short: "Show a token record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := loadToken()
			if err != nil {
				return err
			}
			ctx, cancel := g.ctx()
			defer cancel()
			resp, err := newClient(g.server, tok, g.timeout).show(ctx, args[0])
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}
