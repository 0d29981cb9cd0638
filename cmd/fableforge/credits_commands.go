package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"fableforge/internal/api"
)

func newCreditsCommand(ctx *commandContext) *cobra.Command {
	creditsCmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and top up credit balances",
	}

	creditsCmd.AddCommand(newCreditsBalanceCommand(ctx))
	creditsCmd.AddCommand(newCreditsGrantCommand(ctx))
	creditsCmd.AddCommand(newCreditsLedgerCommand(ctx))

	return creditsCmd
}

func newCreditsBalanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show an account's credit balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				AccountID string `json:"account_id"`
				Balance   int64  `json:"balance"`
			}
			path := "/accounts/" + url.PathEscape(args[0]) + "/balance"
			if err := ctx.client().get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d credits\n", resp.Balance)
			return nil
		},
	}
}

func newCreditsGrantCommand(ctx *commandContext) *cobra.Command {
	var externalRef string
	var reason string

	cmd := &cobra.Command{
		Use:   "grant <account-id> <amount>",
		Short: "Grant credits to an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer")
			}
			if strings.TrimSpace(externalRef) == "" {
				return fmt.Errorf("--ref is required so the grant can be replayed safely")
			}
			body := map[string]any{
				"amount":       amount,
				"reason":       reason,
				"external_ref": externalRef,
			}
			var resp struct {
				Applied bool  `json:"applied"`
				Balance int64 `json:"balance"`
			}
			path := "/accounts/" + url.PathEscape(args[0]) + "/grants"
			if err := ctx.client().post(cmd.Context(), path, body, &resp); err != nil {
				return err
			}
			if resp.Applied {
				fmt.Fprintf(cmd.OutOrStdout(), "Granted %d credits; balance is now %d\n", amount, resp.Balance)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Grant %s already applied; balance is %d\n", externalRef, resp.Balance)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&externalRef, "ref", "", "Idempotency reference for the grant")
	cmd.Flags().StringVar(&reason, "reason", "", "Ledger reason (defaults to topup)")
	return cmd
}

func newCreditsLedgerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger <account-id>",
		Short: "List an account's credit movements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []api.LedgerEntryResponse
			path := "/accounts/" + url.PathEscape(args[0]) + "/ledger"
			if err := ctx.client().get(cmd.Context(), path, &entries); err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No ledger entries")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				scope := e.ProjectID
				if e.Stage != "" {
					scope += "/" + e.Stage
				}
				rows = append(rows, []string{
					formatTimestamp(e.CreatedAt),
					strconv.FormatInt(e.Delta, 10),
					e.Reason,
					scope,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"When", "Delta", "Reason", "Scope"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
}
