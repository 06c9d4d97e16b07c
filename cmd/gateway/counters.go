package main

import (
	"errors"
	"fmt"
	"time"

	"journal-gateway/config"
	"journal-gateway/gateway"
	"journal-gateway/middleware/ratelimit"
	"journal-gateway/middleware/ratelimit/application"
	"journal-gateway/middleware/ratelimit/domain"
	"journal-gateway/middleware/ratelimit/infra"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newCountersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counters",
		Short: "Inspect or reset rate limit counters (shared Redis backend)",
	}

	var policy string
	cmd.PersistentFlags().StringVar(&policy, "policy", config.DefaultPolicy, "policy name (default or a rate.rules name)")

	get := &cobra.Command{
		Use:   "get <caller-key>...",
		Short: "Show count and remaining quota of the current window",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCounters(cmd, opts, policy, func(svc application.Service, _ domain.CounterStore, p gateway.Policy) error {
				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.SetStyle(table.StyleLight)
				t.AppendHeader(table.Row{"Key", "Policy", "Count", "Limit", "Remaining", "Reset"})
				for _, caller := range args {
					dec, err := svc.Peek(cmd.Context(), ratelimit.CounterKey(p.Name, caller))
					if err != nil {
						return err
					}
					t.AppendRow(table.Row{caller, p.Name, dec.Count, dec.Limit, dec.Remaining, dec.Reset.UTC().Format(time.RFC3339)})
				}
				t.Render()
				return nil
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset <caller-key>...",
		Short: "Delete the current window counter (maintenance only)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCounters(cmd, opts, policy, func(_ application.Service, store domain.CounterStore, p gateway.Policy) error {
				r, ok := store.(domain.CounterResetter)
				if !ok {
					return errors.New("counter store does not support reset")
				}
				for _, caller := range args {
					if err := r.Reset(cmd.Context(), ratelimit.CounterKey(p.Name, caller), p.Window); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "reset %s (%s)\n", caller, p.Name)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(get, reset)
	return cmd
}

func withCounters(cmd *cobra.Command, opts *rootOptions, policy string, fn func(application.Service, domain.CounterStore, gateway.Policy) error) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	p, ok := gateway.FindPolicy(cfg, policy)
	if !ok {
		return fmt.Errorf("unknown policy %q", policy)
	}

	bc, err := backendConfig(cfg)
	if err != nil {
		return err
	}
	sel, err := infra.SelectCounterStore(cmd.Context(), bc, log)
	if err != nil {
		return err
	}
	defer func() { _ = sel.Close() }()
	if sel.Backend != infra.BackendRedis {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: in-memory backend, counters of a running gateway are not visible from here")
	}

	svc := application.Service{Store: sel.Store, Window: p.Window, MaxRequests: p.MaxRequests}
	return fn(svc, sel.Store, p)
}
