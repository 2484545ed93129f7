package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"greencycle/internal/domain"
	"greencycle/internal/intent"
)

func pickupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pickups",
		Short: "Manage pickup records",
	}

	var p domain.Pickup
	var email string
	add := &cobra.Command{
		Use:   "add",
		Short: "Schedule a pickup for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if p.UserID == "" {
				if email == "" {
					return fmt.Errorf("one of --user or --email is required")
				}
				u, err := a.store.UserByEmail(ctx, email)
				if err != nil {
					return err
				}
				p.UserID = u.UserID
			}
			saved, err := a.store.InsertPickup(ctx, p)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), saved.ID)
			return nil
		},
	}
	add.Flags().StringVar(&p.UserID, "user", "", "owner user id")
	add.Flags().StringVar(&email, "email", "", "owner email (alternative to --user)")
	add.Flags().StringVar(&p.Date, "date", "", "pickup date (YYYY-MM-DD)")
	add.Flags().StringVar(&p.TimeWindow, "time", "", "pickup time window (e.g. 08:00-10:00)")
	add.Flags().StringVar(&p.Address, "address", "", "pickup address")
	add.Flags().StringVar(&p.ServiceType, "service", "residential", "service type: "+strings.Join(domain.ServiceTypes, ", "))
	add.Flags().StringVar(&p.Notes, "notes", "", "optional notes")

	var limit int
	list := &cobra.Command{
		Use:   "list [user-id]",
		Short: "List a user's pickups, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ps, err := a.store.ListPickups(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(ps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pickups.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tTIME\tSERVICE\tSTATUS\tADDRESS")
			for _, p := range ps {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Date, p.TimeWindow, p.ServiceType, p.Status, p.Address)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum rows (0 = all)")

	status := &cobra.Command{
		Use:   "status [pickup-id] [status]",
		Short: "Change a pickup's status (scheduled, in_progress, completed, cancelled)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.store.UpdatePickupStatus(cmd.Context(), args[0], domain.PickupStatus(args[1]))
		},
	}

	cmd.AddCommand(add, list, status)
	return cmd
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage site users and their access tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add [email] [full name...]",
		Short: "Register a user and print their access token",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			u, token, err := a.store.CreateUser(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "User:  %s (%s)\n", u.UserID, u.Email)
			fmt.Fprintf(out, "Token: %s\n", token)
			fmt.Fprintln(out, "The token is shown once. Store it now.")
			return nil
		},
	})
	return cmd
}

func faqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faq",
		Short: "Inspect the FAQ corpus",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check [query...]",
		Short: "Show the best FAQ match and the classified intent for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			m, err := newMatcher(cfg.Chat)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			out := cmd.OutOrStdout()

			res, ok := m.Match(query)
			if !ok {
				fmt.Fprintln(out, "No match: the corpus is empty or the query has no searchable text.")
			} else {
				fmt.Fprintf(out, "Question:  %s\n", res.Entry.Question)
				fmt.Fprintf(out, "Intent:    %s\n", res.Entry.Intent)
				fmt.Fprintf(out, "Score:     %.3f (threshold %.3f, confident=%t)\n",
					res.Score, m.Threshold(), res.Score <= m.Threshold())
			}
			fmt.Fprintf(out, "Classified: %s\n", intent.New(intent.DefaultRules()).Classify(query))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the loaded FAQ entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			m, err := newMatcher(cfg.Chat)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INTENT\tQUESTION")
			for _, e := range m.Entries() {
				fmt.Fprintf(tw, "%s\t%s\n", e.Intent, e.Question)
			}
			return tw.Flush()
		},
	})
	return cmd
}
