package main

import (
	"fmt"
	"io"
	"math/rand"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/renalsim/renalsim/internal/domain/patient"
	"github.com/renalsim/renalsim/internal/domain/riskmodel"
	"github.com/renalsim/renalsim/internal/platform/auth"
	"github.com/renalsim/renalsim/internal/platform/db"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Replace all patients with the demonstration set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := patient.NewSeeder(patient.NewSeedRepo(pool), logger).Seed(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d patient(s).\n", n)
			return nil
		},
	}
}

func syncLabsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-labs",
		Short: "Regenerate monthly lab history for every patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			months, _ := cmd.Flags().GetInt("months")
			seed, _ := cmd.Flags().GetInt64("seed")
			if months <= 0 {
				return fmt.Errorf("--months must be positive")
			}
			if seed == 0 {
				seed = time.Now().UnixNano()
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			seeder := patient.NewSeeder(patient.NewSeedRepo(pool), logger)
			n, err := seeder.SyncLabs(ctx, patient.LabMonths(time.Now().UTC(), months), rand.New(rand.NewSource(seed)))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d month(s) of labs for %d patient(s).\n", months, n)
			return nil
		},
	}
	cmd.Flags().Int("months", 6, "Number of monthly panels to generate")
	cmd.Flags().Int64("seed", 0, "Random seed (0 uses the current time)")
	return cmd
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the formula risk computed for every patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			patients, err := patient.NewService(patient.NewRepo(pool)).ListPatients(ctx)
			if err != nil {
				return err
			}
			return printRoster(cmd.OutOrStdout(), patients)
		},
	}
}

func printRoster(w io.Writer, patients []patient.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MRN\tNAME\tAGE\tACCESS\tLEVEL\tMORT 30D\tMORT 90D\tMORT 1YR\tHOSP 30D\tTOP FACTOR\tALERTS")
	for _, p := range patients {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%.1f\t%.1f\t%.1f\t%.1f\t%s\t%d\n",
			p.ID, p.Name, p.Age, p.AccessType, p.RiskLevel,
			p.MortalityRisk.D30, p.MortalityRisk.D90, p.MortalityRisk.Y1,
			p.HospitalizationRisk.D30, p.TopRiskFactor, len(p.Alerts))
	}
	return tw.Flush()
}

func whatifCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whatif",
		Short: "Apply intervention levers to the baseline mediators",
		Example: "  renalsim whatif --access CVC --lever cooling --lever cvc_exit_plan\n" +
			"  renalsim whatif --defaults --lever nutrition_plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			access, _ := cmd.Flags().GetString("access")
			keys, _ := cmd.Flags().GetStringSlice("lever")
			defaults, _ := cmd.Flags().GetBool("defaults")

			levers, err := parseLevers(keys, defaults)
			if err != nil {
				return err
			}
			result := riskmodel.NewModel().Evaluate(levers, riskmodel.IsCatheterAccess(access))
			return printWhatIf(cmd.OutOrStdout(), access, result)
		},
	}
	cmd.Flags().String("access", "AVF", "Vascular access type (AVF, AVG or CVC)")
	cmd.Flags().StringSlice("lever", nil, "Lever key to activate (repeatable)")
	cmd.Flags().Bool("defaults", false, "Start from the default lever set instead of none")
	return cmd
}

func parseLevers(keys []string, defaults bool) (riskmodel.LeverState, error) {
	var state riskmodel.LeverState
	if defaults {
		state = riskmodel.DefaultLevers()
	}
	for _, k := range keys {
		l, err := riskmodel.ParseLever(strings.TrimSpace(k))
		if err != nil {
			return state, err
		}
		state = state.With(l, true)
	}
	return state, nil
}

func printWhatIf(w io.Writer, access string, r riskmodel.WhatIf) error {
	labels := r.Levers.Labels()
	active := "none"
	if len(labels) > 0 {
		active = strings.Join(labels, ", ")
	}
	fmt.Fprintf(w, "Access: %s\nActive levers: %s\n\n", access, active)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MEDIATOR\tSCORE")
	for _, m := range riskmodel.Mediators() {
		fmt.Fprintf(tw, "%s\t%.3f\n", m, r.Mediators.Get(m))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nMortality reduction (points): 30d %.1f  90d %.1f  1yr %.1f\n",
		r.MortalityDelta.D30, r.MortalityDelta.D90, r.MortalityDelta.Y1)
	fmt.Fprintf(w, "Hospitalization reduction (points): 30d %.1f  90d %.1f\n",
		r.HospitalizationDelta.D30, r.HospitalizationDelta.D90)
	return nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with AUTH_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.AuthJWTSecret == "" {
				return fmt.Errorf("AUTH_JWT_SECRET is not set")
			}
			token, err := auth.IssueToken([]byte(cfg.AuthJWTSecret), cfg.AuthIssuer, subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "dashboard", "Token subject")
	cmd.Flags().StringSlice("role", []string{auth.RoleClinician}, "Role to grant (repeatable)")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
