package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"mucsmake/internal/config"
	"mucsmake/internal/pipeline"
	"mucsmake/internal/placement"
	"mucsmake/internal/storage"
)

func newInitConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a default config file",
		Long:  "Writes the default configuration to path (default: the --config value). The format follows the extension. An existing file is left alone.",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return &pipeline.ConfigError{Op: "init-config", Err: err}
			}
			log.Info().Str("path", path).Msg("default config written")
			fmt.Fprintf(cmd.OutOrStdout(), "Created default %s; set general.mucsv2_instance_code before submitting.\n", path)
			return nil
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <assignment>",
		Short: "List your recorded submissions for an assignment",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer env.close()

			subs, err := env.store.ListSubmissions(cmd.Context(), env.identity, args[0])
			if err != nil {
				return &pipeline.ConfigError{Op: "list submissions", Err: err}
			}
			out := cmd.OutOrStdout()
			if len(subs) == 0 {
				fmt.Fprintf(out, "No submissions by %s for %s.\n", env.identity, args[0])
				return nil
			}

			header := lipgloss.NewStyle().Bold(true)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, header.Render("SUBMITTED")+"\t"+header.Render("VALID")+"\t"+header.Render("LATE")+"\t"+header.Render("ARTIFACT"))
			for _, s := range subs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					s.SubmittedAt.Local().Format(time.DateTime), yesNo(s.IsValid), yesNo(s.IsLate), s.ArtifactPath)
			}
			return tw.Flush()
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func newAssignmentCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assignment",
		Short: "Manage assignments (operators)",
	}

	var opens, due string
	var header bool
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create or update an assignment and its submission window",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := placement.ValidateComponent(args[0]); err != nil {
				return &usageError{Err: err}
			}
			opensAt, err := time.Parse(time.RFC3339, opens)
			if err != nil {
				return &usageError{Err: fmt.Errorf("--opens: %w", err)}
			}
			dueAt, err := time.Parse(time.RFC3339, due)
			if err != nil {
				return &usageError{Err: fmt.Errorf("--due: %w", err)}
			}
			if !opensAt.Before(dueAt) {
				return &usageError{Err: errors.New("--opens must be before --due")}
			}

			admin, env, err := openAdmin(cmd, opts)
			if err != nil {
				return err
			}
			defer env.close()
			a := storage.Assignment{Name: args[0], OpensAt: opensAt, DueAt: dueAt, RequiresHeader: header}
			if err := admin.PutAssignment(cmd.Context(), a); err != nil {
				return &pipeline.ConfigError{Op: "put assignment", Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Assignment %s open %s to %s\n", a.Name, opensAt.Format(time.RFC3339), dueAt.Format(time.RFC3339))
			return nil
		},
	}
	add.Flags().StringVar(&opens, "opens", "", "Window start, RFC 3339")
	add.Flags().StringVar(&due, "due", "", "Window end, RFC 3339")
	add.Flags().BoolVar(&header, "header", true, "Require #include \"<name>.h\"")
	cmd.AddCommand(add)
	return cmd
}

func newRosterCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Manage grading group membership (operators)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <identity> <group>",
		Short: "Place a student in a grading group",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args {
				if err := placement.ValidateComponent(name); err != nil {
					return &usageError{Err: err}
				}
			}
			admin, env, err := openAdmin(cmd, opts)
			if err != nil {
				return err
			}
			defer env.close()
			if err := admin.PutMember(cmd.Context(), args[0], args[1]); err != nil {
				return &pipeline.ConfigError{Op: "put member", Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is in group %s\n", args[0], args[1])
			return nil
		},
	})
	return cmd
}

func openAdmin(cmd *cobra.Command, opts *rootOptions) (storage.Admin, *env, error) {
	env, err := openEnv(cmd.Context(), opts)
	if err != nil {
		return nil, nil, err
	}
	admin, ok := env.store.(storage.Admin)
	if !ok {
		env.close()
		return nil, nil, &pipeline.ConfigError{Op: "admin", Err: fmt.Errorf("%T does not support administration", env.store)}
	}
	return admin, env, nil
}

// usageArgs marks positional argument errors as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &usageError{Err: err}
		}
		return nil
	}
}

