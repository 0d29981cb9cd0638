package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"fableforge/internal/api"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}

	projectCmd.AddCommand(newProjectCreateCommand(ctx))
	projectCmd.AddCommand(newProjectListCommand(ctx))
	projectCmd.AddCommand(newProjectShowCommand(ctx))
	projectCmd.AddCommand(newProjectDeployCommand(ctx))
	projectCmd.AddCommand(newProjectArchiveCommand(ctx))

	return projectCmd
}

func newProjectCreateCommand(ctx *commandContext) *cobra.Command {
	var accountID string
	var brief string

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(accountID) == "" {
				return fmt.Errorf("--account is required")
			}
			body := map[string]string{
				"account_id": accountID,
				"title":      args[0],
				"brief":      brief,
			}
			var project api.ProjectResponse
			if err := ctx.client().post(cmd.Context(), "/projects", body, &project); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s)\n", project.ID, project.Title)
			return nil
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "Account that owns the project")
	cmd.Flags().StringVarP(&brief, "brief", "b", "", "Creative brief text")
	return cmd
}

func newProjectListCommand(ctx *commandContext) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(accountID) == "" {
				return fmt.Errorf("--account is required")
			}
			var projects []api.ProjectResponse
			path := "/projects?account_id=" + url.QueryEscape(accountID)
			if err := ctx.client().get(cmd.Context(), path, &projects); err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects")
				return nil
			}
			rows := make([][]string, 0, len(projects))
			for _, p := range projects {
				rows = append(rows, []string{
					p.ID,
					truncate(p.Title, 32),
					p.Status,
					p.CurrentStage,
					formatTimestamp(p.UpdatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "Status", "Stage", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "Account to list projects for")
	return cmd
}

func newProjectShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show one project with its stage states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var project api.ProjectResponse
			if err := ctx.client().get(cmd.Context(), "/projects/"+url.PathEscape(args[0]), &project); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Project:  %s\n", project.ID)
			fmt.Fprintf(out, "Title:    %s\n", project.Title)
			fmt.Fprintf(out, "Account:  %s\n", project.AccountID)
			fmt.Fprintf(out, "Status:   %s\n", project.Status)
			fmt.Fprintf(out, "Revision: %d\n", project.Revision)
			if project.Brief != "" {
				fmt.Fprintf(out, "Brief:    %s\n", truncate(project.Brief, 96))
			}
			rows := make([][]string, 0, len(project.Stages))
			for _, s := range project.Stages {
				marker := ""
				if s.Stage == project.CurrentStage {
					marker = "*"
				}
				rows = append(rows, []string{marker, s.Stage, s.Status})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"", "Stage", "Status"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newProjectDeployCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <project-id>",
		Short: "Deploy a completed project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var project api.ProjectResponse
			if err := ctx.client().post(cmd.Context(), "/projects/"+url.PathEscape(args[0])+"/deploy", nil, &project); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Project %s deployed (revision %s)\n", project.ID, strconv.FormatInt(project.Revision, 10))
			return nil
		},
	}
}

func newProjectArchiveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <project-id>",
		Short: "Archive a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.client().delete(cmd.Context(), "/projects/"+url.PathEscape(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Project %s archived\n", args[0])
			return nil
		},
	}
}
