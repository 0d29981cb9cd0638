package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"fableforge/internal/api"
)

func newStageCommand(ctx *commandContext) *cobra.Command {
	stageCmd := &cobra.Command{
		Use:   "stage",
		Short: "Drive a project's creative stages",
	}

	stageCmd.AddCommand(newStageStartCommand(ctx))
	stageCmd.AddCommand(newStageEditCommand(ctx))
	stageCmd.AddCommand(newStageApproveCommand(ctx))
	stageCmd.AddCommand(newStageRegenerateCommand(ctx))
	stageCmd.AddCommand(newStageArtifactCommand(ctx))
	stageCmd.AddCommand(newStageHistoryCommand(ctx))

	return stageCmd
}

func stagePath(projectID, stage, action string) string {
	path := "/projects/" + url.PathEscape(projectID) + "/stages/" + url.PathEscape(stage)
	if action != "" {
		path += "/" + action
	}
	return path
}

func newStageStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start <project-id> <stage>",
		Short: "Queue generation for a stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job api.JobResponse
			if err := ctx.client().post(cmd.Context(), stagePath(args[0], args[1], "start"), nil, &job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued generation job %s for stage %s\n", job.ID, job.Stage)
			return nil
		},
	}
}

func newStageEditCommand(ctx *commandContext) *cobra.Command {
	var payloadFile string

	cmd := &cobra.Command{
		Use:   "edit <project-id> <stage>",
		Short: "Submit a manual edit for a stage",
		Long:  "Reads the replacement payload as JSON from --file, or from stdin when --file is omitted.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, payloadFile)
			if err != nil {
				return err
			}
			body := map[string]json.RawMessage{"payload": payload}
			var project api.ProjectResponse
			if err := ctx.client().post(cmd.Context(), stagePath(args[0], args[1], "edit"), body, &project); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Edit accepted; project at revision %s\n", strconv.FormatInt(project.Revision, 10))
			return nil
		},
	}

	cmd.Flags().StringVarP(&payloadFile, "file", "f", "", "File holding the replacement payload JSON")
	return cmd
}

func newStageApproveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <project-id> <stage>",
		Short: "Approve a stage and unlock the next one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var project api.ProjectResponse
			if err := ctx.client().post(cmd.Context(), stagePath(args[0], args[1], "approve"), nil, &project); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stage %s approved; current stage is %s\n", args[1], project.CurrentStage)
			return nil
		},
	}
}

func newStageRegenerateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <project-id> <stage>",
		Short: "Re-run generation for a stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job api.JobResponse
			if err := ctx.client().post(cmd.Context(), stagePath(args[0], args[1], "regenerate"), nil, &job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued regeneration job %s for stage %s\n", job.ID, job.Stage)
			return nil
		},
	}
}

func newStageArtifactCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "artifact <project-id> <stage>",
		Short: "Print the current artifact for a stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var artifact api.ArtifactResponse
			if err := ctx.client().get(cmd.Context(), stagePath(args[0], args[1], "artifact"), &artifact); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Stage:    %s\n", artifact.Stage)
			fmt.Fprintf(out, "Version:  %d (%s, by %s)\n", artifact.Version, artifact.Kind, artifact.CreatedBy)
			fmt.Fprintf(out, "Created:  %s\n", formatTimestamp(artifact.CreatedAt))
			pretty, err := json.MarshalIndent(json.RawMessage(artifact.Payload), "", "  ")
			if err != nil {
				return fmt.Errorf("format payload: %w", err)
			}
			fmt.Fprintln(out, string(pretty))
			return nil
		},
	}
}

func newStageHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history <project-id> <stage>",
		Short: "List all artifact versions for a stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var artifacts []api.ArtifactResponse
			if err := ctx.client().get(cmd.Context(), stagePath(args[0], args[1], "history"), &artifacts); err != nil {
				return err
			}
			if len(artifacts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No artifact versions")
				return nil
			}
			rows := make([][]string, 0, len(artifacts))
			for _, a := range artifacts {
				rows = append(rows, []string{
					strconv.Itoa(a.Version),
					a.Kind,
					a.CreatedBy,
					formatTimestamp(a.CreatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Version", "Kind", "By", "Created"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func readPayload(cmd *cobra.Command, path string) (json.RawMessage, error) {
	var raw []byte
	var err error
	if strings.TrimSpace(path) != "" {
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
	} else {
		raw, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read payload from stdin: %w", err)
		}
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
