package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"fableforge/internal/livesync"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "watch [project-id]",
		Short: "Stream live workflow events",
		Long:  "Streams stage and deploy events for a project, or for every project on an account with --account.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			switch {
			case len(args) == 1:
				path = "/v1/projects/" + url.PathEscape(args[0]) + "/events"
			case strings.TrimSpace(accountID) != "":
				path = "/v1/accounts/" + url.PathEscape(accountID) + "/events"
			default:
				return fmt.Errorf("pass a project id or --account")
			}

			endpoint := url.URL{Scheme: "ws", Host: ctx.apiAddr(), Path: path}
			if token := ctx.apiToken(); token != "" {
				endpoint.RawQuery = url.Values{"token": {token}}.Encode()
			}

			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), endpoint.String(), nil)
			if err != nil {
				return fmt.Errorf("connect to event stream: %w", err)
			}
			defer conn.Close()

			go func() {
				<-cmd.Context().Done()
				conn.Close()
			}()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Watching for events (ctrl-c to stop)")
			for {
				var event livesync.Event
				if err := conn.ReadJSON(&event); err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					var closeErr *websocket.CloseError
					if errors.As(err, &closeErr) || errors.Is(err, net.ErrClosed) {
						return nil
					}
					return fmt.Errorf("read event: %w", err)
				}
				line := fmt.Sprintf("%s  %s %s", formatTimestamp(event.At), event.ScopeID, event.Kind)
				if event.Stage != "" {
					line += " (" + event.Stage + ")"
				}
				fmt.Fprintln(out, line)
			}
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "Watch every project on this account")
	return cmd
}
