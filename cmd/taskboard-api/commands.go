package main

import (
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/collabclient"
	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/config"
	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/presence"
)

var errMissingFlag = errors.New("required flag missing")

func newIssueTokenCommand() *cobra.Command {
	var (
		userID      string
		displayName string
		color       string
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint an access token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("%w: --user-id", errMissingFlag)
			}
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := newTokenIssuer(appConfig)
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueToken(cmd.Context(), auth.Claims{
				UserID:          userID,
				UserDisplayName: displayName,
				UserColor:       color,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "User id carried by the token")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name carried by the token")
	cmd.Flags().StringVar(&color, "color", "", "Cursor color carried by the token")
	return cmd
}

func newWatchCommand() *cobra.Command {
	var (
		projectID string
		userID    string
		token     string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Join a project and log presence and comment events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" || userID == "" {
				return fmt.Errorf("%w: --project and --user-id", errMissingFlag)
			}
			appConfig, err := config.LoadClient(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(appConfig.LogLevel, true)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			header := http.Header{}
			if token != "" {
				header.Set("Authorization", "Bearer "+token)
			}

			client, err := collabclient.New(collabclient.Config{
				URL:            appConfig.CollabURL,
				Header:         header,
				UserName:       userID,
				CursorInterval: appConfig.CursorInterval,
				Logger:         logger,
				OnPresence: func(states []presence.State) {
					ids := make([]string, 0, len(states))
					for _, state := range states {
						ids = append(ids, state.UserID)
					}
					logger.Info("presence", zap.String("project_id", projectID), zap.Strings("users", ids))
				},
				OnCommentCreated: func(comment comments.SpatialComment) {
					logger.Info("comment created", zap.String("comment_id", comment.ID), zap.String("text", comment.Text))
				},
				OnCommentUpdated: func(comment comments.SpatialComment) {
					logger.Info("comment updated", zap.String("comment_id", comment.ID), zap.Bool("resolved", comment.Resolved))
				},
				OnConnectionChange: func(connected bool) {
					logger.Info("connection changed", zap.Bool("connected", connected))
				},
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := client.Bind(ctx, projectID, userID); err != nil {
				return err
			}
			<-ctx.Done()
			return client.Close()
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Project to join")
	cmd.Flags().StringVar(&userID, "user-id", "", "User id to join as")
	cmd.Flags().StringVar(&token, "token", "", "Access token (see issue-token)")
	cmd.Flags().String("url", "", "Collaboration websocket URL (overrides collab.url)")
	if err := viper.BindPFlag("collab.url", cmd.Flags().Lookup("url")); err != nil {
		panic(err)
	}
	return cmd
}
