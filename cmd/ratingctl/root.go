package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kneutral-org/rating-service/internal/client"
)

var (
	serverURL string
	userID    int64
	userName  string
	timeout   time.Duration

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:           "ratingctl",
		Short:         "Command line client for the rating service",
		SilenceUsage: true,
	}
)

func init() {
	defaultURL := os.Getenv("RATING_SERVER_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "Base URL of the rating service")
	rootCmd.PersistentFlags().Int64Var(&userID, "user-id", 0, "User id sent on edit requests")
	rootCmd.PersistentFlags().StringVar(&userName, "user-name", "", "Display name used as the lock holder on edit requests")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "Request timeout")

	rootCmd.AddCommand(lockCmd, ratingCmd, editCmd)
}

func newClient() *client.Client {
	c := client.New(serverURL)
	c.HTTPClient.Timeout = timeout
	c.UserID = userID
	c.UserName = userName
	return c
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}
