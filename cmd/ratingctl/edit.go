package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	editCmd = &cobra.Command{
		Use:               "edit",
		Short:             "Change ratings under the movie's edit lock",
		PersistentPreRunE: requireUser,
	}

	editSubmitCmd = &cobra.Command{
		Use:   "submit [movie] [value]",
		Short: "Rate a movie, by id or title",
		Args:  cobra.ExactArgs(2),
		RunE:  runEditSubmit,
	}

	editRemoveCmd = &cobra.Command{
		Use:   "remove [movie]",
		Short: "Delete your rating of a movie",
		Args:  cobra.ExactArgs(1),
		RunE:  runEditRemove,
	}

	editBeginCmd = &cobra.Command{
		Use:   "begin [movie]",
		Short: "Take the movie's edit lock and keep it",
		Args:  cobra.ExactArgs(1),
		RunE:  runEditBegin,
	}

	editEndCmd = &cobra.Command{
		Use:   "end [movie]",
		Short: "Release your edit lock on a movie",
		Args:  cobra.ExactArgs(1),
		RunE:  runEditEnd,
	}
)

func init() {
	editCmd.AddCommand(editSubmitCmd, editRemoveCmd, editBeginCmd, editEndCmd)
}

func requireUser(_ *cobra.Command, _ []string) error {
	if userID <= 0 {
		return errors.New("--user-id is required for edit commands")
	}
	return nil
}

func runEditSubmit(cmd *cobra.Command, args []string) error {
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	r, err := newClient().SubmitEdit(ctx, args[0], value)
	if err != nil {
		return fmt.Errorf("failed to submit rating: %w", err)
	}
	return printJSON(cmd, r)
}

func runEditRemove(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	deleted, err := newClient().RemoveEdit(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to remove rating: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted=%v\n", deleted)
	return nil
}

func runEditBegin(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	grant, err := newClient().BeginEdit(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to begin edit: %w", err)
	}
	return printJSON(cmd, grant)
}

func runEditEnd(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	released, err := newClient().EndEdit(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to end edit: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "released=%v\n", released)
	return nil
}
