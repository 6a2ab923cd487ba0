package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	ratingCmd = &cobra.Command{
		Use:   "rating",
		Short: "Read and write ratings directly",
	}

	ratingPutCmd = &cobra.Command{
		Use:   "put [ownerId] [resourceId] [value]",
		Short: "Write a rating without taking the edit lock",
		Args:  cobra.ExactArgs(3),
		RunE:  runRatingPut,
	}

	ratingGetCmd = &cobra.Command{
		Use:   "get [ownerId] [resourceId]",
		Short: "Show one rating",
		Args:  cobra.ExactArgs(2),
		RunE:  runRatingGet,
	}

	ratingDeleteCmd = &cobra.Command{
		Use:   "delete [ownerId] [resourceId]",
		Short: "Delete one rating",
		Args:  cobra.ExactArgs(2),
		RunE:  runRatingDelete,
	}

	ratingListCmd = &cobra.Command{
		Use:   "list [ownerId]",
		Short: "List a user's ratings, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runRatingList,
	}
)

func init() {
	ratingCmd.AddCommand(ratingPutCmd, ratingGetCmd, ratingDeleteCmd, ratingListCmd)
}

func runRatingPut(cmd *cobra.Command, args []string) error {
	ownerID, resourceID, err := parseIDs(args[0], args[1])
	if err != nil {
		return err
	}
	value, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[2], err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	r, err := newClient().PutRating(ctx, ownerID, resourceID, value)
	if err != nil {
		return fmt.Errorf("failed to write rating: %w", err)
	}
	return printJSON(cmd, r)
}

func runRatingGet(cmd *cobra.Command, args []string) error {
	ownerID, resourceID, err := parseIDs(args[0], args[1])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	r, err := newClient().GetRating(ctx, ownerID, resourceID)
	if err != nil {
		return fmt.Errorf("failed to read rating: %w", err)
	}
	return printJSON(cmd, r)
}

func runRatingDelete(cmd *cobra.Command, args []string) error {
	ownerID, resourceID, err := parseIDs(args[0], args[1])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	deleted, err := newClient().DeleteRating(ctx, ownerID, resourceID)
	if err != nil {
		return fmt.Errorf("failed to delete rating: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted=%v\n", deleted)
	return nil
}

func runRatingList(cmd *cobra.Command, args []string) error {
	ownerID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ownerId %q: %w", args[0], err)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	ratings, err := newClient().ListRatings(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to list ratings: %w", err)
	}
	return printJSON(cmd, ratings)
}

func parseIDs(owner, resource string) (int64, int64, error) {
	ownerID, err := strconv.ParseInt(owner, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid ownerId %q: %w", owner, err)
	}
	resourceID, err := strconv.ParseInt(resource, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resourceId %q: %w", resource, err)
	}
	return ownerID, resourceID, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
