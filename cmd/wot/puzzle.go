package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/hyphanet/wot/internal/rpc"
)

func newPuzzleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "puzzle",
		Short: "Fetch and solve introduction puzzles",
	}
	cmd.AddCommand(newPuzzleListCmd())
	cmd.AddCommand(newPuzzleSolveCmd())
	return cmd
}

func newPuzzleListCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "list <viewer>",
		Short: "List introduction puzzles fetched for viewer's pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := dialClient()
			if err != nil {
				return err
			}
			if client == nil {
				return fmt.Errorf("puzzle list requires the daemon: run `wot daemon run` or pass --socket")
			}
			defer client.Close()

			resp, err := client.Call(ctx, rpc.OpGetPuzzles, rpc.GetPuzzlesParams{Viewer: args[0], Count: count})
			if err != nil {
				return err
			}
			if resp.Error != nil {
				return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
			}
			fmt.Printf("%v\n", resp.Result)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "maximum puzzles to return (0 = no limit)")
	return cmd
}

func newPuzzleSolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "solve <viewer> <puzzle-id>",
		Short: "Submit a solution for one fetched puzzle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := dialClient()
			if err != nil {
				return err
			}
			if client == nil {
				return fmt.Errorf("puzzle solve requires the daemon: run `wot daemon run` or pass --socket")
			}
			defer client.Close()

			var solution string
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Enter the solution for " + args[1]).
						Value(&solution),
				),
			)
			if err := form.Run(); err != nil {
				return fmt.Errorf("read solution: %w", err)
			}

			resp, err := client.Call(ctx, rpc.OpSolvePuzzle, rpc.SolvePuzzleParams{
				Viewer:   args[0],
				PuzzleID: args[1],
				Solution: []byte(solution),
			})
			if err != nil {
				return err
			}
			if resp.Error != nil {
				return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
			}
			fmt.Println("solved")
			return nil
		},
	}
}
