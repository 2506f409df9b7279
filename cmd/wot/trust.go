package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hyphanet/wot/internal/render"
	"github.com/hyphanet/wot/internal/rpc"
)

func newTrustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Set, remove, and inspect Trust edges and Score trees",
	}
	cmd.AddCommand(newTrustSetCmd())
	cmd.AddCommand(newTrustRemoveCmd())
	cmd.AddCommand(newTrustShowCmd())
	cmd.AddCommand(newTrustTreeCmd())
	return cmd
}

func newTrustShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <truster> <trustee>",
		Short: "Show one Trust edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := store.GetTrust(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%s -> %s: value=%d comment=%q\n", t.Truster, t.Trustee, t.Value, t.Comment)
			return nil
		},
	}
}

func newTrustSetCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "set <truster> <trustee> <value>",
		Short: "Create or update a Trust edge",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value int
			if _, err := fmt.Sscanf(args[2], "%d", &value); err != nil {
				return fmt.Errorf("value must be an integer in [-100,100]: %w", err)
			}
			ctx := cmd.Context()
			client, err := dialClient()
			if err != nil {
				return err
			}
			if client != nil {
				defer client.Close()
				resp, err := client.Call(ctx, rpc.OpSetTrust, rpc.SetTrustParams{
					Truster: args[0], Trustee: args[1], Value: value, Comment: comment,
				})
				if err != nil {
					return err
				}
				if resp.Error != nil {
					return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
				}
				return nil
			}
			return eng.SetTrust(ctx, args[0], args[1], value, comment)
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "free-text annotation for the edge")
	return cmd
}

func newTrustRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <truster> <trustee>",
		Short: "Delete a Trust edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := dialClient()
			if err != nil {
				return err
			}
			if client != nil {
				defer client.Close()
				resp, err := client.Call(ctx, rpc.OpRemoveTrust, rpc.RemoveTrustParams{Truster: args[0], Trustee: args[1]})
				if err != nil {
					return err
				}
				if resp.Error != nil {
					return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
				}
				return nil
			}
			return eng.RemoveTrust(ctx, args[0], args[1])
		},
	}
}

func newTrustTreeCmd() *cobra.Command {
	var maxDepth int
	cmd := &cobra.Command{
		Use:   "tree <viewer>",
		Short: "Render viewer's Score tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			viewer := args[0]

			scores, err := store.ListScoresForViewer(ctx, viewer)
			if err != nil {
				return err
			}

			inTree := make(map[string]bool, len(scores)+1)
			inTree[viewer] = true
			for _, s := range scores {
				inTree[s.Target] = true
			}

			nodes := make([]*render.ScoreNode, 0, len(scores))
			for _, s := range scores {
				id, err := store.GetIdentity(ctx, s.Target)
				nickname := ""
				if err == nil && id.Nickname != nil {
					nickname = *id.Nickname
				}
				parent, _ := shortestTruster(ctx, viewer, s.Target, inTree)
				nodes = append(nodes, &render.ScoreNode{
					ID: s.Target, Nickname: nickname, Rank: s.Rank, Capacity: s.Capacity, Value: s.Value, ParentID: parent,
				})
			}

			positive := lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
			negative := lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
			neutral := lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
			warn := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

			r := render.NewTreeRenderer(maxDepth)
			r.StyleFunc = func(value int, s string) string {
				switch {
				case value > 0:
					return positive.Render(s)
				case value < 0:
					return negative.Render(s)
				default:
					return neutral.Render(s)
				}
			}
			r.WarnFunc = func(s string) string { return warn.Render(s) }
			r.RenderTree(viewer, nodes, func(line string) { fmt.Println(line) })
			return nil
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 6, "maximum tree depth to render")
	return cmd
}

// shortestTruster finds a direct truster of target that is itself in
// viewer's tree (or is viewer itself), giving the tree renderer a parent
// edge to hang target under. Any such truster is a valid parent for
// display purposes: rank is the length of the shortest such chain, but
// the renderer only needs one concrete edge per node, not the minimal one.
func shortestTruster(ctx context.Context, viewer, target string, inTree map[string]bool) (string, bool) {
	trusts, err := store.ListTrustsTo(ctx, target)
	if err != nil {
		return "", false
	}
	for _, t := range trusts {
		if t.Truster == viewer {
			return viewer, true
		}
	}
	for _, t := range trusts {
		if inTree[t.Truster] {
			return t.Truster, true
		}
	}
	return "", false
}
