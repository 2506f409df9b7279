package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"charm.land/glamour/v2"

	"github.com/hyphanet/wot/internal/graph"
	"github.com/hyphanet/wot/internal/rpc"
)

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Inspect and manage identities",
	}
	cmd.AddCommand(newIdentityShowCmd())
	cmd.AddCommand(newIdentityCreateCmd())
	cmd.AddCommand(newIdentityDeleteCmd())
	return cmd
}

func newIdentityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <identity-id>",
		Short: "Show one identity's stored fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := store.GetIdentity(ctx, args[0])
			if err != nil {
				return err
			}
			return printIdentity(id)
		},
	}
}

func printIdentity(id *graph.Identity) error {
	nickname := "(none)"
	if id.Nickname != nil {
		nickname = *id.Nickname
	}
	md := fmt.Sprintf("# %s\n\n**nickname**: %s\n\n**fetch state**: %s\n\n**edition**: %d\n\n**contexts**: %v\n\n**properties**:\n",
		id.ID, nickname, id.FetchState, id.CurrentEdition, id.Contexts)
	for k, v := range id.Properties {
		md += fmt.Sprintf("- `%s`: %s\n", k, v)
	}

	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
	if err != nil {
		fmt.Println(md)
		return nil
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Println(md)
		return nil
	}
	fmt.Print(out)
	return nil
}

func newIdentityCreateCmd() *cobra.Command {
	var requestAddr, insertAddr, nickname string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new OwnIdentity from a keypair's addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := dialClient()
			if err != nil {
				return err
			}
			params := rpc.CreateOwnIdentityParams{RequestAddress: requestAddr, InsertAddress: insertAddr}
			if nickname != "" {
				params.Nickname = &nickname
			}
			if client != nil {
				resp, err := client.Call(ctx, rpc.OpCreateOwnIdentity, params)
				if err != nil {
					return err
				}
				if resp.Error != nil {
					return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
				}
				fmt.Println("created")
				return nil
			}
			own := &graph.OwnIdentity{
				Identity:      graph.Identity{ID: graph.IdentityIDFromAddress(requestAddr), RequestAddress: requestAddr, Nickname: params.Nickname},
				InsertAddress: insertAddr,
			}
			if err := eng.CreateOwnIdentity(ctx, own); err != nil {
				return err
			}
			fmt.Println(own.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&requestAddr, "request-address", "", "request address")
	cmd.Flags().StringVar(&insertAddr, "insert-address", "", "insert address")
	cmd.Flags().StringVar(&nickname, "nickname", "", "nickname")
	return cmd
}

func newIdentityDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <identity-id>",
		Short: "Delete an identity and every Trust/Score referencing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return eng.DeleteIdentity(cmd.Context(), args[0])
		},
	}
}
