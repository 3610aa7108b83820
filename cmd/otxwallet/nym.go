package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/otxwallet/pkg/operator"
	"github.com/uhyunpark/otxwallet/pkg/wallet"
)

var (
	importKey      string
	accountName    string
	accountInitial int64
	contactPeer    string
)

var nymCmd = &cobra.Command{Use: "nym", Short: "Manage local nyms"}

var nymNewCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Create a nym, or import one with --key, and register it on the notary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		create := s.w.CreateNym
		if importKey != "" {
			create = func(ctx context.Context, name string) (wallet.NymRecord, error) {
				return s.w.ImportNym(ctx, name, importKey)
			}
		}
		rec, err := create(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rec.NymID)
		return nil
	},
}

var nymListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local nyms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		nyms, err := s.w.Nyms()
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(nyms))
		for _, n := range nyms {
			rows = append(rows, []string{n.Name, n.NymID})
		}
		operator.RenderTable(cmd.OutOrStdout(), "Nyms", []string{"name", "nym"}, rows)
		return nil
	},
}

var accountCmd = &cobra.Command{Use: "account", Short: "Manage asset accounts"}

var accountNewCmd = &cobra.Command{
	Use:   "new [instrument-definition-id]",
	Short: "Register an asset account for --nym",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer s.Close()

		name := accountName
		if name == "" {
			name = args[0]
		}
		a, err := s.w.RegisterAccount(cmd.Context(), s.nym, name, args[0], accountInitial)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), a.ID)
		return nil
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "Refresh and list the accounts of --nym",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer s.Close()

		accts, err := s.w.RefreshAccounts(cmd.Context(), s.nym)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(accts))
		for _, a := range accts {
			rows = append(rows, []string{a.ID, a.Name, a.InstrumentDefinitionID, strconv.FormatInt(a.Balance, 10)})
		}
		operator.RenderTable(cmd.OutOrStdout(), "Accounts", []string{"account", "name", "instrument", "balance"}, rows)
		return nil
	},
}

var contactCmd = &cobra.Command{Use: "contact", Short: "Manage contacts"}

var contactAddCmd = &cobra.Command{
	Use:   "add [name] [nym-id]",
	Short: "Add a contact, optionally with a libp2p address",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()
		return s.w.AddContact(args[0], args[1], contactPeer)
	},
}

var contactListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		contacts, err := s.w.Contacts()
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(contacts))
		for _, c := range contacts {
			rows = append(rows, []string{c.Name, c.NymID, c.PeerAddr})
		}
		operator.RenderTable(cmd.OutOrStdout(), "Contacts", []string{"name", "nym", "peer"}, rows)
		return nil
	},
}

func init() {
	nymNewCmd.Flags().StringVar(&importKey, "key", "", "import this hex private key instead of generating one")
	nymCmd.AddCommand(nymNewCmd, nymListCmd)

	accountNewCmd.Flags().StringVar(&accountName, "name", "", "account label")
	accountNewCmd.Flags().Int64Var(&accountInitial, "initial", 0, "opening balance (dev notaries only)")
	accountCmd.AddCommand(accountNewCmd, accountListCmd)

	contactAddCmd.Flags().StringVar(&contactPeer, "peer", "", "libp2p /p2p multiaddr of the contact's wallet")
	contactCmd.AddCommand(contactAddCmd, contactListCmd)
}
