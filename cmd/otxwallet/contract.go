package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/otxwallet/pkg/confirm"
	"github.com/uhyunpark/otxwallet/pkg/contract"
	"github.com/uhyunpark/otxwallet/pkg/operator"
	"github.com/uhyunpark/otxwallet/pkg/util"
)

var (
	contractOut    string
	confirmFile    string
	confirmIndex   int
	confirmTo      string
	confirmAccount string
)

var contractCmd = &cobra.Command{Use: "contract", Short: "Smart contract templates"}

var contractCreateCmd = &cobra.Command{
	Use:   "create [template.yaml]",
	Short: "Build an unsigned instrument from a YAML template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		doc, err := contract.LoadTemplate(f, util.RealClock{}.Now())
		if err != nil {
			return err
		}
		if doc.ServerID == "" {
			doc.ServerID = cfg.Wallet.ServerID
		}
		text, err := contract.Encode(doc)
		if err != nil {
			return err
		}
		if contractOut != "" {
			return os.WriteFile(contractOut, []byte(text), 0o644)
		}
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	},
}

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Confirm a smart contract or payment plan as --nym",
	Long: `confirm takes an instrument from the payments inbox (--index), from a file
(--file), or pasted on stdin, and walks through choosing the party, binding
accounts and agents. The confirmed contract is then either forwarded to the
next unconfirmed party (--to, or asked for) or, when every party has
confirmed, activated on the notary.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := open(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		op := operator.NewTerminal(os.Stdin, cmd.ErrOrStderr())
		req := confirm.Request{
			ServerID:       s.w.ServerID(),
			NymID:          s.nym,
			AccountID:      confirmAccount,
			RecipientNymID: confirmTo,
			InboxIndex:     confirmIndex,
		}
		switch {
		case confirmIndex >= 0:
			item, err := s.w.Payment(s.nym, confirmIndex)
			if err != nil {
				return err
			}
			req.Instrument = item.Instrument
		case confirmFile != "":
			raw, err := os.ReadFile(confirmFile)
			if err != nil {
				return err
			}
			req.Instrument = string(raw)
		default:
			if req.Instrument, err = readPasted(op); err != nil {
				return err
			}
		}

		p := confirm.New(confirm.Deps{
			Wallet:    s.w,
			Notary:    s.w,
			Messenger: s.w,
			Plans:     confirm.NewPlanConfirmer(s.w, s.w, s.w, op, s.log),
			Operator:  op,
			Log:       s.log,
		})
		outcome, err := p.ConfirmInstrument(ctx, req)
		fmt.Fprintln(cmd.OutOrStdout(), outcome)
		return err
	},
}

// readPasted reads an armored instrument up to its END line.
func readPasted(op operator.Operator) (string, error) {
	op.Notify("Paste the instrument, ending with its -----END line.")
	var b strings.Builder
	for {
		line, err := op.ReadLine("")
		if err != nil {
			return "", err
		}
		b.WriteString(line + "\n")
		if strings.HasPrefix(line, "-----END ") {
			return b.String(), nil
		}
	}
}

var paymentsRecords bool

var paymentsCmd = &cobra.Command{
	Use:   "payments",
	Short: "Fetch the notary payments inbox of --nym and list the local inbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer s.Close()

		title := "Payments inbox"
		list := s.w.Payments
		if paymentsRecords {
			title, list = "Record box", s.w.RecordBox
		} else if _, err := s.w.FetchPayments(cmd.Context(), s.nym); err != nil {
			return err
		}
		items, err := list(s.nym)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(items))
		for _, it := range items {
			kind, err := contract.InstrumentType(it.Instrument)
			if err != nil {
				kind = "?"
			}
			rows = append(rows, []string{strconv.Itoa(it.Index), string(kind), it.SenderNym, it.Source})
		}
		operator.RenderTable(cmd.OutOrStdout(), title, []string{"index", "type", "sender", "via"}, rows)
		return nil
	},
}

func init() {
	contractCreateCmd.Flags().StringVarP(&contractOut, "out", "o", "", "write the instrument to this file")
	contractCmd.AddCommand(contractCreateCmd)

	f := confirmCmd.Flags()
	f.IntVar(&confirmIndex, "index", -1, "payments inbox index of the instrument")
	f.StringVar(&confirmFile, "file", "", "read the instrument from this file")
	f.StringVar(&confirmTo, "to", "", "contact or nym to forward to")
	f.StringVar(&confirmAccount, "account", "", "account to activate from")

	paymentsCmd.Flags().BoolVar(&paymentsRecords, "records", false, "list the record box instead")
}
