package main

import (
	"fmt"
	"strings"

	"github.com/alwitt/cardvault/encryption"
	"github.com/alwitt/cardvault/models"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Choose a passphrase and a validation sentence",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		wallet, err := openWallet(ctx)
		if err != nil {
			return err
		}
		defer wallet.Close(ctx)

		sentence, err := promptLine("Validation sentence: ")
		if err != nil {
			return err
		}
		passphrase, err := promptSecret("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := promptSecret("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}
		if err := wallet.Enroll(ctx, userID, sentence, passphrase); err != nil {
			return err
		}
		fmt.Println("Enrolled")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the enrollment and lockout state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		wallet, err := openWallet(ctx)
		if err != nil {
			return err
		}
		defer wallet.Close(ctx)

		state, err := wallet.State(ctx, userID)
		if err != nil {
			return err
		}
		status, err := wallet.LockoutStatus(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Printf("State: %s\nFailed attempts: %d\n", state, status.FailedAttempts)
		if status.Locked {
			fmt.Printf("Locked for %d more minutes\n", status.MinutesLeft)
		}
		return nil
	},
}

var (
	addCardName    string
	addBankName    string
	addNetworkName string
	addHolder      string
	addExpiry      string
	addTheme       string
	addAmex        bool
	addBillGenDay  int
	addBillDueDay  int
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a card",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		wallet, err := unlockWallet(ctx)
		if err != nil {
			return err
		}
		defer wallet.Close(ctx)

		number, err := promptSecret("Card number: ")
		if err != nil {
			return err
		}
		cvv, err := promptSecret("CVV: ")
		if err != nil {
			return err
		}
		details := models.CardDetails{
			CardNumber:  number,
			CardHolder:  addHolder,
			CVV:         cvv,
			Expiry:      addExpiry,
			CardName:    addCardName,
			BankName:    addBankName,
			NetworkName: addNetworkName,
			Theme:       addTheme,
			IsAmex:      addAmex,
		}
		if addBillGenDay > 0 {
			details.BillGenerationDay = &addBillGenDay
		}
		if addBillDueDay > 0 {
			details.BillDueDay = &addBillDueDay
		}
		cardID, err := wallet.AddCard(ctx, userID, details)
		if err != nil {
			return err
		}
		fmt.Printf("Added card %s\n", cardID)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		wallet, err := unlockWallet(ctx)
		if err != nil {
			return err
		}
		defer wallet.Close(ctx)

		cards, err := wallet.ListCards(ctx, userID)
		if err != nil {
			return err
		}
		for _, card := range cards {
			length := 16
			if card.IsAmex {
				length = 15
			}
			fmt.Printf(
				"%s  %-16s %-16s %-10s %s  %s\n",
				card.ID,
				card.CardName,
				card.BankName,
				card.NetworkName,
				encryption.MaskCardNumber(card.Last4, length),
				card.CardHolder,
			)
		}
		return nil
	},
}

var revealDetails bool

var revealCmd = &cobra.Command{
	Use:   "reveal CARD_ID",
	Short: "Reveal the full number, or the CVV and expiry, of a card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		wallet, err := unlockWallet(ctx)
		if err != nil {
			return err
		}
		defer wallet.Close(ctx)

		if revealDetails {
			details, err := wallet.RevealDetails(ctx, userID, args[0])
			if err != nil {
				return err
			}
			return details.CVV.Use(func(cvv []byte) error {
				_, err := fmt.Printf("CVV: %s\nExpiry: %s\n", cvv, details.Expiry)
				return err
			})
		}

		number, err := wallet.RevealNumber(ctx, userID, args[0])
		if err != nil {
			return err
		}
		return number.Number.Use(func(digits []byte) error {
			_, err := fmt.Printf("Number: %s\n", encryption.FormatCardNumber(string(digits)))
			return err
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete CARD_ID",
	Short: "Delete a card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		wallet, err := unlockWallet(ctx)
		if err != nil {
			return err
		}
		defer wallet.Close(ctx)

		confirm, err := promptSecret("Re-enter passphrase to delete: ")
		if err != nil {
			return err
		}
		if err := wallet.DeleteCard(ctx, userID, args[0], confirm); err != nil {
			return err
		}
		fmt.Printf("Deleted card %s\n", args[0])
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		wallet, err := openWallet(ctx)
		if err != nil {
			return err
		}
		defer wallet.Close(ctx)

		events, err := wallet.AuditTrail(ctx, userID)
		if err != nil {
			return err
		}
		for _, event := range events {
			metadata := strings.TrimSpace(string(event.Metadata))
			fmt.Printf("%s  %-17s %s\n", event.CreatedAt.Format("2006-01-02 15:04:05"), event.EventType, metadata)
		}
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addCardName, "name", "", "card label")
	addCmd.Flags().StringVar(&addBankName, "bank", "", "issuing bank")
	addCmd.Flags().StringVar(&addNetworkName, "network", "", "card network")
	addCmd.Flags().StringVar(&addHolder, "holder", "", "card holder name")
	addCmd.Flags().StringVar(&addExpiry, "expiry", "", "expiry, MM/YY")
	addCmd.Flags().StringVar(&addTheme, "theme", "", "display theme color")
	addCmd.Flags().BoolVar(&addAmex, "amex", false, "use the Amex layout")
	addCmd.Flags().IntVar(&addBillGenDay, "bill-generation-day", 0, "statement day of month")
	addCmd.Flags().IntVar(&addBillDueDay, "bill-due-day", 0, "payment due day of month")
	_ = addCmd.MarkFlagRequired("holder")
	_ = addCmd.MarkFlagRequired("expiry")

	revealCmd.Flags().BoolVar(&revealDetails, "details", false, "reveal the CVV and expiry instead")
}
