package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alwitt/cardvault"
	"github.com/alwitt/cardvault/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm/logger"
)

var (
	configFile string
	envFile    string
	userID     string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:           "cardvault",
	Short:         "cardvault is a passphrase protected card wallet",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.LoadConfig(configFile, envFile); err != nil {
			return err
		}
		if err := cfg.ApplyLogLevel(); err != nil {
			return err
		}
		if userID == "" {
			return fmt.Errorf("no user given, set --user or $USER")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", ".env file with CARDVAULT_* overrides")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("USER"), "wallet user")

	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(revealCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(auditCmd)
}

// openWallet open the wallet described by the loaded config
func openWallet(ctx context.Context) (*cardvault.Wallet, error) {
	return cardvault.NewWallet(ctx, cfg, logger.Error)
}

// unlockWallet open the wallet and unlock it with a prompted passphrase
func unlockWallet(ctx context.Context) (*cardvault.Wallet, error) {
	wallet, err := openWallet(ctx)
	if err != nil {
		return nil, err
	}
	passphrase, err := promptSecret("Passphrase: ")
	if err != nil {
		wallet.Close(ctx)
		return nil, err
	}
	sentence, err := wallet.Unlock(ctx, userID, passphrase)
	if err != nil {
		wallet.Close(ctx)
		return nil, err
	}
	fmt.Printf("Validation sentence: %s\n", sentence)
	return wallet, nil
}

// promptSecret read a line from the terminal without echo
func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	value, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read input [%w]", err)
	}
	return string(value), nil
}

var stdinReader = bufio.NewReader(os.Stdin)

// promptLine read one visible line from the terminal
func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	value, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input [%w]", err)
	}
	return strings.TrimSpace(value), nil
}
