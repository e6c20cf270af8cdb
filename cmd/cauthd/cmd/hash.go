package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/cauth/password"
)

var hashCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Read a password from stdin and print its Argon2id digest",
	Long: `hash-password prints a PHC-formatted Argon2id digest using the default
cost parameters. Use it to seed accounts directly in storage.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		secret := strings.TrimRight(line, "\r\n")
		if secret == "" {
			return errors.New("empty password")
		}

		hasher, err := password.NewArgon2(password.DefaultConfig())
		if err != nil {
			return err
		}
		digest, err := hasher.Hash(secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), digest)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashCmd)
}
