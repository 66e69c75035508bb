package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"switchboard/internal/vault"
)

func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Encrypt and decrypt values with the configured vault key",
	}
	cmd.AddCommand(newVaultValueCmd("encrypt", "Encrypt a value for use in plugin configuration",
		func(v *vault.Vault, s string) (string, error) { return v.EncryptValue(s) }))
	cmd.AddCommand(newVaultValueCmd("decrypt", "Decrypt a vault value",
		func(v *vault.Vault, s string) (string, error) { return v.DecryptValue(s) }))
	return cmd
}

func newVaultValueCmd(use, short string, op func(*vault.Vault, string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [value]",
		Short: short,
		Long: short + `.

The value is read from the argument, or from the first line of stdin when
no argument is given. The key comes from vault.secret or the environment
variable named by vault.secretEnv.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			secret, err := cfg.Vault.ResolveSecret(os.Getenv)
			if err != nil {
				return err
			}
			v, err := vault.New(secret)
			if err != nil {
				return err
			}

			value, err := readValue(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			out, err := op(v, value)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func readValue(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read value: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("no value given")
	}
	return line, nil
}
