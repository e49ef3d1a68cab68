package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kingrea/converge/internal/vault"
)

var (
	vaultIDsFlag     []string
	vaultPassFile    string
	vaultAskPass     bool
	vaultEncryptID   string
	vaultOutput      string
	vaultNewIDs      []string
	vaultNewPassFile string
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Create, view, and rewrite encrypted files",
}

var vaultCreateCmd = &cobra.Command{
	Use:   "create <file>",
	Short: "Create a new encrypted file in your editor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		editor, err := vaultEditor(true)
		if err != nil {
			return err
		}
		return editor.Create(args[0], vaultEncryptID)
	},
}

var vaultEditCmd = &cobra.Command{
	Use:   "edit <file>",
	Short: "Decrypt a file into your editor and re-encrypt on save",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		editor, err := vaultEditor(true)
		if err != nil {
			return err
		}
		return editor.Edit(args[0])
	},
}

var vaultEncryptCmd = &cobra.Command{
	Use:   "encrypt <file>...",
	Short: "Encrypt plaintext files in place",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		editor, err := vaultEditor(true)
		if err != nil {
			return err
		}
		for _, path := range args {
			if err := editor.EncryptFile(path, vaultEncryptID); err != nil {
				return err
			}
			fmt.Printf("Encryption successful: %s\n", path)
		}
		return nil
	},
}

var vaultDecryptCmd = &cobra.Command{
	Use:   "decrypt <file>...",
	Short: "Decrypt encrypted files in place",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if vaultOutput != "" && len(args) > 1 {
			return fmt.Errorf("vault decrypt: --output takes a single input file")
		}
		editor, err := vaultEditor(true)
		if err != nil {
			return err
		}
		for _, path := range args {
			if err := editor.DecryptFile(path, vaultOutput); err != nil {
				return err
			}
			fmt.Printf("Decryption successful: %s\n", path)
		}
		return nil
	},
}

var vaultViewCmd = &cobra.Command{
	Use:   "view <file>",
	Short: "Print the decrypted contents of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		editor, err := vaultEditor(true)
		if err != nil {
			return err
		}
		plaintext, err := editor.View(args[0])
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(plaintext)
		return err
	},
}

var vaultRekeyCmd = &cobra.Command{
	Use:   "rekey <file>...",
	Short: "Re-encrypt files under a new vault identity",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		editor, err := vaultEditor(true)
		if err != nil {
			return err
		}
		newKeyring, err := rekeyKeyring()
		if err != nil {
			return err
		}
		for _, path := range args {
			if err := editor.Rekey(path, newKeyring, vaultEncryptID); err != nil {
				return err
			}
			fmt.Printf("Rekey successful: %s\n", path)
		}
		return nil
	},
}

var vaultEncryptStringCmd = &cobra.Command{
	Use:   "encrypt-string <value>",
	Short: "Encrypt a single value for inline use in vars files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := cmd.Flags().GetString("name")
		if err != nil {
			return err
		}
		editor, err := vaultEditor(true)
		if err != nil {
			return err
		}
		block, err := editor.EncryptString(name, args[0], vaultEncryptID)
		if err != nil {
			return err
		}
		fmt.Println(block)
		return nil
	},
}

func init() {
	pf := vaultCmd.PersistentFlags()
	pf.StringArrayVar(&vaultIDsFlag, "vault-id", nil, "vault identity [label@]source (repeatable)")
	pf.StringVar(&vaultPassFile, "vault-password-file", "", "vault password file")
	pf.BoolVar(&vaultAskPass, "ask-vault-pass", false, "prompt for the vault password")
	pf.StringVar(&vaultEncryptID, "encrypt-vault-id", "", "label of the identity used to encrypt")

	vaultDecryptCmd.Flags().StringVarP(&vaultOutput, "output", "o", "", "write plaintext here instead of in place")
	vaultRekeyCmd.Flags().StringArrayVar(&vaultNewIDs, "new-vault-id", nil, "new vault identity [label@]source (repeatable)")
	vaultRekeyCmd.Flags().StringVar(&vaultNewPassFile, "new-vault-password-file", "", "new vault password file")
	vaultEncryptStringCmd.Flags().StringP("name", "n", "", "variable name to print above the block")

	vaultCmd.AddCommand(vaultCreateCmd)
	vaultCmd.AddCommand(vaultEditCmd)
	vaultCmd.AddCommand(vaultEncryptCmd)
	vaultCmd.AddCommand(vaultDecryptCmd)
	vaultCmd.AddCommand(vaultViewCmd)
	vaultCmd.AddCommand(vaultRekeyCmd)
	vaultCmd.AddCommand(vaultEncryptStringCmd)
}

// vaultEditor builds an editor over the identities from the flags and the
// project config. When nothing is configured and require is set, it falls
// back to an interactive prompt so bare invocations still work.
func vaultEditor(require bool) (*vault.Editor, error) {
	keyring, err := buildKeyring(vaultIDsFlag, vaultPassFile, vaultAskPass)
	if err != nil {
		return nil, err
	}
	if keyring == nil {
		if !require {
			return vault.NewEditor(vault.NewKeyring()), nil
		}
		keyring, err = vault.LoadKeyring([]string{"prompt"}, vault.TerminalPrompt)
		if err != nil {
			return nil, err
		}
	}
	return vault.NewEditor(keyring), nil
}

// rekeyKeyring loads the identities the rekeyed files will be encrypted
// under. These are deliberately separate from the decryption identities.
func rekeyKeyring() (*vault.Keyring, error) {
	args := append([]string{}, vaultNewIDs...)
	if vaultNewPassFile != "" {
		args = append(args, vaultNewPassFile)
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "No new identity given, prompting for the new password.")
		args = append(args, "prompt")
	}
	return vault.LoadKeyring(args, vault.TerminalPrompt)
}
