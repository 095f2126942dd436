package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/secrethound/secrethound/internal/config"
	"github.com/secrethound/secrethound/internal/repository"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Store hosting-platform credentials (encrypted)",
	Long: `Interactively collects the login, password and personal access token
used against the self-hosted platform and stores each one encrypted under
the settings directory.

The encryption keys come from LOGIN_KEY, PASSWORD_KEY and PAT_KEY: base64
encoded 32-byte keys. Generate one with:

  head -c 32 /dev/urandom | base64`,
	RunE: runSetup,
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	store, err := repository.NewCredentialStore(cfg)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)

	login, err := prompt(reader, "Platform login (empty to skip): ")
	if err != nil {
		return err
	}
	if login != "" {
		password, err := promptSecret("Platform password: ")
		if err != nil {
			return err
		}
		if err := store.SetLogin(login); err != nil {
			return fmt.Errorf("storing login: %w", err)
		}
		if err := store.SetPassword(password); err != nil {
			return fmt.Errorf("storing password: %w", err)
		}
		fmt.Println("Login and password stored.")
	}

	pat, err := promptSecret("Personal access token (empty to skip): ")
	if err != nil {
		return err
	}
	if pat != "" {
		if err := store.SetPAT(pat); err != nil {
			return fmt.Errorf("storing token: %w", err)
		}
		fmt.Println("Token stored.")
	}

	fmt.Printf("Credentials written under %s. Run 'secrethound serve' to start.\n", cfg.SettingsDir)
	return nil
}

func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptSecret(label string) (string, error) {
	fmt.Print(label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
