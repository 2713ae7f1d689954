package cli

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/plyraAI/plyra-memory-server/internal/config"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage the admin secret",
		Long:  "Generate and verify the operator admin key that guards the /admin/keys endpoints.",
	}

	cmd.AddCommand(newAdminGenerateCmd())
	cmd.AddCommand(newAdminCheckCmd())

	return cmd
}

// ---------- admin generate ----------

func newAdminGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a strong admin key",
		Long:  "Print a freshly generated admin key. Export it as PLYRA_ADMIN_API_KEY or set admin_api_key in plyra.yaml.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminGenerate()
		},
	}

	return cmd
}

func runAdminGenerate() error {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generate admin key: %w", err)
	}
	key := "plm_admin_" + hex.EncodeToString(buf)

	fmt.Println("Generated admin key:")
	fmt.Println()
	fmt.Printf("  %s\n", key)
	fmt.Println()
	fmt.Println("  export PLYRA_ADMIN_API_KEY=" + key)
	return nil
}

// ---------- admin check ----------

func newAdminCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify an admin key against the configured secret",
		Long:  "Prompt for an admin key (input is not echoed) and report whether it matches the configured secret.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCheck()
		},
	}

	return cmd
}

func runAdminCheck() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.AdminAPIKey == config.DefaultAdminKey {
		fmt.Println("Warning: the configured admin key is still the default placeholder.")
	}

	fmt.Print("Admin key: ")
	keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to read admin key: %w", err)
	}
	fmt.Println()

	if subtle.ConstantTimeCompare(keyBytes, []byte(cfg.AdminAPIKey)) != 1 {
		return fmt.Errorf("admin key does not match the configured secret")
	}

	fmt.Println("Admin key matches.")
	return nil
}
