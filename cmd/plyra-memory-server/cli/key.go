package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/plyraAI/plyra-memory-server/internal/keys"
	"github.com/plyraAI/plyra-memory-server/internal/keystore"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke workspace API keys directly against the key store.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		workspace string
		label     string
		env       string
		rateLimit int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key for a workspace",
		Long:  "Generate a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  plyra-memory-server key create --workspace acme --label "CI pipeline"
  plyra-memory-server key create --workspace acme --env test`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(workspace, label, env, rateLimit)
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace to scope the key to (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.Flags().StringVar(&env, "env", "live", `Key environment: "live" or "test"`)
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Requests-per-minute quota (0 = server default)")
	cmd.MarkFlagRequired("workspace")

	return cmd
}

func runKeyCreate(workspace, label, env string, rateLimit int) error {
	store, err := openKeyStore()
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer store.Close()

	env = keys.CoerceEnv(env)
	plaintext, keyHash, err := keys.Generate(env)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	info, err := store.CreateKey(context.Background(), keystore.CreateKeyParams{
		KeyHash:      keyHash,
		KeyPrefix:    keys.DisplayPrefix(plaintext),
		WorkspaceID:  workspace,
		Label:        label,
		Env:          env,
		RateLimitRPM: rateLimit,
	})
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:       %s\n", plaintext)
	fmt.Printf("  ID:        %s\n", info.KeyID)
	fmt.Printf("  Workspace: %s\n", workspace)
	fmt.Printf("  Env:       %s\n", env)
	if label != "" {
		fmt.Printf("  Label:     %s\n", label)
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		workspace  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys for a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(workspace, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace to list keys for (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("workspace")

	return cmd
}

func runKeyList(workspace string, jsonOutput bool) error {
	store, err := openKeyStore()
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer store.Close()

	infos, err := store.ListKeys(context.Background(), workspace)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	if len(infos) == 0 {
		fmt.Printf("No API keys for workspace %q. Use 'plyra-memory-server key create' to create one.\n", workspace)
		return nil
	}

	fmt.Printf("%-38s %-22s %-6s %-20s %-8s\n", "ID", "PREFIX", "ENV", "LABEL", "ACTIVE")
	fmt.Printf("%-38s %-22s %-6s %-20s %-8s\n", "--", "------", "---", "-----", "------")
	for _, k := range infos {
		active := "yes"
		if !k.IsActive {
			active = "no"
		}
		fmt.Printf("%-38s %-22s %-6s %-20s %-8s\n", k.KeyID, k.KeyPrefix, k.Env, k.Label, active)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key by id",
		Long:  "Deactivate an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(keyID string) error {
	store, err := openKeyStore()
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer store.Close()

	existed, err := store.RevokeKey(context.Background(), keyID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if !existed {
		return fmt.Errorf("no API key found with id %q", keyID)
	}

	fmt.Printf("Revoked API key %s\n", keyID)
	return nil
}
