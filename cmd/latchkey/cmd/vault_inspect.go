package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/brendan612/latchkey/internal/util"
	"github.com/brendan612/latchkey/vaultfile"
)

// ---------------------------------------------------------------------------
// Inspection result types
// ---------------------------------------------------------------------------

type inspectResult struct {
	File      string        `json:"file"`
	VaultID   string        `json:"vault_id"`
	Revision  uint64        `json:"revision"`
	UpdatedAt time.Time     `json:"updated_at"`
	Valid     bool          `json:"valid"`
	Checks    []checkResult `json:"checks"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn", "info"
	Detail string `json:"detail,omitempty"`
}

// ---------------------------------------------------------------------------
// Core inspection logic
// ---------------------------------------------------------------------------

// inspectVaultFile checks everything that can be verified without the
// password: envelope structure, KDF parameters, and blob shapes. It can
// never prove the ciphertext decrypts.
func inspectVaultFile(f *vaultfile.VaultFile) inspectResult {
	result := inspectResult{
		VaultID:   f.VaultID,
		Revision:  f.Revision,
		UpdatedAt: f.UpdatedAt,
		Valid:     true,
	}

	// 1. Revision sanity.
	if f.Revision >= 1 {
		result.Checks = append(result.Checks, checkResult{
			Name: "revision", Status: "pass",
			Detail: fmt.Sprintf("revision %d", f.Revision),
		})
	} else {
		result.Valid = false
		result.Checks = append(result.Checks, checkResult{
			Name: "revision", Status: "fail", Detail: "revision must be at least 1",
		})
	}

	// 2. KDF parameters.
	if err := f.KDF.Validate(); err != nil {
		result.Valid = false
		result.Checks = append(result.Checks, checkResult{
			Name: "kdf_parameters", Status: "fail", Detail: err.Error(),
		})
	} else if f.KDF.Legacy() {
		result.Checks = append(result.Checks, checkResult{
			Name:   "kdf_parameters",
			Status: "warn",
			Detail: fmt.Sprintf("legacy algorithm %s; the next password change upgrades it", f.KDF.Algorithm),
		})
	} else {
		result.Checks = append(result.Checks, checkResult{
			Name: "kdf_parameters", Status: "pass",
			Detail: string(f.KDF.Algorithm),
		})
	}

	// 3. Wrapped key shape.
	if len(f.WrappedContentKey.Nonce) == util.NonceSize && len(f.WrappedContentKey.Ciphertext) > 0 {
		result.Checks = append(result.Checks, checkResult{
			Name: "wrapped_content_key", Status: "pass",
		})
	} else {
		result.Valid = false
		result.Checks = append(result.Checks, checkResult{
			Name:   "wrapped_content_key",
			Status: "fail",
			Detail: fmt.Sprintf("nonce is %d bytes, ciphertext %d bytes", len(f.WrappedContentKey.Nonce), len(f.WrappedContentKey.Ciphertext)),
		})
	}

	// 4. Payload blob shape.
	if len(f.VaultData.Nonce) == util.NonceSize && len(f.VaultData.Ciphertext) > 0 {
		result.Checks = append(result.Checks, checkResult{
			Name: "vault_data", Status: "pass",
		})
	} else {
		result.Valid = false
		result.Checks = append(result.Checks, checkResult{
			Name:   "vault_data",
			Status: "fail",
			Detail: fmt.Sprintf("nonce is %d bytes, ciphertext %d bytes", len(f.VaultData.Nonce), len(f.VaultData.Ciphertext)),
		})
	}

	// 5. Recovery enrollment.
	switch {
	case f.RecoveryKDF == nil && f.RecoveryWrappedKey == nil:
		result.Checks = append(result.Checks, checkResult{
			Name: "recovery_key", Status: "info", Detail: "not enrolled",
		})
	case f.RecoveryKDF != nil && f.RecoveryWrappedKey != nil:
		detail := "enrolled"
		if err := f.RecoveryKDF.Validate(); err != nil {
			result.Valid = false
			result.Checks = append(result.Checks, checkResult{
				Name: "recovery_key", Status: "fail", Detail: err.Error(),
			})
			break
		}
		result.Checks = append(result.Checks, checkResult{
			Name: "recovery_key", Status: "pass", Detail: detail,
		})
	default:
		result.Valid = false
		result.Checks = append(result.Checks, checkResult{
			Name:   "recovery_key",
			Status: "fail",
			Detail: "recovery KDF and wrapped key must be present together",
		})
	}

	// 6. Stale timestamp is informational only.
	if f.UpdatedAt.After(time.Now().Add(time.Hour)) {
		result.Checks = append(result.Checks, checkResult{
			Name: "updated_at", Status: "warn", Detail: "timestamp is in the future",
		})
	}

	return result
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func printHumanResult(result inspectResult) {
	fmt.Printf("Vault file inspection: %s\n", result.File)
	fmt.Printf("Vault ID: %s\n", result.VaultID)
	fmt.Printf("Revision: %d\n", result.Revision)
	fmt.Printf("Updated:  %s\n\n", result.UpdatedAt.Format(time.RFC3339))

	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case "fail":
			tag = "[FAIL]"
		case "warn":
			tag = "[WARN]"
		case "info":
			tag = "[INFO]"
		}
		if c.Detail != "" {
			fmt.Printf("%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Printf("%s %s\n", tag, c.Name)
		}
	}

	fmt.Println()
	if result.Valid {
		fmt.Println("Result: VALID (contents cannot be verified without the password)")
	} else {
		failures := 0
		for _, c := range result.Checks {
			if c.Status == "fail" {
				failures++
			}
		}
		fmt.Printf("Result: INVALID (%d error(s))\n", failures)
	}
}

func printJSONResult(result inspectResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// ---------------------------------------------------------------------------
// Cobra command
// ---------------------------------------------------------------------------

var inspectJSONOutput bool

var inspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "Inspect an encrypted vault file without unlocking it",
	Long: `Reads a vault file and checks everything verifiable without the
password: envelope format, revision, KDF parameters, and blob shapes.

Whether the ciphertext actually decrypts can only be determined by
unlocking the vault with its password or recovery key.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	vaultCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectJSONOutput, "json", false, "Output results as JSON")
}

func runInspect(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	data, err := os.ReadFile(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot read file: %v\n", err)
		os.Exit(2)
	}

	f, err := vaultfile.Parse(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: not a vault file: %v\n", err)
		os.Exit(2)
	}

	result := inspectVaultFile(f)
	result.File = filePath

	if inspectJSONOutput {
		if err := printJSONResult(result); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	} else {
		printHumanResult(result)
	}

	if !result.Valid {
		os.Exit(1)
	}
	return nil
}
