package cmd

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	adecrypt "github.com/phdsystems/ade-crypt"
)

var keysCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage encryption keys",
	Long:  "Generate, inspect, rotate and revoke the keys that encrypt secrets.",
}

var generateKeyCmd = &cobra.Command{
	Use:   "generate [name]",
	Short: "Generate a new key",
	Long:  "Generate a new encryption key. Key material is stored encrypted and never printed.",
	Args:  cobra.ExactArgs(1),
	RunE:  generateKey,
}

var listKeysCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys",
	RunE:  listKeys,
}

var keyHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report key health",
	Long:  "Classify every key as healthy, expiring-soon or expired.",
	RunE:  keyHealth,
}

var revokeKeyCmd = &cobra.Command{
	Use:   "revoke [name]",
	Short: "Revoke a key",
	Long: `Revoke a key: its material is securely erased and anything still
encrypted under it becomes permanently unreadable. The active default key
cannot be revoked; rotate first.`,
	Args: cobra.ExactArgs(1),
	RunE: revokeKey,
}

var rotateKeyCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate the default key",
	Long: `Replace the default key and re-encrypt every secret under the
replacement. The old key is archived, never deleted, so version history
stays readable. Interrupted rotations resume on the next run.`,
	RunE: rotateKey,
}

var importKeyCmd = &cobra.Command{
	Use:   "import [name]",
	Short: "Import key material",
	Long:  "Import 32 bytes of base64-encoded symmetric key material from --data, --file or stdin.",
	Args:  cobra.ExactArgs(1),
	RunE:  importKey,
}

var exportKeyCmd = &cobra.Command{
	Use:   "export [name]",
	Short: "Export key material",
	Long: `Print a key's raw material base64-encoded, or a passphrase-protected
bundle with --protect. Requires --confirm; exports are audited.`,
	Args: cobra.ExactArgs(1),
	RunE: exportKey,
}

var (
	keyType        string
	keyOverwrite   bool
	rotateReason   string
	rotateForce    bool
	exportConfirm  bool
	exportPassword string
	importData     string
	importFile     string
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(generateKeyCmd)
	keysCmd.AddCommand(listKeysCmd)
	keysCmd.AddCommand(keyHealthCmd)
	keysCmd.AddCommand(revokeKeyCmd)
	keysCmd.AddCommand(rotateKeyCmd)
	keysCmd.AddCommand(importKeyCmd)
	keysCmd.AddCommand(exportKeyCmd)

	generateKeyCmd.Flags().StringVarP(&keyType, "type", "t", "symmetric", "key type (symmetric, asymmetric)")
	generateKeyCmd.Flags().BoolVar(&keyOverwrite, "overwrite", false, "replace an existing key of the same name")

	listKeysCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	keyHealthCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	rotateKeyCmd.Flags().StringVar(&rotateReason, "reason", "scheduled", "reason recorded in the audit trail")
	rotateKeyCmd.Flags().BoolVar(&rotateForce, "force", false, "rotate even when nothing changed since the last rotation")

	importKeyCmd.Flags().StringVarP(&importData, "data", "d", "", "base64-encoded key material")
	importKeyCmd.Flags().StringVarP(&importFile, "file", "f", "", "read base64-encoded material from file (use '-' for stdin)")
	importKeyCmd.Flags().BoolVar(&keyOverwrite, "overwrite", false, "replace an existing key of the same name")

	exportKeyCmd.Flags().BoolVar(&exportConfirm, "confirm", false, "acknowledge that raw key material will be disclosed")
	exportKeyCmd.Flags().StringVar(&exportPassword, "protect", "", "wrap the export with this passphrase")
}

func generateKey(cmd *cobra.Command, args []string) error {
	kt := adecrypt.KeyTypeSymmetric
	if keyType == "asymmetric" {
		kt = adecrypt.KeyTypeAsymmetricPrivate
	}

	meta, err := vault.Keys().Generate(args[0], kt, keyOverwrite)
	if err != nil {
		return err
	}

	fmt.Printf("%s Generated %s key %s\n", color.GreenString("✓"), meta.Type, color.CyanString(meta.Name))
	fmt.Printf("  ID:          %s\n", meta.ID)
	fmt.Printf("  Fingerprint: %s\n", meta.Fingerprint)
	fmt.Printf("  Expires:     %s\n", meta.ExpiresAt.Format("2006-01-02"))
	return nil
}

func listKeys(cmd *cobra.Command, args []string) error {
	metas, err := vault.Keys().List()
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(metas)
	}

	if len(metas) == 0 {
		fmt.Println("No keys found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tSTATUS\tCREATED\tEXPIRES")
	for _, meta := range metas {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			meta.Name, meta.Type, meta.Status,
			meta.CreatedAt.Format("2006-01-02"), meta.ExpiresAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func keyHealth(cmd *cobra.Command, args []string) error {
	report, err := vault.Keys().Health()
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(report)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tHEALTH\tDAYS LEFT\tEXPIRES")
	for _, row := range report {
		health := string(row.Status)
		switch row.Status {
		case adecrypt.KeyHealthHealthy:
			health = color.GreenString(health)
		case adecrypt.KeyHealthExpiringSoon:
			health = color.YellowString(health)
		case adecrypt.KeyHealthExpired:
			health = color.RedString(health)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			row.Name, health, row.DaysRemaining, row.ExpiresAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func revokeKey(cmd *cobra.Command, args []string) error {
	if err := vault.Keys().Revoke(args[0]); err != nil {
		return err
	}
	fmt.Printf("%s Revoked key %s\n", color.GreenString("✓"), color.CyanString(args[0]))
	return nil
}

func rotateKey(cmd *cobra.Command, args []string) error {
	var report *adecrypt.RotationReport
	var err error
	if rotateForce {
		report, err = vault.ForceRotate(rotateReason)
	} else {
		report, err = vault.Rotate(rotateReason)
	}
	if err != nil {
		if partial, ok := adecrypt.IsPartialRotation(err); ok {
			fmt.Fprintf(os.Stderr, "%s Rotation interrupted: %d migrated, %d pending. Run rotate again to resume.\n",
				color.RedString("✗"), len(partial.Migrated), len(partial.Pending))
		}
		return err
	}

	if report.ArchivedKeyName == "" {
		fmt.Printf("%s Nothing to rotate: %d secret(s) already current\n", color.GreenString("✓"), len(report.Skipped))
		return nil
	}

	fmt.Printf("%s Rotation complete\n", color.GreenString("✓"))
	fmt.Printf("  Migrated: %d secret(s)\n", len(report.Migrated))
	if len(report.Skipped) > 0 {
		fmt.Printf("  Skipped:  %d secret(s) (already migrated)\n", len(report.Skipped))
	}
	fmt.Printf("  Archived: %s\n", report.ArchivedKeyName)
	return nil
}

func importKey(cmd *cobra.Command, args []string) error {
	var encoded []byte
	var err error
	switch {
	case importData != "":
		encoded = []byte(importData)
	case importFile == "" || importFile == "-":
		encoded, err = io.ReadAll(os.Stdin)
	default:
		encoded, err = os.ReadFile(importFile)
	}
	if err != nil {
		return err
	}

	material, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return fmt.Errorf("key material must be base64-encoded: %w", err)
	}

	meta, err := vault.Keys().Import(material, args[0], keyOverwrite)
	if err != nil {
		return err
	}

	fmt.Printf("%s Imported key %s\n", color.GreenString("✓"), color.CyanString(meta.Name))
	fmt.Printf("  ID:          %s\n", meta.ID)
	fmt.Printf("  Fingerprint: %s\n", meta.Fingerprint)
	return nil
}

func exportKey(cmd *cobra.Command, args []string) error {
	if exportPassword != "" {
		bundle, err := vault.Keys().ExportProtected(args[0], exportPassword, exportConfirm)
		if err != nil {
			return err
		}
		fmt.Println(base64.StdEncoding.EncodeToString(bundle))
		return nil
	}

	material, err := vault.Keys().Export(args[0], exportConfirm)
	if err != nil {
		return err
	}
	fmt.Println(base64.StdEncoding.EncodeToString(material))
	return nil
}
