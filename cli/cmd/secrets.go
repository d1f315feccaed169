package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	adecrypt "github.com/phdsystems/ade-crypt"
)

var secretsCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage secrets in the vault",
	Long:  "Store, retrieve, version and manage encrypted secrets.",
}

var storeSecretCmd = &cobra.Command{
	Use:   "store [name]",
	Short: "Store a secret",
	Long:  "Store a secret, preserving any previous value as a version. Data comes from --data, --file or stdin.",
	Args:  cobra.ExactArgs(1),
	RunE:  storeSecret,
}

var getSecretCmd = &cobra.Command{
	Use:   "get [name]",
	Short: "Retrieve a secret",
	Long:  "Decrypt a secret and write its value to stdout. Use --version for a historical value.",
	Args:  cobra.ExactArgs(1),
	RunE:  getSecret,
}

var deleteSecretCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete a secret",
	Long:  "Securely delete a secret, its version history and its metadata.",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteSecret,
}

var listSecretsCmd = &cobra.Command{
	Use:   "list",
	Short: "List secrets",
	Long:  "List secret metadata, optionally filtered by pattern or category. Values are never shown.",
	RunE:  listSecrets,
}

var secretInfoCmd = &cobra.Command{
	Use:   "info [name]",
	Short: "Show secret metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  secretInfo,
}

var secretVersionsCmd = &cobra.Command{
	Use:   "versions [name]",
	Short: "List a secret's versions",
	Args:  cobra.ExactArgs(1),
	RunE:  secretVersions,
}

var secretExpireCmd = &cobra.Command{
	Use:   "expire [name]",
	Short: "Change a secret's expiry",
	Long:  "Replace a secret's expiry with now plus --days, or clear it with --days 0.",
	Args:  cobra.ExactArgs(1),
	RunE:  secretExpire,
}

var searchSecretsCmd = &cobra.Command{
	Use:   "search [pattern]",
	Short: "Search secrets",
	Long:  "Search secret names, tags and categories by substring. Values are never shown.",
	Args:  cobra.ExactArgs(1),
	RunE:  searchSecrets,
}

var secretTagCmd = &cobra.Command{
	Use:   "tag [name] [tags...]",
	Short: "Add tags to a secret",
	Args:  cobra.MinimumNArgs(2),
	RunE:  secretTag,
}

var secretCategoryCmd = &cobra.Command{
	Use:   "category [name] [category]",
	Short: "Set a secret's category",
	Args:  cobra.ExactArgs(2),
	RunE:  secretSetCategory,
}

var cleanSecretsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete all expired secrets",
	RunE:  cleanSecrets,
}

var (
	secretData     string
	secretFile     string
	secretTags     []string
	secretCategory string
	secretTTLDays  int
	secretVersion  int
	expireDays     int
	filterPattern  string
	filterCategory string
	outputJSON     bool
)

func init() {
	rootCmd.AddCommand(secretsCmd)

	secretsCmd.AddCommand(storeSecretCmd)
	secretsCmd.AddCommand(getSecretCmd)
	secretsCmd.AddCommand(deleteSecretCmd)
	secretsCmd.AddCommand(listSecretsCmd)
	secretsCmd.AddCommand(secretInfoCmd)
	secretsCmd.AddCommand(secretVersionsCmd)
	secretsCmd.AddCommand(secretExpireCmd)
	secretsCmd.AddCommand(searchSecretsCmd)
	secretsCmd.AddCommand(secretTagCmd)
	secretsCmd.AddCommand(secretCategoryCmd)
	secretsCmd.AddCommand(cleanSecretsCmd)

	storeSecretCmd.Flags().StringVarP(&secretData, "data", "d", "", "secret value as string")
	storeSecretCmd.Flags().StringVarP(&secretFile, "file", "f", "", "read secret value from file (use '-' for stdin)")
	storeSecretCmd.Flags().StringSliceVarP(&secretTags, "tags", "t", nil, "tags for the secret")
	storeSecretCmd.Flags().StringVarP(&secretCategory, "category", "c", "", "category for the secret")
	storeSecretCmd.Flags().IntVar(&secretTTLDays, "ttl-days", 0, "expiry in days (0 = default, negative = never)")

	getSecretCmd.Flags().IntVarP(&secretVersion, "version", "v", 0, "version to retrieve (0 = current)")

	listSecretsCmd.Flags().StringVar(&filterPattern, "filter", "", "substring match on name, tags or category")
	listSecretsCmd.Flags().StringVar(&filterCategory, "category", "", "restrict to one category")
	listSecretsCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	secretInfoCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	secretExpireCmd.Flags().IntVar(&expireDays, "days", 0, "days until expiry (0 clears the expiry)")

	searchSecretsCmd.Flags().StringVar(&filterCategory, "category", "", "restrict to one category")
	searchSecretsCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")
}

func storeSecret(cmd *cobra.Command, args []string) error {
	name := args[0]

	data, err := readSecretInput()
	if err != nil {
		return err
	}

	meta, err := vault.Store(name, data, adecrypt.StoreOptions{
		Category: secretCategory,
		Tags:     secretTags,
		TTLDays:  secretTTLDays,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s Stored secret %s (version %d)\n", color.GreenString("✓"), color.CyanString(name), meta.Version)
	if !meta.ExpiresAt.IsZero() {
		fmt.Printf("  Expires: %s\n", meta.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}

func readSecretInput() ([]byte, error) {
	if secretData != "" {
		return []byte(secretData), nil
	}
	if secretFile == "" || secretFile == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(secretFile)
}

func getSecret(cmd *cobra.Command, args []string) error {
	name := args[0]

	var value []byte
	var err error
	if secretVersion > 0 {
		value, err = vault.GetVersion(name, secretVersion)
	} else {
		value, _, err = vault.Get(name)
	}
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(value)
	return err
}

func deleteSecret(cmd *cobra.Command, args []string) error {
	if err := vault.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("%s Deleted secret %s\n", color.GreenString("✓"), color.CyanString(args[0]))
	return nil
}

func listSecrets(cmd *cobra.Command, args []string) error {
	var metas []*adecrypt.SecretMetadata
	var err error
	if filterPattern != "" || filterCategory != "" {
		metas, err = vault.Search(filterPattern, filterCategory)
	} else {
		metas, err = vault.List()
	}
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(metas)
	}

	if len(metas) == 0 {
		fmt.Println("No secrets found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tVERSION\tMODIFIED\tEXPIRES")
	for _, meta := range metas {
		expires := "never"
		if !meta.ExpiresAt.IsZero() {
			expires = meta.ExpiresAt.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			meta.Name, meta.Category, meta.Version,
			meta.ModifiedAt.Format("2006-01-02 15:04"), expires)
	}
	return w.Flush()
}

func secretInfo(cmd *cobra.Command, args []string) error {
	metas, err := vault.List()
	if err != nil {
		return err
	}
	for _, meta := range metas {
		if meta.Name != args[0] {
			continue
		}
		if outputJSON {
			return printJSON(meta)
		}
		fmt.Printf("Name:     %s\n", meta.Name)
		fmt.Printf("Category: %s\n", meta.Category)
		fmt.Printf("Tags:     %v\n", meta.Tags)
		fmt.Printf("Version:  %d\n", meta.Version)
		fmt.Printf("Key:      %s\n", meta.KeyName)
		fmt.Printf("Created:  %s\n", meta.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("Modified: %s\n", meta.ModifiedAt.Format("2006-01-02 15:04:05 MST"))
		if !meta.ExpiresAt.IsZero() {
			fmt.Printf("Expires:  %s\n", meta.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
		}
		return nil
	}
	return fmt.Errorf("secret %s not found", args[0])
}

func secretVersions(cmd *cobra.Command, args []string) error {
	versions, err := vault.ListVersions(args[0])
	if err != nil {
		return err
	}
	for _, v := range versions {
		marker := ""
		if v == versions[len(versions)-1] {
			marker = " (current)"
		}
		fmt.Printf("%d%s\n", v, marker)
	}
	return nil
}

func secretExpire(cmd *cobra.Command, args []string) error {
	meta, err := vault.SetExpiry(args[0], expireDays)
	if err != nil {
		return err
	}
	if meta.ExpiresAt.IsZero() {
		fmt.Printf("%s Secret %s no longer expires\n", color.GreenString("✓"), color.CyanString(meta.Name))
	} else {
		fmt.Printf("%s Secret %s expires %s\n", color.GreenString("✓"), color.CyanString(meta.Name),
			meta.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}

func searchSecrets(cmd *cobra.Command, args []string) error {
	metas, err := vault.Search(args[0], filterCategory)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(metas)
	}

	if len(metas) == 0 {
		fmt.Println("No secrets matched.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tTAGS")
	for _, meta := range metas {
		fmt.Fprintf(w, "%s\t%s\t%v\n", meta.Name, meta.Category, meta.Tags)
	}
	return w.Flush()
}

func secretTag(cmd *cobra.Command, args []string) error {
	meta, err := vault.AddTags(args[0], args[1:]...)
	if err != nil {
		return err
	}
	fmt.Printf("%s Tags on %s: %v\n", color.GreenString("✓"), color.CyanString(meta.Name), meta.Tags)
	return nil
}

func secretSetCategory(cmd *cobra.Command, args []string) error {
	meta, err := vault.SetCategory(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("%s Secret %s categorized as %s\n", color.GreenString("✓"), color.CyanString(meta.Name), meta.Category)
	return nil
}

func cleanSecrets(cmd *cobra.Command, args []string) error {
	removed, err := vault.CleanExpired()
	if err != nil {
		return err
	}
	fmt.Printf("%s Removed %d expired secret(s)\n", color.GreenString("✓"), removed)
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
