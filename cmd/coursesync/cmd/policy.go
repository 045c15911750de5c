package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tazhate/coursesync/internal/domain"
)

var (
	policyUser string
	policyFile string
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show or replace a user's routing policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current policy as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		u, err := lookupUser(cmd.Context(), store, policyUser)
		if err != nil {
			return err
		}
		p, err := store.GetCurrentPolicy(cmd.Context(), u.ID)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	},
}

var policySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace the policy from a YAML file",
	Long: `Reads a policy YAML file and stores it as the current policy. Keys left
out of the file keep their default values. The policy takes effect on the
next sync; courses dropped from an included list are removed downstream then.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := readPolicy(policyFile)
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		u, err := lookupUser(cmd.Context(), store, policyUser)
		if err != nil {
			return err
		}
		if err := store.SetCurrentPolicy(cmd.Context(), u.ID, p); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Policy updated for %s\n", u.Name)
		return nil
	},
}

func readPolicy(path string) (domain.Policy, error) {
	if path == "" {
		return domain.Policy{}, fmt.Errorf("--file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Policy{}, err
	}
	p := domain.DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return domain.Policy{}, fmt.Errorf("parsing policy %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return domain.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	p.Normalize()
	return p, nil
}

func init() {
	policyCmd.PersistentFlags().StringVar(&policyUser, "user", "", "user name")
	policySetCmd.Flags().StringVar(&policyFile, "file", "", "policy YAML file")
	policyCmd.AddCommand(policyShowCmd, policySetCmd)
	rootCmd.AddCommand(policyCmd)
}
