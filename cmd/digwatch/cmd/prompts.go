package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/digwatch/internal/prompts"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Inspect prompt templates",
	Long: `Inspect the prompt templates used for frame classification and report
narration. Embedded defaults can be overridden by *.toml files in the
configured prompts directory.`,
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded prompts",
	RunE:  runPromptsList,
}

var promptsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a prompt's metadata and templates",
	Args:  cobra.ExactArgs(1),
	RunE:  runPromptsShow,
}

func init() {
	rootCmd.AddCommand(promptsCmd)
	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsShowCmd)
}

func promptStore() (*prompts.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := prompts.NewStore(cfg.Prompts.Dir)
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}
	return store, nil
}

func runPromptsList(cmd *cobra.Command, args []string) error {
	store, err := promptStore()
	if err != nil {
		return err
	}

	fmt.Printf("%-12s %-9s %-9s %s\n", "ID", "VERSION", "ORIGIN", "DESCRIPTION")
	for _, p := range store.List() {
		fmt.Printf("%-12s %-9s %-9s %s\n", p.ID, p.Version, p.Origin, p.Description)
	}
	return nil
}

func runPromptsShow(cmd *cobra.Command, args []string) error {
	store, err := promptStore()
	if err != nil {
		return err
	}

	p, err := store.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", p.ID)
	fmt.Printf("Name:        %s\n", p.Name)
	fmt.Printf("Version:     %s\n", p.Version)
	fmt.Printf("Origin:      %s\n", p.Origin)
	fmt.Printf("Description: %s\n", p.Description)

	for _, name := range p.Names() {
		text, err := p.Text(name)
		if err != nil {
			return err
		}
		fmt.Printf("\n--- %s ---\n%s\n", name, text)
	}
	return nil
}
