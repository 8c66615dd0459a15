package status

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/deskhand/deskhand/pkg/config"
)

func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"s"},
		Short:   "Show deskhand status",
		Run: func(_ *cobra.Command, _ []string) {
			statusCmd()
		},
	}

	return cmd
}

func statusCmd() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("config error: %v\n", err)
		return
	}

	fmt.Println("deskhand configuration:")
	fmt.Printf("  data dir:          %s\n", cfg.AppDataDir())
	fmt.Printf("  max file size:     %s\n", humanize.Bytes(uint64(cfg.MaxFileSize)))
	fmt.Printf("  max output size:   %s\n", humanize.Bytes(uint64(cfg.MaxOutputSize)))
	fmt.Printf("  fuzzy threshold:   %.2f (strict: %v)\n", cfg.FuzzyThreshold, cfg.FuzzyStrict)
	fmt.Printf("  llm fallback:      %v\n", cfg.LLMFallback)

	memoryDir := filepath.Join(cfg.AppDataDir(), "memory")
	entries, err := os.ReadDir(memoryDir)
	if err != nil {
		fmt.Println("  saved contexts:    none")
		return
	}
	saved := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".txt" {
			saved++
		}
	}
	fmt.Printf("  saved contexts:    %d\n", saved)
}
