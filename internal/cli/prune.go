package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/decisiontrace/lineage/internal/config"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop relationships that touch deleted decisions",
	Long: "Deleting a decision tombstones it but keeps its edges queryable.\n" +
		"Prune is the administrative cleanup that removes those edges.",
	RunE: runPrune,
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := openStore(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.PruneTombstoned(cmd.Context())
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	fmt.Fprintf(os.Stderr, "pruned %d relationships\n", n)
	return nil
}
