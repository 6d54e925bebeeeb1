package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/decisiontrace/lineage/internal/config"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write a snapshot of the decision graph",
	Long: "Export streams the whole graph as a single consistent snapshot:\n" +
		"a header line with counts, then one JSON line per decision, then one\n" +
		"per relationship. With no file argument the snapshot goes to stdout.",
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

var (
	importReplace bool

	importCmd = &cobra.Command{
		Use:   "import <file>",
		Short: "Restore the decision graph from a snapshot",
		Long: "Import validates and loads a snapshot produced by export. The\n" +
			"target database must be empty unless --replace is given, in which\n" +
			"case existing rows are discarded first. A snapshot that fails\n" +
			"validation leaves the database untouched.",
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
)

func init() {
	importCmd.Flags().BoolVar(&importReplace, "replace", false, "discard existing data before importing")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := openStore(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()

	out := os.Stdout
	if len(args) == 1 {
		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("create snapshot file: %w", err)
		}
		defer f.Close()
		out = f
	}

	counts, err := db.ExportSnapshot(cmd.Context(), out)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Fprintf(os.Stderr, "exported %d decisions, %d relationships\n",
		counts.Decisions, counts.Relationships)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := openStore(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()

	counts, err := db.ImportSnapshot(cmd.Context(), f, importReplace)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	fmt.Fprintf(os.Stderr, "imported %d decisions, %d relationships\n",
		counts.Decisions, counts.Relationships)
	return nil
}
