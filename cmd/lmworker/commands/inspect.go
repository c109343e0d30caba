package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lm-plugin/worker/internal/config"
	"github.com/lm-plugin/worker/internal/persist"
)

var (
	inspectStorage string
	inspectJSON    bool
	inspectNoColor bool
	inspectVerbose bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the persisted session",
	Long: `Read the persisted session from the configured storage and print it.

Unlike the worker's startup path, a damaged snapshot is reported as an
error instead of being discarded.`,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectStorage, "storage", "", "Persistence backend: file or bolt")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the snapshot as JSON")
	inspectCmd.Flags().BoolVar(&inspectNoColor, "no-color", false, "Disable colors")
	inspectCmd.Flags().BoolVarP(&inspectVerbose, "verbose", "v", false, "Print entry ids and statuses")
}

func runInspect(cmd *cobra.Command, args []string) error {
	source, err := loadSource()
	if err != nil {
		return err
	}
	cfg := source.Config()
	initLogging("WARN", false)

	storageCfg := cfg.Storage
	if inspectStorage != "" {
		storageCfg.Backend = inspectStorage
	}
	store, closeStore, err := openStore(storageCfg, config.GetPaths())
	if err != nil {
		return err
	}
	defer closeStore()

	codec := persist.New(store, persist.WithKey(storageCfg.Key))
	s, err := codec.Load(cmd.Context())
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("no session saved under %q", codec.MetaKey())
	}

	r := newRenderer(inspectNoColor, inspectJSON, inspectVerbose)
	r.Session(*s)
	return nil
}
