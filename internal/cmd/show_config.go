package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jpequegn/nextrun/internal/profile"
	"github.com/spf13/cobra"
)

// showConfigCmd represents the show-config command
var showConfigCmd = &cobra.Command{
	Use:   "show-config [binaries...]",
	Short: "Print the resolved profile, and per-test settings if binaries are given",
	Long: `Print the active profile's base settings and override list. If one or
more test binaries are given, also resolve and print each discovered
test's final TestSettings, the way the dispatcher would see it.`,
	RunE: showConfig,
}

func init() {
	rootCmd.AddCommand(showConfigCmd)
}

type resolvedSettingsView struct {
	Test     string                 `json:"test"`
	Settings map[string]interface{} `json:"settings"`
}

func showConfig(cmd *cobra.Command, args []string) error {
	p, err := loadProfile()
	if err != nil {
		return fmt.Errorf("nextrun: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("nextrun: encoding profile: %w", err)
	}

	if len(args) == 0 {
		return nil
	}

	list, err := discoverList(context.Background(), args)
	if err != nil {
		return err
	}
	resolver := profile.NewResolver(p, hostOS(), hostOS())
	for _, inst := range list.Instances {
		settings := resolver.Resolve(inst.Query())
		view := resolvedSettingsView{
			Test: inst.Binary.BinaryName + "::" + inst.TestName,
			Settings: map[string]interface{}{
				"threads_required": settings.ThreadsRequired,
				"test_group":       settings.TestGroup.String(),
				"retries":          settings.Retries,
				"slow_timeout":     settings.SlowTimeout,
				"leak_timeout":     settings.LeakTimeout.String(),
			},
		}
		if err := enc.Encode(view); err != nil {
			return fmt.Errorf("nextrun: encoding resolved settings: %w", err)
		}
	}
	return nil
}
