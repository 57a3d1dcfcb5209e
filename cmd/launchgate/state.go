package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/keshew/launchgate/internal/config"
	"github.com/keshew/launchgate/internal/gatestate"
)

var stateJSONOutput bool

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect the persisted gate state",
	Long:  "Print the persisted gate state (breaker flag, cached config, identifiers, denial timestamp) without running the daemon.",
	RunE:  runState,
}

func init() {
	stateCmd.Flags().BoolVar(&stateJSONOutput, "json", false,
		"Output in JSON format")
}

func runState(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := gatestate.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	record, err := db.ConversionRecord(ctx)
	if err != nil {
		return err
	}
	gateCfg, err := db.GateConfig(ctx)
	if err != nil {
		return err
	}
	disabled, err := db.ConfigRequestsDisabled(ctx)
	if err != nil {
		return err
	}
	denial, err := db.LastNotificationDenial(ctx)
	if err != nil {
		return err
	}
	pushToken, err := db.PushToken(ctx)
	if err != nil {
		return err
	}
	afID, err := db.AttributionID(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	now := time.Now()

	if stateJSONOutput {
		payload := map[string]any{
			"database":                 cfg.Database.Path,
			"conversion_record":        record,
			"config_requests_disabled": disabled,
			"push_token":               pushToken,
			"af_id":                    afID,
		}
		if gateCfg != nil {
			payload["config_url"] = gateCfg.URL
			payload["config_expires_at"] = gateCfg.ExpiresAt
			payload["config_valid"] = gateCfg.ValidAt(now)
		}
		if denial != nil {
			payload["last_notification_denied"] = denial
		}
		return printJSON(out, payload)
	}

	fmt.Fprintf(out, "Database:         %s\n", cfg.Database.Path)
	fmt.Fprintf(out, "Config requests:  %s\n", enabledWord(disabled))
	if gateCfg != nil {
		fmt.Fprintf(out, "Cached config:    %s\n", gateCfg.URL)
		fmt.Fprintf(out, "Expires:          %s (valid: %t)\n",
			gateCfg.ExpiresAt.Format("2006-01-02 15:04:05 MST"), gateCfg.ValidAt(now))
	} else {
		fmt.Fprintf(out, "Cached config:    none\n")
	}
	if record != nil {
		fmt.Fprintf(out, "Conversion:       present (organic: %t)\n", record.IsOrganic())
	} else {
		fmt.Fprintf(out, "Conversion:       absent\n")
	}
	if denial != nil {
		fmt.Fprintf(out, "Last denial:      %s\n", denial.Format("2006-01-02 15:04:05 MST"))
	} else {
		fmt.Fprintf(out, "Last denial:      never\n")
	}
	fmt.Fprintf(out, "Push token:       %s\n", orNone(pushToken))
	fmt.Fprintf(out, "Attribution ID:   %s\n", orNone(afID))

	return nil
}

func enabledWord(disabled bool) string {
	if disabled {
		return "disabled"
	}
	return "enabled"
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
