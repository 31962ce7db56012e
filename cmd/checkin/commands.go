package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"presence-backend/config"
)

// --- Global Command Variables ---
var (
	cfg     config.Client
	verbose bool

	flagBackend         string
	flagToken           string
	flagRPC             string
	flagContract        string
	flagKey             string
	flagPolicy          string
	flagClock           string
	flagFinalityTimeout time.Duration
	flagConfirmations   int
	flagStateDir        string
	flagMetricsFile     string
	flagTraceExporter   string

	rootCmd = &cobra.Command{
		Use:           "checkin",
		Short:         "Proof-of-presence check-in client",
		Long:          `checkin mints a proof-of-presence token for an event and records it with the backend.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadDotEnv()
			cfg = overlayFlags(cmd, config.LoadClient())

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status [event-id]",
		Short: "Show whether you have checked in to an event",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}

	startCmd = &cobra.Command{
		Use:   "start [event-id]",
		Short: "Check in to an event: verify location, mint the token and record it",
		Args:  cobra.ExactArgs(1),
		RunE:  runStart,
	}

	pendingCmd = &cobra.Command{
		Use:   "pending",
		Short: "List submitted mints that are not recorded yet",
		Args:  cobra.NoArgs,
		RunE:  runPending,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List your check-ins, newest first",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
)

var (
	flagLat      float64
	flagLng      float64
	flagPage     int
	flagPageSize int
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagBackend, "backend", "", "backend base URL (BACKEND_URL)")
	pf.StringVar(&flagToken, "token", "", "bearer access token (ACCESS_TOKEN)")
	pf.StringVar(&flagRPC, "rpc", "", "ledger JSON-RPC URL (RPC_URL)")
	pf.StringVar(&flagContract, "contract", "", "proof-of-presence contract address (POAP_CONTRACT)")
	pf.StringVar(&flagKey, "key", "", "hex private key of the signing wallet (PRIVATE_KEY)")
	pf.StringVar(&flagPolicy, "policy", "", "geofence policy: off, warn or enforce (GEOFENCE_POLICY)")
	pf.StringVar(&flagClock, "clock", "", "clock address passed to mint (CLOCK_ADDRESS)")
	pf.DurationVar(&flagFinalityTimeout, "finality-timeout", 0, "maximum wait for finality (FINALITY_TIMEOUT)")
	pf.IntVar(&flagConfirmations, "confirmations", 0, "blocks a receipt needs before it is final (CONFIRMATIONS)")
	pf.StringVar(&flagStateDir, "state-dir", "", "directory for pending mints (CHECKIN_STATE_DIR)")
	pf.StringVar(&flagMetricsFile, "metrics-file", "", "write Prometheus metrics here on exit (METRICS_FILE)")
	pf.StringVar(&flagTraceExporter, "trace", "", "trace exporter: none or stdout (TRACE_EXPORTER)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	startCmd.Flags().Float64Var(&flagLat, "lat", 0, "your latitude")
	startCmd.Flags().Float64Var(&flagLng, "lng", 0, "your longitude")
	startCmd.MarkFlagsRequiredTogether("lat", "lng")

	listCmd.Flags().IntVar(&flagPage, "page", 1, "page number")
	listCmd.Flags().IntVar(&flagPageSize, "page-size", 20, "items per page")

	rootCmd.AddCommand(statusCmd, startCmd, listCmd, pendingCmd)
}

// overlayFlags applies explicitly set flags on top of the environment config
func overlayFlags(cmd *cobra.Command, c config.Client) config.Client {
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("backend", func() { c.BackendURL = flagBackend })
	set("token", func() { c.AccessToken = flagToken })
	set("rpc", func() { c.RPCURL = flagRPC })
	set("contract", func() { c.POAPContract = flagContract })
	set("key", func() { c.PrivateKey = flagKey })
	set("policy", func() { c.GeofencePolicy = flagPolicy })
	set("clock", func() { c.ClockAddress = flagClock })
	set("finality-timeout", func() { c.FinalityTimeout = flagFinalityTimeout })
	set("confirmations", func() { c.Confirmations = flagConfirmations })
	set("state-dir", func() { c.StateDir = flagStateDir })
	set("metrics-file", func() { c.MetricsFile = flagMetricsFile })
	set("trace", func() { c.TraceExporter = flagTraceExporter })
	return c
}

func printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
