package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"presence-backend/backend"
	"presence-backend/checkin"
	"presence-backend/config"
	"presence-backend/contracts"
	"presence-backend/geo"
	"presence-backend/models"
	"presence-backend/pending"
)

var errAbandoned = errors.New("interrupted before the check-in finished")

type stack struct {
	backend      *backend.Client
	orchestrator *checkin.Orchestrator
	identity     checkin.SigningIdentity
	closers      []func() error
}

// Close releases the stack, then writes the metrics file when one is configured
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}
}

func buildStack(ctx context.Context, c config.Client) (*stack, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	policy, err := geo.ParsePolicy(c.GeofencePolicy)
	if err != nil {
		return nil, err
	}
	identity, err := contracts.NewKeyIdentity(c.PrivateKey)
	if err != nil {
		return nil, err
	}
	client, err := backend.New(c.BackendURL, c.AccessToken, slog.Default())
	if err != nil {
		return nil, err
	}

	s := &stack{backend: client, identity: identity}
	built := false
	defer func() {
		if !built {
			s.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	if c.MetricsFile != "" {
		s.closers = append(s.closers, func() error {
			return prometheus.WriteToTextfile(c.MetricsFile, reg)
		})
	}

	tracer, shutdown, err := initTracing(c.TraceExporter, os.Stderr)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() error { return shutdown(context.Background()) })

	store, err := pending.Open(c.StateDir, slog.Default())
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, store.Close)

	eth, err := ethclient.DialContext(ctx, c.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum client: %w", err)
	}
	s.closers = append(s.closers, func() error { eth.Close(); return nil })

	poap, err := contracts.NewPOAPContract(eth, c.POAPContract,
		contracts.WithConfirmations(uint64(max(c.Confirmations, 1))),
		contracts.WithPollInterval(c.PollInterval),
		contracts.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, err
	}

	opts := []checkin.Option{
		checkin.WithLogger(slog.Default()),
		checkin.WithMetrics(checkin.NewMetrics(reg)),
		checkin.WithPendingStore(store),
	}
	if tracer != nil {
		opts = append(opts, checkin.WithTracer(tracer))
	}
	s.orchestrator, err = checkin.New(poap, client, orchestratorConfig(c, policy, poap.TokenType()), opts...)
	if err != nil {
		return nil, err
	}
	built = true
	return s, nil
}

func orchestratorConfig(c config.Client, policy geo.Policy, tokenType string) checkin.Config {
	retry := checkin.DefaultRetryConfig()
	if c.RecordMaxAttempts > 0 {
		retry.MaxAttempts = c.RecordMaxAttempts
	}
	return checkin.Config{
		ExpectedTokenType: tokenType,
		Clock:             c.ClockAddress,
		FinalityTimeout:   c.FinalityTimeout,
		Geofence:          policy,
		Retry:             retry,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	userID := s.backend.UserID()
	status, err := s.orchestrator.QueryStatus(ctx, userID, args[0])
	if err != nil {
		return err
	}
	if status.AlreadyCheckedIn {
		printf(cmd, "checked in to %s at %s (token %s, tx %s)\n",
			args[0], status.Record.CheckedInAt.Format("2006-01-02 15:04:05"), status.Record.TokenID, status.Record.TxRef)
		return nil
	}

	p, err := s.orchestrator.Pending(ctx, userID, args[0])
	if err != nil {
		return err
	}
	if p != nil {
		printf(cmd, "mint %s submitted but not recorded; run start to finish it\n", p.TxRef)
		return nil
	}
	printf(cmd, "not checked in to %s\n", args[0])
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	setup, stopSetup := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSetup()

	s, err := buildStack(setup, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	event, err := s.backend.GetEvent(setup, args[0])
	if err != nil {
		return fmt.Errorf("failed to load event: %w", err)
	}

	var coord *geo.Coordinate
	if cmd.Flags().Changed("lat") {
		coord = &geo.Coordinate{Latitude: flagLat, Longitude: flagLng}
		if err := geo.Validate(*coord); err != nil {
			return err
		}
	}

	// From here on a signal must not end the process while a mint is in flight
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupts)
	stopSetup()

	attempt, err := s.orchestrator.Start(cmd.Context(), buildRequest(s.backend.UserID(), event, s.identity, coord))
	if err != nil {
		return err
	}
	return follow(cmd, attempt, interrupts)
}

// follow prints the transitions of attempt until it is terminal. The first
// interrupt only announces the wait; a second one abandons the attempt, whose
// submitted mint stays in the pending store for the next start.
func follow(cmd *cobra.Command, attempt *checkin.Attempt, interrupts <-chan os.Signal) error {
	updates, unsubscribe := attempt.Subscribe()
	defer unsubscribe()

	var last checkin.State
	interrupted := false
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return outcome(cmd, attempt.Snapshot())
			}
			if snap.State != last {
				printf(cmd, "%s\n", describe(snap))
				last = snap.State
			}
		case <-interrupts:
			if interrupted {
				if ref := attempt.Snapshot().TxRef; ref != "" {
					printf(cmd, "abandoned; mint %s is saved and the next start resumes it\n", ref)
				}
				return errAbandoned
			}
			interrupted = true
			printf(cmd, "waiting for the check-in to finish; interrupt again to abandon it\n")
		}
	}
}

func runList(cmd *cobra.Command, args []string) error {
	if cfg.AccessToken == "" {
		return errors.New("missing required settings: ACCESS_TOKEN")
	}
	client, err := backend.New(cfg.BackendURL, cfg.AccessToken, slog.Default())
	if err != nil {
		return err
	}

	page, err := client.ListMine(cmd.Context(), flagPage, flagPageSize)
	if err != nil {
		return err
	}
	for _, c := range page.Items {
		name := c.EventName
		if name == "" {
			name = c.EventID
		}
		printf(cmd, "%s  %-30s token %s\n", c.CheckedInAt.Format("2006-01-02 15:04"), name, c.TokenID)
	}
	printf(cmd, "%d of %d\n", len(page.Items), page.Total)
	return nil
}

func runPending(cmd *cobra.Command, args []string) error {
	store, err := pending.Open(cfg.StateDir, slog.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	return printPending(cmd, store)
}

func printPending(cmd *cobra.Command, store *pending.Store) error {
	all, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(all) == 0 {
		printf(cmd, "no pending mints\n")
		return nil
	}
	for _, p := range all {
		token := p.TokenID
		if token == "" {
			token = "-"
		}
		printf(cmd, "%s  event %s  tx %s  token %s\n", p.UpdatedAt.Format("2006-01-02 15:04"), p.EventID, p.TxRef, token)
	}
	return nil
}

func buildRequest(userID string, event *models.Event, identity checkin.SigningIdentity, coord *geo.Coordinate) checkin.Request {
	return checkin.Request{
		UserID:             userID,
		EventID:            event.ID,
		EventName:          event.Name,
		EventLocationLabel: event.LocationLabel,
		ImageURL:           event.ImageURL,
		Identity:           identity,
		UserCoordinate:     coord,
		EventLocation:      event.Location(),
	}
}

func describe(s checkin.Snapshot) string {
	switch s.State {
	case checkin.StateVerifying:
		return "verifying..."
	case checkin.StateMinting:
		return "minting proof-of-presence token..."
	case checkin.StateAwaitingFinality:
		return fmt.Sprintf("waiting for %s to finalize...", s.TxRef)
	case checkin.StateRecording:
		return fmt.Sprintf("recording token %s...", s.TokenID)
	case checkin.StateSuccess:
		if s.AlreadyCheckedIn {
			return "already checked in"
		}
		return fmt.Sprintf("checked in with token %s", s.TokenID)
	case checkin.StateError:
		return fmt.Sprintf("failed: %s", s.Err)
	}
	return string(s.State)
}

func outcome(cmd *cobra.Command, s checkin.Snapshot) error {
	for _, w := range s.Warnings {
		printf(cmd, "warning: %s\n", w)
	}
	if s.Err == nil {
		return nil
	}
	if s.Err.Kind == checkin.KindBackendConflict && s.Record != nil {
		printf(cmd, "already checked in with token %s\n", s.Record.TokenID)
	}
	if s.Err.Kind == checkin.KindTransactionTimeout {
		printf(cmd, "the mint %s may still land; run start again to resume without minting twice\n", s.TxRef)
	}
	return s.Err
}
