package serve

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pipewatch/app/internal/database"
	"pipewatch/app/internal/service"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Options tune the background work of the server
type Options struct {
	AccessLog      bool
	CheckInterval  time.Duration // alert evaluation, 0 disables
	MaintainEvery  time.Duration // system log pruning, 0 disables
	ShutdownPeriod time.Duration
}

// NewCommand returns the "serve" command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API on $PORT until interrupted.

Examples:
  pipewatch serve
  pipewatch serve --access-log --check-interval 5m`,
		RunE:         runServe,
		SilenceUsage: true,
	}

	cmd.Flags().Bool("access-log", false, "Write an Apache combined access log to stdout")
	cmd.Flags().Duration("check-interval", 0, "Evaluate alert rules on this interval (0 disables)")
	cmd.Flags().Duration("maintain-interval", time.Hour, "Prune the system log on this interval (0 disables)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	accessLog, _ := cmd.Flags().GetBool("access-log")
	checkEvery, _ := cmd.Flags().GetDuration("check-interval")
	maintainEvery, _ := cmd.Flags().GetDuration("maintain-interval")

	svc, err := service.FromEnv()
	if err != nil {
		return err
	}
	defer svc.Close()

	ln, err := net.Listen("tcp", svc.Config.Addr())
	if err != nil {
		return fmt.Errorf("serve: failed to listen on %s: %w", svc.Config.Addr(), err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return Run(ctx, svc, ln, Options{
		AccessLog:      accessLog,
		CheckInterval:  checkEvery,
		MaintainEvery:  maintainEvery,
		ShutdownPeriod: svc.Config.ShutdownTimeout,
	})
}

// Run serves the API on ln until ctx is done, then shuts down gracefully
func Run(ctx context.Context, svc *service.Service, ln net.Listener, opts Options) error {
	srv := &http.Server{
		Handler:      svc.Handler(opts.AccessLog),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Server starting on %s", ln.Addr())
		_ = database.InsertLog(database.LogLevelInfo, database.LogCategorySystem, "serve", "Server started", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		period := opts.ShutdownPeriod
		if period <= 0 {
			period = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), period)
		defer cancel()
		log.Printf("Server shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if opts.CheckInterval > 0 {
		g.Go(func() error {
			every(gctx, opts.CheckInterval, func() { checkAlerts(gctx, svc) })
			return nil
		})
	}
	if opts.MaintainEvery > 0 {
		g.Go(func() error {
			svc.Maintain()
			every(gctx, opts.MaintainEvery, svc.Maintain)
			return nil
		})
	}

	return g.Wait()
}

// every runs fn on each tick until ctx is done
func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func checkAlerts(ctx context.Context, svc *service.Service) {
	_, fired, err := svc.CheckAlerts(ctx, svc.Config.DefaultWindow)
	switch {
	case errors.Is(err, service.ErrNoSnapshot):
		log.Printf("Alert check skipped: no snapshot in the last %v", svc.Config.DefaultWindow)
	case err != nil:
		log.Printf("Alert check failed: %v", err)
	case len(fired) > 0:
		log.Printf("Alert check fired %d alert(s)", len(fired))
	}
}
