package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/nearwire/client"
	"github.com/luma/nearwire/internal/env"
	"github.com/luma/nearwire/internal/meta"
	"github.com/luma/nearwire/internal/telemetry"
	"github.com/luma/nearwire/storage"
	"github.com/luma/nearwire/transport"
	"github.com/luma/nearwire/version"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for primary nodes on
	port int

	// Number of SO_REUSEPORT listeners
	listeners int

	// How long a registered update waits for its response
	futureTimeout time.Duration

	// Stamp fields for future versions issued by this node
	topology  uint32
	nodeOrder uint32
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 7363, "The port to listen for primary node connections on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
	flags.IntVar(&listeners, "listeners", 0, "Number of listeners sharing the port, defaults to the number of CPUs")
	flags.Uint32Var(&topology, "topology", 1, "Topology version stamped on issued future versions")
	flags.Uint32Var(&nodeOrder, "node-order", 1, "This node's join order, stamped on issued future versions")
	flags.DurationVar(&futureTimeout, "future-timeout", 30*time.Second, "How long a registered update waits for its response")
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start up the nearwire service",
	Long: `Start up the nearwire service

Primary nodes connect on --port and send atomic update responses. Updates
registered through POST /futures are completed by them and their near values
are applied to the in-memory near cache.

Usage
	nearwire start

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		telemetry.SetBuildInfo(meta.Version, meta.Build)

		codec, err := newCodec(conf)
		if err != nil {
			return err
		}

		store := storage.NewInmemoryStore[string, []byte](storage.Options[string]{})
		defer store.Close()

		go logUpdates(store.ListenToUpdates(), log.Named("nearCache"))

		pending := client.NewPending[string, []byte](store, log.Named("pending"))

		tcp := transport.NewTCP(transport.Options{
			Host:         host,
			Port:         port,
			NumListeners: listeners,
			Codec:        codec,
			Handler:      pending,
			Log:          log.Named("transport"),
		})

		if err := tcp.Start(ctx); err != nil {
			return err
		}

		router := setupRouter(conf.DebugHTTP, log)
		registerRoutes(ctx, router, &admin{
			conf:     conf,
			store:    store,
			pending:  pending,
			versions: version.NewGenerator(topology, nodeOrder),
			started:  time.Now(),
			timeout:  futureTimeout,
			log:      log.Named("admin"),
		})

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Listening",
			zap.Any("config", conf),
			zap.String("host", host),
			zap.Stringer("addr", tcp.Addr()),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := tcp.Close(); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func logUpdates(updates <-chan *storage.Update[string, []byte], log *zap.Logger) {
	for update := range updates {
		if update.Entry == nil {
			log.Debug("Removed", zap.String("key", update.Key))
			continue
		}

		log.Debug("Stored",
			zap.String("key", update.Key),
			zap.Stringer("version", update.Entry.Version),
			zap.Int64("expireAt", update.Entry.ExpireAt))
	}
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, like a combined access and error log, except the
	// probes.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping", "/metrics"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
