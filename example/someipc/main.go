package main

import (
	"context"
	"encoding/hex"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Zereker/someip"
)

// printer logs every message the endpoint delivers.
type printer struct {
	logger zerolog.Logger
}

func (p *printer) OnMessage(data []byte, ep *someip.Endpoint, meta someip.Metadata) {
	h, err := someip.ParseHeader(data)
	if err != nil {
		p.logger.Warn().Err(err).Int("len", len(data)).Msg("short message")
		return
	}

	p.logger.Info().
		Uint16("service", h.Service).
		Uint16("method", h.Method).
		Uint16("client", h.Client).
		Uint16("session", h.Session).
		Uint8("type", uint8(h.Type)).
		Str("from", net.JoinHostPort(meta.RemoteAddr.String(), strconv.Itoa(int(meta.RemotePort)))).
		Str("payload", hex.EncodeToString(data[someip.FullHeaderSize:])).
		Msg("message")
}

func (p *printer) ReleasePort(port uint16, reliable bool) {
	p.logger.Debug().Uint16("port", port).Bool("reliable", reliable).Msg("release port")
}

type flags struct {
	remote          string
	localPort       uint16
	maxSize         int
	shrinkThreshold int
	traceSize       int64
	maxTries        int
	service         uint16
	method          uint16
	debug           bool
}

func main() {
	var f flags

	cmd := &cobra.Command{
		Use:   "someipc",
		Short: "Connect to a SOME/IP service over TCP and print its messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
		SilenceUsage: true,
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.remote, "remote", "r", "127.0.0.1:30509", "service address")
	fl.Uint16Var(&f.localPort, "local-port", 0, "local port to bind, 0 for ephemeral")
	fl.IntVar(&f.maxSize, "max-size", 1024*1024, "maximum message size, 0 for unlimited")
	fl.IntVar(&f.shrinkThreshold, "shrink-threshold", 5, "receive buffer shrink threshold")
	fl.Int64Var(&f.traceSize, "trace-size", 4096, "bytes of received stream kept for corruption dumps")
	fl.IntVar(&f.maxTries, "max-tries", 0, "reconnect attempts, 0 for unlimited")
	fl.Uint16Var(&f.service, "service", 0, "send a request to this service id on start")
	fl.Uint16Var(&f.method, "method", 0x0001, "method id of the start request")
	fl.BoolVar(&f.debug, "debug", false, "enable debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	level := zerolog.InfoLevel
	if f.debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	remote, err := net.ResolveTCPAddr("tcp", f.remote)
	if err != nil {
		return err
	}

	ep, err := someip.NewEndpoint(remote, &printer{logger: logger},
		someip.LoggerOption(someip.ZerologLogger(logger)),
		someip.LocalPortOption(f.localPort),
		someip.MessageMaxSize(f.maxSize),
		someip.BufferShrinkThresholdOption(f.shrinkThreshold),
		someip.TraceSizeOption(f.traceSize),
	)
	if err != nil {
		return err
	}
	defer ep.Close()

	if f.service != 0 {
		msg := someip.NewMessage(someip.Header{
			Service:          f.service,
			Method:           f.method,
			Client:           0x0001,
			Session:          0x0001,
			InterfaceVersion: 0x01,
			Type:             someip.MessageTypeRequest,
		}, nil)
		// Queued until the first connection is up.
		if err := ep.Send(msg); err != nil {
			return err
		}
	}

	logger.Info().Str("remote", remote.String()).Msg("connecting")
	err = ep.Serve(ctx, &someip.RetryConfig{MaxTries: f.maxTries})
	if err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("endpoint stopped")
		return err
	}
	return nil
}
