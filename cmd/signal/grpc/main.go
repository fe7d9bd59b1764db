// Package cmd contains an entrypoint for running a gRPC only sfu room server.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	ossignal "os/signal"
	"syscall"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/pion/ion-sfu-room/cmd/signal/grpc/server"
	"github.com/pion/ion-sfu-room/pkg/config"
	"github.com/pion/ion-sfu-room/pkg/hub"
	log "github.com/pion/ion-sfu-room/pkg/logger"
	"github.com/pion/ion-sfu-room/pkg/rtc"
	"github.com/pion/ion-sfu-room/pkg/sfu"
)

// Config defines parameters for configuring the sfu instance
type Config struct {
	sfu.Config `mapstructure:",squash"`
	WebRTC     rtc.WebRTCConfig `mapstructure:"webrtc"`
	LogConfig  log.GlobalConfig `mapstructure:"log"`
}

var (
	conf           = Config{}
	file           string
	addr           string
	metricsAddr    string
	verbosityLevel int
	paddr          string

	logger = log.New()
)

const defaultAddr = ":50051"

func parse() bool {
	flag.StringVar(&file, "c", "config.toml", "config file")
	flag.StringVar(&addr, "a", "", "address to use, overrides $PORT")
	flag.StringVar(&metricsAddr, "m", ":8100", "metrics to use")
	flag.IntVar(&verbosityLevel, "v", -1, "verbosity level, higher value - more logs")
	flag.StringVar(&paddr, "paddr", "", "pprof listening address")
	help := flag.Bool("h", false, "help info")
	flag.Parse()
	if *help {
		return false
	}

	if paddr == "" {
		paddr = os.Getenv("paddr")
	}

	if _, err := config.Load(viper.GetViper(), file, &conf); err != nil {
		logger.Error(err, "config load failed", "file", file)
		return false
	}
	if err := config.CheckICEPortRange(conf.WebRTC.ICEPortRange); err != nil {
		logger.Error(err, "invalid config", "file", file)
		return false
	}
	addr = config.ListenAddr(addr, defaultAddr)
	return true
}

// serveMetrics exposes the prometheus registry on its own listener.
func serveMetrics(addr string) {
	logger.Info("Metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
		logger.Error(err, "metrics server stopped", "addr", addr)
		os.Exit(1)
	}
}

func main() {
	if !parse() {
		flag.Usage()
		os.Exit(-1)
	}

	// Check that the -v is not set (default -1)
	if verbosityLevel < 0 {
		verbosityLevel = conf.LogConfig.V
	}

	log.SetGlobalOptions(log.GlobalConfig{V: verbosityLevel, Format: conf.LogConfig.Format})
	logger := log.New()

	logger.Info("--- Starting SFU Node ---")
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error(err, "failed to listen")
		os.Exit(1)
	}

	if paddr != "" {
		go func() {
			logger.Info("PProf Listening", "addr", paddr)
			_ = http.ListenAndServe(paddr, http.DefaultServeMux)
		}()
	}

	// SFU instance needs to be created with logr implementation
	sfu.Logger = logger.WithName("sfu")
	rtc.Logger = logger.WithName("rtc")
	hub.Logger = logger.WithName("hub")

	tc, err := rtc.NewTransportConfig(conf.WebRTC, log.NewPionFactory())
	if err != nil {
		logger.Error(err, "webrtc config")
		os.Exit(1)
	}
	engine, err := rtc.NewEngine(tc)
	if err != nil {
		logger.Error(err, "webrtc engine")
		os.Exit(1)
	}

	h := hub.New()
	nsfu := sfu.NewSFU(conf.Config, engine, h)

	s := grpc.NewServer(
		grpc.StreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	)
	server.RegisterSignalServer(s, server.NewServer(h, nsfu))
	grpc_prometheus.Register(s)

	go serveMetrics(metricsAddr)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	logger.Info("SFU Listening", "addr", addr)
	if err := s.Serve(lis); err != nil {
		logger.Error(err, "failed to serve SFU")
		os.Exit(1)
	}
	if err := nsfu.Close(); err != nil {
		logger.Error(err, "closing links")
	}
}
