// Package cmd contains an entrypoint for running an sfu room server.
package main

import (
	"context"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/pion/ion-sfu-room/cmd/signal/allrpc/server"
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
	Turn       rtc.TurnConfig   `mapstructure:"turn"`
	Signal     server.Config    `mapstructure:"signal"`
	LogConfig  log.GlobalConfig `mapstructure:"log"`
}

var (
	conf           = Config{}
	file           string
	addr           string
	verbosityLevel int
	paddr          string

	logger = log.New()
)

const defaultAddr = ":8080"

func parse() bool {
	flag.StringVar(&file, "c", "config.toml", "config file")
	flag.StringVar(&addr, "a", "", "listen address, overrides signal.addr and $PORT")
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

	v := viper.GetViper()
	v.SetDefault("signal.addr", defaultAddr)
	v.SetDefault("sfu.workers", 16)
	found, err := config.Load(v, file, &conf)
	if err != nil {
		logger.Error(err, "config load failed", "file", file)
		return false
	}
	logger.V(0).Info("Config loaded", "file", file, "found", found)

	if err := config.CheckICEPortRange(conf.WebRTC.ICEPortRange); err != nil {
		logger.Error(err, "invalid config", "file", file)
		return false
	}
	conf.Signal.Addr = config.ListenAddr(addr, conf.Signal.Addr)
	return true
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

	// Package loggers must be replaced before anything is constructed.
	sfu.Logger = logger.WithName("sfu")
	rtc.Logger = logger.WithName("rtc")
	hub.Logger = logger.WithName("hub")

	logger.Info("--- Starting SFU Node ---")

	if paddr != "" {
		go func() {
			logger.Info("PProf Listening", "addr", paddr)
			_ = http.ListenAndServe(paddr, http.DefaultServeMux)
		}()
	}

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

	if conf.Turn.Enabled {
		auth, err := rtc.TurnAuth(conf.Turn)
		if err != nil {
			logger.Error(err, "turn auth")
			os.Exit(1)
		}
		ts, err := rtc.InitTurnServer(conf.Turn, auth)
		if err != nil {
			logger.Error(err, "could not init turn server")
			os.Exit(1)
		}
		defer ts.Close()
	}

	h := hub.New()
	nsfu := sfu.NewSFU(conf.Config, engine, h)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = server.New(conf.Signal, nsfu, h).ListenAndServe(ctx)
	if cerr := nsfu.Close(); cerr != nil {
		logger.Error(cerr, "closing links")
	}
	if err != nil {
		logger.Error(err, "failed to serve SFU")
		os.Exit(1)
	}
	logger.Info("--- SFU Node stopped ---")
}
