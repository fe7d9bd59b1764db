package sfu

import (
	"context"
	"time"

	"github.com/bep/debounce"
	"github.com/gammazero/workerpool"
	"github.com/go-logr/logr"

	"github.com/pion/ion-sfu-room/pkg/logger"
	"github.com/pion/ion-sfu-room/pkg/signal"
)

// Logger is the package logger. Replace it before NewSFU to change the output.
var Logger logr.Logger = logger.New().WithName("sfu")

const (
	defaultWorkers       = 16
	defaultStatsDebounce = 2 * time.Second
)

// RouterConfig tunes the signaling router.
type RouterConfig struct {
	// Workers bounds concurrent engine negotiations.
	Workers int `mapstructure:"workers"`
	// NegotiationTimeout bounds one offer/answer exchange. Zero means no limit.
	NegotiationTimeout time.Duration `mapstructure:"negotiationtimeout"`
	// StatsDebounce is the quiet period before room statistics are logged.
	StatsDebounce time.Duration `mapstructure:"statsdebounce"`
}

// Config for base SFU
type Config struct {
	Router RouterConfig `mapstructure:"sfu"`
}

// SFU wires the registries, the router and the lifecycle manager together.
type SFU struct {
	rooms  *RoomRegistry
	links  *LinkRegistry
	router *Router
	life   *Lifecycle
}

// NewSFU creates a new sfu instance on top of an engine. Outbound messages go to out.
func NewSFU(c Config, engine Engine, out Messenger) *SFU {
	workers := c.Router.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	quiet := c.Router.StatsDebounce
	if quiet <= 0 {
		quiet = defaultStatsDebounce
	}

	s := &SFU{
		rooms: NewRoomRegistry(),
		links: NewLinkRegistry(),
	}
	s.life = &Lifecycle{rooms: s.rooms, links: s.links, out: out}
	s.router = &Router{
		rooms:   s.rooms,
		links:   s.links,
		out:     out,
		life:    s.life,
		pool:    workerpool.New(workers),
		timeout: c.Router.NegotiationTimeout,
	}
	s.router.factory = NewFactory(engine, out, s.router.confirm)

	logStats := debounce.New(quiet)
	s.rooms.OnChange(func(n int) {
		roomsGauge.Set(float64(n))
		logStats(s.logStats)
	})
	return s
}

// Handle routes one decoded envelope from a participant.
func (s *SFU) Handle(ctx context.Context, from ParticipantID, env signal.Envelope) error {
	return s.router.Handle(ctx, from, env)
}

// Depart runs departure processing for p.
func (s *SFU) Depart(ctx context.Context, p ParticipantID) error {
	return s.life.Depart(ctx, p)
}

// Rooms returns a snapshot of every live room.
func (s *SFU) Rooms() []RoomInfo {
	return s.rooms.Snapshot()
}

// Close waits for pending negotiations and closes every remaining link.
func (s *SFU) Close() error {
	s.router.close()
	return s.links.CloseAll()
}

func (s *SFU) logStats() {
	ingest, egress := s.links.Counts()
	Logger.V(0).Info("sfu stats", "rooms", s.rooms.Len(), "ingest_links", ingest, "egress_links", egress)
}
