// Package server multiplexes every signaling transport and the operational
// endpoints on a single listener.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/improbable-eng/grpc-web/go/grpcweb"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/soheilhy/cmux"
	websocketjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	grpcServer "github.com/pion/ion-sfu-room/cmd/signal/grpc/server"
	jsonrpcServer "github.com/pion/ion-sfu-room/cmd/signal/json-rpc/server"
	"github.com/pion/ion-sfu-room/pkg/hub"
	"github.com/pion/ion-sfu-room/pkg/sfu"
)

const shutdownTimeout = 5 * time.Second

// Config holds the listener settings.
type Config struct {
	Addr string `mapstructure:"addr"`
	Cert string `mapstructure:"cert"`
	Key  string `mapstructure:"key"`
	// AllowedOrigins restricts browser origins. Empty or "*" allows all.
	AllowedOrigins        []string      `mapstructure:"allowedorigins"`
	WebsocketPingInterval time.Duration `mapstructure:"websocketpinginterval"`
}

// Server serves JSON-RPC over websocket, gRPC, gRPC-Web, health, metrics
// and a room listing.
type Server struct {
	conf Config
	sfu  *sfu.SFU
	hub  *hub.Hub

	grpc    *grpc.Server
	web     *grpcweb.WrappedGrpcServer
	http    *http.Server
	upgrade websocket.Upgrader
}

// New creates a server for s. Outbound SFU messages must be routed to h.
func New(c Config, s *sfu.SFU, h *hub.Hub) *Server {
	srv := &Server{conf: c, sfu: s, hub: h}

	origins := makeAllowedOrigins(c.AllowedOrigins)
	srv.upgrade = websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return origins.IsAllowed(r.Header.Get("Origin")) },
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	srv.grpc = grpc.NewServer(
		grpc.StreamInterceptor(grpc_prometheus.StreamServerInterceptor),
		grpc.UnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
	)
	grpcServer.RegisterSignalServer(srv.grpc, grpcServer.NewServer(h, s))
	grpc_prometheus.Register(srv.grpc)

	options := []grpcweb.Option{
		grpcweb.WithCorsForRegisteredEndpointsOnly(false),
		grpcweb.WithOriginFunc(origins.IsAllowed),
		grpcweb.WithWebsockets(true),
		grpcweb.WithWebsocketOriginFunc(func(req *http.Request) bool {
			origin, err := grpcweb.WebsocketRequestOrigin(req)
			if err != nil {
				sfu.Logger.Error(err, "websocket origin")
				return false
			}
			return origins.IsAllowed(origin)
		}),
	}
	if c.WebsocketPingInterval >= time.Second {
		options = append(options, grpcweb.WithWebsocketPingInterval(c.WebsocketPingInterval))
	}
	srv.web = grpcweb.WrapServer(srv.grpc, options...)

	srv.http = &http.Server{Handler: srv.Handler()}
	return srv
}

// Handler returns the HTTP/1 handler: gRPC-Web requests go to the wrapped
// gRPC server and everything else to the gin router.
func (s *Server) Handler() http.Handler {
	router := s.router()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.web.IsGrpcWebRequest(r) || s.web.IsGrpcWebSocketRequest(r) || s.web.IsAcceptableGrpcCorsRequest(r) {
			s.web.ServeHTTP(w, r)
			return
		}
		router.ServeHTTP(w, r)
	})
}

func (s *Server) router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws", s.serveWebsocket)
	// for K8s probe
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/rooms", func(c *gin.Context) { c.JSON(http.StatusOK, s.sfu.Rooms()) })

	allowed := s.conf.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(r)
}

func (s *Server) serveWebsocket(c *gin.Context) {
	conn, err := s.upgrade.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sfu.Logger.V(1).Info("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	jsonrpcServer.Serve(c.Request.Context(), websocketjsonrpc2.NewObjectStream(conn), s.hub, s.sfu)
}

// ListenAndServe listens on the configured address, with TLS when a
// certificate is configured, and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.conf.Addr)
	if err != nil {
		return err
	}
	if s.conf.Cert != "" && s.conf.Key != "" {
		cer, err := tls.LoadX509KeyPair(s.conf.Cert, s.conf.Key)
		if err != nil {
			l.Close()
			return err
		}
		// grpc clients only offer h2, browsers get http/1.1.
		l = tls.NewListener(l, &tls.Config{
			Certificates: []tls.Certificate{cer},
			NextProtos:   []string{"http/1.1", "h2"},
		})
	}
	sfu.Logger.V(0).Info("Starting signal server", "addr", l.Addr().String(), "tls_enabled", s.conf.Cert != "")
	return s.Serve(ctx, l)
}

// Serve splits l between the gRPC server and the HTTP handler. When ctx is
// done every signaling connection is closed, which departs its participant.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	m := cmux.New(l)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreClosed(s.grpc.Serve(grpcL)) })
	g.Go(func() error { return ignoreClosed(s.http.Serve(httpL)) })
	g.Go(func() error { return ignoreClosed(m.Serve()) })
	g.Go(func() error {
		<-ctx.Done()
		s.hub.Close()
		// Signal streams never finish on their own, so no graceful stop.
		s.grpc.Stop()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// cmux listeners share the root listener, so closing twice is expected.
		err := s.http.Shutdown(sctx)
		l.Close()
		return ignoreClosed(err)
	})
	return g.Wait()
}

func ignoreClosed(err error) error {
	switch {
	case err == nil,
		errors.Is(err, http.ErrServerClosed),
		errors.Is(err, grpc.ErrServerStopped),
		errors.Is(err, cmux.ErrListenerClosed),
		errors.Is(err, net.ErrClosed):
		return nil
	}
	return err
}

type allowedOrigins struct {
	all     bool
	origins map[string]struct{}
}

func makeAllowedOrigins(origins []string) *allowedOrigins {
	a := &allowedOrigins{all: len(origins) == 0, origins: map[string]struct{}{}}
	for _, o := range origins {
		if o == "*" {
			a.all = true
		}
		a.origins[o] = struct{}{}
	}
	return a
}

func (a *allowedOrigins) IsAllowed(origin string) bool {
	if a.all || origin == "" {
		return true
	}
	_, ok := a.origins[origin]
	return ok
}
