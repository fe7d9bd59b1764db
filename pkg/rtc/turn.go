package rtc

import (
	"fmt"
	"net"
	"regexp"

	"github.com/pion/turn/v2"

	"github.com/pion/ion-sfu-room/pkg/logger"
)

// TurnConfig configures the embedded TURN server
type TurnConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Realm   string `mapstructure:"realm"`
	Address string `mapstructure:"address"`
	// Credentials is a list of user=password pairs separated by commas.
	Credentials string   `mapstructure:"credentials"`
	PortRange   []uint16 `mapstructure:"portrange"`
}

var credentialPair = regexp.MustCompile(`(\w+)=(\w+)`)

// TurnAuth returns a turn.AuthHandler for the configured credentials.
func TurnAuth(conf TurnConfig) (turn.AuthHandler, error) {
	users := map[string][]byte{}
	for _, kv := range credentialPair.FindAllStringSubmatch(conf.Credentials, -1) {
		users[kv[1]] = turn.GenerateAuthKey(kv[1], conf.Realm, kv[2])
	}
	if len(users) == 0 {
		return nil, ErrNoTurnAuth
	}
	return func(username, realm string, srcAddr net.Addr) ([]byte, bool) {
		key, ok := users[username]
		return key, ok
	}, nil
}

// Relay ports used when no turn port range is configured.
const (
	turnMinPort uint16 = 49152
	turnMaxPort uint16 = 65535
)

// InitTurnServer starts a TURN server on conf.Address. The relay address
// advertised to clients is the host part of that address.
func InitTurnServer(conf TurnConfig, auth turn.AuthHandler) (*turn.Server, error) {
	if auth == nil {
		var err error
		if auth, err = TurnAuth(conf); err != nil {
			return nil, err
		}
	}

	minPort, maxPort := turnMinPort, turnMaxPort
	switch len(conf.PortRange) {
	case 0:
	case 2:
		minPort, maxPort = conf.PortRange[0], conf.PortRange[1]
		if minPort == 0 || maxPort < minPort {
			return nil, fmt.Errorf("turn %w", errPortRange)
		}
	default:
		return nil, fmt.Errorf("turn %w", errPortRange)
	}

	host, _, err := net.SplitHostPort(conf.Address)
	if err != nil {
		return nil, fmt.Errorf("turn address %s: %w", conf.Address, err)
	}

	udpListener, err := net.ListenPacket("udp4", conf.Address)
	if err != nil {
		return nil, fmt.Errorf("turn listen %s: %w", conf.Address, err)
	}

	s, err := turn.NewServer(turn.ServerConfig{
		Realm:       conf.Realm,
		AuthHandler: auth,
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: udpListener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorPortRange{
					RelayAddress: net.ParseIP(host),
					Address:      "0.0.0.0",
					MinPort:      minPort,
					MaxPort:      maxPort,
				},
			},
		},
		LoggerFactory: logger.NewPionFactory(),
	})
	if err != nil {
		_ = udpListener.Close()
		return nil, fmt.Errorf("turn server: %w", err)
	}
	Logger.Info("turn server listening", "addr", udpListener.LocalAddr().String(), "realm", conf.Realm, "relay_ports", fmt.Sprintf("%d-%d", minPort, maxPort))
	return s, nil
}
