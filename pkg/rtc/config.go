package rtc

import (
	"fmt"

	"github.com/pion/ice/v2"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
)

// DefaultSTUN is used when no ICE server is configured.
const DefaultSTUN = "stun:stun.l.google.com:19302"

// ICEServerConfig defines parameters for ice servers
type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// Candidates controls which local candidates are offered.
type Candidates struct {
	IceLite    bool     `mapstructure:"icelite"`
	NAT1To1IPs []string `mapstructure:"nat1to1"`
}

// WebRTCConfig defines parameters for ice
type WebRTCConfig struct {
	ICEPortRange []uint16          `mapstructure:"portrange"`
	ICEServers   []ICEServerConfig `mapstructure:"iceserver"`
	Candidates   Candidates        `mapstructure:"candidates"`
	// MDNS enables multicast DNS host candidates.
	MDNS bool `mapstructure:"mdns"`
}

// TransportConfig holds what NewEngine needs to create peer connections.
type TransportConfig struct {
	Configuration webrtc.Configuration
	Setting       webrtc.SettingEngine
}

// NewTransportConfig parses our settings and returns a usable TransportConfig for creating PeerConnections
func NewTransportConfig(c WebRTCConfig, lf logging.LoggerFactory) (TransportConfig, error) {
	se := webrtc.SettingEngine{}
	if lf != nil {
		se.LoggerFactory = lf
	}

	if n := len(c.ICEPortRange); n != 0 && n != 2 {
		return TransportConfig{}, fmt.Errorf("%w: got %d values", errPortRange, n)
	}
	if len(c.ICEPortRange) == 2 {
		if err := se.SetEphemeralUDPPortRange(c.ICEPortRange[0], c.ICEPortRange[1]); err != nil {
			return TransportConfig{}, fmt.Errorf("%w: %v", errPortRange, err)
		}
	}

	if c.MDNS {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	} else {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	var iceServers []webrtc.ICEServer
	if c.Candidates.IceLite {
		se.SetLite(true)
	} else {
		for _, s := range c.ICEServers {
			iceServers = append(iceServers, webrtc.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			})
		}
		if len(iceServers) == 0 {
			iceServers = []webrtc.ICEServer{{URLs: []string{DefaultSTUN}}}
		}
	}

	if len(c.Candidates.NAT1To1IPs) > 0 {
		se.SetNAT1To1IPs(c.Candidates.NAT1To1IPs, webrtc.ICECandidateTypeHost)
	}

	return TransportConfig{
		Configuration: webrtc.Configuration{
			ICEServers:   iceServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		},
		Setting: se,
	}, nil
}
