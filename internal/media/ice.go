package media

import (
	"net"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Config holds the ICE servers and media sources of an Engine.
type Config struct {
	STUNServers []string
	TURNServers []string
	TURNUser    string
	TURNPass    string

	// ForceRelay sends all media through TURN when TURN is configured.
	ForceRelay bool

	Sources Sources
}

func (e *Engine) newPeerConnection() (*webrtc.PeerConnection, error) {
	var iceServers []webrtc.ICEServer
	if len(e.cfg.STUNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: e.cfg.STUNServers})
	}
	if len(e.cfg.TURNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       e.cfg.TURNServers,
			Username:   e.cfg.TURNUser,
			Credential: e.cfg.TURNPass,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if len(e.cfg.TURNServers) > 0 && (e.cfg.ForceRelay || ShouldForceRelay()) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
}

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or
// CGNAT, where direct paths rarely work and TURN should carry the media.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	// Cloudflare WARP, Tailscale and carrier grade NATs use 100.64.0.0/10.
	_, cgnatBlock, _ := net.ParseCIDR("100.64.0.0/10")

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isTunnelInterface(iface.Name) {
			return true
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if cgnatBlock.Contains(ip) {
				return true
			}
		}
	}

	return false
}

func isTunnelInterface(name string) bool {
	name = strings.ToLower(name)
	for _, marker := range []string{"tun", "tap", "wg", "ppp", "warp"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}
