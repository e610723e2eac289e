package webrtc

import "github.com/pion/webrtc/v3"

// DataChannelProtocol is the sub-protocol announced on transfer channels.
const DataChannelProtocol = "sharesync-file-transfer"

// ICEConfig returns a configuration using the given STUN servers.
func ICEConfig(stunServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return cfg
}

// DataChannelConfig returns an ordered, fully reliable channel config.
// Chunk reassembly depends on every message arriving.
func DataChannelConfig() *webrtc.DataChannelInit {
	protocolName := DataChannelProtocol
	ordered := true
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: nil,
		Protocol:       &protocolName,
	}
}
