package rtc

import (
	"github.com/pion/sdp/v3"
)

// expectedTracks counts the audio and video sections in which the remote side
// sends media. It returns 0 when the description cannot be parsed.
func expectedTracks(raw string) int {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return 0
	}
	n := 0
	for _, md := range desc.MediaDescriptions {
		switch md.MediaName.Media {
		case "audio", "video":
		default:
			continue
		}
		if md.MediaName.Port.Value == 0 {
			continue
		}
		if _, ok := md.Attribute("recvonly"); ok {
			continue
		}
		if _, ok := md.Attribute("inactive"); ok {
			continue
		}
		n++
	}
	return n
}
