package recording

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/beamcast/beamcast/internal/media"
)

type mediaStream struct {
	port  int
	kind  media.Kind
	codec *media.RTPCodecParameters
}

// buildSDP generates the session description an external recorder feeds to
// its receiver (ffmpeg and friends). Each stream is described as recvonly
// RTP/AVP on the port the recorder asked for.
func buildSDP(recordingIP string, streams ...mediaStream) (string, error) {
	sessionID := uint64(time.Now().Unix())
	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: recordingIP,
		},
		SessionName: "beamcast recording",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: recordingIP},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
	}

	for _, s := range streams {
		payloadType := strconv.Itoa(int(s.codec.PayloadType))
		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   string(s.kind),
				Port:    sdp.RangedPort{Value: s.port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{payloadType},
			},
		}
		md = md.WithValueAttribute("rtpmap", fmt.Sprintf("%s %s", payloadType, rtpmapEncoding(s.codec)))
		md = md.WithPropertyAttribute("recvonly")
		desc = desc.WithMedia(md)
	}

	raw, err := desc.Marshal()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// rtpmapEncoding renders "<encoding>/<clock rate>[/<channels>]" from the
// negotiated codec, e.g. "opus/48000/2" from mime type "audio/opus".
func rtpmapEncoding(codec *media.RTPCodecParameters) string {
	encoding := codec.MimeType
	if i := strings.IndexByte(encoding, '/'); i >= 0 {
		encoding = encoding[i+1:]
	}
	if codec.Channels > 1 {
		return fmt.Sprintf("%s/%d/%d", encoding, codec.ClockRate, codec.Channels)
	}
	return fmt.Sprintf("%s/%d", encoding, codec.ClockRate)
}
