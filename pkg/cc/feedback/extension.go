package feedback

import (
	"github.com/pion/interceptor"
)

// RTP header extension URIs carrying sender-side timing. Their IDs are
// assigned during SDP negotiation and arrive via StreamInfo.
const (
	// AbsSendTimeURI is the 3-byte abs-send-time extension: 6.18 fixed
	// point seconds, wrapping every 64 seconds.
	AbsSendTimeURI = "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"

	// AbsCaptureTimeURI is the 8-byte abs-capture-time extension: UQ32.32
	// NTP capture timestamp.
	AbsCaptureTimeURI = "http://www.webrtc.org/experiments/rtp-hdrext/abs-capture-time"
)

// FindExtensionID returns the negotiated ID for uri, or 0 when the
// extension was not negotiated. ID 0 is invalid per RFC 5285, so callers
// treat it as "absent".
func FindExtensionID(exts []interceptor.RTPHeaderExtension, uri string) uint8 {
	for _, ext := range exts {
		if ext.URI == uri {
			return uint8(ext.ID)
		}
	}
	return 0
}

// FindAbsSendTimeID looks up the abs-send-time extension ID.
func FindAbsSendTimeID(exts []interceptor.RTPHeaderExtension) uint8 {
	return FindExtensionID(exts, AbsSendTimeURI)
}

// FindAbsCaptureTimeID looks up the abs-capture-time extension ID.
func FindAbsCaptureTimeID(exts []interceptor.RTPHeaderExtension) uint8 {
	return FindExtensionID(exts, AbsCaptureTimeURI)
}
