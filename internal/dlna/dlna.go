package dlna

import (
	"fmt"
	"strings"
)

// Header names used between renderers and media servers.
const (
	HeaderTransferMode        = "transferMode.dlna.org"
	HeaderContentFeatures     = "contentFeatures.dlna.org"
	HeaderGetContentFeatures  = "getcontentFeatures.dlna.org"
	TransferModeStreaming     = "Streaming"
	TransferModeInteractive   = "Interactive"
	flagsByteSeekStreaming    = "01700000000000000000000000000000"
	flagsByteSeekInteractive  = "00f00000000000000000000000000000"
	operationsByteSeek        = "DLNA.ORG_OP=01"
	conversionIndicatorNative = "DLNA.ORG_CI=0"
)

var profiles = map[string]string{
	"audio/mpeg":              "MP3",
	"audio/mp3":               "MP3",
	"audio/mp4":               "AAC_ISO_320",
	"audio/x-m4a":             "AAC_ISO_320",
	"audio/l16":               "LPCM",
	"audio/x-ms-wma":          "WMABASE",
	"image/jpeg":              "JPEG_LRG",
	"image/png":               "PNG_LRG",
	"video/mpeg":              "MPEG_PS_PAL",
	"video/x-ms-wmv":          "WMVHIGH_FULL",
	"video/vnd.dlna.mpeg-tts": "MPEG_TS_HD_NA",
}

// ContentFeatures renders the fourth protocolInfo field for a mime type.
func ContentFeatures(mime string) string {
	parts := []string{}
	if pn, ok := profiles[strings.ToLower(mime)]; ok {
		parts = append(parts, "DLNA.ORG_PN="+pn)
	}
	flags := flagsByteSeekStreaming
	if isImage(mime) {
		flags = flagsByteSeekInteractive
	}
	parts = append(parts, operationsByteSeek, conversionIndicatorNative, "DLNA.ORG_FLAGS="+flags)
	return strings.Join(parts, ";")
}

// ProtocolInfo renders a full protocolInfo value for an HTTP resource.
func ProtocolInfo(mime string) string {
	if mime == "" {
		mime = "application/octet-stream"
	}
	return fmt.Sprintf("http-get:*:%s:%s", mime, ContentFeatures(mime))
}

// TransferMode picks the transfer mode a renderer expects for mime.
func TransferMode(mime string) string {
	if isImage(mime) {
		return TransferModeInteractive
	}
	return TransferModeStreaming
}

// SourceProtocols lists what the server can serve, for GetProtocolInfo.
func SourceProtocols() string {
	mimes := []string{
		"audio/mpeg", "audio/flac", "audio/mp4", "audio/x-m4a", "audio/ogg", "audio/wav", "audio/L16",
		"video/mp4", "video/x-matroska", "video/mpeg", "video/vnd.dlna.mpeg-tts", "video/x-msvideo", "video/webm",
		"image/jpeg", "image/png",
	}
	out := make([]string, 0, len(mimes))
	for _, mime := range mimes {
		out = append(out, ProtocolInfo(mime))
	}
	return strings.Join(out, ",")
}

func isImage(mime string) bool {
	return strings.HasPrefix(strings.ToLower(mime), "image/")
}

// MimeFromProtocolInfo returns the content format field of a protocolInfo.
func MimeFromProtocolInfo(protocolInfo string) string {
	parts := strings.Split(protocolInfo, ":")
	if len(parts) >= 3 && strings.TrimSpace(parts[2]) != "" {
		return strings.TrimSpace(parts[2])
	}
	return ""
}

// FormatDuration renders H:MM:SS.mmm as used by res@duration.
func FormatDuration(ms int64) string {
	if ms <= 0 {
		return ""
	}
	hours := ms / 3600000
	mins := (ms / 60000) % 60
	secs := (ms / 1000) % 60
	return fmt.Sprintf("%d:%02d:%02d.%03d", hours, mins, secs, ms%1000)
}
