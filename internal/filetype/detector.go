package filetype

import (
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Modality is the payload kind a batch carries.
type Modality string

const (
	Text  Modality = "text"
	Image Modality = "image"
	Video Modality = "video"
)

var extensions = map[Modality][]string{
	Text:  {".txt"},
	Image: {".jpg", ".jpeg", ".png", ".gif", ".webp"},
	Video: {".mp4", ".mov", ".avi", ".mkv", ".webm", ".flv"},
}

// ParseModality accepts "text", "image" or "video" in any case.
func ParseModality(s string) (Modality, error) {
	m := Modality(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := extensions[m]; !ok {
		return "", fmt.Errorf("unknown modality %q", s)
	}
	return m, nil
}

// Extensions returns the allow-list for m.
func Extensions(m Modality) []string {
	return append([]string(nil), extensions[m]...)
}

// Eligible reports whether key carries an extension allowed for m.
func Eligible(m Modality, key string) bool {
	ext := strings.ToLower(path.Ext(key))
	for _, e := range extensions[m] {
		if ext == e {
			return true
		}
	}
	return false
}

// MediaInfo describes a binary payload for the request schemas.
type MediaInfo struct {
	MIMEType string // e.g. image/png
	Format   string // short format tag: jpeg, png, mp4, mov...
	Sniffed  bool   // true when taken from magic bytes rather than the name
}

// Detector sniffs media formats using magic bytes, falling back to the file name.
type Detector struct{}

func New() *Detector {
	return &Detector{}
}

// Detect classifies data for the given modality. Text always yields text/plain.
func (d *Detector) Detect(m Modality, name string, data []byte) (MediaInfo, error) {
	switch m {
	case Text:
		return MediaInfo{MIMEType: "text/plain", Format: "txt"}, nil
	case Image:
		return d.image(name, data), nil
	case Video:
		return d.video(name, data), nil
	}
	return MediaInfo{}, fmt.Errorf("unknown modality %q", m)
}

func (d *Detector) image(name string, data []byte) MediaInfo {
	mtype := mimetype.Detect(data)
	if mime := mtype.String(); strings.HasPrefix(mime, "image/") {
		format := strings.TrimPrefix(mime, "image/")
		format = strings.TrimPrefix(format, "x-ms-")
		log.Debug().Str("mime", mime).Str("file", name).Msg("detected image type")
		return MediaInfo{MIMEType: "image/" + format, Format: format, Sniffed: true}
	}

	format := extFormat(name)
	switch format {
	case "jpg", "":
		format = "jpeg"
	}
	log.Debug().Str("file", name).Str("format", format).Msg("image type from extension")
	return MediaInfo{MIMEType: "image/" + format, Format: format}
}

var videoFormats = map[string]string{
	"video/mp4":        "mp4",
	"video/quicktime":  "mov",
	"video/x-msvideo":  "avi",
	"video/x-matroska": "mkv",
	"video/webm":       "webm",
	"video/x-flv":      "flv",
}

func (d *Detector) video(name string, data []byte) MediaInfo {
	mtype := mimetype.Detect(data)
	for m := mtype; m != nil; m = m.Parent() {
		if f, ok := videoFormats[m.String()]; ok {
			return MediaInfo{MIMEType: m.String(), Format: f, Sniffed: true}
		}
	}

	format := extFormat(name)
	if !Eligible(Video, name) {
		format = "mp4"
	}
	for mime, f := range videoFormats {
		if f == format {
			return MediaInfo{MIMEType: mime, Format: format}
		}
	}
	return MediaInfo{MIMEType: "video/mp4", Format: "mp4"}
}

func extFormat(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

// FormatSize renders a byte count as B, KB or MB.
func FormatSize(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%dB", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(size)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(size)/(1024*1024))
	}
}
