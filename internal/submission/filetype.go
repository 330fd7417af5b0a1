package submission

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Category groups file types for display.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryAudio    Category = "audio"
	CategoryVideo    Category = "video"
	CategoryDocument Category = "document"
)

const mb = 1 << 20

// FileType is an accepted upload format. MIME lists what a client may
// declare; Sniffed is what the content has to be detected as.
type FileType struct {
	Name      string
	MIME      []string
	Sniffed   string
	MaxSize   int64
	Category  Category
	Extension string
}

// Matches reports whether header is detected as the type's format. Container
// parents count, so any OLE file passes as DOC and any zip as DOCX.
func (t FileType) Matches(header []byte) bool {
	for m := mimetype.Detect(header); m != nil; m = m.Parent() {
		if m.Is(t.Sniffed) {
			return true
		}
	}
	return false
}

// FileTypes are the formats students may submit.
var FileTypes = []FileType{
	{Name: "PNG", MIME: []string{"image/png"}, Sniffed: "image/png", MaxSize: 5 * mb, Category: CategoryImage, Extension: ".png"},
	{Name: "JPEG", MIME: []string{"image/jpeg", "image/jpg"}, Sniffed: "image/jpeg", MaxSize: 5 * mb, Category: CategoryImage, Extension: ".jpg"},
	{Name: "MP3", MIME: []string{"audio/mp3", "audio/mpeg"}, Sniffed: "audio/mpeg", MaxSize: 25 * mb, Category: CategoryAudio, Extension: ".mp3"},
	{Name: "WAV", MIME: []string{"audio/wav", "audio/wave"}, Sniffed: "audio/wav", MaxSize: 25 * mb, Category: CategoryAudio, Extension: ".wav"},
	{Name: "OGG", MIME: []string{"audio/ogg"}, Sniffed: "application/ogg", MaxSize: 25 * mb, Category: CategoryAudio, Extension: ".ogg"},
	{Name: "WEBM_AUDIO", MIME: []string{"audio/webm"}, Sniffed: "audio/webm", MaxSize: 25 * mb, Category: CategoryAudio, Extension: ".webm"},
	{Name: "MP4", MIME: []string{"video/mp4"}, Sniffed: "video/mp4", MaxSize: 100 * mb, Category: CategoryVideo, Extension: ".mp4"},
	{Name: "WEBM_VIDEO", MIME: []string{"video/webm"}, Sniffed: "video/webm", MaxSize: 100 * mb, Category: CategoryVideo, Extension: ".webm"},
	{Name: "MOV", MIME: []string{"video/quicktime"}, Sniffed: "video/quicktime", MaxSize: 100 * mb, Category: CategoryVideo, Extension: ".mov"},
	{Name: "PDF", MIME: []string{"application/pdf"}, Sniffed: "application/pdf", MaxSize: 10 * mb, Category: CategoryDocument, Extension: ".pdf"},
	{Name: "DOC", MIME: []string{"application/msword"}, Sniffed: "application/x-ole-storage", MaxSize: 10 * mb, Category: CategoryDocument, Extension: ".doc"},
	{Name: "DOCX", MIME: []string{"application/vnd.openxmlformats-officedocument.wordprocessingml.document"}, Sniffed: "application/zip", MaxSize: 10 * mb, Category: CategoryDocument, Extension: ".docx"},
}

// HeaderSize is how many leading bytes content detection reads.
const HeaderSize = 3072

// LookupMIME finds the type declared by mime, ignoring parameters and case.
func LookupMIME(mime string) (FileType, bool) {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.ToLower(strings.TrimSpace(mime))
	for _, t := range FileTypes {
		for _, m := range t.MIME {
			if m == mime {
				return t, true
			}
		}
	}
	return FileType{}, false
}
