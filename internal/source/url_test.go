package source

import (
	"testing"

	"github.com/snarg/clip-engine/internal/pipeline"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		in       string
		kind     URLKind
		videoID  string
		listURL  string
		playlist string
	}{
		{"dQw4w9WgXcQ", KindVideo, "dQw4w9WgXcQ", "", ""},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", KindVideo, "dQw4w9WgXcQ", "", ""},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL1234567890ab", KindVideo, "dQw4w9WgXcQ", "", ""},
		{"youtube.com/watch?v=dQw4w9WgXcQ", KindVideo, "dQw4w9WgXcQ", "", ""},
		{"https://youtu.be/dQw4w9WgXcQ", KindVideo, "dQw4w9WgXcQ", "", ""},
		{"https://m.youtube.com/shorts/dQw4w9WgXcQ?feature=share", KindVideo, "dQw4w9WgXcQ", "", ""},
		{"https://www.youtube.com/playlist?list=PL1234567890ab", KindPlaylist, "", "https://www.youtube.com/playlist?list=PL1234567890ab", "PL1234567890ab"},
		{"https://www.youtube.com/@somechannel", KindChannel, "", "https://www.youtube.com/@somechannel/videos", ""},
		{"https://www.youtube.com/@somechannel/videos", KindChannel, "", "https://www.youtube.com/@somechannel/videos", ""},
		{"https://www.youtube.com/channel/UCabcdef/featured", KindChannel, "", "https://www.youtube.com/channel/UCabcdef/videos", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseURL(tt.in)
			if err != nil {
				t.Fatalf("ParseURL(%q): %v", tt.in, err)
			}
			if d.Kind != tt.kind || d.VideoID != tt.videoID || d.ListURL != tt.listURL || d.PlaylistID != tt.playlist {
				t.Errorf("ParseURL(%q) = %+v", tt.in, d)
			}
		})
	}
}

func TestParseURL_Malformed(t *testing.T) {
	for _, in := range []string{
		"",
		"not a url",
		"https://vimeo.com/12345",
		"https://youtu.be/short",
		"https://www.youtube.com/watch?v=tooshort",
		"https://www.youtube.com/feed/trending",
	} {
		_, err := ParseURL(in)
		if err == nil {
			t.Errorf("ParseURL(%q) should fail", in)
			continue
		}
		if pipeline.KindOf(err) != pipeline.KindMalformedURL || pipeline.ClassOf(err) != pipeline.Permanent {
			t.Errorf("ParseURL(%q) err = %v, want permanent malformed_url", in, err)
		}
	}
}
