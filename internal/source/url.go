package source

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/snarg/clip-engine/internal/pipeline"
)

// URLKind is what a source URL points at.
type URLKind string

const (
	KindVideo    URLKind = "video"
	KindPlaylist URLKind = "playlist"
	KindChannel  URLKind = "channel"
)

// Descriptor is a parsed source URL.
type Descriptor struct {
	Raw        string  `json:"url"`
	Kind       URLKind `json:"kind"`
	VideoID    string  `json:"video_id,omitempty"`
	PlaylistID string  `json:"playlist_id,omitempty"`
	// ListURL is the URL handed to the lister; channel URLs point at their
	// /videos tab.
	ListURL string `json:"list_url,omitempty"`
}

// WatchURL returns the canonical URL of a video id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

var (
	videoIDRe  = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)
	pathIDRe   = regexp.MustCompile(`/(?:shorts|embed|live|v)/([0-9A-Za-z_-]{11})(?:[/?#]|$)`)
	channelRe  = regexp.MustCompile(`^/(?:@[^/]+|channel/[^/]+|c/[^/]+|user/[^/]+)`)
	playlistRe = regexp.MustCompile(`^[0-9A-Za-z_-]{10,}$`)
)

// ParseURL classifies a source. A bare 11-character id is a video. Errors are
// Permanent KindMalformedURL.
func ParseURL(raw string) (Descriptor, error) {
	raw = strings.TrimSpace(raw)
	if videoIDRe.MatchString(raw) {
		return Descriptor{Raw: raw, Kind: KindVideo, VideoID: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Descriptor{}, pipeline.Errorf(pipeline.KindMalformedURL, pipeline.Permanent, "parse %q: %v", raw, err)
	}
	if u.Scheme == "" && u.Host == "" {
		// "youtube.com/watch?v=..." without a scheme
		if u, err = url.Parse("https://" + raw); err != nil {
			return Descriptor{}, pipeline.Errorf(pipeline.KindMalformedURL, pipeline.Permanent, "parse %q: %v", raw, err)
		}
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "music.")

	d := Descriptor{Raw: raw}
	switch host {
	case "youtu.be":
		id := strings.Trim(u.Path, "/")
		if !videoIDRe.MatchString(id) {
			return Descriptor{}, malformed(raw, "bad short link id")
		}
		d.Kind, d.VideoID = KindVideo, id
		return d, nil

	case "youtube.com", "youtube-nocookie.com":
		q := u.Query()
		if v := q.Get("v"); v != "" {
			if !videoIDRe.MatchString(v) {
				return Descriptor{}, malformed(raw, "bad video id")
			}
			d.Kind, d.VideoID = KindVideo, v
			return d, nil
		}
		if m := pathIDRe.FindStringSubmatch(u.Path); m != nil {
			d.Kind, d.VideoID = KindVideo, m[1]
			return d, nil
		}
		if list := q.Get("list"); list != "" {
			if !playlistRe.MatchString(list) {
				return Descriptor{}, malformed(raw, "bad playlist id")
			}
			d.Kind, d.PlaylistID = KindPlaylist, list
			d.ListURL = "https://www.youtube.com/playlist?list=" + list
			return d, nil
		}
		if m := channelRe.FindString(u.Path); m != "" {
			d.Kind = KindChannel
			d.ListURL = "https://www.youtube.com" + m + "/videos"
			return d, nil
		}
		return Descriptor{}, malformed(raw, "no video, playlist or channel")
	}
	return Descriptor{}, malformed(raw, "unsupported host "+host)
}

func malformed(raw, reason string) error {
	return pipeline.Errorf(pipeline.KindMalformedURL, pipeline.Permanent, "%q: %s", raw, reason)
}
