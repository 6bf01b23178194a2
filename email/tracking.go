package email

// TrackLinks selects which message parts get click tracking.
type TrackLinks string

const (
	TrackLinksNone        TrackLinks = "None"
	TrackLinksHTMLAndText TrackLinks = "HtmlAndText"
	TrackLinksHTMLOnly    TrackLinks = "HtmlOnly"
	TrackLinksTextOnly    TrackLinks = "TextOnly"
)

// Valid reports whether t is one of the known values.
func (t TrackLinks) Valid() bool {
	switch t {
	case TrackLinksNone, TrackLinksHTMLAndText, TrackLinksHTMLOnly, TrackLinksTextOnly:
		return true
	}
	return false
}

// ParseTrackLinks parses the wire spelling of a TrackLinks value. An empty
// string yields TrackLinksNone.
func ParseTrackLinks(s string) (TrackLinks, error) {
	if s == "" {
		return TrackLinksNone, nil
	}
	t := TrackLinks(s)
	if !t.Valid() {
		return "", invalid("track_links", ErrInvalidTrackLinks, "%q", s)
	}
	return t, nil
}

func (t TrackLinks) String() string {
	if t == "" {
		return string(TrackLinksNone)
	}
	return string(t)
}
