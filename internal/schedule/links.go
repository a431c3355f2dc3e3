package schedule

import "regexp"

var youtubeURL = regexp.MustCompile(`^((?:https?:)?//)?((?:www|m)\.)?((?:youtube(-nocookie)?\.com|youtu\.be))(/(?:[\w\-]+\?v=|embed/|live/|v/)?)([\w\-]+)(\S+)?$`)

// IsYouTubeURL reports whether u points at a YouTube video or stream.
func IsYouTubeURL(u string) bool { return youtubeURL.MatchString(u) }
