package metadata

import (
	"strconv"
	"strings"
)

// metadataDocument mirrors the <metadata> root of MusicBrainz XML responses. Element
// names are matched without namespace, so the mmd-2.0 default namespace is accepted.
type metadataDocument struct {
	Release     *releaseElement    `xml:"release"`
	ReleaseList releaseListElement `xml:"release-list"`
}

type releaseListElement struct {
	Count    int              `xml:"count,attr"`
	Releases []releaseElement `xml:"release"`
}

type releaseElement struct {
	ID     string          `xml:"id,attr"`
	Score  string          `xml:"score,attr"`
	Title  string          `xml:"title"`
	Date   string          `xml:"date"`
	Medium []mediumElement `xml:"medium-list>medium"`
}

type mediumElement struct {
	Position int            `xml:"position"`
	Tracks   []trackElement `xml:"track-list>track"`
}

type trackElement struct {
	Title     string           `xml:"title"`
	Length    string           `xml:"length"`
	Recording recordingElement `xml:"recording"`
}

type recordingElement struct {
	Title  string `xml:"title"`
	Length string `xml:"length"`
	Video  string `xml:"video"`
}

// best returns the highest scoring release. Releases without a score keep their
// response order, which MusicBrainz already sorts by relevance.
func (l releaseListElement) best() (releaseElement, bool) {
	bestIndex := -1
	bestScore := -1
	for index, release := range l.Releases {
		if strings.TrimSpace(release.ID) == "" {
			continue
		}
		score, err := strconv.Atoi(strings.TrimSpace(release.Score))
		if err != nil {
			score = 0
		}
		if score > bestScore {
			bestIndex = index
			bestScore = score
		}
	}
	if bestIndex < 0 {
		return releaseElement{}, false
	}
	return l.Releases[bestIndex], true
}

func (r releaseElement) toRelease() Release {
	release := Release{
		ID:   strings.TrimSpace(r.ID),
		Date: strings.TrimSpace(r.Date),
	}
	for _, medium := range r.Medium {
		for _, track := range medium.Tracks {
			title := strings.TrimSpace(track.Recording.Title)
			if title == "" {
				title = strings.TrimSpace(track.Title)
			}
			if title == "" {
				continue
			}
			length := parseMillis(track.Length)
			if length == 0 {
				length = parseMillis(track.Recording.Length)
			}
			release.Tracks = append(release.Tracks, Track{
				Title:    title,
				LengthMS: length,
				HasVideo: strings.EqualFold(strings.TrimSpace(track.Recording.Video), "true"),
			})
		}
	}
	return release
}

func parseMillis(raw string) int64 {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

// formatLength renders milliseconds as m:ss, rounding to the nearest second.
func formatLength(ms int64) string {
	total := (ms + 500) / 1000
	return strconv.FormatInt(total/60, 10) + ":" + leftPad(strconv.FormatInt(total%60, 10))
}

func leftPad(seconds string) string {
	if len(seconds) < 2 {
		return "0" + seconds
	}
	return seconds
}
