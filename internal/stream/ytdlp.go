package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	ytdlp "github.com/lrstanley/go-ytdlp"
)

// YtdlpOptions are the flags shared by every yt-dlp invocation.
type YtdlpOptions struct {
	CookiesPath string
	Proxy       string
}

func (o YtdlpOptions) command() *ytdlp.Command {
	cmd := ytdlp.New().
		NoWarnings().
		IgnoreConfig()
	if o.CookiesPath != "" {
		cmd.Cookies(o.CookiesPath)
	}
	if o.Proxy != "" {
		cmd.Proxy(o.Proxy)
	}
	return cmd
}

var (
	installOnce sync.Once
	installErr  error
)

// EnsureInstalled downloads a yt-dlp binary if none is available. Only the
// first call does any work.
func EnsureInstalled(ctx context.Context) error {
	installOnce.Do(func() {
		if _, err := ytdlp.Install(ctx, nil); err != nil {
			installErr = fmt.Errorf("install yt-dlp: %w", err)
			return
		}
		slog.Info("yt-dlp ready")
	})
	return installErr
}

// Info is the subset of yt-dlp's JSON output the bot uses.
type Info struct {
	ID               string
	Title            string
	Uploader         string
	WebpageURL       string
	URL              string
	Thumbnail        string
	Duration         time.Duration
	IsLive           bool
	RequestedFormats []string
	Formats          []string
}

// AudioURL returns the best playable URL.
// Preferred order: requested formats, top-level url, then formats.
func (i *Info) AudioURL() string {
	for _, u := range i.RequestedFormats {
		if strings.HasPrefix(u, "http") {
			return u
		}
	}
	if strings.HasPrefix(i.URL, "http") {
		return i.URL
	}
	for _, u := range i.Formats {
		if strings.HasPrefix(u, "http") {
			return u
		}
	}
	return ""
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func formatURLs(fs []*ytdlp.ExtractedFormat) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		if f != nil && f.URL != "" {
			out = append(out, f.URL)
		}
	}
	return out
}

func infoFromExtracted(e *ytdlp.ExtractedInfo) *Info {
	info := &Info{
		ID:               e.ID,
		Title:            deref(e.Title),
		Uploader:         deref(e.Uploader),
		WebpageURL:       deref(e.WebpageURL),
		URL:              deref(e.URL),
		Duration:         time.Duration(deref(e.Duration) * float64(time.Second)),
		IsLive:           deref(e.IsLive),
		RequestedFormats: formatURLs(e.RequestedFormats),
		Formats:          formatURLs(e.Formats),
	}
	for i := len(e.Thumbnails) - 1; i >= 0; i-- {
		if t := e.Thumbnails[i]; t != nil && t.URL != "" {
			info.Thumbnail = t.URL
			break
		}
	}
	return info
}

// GetInfo runs yt-dlp -J for target. Search and playlist results resolve to
// their first entry.
func GetInfo(ctx context.Context, opts YtdlpOptions, target string) (*Info, error) {
	res, err := opts.command().
		Format("ba[acodec^=opus]/ba[ext=m4a]/bestaudio/best").
		NoPlaylist().
		DumpJSON().
		Run(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp run: %w%s", err, stderrTail(res))
	}

	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, errors.New("parse yt-dlp json: no info returned")
	}

	ext := infos[0]
	if len(ext.Entries) > 0 {
		for _, e := range ext.Entries {
			if e != nil {
				return infoFromExtracted(e), nil
			}
		}
		return nil, errors.New("no results")
	}
	return infoFromExtracted(ext), nil
}

// downloaded describes the file yt-dlp wrote.
type downloaded struct {
	Path       string
	Title      string
	WebpageURL string
	Thumbnail  string
	Duration   time.Duration
}

const downloadPrint = "after_move:%(filepath)s\t%(title)s\t%(duration)s\t%(webpage_url)s\t%(thumbnail)s"

// download fetches the best audio for target into dir.
func download(ctx context.Context, opts YtdlpOptions, target, dir string) (downloaded, error) {
	res, err := opts.command().
		Format("bestaudio[ext=webm]/bestaudio/best").
		Output(dir + "/%(id)s.%(ext)s").
		Print(downloadPrint).
		NoSimulate().
		NoPart().
		NoPlaylist().
		Run(ctx, target)
	if err != nil {
		return downloaded{}, fmt.Errorf("yt-dlp download: %w%s", err, stderrTail(res))
	}
	d, ok := parseDownloadOutput(res.Stdout)
	if !ok {
		return downloaded{}, errors.New("yt-dlp download: no file reported")
	}
	return d, nil
}

// parseDownloadOutput reads the last line printed with downloadPrint.
func parseDownloadOutput(stdout string) (downloaded, bool) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		parts := strings.Split(strings.TrimRight(lines[i], "\r"), "\t")
		if len(parts) < 2 || parts[0] == "" {
			continue
		}
		d := downloaded{Path: parts[0], Title: parts[1]}
		if len(parts) > 2 {
			if secs, err := strconv.ParseFloat(parts[2], 64); err == nil {
				d.Duration = time.Duration(secs * float64(time.Second))
			}
		}
		if len(parts) > 3 && parts[3] != "NA" {
			d.WebpageURL = parts[3]
		}
		if len(parts) > 4 && parts[4] != "NA" {
			d.Thumbnail = parts[4]
		}
		return d, true
	}
	return downloaded{}, false
}

func stderrTail(res *ytdlp.Result) string {
	if res == nil {
		return ""
	}
	s := strings.TrimSpace(res.Stderr)
	if s == "" {
		return ""
	}
	if len(s) > 300 {
		s = s[len(s)-300:]
	}
	return " (" + s + ")"
}
