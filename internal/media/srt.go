package media

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"shortsq/internal/domain"
)

var cueTiming = regexp.MustCompile(`^(\d{1,2}:)?(\d{2}):(\d{2})[.,](\d{3})\s+-->\s+(\d{1,2}:)?(\d{2}):(\d{2})[.,](\d{3})`)

// ParseCues reads SRT or WebVTT cue text into captions.
func ParseCues(text string) []domain.Caption {
	var (
		out   []domain.Caption
		cur   *domain.Caption
		lines []string
	)
	flush := func() {
		if cur != nil {
			cur.Text = strings.TrimSpace(strings.Join(lines, " "))
			if cur.Text != "" {
				out = append(out, *cur)
			}
		}
		cur, lines = nil, nil
	}

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if m := cueTiming.FindStringSubmatch(line); m != nil {
			flush()
			cur = &domain.Caption{
				Start: cueTime(m[1], m[2], m[3], m[4]),
				End:   cueTime(m[5], m[6], m[7], m[8]),
			}
			continue
		}
		if line == "" {
			flush()
			continue
		}
		if cur != nil {
			lines = append(lines, line)
		}
	}
	flush()
	return out
}

func cueTime(h, m, s, ms string) time.Duration {
	hours, _ := strconv.Atoi(strings.TrimSuffix(h, ":"))
	mins, _ := strconv.Atoi(m)
	secs, _ := strconv.Atoi(s)
	millis, _ := strconv.Atoi(ms)
	return time.Duration(hours)*time.Hour + time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second + time.Duration(millis)*time.Millisecond
}

func formatSRTTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, d/time.Millisecond)
}

// FormatSRT renders captions as a numbered SRT document.
func FormatSRT(captions []domain.Caption) string {
	var b strings.Builder
	for i, c := range captions {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, formatSRTTime(c.Start), formatSRTTime(c.End), c.Text)
	}
	return b.String()
}

func readCues(path string) ([]domain.Caption, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCues(string(b)), nil
}

var sentenceEnd = regexp.MustCompile(`[^。！？!?.;；\n]+[。！？!?.;；]?`)

// splitSentences breaks a script into display lines on sentence punctuation.
func splitSentences(script string) []string {
	var out []string
	for _, s := range sentenceEnd.FindAllString(script, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var nonWord = regexp.MustCompile(`[\s\p{P}\p{S}]+`)

func normalizeText(s string) string {
	return strings.ToLower(nonWord.ReplaceAllString(s, ""))
}
