package media

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"shortsq/internal/domain"
	"shortsq/internal/ports"
)

var ErrNoAPIKey = errors.New("no pexels api key configured")

// Pexels searches stock footage per term and downloads enough clips to cover
// the requested duration. API keys are used round robin.
type Pexels struct {
	BaseURL string
	APIKeys []string
	Client  *http.Client

	next atomic.Uint64
}

func NewPexels(baseURL string, keys []string) *Pexels {
	return &Pexels{
		BaseURL: baseURL,
		APIKeys: keys,
		Client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

type pexelsSearch struct {
	Videos []struct {
		ID         int    `json:"id"`
		Duration   int    `json:"duration"`
		URL        string `json:"url"`
		VideoFiles []struct {
			Link   string `json:"link"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"video_files"`
	} `json:"videos"`
}

type candidate struct {
	url      string
	duration int
}

func orientation(a domain.VideoAspect) string {
	switch a {
	case domain.AspectLandscape:
		return "landscape"
	case domain.AspectSquare:
		return "square"
	default:
		return "portrait"
	}
}

func (p *Pexels) key() (string, error) {
	if len(p.APIKeys) == 0 {
		return "", ErrNoAPIKey
	}
	i := p.next.Add(1) - 1
	return p.APIKeys[i%uint64(len(p.APIKeys))], nil
}

func (p *Pexels) search(ctx context.Context, term string, aspect domain.VideoAspect, minSeconds int) ([]candidate, error) {
	key, err := p.key()
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("query", term)
	q.Set("per_page", "20")
	q.Set("orientation", orientation(aspect))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/videos/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", key)

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", term, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search %q: unexpected status %d", term, resp.StatusCode)
	}

	var body pexelsSearch
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search %q: %w", term, err)
	}

	w, h := aspect.Resolution()
	var out []candidate
	for _, v := range body.Videos {
		if v.Duration < minSeconds {
			continue
		}
		for _, f := range v.VideoFiles {
			if f.Width == w && f.Height == h {
				out = append(out, candidate{url: f.Link, duration: v.Duration})
				break
			}
		}
	}
	return out, nil
}

func (p *Pexels) download(ctx context.Context, link, dir string) (string, error) {
	sum := md5.Sum([]byte(link))
	dst := filepath.Join(dir, "vid-"+hex.EncodeToString(sum[:])+".mp4")
	if fi, err := os.Stat(dst); err == nil && fi.Size() > 0 {
		return dst, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: unexpected status %d", link, resp.StatusCode)
	}

	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return dst, os.Rename(tmp, dst)
}

func (p *Pexels) Materials(ctx context.Context, req ports.MaterialRequest) ([]string, error) {
	dir := filepath.Join(req.TaskDir, "materials")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var all []candidate
	for _, term := range req.Terms {
		found, err := p.search(ctx, term, req.Aspect, req.ClipSeconds)
		if errors.Is(err, ErrNoAPIKey) {
			return nil, err
		}
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("term", term).Msg("material search failed")
			continue
		}
		for _, c := range found {
			if !seen[c.url] {
				seen[c.url] = true
				all = append(all, c)
			}
		}
	}
	if req.ConcatMode == domain.ConcatRandom {
		rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	}

	var (
		out   []string
		total float64
	)
	for _, c := range all {
		if total > req.Duration {
			break
		}
		path, err := p.download(ctx, c.url, dir)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("url", c.url).Msg("material download failed")
			continue
		}
		out = append(out, path)
		total += float64(min(c.duration, req.ClipSeconds))
	}
	log.Ctx(ctx).Info().Int("candidates", len(all)).Int("downloaded", len(out)).Msg("materials fetched")
	return out, nil
}

// MaterialRouter routes a request to the provider for its source.
type MaterialRouter struct {
	Local  ports.MaterialProvider
	Remote map[string]ports.MaterialProvider
}

func (m *MaterialRouter) Materials(ctx context.Context, req ports.MaterialRequest) ([]string, error) {
	if req.Source == domain.SourceLocal {
		return m.Local.Materials(ctx, req)
	}
	p, ok := m.Remote[req.Source]
	if !ok {
		return nil, fmt.Errorf("unsupported video source %q", req.Source)
	}
	return p.Materials(ctx, req)
}
