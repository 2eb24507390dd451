package fetchers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/servicoscor/dashboard-radares/internal/radar"
)

// DefaultAlertaRioBaseURL is the prefix of the Sumaré radar frame URLs; the
// zero-padded index and extension are appended.
const DefaultAlertaRioBaseURL = "https://alertario.rio.rj.gov.br/upload/Mapa/semfundo/radar"

// AlertaRioFetcher refreshes a fixed set of sequentially numbered frames over
// HTTP. Every cycle overwrites all names; nothing is diffed.
type AlertaRioFetcher struct {
	source  radar.Source
	baseURL string
	count   int
	httpCfg HTTPClientConfig
}

// NewAlertaRioFetcher creates the full-refresh fetcher. client must carry the
// per-request timeout.
func NewAlertaRioFetcher(client *http.Client, baseURL string) *AlertaRioFetcher {
	if baseURL == "" {
		baseURL = DefaultAlertaRioBaseURL
	}
	return &AlertaRioFetcher{
		source:  radar.SourceSumare,
		baseURL: baseURL,
		count:   radar.MaxFrames,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      1,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     2 * time.Second,
			},
		},
	}
}

func (f *AlertaRioFetcher) Source() radar.Source {
	return f.source
}

// Fetch downloads every index in turn. Failures for one index are logged and
// skipped; Fetch itself always returns nil so the sync time advances after
// every pass. The breaker lives for one pass only, so an outage seen in one
// cycle never suppresses the requests of the next.
func (f *AlertaRioFetcher) Fetch(ctx context.Context, cache radar.Cache) error {
	circuit := newBreaker("alertario")
	var ok int
	for i := 1; i <= f.count; i++ {
		name := SequenceName(i)
		url := fmt.Sprintf("%s%03d%s", f.baseURL, i, radar.FrameExt)

		if err := f.fetchOne(ctx, circuit, cache, name, url); err != nil {
			log.Printf("alertario: error downloading %s: %v", name, err)
			continue
		}
		ok++
	}

	log.Printf("alertario: %s refresh completed: %d/%d files", f.source, ok, f.count)
	return nil
}

func (f *AlertaRioFetcher) fetchOne(ctx context.Context, circuit *gobreaker.CircuitBreaker, cache radar.Cache, name, url string) error {
	buildRequest := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, url, nil)
	}

	resp, err := doRequestWithResilience(ctx, f.httpCfg, circuit, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return cache.WriteFrame(f.source, name, resp.Body)
}

// SequenceName returns the cached name for index i, e.g. radar001.png.
func SequenceName(i int) string {
	return fmt.Sprintf("radar%03d%s", i, radar.FrameExt)
}
