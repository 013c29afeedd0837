package forum

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"fleamarket-scraper/models"
	"fleamarket-scraper/utils"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxBodyBytes = 8 << 20
)

// FetchStrategy returns the HTML of a page.
type FetchStrategy interface {
	Name() string
	Fetch(ctx context.Context, url string) (string, error)
	Close() error
}

// LightweightFetch is a plain HTTP GET.
type LightweightFetch struct {
	client *http.Client
}

// NewLightweightFetch creates a LightweightFetch with a per-request timeout.
func NewLightweightFetch(timeout time.Duration) *LightweightFetch {
	return &LightweightFetch{client: &http.Client{Timeout: timeout}}
}

func (f *LightweightFetch) Name() string { return "lightweight" }

// Fetch returns the response body. Non-2xx statuses wrap models.ErrTransport.
func (f *LightweightFetch) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w: %w", url, models.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("fetch %s: %w: HTTP %d", url, models.ErrTransport, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("fetch %s: read body: %w: %w", url, models.ErrTransport, err)
	}
	return string(body), nil
}

func (f *LightweightFetch) Close() error { return nil }

// RenderedFetch loads pages in headless Chrome so client-side content is
// present in the returned HTML. The browser starts on first use and is shared
// by every tab until Close.
type RenderedFetch struct {
	chromeBin string
	timeout   time.Duration
	settle    time.Duration
	logger    *utils.Logger

	once        sync.Once
	browserCtx  context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
	startErr    error
}

// NewRenderedFetch creates a RenderedFetch. An empty chromeBin searches the
// usual install locations.
func NewRenderedFetch(chromeBin string, timeout time.Duration, logger *utils.Logger) *RenderedFetch {
	if timeout < 30*time.Second {
		timeout = 30 * time.Second
	}
	return &RenderedFetch{chromeBin: chromeBin, timeout: timeout, settle: 3 * time.Second, logger: logger}
}

func (f *RenderedFetch) Name() string { return "rendered" }

func (f *RenderedFetch) start() error {
	f.once.Do(func() {
		bin := f.chromeBin
		if bin == "" {
			bin = findChromeBinary()
		}
		f.logger.Info("[forum] Using browser binary: %q", bin)

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.UserAgent(userAgent),
		)
		if bin != "" {
			opts = append(opts, chromedp.ExecPath(bin))
		}

		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
		// Suppress chromedp log noise
		browserCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
		if err := chromedp.Run(browserCtx); err != nil {
			cancelTab()
			cancelAlloc()
			f.startErr = fmt.Errorf("start browser: %w", err)
			return
		}
		f.browserCtx, f.cancelAlloc, f.cancelTab = browserCtx, cancelAlloc, cancelTab
	})
	return f.startErr
}

// Fetch opens url in a new tab, waits for scripts to settle, scrolls to the
// bottom to trigger lazy content and returns the rendered document.
func (f *RenderedFetch) Fetch(ctx context.Context, url string) (string, error) {
	if err := f.start(); err != nil {
		return "", fmt.Errorf("fetch %s: %w: %w", url, models.ErrTransport, err)
	}

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, f.timeout)
	defer cancelTimeout()

	// Tie the tab to the caller's context as well.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(f.settle),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(f.settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w: %w", url, models.ErrTransport, err)
	}
	return html, nil
}

// Close shuts the browser down.
func (f *RenderedFetch) Close() error {
	if f.cancelTab != nil {
		f.cancelTab()
	}
	if f.cancelAlloc != nil {
		f.cancelAlloc()
	}
	return nil
}

func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// Probe reports whether a strategy produced usable output for a sample page.
type Probe func(ctx context.Context, s FetchStrategy) bool

// SelectStrategy runs probe once against primary and commits to it when the
// probe passes; otherwise it commits to the fallback built by newFallback.
// If the fallback cannot be built, primary is kept.
func SelectStrategy(ctx context.Context, primary FetchStrategy, newFallback func() (FetchStrategy, error), probe Probe, logger *utils.Logger) FetchStrategy {
	if probe(ctx, primary) {
		logger.Info("[forum] %s fetch passed the probe", primary.Name())
		return primary
	}

	fallback, err := newFallback()
	if err != nil {
		logger.Warn("[forum] %s fetch failed the probe and no fallback is available: %v", primary.Name(), err)
		return primary
	}
	logger.Warn("[forum] %s fetch failed the probe — switching to %s", primary.Name(), fallback.Name())
	return fallback
}
