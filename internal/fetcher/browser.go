package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/JustJay7/juvenile-rep-analytics/internal/config"
	"github.com/JustJay7/juvenile-rep-analytics/pkg/logger"
)

// downloadFormSelector matches the form on the file host's virus-scan page
const downloadFormSelector = `form#download-form, form[action*="download"]`

// BrowserResolver opens confirmation pages in a headless browser and reads
// the download form. The browser is launched on first use.
type BrowserResolver struct {
	cfg     *config.Config
	logger  *logger.Logger
	mu      sync.Mutex
	browser *rod.Browser
}

func NewBrowserResolver(cfg *config.Config, log *logger.Logger) *BrowserResolver {
	if log == nil {
		log = logger.NewNop()
	}
	return &BrowserResolver{cfg: cfg, logger: log}
}

func (r *BrowserResolver) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New().
		Headless(r.cfg.HeadlessMode).
		Set("user-agent", r.cfg.UserAgent).
		Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation")

	if r.cfg.BrowserPath != "" {
		l = l.Bin(r.cfg.BrowserPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	r.logger.Info("Headless browser started for confirmation pages")
	r.browser = browser
	return browser, nil
}

// Resolve navigates to pageURL and builds the URL the download form submits to
func (r *BrowserResolver) Resolve(ctx context.Context, pageURL string) (string, error) {
	browser, err := r.connect()
	if err != nil {
		return "", err
	}

	timeout := r.cfg.FetchTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	pageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()
	page = page.Context(pageCtx)

	if err := page.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("failed to navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		r.logger.Debug("Confirmation page load did not settle", "error", err)
	}

	form, err := page.Element(downloadFormSelector)
	if err != nil {
		return "", fmt.Errorf("download form not found: %w", err)
	}

	action, err := form.Attribute("action")
	if err != nil || action == nil || *action == "" {
		return "", fmt.Errorf("download form has no action")
	}

	target, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page url: %w", err)
	}
	target, err = target.Parse(*action)
	if err != nil {
		return "", fmt.Errorf("invalid form action: %w", err)
	}

	inputs, err := form.Elements(`input[type="hidden"]`)
	if err != nil {
		return "", fmt.Errorf("failed to read form inputs: %w", err)
	}

	q := target.Query()
	for _, input := range inputs {
		name, _ := input.Attribute("name")
		value, _ := input.Attribute("value")
		if name == nil || *name == "" {
			continue
		}
		v := ""
		if value != nil {
			v = *value
		}
		q.Set(*name, v)
	}
	target.RawQuery = q.Encode()

	return target.String(), nil
}

// Close shuts the browser down if it was started
func (r *BrowserResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}
