package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/m-mizutani/goerr/v2"

	appLog "calreport/internal/log"
)

// Default capture parameters for the report table.
const (
	DefaultWidth      = 1024
	DefaultHeight     = 768
	DefaultScale      = 2.0
	DefaultTimeoutSec = 30
)

// ErrNodeNotFound is returned when the capture source node is not part of
// the rendered document.
var ErrNodeNotFound = errors.New("capture: source node not found in document")

// Capturer rasterizes the node matched by selector in an HTML document into
// a PNG bitmap.
type Capturer interface {
	Capture(ctx context.Context, html []byte, selector string) ([]byte, error)
}

// Options defines parameters for a Chromium-based node capture.
type Options struct {
	// Width and Height are the viewport dimensions in CSS pixels. The
	// screenshot covers the whole node even when it is taller than the
	// viewport.
	Width  int
	Height int

	// Scale is the device pixel ratio of the screenshot. 2 gives crisp output
	// when the bitmap is printed at A4 width.
	Scale float64

	// Timeout bounds the entire capture operation.
	Timeout time.Duration

	// ExecPath overrides the Chromium binary. Empty lets chromedp search.
	ExecPath string
}

// Chromium captures nodes with a headless Chromium driven by chromedp.
// Each Capture call starts its own browser and tears it down on return.
type Chromium struct {
	opts Options
}

// NewChromium fills zero options with defaults.
func NewChromium(opts Options) *Chromium {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Scale <= 0 {
		opts.Scale = DefaultScale
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return &Chromium{opts: opts}
}

// Options returns the effective options.
func (c *Chromium) Options() Options {
	return c.opts
}

// Capture loads html into a blank page, waits for the document to be ready,
// checks that selector resolves to a node and takes a screenshot of that
// node at the configured scale.
//
// Remote images inside the document are allowed to load from any origin;
// the browser runs with web security disabled so they never taint the
// capture.
func (c *Chromium) Capture(parentCtx context.Context, html []byte, selector string) ([]byte, error) {
	if selector == "" {
		return nil, goerr.New("capture: empty selector")
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if c.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(c.opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer allocCancel()

	// Create a new chromedp context.
	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	// Apply timeout to the entire capture sequence.
	ctx, timeoutCancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer timeoutCancel()

	var (
		png   []byte
		nodes []*cdp.Node
	)
	tasks := chromedp.Tasks{
		emulation.SetDeviceMetricsOverride(int64(c.opts.Width), int64(c.opts.Height), 1, false),
		chromedp.Navigate("about:blank"),
		setDocumentContent(string(html)),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if len(nodes) == 0 {
				return ErrNodeNotFound
			}
			return nil
		}),
		chromedp.ScreenshotScale(selector, c.opts.Scale, &png, chromedp.ByQuery, chromedp.NodeVisible),
	}

	start := time.Now()
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, goerr.Wrap(err, "capture: chromedp run failed",
			goerr.V("selector", selector),
			goerr.V("timeout", c.opts.Timeout.String()),
		)
	}

	appLog.Debug("capture completed",
		"selector", selector,
		"bytes", len(png),
		"elapsed", time.Since(start).String(),
	)
	return png, nil
}

// setDocumentContent replaces the current frame's document and waits for its
// load event.
func setDocumentContent(html string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()

		loaded := make(chan struct{})
		var once sync.Once
		chromedp.ListenTarget(lctx, func(ev interface{}) {
			if _, ok := ev.(*page.EventLoadEventFired); ok {
				once.Do(func() {
					cancel()
					close(loaded)
				})
			}
		})

		frameTree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		if err := page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx); err != nil {
			return err
		}

		select {
		case <-loaded:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
