package chrome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/common/htmlinspect"
	"github.com/rendercove/prerender/pkg/types"
)

const maxHTMLSize = 20971520 // Maximum extracted HTML size in bytes (20MB)

// Renderer drives a leased Chrome instance through a two-phase render: page
// load under a hard deadline, then a completion-marker wait under a soft
// deadline. Exceeding the first fails the render; exceeding the second
// yields a partial result.
type Renderer struct {
	selector string
	marker   htmlinspect.Selector
	logger   *zap.Logger
}

// NewRenderer creates a Renderer that waits for markerSelector to appear in
// the rendered page
func NewRenderer(markerSelector string, logger *zap.Logger) (*Renderer, error) {
	marker, err := htmlinspect.ParseSelector(markerSelector)
	if err != nil {
		return nil, fmt.Errorf("invalid marker selector %q: %w", markerSelector, err)
	}

	return &Renderer{
		selector: markerSelector,
		marker:   marker,
		logger:   logger,
	}, nil
}

// Render navigates the leased instance to pageURL and returns the page HTML.
// Context cancellation is supported - the tab is torn down when ctx ends.
//
// Completeness is decided by inspecting the extracted HTML for the marker,
// not by whether the marker wait finished in time: a marker that appears
// between the wait giving up and extraction still counts.
func (r *Renderer) Render(ctx context.Context, lease *Lease, pageURL string, loadTimeout, markerTimeout time.Duration) (*types.RenderResult, error) {
	start := time.Now()
	instance := lease.Chrome

	// Create new tab context from browser context
	tabCtx, tabCancel := instance.GetContext()
	defer tabCancel()

	// Cancel tab when request context times out or is cancelled
	// This aborts in-flight CDP commands instead of leaving them hanging
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	// Phase 1: navigate under the hard page-load deadline
	navCtx, navCancel := context.WithTimeout(tabCtx, loadTimeout)
	err := chromedp.Run(navCtx, chromedp.Tasks{
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	})
	navCancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrRenderTimeout, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s not loaded within %s", ErrRenderTimeout, pageURL, loadTimeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrNavigateFailed, err)
	}

	// Phase 2: wait for the completion marker (soft - timeout here means
	// the page is served as a partial render)
	markerWaitHit := true
	markerCtx, markerCancel := context.WithTimeout(tabCtx, markerTimeout)
	err = chromedp.Run(markerCtx, chromedp.WaitReady(r.selector, chromedp.ByQuery))
	markerCancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrRenderTimeout, ctx.Err())
		}
		markerWaitHit = false
		r.logger.Debug("Marker wait timed out, extracting partial page",
			zap.Int("instance_id", instance.ID),
			zap.String("url", pageURL),
			zap.String("selector", r.selector),
			zap.Duration("marker_timeout", markerTimeout))
	}

	var html string
	var finalURL string
	err = chromedp.Run(tabCtx, chromedp.Tasks{
		r.extractHTML(&html),
		chromedp.Location(&finalURL),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrRenderTimeout, ctx.Err())
		}
		return nil, err
	}

	if len(html) > maxHTMLSize {
		return nil, fmt.Errorf("%w: page size %d exceeds maximum %d bytes", ErrExtractHTML, len(html), maxHTMLSize)
	}

	body := []byte(html)
	complete := htmlinspect.HasMarker(body, r.marker)

	result := &types.RenderResult{
		HTML:       body,
		Complete:   complete,
		FinalURL:   finalURL,
		ChromeID:   fmt.Sprintf("chrome-%d", instance.ID),
		RenderTime: time.Since(start),
	}

	r.logger.Debug("Render finished",
		zap.Int("instance_id", instance.ID),
		zap.String("url", pageURL),
		zap.Bool("complete", complete),
		zap.Bool("marker_wait_satisfied", markerWaitHit),
		zap.Int("html_size", len(body)),
		zap.Duration("render_time", result.RenderTime))

	return result, nil
}

// extractHTML extracts the page HTML with retry logic
func (r *Renderer) extractHTML(output *string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		var lastErr error

		for attempt := 0; attempt < 3; attempt++ {
			rootNode, err := dom.GetDocument().Do(ctx)
			if err != nil {
				lastErr = err
				time.Sleep(300 * time.Millisecond)
				continue
			}

			html, err := dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
			if err != nil {
				lastErr = err
				time.Sleep(300 * time.Millisecond)
				continue
			}

			*output = html
			return nil
		}

		return fmt.Errorf("%w after 3 attempts: %v", ErrExtractHTML, lastErr)
	}
}
