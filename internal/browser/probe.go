package browser

import (
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Probe error kinds. Callers branch on these instead of swallowing every
// failure: not-found is expected and the caller moves on, invalid is worth
// logging, anything else propagates.
var (
	// ErrNotFound means the element never appeared within the wait.
	ErrNotFound = errors.New("element not found")
	// ErrInvalid means the element appeared but cannot be used as
	// expected (no usable attribute, zero size, wrong state).
	ErrInvalid = errors.New("element found but unusable")
)

// WaitVisible waits for the first match of selector to become visible.
func WaitVisible(page playwright.Page, selector string, timeout time.Duration) (playwright.Locator, error) {
	loc := page.Locator(selector).First()
	err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
		}
		return nil, fmt.Errorf("probe for %s: %w", selector, err)
	}
	return loc, nil
}

// Click waits for the selector and clicks it.
func Click(page playwright.Page, selector string, timeout time.Duration) error {
	loc, err := WaitVisible(page, selector, timeout)
	if err != nil {
		return err
	}
	if err := loc.Click(); err != nil {
		return fmt.Errorf("%w: click on %s: %v", ErrInvalid, selector, err)
	}
	return nil
}

// ClickFirst tries each selector in order and clicks the first that appears,
// returning the selector that worked. ErrNotFound means none of them did.
func ClickFirst(page playwright.Page, selectors []string, timeout time.Duration) (string, error) {
	for _, selector := range selectors {
		err := Click(page, selector, timeout)
		if err == nil {
			return selector, nil
		}
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return "", err
	}
	return "", fmt.Errorf("%w: none of %d selectors matched", ErrNotFound, len(selectors))
}

// Attribute reads a non-empty attribute from the first match of selector.
func Attribute(page playwright.Page, selector, name string, timeout time.Duration) (string, error) {
	loc, err := WaitVisible(page, selector, timeout)
	if err != nil {
		return "", err
	}
	value, err := loc.GetAttribute(name)
	if err != nil {
		return "", fmt.Errorf("%w: attribute %s of %s: %v", ErrInvalid, name, selector, err)
	}
	if value == "" {
		return "", fmt.Errorf("%w: attribute %s of %s is empty", ErrInvalid, name, selector)
	}
	return value, nil
}

// PressEscape sends an Escape key to dismiss whatever menu or dialog has
// focus. Failures are ignored; this is a recovery action.
func PressEscape(page playwright.Page) {
	page.Keyboard().Press("Escape")
}
