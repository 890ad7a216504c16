package diffview

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/skratchdot/open-golang/open"
)

// DefaultDelay is how long a shown page stays on disk. Browsers read the file
// asynchronously after the launcher returns.
const DefaultDelay = 30 * time.Second

// Viewer writes HTML pages to temporary files and opens them with the
// platform's default browser. Each file is removed once Delay has passed.
type Viewer struct {
	// Open launches the browser. Defaults to open.Start.
	Open func(path string) error
	// Delay before the temporary file is removed. Defaults to DefaultDelay.
	Delay time.Duration
	// Dir holds the temporary files. Empty means os.TempDir.
	Dir string

	Logger *log.Logger

	pending sync.WaitGroup
}

// NewViewer returns a viewer that uses the default browser.
func NewViewer() *Viewer {
	return &Viewer{Open: open.Start, Delay: DefaultDelay}
}

// Show writes html to a new temporary file and opens it. It does not wait for
// the browser or the removal. The removal is scheduled even when the browser
// fails to launch.
func (v *Viewer) Show(html string) error {
	f, err := os.CreateTemp(v.Dir, "ubit-diff-*.html")
	if err != nil {
		return fmt.Errorf("diffview: create temporary file: %w", err)
	}
	path := f.Name()

	_, werr := io.WriteString(f, html)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(path)
		return fmt.Errorf("diffview: write %s: %w", path, werr)
	}

	launch := v.Open
	if launch == nil {
		launch = open.Start
	}
	openErr := launch(path)

	delay := v.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	v.pending.Add(1)
	time.AfterFunc(delay, func() {
		defer v.pending.Done()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			v.logf("remove %s: %v", path, err)
		}
	})

	if openErr != nil {
		return fmt.Errorf("diffview: open %s in browser: %w", path, openErr)
	}
	v.logf("opened %s", path)
	return nil
}

// Wait blocks until every scheduled removal has run. Short-lived processes
// call it before exiting so no temporary file is left behind.
func (v *Viewer) Wait() {
	v.pending.Wait()
}

func (v *Viewer) logf(format string, args ...any) {
	if v.Logger != nil {
		v.Logger.Printf(format, args...)
	}
}
