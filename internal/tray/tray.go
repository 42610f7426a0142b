// Package tray provides a system tray front end for the live classifier.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/pilahsampah/pilah/internal/app"
	"github.com/pilahsampah/pilah/internal/detector"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle  func(running bool)
	onBackend func(b detector.Backend)
	onQuit    func()
	running   bool
	useGPU    bool
	mu        sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuGPU    *systray.MenuItem
	menuStatus *systray.MenuItem
	menuSpeed  *systray.MenuItem
	menuCounts *systray.MenuItem
	menuCamera *systray.MenuItem
	menuNotice *systray.MenuItem
}

// New creates a new Tray in the running state.
func New(backend detector.Backend) *Tray {
	return &Tray{
		running: true,
		useGPU:  backend == detector.BackendGPU,
	}
}

// OnToggle sets the callback called when detection is paused or resumed.
func (t *Tray) OnToggle(fn func(running bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnBackend sets the callback called when the GPU item is toggled.
func (t *Tray) OnBackend(fn func(b detector.Backend)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onBackend = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops Run.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Pilah")
	systray.SetTooltip("Pilah waste classifier")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.running), "Pause or resume detection")
	t.menuGPU = systray.AddMenuItemCheckbox("Use GPU", "Run the detector on the GPU", t.useGPU)
	systray.AddSeparator()

	t.menuStatus = disabled(systray.AddMenuItem("Loading model...", "Detector status"))
	t.menuSpeed = disabled(systray.AddMenuItem("0 FPS", "Admitted frames and inference time"))
	t.menuCounts = disabled(systray.AddMenuItem(countsTitle(app.State{}), "Objects in the latest result"))
	t.menuCamera = disabled(systray.AddMenuItem("Camera: -", "Capture resolution"))
	t.menuNotice = disabled(systray.AddMenuItem("", "Latest detector notice"))
	t.menuNotice.Hide()
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Pilah")
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-t.menuGPU.ClickedCh:
				t.handleGPU()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func disabled(item *systray.MenuItem) *systray.MenuItem {
	item.Disable()
	return item
}

func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.running = !t.running
	running := t.running
	t.menuToggle.SetTitle(toggleTitle(running))
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(running)
	}
}

func (t *Tray) handleGPU() {
	t.mu.Lock()
	t.useGPU = !t.useGPU
	backend := detector.BackendCPU
	if t.useGPU {
		t.menuGPU.Check()
		backend = detector.BackendGPU
	} else {
		t.menuGPU.Uncheck()
	}
	callback := t.onBackend
	t.mu.Unlock()

	if callback != nil {
		callback(backend)
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// Update refreshes the status items from s. It is a no-op before the
// menu is built.
func (t *Tray) Update(s app.State) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuStatus == nil {
		return
	}
	t.menuStatus.SetTitle(statusTitle(s))
	t.menuSpeed.SetTitle(speedTitle(s))
	t.menuCounts.SetTitle(countsTitle(s))
	t.menuCamera.SetTitle("Camera: " + s.Resolution.String())
	if s.Notice == "" {
		t.menuNotice.Hide()
	} else {
		t.menuNotice.SetTitle(s.Notice)
		t.menuNotice.Show()
	}
}

// IsRunning returns whether detection is toggled on.
func (t *Tray) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

func toggleTitle(running bool) string {
	if running {
		return "● Detecting"
	}
	return "○ Paused"
}

func statusTitle(s app.State) string {
	switch {
	case s.Paused:
		return "Paused"
	case s.Fatal:
		return "Detector unavailable"
	case s.Loading:
		return "Loading model..."
	default:
		return "Ready (" + s.Backend.String() + ")"
	}
}

func speedTitle(s app.State) string {
	if s.InferenceMs == 0 {
		return fmt.Sprintf("%d FPS", s.FPS)
	}
	return fmt.Sprintf("%d FPS, %d ms", s.FPS, s.InferenceMs)
}

func countsTitle(s app.State) string {
	return fmt.Sprintf("Organik %d, Anorganik %d, B3 %d", s.Counts.Organik, s.Counts.Anorganik, s.Counts.B3)
}
