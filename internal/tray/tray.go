package tray

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/petems/looptray/internal/app"
	"github.com/petems/looptray/internal/config"
	"github.com/petems/looptray/internal/library"
	"github.com/petems/looptray/internal/logging"
	"github.com/petems/looptray/internal/playback"
	"github.com/rs/zerolog"
)

// Tempo presets offered in the menu
var tempos = []int{60, 80, 90, 100, 120, 140, 160, 180}

// Meter presets offered in the menu
var meters = []int{2, 3, 4, 6}

// Volume presets offered in the menu
var volumes = []int{25, 50, 75, 100}

const levelWidth = 6

type UI struct {
	app     *app.App
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger

	mu       sync.Mutex
	status   string
	bar      string
	progress string // shown instead of the status while playing

	cancelPlay context.CancelFunc

	// Menu items
	mRecordLoop *systray.MenuItem
	mRecordTake *systray.MenuItem
	mStop       *systray.MenuItem
	mMetronome  *systray.MenuItem
	mTempo      *systray.MenuItem
	mMeter      *systray.MenuItem
	mPlayAll    *systray.MenuItem
	mStopPlay   *systray.MenuItem
	mExport     *systray.MenuItem
	mSortOrder  *systray.MenuItem
	mVolume     *systray.MenuItem
	mMute       *systray.MenuItem
	mDevices    *systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetCountingIn() {
	u.updateStatus("counting_in")
}

func (u *UI) SetRecording() {
	u.updateStatus("recording")
}

func (u *UI) SetSaving() {
	u.updateStatus("saving")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

// SetLevel shows the input level next to the status while recording
func (u *UI) SetLevel(level float64) {
	bar := levelBar(level, levelWidth)

	u.mu.Lock()
	if bar == u.bar || u.progress != "" {
		u.bar = bar
		u.mu.Unlock()
		return
	}
	u.bar = bar
	status := u.status
	u.mu.Unlock()

	systray.SetTitle(titleFor(status, bar))
}

// SetProgress shows how far Play All has got
func (u *UI) SetProgress(p playback.Progress) {
	title := progressTitle(p)

	u.mu.Lock()
	if title == u.progress {
		u.mu.Unlock()
		return
	}
	u.progress = title
	u.mu.Unlock()

	systray.SetTitle(title)
}

func (u *UI) clearProgress() {
	u.mu.Lock()
	u.progress = ""
	status, bar := u.status, u.bar
	u.mu.Unlock()

	systray.SetTitle(titleFor(status, bar))
}

func New(application *app.App, cfg *config.Config, version, commit string, log zerolog.Logger) *UI {
	return &UI{
		app:     application,
		cfg:     cfg,
		version: version,
		commit:  commit,
		log:     log,
		status:  "idle",
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

func (u *UI) Run(ctx context.Context) error {
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	u.updateStatus("idle")
	systray.SetTooltip("Loop recorder")

	// Build menu
	u.mRecordLoop = systray.AddMenuItem("Record Loop", "Count in one measure, then record a loop")
	u.mRecordTake = systray.AddMenuItem("Record Take", "Record without count-in")
	u.mStop = systray.AddMenuItem("Stop Recording", "Finish the current take")
	u.mStop.Disable()
	systray.AddSeparator()

	met := u.app.Metronome()
	u.mMetronome = systray.AddMenuItemCheckbox("Metronome", "Play a click on every beat", met.Running)
	u.mTempo = systray.AddMenuItem(tempoTitle(met.BPM), "Metronome tempo")
	u.buildTempoMenu(met.BPM)
	u.mMeter = systray.AddMenuItem(meterTitle(met.BeatsPerMeasure), "Beats per measure")
	u.buildMeterMenu(met.BeatsPerMeasure)
	systray.AddSeparator()

	u.mPlayAll = systray.AddMenuItem("Play All", "Play every take in order")
	u.mStopPlay = systray.AddMenuItem("Stop Playback", "")
	u.mStopPlay.Disable()
	u.mExport = systray.AddMenuItem("Export Loops", "Join all loops into one file and copy its path")
	u.mSortOrder = systray.AddMenuItem(sortTitle(library.ParseSortOrder(u.cfg.Library.SortOrder)), "Toggle recordings order")
	systray.AddSeparator()

	u.mVolume = systray.AddMenuItem(volumeTitle(u.cfg.Audio.OutputVolume), "Output volume for clicks and playback")
	u.buildVolumeMenu(u.cfg.Audio.OutputVolume)
	u.mMute = systray.AddMenuItemCheckbox("Mute", "Silence clicks and playback", u.cfg.Audio.Muted)
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About LoopTray")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mRecordLoop.ClickedCh:
			if err := u.app.RecordLoop(); err != nil {
				u.log.Error().Err(err).Msg("Cannot record loop")
				continue
			}
			u.mStop.Enable()
		case <-u.mRecordTake.ClickedCh:
			if err := u.app.RecordTake(); err != nil {
				continue
			}
			u.mStop.Enable()
		case <-u.mStop.ClickedCh:
			u.app.StopRecording()
			u.mStop.Disable()
		case <-u.mMetronome.ClickedCh:
			u.toggleMetronome()
		case <-u.mPlayAll.ClickedCh:
			u.playAll()
		case <-u.mStopPlay.ClickedCh:
			u.app.StopPlayback()
		case <-u.mExport.ClickedCh:
			go u.exportLoops()
		case <-u.mMute.ClickedCh:
			u.toggleMute()
		case <-u.mSortOrder.ClickedCh:
			order := u.app.ToggleSortOrder()
			u.mSortOrder.SetTitle(sortTitle(order))
			u.log.Info().Str("order", string(order)).Msg("Changed sort order")
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (u *UI) buildDeviceMenu() {
	// Get devices from app
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(dev.Name, "")
		if dev.ID == u.cfg.Audio.DeviceID || (u.cfg.Audio.DeviceID == "" && dev.Default) {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := u.app.SetDevice(deviceID); err != nil {
					u.log.Error().Err(err).Msg("Failed to change audio device")
					continue
				}
				// Uncheck all other items
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) buildTempoMenu(current int) {
	items := make(map[int]*systray.MenuItem)

	for _, bpm := range tempos {
		item := u.mTempo.AddSubMenuItemCheckbox(fmt.Sprintf("%d bpm", bpm), "", bpm == current)
		items[bpm] = item

		go func(bpm int, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := u.app.SetBPM(bpm); err != nil {
					u.log.Error().Err(err).Msg("Failed to change tempo")
					continue
				}
				for b, itm := range items {
					if b != bpm {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.mTempo.SetTitle(tempoTitle(bpm))
				u.log.Info().Int("bpm", bpm).Msg("Changed tempo")
			}
		}(bpm, item)
	}
}

func (u *UI) buildMeterMenu(current int) {
	items := make(map[int]*systray.MenuItem)

	for _, beats := range meters {
		item := u.mMeter.AddSubMenuItemCheckbox(fmt.Sprintf("%d/4", beats), "", beats == current)
		items[beats] = item

		go func(beats int, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := u.app.SetBeatsPerMeasure(beats); err != nil {
					u.log.Error().Err(err).Msg("Failed to change meter")
					continue
				}
				for b, itm := range items {
					if b != beats {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.mMeter.SetTitle(meterTitle(beats))
				u.log.Info().Int("beats", beats).Msg("Changed meter")
			}
		}(beats, item)
	}
}

func (u *UI) buildVolumeMenu(current int) {
	items := make(map[int]*systray.MenuItem)

	for _, vol := range volumes {
		item := u.mVolume.AddSubMenuItemCheckbox(fmt.Sprintf("%d%%", vol), "", vol == current)
		items[vol] = item

		go func(vol int, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := u.app.SetVolume(vol); err != nil {
					u.log.Error().Err(err).Msg("Failed to change volume")
					continue
				}
				for v, itm := range items {
					if v != vol {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.mVolume.SetTitle(volumeTitle(vol))
			}
		}(vol, item)
	}
}

func (u *UI) toggleMute() {
	muted := !u.mMute.Checked()
	if err := u.app.SetMuted(muted); err != nil {
		u.log.Error().Err(err).Msg("Failed to save mute setting")
	}
	if muted {
		u.mMute.Check()
	} else {
		u.mMute.Uncheck()
	}
}

func (u *UI) toggleMetronome() {
	if u.app.ToggleMetronome() {
		u.mMetronome.Check()
	} else {
		u.mMetronome.Uncheck()
	}
}

func (u *UI) playAll() {
	u.mu.Lock()
	if u.cancelPlay != nil {
		u.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	u.cancelPlay = cancel
	u.mu.Unlock()

	u.mPlayAll.Disable()
	u.mStopPlay.Enable()

	go func() {
		defer func() {
			u.mu.Lock()
			u.cancelPlay = nil
			u.mu.Unlock()
			cancel()
			u.clearProgress()
			u.mPlayAll.Enable()
			u.mStopPlay.Disable()
		}()
		if err := u.app.PlayAll(ctx); err != nil {
			u.log.Error().Err(err).Msg("Playback failed")
		}
	}()
}

func (u *UI) exportLoops() {
	u.mExport.Disable()
	defer u.mExport.Enable()

	out, err := u.app.ExportLoops(context.Background())
	if err != nil {
		if errors.Is(err, app.ErrNoLoops) {
			u.log.Info().Msg("Nothing to export")
			return
		}
		u.log.Error().Err(err).Msg("Export failed")
		u.SetError()
		return
	}

	if err := clipboard.WriteAll(out.Path); err != nil {
		u.log.Warn().Err(err).Msg("Failed to copy export path to clipboard")
	}
	u.log.Info().Str("path", out.Path).Dur("duration", out.Duration).Msg("Export ready")
}

func (u *UI) openLogs() {
	path := logging.LogPath()
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open logs")
	}
}

func (u *UI) showAbout() {
	// TODO: Show about dialog with native UI
	fmt.Printf("LoopTray %s (%s)\nLoop recorder with metronome\n", u.version, u.commit)
}

func (u *UI) onExit() {
	// Cleanup
}

// updateStatus sets the tray title with the status indicator and level
func (u *UI) updateStatus(status string) {
	u.mu.Lock()
	u.status = status
	if status != "recording" {
		u.bar = ""
	}
	bar := u.bar
	u.mu.Unlock()

	systray.SetTitle(titleFor(status, bar))
	if status != "recording" && status != "counting_in" && u.mStop != nil {
		u.mStop.Disable()
	}
}

func titleFor(status, bar string) string {
	title := fmt.Sprintf("🎙 %s", emojiForStatus(status))
	if status == "recording" && bar != "" {
		title += " " + bar
	}
	return title
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - recording
	case "counting_in":
		return "🟠" // Orange - counting in
	case "saving":
		return "🟡" // Yellow - finalizing the file
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}

var levelGlyphs = []rune("▁▂▃▄▅▆▇█")

// levelBar renders a 0-1 level as a bar of width glyphs
func levelBar(level float64, width int) string {
	if width <= 0 {
		return ""
	}
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}

	steps := len(levelGlyphs)
	filled := int(level * float64(width*steps))
	var b strings.Builder
	for i := 0; i < width; i++ {
		n := filled - i*steps
		switch {
		case n >= steps:
			b.WriteRune(levelGlyphs[steps-1])
		case n > 0:
			b.WriteRune(levelGlyphs[n-1])
		default:
			b.WriteRune(' ')
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// progressTitle renders the take being played and how far into it
func progressTitle(p playback.Progress) string {
	return fmt.Sprintf("🎙 ▶ %d/%d %d%%", p.Index+1, p.Total, int(p.Fraction*100))
}

func volumeTitle(volume int) string {
	return fmt.Sprintf("Volume: %d%%", volume)
}

func tempoTitle(bpm int) string {
	return fmt.Sprintf("Tempo: %d bpm", bpm)
}

func meterTitle(beats int) string {
	return fmt.Sprintf("Meter: %d/4", beats)
}

func sortTitle(order library.SortOrder) string {
	if order == library.Alphabetical {
		return "Sort: A-Z"
	}
	return "Sort: Newest Last"
}
