package main

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/tgrigore/goleech/client"
	"github.com/tgrigore/goleech/metainfo"
	"github.com/tgrigore/goleech/tracker"
)

// TorrentStatus represents the status of a torrent download
type TorrentStatus struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Status string `json:"status"` // "downloading", "cancelled", "completed", "error"
	Error  string `json:"error,omitempty"`

	// Internal fields for restarting (not exposed to JSON)
	torrentPath string
	outputPath  string
}

// App struct
type App struct {
	ctx         context.Context
	torrents    map[string]*TorrentStatus
	cancelFuncs map[string]context.CancelFunc
	mu          sync.RWMutex
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{
		torrents:    make(map[string]*TorrentStatus),
		cancelFuncs: make(map[string]context.CancelFunc),
	}
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	log.Info("goleech UI started")
}

// GetTorrents returns all torrents
func (a *App) GetTorrents() []TorrentStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]TorrentStatus, 0, len(a.torrents))
	for _, t := range a.torrents {
		result = append(result, *t)
	}
	return result
}

// AddTorrentFile starts downloading a .torrent file
func (a *App) AddTorrentFile(filePath string, outputPath string) (string, error) {
	m, err := metainfo.Load(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open torrent: %w", err)
	}

	id := fmt.Sprintf("%x", m.InfoHash())

	ctx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.torrents[id] = &TorrentStatus{
		ID:          id,
		Name:        m.Info.Name,
		Size:        m.Info.Length,
		Status:      "downloading",
		torrentPath: filePath,
		outputPath:  outputPath,
	}
	a.cancelFuncs[id] = cancel
	a.mu.Unlock()

	go a.download(ctx, id, m, outputPath)
	return id, nil
}

// download runs one download to completion and records the outcome.
func (a *App) download(ctx context.Context, id string, m *metainfo.Metainfo, outputPath string) {
	cfg := client.Config{PeerID: tracker.DefaultPeerID()}
	err := client.DownloadFile(ctx, m, outputPath, cfg)

	a.mu.Lock()
	defer a.mu.Unlock()
	// the torrent might have been removed meanwhile
	t, ok := a.torrents[id]
	if ok {
		switch {
		case err == nil:
			t.Status = "completed"
		case ctx.Err() != nil:
			t.Status = "cancelled"
		default:
			t.Status = "error"
			t.Error = err.Error()
		}
	}
	delete(a.cancelFuncs, id)
}

// CancelTorrent stops a running download
func (a *App) CancelTorrent(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.torrents[id]; !ok {
		return fmt.Errorf("torrent not found")
	}
	if cancel, ok := a.cancelFuncs[id]; ok {
		cancel()
		delete(a.cancelFuncs, id)
	}
	return nil
}

// RestartTorrent starts a cancelled or failed download over
func (a *App) RestartTorrent(id string) error {
	a.mu.Lock()
	t, ok := a.torrents[id]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("torrent not found")
	}
	if t.Status == "downloading" || t.Status == "completed" {
		a.mu.Unlock()
		return nil
	}
	torrentPath, outputPath := t.torrentPath, t.outputPath
	a.mu.Unlock()

	_, err := a.AddTorrentFile(torrentPath, outputPath)
	return err
}

// RemoveTorrent removes a torrent from the list and cancels any ongoing download
func (a *App) RemoveTorrent(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cancel, ok := a.cancelFuncs[id]; ok {
		cancel()
		delete(a.cancelFuncs, id)
	}
	delete(a.torrents, id)
}

// SelectTorrentFile opens a file dialog to select a .torrent file
func (a *App) SelectTorrentFile() (string, error) {
	return runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "Select Torrent File",
		Filters: []runtime.FileFilter{
			{
				DisplayName: "Torrent Files (*.torrent)",
				Pattern:     "*.torrent",
			},
		},
	})
}

// SelectOutputFile opens a dialog to pick where the download goes
func (a *App) SelectOutputFile(name string) (string, error) {
	return runtime.SaveFileDialog(a.ctx, runtime.SaveDialogOptions{
		Title:           "Save As",
		DefaultFilename: name,
	})
}
