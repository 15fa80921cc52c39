// Package station wires the radio engine together and owns its lifecycle.
package station

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19radio/internal/app/broadcast"
	"github.com/osa030/19radio/internal/app/filter"
	"github.com/osa030/19radio/internal/app/playback"
	"github.com/osa030/19radio/internal/app/prefetch"
	"github.com/osa030/19radio/internal/app/queue"
	"github.com/osa030/19radio/internal/app/requests"
	"github.com/osa030/19radio/internal/app/source"
	"github.com/osa030/19radio/internal/app/transcode"
	"github.com/osa030/19radio/internal/domain/track"
	"github.com/osa030/19radio/internal/infra/cache"
	"github.com/osa030/19radio/internal/infra/config"
	"github.com/osa030/19radio/internal/infra/metrics"
	"github.com/osa030/19radio/internal/infra/spotify"
	"github.com/osa030/19radio/internal/infra/ytdlp"
)

// Deps overrides the external programs and services the station talks to.
// Zero fields are built from the configuration.
type Deps struct {
	Transcoder playback.Transcoder
	Prober     prefetch.Prober
	Acquirer   source.Acquirer
	Spotify    source.SpotifyClient
	Metrics    *metrics.Metrics
}

// Manager manages the radio station.
type Manager struct {
	config *config.Config

	// Components
	queue       *queue.TrackQueue
	broadcaster *broadcast.Broadcaster
	cache       *cache.Cache
	requests    *requests.Store
	source      *source.LibrarySource
	prefetcher  *prefetch.Prefetcher
	playback    *playback.Controller
	transcoder  *transcode.Transcoder // Nil when overridden
	filterChain *filter.Chain
	metrics     *metrics.Metrics // Optional

	mu        sync.RWMutex
	startedAt time.Time
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new station manager.
func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:      cfg,
		queue:       queue.New(),
		metrics:     deps.Metrics,
		filterChain: filter.NewChain(),
		ctx:         ctx,
		cancel:      cancel,
	}

	if err := m.build(deps); err != nil {
		cancel()
		if m.cache != nil {
			_ = m.cache.Close()
		}
		return nil, err
	}

	m.setupFilters()
	m.requests.OnChange(m.prefetcher.EnsureQueueSize)
	return m, nil
}

func (m *Manager) build(deps Deps) error {
	cfg := m.config

	c, err := cache.Open(cache.Config{
		WorkDir:   cfg.Storage.WorkDir,
		CacheDir:  cfg.Storage.CacheDir,
		IndexFile: cfg.Storage.IndexFile,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open cache")
	}
	m.cache = c

	store, err := requests.Open(cfg.Storage.RequestFile)
	if err != nil {
		return errors.Wrap(err, "failed to open request store")
	}
	m.requests = store

	bcfg := broadcast.Config{SinkBuffer: cfg.Stream.SinkBuffer}
	if m.metrics != nil {
		bcfg.Observer = m.metrics
	}
	m.broadcaster = broadcast.NewBroadcaster(bcfg)

	tc := deps.Transcoder
	if tc == nil {
		m.transcoder = transcode.New(transcode.Config{
			FFmpegPath: cfg.Transcoder.FFmpegPath,
			Codec:      cfg.Transcoder.Codec,
			Bitrate:    cfg.Transcoder.Bitrate,
			Channels:   cfg.Transcoder.Channels,
			SampleRate: cfg.Transcoder.SampleRate,
			Format:     cfg.Transcoder.Format,
		})
		tc = playback.TranscoderFunc(m.startProcess)
	}

	prober := deps.Prober
	if prober == nil {
		prober = transcode.NewProber(cfg.Transcoder.FFprobePath, config.Millis(cfg.Transcoder.ProbeTimeoutMs))
	}

	acq := deps.Acquirer
	if acq == nil {
		acq = ytdlp.New(ytdlp.Config{
			Executable:   cfg.Acquisition.YtdlpPath,
			AudioFormat:  cfg.Acquisition.AudioFormat,
			AudioQuality: cfg.Acquisition.AudioQuality,
			Timeout:      time.Duration(cfg.Acquisition.TimeoutSec) * time.Second,
		})
	}

	sp := deps.Spotify
	if sp == nil && cfg.Spotify.Configured() {
		client, err := spotify.New(m.ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create spotify client")
		}
		sp = client
	}

	chain, err := source.NewProviderChainFromConfig(cfg, source.Deps{Cache: c, Acquirer: acq, Spotify: sp})
	if err != nil {
		return errors.Wrap(err, "failed to create fallback provider chain")
	}
	m.source = source.NewLibrarySource(store, c, acq, source.LibraryConfig{Spotify: sp, Fallback: chain})

	pcfg := prefetch.Config{
		MinDepth:       cfg.Playback.MinQueueDepth,
		DefaultBitrate: cfg.Playback.DefaultBitrate,
	}
	if m.metrics != nil {
		pcfg.Observer = m.metrics
	}
	m.prefetcher = prefetch.New(m.source, prober, m.queue, pcfg)

	m.playback = playback.NewController(m.queue, tc, c, m.broadcaster, m.prefetcher, playback.Config{
		SkipWait:      config.Millis(cfg.Playback.SkipWaitMs),
		TrackEndWait:  config.Millis(cfg.Playback.TrackEndWaitMs),
		ArchiveSettle: config.Millis(cfg.Playback.ArchiveSettleMs),
		PaceBitrate:   paceBitrate(cfg),
	})
	return nil
}

// paceBitrate returns the rate listeners are fed at: the explicit override,
// else the ffmpeg output bitrate, else the advertised stream bitrate.
func paceBitrate(cfg *config.Config) int {
	if cfg.Playback.PaceBitrate > 0 {
		return cfg.Playback.PaceBitrate
	}
	if br, err := transcode.ParseBitrate(cfg.Transcoder.Bitrate); err == nil {
		return br
	}
	zlog.Warn().Msgf("station: unparsable transcoder bitrate, pacing at stream bitrate: bitrate=%q", cfg.Transcoder.Bitrate)
	return cfg.Stream.Bitrate
}

// startProcess adapts the ffmpeg transcoder to the playback controller.
func (m *Manager) startProcess(t track.Track) (playback.Stream, error) {
	p, err := m.transcoder.Start(t)
	if err != nil {
		// A nil *Process must not leak into the interface.
		return nil, err
	}
	return p, nil
}

// setupFilters initializes the admission filter chain.
func (m *Manager) setupFilters() {
	cfg := m.config

	m.filterChain.Add(&filter.RequiredFieldsFilter{})

	kind := filter.NewKindFilter()
	if err := kind.ValidateConfig(cfg.FilterSettings("kind_filter")); err != nil {
		zlog.Error().Msgf("failed to validate kind filter config, allowing all kinds: %v", err)
		kind = filter.NewKindFilter()
	}
	m.filterChain.Add(kind)

	if cfg.IsFilterEnabled("duplicate_request_filter") {
		m.filterChain.Add(filter.NewDuplicateRequestFilter(m.requests, m.queue))
	}

	if cfg.IsFilterEnabled("duration_limit_filter") {
		f := filter.NewDurationLimitFilter()
		if err := f.ValidateConfig(cfg.FilterSettings("duration_limit_filter")); err != nil {
			zlog.Error().Msgf("failed to validate duration limit filter config: %v", err)
		} else {
			m.filterChain.Add(f)
		}
	}

	if cfg.IsFilterEnabled("blocklist_filter") {
		f := &filter.BlocklistFilter{}
		if err := f.ValidateConfig(cfg.FilterSettings("blocklist_filter")); err != nil {
			zlog.Error().Msgf("failed to validate blocklist filter config: %v", err)
		} else {
			m.filterChain.Add(f)
		}
	}

	names := make([]string, 0, len(m.filterChain.Filters()))
	for _, f := range m.filterChain.Filters() {
		names = append(names, f.Name())
	}
	zlog.Info().Msgf("admission filters: %v", names)
	m.requests.SetAdmission(m.filterChain)
}

// Start archives leftovers, fills the queue and starts playback.
func (m *Manager) Start(ctx context.Context) error {
	if n, err := m.cache.Sweep(); err != nil {
		zlog.Warn().Err(err).Msg("station: cache sweep failed")
	} else if n > 0 {
		zlog.Info().Msgf("station: archived leftovers: count=%d", n)
	}

	// The first track is fetched before playback so listeners hear audio immediately.
	if err := m.prefetcher.FetchOnce(ctx); err != nil {
		zlog.Warn().Err(err).Msg("station: initial fetch failed, waiting for tracks")
	}
	m.prefetcher.EnsureQueueSize()

	m.mu.Lock()
	m.startedAt = time.Now()
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.playbackLoop()
	}()

	if err := m.playback.Play(true); err != nil {
		zlog.Info().Msgf("station: initial play deferred: %v", err)
	}

	if err := m.requests.Watch(m.ctx); err != nil {
		zlog.Warn().Err(err).Msg("station: request file watcher unavailable")
	}

	zlog.Info().Msgf("station: started: name=%s", m.config.Stream.Name)
	return nil
}

// playbackLoop handles playback events.
func (m *Manager) playbackLoop() {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback loop panicked: %v", r)
			zlog.Info().Msg("restarting playback loop")
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.playbackLoop()
			}()
		}
	}()

	events := m.playback.Events()
	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.handlePlaybackEvent(event)
		}
	}
}

// handlePlaybackEvent handles playback events.
func (m *Manager) handlePlaybackEvent(event playback.Event) {
	if m.metrics != nil {
		m.metrics.PlaybackEvent(event.Type.String())
		m.metrics.SetQueueDepth(m.queue.Len())
	}

	switch event.Type {
	case playback.EventTrackStarted:
		if event.Track != nil {
			zlog.Info().Msgf("now playing: index=%d title=%q requested_by=%s", event.Index, event.Track.Title, event.Track.RequestedBy)
		}
	case playback.EventTrackSkipped, playback.EventTrackEnded:
		if event.Track != nil {
			zlog.Debug().Msgf("track left the air: type=%s title=%q", event.Type, event.Track.Title)
		}
	case playback.EventStateChanged:
		zlog.Info().Msgf("playback state: %s", event.State)
	case playback.EventQueueEmpty:
		zlog.Warn().Msg("queue empty: waiting for requests or fallback tracks")
	case playback.EventTranscodeFailed:
		if event.Track != nil {
			zlog.Error().Msgf("transcode failed: title=%q location=%s", event.Track.Title, event.Track.Location)
		}
	}
}

// Status represents the current station status.
type Status struct {
	Name          string
	State         playback.State
	Current       *track.Track
	Previous      *track.Track
	Pending       []track.Track
	Requests      []track.Request
	Listeners     int
	Prefetching   bool
	TracksStarted int
	Uptime        time.Duration
}

// GetStatus returns the current station status.
func (m *Manager) GetStatus() *Status {
	snap := m.queue.Snapshot()

	m.mu.RLock()
	var uptime time.Duration
	if !m.startedAt.IsZero() {
		uptime = time.Since(m.startedAt)
	}
	m.mu.RUnlock()

	return &Status{
		Name:          m.config.Stream.Name,
		State:         m.playback.State(),
		Current:       snap.Current,
		Previous:      snap.Previous,
		Pending:       snap.Pending,
		Requests:      m.requests.List(),
		Listeners:     m.broadcaster.SinkCount(),
		Prefetching:   m.prefetcher.InFlight(),
		TracksStarted: m.playback.TracksStarted(),
		Uptime:        uptime,
	}
}

// Snapshot returns the queue state.
func (m *Manager) Snapshot() queue.Snapshot {
	return m.queue.Snapshot()
}

// NowPlaying returns the metadata last announced to listeners.
func (m *Manager) NowPlaying() (broadcast.Metadata, bool) {
	return m.broadcaster.Current()
}

// Play starts playback of the next track.
func (m *Manager) Play() error {
	return m.playback.Play(true)
}

// Skip skips the current track.
func (m *Manager) Skip() error {
	return m.playback.Skip()
}

// Previous returns to the previous track.
func (m *Manager) Previous() error {
	return m.playback.Previous()
}

// Pause pauses playback.
func (m *Manager) Pause() error {
	return m.playback.Pause()
}

// Resume resumes playback.
func (m *Manager) Resume() error {
	return m.playback.Resume()
}

// RequestTrack admits a listener request.
func (m *Manager) RequestTrack(ctx context.Context, req track.Request) (track.Request, error) {
	return m.requests.Add(ctx, req)
}

// Attach registers a new listener sink.
func (m *Manager) Attach() *broadcast.Sink {
	return m.broadcaster.Attach()
}

// Detach removes a listener sink.
func (m *Manager) Detach(id string) {
	m.broadcaster.Detach(id)
}

// Config returns the station configuration.
func (m *Manager) Config() *config.Config {
	return m.config
}

// Metrics returns the metrics registry, or nil.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// Close stops the station and releases all resources. It is safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		m.prefetcher.Close()
		m.playback.Close()
		if m.transcoder != nil {
			m.transcoder.Stop()
		}
		m.broadcaster.Close()
		m.wg.Wait()
		if err := m.cache.Close(); err != nil {
			zlog.Warn().Err(err).Msg("station: failed to close cache")
		}
		zlog.Info().Msg("station: closed")
	})
}
