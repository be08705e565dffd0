package app

import (
	"context"

	"github.com/mercure-chat/core/config"
	"github.com/mercure-chat/core/logging"
	"github.com/mercure-chat/core/pkg/api"
	"github.com/mercure-chat/core/pkg/avatar"
	"github.com/mercure-chat/core/pkg/paths"
	"github.com/mercure-chat/core/pkg/realtime"
	"github.com/mercure-chat/core/pkg/scope"
	"github.com/mercure-chat/core/pkg/session"
	"github.com/mercure-chat/core/pkg/store"
	"github.com/mercure-chat/core/state"
	"github.com/mercure-chat/core/version"
)

// Options tune Open. The zero value uses the session file from the config
// (or the XDG state directory) and follows it for external changes when
// the config allows.
type Options struct {
	// Storage replaces the session file.
	Storage state.Storage
	// Dialer replaces the websocket dialer.
	Dialer realtime.Dialer
}

// Open builds a Controller from cfg and restores the persisted session.
// ctx bounds the session file watcher.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Controller, error) {
	if cfg == nil {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}

	resolver := avatar.Resolver{Origin: cfg.Avatar.Origin, DeprecatedHosts: cfg.Avatar.DeprecatedHosts}

	storage := opts.Storage
	var closers []func() error
	if storage == nil {
		path := cfg.Session.Path
		if path == "" {
			path = paths.SessionFilePath()
		}
		storage = state.NewFileStorage(path)
	}

	sess := session.New(storage,
		session.WithAvatarResolver(resolver),
		session.WithLogger(logging.NewLogger("session")))
	sess.Restore()

	if fs, ok := storage.(*state.FileStorage); ok && cfg.Session.WatchEnabled() {
		w, err := state.NewWatcher(fs, 0, logging.NewLogger("session-watch"), sess.Reload)
		if err != nil {
			return nil, err
		}
		go w.Start(ctx)
		closers = append(closers, w.Close)
	}

	client := api.New(api.Endpoints{
		BaseURL:       cfg.API.BaseURL,
		AccountsPath:  cfg.API.AccountsPath,
		MessagingPath: cfg.API.MessagingPath,
		ProfilePath:   cfg.API.ProfilePath,
	}, sess,
		api.WithTimeout(cfg.API.RequestTimeout()),
		api.WithUserAgent(version.GetInfo().UserAgent()),
		api.WithLogger(logging.NewLogger("api")))

	st := store.New()
	loader := scope.New(client, st, sess,
		scope.WithAvatarResolver(resolver),
		scope.WithLogger(logging.NewLogger("scope")))

	rtOpts := []realtime.Option{
		realtime.WithURL(cfg.Realtime.URL),
		realtime.WithReconnectDelay(cfg.Realtime.ReconnectAfter()),
		realtime.WithPingInterval(cfg.Realtime.KeepAlive()),
		realtime.WithEnricher(loader.Enrich),
		realtime.WithLogger(logging.NewLogger("realtime")),
	}
	if opts.Dialer != nil {
		rtOpts = append(rtOpts, realtime.WithDialer(opts.Dialer))
	}

	return New(Deps{
		Session:  sess,
		API:      client,
		Store:    st,
		Loader:   loader,
		Realtime: realtime.New(st, rtOpts...),
		Logger:   logging.NewLogger("app"),
		Closers:  closers,
	}), nil
}
