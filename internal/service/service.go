// Package service runs the menu: it loads the catalog, keeps a head-unit
// session attached to the reconciler and acts on selections.
package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/example/carmenu/internal/config"
	"github.com/example/carmenu/internal/entry"
	"github.com/example/carmenu/internal/icon"
	"github.com/example/carmenu/internal/ipc"
	"github.com/example/carmenu/internal/logging"
	"github.com/example/carmenu/internal/menu"
	"github.com/example/carmenu/internal/remoting"
	"github.com/example/carmenu/internal/security"
)

type catalogLoader func(passphrase string) (*config.Catalog, error)

type iconLoader func(path string) (image.Image, error)

type launchFunc func(ctx context.Context, item config.CatalogEntry) error

// Service wires the catalog, the reconciler and the head-unit session.
type Service struct {
	settings   config.Settings
	passphrase string
	endpoint   ipc.Endpoint

	reconciler *menu.Reconciler
	router     *menu.EventRouter
	runner     *menu.Runner

	dial        dialFunc
	loadCatalog catalogLoader
	loadIcon    iconLoader
	launch      launchFunc

	mu       sync.RWMutex
	runCtx   context.Context
	commands map[string]config.CatalogEntry
}

// New constructs a Service for settings, decrypting the catalog with
// passphrase.
func New(settings config.Settings, passphrase string) (*Service, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, config.ErrMissingPassphrase
	}
	token := security.ResolveSessionToken(passphrase)
	endpoint := headUnitEndpoint(settings)
	dial := func(ctx context.Context, onEvent remoting.EventHandler) (headUnitSession, error) {
		client, err := remoting.Dial(ctx, endpoint, token, onEvent)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return newService(settings, passphrase, dial)
}

func newService(settings config.Settings, passphrase string, dial dialFunc) (*Service, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	srv := &Service{
		settings:    settings,
		passphrase:  passphrase,
		endpoint:    headUnitEndpoint(settings),
		dial:        dial,
		loadCatalog: config.LoadCatalog,
		loadIcon:    icon.Load,
		launch:      executeCommand,
		runCtx:      context.Background(),
		commands:    make(map[string]config.CatalogEntry),
	}

	encoder := menu.RecordEncoder{Compress: icon.Compress, IconSize: settings.IconSize}
	srv.reconciler = menu.NewReconciler(settings.ListenerIdent, encoder)
	srv.router = menu.NewEventRouter(srv.reconciler, srv.onSelect)
	srv.runner = menu.NewRunner(menu.SourceFunc(srv.entries), srv.reconciler, settings.RefreshInterval)
	return srv, nil
}

func headUnitEndpoint(settings config.Settings) ipc.Endpoint {
	if strings.TrimSpace(settings.HeadUnit) == "" {
		return ipc.DefaultEndpoint()
	}
	return ipc.ParseEndpoint(settings.HeadUnit)
}

// Endpoint exposes the head-unit endpoint for logging and diagnostics.
func (s *Service) Endpoint() string {
	return s.endpoint.String()
}

// Refresh reloads the catalog without waiting for the next tick.
func (s *Service) Refresh() {
	s.runner.RequestRefresh()
}

// Run syncs the catalog to the head unit until ctx is canceled. The menu
// root is released before Run returns.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	log.Printf("carmenu syncing menu %q to head unit %s", s.settings.ListenerIdent, s.endpoint)

	sup := newSessionSupervisor(ctx, s.dial, s.reconciler, s.handleEvent, s.settings.ReconnectDelay)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sup.run()
	}()

	err := s.runner.Start(ctx)
	wg.Wait()
	log.Println("carmenu service shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runCtx
}

func (s *Service) handleEvent(ev menu.Event) {
	s.router.HandleEvent(s.runContext(), ev)
}

// entries loads the catalog and converts it to menu entries. Items that
// cannot be displayed are logged and skipped so one bad item does not hide
// the rest of the menu.
func (s *Service) entries(ctx context.Context) ([]entry.Info, error) {
	cat, err := s.loadCatalog(s.passphrase)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	infos := make([]entry.Info, 0, len(cat.Entries))
	commands := make(map[string]config.CatalogEntry, len(cat.Entries))
	for _, item := range cat.Entries {
		category, err := entry.ParseCategory(item.Category)
		if err != nil {
			log.Printf("catalog item %s skipped: %v", item.Key, err)
			continue
		}

		var img image.Image
		if item.IconPath != "" {
			img, err = s.loadIcon(item.IconPath)
			if err != nil {
				log.Printf("catalog item %s: icon %s not loaded: %v", item.Key, item.IconPath, err)
				img = nil
			}
		}

		info, err := entry.New(s.settings.Namespace, item.Key, item.Name, img, category)
		if err != nil {
			log.Printf("catalog item %s skipped: %v", item.Key, err)
			continue
		}
		if _, dup := commands[info.StableID]; dup {
			log.Printf("catalog item %s skipped: duplicate key", item.Key)
			continue
		}
		infos = append(infos, info)
		commands[info.StableID] = item
	}

	s.mu.Lock()
	s.commands = commands
	s.mu.Unlock()
	logging.Debugf("catalog provided %d of %d entries", len(infos), len(cat.Entries))
	return infos, nil
}

// onSelect launches the selected item's command and redraws the entry once
// the head unit has had time to switch away from the menu.
func (s *Service) onSelect(ctx context.Context, info entry.Info) {
	s.mu.RLock()
	item, ok := s.commands[info.StableID]
	s.mu.RUnlock()
	if !ok {
		logging.Debugf("selection of %s has no catalog item", info.StableID)
		return
	}

	log.Printf("menu entry %q selected", info.Name)
	if err := s.launch(ctx, item); err != nil {
		log.Printf("launch %s: %v", info.StableID, err)
	}

	time.AfterFunc(s.settings.RedrawDelay, func() {
		runCtx := s.runContext()
		if runCtx.Err() != nil {
			return
		}
		redrawCtx, cancel := context.WithTimeout(runCtx, shutdownTimeout)
		defer cancel()
		if err := s.reconciler.RedrawEntry(redrawCtx, info); err != nil {
			log.Printf("redraw %s: %v", info.StableID, err)
		}
	})
}
