package contentdir

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikey-austin/plex_dlna/internal/core"
	"github.com/mikey-austin/plex_dlna/internal/ports"
	"github.com/mikey-austin/plex_dlna/internal/registry"
	"go.uber.org/zap"
)

// Browse flags.
const (
	BrowseMetadata       = "BrowseMetadata"
	BrowseDirectChildren = "BrowseDirectChildren"
)

// Config configures the ContentDirectory engine.
type Config struct {
	Events         ports.Events
	CatalogTimeout time.Duration
}

// BrowseRequest carries the arguments of a Browse action.
type BrowseRequest struct {
	ObjectID       string
	BrowseFlag     string
	Filter         string
	StartingIndex  int64
	RequestedCount int64
	SortCriteria   string
	BaseURL        string
}

// SearchRequest carries the arguments of a Search action.
type SearchRequest struct {
	ContainerID    string
	SearchCriteria string
	Filter         string
	StartingIndex  int64
	RequestedCount int64
	SortCriteria   string
	BaseURL        string
}

// BrowseResult is the output of Browse and Search.
type BrowseResult struct {
	Result         string
	NumberReturned int64
	TotalMatches   int64
	UpdateID       uint32
}

// Engine answers ContentDirectory actions from a catalog.
type Engine struct {
	log     *zap.Logger
	catalog ports.Catalog
	reg     *registry.Registry
	updates *updateTracker
	config  Config
}

// New creates an engine over catalog. reg must be rooted at catalog.Root().
func New(log *zap.Logger, catalog ports.Catalog, reg *registry.Registry, cfg Config) (*Engine, error) {
	if catalog == nil {
		return nil, errors.New("catalog required")
	}
	if reg == nil {
		return nil, errors.New("registry required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Events == nil {
		cfg.Events = ports.NopEvents{}
	}
	if cfg.CatalogTimeout <= 0 {
		cfg.CatalogTimeout = 20 * time.Second
	}
	return &Engine{
		log:     log,
		catalog: catalog,
		reg:     reg,
		updates: newUpdateTracker(cfg.Events),
		config:  cfg,
	}, nil
}

// SystemUpdateID returns the global update counter.
func (e *Engine) SystemUpdateID() uint32 {
	return e.updates.System()
}

// SearchCapabilities lists the properties Search understands.
func (e *Engine) SearchCapabilities() string {
	return strings.Join(searchProperties, ",")
}

// SortCapabilities lists the properties SortCriteria understands.
func (e *Engine) SortCapabilities() string {
	return strings.Join(sortProperties, ",")
}

// ContainerUpdateIDs returns the containers bumped since the previous call.
func (e *Engine) ContainerUpdateIDs() string {
	return e.updates.Drain()
}

// Browse implements the ContentDirectory Browse action.
func (e *Engine) Browse(ctx context.Context, req BrowseRequest) (BrowseResult, error) {
	started := time.Now()
	rec, err := e.resolve(req.ObjectID)
	if err != nil {
		return BrowseResult{}, err
	}

	var res BrowseResult
	switch req.BrowseFlag {
	case BrowseMetadata:
		res, err = e.browseMetadata(ctx, rec, req)
	case BrowseDirectChildren:
		res, err = e.browseChildren(ctx, rec, req)
	default:
		return BrowseResult{}, core.Errorf(core.KindInvalidBrowseFlag, "unknown browse flag %q", req.BrowseFlag)
	}
	if err != nil {
		e.log.Debug("browse failed",
			zap.String("object_id", req.ObjectID),
			zap.String("flag", req.BrowseFlag),
			zap.Error(err),
		)
		return BrowseResult{}, err
	}
	e.log.Debug("browse",
		zap.String("object_id", req.ObjectID),
		zap.String("flag", req.BrowseFlag),
		zap.Int64("start", req.StartingIndex),
		zap.Int64("count", req.RequestedCount),
		zap.Int64("returned", res.NumberReturned),
		zap.Int64("total", res.TotalMatches),
		zap.Duration("took", time.Since(started)),
	)
	return res, nil
}

func (e *Engine) resolve(objectID string) (registry.Record, error) {
	rec, err := e.reg.Lookup(strings.TrimSpace(objectID))
	if err != nil {
		return registry.Record{}, core.Wrap(core.KindInvalidObjectID, "object "+objectID, err)
	}
	return rec, nil
}

func (e *Engine) browseMetadata(ctx context.Context, rec registry.Record, req BrowseRequest) (BrowseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.CatalogTimeout)
	defer cancel()

	entry, err := e.catalog.GetMetadata(ctx, rec.NativeID)
	if err != nil {
		return BrowseResult{}, catalogError("metadata", err)
	}
	parentID := "-1"
	if rec.ObjectID != registry.RootID {
		parentID, err = e.reg.ParentOf(rec.ObjectID)
		if err != nil {
			parentID = registry.RootID
		}
	}
	result, err := renderDIDL([]renderObject{{
		entry:    entry,
		kind:     rec.Kind,
		objectID: rec.ObjectID,
		parentID: parentID,
	}}, parseFilter(req.Filter), req.BaseURL)
	if err != nil {
		return BrowseResult{}, core.Wrap(core.KindInternal, "render", err)
	}
	return BrowseResult{
		Result:         result,
		NumberReturned: 1,
		TotalMatches:   1,
		UpdateID:       e.updates.Current(rec.ObjectID),
	}, nil
}

func (e *Engine) browseChildren(ctx context.Context, rec registry.Record, req BrowseRequest) (BrowseResult, error) {
	if rec.Kind != ports.KindContainer {
		return BrowseResult{}, core.Errorf(core.KindInvalidObjectID, "%s is not a container", rec.ObjectID)
	}
	keys := parseSortCriteria(req.SortCriteria)
	list := func(ctx context.Context, page ports.Page) (ports.Listing, error) {
		return e.catalog.ListChildren(ctx, rec.NativeID, page)
	}
	entries, total, known, err := e.window(ctx, list, keys, req.StartingIndex, req.RequestedCount)
	if err != nil {
		return BrowseResult{}, err
	}

	window := fmt.Sprintf("%d:%d:%s", req.StartingIndex, req.RequestedCount, sortKeysString(keys))
	updateID := e.updates.Observe(rec.ObjectID, window, total, known, fingerprint(total, entries))

	return e.render(rec, entries, total, updateID, req.Filter, req.BaseURL)
}

// Search implements the ContentDirectory Search action on a single
// container.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (BrowseResult, error) {
	rec, err := e.resolve(req.ContainerID)
	if err != nil {
		return BrowseResult{}, err
	}
	if rec.Kind != ports.KindContainer {
		return BrowseResult{}, core.Errorf(core.KindInvalidObjectID, "%s is not a container", rec.ObjectID)
	}
	criteria, err := parseCriteria(req.SearchCriteria)
	if err != nil {
		return BrowseResult{}, err
	}
	keys := parseSortCriteria(req.SortCriteria)

	var list func(context.Context, ports.Page) (ports.Listing, error)
	searcher, native := e.catalog.(ports.Searcher)
	text, isText := textQuery(criteria)
	if native && isText {
		list = func(ctx context.Context, page ports.Page) (ports.Listing, error) {
			return searcher.Search(ctx, rec.NativeID, text, page)
		}
	} else {
		list = func(ctx context.Context, page ports.Page) (ports.Listing, error) {
			return e.filterChildren(ctx, rec, criteria, page)
		}
	}
	entries, total, _, err := e.window(ctx, list, keys, req.StartingIndex, req.RequestedCount)
	if err != nil {
		return BrowseResult{}, err
	}
	e.log.Debug("search",
		zap.String("container_id", req.ContainerID),
		zap.String("criteria", req.SearchCriteria),
		zap.Bool("native", native && isText),
		zap.Int64("total", total),
	)
	return e.renderHits(ctx, rec, entries, total, req.Filter, req.BaseURL)
}

// filterChildren evaluates criteria over every child of rec and pages the
// matches.
func (e *Engine) filterChildren(ctx context.Context, rec registry.Record, criteria expr, page ports.Page) (ports.Listing, error) {
	listing, err := e.catalog.ListChildren(ctx, rec.NativeID, ports.Page{})
	if err != nil {
		return ports.Listing{}, err
	}
	matched := make([]ports.Entry, 0, len(listing.Entries))
	for _, entry := range listing.Entries {
		objectID, err := e.reg.ResolveOrAllocate(entry.NativeID, entry.Kind, rec.NativeID)
		if err != nil {
			continue
		}
		if criteria.match(subjectOf(entry, objectID, rec.ObjectID)) {
			matched = append(matched, entry)
		}
	}
	return ports.Listing{Entries: pageSlice(matched, page.Start, page.Count), Total: int64(len(matched))}, nil
}

func subjectOf(entry ports.Entry, objectID, parentID string) subject {
	s := subject{
		objectID: objectID,
		parentID: parentID,
		class:    classOf(entry),
		title:    entry.Title,
		creator:  entry.Artist,
		artist:   entry.Artist,
		album:    entry.Album,
		genre:    entry.Genre,
	}
	if !entry.Date.IsZero() {
		s.date = entry.Date.UTC().Format("2006-01-02")
	}
	return s
}

// window fetches the requested slice of a listing. Without sort keys the
// page goes to list as is; with sort keys everything is fetched, sorted and
// sliced here.
func (e *Engine) window(ctx context.Context, list func(context.Context, ports.Page) (ports.Listing, error), keys []sortKey, start, count int64) ([]ports.Entry, int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.CatalogTimeout)
	defer cancel()

	if len(keys) == 0 {
		listing, err := list(ctx, ports.Page{Start: start, Count: count})
		if err != nil {
			return nil, 0, false, catalogError("list children", err)
		}
		entries := listing.Entries
		if count > 0 && int64(len(entries)) > count {
			entries = entries[:count]
		}
		total := listing.Total
		known := total >= 0
		if floor := start + int64(len(entries)); total < floor && len(entries) > 0 {
			total = floor
		}
		if total < 0 {
			total = 0
		}
		return entries, total, known, nil
	}

	listing, err := list(ctx, ports.Page{})
	if err != nil {
		return nil, 0, false, catalogError("list children", err)
	}
	all := append([]ports.Entry(nil), listing.Entries...)
	sortEntries(all, keys)
	return pageSlice(all, start, count), int64(len(all)), true, nil
}

func pageSlice(entries []ports.Entry, start, count int64) []ports.Entry {
	if start >= int64(len(entries)) {
		return nil
	}
	end := int64(len(entries))
	if count > 0 && start+count < end {
		end = start + count
	}
	return entries[start:end]
}

func (e *Engine) render(parent registry.Record, entries []ports.Entry, total int64, updateID uint32, filter string, baseURL string) (BrowseResult, error) {
	objects := make([]renderObject, 0, len(entries))
	for _, entry := range entries {
		if entry.Unavailable {
			continue
		}
		objectID, err := e.reg.ResolveOrAllocate(entry.NativeID, entry.Kind, parent.NativeID)
		if err != nil {
			e.log.Warn("skip child", zap.String("parent", parent.ObjectID), zap.Error(err))
			continue
		}
		objects = append(objects, e.object(entry, objectID, parent.ObjectID))
	}
	return e.result(objects, total, updateID, filter, baseURL)
}

// renderHits renders search results. A hit may sit anywhere below scope, so
// each is placed under the container it really lives in. Hits that cannot
// be placed below scope are dropped.
func (e *Engine) renderHits(ctx context.Context, scope registry.Record, entries []ports.Entry, total int64, filter string, baseURL string) (BrowseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.CatalogTimeout)
	defer cancel()

	p := placer{engine: e, scope: scope, fetched: map[string]fetchedEntry{}}
	objects := make([]renderObject, 0, len(entries))
	for _, entry := range entries {
		if entry.Unavailable {
			continue
		}
		objectID, parentID, ok := p.place(ctx, entry)
		if !ok {
			e.log.Debug("drop search hit",
				zap.String("scope", scope.ObjectID),
				zap.String("native_id", entry.NativeID),
				zap.String("parent_native_id", entry.ParentNativeID),
			)
			continue
		}
		objects = append(objects, e.object(entry, objectID, parentID))
	}
	return e.result(objects, total, e.updates.Current(scope.ObjectID), filter, baseURL)
}

func (e *Engine) object(entry ports.Entry, objectID, parentID string) renderObject {
	kind := entry.Kind
	if rec, err := e.reg.Lookup(objectID); err == nil {
		kind = rec.Kind
	}
	return renderObject{
		entry:    entry,
		kind:     kind,
		objectID: objectID,
		parentID: parentID,
	}
}

func (e *Engine) result(objects []renderObject, total int64, updateID uint32, filter string, baseURL string) (BrowseResult, error) {
	result, err := renderDIDL(objects, parseFilter(filter), baseURL)
	if err != nil {
		return BrowseResult{}, core.Wrap(core.KindInternal, "render", err)
	}
	return BrowseResult{
		Result:         result,
		NumberReturned: int64(len(objects)),
		TotalMatches:   total,
		UpdateID:       updateID,
	}, nil
}

func catalogError(op string, err error) error {
	if errors.Is(err, ports.ErrNotFound) {
		return core.Wrap(core.KindInvalidObjectID, op, err)
	}
	return core.Wrap(core.KindCannotProcess, op, err)
}
