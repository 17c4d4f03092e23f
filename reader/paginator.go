package reader

import (
	"context"
	"io"
	"time"

	"github.com/pteich/elastic-search-reader/elastic"
)

// paginator is the closed set of page-fetch strategies. fetch returns the
// next non-empty page or io.EOF once the engine is exhausted; release frees
// the server-side cursor and is safe to call more than once.
type paginator interface {
	fetch(ctx context.Context) ([]elastic.Hit, error)
	release(ctx context.Context) error
}

// scrollPaginator pages with the engine's scroll cursor. State is the scroll
// id handed back by the engine; zero hits on any page is terminal.
type scrollPaginator struct {
	client    *elastic.Client
	params    elastic.SearchParams
	keepAlive time.Duration
	scrollID  string
	started   bool
}

func (s *scrollPaginator) fetch(ctx context.Context) ([]elastic.Hit, error) {
	var result *elastic.SearchResult
	var err error

	if !s.started {
		p := s.params
		p.Scroll = s.keepAlive
		result, err = s.client.Search(ctx, p)
		if err != nil {
			return nil, err
		}
		s.started = true
	} else {
		if s.scrollID == "" {
			return nil, io.EOF
		}
		result, err = s.client.Scroll(ctx, s.scrollID, s.keepAlive)
		if err != nil {
			return nil, err
		}
	}

	// the engine may rotate the scroll id between pages
	if result.ScrollID != "" {
		s.scrollID = result.ScrollID
	}

	hits := result.Hits()
	if len(hits) == 0 {
		return nil, io.EOF
	}

	return hits, nil
}

func (s *scrollPaginator) release(ctx context.Context) error {
	if s.scrollID == "" {
		return nil
	}

	err := s.client.ClearScroll(ctx, s.scrollID)
	s.scrollID = ""
	return err
}

// pitPaginator pages with a point-in-time context and search_after cursors.
// State is the pit id plus the sort tuple of the last hit seen; a page
// shorter than the requested size is terminal.
type pitPaginator struct {
	client      *elastic.Client
	params      elastic.SearchParams
	index       []string
	keepAlive   string
	size        int
	pitID       string
	searchAfter []interface{}
	started     bool
	exhausted   bool
}

func (p *pitPaginator) fetch(ctx context.Context) ([]elastic.Hit, error) {
	if p.exhausted {
		return nil, io.EOF
	}

	if !p.started {
		pitID, err := p.client.OpenPointInTime(ctx, p.index, p.keepAlive)
		if err != nil {
			return nil, err
		}
		p.pitID = pitID
		p.started = true
	}

	params := p.params
	params.PIT = &elastic.PointInTime{ID: p.pitID, KeepAlive: p.keepAlive}
	params.SearchAfter = p.searchAfter

	result, err := p.client.Search(ctx, params)
	if err != nil {
		return nil, err
	}

	// the engine may hand back a refreshed pit id with every page
	if result.PitID != "" {
		p.pitID = result.PitID
	}

	hits := result.Hits()
	if len(hits) == 0 {
		p.exhausted = true
		return nil, io.EOF
	}

	p.searchAfter = hits[len(hits)-1].Sort
	if len(hits) < p.size {
		p.exhausted = true
	}

	return hits, nil
}

func (p *pitPaginator) release(ctx context.Context) error {
	if p.pitID == "" {
		return nil
	}

	err := p.client.ClosePointInTime(ctx, p.pitID)
	p.pitID = ""
	return err
}
