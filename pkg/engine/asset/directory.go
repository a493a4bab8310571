package asset

import "sync"

// Snapshot is an immutable view of the directory taken once per incoming
// message, so a mid-message directory reload cannot change resolution.
type Snapshot struct {
	AssetsByID map[string]Asset
	PairsByID  map[string]AssetPair
}

func (s *Snapshot) Asset(id string) (Asset, bool) {
	a, ok := s.AssetsByID[id]
	return a, ok
}

func (s *Snapshot) Pair(id string) (AssetPair, bool) {
	p, ok := s.PairsByID[id]
	return p, ok
}

// Directory is the live asset/asset-pair lookup. Reads are concurrent;
// Replace swaps the whole content at once.
type Directory struct {
	mu     sync.RWMutex
	assets map[string]Asset
	pairs  map[string]AssetPair
}

func NewDirectory(assets []Asset, pairs []AssetPair) *Directory {
	d := &Directory{}
	d.Replace(assets, pairs)
	return d
}

func (d *Directory) Replace(assets []Asset, pairs []AssetPair) {
	am := make(map[string]Asset, len(assets))
	for _, a := range assets {
		am[a.ID] = a
	}
	pm := make(map[string]AssetPair, len(pairs))
	for _, p := range pairs {
		pm[p.ID] = p
	}
	d.mu.Lock()
	d.assets = am
	d.pairs = pm
	d.mu.Unlock()
}

func (d *Directory) Asset(id string) (Asset, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.assets[id]
	return a, ok
}

func (d *Directory) Pair(id string) (AssetPair, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.pairs[id]
	return p, ok
}

func (d *Directory) Snapshot() *Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := &Snapshot{
		AssetsByID: make(map[string]Asset, len(d.assets)),
		PairsByID:  make(map[string]AssetPair, len(d.pairs)),
	}
	for id, a := range d.assets {
		s.AssetsByID[id] = a
	}
	for id, p := range d.pairs {
		s.PairsByID[id] = p
	}
	return s
}
