package processing

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/pdok/terrapack/packed"
	"github.com/pdok/terrapack/resample"
	"github.com/pdok/terrapack/tilekey"
)

// DirSource reads {Dir}/{key}.png for each key. Keys without a file are skipped.
type DirSource struct {
	Dir    string
	Keys   []tilekey.Key
	Report *Report
}

func (s DirSource) ReadTiles(tiles chan<- Tile) {
	for _, key := range s.Keys {
		raster, err := packed.ReadFile(filepath.Join(s.Dir, key.String()+".png"))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			s.Report.Skip(key)
		case err != nil:
			s.Report.Fail(key, err)
		default:
			tiles <- &rasterTile{key: key, raster: raster}
		}
	}
	close(tiles)
}

// DirTarget writes every incoming tile to {Dir}/{key}.png.
type DirTarget struct {
	Dir    string
	Report *Report
}

func (t DirTarget) WriteTiles(tiles <-chan Tile) {
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		log.Printf("  could not create %s: %v", t.Dir, err)
	}
	for tile := range tiles {
		if err := packed.WriteFile(filepath.Join(t.Dir, tile.Key().String()+".png"), tile.Raster()); err != nil {
			t.Report.Fail(tile.Key(), err)
			continue
		}
		t.Report.Done(tile.Key())
	}
}

// TierDir is the directory of one reduction tier: {low}/{factor}x_{algorithm}.
func TierDir(low string, tier resample.Config) string {
	return filepath.Join(low, tier.String())
}

// Reduce derives every tier from the full resolution tiles in full. Tiers with factor 1
// produce nothing.
func Reduce(full, low string, keys []tilekey.Key, tiers []resample.Config, report *Report) {
	log.Printf("=== start reducing %d tiles into %d tiers (run %s) ===", len(keys), len(tiers), report.RunID)
	configs := make(map[string]resample.Config, len(tiers))
	targets := make(map[string]Target, len(tiers))
	for _, tier := range tiers {
		if tier.Factor == 1 {
			continue
		}
		configs[tier.String()] = tier
		targets[tier.String()] = DirTarget{Dir: TierDir(low, tier), Report: report}
	}
	ProcessTiles(DirSource{Dir: full, Keys: keys, Report: report}, targets, func(t Tile, tierNames []string) (map[string]*packed.Raster, error) {
		rasterPerTier := make(map[string]*packed.Raster, len(tierNames))
		for _, name := range tierNames {
			reduced, err := resample.Reduce(t.Raster(), configs[name])
			if err != nil {
				return nil, err
			}
			if reduced != nil {
				rasterPerTier[name] = reduced
			}
		}
		return rasterPerTier, nil
	}, report)
	report.Log("reducing")
}
