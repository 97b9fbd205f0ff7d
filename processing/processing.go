// Package processing takes care of the logistics around reading tiles and writing them to
// targets, and of running per tile work with bounded concurrency.
// Not the encoding or resampling operation(s) itself.
package processing

import (
	"log"
	"sync"

	"github.com/pdok/terrapack/packed"
	"github.com/pdok/terrapack/tilekey"
)

func readTilesFromSource(source Source, tiles chan<- Tile) {
	source.ReadTiles(tiles)
}

// processTiles applies f to every incoming tile and passes each derived raster on, tagged with its tier
func processTiles(tilesIn <-chan Tile, tilesOut chan<- TileForTier, tiers []string, f processTileFunc, report *Report) {
	var preCount, postCount, derivedCount uint64
	for {
		tile, hasMore := <-tilesIn
		if !hasMore {
			break
		}
		preCount++
		rasterPerTier, err := f(tile, tiers)
		if err != nil {
			report.Fail(tile.Key(), err)
			continue
		}
		postCount++
		for tier, raster := range rasterPerTier {
			derivedCount++
			tilesOut <- wrapTileForTier(tile.Key(), tier, raster)
		}
	}
	close(tilesOut)

	log.Printf("    total tiles: %d", preCount)
	log.Printf("      processed: %d", postCount)
	log.Printf("        derived: %d", derivedCount)
}

// writeTilesToTargets distributes the processed tiles over a goroutine per tier target
func writeTilesToTargets(tilesForTiers <-chan TileForTier, targets map[string]Target) {
	targetChannels := make(map[string]chan<- Tile)
	wg := sync.WaitGroup{}

	for tier, target := range targets {
		targetChannel := make(chan Tile)
		targetChannels[tier] = targetChannel
		wg.Add(1)
		go func(target Target) {
			defer wg.Done()
			target.WriteTiles(targetChannel)
		}(target)
	}

	for {
		tile, ok := <-tilesForTiers
		if !ok {
			break
		}
		channel, ok := targetChannels[tile.Tier()]
		if !ok {
			log.Printf("    no target for tier %s, dropping %s", tile.Tier(), tile.Key())
			continue
		}
		channel <- tile
	}

	// close the channels, the targets will do their last writing
	for _, targetChannel := range targetChannels {
		close(targetChannel)
	}

	wg.Wait()
}

type processTileFunc func(t Tile, tiers []string) (map[string]*packed.Raster, error)

// ProcessTiles applies f to each tile of source and writes the results to the target of their tier.
func ProcessTiles(source Source, targets map[string]Target, f processTileFunc, report *Report) {
	tilesBefore := make(chan Tile)
	tilesAfter := make(chan TileForTier)
	tiers := make([]string, 0, len(targets))
	for tier := range targets {
		tiers = append(tiers, tier)
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		writeTilesToTargets(tilesAfter, targets)
	}()
	go processTiles(tilesBefore, tilesAfter, tiers, f, report)
	go readTilesFromSource(source, tilesBefore)

	wg.Wait()
}

type rasterTile struct {
	key    tilekey.Key
	raster *packed.Raster
}

func (t *rasterTile) Key() tilekey.Key {
	return t.key
}

func (t *rasterTile) Raster() *packed.Raster {
	return t.raster
}

type tileForTierWrapper struct {
	rasterTile
	tier string
}

func (t *tileForTierWrapper) Tier() string {
	return t.tier
}

func wrapTileForTier(key tilekey.Key, tier string, raster *packed.Raster) TileForTier {
	return &tileForTierWrapper{
		rasterTile: rasterTile{key: key, raster: raster},
		tier:       tier,
	}
}
