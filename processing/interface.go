package processing

import (
	"github.com/pdok/terrapack/packed"
	"github.com/pdok/terrapack/tilekey"
)

type Tile interface {
	Key() tilekey.Key
	Raster() *packed.Raster
}

type TileForTier interface {
	Tile
	Tier() string
}

type Source interface {
	ReadTiles(chan<- Tile)
}

type Target interface {
	WriteTiles(<-chan Tile)
}
