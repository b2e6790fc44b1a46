package collision

const (
	defaultMapTiles = 64
	defaultTileSize = 32
	safeZoneRadius  = 4
)

// DefaultMap builds a bordered starter map with a few pillars and a no-PvP
// safe zone around the centre, where players respawn.
func DefaultMap(name string) *MapData {
	n := defaultMapTiles
	blocking := make([]int, n*n)
	nopvp := make([]int, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if x == 0 || y == 0 || x == n-1 || y == n-1 {
				blocking[y*n+x] = 1
			}
			// pillars every 12 tiles, away from the centre
			if x%12 == 6 && y%12 == 6 && (x < n/2-safeZoneRadius || x > n/2+safeZoneRadius) {
				blocking[y*n+x] = 1
			}
			if abs(x-n/2) <= safeZoneRadius && abs(y-n/2) <= safeZoneRadius {
				nopvp[y*n+x] = 1
			}
		}
	}
	return &MapData{
		Name:       name,
		Width:      n,
		Height:     n,
		TileWidth:  defaultTileSize,
		TileHeight: defaultTileSize,
		Collision:  EncodeRLE(n, n, blocking),
		NoPvP:      EncodeRLE(n, n, nopvp),
		Warps:      map[string]Warp{},
	}
}
