package collision

// RLE grids are flat arrays: [width, height, value, runLength, value, runLength, ...].
const rleHeader = 2

// QueryRLE returns the value of the run containing tileIndex without
// materialising the grid. Indexes past the encoded runs read as 0.
func QueryRLE(rle []int, tileIndex int) int {
	if tileIndex < 0 || len(rle) < rleHeader {
		return 0
	}
	covered := 0
	for i := rleHeader; i+1 < len(rle); i += 2 {
		covered += rle[i+1]
		if tileIndex < covered {
			return rle[i]
		}
	}
	return 0
}

// RLEDimensions returns the width and height stored in the header.
func RLEDimensions(rle []int) (int, int, bool) {
	if len(rle) < rleHeader {
		return 0, 0, false
	}
	return rle[0], rle[1], true
}

// EncodeRLE run-length encodes a row-major grid.
func EncodeRLE(width, height int, grid []int) []int {
	out := []int{width, height}
	if len(grid) == 0 {
		return out
	}
	cur, run := grid[0], 0
	for _, v := range grid {
		if v == cur {
			run++
			continue
		}
		out = append(out, cur, run)
		cur, run = v, 1
	}
	return append(out, cur, run)
}

// DecodeRLE expands an RLE array into a row-major grid. Only tooling and
// tests need this; queries go through QueryRLE.
func DecodeRLE(rle []int) []int {
	w, h, ok := RLEDimensions(rle)
	if !ok {
		return nil
	}
	grid := make([]int, 0, w*h)
	for i := rleHeader; i+1 < len(rle); i += 2 {
		for n := 0; n < rle[i+1]; n++ {
			grid = append(grid, rle[i])
		}
	}
	return grid
}
