package segmentation

import (
	"fmt"

	"hippovol/internal/models"
)

// Connectivity selects which neighbours belong to the same connected component.
type Connectivity int

const (
	// Connectivity4 joins pixels sharing an edge.
	Connectivity4 Connectivity = 4

	// Connectivity8 also joins diagonal neighbours.
	Connectivity8 Connectivity = 8
)

var (
	offsets4 = [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	offsets8 = [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}, {-1, -1}, {1, -1}, {-1, 1}, {1, 1}}
)

// ParseConnectivity converts 4 or 8 into a Connectivity.
func ParseConnectivity(n int) (Connectivity, error) {
	switch n {
	case 4:
		return Connectivity4, nil
	case 8:
		return Connectivity8, nil
	default:
		return 0, fmt.Errorf("connectivity must be 4 or 8, got %d", n)
	}
}

func (c Connectivity) offsets() [][2]int {
	if c == Connectivity4 {
		return offsets4
	}
	return offsets8
}

// RemoveSmallComponents clears foreground components with fewer than minSize
// pixels. The input mask is left untouched.
func RemoveSmallComponents(mask models.Mask, minSize int, conn Connectivity) models.Mask {
	out := mask.Clone()
	if minSize <= 1 {
		return out
	}
	for _, component := range components(mask, true, conn) {
		if len(component) < minSize {
			for _, idx := range component {
				out.Bits[idx] = false
			}
		}
	}
	return out
}

// RemoveSmallHoles fills background components with an area below minArea.
// Background regions touching the border are treated like any other region.
// The input mask is left untouched.
func RemoveSmallHoles(mask models.Mask, minArea int, conn Connectivity) models.Mask {
	out := mask.Clone()
	if minArea <= 1 {
		return out
	}
	for _, component := range components(mask, false, conn) {
		if len(component) < minArea {
			for _, idx := range component {
				out.Bits[idx] = true
			}
		}
	}
	return out
}

// components labels the connected regions of pixels equal to value and returns
// the pixel indices of each region in scan order.
func components(mask models.Mask, value bool, conn Connectivity) [][]int {
	w, h := mask.Width, mask.Height
	visited := make([]bool, len(mask.Bits))
	offsets := conn.offsets()

	var regions [][]int
	stack := make([]int, 0, 64)
	for start := range mask.Bits {
		if visited[start] || mask.Bits[start] != value {
			continue
		}

		var region []int
		visited[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			region = append(region, idx)

			x, y := idx%w, idx/w
			for _, off := range offsets {
				nx, ny := x+off[0], y+off[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				n := ny*w + nx
				if !visited[n] && mask.Bits[n] == value {
					visited[n] = true
					stack = append(stack, n)
				}
			}
		}
		regions = append(regions, region)
	}
	return regions
}
