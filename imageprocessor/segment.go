package imageprocessor

import (
	"image"
	"image/color"

	"productfinder/config"

	"gocv.io/x/gocv"
)

var whiteRGBA = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Contour is a closed region boundary.
type Contour []image.Point

// Segmentation is the outcome of foreground extraction. An empty Contours
// list means no qualifying object was found.
type Segmentation struct {
	Mask      gocv.Mat
	Threshold float64
	Contours  []Contour
	Areas     []float64
	Principal Contour
}

// Close releases the mask.
func (s *Segmentation) Close() {
	s.Mask.Close()
}

// Empty reports whether no contour survived filtering.
func (s *Segmentation) Empty() bool {
	return len(s.Contours) == 0
}

// Segment binarizes the smoothed grayscale image with Otsu's threshold
// (bright foreground), removes background connected to the image corners,
// cleans the mask with one opening and one closing and returns the external
// contours that clear the minimum area and do not touch the border margin.
func Segment(smoothed gocv.Mat, cfg config.Segmentation) *Segmentation {
	binary := gocv.NewMat()
	defer binary.Close()
	thresh := gocv.Threshold(smoothed, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	seg := &Segmentation{Threshold: float64(thresh)}

	fg := planeFromMat(binary)
	clearCornerRegions(fg)
	filled, err := gocv.NewMatFromBytes(fg.h, fg.w, gocv.MatTypeCV8UC1, fg.pix)
	if err != nil {
		seg.Mask = gocv.NewMatWithSize(smoothed.Rows(), smoothed.Cols(), gocv.MatTypeCV8UC1)
		return seg
	}
	mask := filled.Clone()
	filled.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 3, Y: 3})
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)
	seg.Mask = mask

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	W, H := mask.Cols(), mask.Rows()
	best := -1
	for i := 0; i < contours.Size(); i++ {
		pv := contours.At(i)
		area := gocv.ContourArea(pv)
		if area < cfg.MinArea {
			continue
		}
		if touchesBorder(gocv.BoundingRect(pv), W, H, cfg.BorderMargin) {
			continue
		}
		seg.Contours = append(seg.Contours, Contour(pv.ToPoints()))
		seg.Areas = append(seg.Areas, area)
		if best < 0 || area > seg.Areas[best] {
			best = len(seg.Areas) - 1
		}
	}
	if best >= 0 {
		seg.Principal = seg.Contours[best]
	}
	return seg
}

func touchesBorder(r image.Rectangle, W, H, m int) bool {
	x, y, w, h := r.Min.X, r.Min.Y, r.Dx(), r.Dy()
	return x <= m || y <= m || x+w >= W-m || y+h >= H-m
}

// clearCornerRegions zeroes every 4-connected foreground region that
// contains one of the four image corners.
func clearCornerRegions(p plane) {
	if p.empty() {
		return
	}
	corners := []image.Point{{0, 0}, {p.w - 1, 0}, {0, p.h - 1}, {p.w - 1, p.h - 1}}
	var stack []image.Point
	for _, c := range corners {
		if p.at(c.X, c.Y) == 0 {
			continue
		}
		stack = append(stack[:0], c)
		p.pix[c.Y*p.w+c.X] = 0
		for len(stack) > 0 {
			q := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, n := range [4]image.Point{{q.X - 1, q.Y}, {q.X + 1, q.Y}, {q.X, q.Y - 1}, {q.X, q.Y + 1}} {
				if n.X < 0 || n.Y < 0 || n.X >= p.w || n.Y >= p.h {
					continue
				}
				if i := n.Y*p.w + n.X; p.pix[i] != 0 {
					p.pix[i] = 0
					stack = append(stack, n)
				}
			}
		}
	}
}

// ForegroundMask rasterizes every kept contour and intersects the result
// with the binary mask, so holes inside an object stay background and
// regions whose contours were filtered out are dropped.
func (s *Segmentation) ForegroundMask() gocv.Mat {
	rows, cols := s.Mask.Rows(), s.Mask.Cols()
	mask := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	mask.SetTo(gocv.NewScalar(0, 0, 0, 0))
	if s.Empty() {
		return mask
	}
	pts := make([][]image.Point, len(s.Contours))
	for i, c := range s.Contours {
		pts[i] = c
	}
	pv := gocv.NewPointsVectorFromPoints(pts)
	defer pv.Close()
	gocv.DrawContours(&mask, pv, -1, whiteRGBA, -1)
	gocv.BitwiseAnd(mask, s.Mask, &mask)
	return mask
}
