package imageprocessor

// Quality grades how usable a pipeline result is for matching.
type Quality struct {
	Score   float64           `json:"score"`
	Details map[string]string `json:"details"`
}

// AssessQuality weights contour presence, object area, circularity and
// shape extraction success into a score in [0, 1].
func AssessQuality(hasContour bool, g Geometry, shapeOK bool) Quality {
	q := Quality{Details: make(map[string]string, 4)}

	contours := 0.0
	if hasContour {
		contours = 0.8
		q.Details["contours"] = "good"
	} else {
		q.Details["contours"] = "poor"
	}

	var area float64
	switch {
	case g.Area > 10000:
		area, q.Details["area"] = 1.0, "excellent"
	case g.Area > 5000:
		area, q.Details["area"] = 0.8, "good"
	case g.Area > 1000:
		area, q.Details["area"] = 0.6, "fair"
	default:
		area, q.Details["area"] = 0.3, "poor"
	}

	var form float64
	switch {
	case g.Circularity > 0.7:
		form, q.Details["form"] = 1.0, "very well defined"
	case g.Circularity > 0.4:
		form, q.Details["form"] = 0.8, "well defined"
	default:
		form, q.Details["form"] = 0.5, "poorly defined"
	}

	shape := 0.0
	if shapeOK {
		shape = 1.0
		q.Details["shape"] = "ok"
	} else {
		q.Details["shape"] = "failed"
	}

	q.Score = contours*0.2 + area*0.3 + form*0.3 + shape*0.2
	return q
}
