package silver

// Stats counts per-record outcomes of one normalization pass. All fields
// are plain sums so partial Stats computed on independent partitions can
// be merged in any order.
type Stats struct {
	Normalized      int `json:"normalized"`
	Rejected        int `json:"rejected"`
	ScoreWarnings   int `json:"score_warnings"`
	DateWarnings    int `json:"date_warnings"`
	ProductWarnings int `json:"product_warnings"`
}

// Merge returns the element-wise sum of s and other.
func (s Stats) Merge(other Stats) Stats {
	return Stats{
		Normalized:      s.Normalized + other.Normalized,
		Rejected:        s.Rejected + other.Rejected,
		ScoreWarnings:   s.ScoreWarnings + other.ScoreWarnings,
		DateWarnings:    s.DateWarnings + other.DateWarnings,
		ProductWarnings: s.ProductWarnings + other.ProductWarnings,
	}
}

// Warnings returns the total number of validation warnings across all
// categories.
func (s Stats) Warnings() int {
	return s.ScoreWarnings + s.DateWarnings + s.ProductWarnings
}
