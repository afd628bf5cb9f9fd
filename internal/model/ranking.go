package model

// RankingEntry is one product's score in a daily ranking.
type RankingEntry struct {
	Rank      int64   `json:"rank"`
	ProductID int64   `json:"product_id"`
	Score     float64 `json:"score"`
}
