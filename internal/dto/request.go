package dto

// GetReadingStatsRequest represents a reading statistics query
type GetReadingStatsRequest struct {
	StoreCode  string `form:"store_code" binding:"required" example:"STORE01"`
	SensorType string `form:"sensor_type" binding:"required" example:"tds"`
	From       int64  `form:"from" binding:"required" example:"1740787200"`
	To         int64  `form:"to" binding:"required" example:"1740873600"`
	GroupBy    string `form:"group_by" example:"hour"`
}

// GetLatestReadingsRequest represents a latest readings query
type GetLatestReadingsRequest struct {
	StoreCode string `form:"store_code" binding:"required" example:"STORE01"`
}
