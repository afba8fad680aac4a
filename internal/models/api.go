package models

// API request and response types

type QueryRequest struct {
	Query               string   `json:"query" binding:"required"`
	BypassCache         bool     `json:"bypass_cache"`
	TopK                *int     `json:"top_k"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
}

type QueryResponse struct {
	QueryID         uint            `json:"query_id,omitempty"`
	Response        string          `json:"response"`
	Confidence      float64         `json:"confidence"`
	Sources         SourceBreakdown `json:"sources"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	CacheHit        bool            `json:"cache_hit"`
	Intent          Intent          `json:"intent,omitempty"`
	Strategy        Strategy        `json:"strategy,omitempty"`
	Mode            Mode            `json:"mode"`
}

type FeedbackRequest struct {
	QueryID      uint   `json:"query_id" binding:"required"`
	FeedbackType string `json:"feedback_type" binding:"required"`
	FeedbackText string `json:"feedback_text"`
}

type InvalidateRequest struct {
	AnswerContains string `json:"answer_contains"`
	QueryContains  string `json:"query_contains"`
	CreatedBefore  string `json:"created_before"`
	All            bool   `json:"all"`
}

type InvalidateResponse struct {
	Removed int64 `json:"removed"`
}
