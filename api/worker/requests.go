package worker

// AnalyzeRequestData is the body sent to the per-date analysis endpoint.  Provider
// fields are passed through untouched so the backend can route to the right AI and
// news sources.
type AnalyzeRequestData struct {
	ForceReanalysis bool   `json:"forceReanalysis"`
	AIProvider      string `json:"aiProvider"`
	NewsProvider    string `json:"newsProvider"`
}

// BatchRequestData is the body sent to the streaming batch endpoint.
type BatchRequestData struct {
	Dates        []string `json:"dates"`
	Concurrency  int      `json:"concurrency"`
	AIProvider   string   `json:"aiProvider"`
	NewsProvider string   `json:"newsProvider"`
}

// Article is one candidate source article presented during selection.  Only the ID
// is required downstream, the rest is display metadata.
type Article struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
	Source string `json:"source,omitempty"`
}

// TieredArticles groups selection candidates by coverage tier.
type TieredArticles struct {
	Bitcoin []Article `json:"bitcoin"`
	Crypto  []Article `json:"crypto"`
	Macro   []Article `json:"macro"`
}

// SelectionData carries everything a human needs to adjudicate an ambiguous
// analysis: the tiered candidates plus which upstream models picked what.
type SelectionData struct {
	SelectionMode         string         `json:"selectionMode"`
	TieredArticles        TieredArticles `json:"tieredArticles"`
	GeminiSelectedIDs     []string       `json:"geminiSelectedIds,omitempty"`
	PerplexitySelectedIDs []string       `json:"perplexitySelectedIds,omitempty"`
	IntersectionIDs       []string       `json:"intersectionIds,omitempty"`
	OpenAISuggestedID     string         `json:"openaiSuggestedId,omitempty"`
	AIsDidntAgree         bool           `json:"aisDidntAgree,omitempty"`
}

// AnalyzeResponseData is the per-date analysis response.  When RequiresSelection is
// set the embedded SelectionData fields are populated and the date is not yet
// terminal; otherwise the analysis completed server-side.
type AnalyzeResponseData struct {
	RequiresSelection bool `json:"requiresSelection"`
	SelectionData
	VeriBadge string `json:"veriBadge,omitempty"`
}

// ConfirmRequestData is the body sent to the per-date confirm-selection endpoint.
type ConfirmRequestData struct {
	ArticleID     string `json:"articleId"`
	SelectionMode string `json:"selectionMode"`
}

// ConfirmResponseData is returned once the backend has generated the summary for
// the chosen article.  AIsDidntAgree indicates the record was persisted with a
// manual-review marker, it does not reopen the selection.
type ConfirmResponseData struct {
	VeriBadge     string `json:"veriBadge"`
	AIsDidntAgree bool   `json:"aisDidntAgree,omitempty"`
}
