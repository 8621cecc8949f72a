package platformadapter

// NewTikTok builds the TikTok Content Posting API adapter.
func NewTikTok(baseURL string) Adapter {
	return NewHTTPAdapter("tiktok", baseURL)
}
