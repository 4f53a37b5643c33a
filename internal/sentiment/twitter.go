package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TwitterConfig configures the TwitterProvider.
type TwitterConfig struct {
	// BearerToken authenticates against the recent-search API. Empty disables
	// the provider (NewTwitterProvider returns an error).
	BearerToken string

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string

	// MaxResults caps the number of posts fetched per query (10..100).
	MaxResults int

	// CacheTTL is how long a token's analysis is reused before re-querying.
	CacheTTL time.Duration

	// RequestTimeout bounds a single HTTP call.
	RequestTimeout time.Duration
}

// DefaultTwitterConfig returns sensible defaults.
func DefaultTwitterConfig() TwitterConfig {
	return TwitterConfig{
		BaseURL:        "https://api.twitter.com",
		MaxResults:     50,
		CacheTTL:       5 * time.Minute,
		RequestTimeout: 10 * time.Second,
	}
}

// TwitterProvider scores tokens from the Twitter v2 recent-search API.
type TwitterProvider struct {
	config TwitterConfig
	client *http.Client

	mu    sync.Mutex
	cache map[string]cachedAnalysis
}

type cachedAnalysis struct {
	analysis *TokenSentiment
	at       time.Time
}

// NewTwitterProvider creates a provider using the given config.
func NewTwitterProvider(config TwitterConfig) (*TwitterProvider, error) {
	if config.BearerToken == "" {
		return nil, fmt.Errorf("twitter provider requires a bearer token")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultTwitterConfig().BaseURL
	}
	if config.MaxResults < 10 {
		config.MaxResults = 10
	}
	if config.MaxResults > 100 {
		config.MaxResults = 100
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultTwitterConfig().CacheTTL
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultTwitterConfig().RequestTimeout
	}
	return &TwitterProvider{
		config: config,
		client: &http.Client{Timeout: config.RequestTimeout},
		cache:  make(map[string]cachedAnalysis),
	}, nil
}

// Name returns the provider's identifier.
func (p *TwitterProvider) Name() string { return "twitter" }

// AnalyzeToken fetches recent posts mentioning the token and scores them.
// Results are cached for CacheTTL per symbol.
func (p *TwitterProvider) AnalyzeToken(ctx context.Context, symbol, name string) (*TokenSentiment, error) {
	p.mu.Lock()
	if c, ok := p.cache[symbol]; ok && time.Since(c.at) < p.config.CacheTTL {
		p.mu.Unlock()
		return c.analysis, nil
	}
	p.mu.Unlock()

	posts, err := p.search(ctx, symbol, name)
	if err != nil {
		return nil, err
	}

	analysis := Analyze(symbol, posts)

	p.mu.Lock()
	p.cache[symbol] = cachedAnalysis{analysis: analysis, at: time.Now()}
	p.mu.Unlock()

	log.Debug().Str("symbol", symbol).Int("posts", analysis.PostCount).
		Int("score", analysis.Score).Msg("sentiment: twitter analysis complete")
	return analysis, nil
}

// tweetsResponse mirrors the subset of the v2 recent-search payload we read.
type tweetsResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Text          string `json:"text"`
		AuthorID      string `json:"author_id"`
		PublicMetrics struct {
			LikeCount    int64 `json:"like_count"`
			RetweetCount int64 `json:"retweet_count"`
			ReplyCount   int64 `json:"reply_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}

func (p *TwitterProvider) search(ctx context.Context, symbol, name string) ([]Post, error) {
	// Cashtag plus bare symbol, scoped to crypto context, retweets excluded.
	terms := fmt.Sprintf("$%s OR %s", symbol, symbol)
	if name != "" && name != symbol {
		terms += fmt.Sprintf(" OR %q", name)
	}
	query := fmt.Sprintf("(%s) (crypto OR token OR coin OR BNB OR BSC) -is:retweet", terms)

	params := url.Values{}
	params.Set("query", query)
	params.Set("max_results", fmt.Sprintf("%d", p.config.MaxResults))
	params.Set("tweet.fields", "public_metrics,author_id")

	endpoint := p.config.BaseURL + "/2/tweets/search/recent?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.BearerToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var payload tweetsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	posts := make([]Post, 0, len(payload.Data))
	for _, t := range payload.Data {
		posts = append(posts, Post{
			ID:       t.ID,
			Text:     t.Text,
			AuthorID: t.AuthorID,
			Likes:    t.PublicMetrics.LikeCount,
			Reposts:  t.PublicMetrics.RetweetCount,
			Replies:  t.PublicMetrics.ReplyCount,
		})
	}
	return posts, nil
}

// ClearCache drops all cached analyses.
func (p *TwitterProvider) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]cachedAnalysis)
}
