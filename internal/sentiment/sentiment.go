package sentiment

import (
	"context"
	"math"
	"strings"
	"time"
)

// Provider produces a social sentiment read for a token. Implementations may
// talk to an external API or return canned data; callers treat a nil analysis
// or an error as "no signal" and never hard-block on it.
type Provider interface {
	// Name returns the provider's identifier for logging.
	Name() string

	// AnalyzeToken scores recent social activity for the given token symbol
	// and display name. The returned analysis is never nil on a nil error.
	AnalyzeToken(ctx context.Context, symbol, name string) (*TokenSentiment, error)
}

// Label classifies the overall tone of the sampled posts.
type Label string

const (
	LabelPositive Label = "positive"
	LabelNegative Label = "negative"
	LabelNeutral  Label = "neutral"
)

// Engagement aggregates interaction counts across the sampled posts.
type Engagement struct {
	Likes   int64 `json:"likes"`
	Reposts int64 `json:"reposts"`
	Replies int64 `json:"replies"`
	Total   int64 `json:"total"`
}

// TokenSentiment is the scored social picture for a single token.
type TokenSentiment struct {
	Symbol      string     `json:"symbol"`
	PostCount   int        `json:"post_count"`
	UniqueUsers int        `json:"unique_users"`
	Engagement  Engagement `json:"engagement"`

	// PositivePct/NegativePct/NeutralPct are the share of sampled posts per
	// label, rounded to whole percent.
	PositivePct int   `json:"positive_pct"`
	NegativePct int   `json:"negative_pct"`
	NeutralPct  int   `json:"neutral_pct"`
	Overall     Label `json:"overall"`

	// HypeScore is a 0-100 blend of volume, tone, and engagement.
	HypeScore int `json:"hype_score"`

	// Score is the 0-100 composite used by strategies.
	Score int `json:"score"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Post is a single sampled social post.
type Post struct {
	ID       string
	Text     string
	AuthorID string
	Likes    int64
	Reposts  int64
	Replies  int64
}

// ----------------------------------------------------------------------------
// Keyword scoring
// ----------------------------------------------------------------------------

var positiveWords = map[string]struct{}{
	"moon": {}, "gem": {}, "bullish": {}, "pump": {}, "buy": {},
	"hold": {}, "hodl": {}, "rocket": {}, "launch": {}, "fire": {},
	"amazing": {}, "great": {}, "legit": {}, "100x": {}, "1000x": {},
	"early": {}, "alpha": {}, "based": {}, "lfg": {},
}

var negativeWords = map[string]struct{}{
	"rug": {}, "scam": {}, "honeypot": {}, "fake": {}, "avoid": {},
	"dump": {}, "sell": {}, "bearish": {}, "dead": {}, "trash": {},
	"warning": {}, "rugpull": {}, "ponzi": {}, "fraud": {}, "exit": {},
}

// scorePost returns a tone score in [-1, 1] for one post's text.
func scorePost(text string) float64 {
	lower := strings.ToLower(text)

	var pos, neg int
	for _, word := range strings.Fields(lower) {
		clean := strings.TrimFunc(word, func(r rune) bool {
			return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
		})
		if _, ok := positiveWords[clean]; ok {
			pos++
		}
		if _, ok := negativeWords[clean]; ok {
			neg++
		}
	}

	var score float64
	if pos+neg > 0 {
		score = float64(pos-neg) / float64(pos+neg)
	}

	// Emoji adjustment.
	if strings.ContainsAny(lower, "\U0001F680\U0001F525\U0001F48E") {
		score = math.Min(score+0.2, 1)
	}
	if strings.ContainsAny(lower, "\U0001F4A9\U0001F534\U0001F4C9") {
		score = math.Max(score-0.2, -1)
	}
	return score
}

func labelFor(score float64) Label {
	switch {
	case score > 0.2:
		return LabelPositive
	case score < -0.2:
		return LabelNegative
	default:
		return LabelNeutral
	}
}

// Analyze scores a sample of posts for the given symbol. It is the shared
// scoring path for every provider: providers fetch posts, Analyze turns them
// into a TokenSentiment.
func Analyze(symbol string, posts []Post) *TokenSentiment {
	now := time.Now().UTC()
	if len(posts) == 0 {
		return &TokenSentiment{
			Symbol:     symbol,
			NeutralPct: 100,
			Overall:    LabelNeutral,
			UpdatedAt:  now,
		}
	}

	var (
		eng        Engagement
		users      = make(map[string]struct{}, len(posts))
		posCount   int
		negCount   int
		neuCount   int
		totalScore float64
	)
	for _, p := range posts {
		eng.Likes += p.Likes
		eng.Reposts += p.Reposts
		eng.Replies += p.Replies
		users[p.AuthorID] = struct{}{}

		score := scorePost(p.Text)
		switch labelFor(score) {
		case LabelPositive:
			posCount++
		case LabelNegative:
			negCount++
		default:
			neuCount++
		}

		// Weight tone by engagement: loud posts count more.
		weight := float64(p.Likes + p.Reposts*2 + p.Replies)
		totalScore += score * (1 + math.Log10(weight+1))
	}
	eng.Total = eng.Likes + eng.Reposts + eng.Replies

	total := len(posts)
	positivePct := int(math.Round(float64(posCount) / float64(total) * 100))
	negativePct := int(math.Round(float64(negCount) / float64(total) * 100))
	neutralPct := int(math.Round(float64(neuCount) / float64(total) * 100))

	overall := LabelNeutral
	if positivePct > negativePct && positivePct > 40 {
		overall = LabelPositive
	} else if negativePct > positivePct && negativePct > 40 {
		overall = LabelNegative
	}

	// Hype: volume (max 30) + tone (max 30) + engagement (max 40).
	volumeScore := math.Min(float64(total)/2, 30)
	toneScore := math.Max(0, totalScore/float64(total)) * 30
	engagementScore := math.Min(math.Log10(float64(eng.Total)+1)*10, 40)
	hype := int(math.Round(math.Min(volumeScore+toneScore+engagementScore, 100)))

	s := &TokenSentiment{
		Symbol:      symbol,
		PostCount:   total,
		UniqueUsers: len(users),
		Engagement:  eng,
		PositivePct: positivePct,
		NegativePct: negativePct,
		NeutralPct:  neutralPct,
		Overall:     overall,
		HypeScore:   hype,
		UpdatedAt:   now,
	}
	s.Score = compositeScore(s)
	return s
}

// compositeScore blends volume, engagement, tone, and hype into 0-100.
func compositeScore(s *TokenSentiment) int {
	postScore := math.Min(float64(s.PostCount)/5, 20)
	engagementScore := math.Min(math.Log10(float64(s.Engagement.Total)+1)*10, 30)
	toneScore := float64(s.PositivePct)/100*15 + float64(s.HypeScore)/100*15
	userScore := math.Min(float64(s.UniqueUsers), 20)

	return int(math.Round(math.Min(postScore+engagementScore+toneScore+userScore, 100)))
}
