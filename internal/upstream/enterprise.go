package upstream

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"coursecart/backend/internal/cache"
	"coursecart/backend/internal/domain"
)

type EnterpriseClient struct {
	client *Client
	cache  cache.Cache
	ttl    time.Duration
	group  singleflight.Group
}

func NewEnterpriseClient(client *Client, lookupCache cache.Cache, ttl time.Duration) *EnterpriseClient {
	if lookupCache == nil {
		lookupCache = cache.NoopCache{}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &EnterpriseClient{client: client, cache: lookupCache, ttl: ttl}
}

type learnerLookup struct {
	Found   bool                      `json:"found"`
	Learner domain.LearnerAffiliation `json:"learner"`
}

type learnerPage struct {
	Results []domain.LearnerAffiliation `json:"results"`
}

// GetLearner returns the learner's enterprise affiliation. found is false when the
// service has no record for the user; that is not an error.
func (c *EnterpriseClient) GetLearner(ctx context.Context, site domain.Site, username string) (domain.LearnerAffiliation, bool, error) {
	key := cacheKey(site.Domain, "enterprise_learner", username)
	if cached, ok := cache.GetJSON[learnerLookup](ctx, c.cache, key); ok {
		return cached.Learner, cached.Found, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		var page learnerPage
		if err := c.client.get(ctx, "/api/v1/enterprise-learner/", url.Values{"username": {username}}, &page); err != nil {
			return learnerLookup{}, err
		}
		lookup := learnerLookup{}
		if len(page.Results) > 0 {
			lookup = learnerLookup{Found: true, Learner: page.Results[0]}
		}
		if err := cache.SetJSON(ctx, c.cache, key, lookup, c.ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("enterprise cache write failed")
		}
		return lookup, nil
	})
	if err != nil {
		return domain.LearnerAffiliation{}, false, err
	}
	lookup := v.(learnerLookup)
	return lookup.Learner, lookup.Found, nil
}
