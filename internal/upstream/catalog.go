package upstream

import (
	"context"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"coursecart/backend/internal/cache"
	"coursecart/backend/internal/domain"
)

type CatalogClient struct {
	client *Client
	cache  cache.Cache
	ttl    time.Duration
	group  singleflight.Group
}

func NewCatalogClient(client *Client, lookupCache cache.Cache, ttl time.Duration) *CatalogClient {
	if lookupCache == nil {
		lookupCache = cache.NoopCache{}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CatalogClient{client: client, cache: lookupCache, ttl: ttl}
}

func (c *CatalogClient) GetBundle(ctx context.Context, site domain.Site, bundleID string) (domain.Bundle, error) {
	key := cacheKey(site.Domain, "bundle", bundleID)
	if cached, ok := cache.GetJSON[domain.Bundle](ctx, c.cache, key); ok {
		return cached, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		var bundle domain.Bundle
		if err := c.client.get(ctx, "/api/v1/bundles/"+url.PathEscape(bundleID)+"/", nil, &bundle); err != nil {
			return domain.Bundle{}, err
		}
		c.store(ctx, key, bundle)
		return bundle, nil
	})
	if err != nil {
		return domain.Bundle{}, err
	}
	return v.(domain.Bundle), nil
}

func (c *CatalogClient) GetProgram(ctx context.Context, site domain.Site, programUUID string) (domain.Program, error) {
	key := cacheKey(site.Domain, "program", programUUID)
	if cached, ok := cache.GetJSON[domain.Program](ctx, c.cache, key); ok {
		return cached, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		var program domain.Program
		if err := c.client.get(ctx, "/api/v1/programs/"+url.PathEscape(programUUID)+"/", nil, &program); err != nil {
			return domain.Program{}, err
		}
		c.store(ctx, key, program)
		return program, nil
	})
	if err != nil {
		return domain.Program{}, err
	}
	return v.(domain.Program), nil
}

type containsResponse struct {
	ContainsContentItems bool `json:"contains_content_items"`
}

// ContainsCourseRuns asks whether every run belongs to the enterprise catalog. The
// catalog endpoint is used when a catalog UUID is known, else the customer endpoint.
func (c *CatalogClient) ContainsCourseRuns(ctx context.Context, site domain.Site, enterpriseUUID string, catalogUUID string, courseRunIDs []string) (bool, error) {
	runs := slices.Clone(courseRunIDs)
	slices.Sort(runs)
	runs = slices.Compact(runs)

	owner := "customer:" + enterpriseUUID
	path := "/api/v1/enterprise-customer/" + url.PathEscape(enterpriseUUID) + "/contains_content_items/"
	if catalogUUID != "" {
		owner = "catalog:" + catalogUUID
		path = "/api/v1/enterprise-catalogs/" + url.PathEscape(catalogUUID) + "/contains_content_items/"
	}

	key := cacheKey(site.Domain, "contains_course_runs", owner, strings.Join(runs, ","))
	if cached, ok := cache.GetJSON[bool](ctx, c.cache, key); ok {
		return cached, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		var resp containsResponse
		query := url.Values{"course_run_ids": {strings.Join(runs, ",")}}
		if err := c.client.get(ctx, path, query, &resp); err != nil {
			return false, err
		}
		c.store(ctx, key, resp.ContainsContentItems)
		return resp.ContainsContentItems, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (c *CatalogClient) store(ctx context.Context, key string, value any) {
	if err := cache.SetJSON(ctx, c.cache, key, value, c.ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
}
