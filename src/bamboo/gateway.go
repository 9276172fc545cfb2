package bamboo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"build-collector/src/contracts"
	"build-collector/src/logger"
	"build-collector/src/provider"
)

// Commit date layouts, tried in order. The second is what git reports.
var commitDateLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05 -0700",
}

// Gateway implements provider.Gateway for Bamboo.
type Gateway struct {
	client     *Client
	logger     logger.Logger
	maxResults int
}

var _ provider.Gateway = (*Gateway)(nil)

// NewGateway creates a Bamboo gateway. maxResults bounds how many recent
// results are listed per plan.
func NewGateway(client *Client, log logger.Logger, maxResults int) *Gateway {
	if maxResults <= 0 {
		maxResults = 25
	}
	return &Gateway{client: client, logger: log, maxResults: maxResults}
}

// ListJobs lists every plan on the instance with its recent build results.
func (g *Gateway) ListJobs(ctx context.Context, instanceURL string) ([]provider.DiscoveredJob, error) {
	base, err := provider.NormalizeInstanceURL(instanceURL)
	if err != nil {
		return nil, err
	}

	plans, err := g.listPlans(ctx, base)
	if err != nil {
		return nil, err
	}

	jobs := make([]provider.DiscoveredJob, 0, len(plans))
	for _, p := range plans {
		if p.Key == "" {
			continue
		}

		builds, err := g.listResults(ctx, base, p.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to list results for plan %s: %w", p.Key, err)
		}

		jobs = append(jobs, provider.DiscoveredJob{
			Job: contracts.Job{
				InstanceURL: instanceURL,
				JobName:     p.Key,
				JobURL:      base + "browse/" + url.PathEscape(p.Key),
			},
			Builds: builds,
		})
	}

	g.logger.Debug("[Bamboo] %s: %d plans", instanceURL, len(jobs))
	return jobs, nil
}

func (g *Gateway) listPlans(ctx context.Context, base string) ([]plan, error) {
	var all []plan
	start := 0
	for {
		u := fmt.Sprintf("%srest/api/latest/plan.json?expand=plans.plan&max-result=%d&start-index=%d", base, g.maxResults, start)

		var page planList
		if err := g.client.getJSON(ctx, u, &page); err != nil {
			return nil, fmt.Errorf("failed to list plans: %w", err)
		}

		all = append(all, page.Plans.Plan...)
		start += len(page.Plans.Plan)
		if len(page.Plans.Plan) == 0 || start >= page.Plans.Size {
			return all, nil
		}
	}
}

func (g *Gateway) listResults(ctx context.Context, base, planKey string) ([]contracts.BuildSummary, error) {
	u := fmt.Sprintf("%srest/api/latest/result/%s.json?max-results=%d", base, url.PathEscape(planKey), g.maxResults)

	var results resultList
	if err := g.client.getJSON(ctx, u, &results); err != nil {
		// A plan that has never run has no result resource.
		if errors.Is(err, provider.ErrBuildNotFound) {
			return []contracts.BuildSummary{}, nil
		}
		return nil, err
	}

	builds := make([]contracts.BuildSummary, 0, len(results.Results.Result))
	for _, r := range results.Results.Result {
		href := r.Link.Href
		if href == "" && r.Key != "" {
			href = base + "rest/api/latest/result/" + url.PathEscape(r.Key)
		}
		builds = append(builds, contracts.BuildSummary{
			Number:   strconv.Itoa(r.BuildNumber),
			BuildURL: href,
		})
	}
	return builds, nil
}

// FetchBuild retrieves a build result and its change set.
func (g *Gateway) FetchBuild(ctx context.Context, buildURL string) (*contracts.Build, error) {
	var detail buildDetail
	if err := g.client.getJSON(ctx, buildURL, &detail); err != nil {
		if errors.Is(err, errDecode) {
			return nil, fmt.Errorf("%w: %s: %v", provider.ErrBuildNotFound, buildURL, err)
		}
		return nil, err
	}

	build := &contracts.Build{
		Number:    rawString(detail.Number),
		BuildURL:  detail.URL,
		Status:    parseStatus(detail.Result),
		Timestamp: detail.Timestamp,
		Duration:  detail.Duration,
	}
	if build.BuildURL == "" {
		build.BuildURL = buildURL
	}
	if detail.ChangeSet != nil {
		build.SourceChanges = g.sourceChanges(detail.ChangeSet)
	}

	return build, nil
}

func (g *Gateway) sourceChanges(cs *changeSet) []contracts.SourceChange {
	// Not every Bamboo version reports revisions, so the repository URL may
	// stay empty.
	revisionToURL := make(map[string]string, len(cs.Revisions))
	for _, r := range cs.Revisions {
		revisionToURL[rawString(r.Revision)] = r.Module
	}

	changes := make([]contracts.SourceChange, 0, len(cs.Items))
	for _, item := range cs.Items {
		revision := commitRevision(item)
		changes = append(changes, contracts.SourceChange{
			Author:          commitAuthor(item),
			Message:         item.Msg,
			CommitTimestamp: g.commitTimestamp(item),
			Revision:        revision,
			RepositoryURL:   revisionToURL[revision],
			NumberOfChanges: len(item.Paths),
		})
	}
	return changes
}

func parseStatus(result string) contracts.BuildStatus {
	switch result {
	case "SUCCESS":
		return contracts.StatusSuccess
	case "UNSTABLE":
		return contracts.StatusUnstable
	case "FAILURE":
		return contracts.StatusFailure
	case "ABORTED":
		return contracts.StatusAborted
	default:
		return contracts.StatusUnknown
	}
}

func commitAuthor(item changeItem) string {
	if item.User != "" {
		return item.User
	}
	if item.Author != nil {
		return item.Author.FullName
	}
	return ""
}

func commitRevision(item changeItem) string {
	if n := rawNumber(item.Revision); n != "" {
		return n
	}
	return item.ID
}

// commitTimestamp returns epoch millis from the numeric timestamp, falling
// back to the date string. Unparseable dates yield 0.
func (g *Gateway) commitTimestamp(item changeItem) int64 {
	if n := rawNumber(item.Timestamp); n != "" {
		if ms, err := strconv.ParseInt(n, 10, 64); err == nil {
			return ms
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int64(f)
		}
	}

	if item.Date == "" {
		return 0
	}
	for _, layout := range commitDateLayouts {
		if t, err := time.Parse(layout, item.Date); err == nil {
			return t.UnixMilli()
		}
	}

	g.logger.Error("[Bamboo] Invalid date string: %s", item.Date)
	return 0
}
