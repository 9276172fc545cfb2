package bamboo

import (
	"encoding/json"
	"strings"
)

// planList is the response of rest/api/latest/plan.json?expand=plans.plan.
type planList struct {
	Plans struct {
		Size       int    `json:"size"`
		StartIndex int    `json:"start-index"`
		MaxResult  int    `json:"max-result"`
		Plan       []plan `json:"plan"`
	} `json:"plans"`
}

type plan struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	ShortName string `json:"shortName"`
	Enabled   bool   `json:"enabled"`
	Link      link   `json:"link"`
}

type link struct {
	Href string `json:"href"`
}

// resultList is the response of rest/api/latest/result/{planKey}.json.
type resultList struct {
	Results struct {
		Size   int      `json:"size"`
		Result []result `json:"result"`
	} `json:"results"`
}

type result struct {
	Key         string `json:"buildResultKey"`
	BuildNumber int    `json:"buildNumber"`
	Link        link   `json:"link"`
}

// buildDetail is the build result document fetched from a summary URL.
type buildDetail struct {
	Number    json.RawMessage `json:"number"`
	Result    string          `json:"result"`
	URL       string          `json:"url"`
	Timestamp int64           `json:"timestamp"`
	Duration  int64           `json:"duration"`
	ChangeSet *changeSet      `json:"changeSet"`
}

type changeSet struct {
	Items     []changeItem     `json:"items"`
	Revisions []changeRevision `json:"revisions"`
}

type changeItem struct {
	User      string          `json:"user"`
	Author    *changeAuthor   `json:"author"`
	Msg       string          `json:"msg"`
	Timestamp json.RawMessage `json:"timestamp"`
	Date      string          `json:"date"`
	Revision  json.RawMessage `json:"revision"`
	ID        string          `json:"id"`
	Paths     []interface{}   `json:"paths"`
}

type changeAuthor struct {
	FullName string `json:"fullName"`
}

type changeRevision struct {
	Revision json.RawMessage `json:"revision"`
	Module   string          `json:"module"`
}

// rawNumber returns the literal text of a JSON number, or "" when raw is
// absent, null, or not a number.
func rawNumber(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || strings.HasPrefix(s, `"`) {
		return ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	return n.String()
}

// rawString renders a JSON string or number as text.
func rawString(raw json.RawMessage) string {
	if n := rawNumber(raw); n != "" {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
