// Package catalog defines the Gainsight PX streams and renders them as a
// Singer catalog.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Widen/tap-gainsightpx/internal/extract"
)

// =============================================================================
// STREAM DEFINITIONS
// Gainsight PX REST API v1 endpoints exposed by this tap.
// =============================================================================

const (
	StreamAccounts       = "accounts"
	StreamUsers          = "users"
	StreamEngagement     = "engagement"
	StreamFeature        = "feature"
	StreamSegments       = "segments"
	StreamSurveyResponse = "survey_response"
)

var scroll = extract.PaginationSpec{Kind: extract.PaginationScroll}

var pageNumber = extract.PaginationSpec{Kind: extract.PaginationPageNumber}

// definitions lists every stream in discovery order.
var definitions = []*extract.StreamDescriptor{
	{
		Name:            StreamAccounts,
		Path:            "/accounts",
		RecordsPath:     "$.accounts[*]",
		PrimaryKeys:     []string{"id"},
		ReplicationKey:  "lastModifiedDate",
		DefaultPageSize: 500,
		MaxPageSize:     1000,
		Pagination:      scroll,
		Schema: []field{
			{Name: "id", Type: "string"},
			{Name: "name", Type: "string"},
			{Name: "trackedSubscriptionId", Type: "string", Nullable: true},
			{Name: "sfdcId", Type: "string", Nullable: true},
			{Name: "lastSeenDate", Type: "integer", Nullable: true},
			{Name: "dunsNumber", Type: "string", Nullable: true},
			{Name: "industry", Type: "string", Nullable: true},
			{Name: "numberOfEmployees", Type: "integer", Nullable: true},
			{Name: "sicCode", Type: "string", Nullable: true},
			{Name: "website", Type: "string", Nullable: true},
			{Name: "naicsCode", Type: "string", Nullable: true},
			{Name: "plan", Type: "string", Nullable: true},
			{Name: "location", Type: "object", Nullable: true},
			{Name: "numericScoreRecords", Type: "array", Items: "object", Nullable: true},
			{Name: "propertyKeys", Type: "array", Items: "string"},
			{Name: "createDate", Type: "integer"},
			{Name: "lastModifiedDate", Type: "integer"},
			{Name: "customAttributes", Type: "object", Nullable: true},
			{Name: "parentGroupId", Type: "string", Nullable: true},
		},
	},
	{
		Name:            StreamUsers,
		Path:            "/users",
		RecordsPath:     "$.users[*]",
		PrimaryKeys:     []string{"aptrinsicId"},
		ReplicationKey:  "lastModifiedDate",
		DefaultPageSize: 500,
		MaxPageSize:     1000,
		Pagination:      scroll,
		Schema: []field{
			{Name: "aptrinsicId", Type: "string"},
			{Name: "identifyId", Type: "string", Nullable: true},
			{Name: "type", Type: "string"},
			{Name: "gender", Type: "string", Nullable: true},
			{Name: "email", Type: "string", Nullable: true},
			{Name: "firstName", Type: "string", Nullable: true},
			{Name: "lastName", Type: "string", Nullable: true},
			{Name: "lastSeenDate", Type: "integer", Nullable: true},
			{Name: "signUpDate", Type: "integer", Nullable: true},
			{Name: "firstVisitDate", Type: "integer", Nullable: true},
			{Name: "title", Type: "string", Nullable: true},
			{Name: "phone", Type: "string", Nullable: true},
			{Name: "score", Type: "integer", Nullable: true},
			{Name: "role", Type: "string", Nullable: true},
			{Name: "subscriptionId", Type: "string", Nullable: true},
			{Name: "accountId", Type: "string", Nullable: true},
			{Name: "numberOfVisits", Type: "integer", Nullable: true},
			{Name: "location", Type: "object", Nullable: true},
			{Name: "propertyKeys", Type: "array", Items: "string"},
			{Name: "createDate", Type: "integer"},
			{Name: "lastModifiedDate", Type: "integer"},
			{Name: "customAttributes", Type: "object", Nullable: true},
			{Name: "globalUnsubscribe", Type: "boolean", Nullable: true},
		},
	},
	{
		Name:            StreamEngagement,
		Path:            "/engagement",
		RecordsPath:     "$.engagements[*]",
		PrimaryKeys:     []string{"id"},
		DefaultPageSize: 200,
		MaxPageSize:     200,
		Pagination:      pageNumber,
		Schema: []field{
			{Name: "description", Type: "string", Nullable: true},
			{Name: "envs", Type: "array", Items: "string"},
			{Name: "id", Type: "string"},
			{Name: "name", Type: "string"},
			{Name: "propertyKeys", Type: "array", Items: "string"},
			{Name: "state", Type: "string"},
			{Name: "type", Type: "string"},
		},
	},
	{
		Name:            StreamFeature,
		Path:            "/feature",
		RecordsPath:     "$.features[*]",
		PrimaryKeys:     []string{"id"},
		DefaultPageSize: 200,
		MaxPageSize:     500,
		Pagination:      pageNumber,
		Schema: []field{
			{Name: "id", Type: "string"},
			{Name: "name", Type: "string"},
			{Name: "type", Type: "string"},
			{Name: "parentFeatureId", Type: "string", Nullable: true},
			{Name: "propertyKey", Type: "string"},
			{Name: "status", Type: "string", Nullable: true},
		},
	},
	{
		Name:        StreamSegments,
		Path:        "/segment",
		RecordsPath: "$.segments[*]",
		PrimaryKeys: []string{"id"},
		Pagination:  extract.PaginationSpec{Kind: extract.PaginationSingle},
		Schema: []field{
			{Name: "id", Type: "string"},
			{Name: "name", Type: "string"},
			{Name: "description", Type: "string", Nullable: true},
			{Name: "type", Type: "string", Nullable: true},
			{Name: "propertyKeys", Type: "array", Items: "string"},
		},
	},
	{
		Name:            StreamSurveyResponse,
		Path:            "/survey/responses",
		RecordsPath:     "$.results[*]",
		PrimaryKeys:     []string{"eventId"},
		ReplicationKey:  "date",
		DefaultPageSize: 500,
		MaxPageSize:     1000,
		Pagination:      scroll,
		Shapers:         []extract.ParamShaper{extract.DateRangeFilter{Field: "date"}},
		Schema: []field{
			{Name: "eventId", Type: "string"},
			{Name: "identifyId", Type: "string", Nullable: true},
			{Name: "propertyKey", Type: "string", Nullable: true},
			{Name: "date", Type: "integer"},
			{Name: "eventType", Type: "string", Nullable: true},
			{Name: "sessionId", Type: "string", Nullable: true},
			{Name: "userType", Type: "string", Nullable: true},
			{Name: "accountId", Type: "string", Nullable: true},
			{Name: "globalContext", Type: "object", Nullable: true},
			{Name: "engagementId", Type: "string", Nullable: true},
			{Name: "engagementTrackType", Type: "string", Nullable: true},
			{Name: "contentId", Type: "string", Nullable: true},
			{Name: "contentType", Type: "string", Nullable: true},
			{Name: "executionDate", Type: "integer", Nullable: true, Comment: "Shared by all events of one engagement view"},
			{Name: "executionId", Type: "string", Nullable: true, Comment: "Shared by all events of one engagement view"},
			{Name: "viewEventId", Type: "string", Nullable: true},
			{Name: "carouselState", Type: "string", Nullable: true},
			{Name: "slideId", Type: "string", Nullable: true},
			{Name: "sequenceNumber", Type: "integer", Nullable: true},
			{Name: "linkUrl", Type: "string", Nullable: true},
			{Name: "guideState", Type: "string", Nullable: true},
			{Name: "stepId", Type: "string", Nullable: true},
			{Name: "surveyState", Type: "string", Nullable: true},
			{Name: "contactMeAllowed", Type: "boolean", Nullable: true},
			{Name: "score", Type: "integer", Nullable: true},
			{Name: "comment", Type: "string", Nullable: true},
			{Name: "questionType", Type: "string", Nullable: true},
			{Name: "selectionIds", Type: "array", Items: "string", Nullable: true},
			{Name: "path", Type: "string", Nullable: true},
		},
	},
}

type field = extract.Field

// =============================================================================
// LOOKUP
// =============================================================================

// All returns every stream in discovery order.
func All() []*extract.StreamDescriptor {
	out := make([]*extract.StreamDescriptor, len(definitions))
	copy(out, definitions)
	return out
}

// Names returns the sorted stream names.
func Names() []string {
	names := make([]string, 0, len(definitions))
	for _, d := range definitions {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named stream.
func Lookup(name string) (*extract.StreamDescriptor, bool) {
	for _, d := range definitions {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Select returns the named streams in discovery order. An empty selection
// means every stream. Unknown names are rejected.
func Select(names []string) ([]*extract.StreamDescriptor, error) {
	if len(names) == 0 {
		return All(), nil
	}
	want := make(map[string]bool, len(names))
	var unknown []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if _, ok := Lookup(n); !ok {
			unknown = append(unknown, n)
			continue
		}
		want[n] = true
	}
	if len(unknown) > 0 {
		return nil, &extract.ConfigurationError{
			Field:   "streams",
			Message: fmt.Sprintf("unknown stream(s) %s; available: %s", strings.Join(unknown, ", "), strings.Join(Names(), ", ")),
		}
	}

	var out []*extract.StreamDescriptor
	for _, d := range definitions {
		if want[d.Name] {
			out = append(out, d)
		}
	}
	return out, nil
}
