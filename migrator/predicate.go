// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package migrator

import "strings"

// wellKnownDatasets have raw shapes observed often enough to deserve a
// wider predicate than the generic equality checks.
var wellKnownDatasets = map[string]bool{
	"suricata": true,
	"wazuh":    true,
	"zeek":     true,
}

// datasetPredicate builds the continuous-view filter that admits only
// rows belonging to the table's dataset. An empty dataset admits
// everything.
func datasetPredicate(dataset string) string {
	dataset = strings.TrimSpace(dataset)
	if dataset == "" {
		return "1"
	}

	literal := "'" + escapeLiteral(dataset) + "'"
	if wellKnownDatasets[dataset] {
		return "(" +
			"JSON_VALUE(raw,'$.event.provider') = " + literal +
			" OR JSON_VALUE(raw,'$.event.module') = " + literal +
			" OR startsWith(JSON_VALUE(raw,'$.event.dataset'), " + literal + ")" +
			" OR startsWith(JSON_VALUE(raw,'$.data_stream.dataset'), " + literal + ")" +
			")"
	}
	return "(" +
		"JSON_VALUE(raw,'$.event.dataset') = " + literal +
		" OR JSON_VALUE(raw,'$.event.module') = " + literal +
		" OR JSON_VALUE(raw,'$.event.provider') = " + literal +
		")"
}
