// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package metadata

import (
	"context"
	"database/sql"

	"github.com/zeebo/errs"
)

// Sources returns every enabled source whose project is enabled, in
// source id order.
func (db *DB) Sources(ctx context.Context) (_ []Source, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT s.source_id,
		       s.project_id,
		       s.name,
		       s.base_url,
		       s.auth_type,
		       s.username,
		       s.secret_ref,
		       s.secret_enc,
		       s.index_pattern,
		       s.time_field,
		       s.query_filter_json,
		       p.timezone
		FROM metadata.opensearch_sources s
		JOIN metadata.projects p
		  ON p.project_id = s.project_id
		WHERE s.enabled = TRUE
		  AND p.enabled = TRUE
		ORDER BY s.source_id
	`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var sources []Source
	for rows.Next() {
		var source Source
		var name, authType, username, secretRef, queryFilter, timezone sql.NullString
		err := rows.Scan(
			&source.ID,
			&source.ProjectID,
			&name,
			&source.BaseURL,
			&authType,
			&username,
			&secretRef,
			&source.SecretEnc,
			&source.IndexPattern,
			&source.TimeField,
			&queryFilter,
			&timezone,
		)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		source.Name = name.String
		source.AuthType = authType.String
		source.Username = username.String
		source.SecretRef = secretRef.String
		source.QueryFilterJSON = queryFilter.String
		source.Timezone = timezone.String
		sources = append(sources, source)
	}
	return sources, Error.Wrap(rows.Err())
}
