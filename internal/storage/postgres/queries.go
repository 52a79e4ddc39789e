package postgres

// SQL for the append-only event store.

const (
	// querySaveEvent inserts an event idempotently on (kind, id).
	// RETURNING captures the auto-generated ingest_seq; ON CONFLICT DO
	// NOTHING yields no rows (sql.ErrNoRows) for duplicates.
	querySaveEvent = `
		INSERT INTO events (
			id, kind, subject_type, subject_id, actor_ref,
			country_code, region_code, occurred_at, ingested_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (kind, id) DO NOTHING
		RETURNING ingest_seq
	`

	// queryRetrieveEventsAfterCursor fetches events after a cursor
	// (ingest_seq) in strict total order.
	queryRetrieveEventsAfterCursor = `
		SELECT
			id, kind, subject_type, subject_id, actor_ref,
			country_code, region_code, occurred_at, ingested_at, ingest_seq
		FROM events
		WHERE ingest_seq > $1
		ORDER BY ingest_seq ASC
		LIMIT $2
	`

	// Geo-grouped view counts per rollup scope. Article and system scopes
	// count clicks; the tag scope adds tag_assign events on the tag itself
	// to clicks on articles carrying the tag.
	queryGeoCountsArticle = `
		SELECT country_code, region_code, COUNT(*) AS views
		FROM events
		WHERE subject_type = 'article'
		  AND subject_id = $1
		  AND kind = 'click'
		  AND occurred_at >= $2
		GROUP BY country_code, region_code
	`

	queryGeoCountsSystem = `
		SELECT country_code, region_code, COUNT(*) AS views
		FROM events
		WHERE subject_type = 'article'
		  AND kind = 'click'
		  AND occurred_at >= $1
		GROUP BY country_code, region_code
	`

	queryGeoCountsTag = `
		SELECT country_code, region_code, COUNT(*) AS views
		FROM events e
		WHERE e.occurred_at >= $2
		  AND (
			(e.subject_type = 'tag' AND e.subject_id = $1 AND e.kind = 'tag_assign')
			OR (
				e.subject_type = 'article' AND e.kind = 'click'
				AND e.subject_id IN (SELECT article_id FROM article_tags WHERE tag_id = $1)
			)
		  )
		GROUP BY country_code, region_code
	`
)
