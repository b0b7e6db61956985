// Package database connects to the relational database that the metrics
// collector polls. SQLite (modernc.org/sqlite) and PostgreSQL (pgx through
// database/sql) are supported.
//
// A DB satisfies both metrics.DatabaseProbe and metrics.BusinessStore:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//		return err
//	}
//	collector := metrics.NewCollector(registry, metricsCfg,
//		metrics.WithDatabase(db),
//		metrics.WithBusinessStore(db),
//	)
package database
