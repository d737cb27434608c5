package species

import "context"

// BackfillReport summarizes one backfill run.
type BackfillReport struct {
	Scanned int
	Updated int
	Failed  int
}

// Backfill re-runs enrichment for species rows with unresolved fields
// and fills in whatever the providers now answer. Existing values are
// kept; provider failures skip the row and continue.
func (r *Resolver) Backfill(ctx context.Context) (*BackfillReport, error) {
	rows, err := r.store.SpeciesMissingEnrichment()
	if err != nil {
		return nil, err
	}

	report := &BackfillReport{Scanned: len(rows)}
	for i := range rows {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		row := &rows[i]

		e := r.enrich(ctx, row.ScientificName, row.ScientificName, row.CommonName)
		record := r.buildRecord(row.ID, row.ScientificName, row.ScientificName, row.CommonName, e)
		if err := r.store.UpdateSpeciesEnrichment(record); err != nil {
			r.logger.Warn("backfill update failed",
				"species_id", row.ID, "scientific_name", row.ScientificName, "error", err.Error())
			report.Failed++
			continue
		}
		r.recordCitations(row.ID, e)
		report.Updated++

		r.logger.Info("species backfilled",
			"species_id", row.ID,
			"scientific_name", row.ScientificName,
			"has_taxon", e.taxon != nil,
			"has_summary", e.summary != nil,
			"has_media", e.media != nil)
	}
	return report, nil
}
