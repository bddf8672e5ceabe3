package controller

import (
	"context"
	"time"

	"dario.cat/mergo"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
	"github.com/helvethink/deployment-orchestrator/pkg/store"
)

// GarbageCollectRecords removes terminated deployment records past the
// configured retention window, then drops the refs and metrics which no
// longer have a record backing them.
//
// The collection runs in three passes:
//   - terminated records older than the retention window are deleted;
//   - refs are kept only whilst at least one remaining record targets them;
//   - ref labelled metrics pointing at a deleted ref are dropped, as are
//     metrics missing the labels identifying their owner.
//
// Active (non terminal) records are never collected, whatever their age: a
// run suspended on an approval stays queryable until it terminates.
func (c *Controller) GarbageCollectRecords(ctx context.Context) error {
	log.Info("starting 'records' garbage collection")
	defer log.Info("ending 'records' garbage collection")

	storedRecords, err := c.Store.Records(ctx)
	if err != nil {
		return err
	}

	retention := time.Duration(c.Config.GarbageCollect.RecordsRetentionHours) * time.Hour

	for k, record := range storedRecords {
		if !record.State.Terminal() {
			continue
		}

		if time.Since(record.UpdatedAt) <= retention {
			continue
		}

		if err = deleteRecord(ctx, c.Store, record, "retention-expired"); err != nil {
			return err
		}

		delete(storedRecords, k)
	}

	expectedRefs := make(schemas.Refs)

	for _, record := range storedRecords {
		ref := record.Request.TargetRef()

		if err = mergo.Merge(&expectedRefs, schemas.Refs{ref.Key(): ref}); err != nil {
			return err
		}
	}

	storedRefs, err := c.Store.Refs(ctx)
	if err != nil {
		return err
	}

	for k, ref := range storedRefs {
		if _, expected := expectedRefs[k]; expected {
			continue
		}

		if err = deleteRef(ctx, c.Store, ref, "no-remaining-record"); err != nil {
			return err
		}

		delete(storedRefs, k)
	}

	storedMetrics, err := c.Store.Metrics(ctx)
	if err != nil {
		return err
	}

	for k, m := range storedMetrics {
		switch m.Kind {
		case schemas.MetricKindRunCount,
			schemas.MetricKindDeploymentCount,
			schemas.MetricKindDeploymentDurationSeconds,
			schemas.MetricKindDeploymentStatus:
			// Project and environment scoped metrics survive their refs,
			// they aggregate across runs.
			continue
		}

		metricLabelProject, metricLabelProjectExists := m.Labels["project"]
		metricLabelRef, metricLabelRefExists := m.Labels["ref"]

		if !metricLabelProjectExists || !metricLabelRefExists {
			if err = deleteMetric(ctx, c.Store, k, m, "project-or-ref-label-undefined"); err != nil {
				return err
			}

			continue
		}

		refKey := schemas.NewRef(
			metricLabelProject,
			schemas.RefKind(m.Labels["kind"]),
			metricLabelRef,
		).Key()

		if _, refExists := storedRefs[refKey]; !refExists {
			if err = deleteMetric(ctx, c.Store, k, m, "non-existent-ref"); err != nil {
				return err
			}
		}
	}

	return nil
}

func deleteRecord(ctx context.Context, s store.Store, record schemas.DeploymentRecord, reason string) error {
	if err := s.DelRecord(ctx, record.Key()); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"record-id":    record.ID.String(),
		"project-name": record.Request.ProjectName,
		"state":        record.State,
		"reason":       reason,
	}).Info("deleted deployment record from the store")

	return nil
}

func deleteRef(ctx context.Context, s store.Store, ref schemas.Ref, reason string) error {
	if err := s.DelRef(ctx, ref.Key()); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"project-name": ref.ProjectName,
		"ref":          ref.Name,
		"ref-kind":     ref.Kind,
		"reason":       reason,
	}).Info("deleted ref from the store")

	return nil
}

func deleteMetric(ctx context.Context, s store.Store, k schemas.MetricKey, m schemas.Metric, reason string) error {
	if err := s.DelMetric(ctx, k); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"metric-kind":   m.Kind,
		"metric-labels": m.Labels,
		"reason":        reason,
	}).Info("deleted metric from the store")

	return nil
}
