package controller

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// GarbageCollectDeployments removes from the store the deployment jobs that were
// not updated during the configured retention period.
func (c *Controller) GarbageCollectDeployments(ctx context.Context) error {
	log.Info("starting 'deployments' garbage collection")
	defer log.Info("ending 'deployments' garbage collection")

	storedJobs, err := c.Store.DeploymentJobs(ctx)
	if err != nil {
		return err
	}

	retention := time.Duration(c.Config.GarbageCollect.Deployments.RetentionSeconds) * time.Second
	threshold := time.Now().Add(-retention)

	log.WithFields(log.Fields{
		"deployments-count": len(storedJobs),
		"threshold":         threshold,
	}).Debug("looking for deployments to garbage collect")

	for k, j := range storedJobs {
		if !j.UpdatedAt.Before(threshold) {
			continue
		}

		if err = c.Store.DelDeploymentJob(ctx, k); err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"job-id":  j.ID,
			"trigger": j.TriggerName,
			"done":    j.Done,
		}).Info("deleted deployment job from the store")
	}

	return nil
}
