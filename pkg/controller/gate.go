package controller

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/helvethink/deployment-orchestrator/pkg/schemas"
)

// gateThresholds copies the configured gate limits into the evaluation
// input.
func (c *Controller) gateThresholds() schemas.GateThresholds {
	return schemas.GateThresholds{
		MinCoverage:       c.Config.Gate.MinCoverage,
		MaxCritical:       c.Config.Gate.MaxCritical,
		MaxHigh:           c.Config.Gate.MaxHigh,
		MaxMedium:         c.Config.Gate.MaxMedium,
		MaxBlocker:        c.Config.Gate.MaxBlocker,
		MaxCriticalIssues: c.Config.Gate.MaxCriticalIssues,
		PassThreshold:     c.Config.Gate.PassThreshold,
	}
}

// evaluateGates runs the security gate once per scope the record targets.
// The record keeps the result of the most sensitive targeted scope.
func (c *Controller) evaluateGates(ctx context.Context, record *schemas.DeploymentRecord, scan schemas.NormalizedScanResult) map[schemas.GateScope]schemas.GateResult {
	thresholds := c.gateThresholds()
	gates := make(map[schemas.GateScope]schemas.GateResult)

	for _, env := range record.Targets.Environments() {
		scope := env.GateScope()
		if _, done := gates[scope]; done {
			continue
		}

		gate := schemas.EvaluateGate(scan, thresholds, scope)
		gates[scope] = gate

		log.WithFields(log.Fields{
			"record-id": record.ID.String(),
			"scope":     scope,
			"score":     gate.Score,
			"passed":    gate.Passed,
		}).Info("evaluated security gate")
	}

	if gate, ok := gates[schemas.GateScopeProduction]; ok {
		record.Gate = &gate
	} else if gate, ok := gates[schemas.GateScopeNonProduction]; ok {
		record.Gate = &gate
	}

	c.emitGateMetrics(ctx, *record)

	return gates
}
