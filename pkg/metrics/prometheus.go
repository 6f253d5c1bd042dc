package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkflowsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confops_workflows_created_total",
			Help: "Total number of approval workflows created",
		},
		[]string{"item_type", "priority"},
	)

	ReviewerDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confops_reviewer_decisions_total",
			Help: "Total number of reviewer decisions by outcome",
		},
		[]string{"decision", "slot"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confops_workflow_status_transitions_total",
			Help: "Total number of workflow status transitions",
		},
		[]string{"from", "to"},
	)

	StakeholderEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confops_stakeholder_events_total",
			Help: "Stakeholder notification events published to the bus",
		},
		[]string{"status"},
	)
)
