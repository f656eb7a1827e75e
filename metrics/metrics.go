package metrics

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Tags
var (
	PaymentPlatform, _ = tag.NewKey("payment_platform")
	ProviderID, _      = tag.NewKey("provider_id")
)

// Measures
var (
	ProposalsReceived  = stats.Int64("market/proposals_received", "Counter of proposal events received", stats.UnitDimensionless)
	ProposalsResponded = stats.Int64("market/proposals_responded", "Counter of counter-proposals sent", stats.UnitDimensionless)
	ProposalsRejected  = stats.Int64("market/proposals_rejected", "Counter of proposals rejected by our policy", stats.UnitDimensionless)

	AgreementsCreated    = stats.Int64("agreement/created", "Counter of agreements approved and added to the pool", stats.UnitDimensionless)
	AgreementsReused     = stats.Int64("agreement/reused", "Counter of agreements handed out from the reuse stack", stats.UnitDimensionless)
	AgreementsRejected   = stats.Int64("agreement/rejected", "Counter of agreements rejected by providers", stats.UnitDimensionless)
	AgreementsTerminated = stats.Int64("agreement/terminated", "Counter of agreements terminated", stats.UnitDimensionless)

	TasksStarted   = stats.Int64("task/started", "Counter of task executions started", stats.UnitDimensionless)
	TasksCompleted = stats.Int64("task/completed", "Counter of tasks finished successfully", stats.UnitDimensionless)
	TasksRetried   = stats.Int64("task/retried", "Counter of task executions re-queued after failure", stats.UnitDimensionless)
	TasksRejected  = stats.Int64("task/rejected", "Counter of tasks terminally rejected", stats.UnitDimensionless)
	ActiveTasks    = stats.Int64("task/active", "Number of tasks currently executing", stats.UnitDimensionless)

	InvoicesReceived   = stats.Int64("payment/invoices_received", "Counter of invoices received", stats.UnitDimensionless)
	DebitNotesReceived = stats.Int64("payment/debit_notes_received", "Counter of debit notes received", stats.UnitDimensionless)
	PaymentsAccepted   = stats.Int64("payment/accepted", "Counter of invoices and debit notes accepted", stats.UnitDimensionless)
	PaymentsFailed     = stats.Int64("payment/failed", "Counter of failed payment acceptances", stats.UnitDimensionless)
)

// Views
var (
	ProposalsReceivedView = &view.View{
		Measure:     ProposalsReceived,
		Aggregation: view.Count(),
	}
	ProposalsRespondedView = &view.View{
		Measure:     ProposalsResponded,
		Aggregation: view.Count(),
	}
	ProposalsRejectedView = &view.View{
		Measure:     ProposalsRejected,
		Aggregation: view.Count(),
	}
	AgreementsCreatedView = &view.View{
		Measure:     AgreementsCreated,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{ProviderID},
	}
	AgreementsReusedView = &view.View{
		Measure:     AgreementsReused,
		Aggregation: view.Count(),
	}
	AgreementsRejectedView = &view.View{
		Measure:     AgreementsRejected,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{ProviderID},
	}
	AgreementsTerminatedView = &view.View{
		Measure:     AgreementsTerminated,
		Aggregation: view.Count(),
	}
	TasksStartedView = &view.View{
		Measure:     TasksStarted,
		Aggregation: view.Count(),
	}
	TasksCompletedView = &view.View{
		Measure:     TasksCompleted,
		Aggregation: view.Count(),
	}
	TasksRetriedView = &view.View{
		Measure:     TasksRetried,
		Aggregation: view.Count(),
	}
	TasksRejectedView = &view.View{
		Measure:     TasksRejected,
		Aggregation: view.Count(),
	}
	ActiveTasksView = &view.View{
		Measure:     ActiveTasks,
		Aggregation: view.LastValue(),
	}
	InvoicesReceivedView = &view.View{
		Measure:     InvoicesReceived,
		Aggregation: view.Count(),
	}
	DebitNotesReceivedView = &view.View{
		Measure:     DebitNotesReceived,
		Aggregation: view.Count(),
	}
	PaymentsAcceptedView = &view.View{
		Measure:     PaymentsAccepted,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{PaymentPlatform},
	}
	PaymentsFailedView = &view.View{
		Measure:     PaymentsFailed,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{PaymentPlatform},
	}
)

// DefaultViews is the full set of views exported by the SDK. Callers
// register these with their own exporter.
var DefaultViews = []*view.View{
	ProposalsReceivedView,
	ProposalsRespondedView,
	ProposalsRejectedView,
	AgreementsCreatedView,
	AgreementsReusedView,
	AgreementsRejectedView,
	AgreementsTerminatedView,
	TasksStartedView,
	TasksCompletedView,
	TasksRetriedView,
	TasksRejectedView,
	ActiveTasksView,
	InvoicesReceivedView,
	DebitNotesReceivedView,
	PaymentsAcceptedView,
	PaymentsFailedView,
}

// RecordInc records one unit of the given measure.
func RecordInc(ctx context.Context, m *stats.Int64Measure) {
	stats.Record(ctx, m.M(1))
}
