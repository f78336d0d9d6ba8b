// Package batch runs a table of records through an external work adapter in
// bounded, sequential groups.
//
// A Run validates the input, schedules the accepted records group by group,
// streams one progress event per group and a final results message to a
// Sink, reconciles the outcomes into a copy of the input table and persists
// it. Status messages are posted through a StatusNotifier along the way.
package batch
