// Package adapter defines the notification boundary for completed transfers.
//
// Adapters publish a transfer_completed event to downstream systems after
// the ledger record is written. A failed notification never fails the
// transfer; callers log it and move on.
package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/Kovercrosser/easy-cold-storage-uploader/types"
)

// EventTypeTransferCompleted is the event_type of every published event.
const EventTypeTransferCompleted = "transfer_completed"

// TransferCompletedEvent is the payload published when an upload finishes.
type TransferCompletedEvent struct {
	EventType    string             `json:"event_type"` // always "transfer_completed"
	Version      string             `json:"version"`
	RecordID     string             `json:"record_id"`
	Profile      string             `json:"profile"`
	TransferType types.TransferType `json:"transfer_type"`
	DryRun       bool               `json:"dryrun"`
	FileName     string             `json:"file_name"`
	ArchiveID    string             `json:"archive_id"`
	Vault        string             `json:"vault,omitempty"`
	Region       string             `json:"region,omitempty"`
	Location     string             `json:"location"`
	Checksum     string             `json:"checksum"`
	SizeBytes    int64              `json:"size_in_bytes"`
	Parts        int                `json:"parts"`
	Timestamp    string             `json:"timestamp"` // RFC 3339, UTC
	DurationMs   int64              `json:"duration_ms"`
}

// NewTransferCompletedEvent builds the event for a finished upload.
func NewTransferCompletedEvent(recordID, profile string, info types.TransferInfo, finishedAt time.Time, took time.Duration) *TransferCompletedEvent {
	return &TransferCompletedEvent{
		EventType:    EventTypeTransferCompleted,
		Version:      types.Version,
		RecordID:     recordID,
		Profile:      profile,
		TransferType: info.Method,
		DryRun:       info.DryRun,
		FileName:     info.FileName,
		ArchiveID:    info.ArchiveID,
		Vault:        info.Vault,
		Region:       info.Region,
		Location:     info.Location,
		Checksum:     info.Checksum,
		SizeBytes:    info.Size,
		Parts:        info.Parts,
		Timestamp:    finishedAt.UTC().Format(time.RFC3339),
		DurationMs:   took.Milliseconds(),
	}
}

// Adapter publishes transfer completion events to a downstream system.
type Adapter interface {
	// Publish sends the event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *TransferCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Multi publishes to every adapter in order.
type Multi []Adapter

// Publish sends event to each adapter. Every adapter is attempted; the
// returned error joins the individual failures.
func (m Multi) Publish(ctx context.Context, event *TransferCompletedEvent) error {
	var errs []error
	for _, a := range m {
		if err := a.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every adapter.
func (m Multi) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Adapter = Multi(nil)
