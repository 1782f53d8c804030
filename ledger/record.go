package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Kovercrosser/easy-cold-storage-uploader/types"
)

// dayFormat is the layout of the day partition key.
const dayFormat = "2006-01-02"

// Record is one completed transfer. Records are written once and never
// updated; the extension tags tell the download path which filters to
// reverse and the info tells it where the archive lives.
type Record struct {
	ID           string             `json:"id" yaml:"id"`
	UploadedAt   time.Time          `json:"uploaded_at" yaml:"uploaded_at"`
	TransferType types.TransferType `json:"transfer_type" yaml:"transfer_type"`
	Compression  string             `json:"compression" yaml:"compression"`
	Encryption   string             `json:"encryption" yaml:"encryption"`
	Filetype     string             `json:"filetype" yaml:"filetype"`
	Info         types.TransferInfo `json:"information" yaml:"information"`
}

// NewRecord returns a record for a completed upload, stamped now in UTC.
func NewRecord(info types.TransferInfo, filetype, compression, encryption string) Record {
	return Record{
		ID:           uuid.NewString(),
		UploadedAt:   time.Now().UTC(),
		TransferType: info.Method,
		Compression:  compression,
		Encryption:   encryption,
		Filetype:     filetype,
		Info:         info,
	}
}

// Extension returns the combined filter extension, e.g. ".tar.xz.aes".
func (r Record) Extension() string {
	return r.Filetype + r.Compression + r.Encryption
}

// toRecordMap flattens a record into the storage map. transfer_type and
// day sit at the top level because the dataset partitions on them.
func toRecordMap(r Record) (map[string]any, error) {
	info, err := toMap(r.Info)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":            r.ID,
		"uploaded_at":   r.UploadedAt.UTC().Format(time.RFC3339Nano),
		"transfer_type": string(r.TransferType),
		"day":           r.UploadedAt.UTC().Format(dayFormat),
		"compression":   r.Compression,
		"encryption":    r.Encryption,
		"filetype":      r.Filetype,
		"information":   info,
	}, nil
}

// fromRecordMap decodes a map read back from the dataset.
func fromRecordMap(m map[string]any) (Record, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode ledger record: %w", err)
	}
	return r, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
