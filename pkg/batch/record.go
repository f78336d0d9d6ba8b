package batch

import "encoding/json"

// Record is one validated input row scheduled for external work. Records are
// created by a Validator and never modified afterwards.
type Record struct {
	// Index is the position of the source row in the input table.
	Index int
	// ID is the external system identifier of the row.
	ID string
	// ReferenceURL is the profile URL the work is about. It may be empty.
	ReferenceURL string
	DisplayName  string
	// SourceImage is an image URL already present in the input, if any.
	SourceImage string
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Artifacts is what a WorkAdapter produces for a record.
type Artifacts struct {
	Refs []string
	// Source is the image the artifacts were produced from.
	Source string
}

// Outcome is the result of processing one Record. Exactly one Outcome exists
// per scheduled Record.
type Outcome struct {
	Record       Record
	Status       Status
	ArtifactRefs []string
	SourceUsed   string
	Reason       string
}

func Success(r Record, a Artifacts) Outcome {
	return Outcome{
		Record:       r,
		Status:       StatusSuccess,
		ArtifactRefs: append([]string(nil), a.Refs...),
		SourceUsed:   a.Source,
	}
}

func Failure(r Record, reason string) Outcome {
	return Outcome{
		Record: r,
		Status: StatusFailed,
		Reason: reason,
	}
}

func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// MarshalJSON renders the outcome the way the results message reports it.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RecordID  string   `json:"recordId"`
		URL       string   `json:"url,omitempty"`
		Name      string   `json:"name,omitempty"`
		Status    Status   `json:"status"`
		Artifacts []string `json:"artifacts,omitempty"`
		Source    string   `json:"source,omitempty"`
		Error     string   `json:"error,omitempty"`
	}{
		RecordID:  o.Record.ID,
		URL:       o.Record.ReferenceURL,
		Name:      o.Record.DisplayName,
		Status:    o.Status,
		Artifacts: o.ArtifactRefs,
		Source:    o.SourceUsed,
		Error:     o.Reason,
	})
}
