package domain

import (
	"encoding/json"
	"fmt"
)

// JobInput is the tagged union of job payloads; the tag is the job type.
type JobInput interface {
	JobType() JobType
	// Source returns the data source the job belongs to, if any.
	Source() string
}

type ImportInput struct {
	SourceID  string      `json:"source_id" validate:"required"`
	AccountID string      `json:"account_id" validate:"required"`
	Records   []RawRecord `json:"records,omitempty" validate:"required_without=ObjectKey"`
	ObjectKey string      `json:"object_key,omitempty" validate:"required_without=Records"`
	Format    string      `json:"format,omitempty" validate:"omitempty,oneof=xlsx csv"`
}

func (ImportInput) JobType() JobType  { return JobImport }
func (in ImportInput) Source() string { return in.SourceID }

type CategorizeInput struct {
	TransactionID string `json:"transaction_id" validate:"required"`
}

func (CategorizeInput) JobType() JobType { return JobCategorize }
func (CategorizeInput) Source() string   { return "" }

type ValidateInput struct {
	Subject ValidationSubject `json:"subject"`
}

func (ValidateInput) JobType() JobType { return JobValidate }
func (ValidateInput) Source() string   { return "" }

type ReconcileInput struct {
	AccountID string `json:"account_id" validate:"required"`
	Period    string `json:"period" validate:"required,oneof=current_month last_month current last this_month previous_month"`
}

func (ReconcileInput) JobType() JobType { return JobReconcile }
func (ReconcileInput) Source() string   { return "" }

type SyncInput struct {
	SourceID string `json:"source_id" validate:"required"`
	ItemID   string `json:"item_id" validate:"required"`
	Trigger  string `json:"trigger,omitempty" validate:"omitempty,oneof=webhook schedule manual"`
}

func (SyncInput) JobType() JobType  { return JobSync }
func (in SyncInput) Source() string { return in.SourceID }

type ReceiptInput struct {
	SourceID  string `json:"source_id" validate:"required"`
	AccountID string `json:"account_id" validate:"required"`
	ObjectKey string `json:"object_key" validate:"required"`
	Filename  string `json:"filename,omitempty"`
	MimeType  string `json:"mime_type" validate:"required"`
}

func (ReceiptInput) JobType() JobType  { return JobReceipt }
func (in ReceiptInput) Source() string { return in.SourceID }

type RecordError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type ImportOutput struct {
	Accepted   []string      `json:"accepted"`
	Duplicates int           `json:"duplicates"`
	Malformed  int           `json:"malformed"`
	Errors     []RecordError `json:"errors,omitempty"`
}

type CategorizeOutput struct {
	TransactionID string `json:"transaction_id"`
	CategoryResult
}

type ReceiptOutput struct {
	TransactionID string  `json:"transaction_id"`
	Merchant      string  `json:"merchant"`
	Confidence    float64 `json:"confidence"`
	Fallback      bool    `json:"fallback"`
}

// DecodeJobInput unmarshals raw into the variant selected by jobType.
func DecodeJobInput(jobType JobType, raw []byte) (JobInput, error) {
	var (
		in  JobInput
		err error
	)
	switch jobType {
	case JobImport:
		var v ImportInput
		err = json.Unmarshal(raw, &v)
		in = v
	case JobCategorize:
		var v CategorizeInput
		err = json.Unmarshal(raw, &v)
		in = v
	case JobValidate:
		var v ValidateInput
		err = json.Unmarshal(raw, &v)
		in = v
	case JobReconcile:
		var v ReconcileInput
		err = json.Unmarshal(raw, &v)
		in = v
	case JobSync:
		var v SyncInput
		err = json.Unmarshal(raw, &v)
		in = v
	case JobReceipt:
		var v ReceiptInput
		err = json.Unmarshal(raw, &v)
		in = v
	default:
		return nil, WrapError(ErrInvalidInput, "decode job input", fmt.Errorf("unknown job type %q", jobType))
	}
	if err != nil {
		return nil, WrapError(ErrInvalidInput, "decode job input", err)
	}
	return in, nil
}
