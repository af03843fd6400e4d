package failure

import "fmt"

// MetadataUnavailableError is returned when an off-chain metadata document
// could not be fetched, timed out, or did not decode to the expected shape.
type MetadataUnavailableError struct {
	URI string
	Err error
}

func (e *MetadataUnavailableError) Error() string {
	return fmt.Sprintf("metadata unavailable for %s: %v", e.URI, e.Err)
}

func (e *MetadataUnavailableError) Unwrap() error { return e.Err }

// UnknownEnumValueError is returned when an on-chain numeric code has no
// entry in its lookup table.
type UnknownEnumValueError struct {
	Field string
	Value uint64
}

func (e *UnknownEnumValueError) Error() string {
	return fmt.Sprintf("unknown %s value %d", e.Field, e.Value)
}

// NormalizationError wraps the failure that prevented a raw petition from
// becoming a view model.
type NormalizationError struct {
	PetitionID string
	Err        error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize petition %s: %v", e.PetitionID, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// PreparationError is returned by the upload pipeline that runs before a
// write is submitted. Step names the stage that failed.
type PreparationError struct {
	Step string
	Err  error
}

func (e *PreparationError) Error() string {
	return fmt.Sprintf("prepare %s: %v", e.Step, e.Err)
}

func (e *PreparationError) Unwrap() error { return e.Err }
