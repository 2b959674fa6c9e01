package app

// Operation tracks a CLI command that may mutate the store. Operations are
// created in memory with ID=0. Only mutating commands persist them, which
// gives them an auto-increment ID from the store's run history. That ID is
// also the version of the metadata snapshot uploaded when the app closes.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // "success" or "error"
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     "success",
	}
}

// Persisted returns true if this operation has been saved to the store.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Record marks the operation failed when err is non-nil and returns err.
func (op *Operation) Record(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}
