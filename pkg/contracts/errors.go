package contracts

import "errors"

// Stage error sentinels. Drivers wrap these with %w so the pipeline can
// classify failures with errors.Is and pick the right degradation path:
// rerank and graph errors are non-fatal, retrieval and generation errors
// produce the safe fallback reply, verification errors count as a failed
// verification and trigger the recovery cycle.
var (
	ErrRouting      = errors.New("routing failed")
	ErrRetrieval    = errors.New("retrieval failed")
	ErrRerank       = errors.New("rerank failed")
	ErrGraph        = errors.New("graph expansion failed")
	ErrGeneration   = errors.New("generation failed")
	ErrVerification = errors.New("verification failed")
	ErrMemory       = errors.New("conversation memory failed")
)
