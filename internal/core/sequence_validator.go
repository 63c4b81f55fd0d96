package core

import (
	"fmt"
)

// SequenceValidator enforces gap-free ordering per partition for user
// commands, and monotonic-but-gappy ordering for price feeds. Not
// thread-safe; only the processor goroutine touches it.
type SequenceValidator struct {
	expectedNextSeq map[string]int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{expectedNextSeq: make(map[string]int64)}
}

// ValidateSequence checks a user command's upstream sequence. Replays of
// already-processed commands pass so retries stay cheap; a gap halts the
// partition until the missing command arrives.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		return fmt.Errorf("out-of-order command: partition=%s expected=%d got=%d", partition, expected, sourceSequence)
	}
	if sourceSequence > expected {
		return fmt.Errorf("sequence gap: partition=%s expected=%d got=%d", partition, expected, sourceSequence)
	}
	sv.expectedNextSeq[partition] = expected + 1
	return nil
}

// ValidatePriceSequence accepts any forward movement: a stale tick is
// silently dropped, a gap is tolerated because the next tick supersedes
// everything missed.
func (sv *SequenceValidator) ValidatePriceSequence(asset string, priceSequence int64) error {
	partition := fmt.Sprintf("price:%s", asset)
	if priceSequence <= sv.expectedNextSeq[partition] {
		return nil
	}
	sv.expectedNextSeq[partition] = priceSequence
	return nil
}

// ExpectedSequence returns the next expected sequence for a partition.
func (sv *SequenceValidator) ExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// RestorePartition seeds a partition's expected sequence on recovery.
func (sv *SequenceValidator) RestorePartition(partition string, next int64) {
	sv.expectedNextSeq[partition] = next
}

// Partitions returns a copy of every partition's next expected sequence,
// for snapshotting.
func (sv *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for partition, next := range sv.expectedNextSeq {
		out[partition] = next
	}
	return out
}
