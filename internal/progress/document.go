// Package progress owns the stage ledger: its serialized form, the
// completion-rate algorithms, and the synchronization logic that keeps the
// ledger in structural agreement with the workflow's stage definitions.
package progress

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow/model"
)

// DecodeLedger parses a stored progress document into the ordered ledger.
//
// Decoding is deliberately forgiving: property names are matched
// case-insensitively (documents written by older producers use PascalCase),
// and a document that fails to parse degrades to an empty ledger with a
// warning instead of an error. The synchronizer rebuilds an empty ledger
// from the stage definitions, so corruption is absorbed here and never
// surfaces to the caller. The second result is false exactly when the
// document was present but unparseable, letting callers count rebuilds
// without inspecting the bytes themselves.
func DecodeLedger(data []byte, logger *zap.Logger) ([]model.StageProgress, bool) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, true
	}

	var entries []model.StageProgress
	if err := json.Unmarshal(data, &entries); err != nil {
		if logger != nil {
			logger.Warn("progress document failed to parse, treating ledger as empty",
				zap.Error(err),
				zap.Int("document_bytes", len(data)),
			)
		}
		return nil, false
	}
	return entries, true
}

// EncodeLedger serializes the ledger for storage. Configuration-derived
// fields carry `json:"-"` tags on the entry type and can never leak into the
// document; nil-valued optionals are omitted to keep it compact.
func EncodeLedger(entries []model.StageProgress) ([]byte, error) {
	if entries == nil {
		entries = []model.StageProgress{}
	}
	return json.Marshal(entries)
}
